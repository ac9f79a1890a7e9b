package backend

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/BaSui01/membroker/types"
)

// DocumentStore is the MongoDB-backed analytical adapter: one collection
// per category, exact filtering via native queries. It is an alternative
// driver for the analytical role when the platform's durable store is a
// document database rather than a relational one.
type DocumentStore struct {
	client   *mongo.Client
	database string
	role     Role
	logger   *zap.Logger
}

// memoryDocument is the BSON projection of a memory entry. content_json
// duplicates the serialized content so substring filters can run
// server-side with $regex.
type memoryDocument struct {
	ID               string            `bson:"_id"`
	Owner            string            `bson:"owner,omitempty"`
	Content          map[string]any    `bson:"content"`
	ContentJSON      string            `bson:"content_json"`
	Metadata         map[string]string `bson:"metadata,omitempty"`
	CreatedAt        time.Time         `bson:"created_at"`
	Importance       float64           `bson:"importance"`
	AccessCount      int               `bson:"access_count"`
	LastAccessedAt   *time.Time        `bson:"last_accessed_at,omitempty"`
	RetentionSeconds int64             `bson:"retention_seconds"`
}

// NewDocumentStore connects to MongoDB and verifies connectivity.
func NewDocumentStore(config Config, logger *zap.Logger) (*DocumentStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Mongo.URI == "" || config.Mongo.Database == "" {
		return nil, fmt.Errorf("mongo uri and database are required: %w", ErrInvalidInput)
	}

	client, err := mongo.Connect(options.Client().ApplyURI(config.Mongo.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	timeout := config.Mongo.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	role := config.Role
	if role == "" {
		role = RoleAnalytical
	}
	return &DocumentStore{
		client:   client,
		database: config.Mongo.Database,
		role:     role,
		logger:   logger.With(zap.String("component", "backend.document")),
	}, nil
}

// Name implements Adapter.
func (s *DocumentStore) Name() string { return "document" }

// Role implements Adapter.
func (s *DocumentStore) Role() Role { return s.role }

func (s *DocumentStore) collection(c types.MemoryCategory) *mongo.Collection {
	return s.client.Database(s.database).Collection(tableFor(c))
}

// Put implements Adapter. Same derived id means the same logical write, so
// the document is replaced with upsert semantics.
func (s *DocumentStore) Put(ctx context.Context, e *types.MemoryEntry) (string, error) {
	if e == nil || e.ID == "" {
		return "", ErrInvalidInput
	}

	doc, err := documentFromEntry(e)
	if err != nil {
		return "", types.NewError(types.ErrCodeSerialization, "content not encodable for document store").
			WithBackend(s.Name()).WithCause(err)
	}

	_, err = s.collection(e.Category).ReplaceOne(ctx,
		bson.M{"_id": e.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return "", fmt.Errorf("document store put: %w", err)
	}
	return e.ID, nil
}

// Get implements Adapter.
func (s *DocumentStore) Get(ctx context.Context, id string) (*types.MemoryEntry, error) {
	for _, c := range categoriesForID(id) {
		var doc memoryDocument
		err := s.collection(c).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("document store get: %w", err)
		}
		return entryFromDocument(&doc, c), nil
	}
	return nil, ErrNotFound
}

// Search implements Adapter. Filters translate 1:1 to a Mongo query per
// requested category collection.
func (s *DocumentStore) Search(ctx context.Context, q *types.MemoryQuery) ([]*types.MemoryEntry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	cats := q.Categories
	if len(cats) == 0 {
		cats = types.AllCategories()
	}
	filter := buildDocumentFilter(q)
	opts := options.Find().
		SetSort(bson.D{{Key: "importance", Value: -1}, {Key: "created_at", Value: -1}}).
		SetLimit(int64(q.Limit))

	results := make([]*types.MemoryEntry, 0, q.Limit)
	for _, c := range cats {
		cursor, err := s.collection(c).Find(ctx, filter, opts)
		if err != nil {
			return nil, fmt.Errorf("document store search: %w", err)
		}
		var docs []memoryDocument
		if err := cursor.All(ctx, &docs); err != nil {
			return nil, fmt.Errorf("document store search: %w", err)
		}
		for i := range docs {
			e := entryFromDocument(&docs[i], c)
			if q.Matches(e) {
				results = append(results, e)
			}
		}
	}

	types.SortEntries(results)
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// Delete implements Adapter. Absent ids are not an error.
func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	for _, c := range categoriesForID(id) {
		if _, err := s.collection(c).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
			return fmt.Errorf("document store delete: %w", err)
		}
	}
	return nil
}

// HealthCheck implements Adapter.
func (s *DocumentStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close implements Adapter.
func (s *DocumentStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// categoriesForID narrows id-scoped operations to the collection named by
// the id's category prefix, falling back to all collections.
func categoriesForID(id string) []types.MemoryCategory {
	if c, ok := CategoryFromID(id); ok {
		return []types.MemoryCategory{c}
	}
	return types.AllCategories()
}

// buildDocumentFilter translates the query's exact filters into a Mongo
// filter document. Category selection happens at the collection level, so
// it does not appear here.
func buildDocumentFilter(q *types.MemoryQuery) bson.M {
	filter := bson.M{}
	if q.Owner != "" {
		filter["owner"] = q.Owner
	}
	if q.TimeRange != nil {
		window := bson.M{}
		if q.TimeRange.Start != nil {
			window["$gte"] = *q.TimeRange.Start
		}
		if q.TimeRange.End != nil {
			window["$lte"] = *q.TimeRange.End
		}
		if len(window) > 0 {
			filter["created_at"] = window
		}
	}
	if q.MinImportance > 0 {
		filter["importance"] = bson.M{"$gte": q.MinImportance}
	}
	if q.ContentSubstring != "" {
		filter["content_json"] = bson.M{
			"$regex":   regexp.QuoteMeta(q.ContentSubstring),
			"$options": "i",
		}
	}
	return filter
}

func documentFromEntry(e *types.MemoryEntry) (*memoryDocument, error) {
	content, err := e.ContentJSON()
	if err != nil {
		return nil, err
	}
	return &memoryDocument{
		ID:               e.ID,
		Owner:            e.Owner,
		Content:          e.Content,
		ContentJSON:      string(content),
		Metadata:         e.Metadata,
		CreatedAt:        e.CreatedAt,
		Importance:       e.Importance,
		AccessCount:      e.AccessCount,
		LastAccessedAt:   e.LastAccessedAt,
		RetentionSeconds: int64(e.RetentionDuration / time.Second),
	}, nil
}

func entryFromDocument(doc *memoryDocument, c types.MemoryCategory) *types.MemoryEntry {
	return &types.MemoryEntry{
		ID:                doc.ID,
		Category:          c,
		Owner:             doc.Owner,
		Content:           doc.Content,
		Metadata:          doc.Metadata,
		CreatedAt:         doc.CreatedAt.UTC(),
		Importance:        doc.Importance,
		AccessCount:       doc.AccessCount,
		LastAccessedAt:    doc.LastAccessedAt,
		RetentionDuration: time.Duration(doc.RetentionSeconds) * time.Second,
	}
}

var _ Adapter = (*DocumentStore)(nil)
