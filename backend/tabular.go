package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/membroker/types"
)

// TabularStore is the GORM-backed analytical adapter: one table per
// category, exact filtering on owner, time range, and importance pushed
// into SQL, with the shared query predicate applied after decoding as a
// full-scan fallback. Higher latency than the fast store; used when
// completeness matters more than speed.
type TabularStore struct {
	db     *gorm.DB
	role   Role
	logger *zap.Logger
}

// memoryRow is the relational projection of a memory entry. The category is
// not a column: it is encoded in the table name.
type memoryRow struct {
	ID               string     `gorm:"column:id;primaryKey;size:255"`
	Owner            string     `gorm:"column:owner;index;size:255"`
	Content          string     `gorm:"column:content;type:text"`
	Metadata         string     `gorm:"column:metadata;type:text"`
	CreatedAt        time.Time  `gorm:"column:created_at;index"`
	Importance       float64    `gorm:"column:importance;index"`
	AccessCount      int        `gorm:"column:access_count"`
	LastAccessedAt   *time.Time `gorm:"column:last_accessed_at"`
	RetentionSeconds int64      `gorm:"column:retention_seconds"`
}

// NewTabularStore opens the configured SQL engine and wraps it.
func NewTabularStore(config Config, logger *zap.Logger) (*TabularStore, error) {
	dialector, err := openDialector(config.SQL)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", config.SQL.Dialect, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if config.SQL.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.SQL.MaxOpenConns)
	}
	if config.SQL.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.SQL.MaxIdleConns)
	}
	if config.SQL.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.SQL.ConnMaxLifetime)
	}

	return NewTabularStoreWithDB(db, config, logger), nil
}

// NewTabularStoreWithDB wraps an already-open GORM handle. Tests use it to
// inject an in-memory sqlite database.
func NewTabularStoreWithDB(db *gorm.DB, config Config, logger *zap.Logger) *TabularStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	role := config.Role
	if role == "" {
		role = RoleAnalytical
	}
	return &TabularStore{
		db:     db,
		role:   role,
		logger: logger.With(zap.String("component", "backend.tabular")),
	}
}

// openDialector maps the configured dialect to a GORM driver.
func openDialector(cfg SQLConfig) (gorm.Dialector, error) {
	switch cfg.Dialect {
	case DialectSQLite:
		return sqlite.Open(cfg.DSN), nil
	case DialectPostgres:
		return postgres.Open(cfg.DSN), nil
	case DialectMySQL:
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %s", cfg.Dialect)
	}
}

// EnsureSchema creates any missing per-category tables. Production
// deployments normally run the versioned migrations instead; this covers
// tests and embedded setups.
func (s *TabularStore) EnsureSchema(ctx context.Context) error {
	for _, c := range types.AllCategories() {
		if err := s.db.WithContext(ctx).Table(tableFor(c)).AutoMigrate(&memoryRow{}); err != nil {
			return fmt.Errorf("ensure table %s: %w", tableFor(c), err)
		}
	}
	return nil
}

// Name implements Adapter.
func (s *TabularStore) Name() string { return "tabular" }

// Role implements Adapter.
func (s *TabularStore) Role() Role { return s.role }

// Put implements Adapter. Re-storing the same derived id is the same
// logical write, so it upserts rather than conflicting.
func (s *TabularStore) Put(ctx context.Context, e *types.MemoryEntry) (string, error) {
	if e == nil || e.ID == "" {
		return "", ErrInvalidInput
	}

	row, err := rowFromEntry(e)
	if err != nil {
		return "", types.NewError(types.ErrCodeSerialization, "content not encodable for tabular store").
			WithBackend(s.Name()).WithCause(err)
	}

	err = s.db.WithContext(ctx).Table(tableFor(e.Category)).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(row).Error
	if err != nil {
		return "", fmt.Errorf("tabular store put: %w", err)
	}
	return e.ID, nil
}

// Get implements Adapter. The category prefix embedded in the id picks the
// table; ids without a recognizable prefix fall back to scanning every
// table.
func (s *TabularStore) Get(ctx context.Context, id string) (*types.MemoryEntry, error) {
	tables := s.tablesForID(id)
	for _, t := range tables {
		var row memoryRow
		err := s.db.WithContext(ctx).Table(t.table).Where("id = ?", id).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("tabular store get: %w", err)
		}
		return entryFromRow(&row, t.category)
	}
	return nil, ErrNotFound
}

// Search implements Adapter. Each requested category queries its own table
// with the filters pushed into SQL; results are concatenated, re-checked
// against the shared predicate, ordered, and truncated.
func (s *TabularStore) Search(ctx context.Context, q *types.MemoryQuery) ([]*types.MemoryEntry, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	cats := q.Categories
	if len(cats) == 0 {
		cats = types.AllCategories()
	}

	results := make([]*types.MemoryEntry, 0, q.Limit)
	for _, c := range cats {
		tx := s.db.WithContext(ctx).Table(tableFor(c))
		if q.Owner != "" {
			tx = tx.Where("owner = ?", q.Owner)
		}
		if q.TimeRange != nil {
			if q.TimeRange.Start != nil {
				tx = tx.Where("created_at >= ?", *q.TimeRange.Start)
			}
			if q.TimeRange.End != nil {
				tx = tx.Where("created_at <= ?", *q.TimeRange.End)
			}
		}
		if q.MinImportance > 0 {
			tx = tx.Where("importance >= ?", q.MinImportance)
		}
		if q.ContentSubstring != "" {
			tx = tx.Where("LOWER(content) LIKE ?", "%"+strings.ToLower(q.ContentSubstring)+"%")
		}

		var rows []memoryRow
		err := tx.Order("importance DESC").Order("created_at DESC").Limit(q.Limit).Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("tabular store search: %w", err)
		}
		for i := range rows {
			e, err := entryFromRow(&rows[i], c)
			if err != nil {
				s.logger.Warn("dropping undecodable row",
					zap.String("table", tableFor(c)), zap.String("id", rows[i].ID), zap.Error(err))
				continue
			}
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
func (s *TabularStore) Delete(ctx context.Context, id string) error {
	for _, t := range s.tablesForID(id) {
		err := s.db.WithContext(ctx).Table(t.table).Where("id = ?", id).Delete(&memoryRow{}).Error
		if err != nil {
			return fmt.Errorf("tabular store delete: %w", err)
		}
	}
	return nil
}

// HealthCheck implements Adapter.
func (s *TabularStore) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close implements Adapter.
func (s *TabularStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type categoryTable struct {
	category types.MemoryCategory
	table    string
}

// tablesForID narrows id-scoped operations to the table named by the id's
// category prefix, or every table when the prefix is unrecognizable.
func (s *TabularStore) tablesForID(id string) []categoryTable {
	if c, ok := CategoryFromID(id); ok {
		return []categoryTable{{category: c, table: tableFor(c)}}
	}
	all := types.AllCategories()
	out := make([]categoryTable, len(all))
	for i, c := range all {
		out[i] = categoryTable{category: c, table: tableFor(c)}
	}
	return out
}

func rowFromEntry(e *types.MemoryEntry) (*memoryRow, error) {
	content, err := e.ContentJSON()
	if err != nil {
		return nil, err
	}
	metadata := "{}"
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, err
		}
		metadata = string(b)
	}
	return &memoryRow{
		ID:               e.ID,
		Owner:            e.Owner,
		Content:          string(content),
		Metadata:         metadata,
		CreatedAt:        e.CreatedAt,
		Importance:       e.Importance,
		AccessCount:      e.AccessCount,
		LastAccessedAt:   e.LastAccessedAt,
		RetentionSeconds: int64(e.RetentionDuration / time.Second),
	}, nil
}

func entryFromRow(row *memoryRow, c types.MemoryCategory) (*types.MemoryEntry, error) {
	var content map[string]any
	if err := json.Unmarshal([]byte(row.Content), &content); err != nil {
		return nil, err
	}
	var metadata map[string]string
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &metadata); err != nil {
			return nil, err
		}
	}
	return &types.MemoryEntry{
		ID:                row.ID,
		Category:          c,
		Owner:             row.Owner,
		Content:           content,
		Metadata:          metadata,
		CreatedAt:         row.CreatedAt.UTC(),
		Importance:        row.Importance,
		AccessCount:       row.AccessCount,
		LastAccessedAt:    row.LastAccessedAt,
		RetentionDuration: time.Duration(row.RetentionSeconds) * time.Second,
	}, nil
}

var _ Adapter = (*TabularStore)(nil)
