package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/membroker/types"
)

// maxRequestBody caps request bodies accepted by DecodeJSONBody.
const maxRequestBody = 1 << 20 // 1 MB

// Response is the envelope every JSON endpoint replies with.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo is the serialized form of a broker error.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Backend   string `json:"backend,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON writes data with the given status. The body is encoded after the
// headers go out, so an encode failure cannot be reported to the client.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess wraps data in a success envelope with status 200.
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	WriteSuccessStatus(w, r, http.StatusOK, data)
}

// WriteSuccessStatus wraps data in a success envelope with an explicit
// status, for handlers that create resources.
func WriteSuccessStatus(w http.ResponseWriter, r *http.Request, status int, data any) {
	resp := Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	}
	if id, ok := types.RequestID(r.Context()); ok {
		resp.RequestID = id
	}
	WriteJSON(w, status, resp)
}

// WriteError maps err onto the response envelope. Broker errors carry their
// own status mapping; anything else is reported as an internal error.
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	var brokerErr *types.Error
	if !errors.As(err, &brokerErr) {
		brokerErr = types.NewError(types.ErrCodeInternal, "internal error").WithCause(err)
	}
	writeErrorEnvelope(w, r, brokerErr.HTTPStatus(), brokerErr, logger)
}

// WriteErrorMessage writes a fresh broker error with an explicit status, for
// cases the code mapping cannot express, like 405.
func WriteErrorMessage(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	writeErrorEnvelope(w, r, status, types.NewError(code, message), logger)
}

func writeErrorEnvelope(w http.ResponseWriter, r *http.Request, status int, brokerErr *types.Error, logger *zap.Logger) {
	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(brokerErr.Code)),
			zap.String("message", brokerErr.Message),
			zap.Int("status", status),
			zap.Bool("retryable", brokerErr.Retryable),
			zap.Error(brokerErr.Cause),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Warn("request rejected", fields...)
		}
	}

	resp := Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(brokerErr.Code),
			Message:   brokerErr.Message,
			Backend:   brokerErr.Backend,
			Retryable: brokerErr.Retryable,
		},
		Timestamp: time.Now(),
	}
	if id, ok := types.RequestID(r.Context()); ok {
		resp.RequestID = id
	}
	WriteJSON(w, status, resp)
}

// DecodeJSONBody reads the request body into dst, rejecting unknown fields
// and bodies over 1 MB. On failure the error response has already been
// written; callers just return.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil {
		err := types.NewError(types.ErrCodeValidation, "request body is empty")
		WriteError(w, r, err, logger)
		return err
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrCodeValidation, "invalid JSON body").WithCause(err)
		WriteError(w, r, apiErr, logger)
		return apiErr
	}

	return nil
}

// ValidateContentType requires an application/json body. Charset parameters
// are accepted.
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	contentType := r.Header.Get("Content-Type")
	if mediaType, _, _ := strings.Cut(contentType, ";"); strings.TrimSpace(mediaType) != "application/json" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrCodeValidation, "Content-Type must be application/json", logger)
		return false
	}
	return true
}

// ResponseWriter wraps http.ResponseWriter to capture the status code for
// logging and tracing middleware.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter wraps w with a default status of 200.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader records the first status code written.
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write marks the response as written with an implicit 200.
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
