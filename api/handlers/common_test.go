package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/membroker/types"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		data       any
		wantStatus int
	}{
		{
			name:       "simple object",
			data:       map[string]string{"message": "hello"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "array",
			data:       []int{1, 2, 3},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.wantStatus, tt.data)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)

	WriteSuccess(w, r, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	err := json.NewDecoder(w.Body).Decode(&resp)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Empty(t, resp.RequestID)
}

func TestWriteSuccess_EchoesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req-123"))

	WriteSuccess(w, r, nil)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "req-123", resp.RequestID)
}

func TestWriteSuccessStatus(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", nil)

	WriteSuccessStatus(w, r, http.StatusCreated, map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusCreated, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
}

func TestWriteError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "validation",
			err:            types.NewError(types.ErrCodeValidation, "category is required"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   string(types.ErrCodeValidation),
		},
		{
			name:           "not found",
			err:            types.NewError(types.ErrCodeNotFound, "entry not found"),
			expectedStatus: http.StatusNotFound,
			expectedCode:   string(types.ErrCodeNotFound),
		},
		{
			name:           "serialization",
			err:            types.NewError(types.ErrCodeSerialization, "content does not marshal"),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedCode:   string(types.ErrCodeSerialization),
		},
		{
			name:           "provider unavailable",
			err:            types.NewError(types.ErrCodeProviderUnavailable, "redis down").WithBackend("fast"),
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   string(types.ErrCodeProviderUnavailable),
		},
		{
			name:           "internal",
			err:            types.NewError(types.ErrCodeInternal, "merge failed"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   string(types.ErrCodeInternal),
		},
		{
			name:           "plain error becomes internal",
			err:            errors.New("something broke"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   string(types.ErrCodeInternal),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/test", nil)
			WriteError(w, r, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp Response
			err := json.NewDecoder(w.Body).Decode(&resp)
			require.NoError(t, err)

			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.expectedCode, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestWriteError_CarriesBackend(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)

	WriteError(w, r, types.NewError(types.ErrCodeProviderUnavailable, "ping timeout").WithBackend("analytical"), zap.NewNop())

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "analytical", resp.Error.Backend)
}

func TestWriteErrorMessage_ExplicitStatus(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodDelete, "/test", nil)

	WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrCodeValidation, "method not allowed", zap.NewNop())

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrCodeValidation), resp.Error.Code)
}

func TestDecodeJSONBody(t *testing.T) {
	logger := zap.NewNop()

	type TestStruct struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	tests := []struct {
		name      string
		body      string
		wantErr   bool
		checkFunc func(*testing.T, *TestStruct)
	}{
		{
			name: "valid JSON",
			body: `{"name":"test","value":123}`,
			checkFunc: func(t *testing.T, ts *TestStruct) {
				assert.Equal(t, "test", ts.Name)
				assert.Equal(t, 123, ts.Value)
			},
		},
		{
			name:    "invalid JSON",
			body:    `{"name":"test",}`,
			wantErr: true,
		},
		{
			name:    "unknown field",
			body:    `{"name":"test","unknown":"field"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))

			var result TestStruct
			err := DecodeJSONBody(w, r, &result, logger)

			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, types.IsValidation(err))
			} else {
				assert.NoError(t, err)
				if tt.checkFunc != nil {
					tt.checkFunc(t, &result)
				}
			}
		})
	}
}

func TestDecodeJSONBody_MaxBodySize(t *testing.T) {
	logger := zap.NewNop()

	type TestStruct struct {
		Name string `json:"name"`
	}

	oversized := `{"name":"` + strings.Repeat("x", 2<<20) + `"}`

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(oversized))

	var result TestStruct
	err := DecodeJSONBody(w, r, &result, logger)

	assert.Error(t, err, "body exceeding 1 MB should be rejected")
}

func TestValidateContentType(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name        string
		contentType string
		want        bool
	}{
		{
			name:        "plain application/json",
			contentType: "application/json",
			want:        true,
		},
		{
			name:        "with charset",
			contentType: "application/json; charset=utf-8",
			want:        true,
		},
		{
			name:        "with uppercase charset",
			contentType: "application/json; charset=UTF-8",
			want:        true,
		},
		{
			name:        "text/plain",
			contentType: "text/plain",
			want:        false,
		},
		{
			name:        "empty",
			contentType: "",
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", nil)
			r.Header.Set("Content-Type", tt.contentType)

			result := ValidateContentType(w, r, logger)
			assert.Equal(t, tt.want, result)
			if !tt.want {
				assert.Equal(t, http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := NewResponseWriter(w)

	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.False(t, rw.Written)

	rw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.True(t, rw.Written)

	// A second WriteHeader is ignored.
	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)

	n, err := rw.Write([]byte("test"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestResponseWriter_ImplicitOK(t *testing.T) {
	w := httptest.NewRecorder()
	rw := NewResponseWriter(w)

	_, err := rw.Write([]byte("body"))
	require.NoError(t, err)

	assert.True(t, rw.Written)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
}
