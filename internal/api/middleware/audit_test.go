package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAuditStore struct {
	mock.Mock
}

func (m *mockAuditStore) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func TestExtractResource_SimplePath(t *testing.T) {
	resType, resID := extractResource("/api/v1/nodes")
	require.NotNil(t, resType)
	assert.Equal(t, "nodes", *resType)
	assert.Nil(t, resID)
}

func TestExtractResource_WithID(t *testing.T) {
	resType, resID := extractResource("/api/v1/nodes/abc-123")
	require.NotNil(t, resType)
	assert.Equal(t, "nodes", *resType)
	require.NotNil(t, resID)
	assert.Equal(t, "abc-123", *resID)
}

func TestExtractResource_Nested(t *testing.T) {
	resType, resID := extractResource("/api/v1/port-pools/p1/blocks/b1")
	require.NotNil(t, resType)
	assert.Equal(t, "blocks", *resType)
	require.NotNil(t, resID)
	assert.Equal(t, "b1", *resID)
}

func TestExtractResource_NestedNoID(t *testing.T) {
	resType, resID := extractResource("/api/v1/nodes/abc/port-pools")
	require.NotNil(t, resType)
	assert.Equal(t, "port-pools", *resType)
	assert.Nil(t, resID)
}

func TestSanitizeBody(t *testing.T) {
	body := []byte(`{"name":"ops","secret":"s3cr3t","api_key":"flt_abc"}`)
	sanitized := sanitizeBody(body)

	var result map[string]any
	require.NoError(t, json.Unmarshal(sanitized, &result))
	assert.Equal(t, "ops", result["name"])
	assert.Equal(t, "[REDACTED]", result["secret"])
	assert.Equal(t, "[REDACTED]", result["api_key"])
}

func TestAuditAction(t *testing.T) {
	assert.Equal(t, "create", auditAction(http.MethodPost))
	assert.Equal(t, "update", auditAction(http.MethodPut))
	assert.Equal(t, "delete", auditAction(http.MethodDelete))
}

func TestAuditMiddleware_RecordsMutations(t *testing.T) {
	store := &mockAuditStore{}
	store.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return bytes.Contains([]byte(sql), []byte("INSERT INTO audit_logs"))
	}), mock.MatchedBy(func(args []any) bool {
		keyID, _ := args[1].(*string)
		return keyID != nil && *keyID == "key-1" &&
			args[2] == http.MethodPost &&
			args[6] == "create" &&
			args[7] == http.StatusCreated
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()

	al := NewAuditLogger(store, zerolog.Nop())
	h := al.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/nodes", bytes.NewBufferString(`{"name":"game-01"}`))
	req = req.WithContext(context.WithValue(req.Context(), APIKeyIDKey, "key-1"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	// Reads are not audited.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/nodes", nil))

	al.Close()
	store.AssertExpectations(t)
}
