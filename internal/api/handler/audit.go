package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/edvin/fleet/internal/api/request"
	"github.com/edvin/fleet/internal/api/response"
	"github.com/edvin/fleet/internal/core"
)

// AuditLog represents an audit log entry.
type AuditLog struct {
	ID           string          `json:"id"`
	APIKeyID     *string         `json:"api_key_id,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	ResourceType *string         `json:"resource_type,omitempty"`
	ResourceID   *string         `json:"resource_id,omitempty"`
	Action       string          `json:"action"`
	StatusCode   int             `json:"status_code"`
	RequestBody  json.RawMessage `json:"request_body,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Audit struct {
	db core.DB
}

func NewAudit(db core.DB) *Audit {
	return &Audit{db: db}
}

// List returns audit entries newest first. Supports resource_type, action
// and date_from/date_to filters.
func (h *Audit) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)
	q := r.URL.Query()

	query := `SELECT id, api_key_id, method, path, resource_type, resource_id, action, status_code, request_body, created_at
              FROM audit_logs WHERE true`
	args := []any{}
	argIdx := 1

	if v := q.Get("resource_type"); v != "" {
		query += fmt.Sprintf(` AND resource_type = $%d`, argIdx)
		args = append(args, v)
		argIdx++
	}
	if v := q.Get("action"); v != "" {
		query += fmt.Sprintf(` AND action = $%d`, argIdx)
		args = append(args, v)
		argIdx++
	}
	for _, f := range []struct{ param, op string }{{"date_from", ">="}, {"date_to", "<="}} {
		v := q.Get(f.param)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: must be RFC 3339", f.param))
			return
		}
		query += fmt.Sprintf(` AND created_at %s $%d`, f.op, argIdx)
		args = append(args, ts)
		argIdx++
	}
	if pg.Cursor != "" {
		query += fmt.Sprintf(` AND (created_at, id) < (SELECT created_at, id FROM audit_logs WHERE id = $%d)`, argIdx)
		args = append(args, pg.Cursor)
		argIdx++
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, argIdx)
	args = append(args, pg.Limit+1)

	rows, err := h.db.Query(r.Context(), query, args...)
	if err != nil {
		writeCoreError(w, r, err)
		return
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		var l AuditLog
		if err := rows.Scan(&l.ID, &l.APIKeyID, &l.Method, &l.Path, &l.ResourceType, &l.ResourceID, &l.Action, &l.StatusCode, &l.RequestBody, &l.CreatedAt); err != nil {
			writeCoreError(w, r, err)
			return
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		writeCoreError(w, r, err)
		return
	}

	hasMore := len(logs) > pg.Limit
	if hasMore {
		logs = logs[:pg.Limit]
	}
	var nextCursor string
	if hasMore && len(logs) > 0 {
		nextCursor = logs[len(logs)-1].ID
	}

	response.WritePaginated(w, http.StatusOK, logs, nextCursor, hasMore)
}
