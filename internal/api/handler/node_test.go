package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newNodeHandler(db *handlerMockDB) *Node {
	svcs := newTestServices(db)
	return NewNode(svcs.Node, svcs.Admission, svcs.Job, testClock)
}

// --- Register ---

func TestNodeRegister_InvalidJSON(t *testing.T) {
	h := newNodeHandler(&handlerMockDB{})
	rec := httptest.NewRecorder()

	h.Register(rec, newRequestRaw(http.MethodPost, "/nodes", "{bad json"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, decodeErrorResponse(rec)["error"], "invalid JSON")
}

func TestNodeRegister_MissingName(t *testing.T) {
	h := newNodeHandler(&handlerMockDB{})
	rec := httptest.NewRecorder()

	h.Register(rec, newRequest(http.MethodPost, "/nodes", map[string]any{"roles": []string{"Game"}}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "validation error")
}

// --- Get ---

func TestNodeGet_EmptyID(t *testing.T) {
	h := newNodeHandler(&handlerMockDB{})
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodGet, "/nodes/", nil), "id", "")

	h.Get(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "missing required ID")
}

func TestNodeGet_NotFound(t *testing.T) {
	db := &handlerMockDB{}
	db.On("QueryRow", mock.Anything, sqlHas("FROM nodes WHERE id = $1"), []any{validID}).Return(errRow(pgx.ErrNoRows))
	h := newNodeHandler(db)
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodGet, "/nodes/"+validID, nil), "id", validID)

	h.Get(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, decodeErrorResponse(rec)["code"])
}

// --- Delete ---

func TestNodeDelete_TransactionFailure(t *testing.T) {
	h := newNodeHandler(&handlerMockDB{})
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodDelete, "/nodes/"+validID, nil), "id", validID)

	h.Delete(rec, r)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// --- Disk settings ---

func TestNodeUpdateDiskSettings_OutOfRange(t *testing.T) {
	h := newNodeHandler(&handlerMockDB{})
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPut, "/nodes/"+validID+"/disk", map[string]any{
		"scan_interval_seconds":        300,
		"warning_percent":              150,
		"hard_block_percent":           100,
		"protection_threshold_percent": 5,
	}), "id", validID)

	h.UpdateDiskSettings(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Equal(t, codeValidation, body["code"])
	assert.Contains(t, body["error"], "warning_percent")
}

func TestNodeUpdateDiskSettings_MissingFields(t *testing.T) {
	h := newNodeHandler(&handlerMockDB{})
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPut, "/nodes/"+validID+"/disk", map[string]any{
		"warning_percent": 80,
	}), "id", validID)

	h.UpdateDiskSettings(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeErrorResponse(rec)["error"], "validation error")
}

func TestNodeSetProtectionOverride_Negative(t *testing.T) {
	h := newNodeHandler(&handlerMockDB{})
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/nodes/"+validID+"/disk/override", map[string]any{
		"minutes": -5,
	}), "id", validID)

	h.SetProtectionOverride(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNodeSetProtectionOverride_UnknownNode(t *testing.T) {
	db := &handlerMockDB{}
	db.On("QueryRow", mock.Anything, sqlHas("SET disk_protect_override_until"), mock.Anything).Return(errRow(pgx.ErrNoRows))
	h := newNodeHandler(db)
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/nodes/"+validID+"/disk/override", map[string]any{
		"minutes": 10,
	}), "id", validID)

	h.SetProtectionOverride(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	db.AssertExpectations(t)
}

// --- Self-update ---

func TestNodeSelfUpdate_InvalidURL(t *testing.T) {
	h := newNodeHandler(&handlerMockDB{})
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/nodes/"+validID+"/self-update", map[string]any{
		"version": "1.4.0",
		"url":     "not a url",
	}), "id", validID)

	h.SelfUpdate(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNodeSelfUpdate_UnknownNode(t *testing.T) {
	db := &handlerMockDB{}
	db.On("QueryRow", mock.Anything, sqlHas("FROM nodes WHERE id = $1"), []any{validID}).Return(errRow(pgx.ErrNoRows))
	h := newNodeHandler(db)
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/nodes/"+validID+"/self-update", map[string]any{
		"version": "1.4.0",
		"url":     "https://releases.example.com/node-agent-1.4.0",
	}), "id", validID)

	h.SelfUpdate(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	db.AssertNotCalled(t, "QueryRow", mock.Anything, sqlHas("INSERT INTO jobs"), mock.Anything)
}
