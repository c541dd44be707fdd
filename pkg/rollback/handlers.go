package rollback

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/roles"
)

// Handlers provides HTTP handlers for rollback operations
type Handlers struct {
	engine *Engine
}

// NewHandlers creates new rollback handlers
func NewHandlers(engine *Engine) *Handlers {
	return &Handlers{engine: engine}
}

// RegisterRoutes registers all rollback routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/rollback/snapshots", h.CreateSnapshot).Methods("POST")
	router.HandleFunc("/rollback/snapshots", h.ListSnapshots).Methods("GET")
	router.HandleFunc("/rollback/snapshots/{id}/restore", h.RestoreSnapshot).Methods("POST")
	router.HandleFunc("/rollback/assignments/{id}", h.RollbackAssignment).Methods("POST")
	router.HandleFunc("/rollback/bulk/{id}", h.RollbackBulk).Methods("POST")
	router.HandleFunc("/rollback/history", h.History).Methods("GET")
	router.HandleFunc("/rollback/history/export", h.ExportHistory).Methods("GET")
}

// CreateSnapshot captures a restoration point
func (h *Handlers) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string            `json:"description"`
		UserIDs     []string          `json:"userIds,omitempty"`
		Metadata    map[string]string `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Description == "" {
		http.Error(w, "Description is required", http.StatusBadRequest)
		return
	}

	info, err := h.engine.CreateSnapshot(r.Context(), req.Description, req.UserIDs, req.Metadata)
	if err != nil {
		http.Error(w, "Failed to create snapshot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(info)
}

// ListSnapshots lists restoration points, newest first
func (h *Handlers) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)

	infos, err := h.engine.AvailableSnapshots(r.Context(), limit)
	if err != nil {
		http.Error(w, "Failed to list snapshots", http.StatusInternalServerError)
		return
	}
	if infos == nil {
		infos = []SnapshotInfo{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"snapshots": infos})
}

// RestoreSnapshot rolls the system back to a snapshot
func (h *Handlers) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshotID := mux.Vars(r)["id"]

	reason, ok := decodeReason(w, r)
	if !ok {
		return
	}

	result, err := h.engine.RollbackToSnapshot(r.Context(), snapshotID, reason)
	if err != nil {
		writeRollbackError(w, err, "Failed to restore snapshot")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// RollbackAssignment undoes a single role assignment
func (h *Handlers) RollbackAssignment(w http.ResponseWriter, r *http.Request) {
	assignmentID := mux.Vars(r)["id"]

	reason, ok := decodeReason(w, r)
	if !ok {
		return
	}

	result, err := h.engine.RollbackRoleAssignment(r.Context(), assignmentID, reason)
	if err != nil {
		writeRollbackError(w, err, "Failed to roll back assignment")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// RollbackBulk undoes every assignment tagged with a bulk-operation id
func (h *Handlers) RollbackBulk(w http.ResponseWriter, r *http.Request) {
	bulkID := mux.Vars(r)["id"]

	reason, ok := decodeReason(w, r)
	if !ok {
		return
	}

	result, err := h.engine.RollbackBulkAssignment(r.Context(), bulkID, reason)
	if err != nil {
		writeRollbackError(w, err, "Failed to roll back bulk operation")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// History lists past rollback operations, newest first
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)

	ops, err := h.engine.History(r.Context(), limit)
	if err != nil {
		http.Error(w, "Failed to list history", http.StatusInternalServerError)
		return
	}
	if ops == nil {
		ops = []Operation{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"operations": ops})
}

// ExportHistory streams the history in json, ndjson, or csv
func (h *Handlers) ExportHistory(w http.ResponseWriter, r *http.Request) {
	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = FormatJSON
	}
	limit := parseLimit(r, 0)

	data, err := h.engine.ExportHistory(r.Context(), limit, format)
	if err != nil {
		http.Error(w, "Failed to export history", http.StatusBadRequest)
		return
	}

	switch format {
	case FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="rollback_history.csv"`)
	case FormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.Write(data)
}

func decodeReason(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return "", false
	}
	if req.Reason == "" {
		http.Error(w, "Reason is required", http.StatusBadRequest)
		return "", false
	}
	return req.Reason, true
}

func writeRollbackError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, roles.ErrNotFound):
		http.Error(w, message+": not found", http.StatusNotFound)
	case errors.Is(err, roles.ErrLockBusy):
		http.Error(w, "Another rollback is in progress", http.StatusConflict)
	default:
		http.Error(w, message, http.StatusInternalServerError)
	}
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return fallback
	}
	return limit
}
