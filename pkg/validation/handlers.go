package validation

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/roles"
)

// Handlers provides HTTP handlers for validation operations
type Handlers struct {
	validator *Validator
}

// NewHandlers creates new validation handlers
func NewHandlers(validator *Validator) *Handlers {
	return &Handlers{validator: validator}
}

// RegisterRoutes registers all validation routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/validation/users/{id}", h.ValidateUser).Methods("GET")
	router.HandleFunc("/validation/assignments", h.ValidateAssignment).Methods("POST")
	router.HandleFunc("/validation/orphans", h.ValidateOrphans).Methods("GET")
	router.HandleFunc("/validation/duplicates", h.ValidateDuplicates).Methods("GET")
	router.HandleFunc("/validation/system", h.ValidateSystem).Methods("POST")
}

// ValidateUser validates one user's role data
func (h *Handlers) ValidateUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	result, err := h.validator.ValidateUserRoles(r.Context(), userID)
	if err != nil {
		http.Error(w, "Validation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// ValidateAssignment validates a candidate assignment without storing it
func (h *Handlers) ValidateAssignment(w http.ResponseWriter, r *http.Request) {
	var assignment roles.RoleAssignment
	if err := json.NewDecoder(r.Body).Decode(&assignment); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.validator.ValidateRoleAssignment(r.Context(), &assignment)
	if err != nil {
		http.Error(w, "Validation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// ValidateOrphans reports assignments whose user no longer exists
func (h *Handlers) ValidateOrphans(w http.ResponseWriter, r *http.Request) {
	issues, err := h.validator.ValidateOrphanedAssignments(r.Context())
	if err != nil {
		http.Error(w, "Validation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"issues": issues})
}

// ValidateDuplicates reports duplicate active assignments
func (h *Handlers) ValidateDuplicates(w http.ResponseWriter, r *http.Request) {
	issues, err := h.validator.ValidateDuplicateAssignments(r.Context())
	if err != nil {
		http.Error(w, "Validation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"issues": issues})
}

// ValidateSystem runs a full population validation. Expensive; admin only.
func (h *Handlers) ValidateSystem(w http.ResponseWriter, r *http.Request) {
	report, err := h.validator.ValidateSystem(r.Context())
	if err != nil {
		http.Error(w, "Validation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
