package compat

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ScepterCode/Project-Nest3-sub003/pkg/roles"
)

// Handlers provides HTTP handlers for role resolution
type Handlers struct {
	resolver *Resolver
}

// NewHandlers creates new resolution handlers
func NewHandlers(resolver *Resolver) *Handlers {
	return &Handlers{resolver: resolver}
}

// RegisterRoutes registers all resolution routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/roles/users/{id}/role", h.GetUserRole).Methods("GET")
	router.HandleFunc("/roles/users/{id}/roles", h.GetUserRoles).Methods("GET")
	router.HandleFunc("/roles/users/{id}/roles/{role}", h.HasRole).Methods("GET")
	router.HandleFunc("/roles/users/{id}/compatibility", h.GetCompatibilityStatus).Methods("GET")
}

// GetUserRole returns the user's effective role
func (h *Handlers) GetUserRole(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	role, err := h.resolver.GetUserRole(r.Context(), userID)
	if err != nil {
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"userId": userID,
		"role":   role,
	})
}

// GetUserRoles returns every role the user currently holds
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	held, err := h.resolver.GetUserRoles(r.Context(), userID)
	if err != nil {
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
		return
	}
	if held == nil {
		held = []roles.Role{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"userId": userID,
		"roles":  held,
	})
}

// HasRole reports whether the user holds the role in the path
func (h *Handlers) HasRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["id"]
	role := roles.Role(vars["role"])

	if !role.Valid() {
		http.Error(w, "Unknown role", http.StatusBadRequest)
		return
	}

	has, err := h.resolver.HasRole(r.Context(), userID, role)
	if err != nil {
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"userId":  userID,
		"role":    role,
		"hasRole": has,
	})
}

// GetCompatibilityStatus reports where the user's role data lives
func (h *Handlers) GetCompatibilityStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	status, err := h.resolver.GetCompatibilityStatus(r.Context(), userID)
	if err != nil {
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
