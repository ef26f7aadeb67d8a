package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/truenamepath/truename/internal/auth"
	"github.com/truenamepath/truename/internal/db"
	"github.com/truenamepath/truename/internal/events"
	"github.com/truenamepath/truename/internal/middleware"
)

const maxNameLength = 200

// --- Name variant CRUD ---

func (h *handlers) handleNames(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		names, err := h.app.DB.ListNamesByUser(user.ID)
		if err != nil {
			slog.Error("error listing names", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if names == nil {
			names = []db.Name{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(names)

	case http.MethodPost:
		var name db.Name
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		if err := json.Unmarshal(body, &name); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		name.Text = strings.TrimSpace(name.Text)
		if name.Text == "" {
			http.Error(w, "Missing required field: text", http.StatusBadRequest)
			return
		}
		if len(name.Text) > maxNameLength {
			http.Error(w, "Name text too long", http.StatusBadRequest)
			return
		}
		if !db.ValidOIDCProperty(name.OIDCProperty) {
			http.Error(w, "Invalid oidc_property", http.StatusBadRequest)
			return
		}

		name.ID = uuid.New().String()
		name.UserID = user.ID

		if err := h.app.DB.CreateName(name); err != nil {
			slog.Error("error creating name", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		h.app.DB.LogAudit(user.Username, "name.create", fmt.Sprintf("Created name variant %q (%s)", name.Text, name.ID))
		h.publish(user.ID, events.Event{Type: events.EventNameChanged, Subject: name.ID, Detail: "created"})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(name)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *handlers) handleNameByID(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	id := strings.TrimPrefix(r.URL.Path, "/api/names/")
	if id == "" {
		http.Error(w, "Missing name ID", http.StatusBadRequest)
		return
	}

	existing, err := h.app.DB.GetName(id)
	if err != nil {
		slog.Error("error getting name", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if existing == nil || existing.UserID != user.ID {
		http.Error(w, "Name not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(existing)

	case http.MethodPut:
		var name db.Name
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		if err := json.Unmarshal(body, &name); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		name.ID = id
		name.UserID = user.ID
		name.Text = strings.TrimSpace(name.Text)
		if name.Text == "" {
			http.Error(w, "Missing required field: text", http.StatusBadRequest)
			return
		}
		if len(name.Text) > maxNameLength {
			http.Error(w, "Name text too long", http.StatusBadRequest)
			return
		}
		if !db.ValidOIDCProperty(name.OIDCProperty) {
			http.Error(w, "Invalid oidc_property", http.StatusBadRequest)
			return
		}

		if err := h.app.DB.UpdateName(name); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				http.Error(w, "Name not found", http.StatusNotFound)
				return
			}
			slog.Error("error updating name", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		h.app.DB.LogAudit(user.Username, "name.update", fmt.Sprintf("Updated name variant %q (%s)", name.Text, id))
		h.publish(user.ID, events.Event{Type: events.EventNameChanged, Subject: id, Detail: "updated"})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(name)

	case http.MethodDelete:
		if err := h.app.DB.DeleteName(id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				http.Error(w, "Name not found", http.StatusNotFound)
				return
			}
			slog.Error("error deleting name", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		h.app.DB.LogAudit(user.Username, "name.delete", fmt.Sprintf("Deleted name variant %q (%s)", existing.Text, id))
		h.publish(user.ID, events.Event{Type: events.EventNameChanged, Subject: id, Detail: "deleted"})

		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- Context CRUD ---

func (h *handlers) handleContexts(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		contexts, err := h.app.DB.ListContextsByUser(user.ID)
		if err != nil {
			slog.Error("error listing contexts", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if contexts == nil {
			contexts = []db.Context{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(contexts)

	case http.MethodPost:
		var c db.Context
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		if err := json.Unmarshal(body, &c); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			http.Error(w, "Missing required field: name", http.StatusBadRequest)
			return
		}

		c.ID = uuid.New().String()
		c.UserID = user.ID
		// The permanent Default context is created at registration, never
		// through this endpoint.
		c.IsPermanent = false

		if err := h.app.DB.CreateContext(c); err != nil {
			if db.IsUniqueViolation(err) {
				http.Error(w, "A context with this name already exists", http.StatusConflict)
				return
			}
			slog.Error("error creating context", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		h.app.DB.LogAudit(user.Username, "context.create", fmt.Sprintf("Created context %q (%s)", c.Name, c.ID))
		h.publish(user.ID, events.Event{Type: events.EventContextChanged, Subject: c.ID, Detail: "created"})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(c)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleContextByID routes /api/contexts/{id} and /api/contexts/{id}/assignments.
func (h *handlers) handleContextByID(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())

	path := strings.TrimPrefix(r.URL.Path, "/api/contexts/")
	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		http.Error(w, "Missing context ID", http.StatusBadRequest)
		return
	}

	existing, err := h.app.DB.GetContext(id)
	if err != nil {
		slog.Error("error getting context", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if existing == nil || existing.UserID != user.ID {
		http.Error(w, "Context not found", http.StatusNotFound)
		return
	}

	if rest == "assignments" {
		h.handleContextAssignments(w, r, user, existing)
		return
	}
	if rest != "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(existing)

	case http.MethodPut:
		var c db.Context
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		if err := json.Unmarshal(body, &c); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		c.ID = id
		c.UserID = user.ID
		c.IsPermanent = existing.IsPermanent
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			http.Error(w, "Missing required field: name", http.StatusBadRequest)
			return
		}
		if existing.IsPermanent && c.Name != existing.Name {
			http.Error(w, "The Default context cannot be renamed", http.StatusBadRequest)
			return
		}

		if err := h.app.DB.UpdateContext(c); err != nil {
			if db.IsUniqueViolation(err) {
				http.Error(w, "A context with this name already exists", http.StatusConflict)
				return
			}
			slog.Error("error updating context", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		h.app.DB.LogAudit(user.Username, "context.update", fmt.Sprintf("Updated context %q (%s)", c.Name, id))
		h.publish(user.ID, events.Event{Type: events.EventContextChanged, Subject: id, Detail: "updated"})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(c)

	case http.MethodDelete:
		if existing.IsPermanent {
			http.Error(w, "The Default context cannot be deleted", http.StatusBadRequest)
			return
		}

		if err := h.app.DB.DeleteContext(id); err != nil {
			slog.Error("error deleting context", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		h.app.DB.LogAudit(user.Username, "context.delete", fmt.Sprintf("Deleted context %q (%s)", existing.Name, id))
		h.publish(user.ID, events.Event{Type: events.EventContextChanged, Subject: id, Detail: "deleted"})

		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleContextAssignments manages which name variant fills each OIDC
// property within a context. Ownership of the context is already verified.
func (h *handlers) handleContextAssignments(w http.ResponseWriter, r *http.Request, user *auth.User, c *db.Context) {
	switch r.Method {
	case http.MethodGet:
		assignments, err := h.app.DB.GetResolvedAssignments(c.ID)
		if err != nil {
			slog.Error("error listing assignments", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		type assignmentView struct {
			OIDCProperty db.OIDCProperty `json:"oidc_property"`
			NameText     string          `json:"name_text"`
		}

		result := make([]assignmentView, len(assignments))
		for i, a := range assignments {
			result[i] = assignmentView{OIDCProperty: a.OIDCProperty, NameText: a.NameText}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)

	case http.MethodPost:
		var req struct {
			OIDCProperty db.OIDCProperty `json:"oidc_property"`
			NameID       string          `json:"name_id"`
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		if !db.ValidOIDCProperty(req.OIDCProperty) {
			http.Error(w, "Invalid oidc_property", http.StatusBadRequest)
			return
		}
		if req.NameID == "" {
			http.Error(w, "Missing required field: name_id", http.StatusBadRequest)
			return
		}

		// Assigned names must belong to the same user as the context.
		name, err := h.app.DB.GetName(req.NameID)
		if err != nil {
			slog.Error("error getting name", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if name == nil || name.UserID != c.UserID {
			http.Error(w, "Name not found", http.StatusNotFound)
			return
		}

		if err := h.app.DB.AssignName(c.ID, req.OIDCProperty, req.NameID); err != nil {
			slog.Error("error assigning name", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		h.app.DB.LogAudit(user.Username, "context.assign",
			fmt.Sprintf("Assigned %s in context %q to %q", req.OIDCProperty, c.Name, name.Text))
		h.publish(user.ID, events.Event{Type: events.EventContextChanged, Subject: c.ID, Detail: "assignment"})

		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		property := db.OIDCProperty(r.URL.Query().Get("property"))
		if !db.ValidOIDCProperty(property) {
			http.Error(w, "Invalid property parameter", http.StatusBadRequest)
			return
		}

		if err := h.app.DB.UnassignName(c.ID, property); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				http.Error(w, "Assignment not found", http.StatusNotFound)
				return
			}
			slog.Error("error unassigning name", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		h.app.DB.LogAudit(user.Username, "context.unassign",
			fmt.Sprintf("Unassigned %s in context %q", property, c.Name))
		h.publish(user.ID, events.Event{Type: events.EventContextChanged, Subject: c.ID, Detail: "assignment"})

		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
