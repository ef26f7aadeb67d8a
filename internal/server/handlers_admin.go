package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/truenamepath/truename/internal/auth"
	"github.com/truenamepath/truename/internal/db"
	"github.com/truenamepath/truename/internal/middleware"
)

// --- Dashboard stats ---

func (h *handlers) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user := middleware.GetUserFromContext(r.Context())

	stats, err := h.app.DB.GetDashboardStats(user.ID)
	if err != nil {
		slog.Error("error getting dashboard stats", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// --- Audit endpoints ---

func (h *handlers) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	page, err := h.app.DB.QueryAuditLogs(filter)
	if err != nil {
		slog.Error("error querying audit logs", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if page.Logs == nil {
		page.Logs = []db.AuditLog{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(page)
}

func (h *handlers) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if filter.Limit <= 0 || filter.Limit > 10000 {
		filter.Limit = 10000
	}
	filter.Offset = 0

	page, err := h.app.DB.QueryAuditLogs(filter)
	if err != nil {
		slog.Error("error exporting audit logs", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if page.Logs == nil {
		page.Logs = []db.AuditLog{}
	}

	format := r.URL.Query().Get("format")
	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit_log.csv")
		writeAuditCSV(w, page.Logs)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=audit_log.json")
	json.NewEncoder(w).Encode(page.Logs)
}

// handleAuditArchive snapshots the matching audit entries to the configured
// archive backend (local disk or S3).
func (h *handlers) handleAuditArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.app.Archive == nil {
		http.Error(w, "Audit archive is not configured", http.StatusServiceUnavailable)
		return
	}

	filter, err := parseAuditFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user := middleware.GetUserFromContext(r.Context())

	storagePath, err := h.app.Archive.Export(user.Username, filter)
	if err != nil {
		slog.Error("error archiving audit logs", "error", err)
		http.Error(w, "Failed to archive audit logs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"storage_path": storagePath})
}

func (h *handlers) handleAuditFilters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	actions, err := h.app.DB.GetAuditLogActions()
	if err != nil {
		slog.Error("error getting audit actions", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	actors, err := h.app.DB.GetAuditLogActors()
	if err != nil {
		slog.Error("error getting audit actors", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if actions == nil {
		actions = []string{}
	}
	if actors == nil {
		actors = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{
		"actions": actions,
		"actors":  actors,
	})
}

func parseAuditFilter(r *http.Request) (db.AuditLogFilter, error) {
	q := r.URL.Query()
	filter := db.AuditLogFilter{
		Actor:  q.Get("actor"),
		Action: q.Get("action"),
	}

	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, fmt.Errorf("invalid 'from' date: %w", err)
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, fmt.Errorf("invalid 'to' date: %w", err)
		}
		filter.To = t
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return filter, fmt.Errorf("invalid 'limit': %w", err)
		}
		filter.Limit = limit
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return filter, fmt.Errorf("invalid 'offset': %w", err)
		}
		filter.Offset = offset
	}

	return filter, nil
}

func writeAuditCSV(w io.Writer, logs []db.AuditLog) {
	fmt.Fprintf(w, "ID,Timestamp,Actor,Action,Details\n")
	for _, log := range logs {
		details := strings.ReplaceAll(log.Details, "\"", "\"\"")
		fmt.Fprintf(w, "%d,%s,%s,%s,\"%s\"\n",
			log.ID,
			log.Timestamp.Format(time.RFC3339),
			log.Actor,
			log.Action,
			details,
		)
	}
}

// --- Admin user management ---

func (h *handlers) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := h.app.DB.ListUsers()
		if err != nil {
			slog.Error("error listing users", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if users == nil {
			users = []db.User{}
		}

		type userResponse struct {
			ID           string    `json:"id"`
			Username     string    `json:"username"`
			Email        string    `json:"email,omitempty"`
			Roles        []string  `json:"roles"`
			AuthProvider string    `json:"auth_provider,omitempty"`
			CreatedAt    time.Time `json:"created_at"`
		}

		response := make([]userResponse, len(users))
		for i, u := range users {
			response[i] = userResponse{
				ID:           u.ID,
				Username:     u.Username,
				Email:        u.Email,
				Roles:        u.Roles,
				AuthProvider: u.AuthProvider,
				CreatedAt:    u.CreatedAt,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)

	case http.MethodPost:
		var req struct {
			Username string   `json:"username"`
			Password string   `json:"password"`
			Email    string   `json:"email"`
			Roles    []string `json:"roles"`
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

		if req.Username == "" || req.Password == "" {
			http.Error(w, "Username and password are required", http.StatusBadRequest)
			return
		}

		existing, err := h.app.DB.GetUserByUsername(req.Username)
		if err != nil {
			slog.Error("error checking username", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if existing != nil {
			http.Error(w, "Username already exists", http.StatusConflict)
			return
		}

		passwordHash, err := auth.HashPassword(req.Password)
		if err != nil {
			slog.Error("error hashing password", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		roles := req.Roles
		if len(roles) == 0 {
			roles = []string{middleware.RoleUser}
		}

		user, err := h.createAccount(req.Username, req.Email, passwordHash, roles)
		if err != nil {
			slog.Error("error creating user", "username", req.Username, "error", err)
			http.Error(w, "Failed to create user", http.StatusInternalServerError)
			return
		}

		adminUser := middleware.GetUserFromContext(r.Context())
		h.app.DB.LogAudit(adminUser.Username, "admin.user_create", fmt.Sprintf("Created user: %s", req.Username))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"id":       user.ID,
			"username": user.Username,
			"message":  "User created successfully",
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *handlers) handleAdminUserByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	if id == "" {
		http.Error(w, "User ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		currentUser := middleware.GetUserFromContext(r.Context())
		if currentUser != nil && currentUser.ID == id {
			http.Error(w, "Cannot delete your own account", http.StatusBadRequest)
			return
		}

		user, err := h.app.DB.GetUserByID(id)
		if err != nil {
			slog.Error("error getting user", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}

		if err := h.app.DB.DeleteUser(id); err != nil {
			slog.Error("error deleting user", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		h.app.DB.LogAudit(currentUser.Username, "admin.user_delete", fmt.Sprintf("Deleted user: %s (%s)", user.Username, id))

		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
