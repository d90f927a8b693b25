package handlers

import (
	"net/http"
	"time"
)

// HealthHandler serves liveness and the API banner
type HealthHandler struct {
	env            string
	allowedOrigins []string
	now            func() time.Time
}

func NewHealthHandler(env string, allowedOrigins []string) *HealthHandler {
	return &HealthHandler{env: env, allowedOrigins: allowedOrigins, now: time.Now}
}

type healthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
	Env    string `json:"env"`
}

// ServeHTTP handles GET /api/health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Time:   h.now().UTC().Format(time.RFC3339),
		Env:    h.env,
	})
}

type rootResponse struct {
	Message        string   `json:"message"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

// HandleRoot handles GET /
func (h *HealthHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, rootResponse{
		Message:        "CloudDrive API is running",
		AllowedOrigins: h.allowedOrigins,
	})
}

// HandleNotFound answers unknown routes with a JSON 404
func HandleNotFound(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusNotFound, map[string]string{
		"message": "Route not found",
		"method":  r.Method,
		"path":    r.URL.Path,
	})
}
