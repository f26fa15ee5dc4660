package identity

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler serves the principal directory
type Handler struct {
	dir *Directory
	log zerolog.Logger
}

// NewHandler creates the users handler
func NewHandler(dir *Directory, log zerolog.Logger) *Handler {
	return &Handler{
		dir: dir,
		log: log.With().Str("handler", "users").Logger(),
	}
}

// RegisterRoutes mounts the users routes. The router must already run
// Middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/users", h.HandleListUsers)
}

// HandleListUsers handles GET /users (approvers only)
func (h *Handler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not found")
		return
	}

	if !principal.IsApprover() {
		h.log.Warn().Str("principal", principal.ID).Msg("Non-approver requested user list")
		writeError(w, http.StatusForbidden, "Not authorised to view all users")
		return
	}

	writeJSON(w, http.StatusOK, h.dir.List())
}
