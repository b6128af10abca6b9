package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hamletsspeak/812Hamur/internal/domain"
	"github.com/hamletsspeak/812Hamur/internal/profilesync"
	"github.com/hamletsspeak/812Hamur/internal/session"
	apperrors "github.com/hamletsspeak/812Hamur/pkg/errors"
	"github.com/hamletsspeak/812Hamur/pkg/httputil"
	"github.com/hamletsspeak/812Hamur/pkg/middleware"
)

// ProfileHandler handles HTTP requests for the profile draft endpoints.
type ProfileHandler struct {
	sessions *session.Manager
	engine   *profilesync.Engine
	logger   *slog.Logger
}

// NewProfileHandler creates a new profile HTTP handler.
func NewProfileHandler(sessions *session.Manager, engine *profilesync.Engine, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{sessions: sessions, engine: engine, logger: logger}
}

// --- Request DTOs ---

// SetFieldRequest is the JSON request body for a single field edit.
type SetFieldRequest struct {
	Value string `json:"value"`
}

// --- Response types ---

// DraftView is the JSON representation of the profile draft.
type DraftView struct {
	UserID   string `json:"user_id"`
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Bio      string `json:"bio"`
	Location string `json:"location"`
	Skills   string `json:"skills"`
	Github   string `json:"github"`
	Website  string `json:"website"`
	PhotoURL string `json:"photoUrl"`

	UpdatedAt time.Time `json:"updatedAt,omitempty"`

	ValidationErrors map[string]string `json:"validation_errors,omitempty"`
	DirtyFields      []string          `json:"dirty_fields,omitempty"`
}

// SaveResponse names the fields persisted by a save.
type SaveResponse struct {
	SavedFields []string `json:"saved_fields"`
}

func draftView(d *domain.ProfileDraft) DraftView {
	v := DraftView{
		UserID:    d.UserID,
		FullName:  d.FullName,
		Phone:     d.Phone,
		Email:     d.Email,
		Bio:       d.Bio,
		Location:  d.Location,
		Skills:    d.Skills,
		Github:    d.Github,
		Website:   d.Website,
		PhotoURL:  d.PhotoURL,
		UpdatedAt: d.UpdatedAt,
	}
	if len(d.ValidationErrors) > 0 {
		v.ValidationErrors = d.ValidationErrors
	}
	for name := range d.DirtyFields {
		v.DirtyFields = append(v.DirtyFields, name)
	}
	sort.Strings(v.DirtyFields)
	return v
}

// --- Handlers ---

// GetDraft handles GET /api/v1/profile
func (h *ProfileHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSession(w, r, h.sessions, h.logger); !ok {
		return
	}

	d := h.engine.Draft()
	if d == nil {
		httputil.WriteError(w, r, apperrors.ErrNoSession, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: draftView(d)})
}

// SetField handles PUT /api/v1/profile/fields/{name}
func (h *ProfileHandler) SetField(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSession(w, r, h.sessions, h.logger); !ok {
		return
	}

	name := chi.URLParam(r, "name")

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req SetFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := h.engine.SetField(name, req.Value); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: draftView(h.engine.Draft())})
}

// Save handles POST /api/v1/profile/save
func (h *ProfileHandler) Save(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireSession(w, r, h.sessions, h.logger); !ok {
		return
	}

	saved, err := h.engine.Save(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if saved == nil {
		saved = []string{}
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: SaveResponse{SavedFields: saved}})
}

// requireSession checks that the token-authenticated user matches the active
// session. The service hosts one interactive session at a time; a stale token
// from a previous session is rejected even if it has not expired yet.
func requireSession(w http.ResponseWriter, r *http.Request, sessions *session.Manager, logger *slog.Logger) (*domain.Session, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	s := sessions.Current()
	if s == nil || s.UserID != userID {
		httputil.WriteError(w, r, apperrors.ErrNoSession, logger)
		return nil, false
	}
	return s, true
}
