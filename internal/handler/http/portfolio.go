package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hamletsspeak/812Hamur/internal/geo"
	"github.com/hamletsspeak/812Hamur/internal/github"
	"github.com/hamletsspeak/812Hamur/internal/index"
	"github.com/hamletsspeak/812Hamur/pkg/httputil"
	"github.com/hamletsspeak/812Hamur/pkg/middleware"
	"github.com/hamletsspeak/812Hamur/pkg/validator"
)

// RepoLister lists the showcased GitHub repositories.
type RepoLister interface {
	FetchRepos(ctx context.Context) ([]github.Repo, error)
}

// PortfolioHandler handles HTTP requests for portfolio data: the GitHub
// repository showcase, user indexes, and browser-reported coordinates.
type PortfolioHandler struct {
	repos   RepoLister
	coords  *geo.CoordinateCache
	indexes *index.Allocator
	logger  *slog.Logger
}

// NewPortfolioHandler creates a new portfolio HTTP handler.
func NewPortfolioHandler(repos RepoLister, coords *geo.CoordinateCache, indexes *index.Allocator, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{repos: repos, coords: coords, indexes: indexes, logger: logger}
}

// --- Request DTOs ---

// ReportCoordinatesRequest is the JSON request body for browser geolocation.
type ReportCoordinatesRequest struct {
	Lat float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

// --- Response types ---

// UserIndexResponse carries the user's stable display number.
type UserIndexResponse struct {
	Index int64 `json:"index"`
}

// --- Handlers ---

// ListRepos handles GET /api/v1/github/repos
func (h *PortfolioHandler) ListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.repos.FetchRepos(r.Context())
	if err != nil {
		status := http.StatusBadGateway
		code := "GITHUB_UNAVAILABLE"
		switch {
		case errors.Is(err, github.ErrUserNotFound):
			status, code = http.StatusNotFound, "GITHUB_USER_NOT_FOUND"
		case errors.Is(err, github.ErrRateLimited):
			status, code = http.StatusTooManyRequests, "GITHUB_RATE_LIMITED"
		}
		h.logger.WarnContext(r.Context(), "github repos fetch failed", slog.String("error", err.Error()))
		httputil.WriteJSON(w, status, httputil.Response{
			Error: &httputil.ErrorResponse{Code: code, Message: "could not fetch repositories"},
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: repos})
}

// GetUserIndex handles GET /api/v1/users/me/index
func (h *PortfolioHandler) GetUserIndex(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	idx, err := h.indexes.Allocate(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: UserIndexResponse{Index: idx}})
}

// ReportCoordinates handles PUT /api/v1/users/me/coordinates
func (h *PortfolioHandler) ReportCoordinates(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ReportCoordinatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if err := h.coords.Put(r.Context(), userID, geo.Coordinates{Lat: req.Lat, Lon: req.Lon}); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{Data: map[string]string{"status": "stored"}})
}
