package query

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/gridwatt/market-indexer/pkg/app/errors"
	apphttp "github.com/gridwatt/market-indexer/pkg/app/http"
)

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service *Service
	logger  *zap.Logger
}

// NewRouter builds the read API router.
func NewRouter(service *Service, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	RegisterRoutes(r, service, logger)
	return r
}

// RegisterRoutes registers the read API endpoints on the given chi router
func RegisterRoutes(r chi.Router, service *Service, logger *zap.Logger) {
	h := &HTTP{service: service, logger: logger}

	r.Get("/health", apphttp.HandleError(h.health))
	r.Get("/listings", apphttp.HandleError(h.listListings))
	r.Get("/listings/map/zones", apphttp.HandleError(h.zoneMap))
	r.Get("/listings/{id}", apphttp.HandleError(h.listingByID))
}

func (h *HTTP) listListings(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()

	var zone *uint64
	if raw := q.Get("zone"); raw != "" {
		z, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return apperrors.BadRequestError(err, "invalid zone parameter")
		}
		zone = &z
	}

	page, err := intParam(q.Get("page"), 1)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid page parameter")
	}
	limit, err := intParam(q.Get("limit"), defaultPageLimit)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid limit parameter")
	}

	resp, err := h.service.ListActiveListings(r.Context(), zone, page, limit)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, resp)
	return nil
}

func (h *HTTP) listingByID(w http.ResponseWriter, r *http.Request) error {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return apperrors.BadRequestError(err, "invalid listing id")
	}

	resp, err := h.service.ListingByID(r.Context(), id)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, resp)
	return nil
}

func (h *HTTP) zoneMap(w http.ResponseWriter, r *http.Request) error {
	resp, err := h.service.ZoneMap(r.Context())
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, resp)
	return nil
}

func (h *HTTP) health(w http.ResponseWriter, r *http.Request) error {
	resp, err := h.service.HealthCheck(r.Context())
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, resp)
	return nil
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func (h *HTTP) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
