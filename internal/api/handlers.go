package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/assetforge/internal/apperr"
	"github.com/starford/assetforge/internal/assetservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *assetservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *assetservice.Service) *Handler {
	return &Handler{svc: svc}
}

// assetPath extracts the asset path from the URL (everything after /api/assets/).
// Supports encoded slashes and braces (e.g. css%2Fhero%7Bnc%7D.png).
func assetPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListAssets handles GET /api/assets.
//
//	@Summary		List source assets with optional pagination
//	@Tags			assets
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			failed	query		bool	false	"Only assets whose last run failed"
//	@Success		200		{object}	AssetListResponse
//	@Security		BearerAuth
//	@Router			/assets [get]
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	failed, _ := strconv.ParseBool(q.Get("failed"))

	items, total, err := h.svc.ListAssets(r.Context(), limit, offset, failed)
	if err != nil {
		slog.Error("list assets failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, AssetListResponse{Assets: items, Total: total})
}

// GetAsset handles GET /api/assets/*.
//
//	@Summary		Get a single asset by path relative to the entry directory
//	@Tags			assets
//	@Produce		json
//	@Param			path	path		string	true	"Asset path"
//	@Success		200		{object}	AssetView
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/assets/{path} [get]
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	path := assetPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	v, err := h.svc.GetAsset(r.Context(), path)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrBadRequest):
			writeJSON(w, http.StatusBadRequest, errorBody("invalid path"))
		default:
			slog.Error("get asset failed", slog.String("path", path), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Status handles GET /api/status.
//
//	@Summary		Get the last update cycle and snapshot totals
//	@Tags			build
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		slog.Error("status failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListOutputs handles GET /api/outputs.
//
//	@Summary		List files in the output directory
//	@Tags			build
//	@Produce		json
//	@Success		200	{object}	OutputListResponse
//	@Security		BearerAuth
//	@Router			/outputs [get]
func (h *Handler) ListOutputs(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.ListOutputs(r.Context())
	if err != nil {
		slog.Error("list outputs failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, OutputListResponse{Outputs: files})
}
