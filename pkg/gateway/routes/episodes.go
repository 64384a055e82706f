package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
	"github.com/haslamdb/aegis-sub000/pkg/episodes"
)

type EpisodesHandler struct {
	store episodes.Store
}

type EpisodeDetail struct {
	models.Episode
	Elements []models.ElementResult `json:"elements"`
}

type closeRequest struct {
	Reviewer string `json:"reviewer"`
}

func NewEpisodesHandler(store episodes.Store) *EpisodesHandler {
	return &EpisodesHandler{store: store}
}

// Register mounts read routes on r and the review route on review, which
// may carry extra middleware.
func (h *EpisodesHandler) Register(r, review *mux.Router) {
	r.HandleFunc("/episodes", h.handleListActive).Methods(http.MethodGet)
	r.HandleFunc("/episodes/{id}", h.handleGet).Methods(http.MethodGet)
	review.HandleFunc("/episodes/{id}/close", h.handleClose).Methods(http.MethodPost)
}

func (h *EpisodesHandler) handleListActive(w http.ResponseWriter, r *http.Request) {
	eps, err := h.store.ListActive(r.Context(), r.URL.Query().Get("bundle"))
	if err != nil {
		logger.Log.WithError(err).Error("failed to list active episodes")
		http.Error(w, "failed to list episodes", http.StatusInternalServerError)
		return
	}
	if eps == nil {
		eps = []models.Episode{}
	}
	writeJSON(w, http.StatusOK, eps)
}

func (h *EpisodesHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ep, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, id, err)
		return
	}
	elements, err := h.store.Elements(r.Context(), id)
	if err != nil {
		h.storeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, EpisodeDetail{Episode: *ep, Elements: elements})
}

func (h *EpisodesHandler) handleClose(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reviewer == "" {
		http.Error(w, "reviewer is required", http.StatusBadRequest)
		return
	}
	if err := h.store.Close(r.Context(), id, req.Reviewer); err != nil {
		h.storeError(w, id, err)
		return
	}
	logger.Log.WithField("episode_id", id).WithField("reviewer", req.Reviewer).Info("Episode closed")
	ep, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *EpisodesHandler) storeError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, episodes.ErrEpisodeNotFound) {
		http.Error(w, "episode not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, episodes.ErrNotComplete) {
		http.Error(w, "episode is not complete", http.StatusConflict)
		return
	}
	logger.Log.WithError(err).WithField("episode_id", id).Error("episode lookup failed")
	http.Error(w, "failed to load episode", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("failed to encode response")
	}
}
