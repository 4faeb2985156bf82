package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/packsync/packsync/internal/utils"
	"github.com/packsync/packsync/pkg/adsapi"
	"github.com/packsync/packsync/pkg/pack"
	"github.com/packsync/packsync/pkg/polling"
	"github.com/packsync/packsync/pkg/storage"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Log.Debugf("Could not write response: %v", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.DB.GetStats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	changes, err := s.DB.ListRecentChanges(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

func (s *Server) handlePacks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.ListOptions{
		AdAccountID: q.Get("adaccount_id"),
		Status:      pack.RefreshStatus(q.Get("status")),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		opts.Since = since
	}

	packs, err := s.Cache.List(r.Context(), opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if packs == nil {
		packs = []pack.Pack{}
	}
	writeJSON(w, http.StatusOK, packs)
}

func (s *Server) handlePack(w http.ResponseWriter, r *http.Request) {
	p, err := s.Cache.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePackAds(w http.ResponseWriter, r *http.Request) {
	ads, err := s.Cache.Details(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storageError(w, err)
		return
	}
	if r.URL.Query().Get("all") != "true" {
		ads = pack.Apply(ads, pack.VideoOnly)
	}
	if ads == nil {
		ads = []pack.Ad{}
	}
	writeJSON(w, http.StatusOK, ads)
}

func (s *Server) handleRemovePack(w http.ResponseWriter, r *http.Request) {
	if err := s.Cache.Remove(r.Context(), r.PathValue("id")); err != nil {
		s.storageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) storageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "pack not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

type JobView struct {
	JobID    string           `json:"job_id"`
	Kind     adsapi.JobKind   `json:"kind,omitempty"`
	PackID   string           `json:"pack_id,omitempty"`
	Progress polling.Progress `json:"progress"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	ids := s.Tracker.Registry().List()
	jobs := make([]JobView, 0, len(ids))
	for _, id := range ids {
		v := JobView{JobID: id}
		if h, ok := s.Tracker.Handle(id); ok {
			v.Kind, v.PackID, v.Progress = h.Kind, h.PackID(), h.Progress()
		}
		jobs = append(jobs, v)
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var params adsapi.SubmitParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := params.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The job outlives the request.
	h, err := s.Tracker.SubmitAndTrack(context.WithoutCancel(r.Context()), params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusAccepted, JobView{JobID: h.JobID, Kind: h.Kind, PackID: h.PackID()})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	h, ok := s.Tracker.Handle(r.PathValue("id"))
	if !ok {
		http.Error(w, "job not tracked", http.StatusNotFound)
		return
	}
	h.Cancel()
	w.WriteHeader(http.StatusNoContent)
}
