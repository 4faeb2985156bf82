package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/packsync/packsync/internal/utils"
	"github.com/packsync/packsync/pkg/storage"
	"github.com/packsync/packsync/pkg/tracker"
)

type Server struct {
	DB       *storage.DB
	Cache    *storage.Cache
	Tracker  *tracker.Tracker
	Username string
	Password string
}

func New(db *storage.DB, cache *storage.Cache, tr *tracker.Tracker, user, pass string) *Server {
	return &Server{
		DB:       db,
		Cache:    cache,
		Tracker:  tr,
		Username: user,
		Password: pass,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/stats", s.basicAuth(s.handleStats))
	mux.HandleFunc("GET /api/changes", s.basicAuth(s.handleChanges))
	mux.HandleFunc("GET /api/packs", s.basicAuth(s.handlePacks))
	mux.HandleFunc("GET /api/packs/{id}", s.basicAuth(s.handlePack))
	mux.HandleFunc("GET /api/packs/{id}/ads", s.basicAuth(s.handlePackAds))
	mux.HandleFunc("DELETE /api/packs/{id}", s.basicAuth(s.handleRemovePack))
	mux.HandleFunc("GET /api/jobs", s.basicAuth(s.handleJobs))
	mux.HandleFunc("POST /api/jobs", s.basicAuth(s.handleSubmitJob))
	mux.HandleFunc("DELETE /api/jobs/{id}", s.basicAuth(s.handleCancelJob))

	return mux
}

// Start serves the API until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Log.Infof("Starting server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Username == "" && s.Password == "" {
			next(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
