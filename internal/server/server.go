package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/meteor-addons/addon-updater/internal/app"
	"github.com/meteor-addons/addon-updater/internal/config"
	"github.com/meteor-addons/addon-updater/pkg/api"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router chi.Router
	log    *logrus.Logger
	app    *app.App
	config *config.Config
	cache  *cache.Cache
	// background work outlives the request that started it
	baseCtx context.Context

	resultMu       sync.Mutex
	downloadResult *api.DownloadResult
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, r, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, &api.ServiceInfo{
		Service:     "meteor addon updater",
		Version:     s.config.Version,
		GameVersion: s.config.GameVersion,
		ModsDir:     s.config.GetModsDir(),
	})
}

func New(ctx context.Context, log *logrus.Logger, a *app.App) *Server {
	router := chi.NewRouter()
	server := &Server{
		router:  router,
		log:     log,
		app:     a,
		config:  a.Config,
		cache:   cache.New(5*time.Minute, 10*time.Minute),
		baseCtx: ctx,
	}
	a.Catalog.OnLoadComplete(func(error) {
		server.invalidateByPrefix(server.getCacheKeyWithPrefix(cacheKeyPrefixRequest, ""))
	})

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(server.logMiddleware)
	router.Use(server.recoverMiddleware)
	router.Use(middleware.Timeout(5 * time.Minute))

	router.NotFound(server.notFoundHandler)
	router.MethodNotAllowed(server.methodNotAllowedHandler)

	router.Get("/", server.indexHandler)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", server.getStats)

		r.Route("/addons", func(r chi.Router) {
			r.With(server.cacheMiddleware).Get("/", server.listAddons)
			r.Get("/installed", server.listInstalled)
			r.With(server.authMiddleware).Post("/{addon}/install", server.installAddon)
		})
		r.With(server.authMiddleware).Post("/catalog/_reload", server.reloadCatalog)

		r.Route("/updates", func(r chi.Router) {
			r.Get("/", server.listUpdates)
			r.Get("/staged", server.listStaged)
			r.With(server.authMiddleware).Group(func(r chi.Router) {
				r.Post("/_check", server.checkUpdates)
				r.Post("/_download", server.downloadUpdates)
				r.Delete("/staged", server.discardStaged)
				r.Post("/_install", server.installStaged)
			})
		})
	})

	return server
}
