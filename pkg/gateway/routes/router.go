package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/haslamdb/aegis-sub000/pkg/episodes"
	"github.com/haslamdb/aegis-sub000/pkg/gateway/middleware"
)

type RouterConfig struct {
	Store     episodes.Store
	Probes    map[string]Probe
	Jobs      map[string]JobFunc
	TokenHash string
	RateLimit int
}

// NewRouter builds the ops API. Mutating routes require the API token
// when one is configured.
func NewRouter(cfg RouterConfig) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)

	api := router.PathPrefix("/api/v1").Subrouter()
	if cfg.RateLimit > 0 {
		api.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateLimit*2))
	}
	guarded := api.NewRoute().Subrouter()
	guarded.Use(middleware.RequireToken(cfg.TokenHash))

	NewEpisodesHandler(cfg.Store).Register(api, guarded)
	NewOpsHandler(cfg.Probes, cfg.Jobs).Register(router, guarded)
	return router
}
