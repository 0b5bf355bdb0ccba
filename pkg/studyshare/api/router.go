// Package api exposes the studyshare service over HTTP with chi.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth"
	"github.com/tendant/studyshare/pkg/studyshare"
	"github.com/tendant/studyshare/pkg/studyshare/admin"
)

// RouterConfig wires the handlers
type RouterConfig struct {
	Service   studyshare.Service
	Admin     admin.AdminService
	TokenAuth *jwtauth.JWTAuth
	// SubmitLimiter throttles POST /items per actor; nil disables it
	SubmitLimiter  *ActorRateLimiter
	MaxUploadBytes int64
}

// Routes returns the authenticated API, meant to be mounted under /api/v1.
func Routes(cfg RouterConfig) chi.Router {
	items := NewItemsHandler(cfg.Service, cfg.MaxUploadBytes)
	adminHandler := NewAdminHandler(cfg.Service, cfg.Admin)

	r := chi.NewRouter()
	r.Use(jwtauth.Verifier(cfg.TokenAuth))
	r.Use(ActorMiddleware)

	r.Route("/items", func(r chi.Router) {
		if cfg.SubmitLimiter != nil {
			r.With(cfg.SubmitLimiter.Middleware).Post("/", items.Submit)
		} else {
			r.Post("/", items.Submit)
		}
		r.Get("/", items.ListItems)
		r.Get("/{itemID}", items.GetItem)
		r.Post("/{itemID}/views", items.RecordView)
		r.Get("/{itemID}/download", items.Download)
	})

	r.Get("/contributors/{ownerID}/items", items.ListByOwner)
	r.Get("/contributors/{ownerID}/score", items.Score)
	r.Post("/sessions", items.StartSession)

	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireAdmin)
		r.Mount("/", adminHandler.Routes())
	})

	return r
}
