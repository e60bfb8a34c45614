// Package server provides HTTP server construction for cloudpoodll-imagegen.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/auth"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/poodll"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/repository"
)

// DraftFiles reads stored draft files.
type DraftFiles interface {
	GetFile(ctx context.Context, loc models.FileLocation) (*models.StoredFile, error)
	ReadFile(ctx context.Context, f *models.StoredFile) ([]byte, error)
}

// Repository runs prompt searches and describes draft items.
type Repository interface {
	Search(ctx context.Context, user models.User, req repository.SearchRequest) (repository.Results, error)
	Form(ctx context.Context, user models.User, siteURL string, req repository.SearchRequest) (repository.Form, error)
}

// TokenReporter reads and refreshes the vendor token.
type TokenReporter interface {
	Fetch(ctx context.Context, creds models.Credential, force bool) (string, error)
	Status(creds models.Credential, siteURL string) poodll.TokenStatus
}

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Keys       *auth.Keys
	MCPHandler http.Handler
	Files      DraftFiles
	Repo       Repository
	Tokens     TokenReporter
	Creds      models.Credential
	SiteURL    string
	Logger     *slog.Logger
}

// NewMux builds the HTTP mux with health, draft file, search, token
// admin and MCP endpoints. Everything but the health check is
// protected by API key middleware.
func NewMux(cfg MuxConfig) *http.ServeMux {
	authMiddleware := auth.Middleware(cfg.Keys, cfg.Logger)
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.Handle("GET /draftfile/{user}/{itemid}/{file...}", protect(handleDraftFile(cfg.Files, cfg.Logger)))
	mux.Handle("POST /api/search", protect(handleSearch(cfg.Repo, cfg.Logger)))
	mux.Handle("GET /api/form", protect(handleForm(cfg.Repo, cfg.SiteURL)))
	mux.Handle("GET /admin/token", protect(handleTokenStatus(cfg.Tokens, cfg.Creds, cfg.SiteURL)))
	mux.Handle("POST /admin/token", protect(handleTokenRefresh(cfg.Tokens, cfg.Creds, cfg.SiteURL, cfg.Logger)))

	if cfg.MCPHandler != nil {
		mux.Handle("/mcp", authMiddleware(cfg.MCPHandler))
	}

	return mux
}
