// Package imagegen routes image requests to the vendor backend or an
// external provider and stores the result in the caller's draft area.
package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/draft"
	perrors "github.com/alexjbarnes/cloudpoodll-imagegen/internal/errors"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/imaging"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/poodll"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/provider"
	"github.com/google/uuid"
)

// Vendor is the default backend. Both calls return a base64 image.
type Vendor interface {
	GenerateImage(ctx context.Context, username, prompt string) (string, error)
	EditImage(ctx context.Context, username, prompt string, image []byte) (string, error)
}

// Ingester stores a base64 image in a draft area.
type Ingester interface {
	Ingest(ctx context.Context, user models.User, b64 string, itemID int64, filename string) (*models.FileRecord, error)
}

// ProviderRegistry resolves external provider ids. ok is false when the
// id is unknown or the instance is disabled.
type ProviderRegistry interface {
	Lookup(ctx context.Context, id int) (p provider.Provider, ok bool, err error)
}

// ImageFetcher downloads provider images returned by URL.
type ImageFetcher interface {
	Get(ctx context.Context, endpoint string) ([]byte, error)
}

// Router picks the backend for each request and converges every path
// on one ImageResult.
type Router struct {
	selection int
	vendor    Vendor
	registry  ProviderRegistry
	ingester  Ingester
	fetcher   ImageFetcher
	siteURL   string
	shrink    func([]byte) []byte
	logger    *slog.Logger
}

// Config wires a Router.
type Config struct {
	// Selection is the configured provider id, models.DefaultProvider
	// for the vendor backend.
	Selection int
	Vendor    Vendor
	Registry  ProviderRegistry
	Ingester  Ingester
	Fetcher   ImageFetcher
	SiteURL   string
	Logger    *slog.Logger
}

// NewRouter creates a router.
func NewRouter(cfg Config) *Router {
	return &Router{
		selection: cfg.Selection,
		vendor:    cfg.Vendor,
		registry:  cfg.Registry,
		ingester:  cfg.Ingester,
		fetcher:   cfg.Fetcher,
		siteURL:   cfg.SiteURL,
		shrink:    imaging.Shrink,
		logger:    cfg.Logger,
	}
}

// Route serves req and stores the image as filename in the user's draft
// item. Every failure yields a result with Success false.
func (r *Router) Route(ctx context.Context, user models.User, req models.ImageRequest, itemID int64, filename string) models.ImageResult {
	res, err := r.Attempt(ctx, user, req, itemID, filename)
	if err != nil {
		return models.ImageResult{}
	}

	return res
}

// Attempt is Route with the failure reason kept.
func (r *Router) Attempt(ctx context.Context, user models.User, req models.ImageRequest, itemID int64, filename string) (models.ImageResult, error) {
	reqID := uuid.NewString()
	logger := r.logger.With(
		slog.String("request_id", reqID),
		slog.String("user", user.Username),
		slog.String("action", string(req.Action)),
	)
	start := time.Now()

	b64, backend, err := r.produce(ctx, user, req)
	if err != nil {
		logger.Log(ctx, poodll.FailureLevel(err), "image request failed",
			slog.String("backend", backend),
			slog.String("kind", perrors.Kind(err)),
			slog.String("error", err.Error()),
		)

		return models.ImageResult{}, err
	}

	rec, err := r.ingester.Ingest(ctx, user, b64, itemID, filename)
	if err != nil {
		logger.Log(ctx, poodll.FailureLevel(err), "storing image failed",
			slog.String("backend", backend),
			slog.String("kind", perrors.Kind(err)),
			slog.String("error", err.Error()),
		)

		return models.ImageResult{}, err
	}

	loc := models.FileLocation{
		Username: user.Username,
		ItemID:   rec.ItemID,
		FilePath: rec.FilePath,
		Filename: rec.Filename,
	}

	logger.Info("image stored",
		slog.String("backend", backend),
		slog.Int64("itemid", rec.ItemID),
		slog.String("filename", rec.Filename),
		slog.Duration("elapsed", time.Since(start)),
	)

	return models.ImageResult{
		Success:     true,
		DraftURL:    draft.URL(r.siteURL, loc),
		DraftItemID: rec.ItemID,
		Filename:    rec.Filename,
	}, nil
}

// produce returns the base64 image for req and the name of the backend
// that made it.
func (r *Router) produce(ctx context.Context, user models.User, req models.ImageRequest) (string, string, error) {
	p, err := r.external(ctx, req.Action)
	if err != nil {
		return "", "external", err
	}

	if p == nil {
		b64, err := r.fromVendor(ctx, user, req)
		return b64, "vendor", err
	}

	b64, err := r.fromProvider(ctx, p, req)

	return b64, p.Name(), err
}

// external returns the configured provider when it is enabled for
// action, or nil when the vendor backend should serve the request. An
// edit with a selected plugin outside the edit allow-list fails here,
// whether or not the instance enables edits.
func (r *Router) external(ctx context.Context, action models.Action) (provider.Provider, error) {
	if r.selection == models.DefaultProvider || r.registry == nil {
		return nil, nil
	}

	p, ok, err := r.registry.Lookup(ctx, r.selection)
	if err != nil {
		return nil, err
	}

	if ok && action == models.ActionEdit && !provider.CanEdit(p.Name()) {
		return nil, fmt.Errorf("provider %s cannot edit images: %w", p.Name(), perrors.ErrProviderIncapable)
	}

	if !ok || !p.SupportsAction(action) {
		r.logger.Debug("provider not available for action, using vendor",
			slog.Int("provider", r.selection),
			slog.String("action", string(action)),
		)

		return nil, nil
	}

	return p, nil
}

func (r *Router) fromVendor(ctx context.Context, user models.User, req models.ImageRequest) (string, error) {
	if r.vendor == nil {
		return "", fmt.Errorf("vendor backend: %w", perrors.ErrConfigurationMissing)
	}

	if req.Action == models.ActionEdit {
		return r.vendor.EditImage(ctx, user.Username, req.Prompt, req.SourceImage)
	}

	return r.vendor.GenerateImage(ctx, user.Username, req.Prompt)
}

func (r *Router) fromProvider(ctx context.Context, p provider.Provider, req models.ImageRequest) (string, error) {
	resp, err := p.Invoke(ctx, req)
	if err != nil {
		return "", err
	}

	raw := resp.Image

	if len(raw) == 0 && resp.URL != "" {
		if r.fetcher == nil {
			return "", fmt.Errorf("no fetcher for provider image url: %w", perrors.ErrConfigurationMissing)
		}

		raw, err = r.fetcher.Get(ctx, resp.URL)
		if err != nil {
			return "", fmt.Errorf("fetching provider image: %w", err)
		}
	}

	if len(raw) == 0 {
		return "", fmt.Errorf("provider %s: %w", p.Name(), perrors.ErrNoImage)
	}

	return base64.StdEncoding.EncodeToString(r.shrink(raw)), nil
}

// CanEditImage reports whether an edit request would reach a backend
// able to serve it.
func (r *Router) CanEditImage(ctx context.Context) bool {
	p, err := r.external(ctx, models.ActionEdit)
	if err != nil {
		return false
	}

	if p == nil {
		return r.vendor != nil
	}

	return true
}
