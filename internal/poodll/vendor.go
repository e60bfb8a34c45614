package poodll

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Vendor runs image requests against the Cloud Poodll web service:
// build the payload, POST it, normalize the envelope.
type Vendor struct {
	server     string
	builder    *PayloadBuilder
	client     FormPoster
	normalizer *Normalizer
	logger     *slog.Logger
}

// NewVendor creates a vendor backend for server.
func NewVendor(server string, builder *PayloadBuilder, client FormPoster, normalizer *Normalizer, logger *slog.Logger) *Vendor {
	return &Vendor{
		server:     strings.TrimRight(server, "/"),
		builder:    builder,
		client:     client,
		normalizer: normalizer,
		logger:     logger,
	}
}

// GenerateImage asks the vendor for a new image and returns it base64
// encoded.
func (v *Vendor) GenerateImage(ctx context.Context, username, prompt string) (string, error) {
	params, err := v.builder.BuildGenerate(ctx, prompt, username)
	if err != nil {
		return "", fmt.Errorf("building generate payload: %w", err)
	}

	return v.call(ctx, "generate", params)
}

// EditImage asks the vendor to edit image according to prompt and
// returns the result base64 encoded.
func (v *Vendor) EditImage(ctx context.Context, username, prompt string, image []byte) (string, error) {
	params, err := v.builder.BuildEdit(ctx, prompt, image, username)
	if err != nil {
		return "", fmt.Errorf("building edit payload: %w", err)
	}

	return v.call(ctx, "edit", params)
}

func (v *Vendor) call(ctx context.Context, op string, params url.Values) (string, error) {
	start := time.Now()

	body, err := v.client.PostForm(ctx, v.server+servicePath, params)
	if err != nil {
		return "", fmt.Errorf("calling vendor %s: %w", op, err)
	}

	b64, err := v.normalizer.Normalize(ctx, body)
	if err != nil {
		return "", fmt.Errorf("vendor %s response: %w", op, err)
	}

	v.logger.Debug("vendor image received",
		slog.String("op", op),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("b64_len", len(b64)),
	)

	return b64, nil
}
