package poodll

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	perrors "github.com/alexjbarnes/cloudpoodll-imagegen/internal/errors"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/imaging"
	"github.com/tidwall/gjson"
)

// Getter fetches a URL and returns the raw body.
type Getter interface {
	Get(ctx context.Context, endpoint string) ([]byte, error)
}

// Normalizer turns a vendor web service response into a base64 image.
type Normalizer struct {
	client Getter
	shrink func([]byte) []byte
	logger *slog.Logger
}

// NewNormalizer creates a normalizer that fetches URL-shaped results
// with client and bounds images with imaging.Shrink.
func NewNormalizer(client Getter, logger *slog.Logger) *Normalizer {
	return &Normalizer{client: client, shrink: imaging.Shrink, logger: logger}
}

// NormalizeImage returns the base64 image in body, or "" when there is
// none. Failures are logged, never returned.
func (n *Normalizer) NormalizeImage(ctx context.Context, body []byte) string {
	b64, err := n.Normalize(ctx, body)
	if err != nil {
		n.logger.Warn("vendor response carried no image",
			slog.String("kind", perrors.Kind(err)),
			slog.String("error", err.Error()),
		)

		return ""
	}

	return b64
}

// Normalize extracts the image from a {returnCode, returnMessage}
// envelope. returnCode "0" is success and returnMessage holds a JSON
// list whose first element carries either url or b64_json.
func (n *Normalizer) Normalize(ctx context.Context, body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("envelope is not JSON: %w: %s", perrors.ErrMalformedResponse, sanitizeResponseBody(body))
	}

	env := gjson.ParseBytes(body)

	code := env.Get("returnCode")
	if !code.Exists() {
		return "", fmt.Errorf("envelope has no returnCode: %w", perrors.ErrMalformedResponse)
	}

	msg := env.Get("returnMessage")
	if code.String() != "0" {
		return "", fmt.Errorf("vendor returned code %s: %w: %s", code.String(), perrors.ErrUpstreamUnavailable, sanitizeResponseBody([]byte(msg.String())))
	}

	// returnMessage is normally a JSON document encoded as a string.
	payload := msg
	if msg.Type == gjson.String {
		if !gjson.Valid(msg.Str) {
			return "", fmt.Errorf("returnMessage is not JSON: %w", perrors.ErrMalformedResponse)
		}

		payload = gjson.Parse(msg.Str)
	}

	if !payload.IsArray() {
		return "", fmt.Errorf("returnMessage is not a list: %w", perrors.ErrMalformedResponse)
	}

	first := payload.Get("0")
	if !first.Exists() {
		return "", fmt.Errorf("returnMessage list is empty: %w", perrors.ErrNoImage)
	}

	var raw []byte

	switch {
	case first.Get("url").String() != "":
		data, err := n.client.Get(ctx, first.Get("url").String())
		if err != nil {
			return "", fmt.Errorf("fetching image: %w", err)
		}

		raw = data
	case first.Get("b64_json").String() != "":
		data, err := base64.StdEncoding.DecodeString(first.Get("b64_json").String())
		if err != nil {
			return "", fmt.Errorf("decoding b64_json: %w: %w", perrors.ErrMalformedResponse, err)
		}

		raw = data
	default:
		return "", fmt.Errorf("result has neither url nor b64_json: %w", perrors.ErrNoImage)
	}

	if len(raw) == 0 {
		return "", perrors.ErrEmptyImage
	}

	return base64.StdEncoding.EncodeToString(n.shrink(raw)), nil
}
