package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	perrors "github.com/alexjbarnes/cloudpoodll-imagegen/internal/errors"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when an instance names no model.
const DefaultGeminiModel = "gemini-2.5-flash-image"

// Gemini generates and edits images with the Gemini generateContent API.
type Gemini struct {
	client  *genai.Client
	model   string
	inst    Instance
}

// NewGemini creates a Gemini provider for inst.
func NewGemini(ctx context.Context, inst Instance, httpClient *http.Client) (*Gemini, error) {
	cfg := &genai.ClientConfig{
		APIKey:     inst.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}

	if inst.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: inst.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := inst.Model
	if model == "" {
		model = DefaultGeminiModel
	}

	return &Gemini{client: client, model: model, inst: inst}, nil
}

// Name returns the plugin name.
func (g *Gemini) Name() string { return PluginGemini }

// SupportsAction reports whether action is enabled for this instance.
func (g *Gemini) SupportsAction(action models.Action) bool {
	return g.inst.AllowsAction(action)
}

// Invoke sends the prompt, plus the source image for edits, and returns
// the first inline image in the reply.
func (g *Gemini) Invoke(ctx context.Context, req models.ImageRequest) (*Response, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}

	if req.Action == models.ActionEdit {
		if len(req.SourceImage) == 0 {
			return nil, perrors.ErrNoSourceImage
		}

		mime := req.SourceMIMEType
		if mime == "" {
			mime = http.DetectContentType(req.SourceImage)
		}

		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mime, Data: req.SourceImage}})
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}

	res, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generateContent: %w: %w", perrors.ErrUpstreamUnavailable, err)
	}

	var text strings.Builder

	for _, cand := range res.Candidates {
		if cand.Content == nil {
			continue
		}

		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &Response{Image: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}, nil
			}

			text.WriteString(part.Text)
		}
	}

	if s := strings.TrimSpace(text.String()); s != "" {
		if len(s) > 256 {
			s = s[:256] + "..."
		}

		return nil, fmt.Errorf("gemini returned text only: %w: %s", perrors.ErrNoImage, s)
	}

	return nil, fmt.Errorf("gemini returned no image: %w", perrors.ErrNoImage)
}
