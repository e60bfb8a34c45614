package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	perrors "github.com/alexjbarnes/cloudpoodll-imagegen/internal/errors"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when an instance names no model.
const DefaultOpenAIModel = "dall-e-3"

// OpenAI generates images with the OpenAI Images API. It cannot edit.
type OpenAI struct {
	client  openai.Client
	model   string
	inst    Instance
}

// NewOpenAI creates an OpenAI provider for inst. The SDK's own retries
// are disabled; every request is a single attempt.
func NewOpenAI(inst Instance, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(inst.APIKey),
		option.WithMaxRetries(0),
	}

	if inst.BaseURL != "" {
		base := inst.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}

		opts = append(opts, option.WithBaseURL(base))
	}

	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	model := inst.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	return &OpenAI{client: openai.NewClient(opts...), model: model, inst: inst}
}

// Name returns the plugin name.
func (o *OpenAI) Name() string { return PluginOpenAI }

// SupportsAction reports whether action is enabled for this instance.
func (o *OpenAI) SupportsAction(action models.Action) bool {
	return o.inst.AllowsAction(action)
}

// Invoke generates one 1024x1024 image.
func (o *OpenAI) Invoke(ctx context.Context, req models.ImageRequest) (*Response, error) {
	if req.Action != models.ActionGenerate {
		return nil, fmt.Errorf("openai %s: %w", req.Action, perrors.ErrProviderIncapable)
	}

	resp, err := o.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         req.Prompt,
		Model:          openai.ImageModel(o.model),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize1024x1024,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai image generation: %w: %w", perrors.ErrUpstreamUnavailable, err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai returned no image: %w", perrors.ErrNoImage)
	}

	img := resp.Data[0]

	if img.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("decoding openai image: %w: %w", perrors.ErrMalformedResponse, err)
		}

		return &Response{Image: data, MIMEType: "image/png"}, nil
	}

	if img.URL != "" {
		return &Response{URL: img.URL}, nil
	}

	return nil, fmt.Errorf("openai image has neither b64_json nor url: %w", perrors.ErrNoImage)
}
