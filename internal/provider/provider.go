// Package provider adapts external AI image services to one interface
// and loads configured provider instances from a YAML registry.
package provider

import (
	"context"
	"slices"

	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
)

// Plugin names.
const (
	PluginGemini = "gemini"
	PluginOpenAI = "openai"
)

// editPlugins lists the plugins allowed to serve edit requests.
var editPlugins = []string{PluginGemini}

// CanEdit reports whether a provider plugin may serve edit requests.
func CanEdit(plugin string) bool {
	return slices.Contains(editPlugins, plugin)
}

// Response carries the image an external provider produced, either as
// raw bytes or as a URL to fetch.
type Response struct {
	Image    []byte
	MIMEType string
	URL      string
}

// Provider is a configured external image service.
type Provider interface {
	// Name returns the plugin name, e.g. "gemini".
	Name() string

	// SupportsAction reports whether this instance has action enabled.
	SupportsAction(action models.Action) bool

	// Invoke runs the request and returns the resulting image.
	Invoke(ctx context.Context, req models.ImageRequest) (*Response, error)
}
