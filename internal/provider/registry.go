package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sync"

	perrors "github.com/alexjbarnes/cloudpoodll-imagegen/internal/errors"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
	"gopkg.in/yaml.v3"
)

// Instance is one provider entry in the registry file.
type Instance struct {
	ID      int      `yaml:"id"`
	Name    string   `yaml:"name"`
	Plugin  string   `yaml:"plugin"`
	Enabled bool     `yaml:"enabled"`
	Actions []string `yaml:"actions"`
	APIKey  string   `yaml:"api_key"`
	Model   string   `yaml:"model"`
	BaseURL string   `yaml:"base_url"`
}

// AllowsAction reports whether the instance is enabled for action.
func (i Instance) AllowsAction(action models.Action) bool {
	return i.Enabled && slices.Contains(i.Actions, string(action))
}

type registryFile struct {
	Providers []Instance `yaml:"providers"`
}

// Factory builds a Provider for an instance. Building must not touch
// the network.
type Factory func(ctx context.Context, inst Instance, httpClient *http.Client) (Provider, error)

var factories = map[string]Factory{
	PluginGemini: func(ctx context.Context, inst Instance, hc *http.Client) (Provider, error) {
		return NewGemini(ctx, inst, hc)
	},
	PluginOpenAI: func(_ context.Context, inst Instance, hc *http.Client) (Provider, error) {
		return NewOpenAI(inst, hc), nil
	},
}

// Registry holds the configured provider instances by id.
type Registry struct {
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	instances map[int]Instance
	built     map[int]Provider
}

// LoadRegistry reads a registry file. An empty path yields an empty
// registry.
func LoadRegistry(path string, httpClient *http.Client, logger *slog.Logger) (*Registry, error) {
	if path == "" {
		return ParseRegistry(nil, httpClient, logger)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading providers file: %w", err)
	}

	return ParseRegistry(data, httpClient, logger)
}

// ParseRegistry parses registry YAML. ${VAR} references in api_key and
// base_url are expanded from the environment.
func ParseRegistry(data []byte, httpClient *http.Client, logger *slog.Logger) (*Registry, error) {
	instances, err := parseInstances(data)
	if err != nil {
		return nil, err
	}

	return &Registry{
		instances:  instances,
		httpClient: httpClient,
		logger:     logger,
		built:      make(map[int]Provider),
	}, nil
}

func parseInstances(data []byte) (map[int]Instance, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing providers file: %w", err)
	}

	instances := make(map[int]Instance, len(file.Providers))

	for _, inst := range file.Providers {
		if inst.ID == models.DefaultProvider {
			return nil, fmt.Errorf("provider id %d is reserved for the vendor backend", inst.ID)
		}

		if _, dup := instances[inst.ID]; dup {
			return nil, fmt.Errorf("duplicate provider id %d", inst.ID)
		}

		if _, ok := factories[inst.Plugin]; !ok {
			return nil, fmt.Errorf("provider %d: unknown plugin %q", inst.ID, inst.Plugin)
		}

		for _, a := range inst.Actions {
			if a != string(models.ActionGenerate) && a != string(models.ActionEdit) {
				return nil, fmt.Errorf("provider %d: unknown action %q", inst.ID, a)
			}
		}

		inst.APIKey = os.ExpandEnv(inst.APIKey)
		inst.BaseURL = os.ExpandEnv(inst.BaseURL)
		instances[inst.ID] = inst
	}

	return instances, nil
}

// Reload replaces every instance with those parsed from data and drops
// built providers. On a parse error the current instances are kept.
func (r *Registry) Reload(data []byte) error {
	instances, err := parseInstances(data)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.instances = instances
	r.built = make(map[int]Provider)
	r.mu.Unlock()

	r.logger.Info("providers reloaded", slog.Int("instances", len(instances)))

	return nil
}

// Instance returns the instance with id, if configured.
func (r *Registry) Instance(id int) (Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	return inst, ok
}

// Instances returns every configured instance ordered by id.
func (r *Registry) Instances() []Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}

	slices.SortFunc(out, func(a, b Instance) int { return a.ID - b.ID })

	return out
}

// Lookup returns the provider for id. ok is false when no instance has
// that id or the instance is disabled.
func (r *Registry) Lookup(ctx context.Context, id int) (Provider, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok || !inst.Enabled {
		return nil, false, nil
	}

	if p, ok := r.built[id]; ok {
		return p, true, nil
	}

	if inst.APIKey == "" {
		return nil, true, fmt.Errorf("provider %d has no api_key: %w", id, perrors.ErrConfigurationMissing)
	}

	p, err := factories[inst.Plugin](ctx, inst, r.httpClient)
	if err != nil {
		return nil, true, fmt.Errorf("building provider %d: %w: %w", id, perrors.ErrConfigurationMissing, err)
	}

	r.built[id] = p

	r.logger.Debug("provider ready",
		slog.Int("id", id),
		slog.String("plugin", inst.Plugin),
		slog.String("model", inst.Model),
	)

	return p, true, nil
}
