package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/auth"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/config"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/draft"
	perrors "github.com/alexjbarnes/cloudpoodll-imagegen/internal/errors"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/imagegen"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/logging"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/mcpserver"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/poodll"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/provider"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/repository"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/server"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

const usage = `usage: cloudpoodll-imagegen <command> [flags]

commands:
  serve                     run the HTTP and MCP server (default)
  generate [flags] PROMPT   generate an image into a new draft item
  edit [flags] PROMPT       edit a draft image into a new draft item
  token [-refresh]          show the cached vendor token status
  regions                   list vendor regions
  hash-key USER             create an API key and its API_KEYS entry
`

func main() {
	// Handle hash-key and regions before config loading.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "hash-key":
			if err := hashKey(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}

			return
		case "regions":
			for _, r := range config.Regions() {
				fmt.Printf("%-10s %s\n", r.Key, r.Label)
			}

			return
		case "-h", "--help", "help":
			fmt.Print(usage)
			return
		}
	}

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func hashKey(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: cloudpoodll-imagegen hash-key USER")
	}

	key, hash, err := auth.GenerateKey()
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, "API key (shown once, give it to the client):")
	fmt.Println(key)
	fmt.Fprintln(os.Stderr, "API_KEYS entry:")
	fmt.Printf("%s:%s\n", args[0], hash)

	return nil
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return a.serve(ctx)
	case "generate":
		return a.generate(ctx, args)
	case "edit":
		return a.edit(ctx, args)
	case "token":
		return a.token(ctx, args)
	}

	fmt.Fprint(os.Stderr, usage)

	return fmt.Errorf("unknown command %q", cmd)
}

// app holds the wired pipeline shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	state    *state.State
	store    *draft.Store
	tokens   *poodll.TokenCache
	registry *provider.Registry
	router   *imagegen.Router
	repo     *repository.Repository
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	appState, err := state.LoadAt(cfg.StatePath())
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	client := poodll.NewClient(nil,
		poodll.WithTimeout(cfg.HTTPTimeout),
		poodll.WithRateLimit(cfg.RateLimit),
	)

	providerHTTP := &http.Client{Timeout: cfg.HTTPTimeout}

	registry, err := provider.LoadRegistry(cfg.ProvidersFile, providerHTTP, logger)
	if err != nil {
		appState.Close()
		return nil, fmt.Errorf("loading providers: %w", err)
	}

	if cfg.APIProvider != models.DefaultProvider {
		inst, ok := registry.Instance(cfg.APIProvider)
		if !ok {
			logger.Warn("selected provider not in providers file, vendor backend will serve requests",
				slog.Int("provider", cfg.APIProvider),
			)
		} else {
			logger.Info("external provider selected",
				slog.Int("provider", inst.ID),
				slog.String("name", inst.Name),
				slog.String("plugin", inst.Plugin),
				slog.Bool("enabled", inst.Enabled),
			)
		}
	}

	tokens := poodll.NewTokenCache(appState, client, cfg.ServerURL(), logger)
	builder := poodll.NewPayloadBuilder(tokens, cfg.Credential(), cfg.AWSRegion)
	vendor := poodll.NewVendor(cfg.ServerURL(), builder, client, poodll.NewNormalizer(client, logger), logger)

	store := draft.NewStore(appState, cfg.FileDir(), logger)

	router := imagegen.NewRouter(imagegen.Config{
		Selection: cfg.APIProvider,
		Vendor:    vendor,
		Registry:  registry,
		Ingester:  draft.NewIngester(store, logger),
		Fetcher:   client,
		SiteURL:   cfg.SiteURL,
		Logger:    logger,
	})

	logger.Debug("pipeline ready",
		slog.String("vendor", cfg.ServerURL()),
		slog.String("region", cfg.AWSRegion),
		slog.Bool("can_edit", router.CanEditImage(ctx)),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		state:    appState,
		store:    store,
		tokens:   tokens,
		registry: registry,
		router:   router,
		repo:     repository.New(router, store, logger),
	}, nil
}

func (a *app) close() {
	if err := a.state.Close(); err != nil {
		a.logger.Warn("closing state", slog.String("error", err.Error()))
	}
}

func (a *app) serve(ctx context.Context) error {
	entries, err := a.cfg.ParseAPIKeys()
	if err != nil {
		return fmt.Errorf("parsing API keys: %w", err)
	}

	if len(entries) == 0 {
		return errors.New("API_KEYS is required to serve; create one with hash-key")
	}

	hashes := make([]auth.KeyHash, 0, len(entries))
	for _, e := range entries {
		hashes = append(hashes, auth.KeyHash{Username: e.Username, Hash: e.Hash})
	}

	keys := auth.NewKeys(hashes)

	a.logger.Info("cloudpoodll-imagegen starting",
		slog.String("version", Version),
		slog.Int("api_provider", a.cfg.APIProvider),
	)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "cloudpoodll-imagegen", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, mcpserver.Deps{
		Repo:    a.repo,
		Editor:  a.router,
		Tokens:  a.tokens,
		Creds:   a.cfg.Credential(),
		SiteURL: a.cfg.SiteURL,
		User:    auth.RequestUserID,
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := server.NewMux(server.MuxConfig{
		Keys:       keys,
		MCPHandler: mcpHandler,
		Files:      a.store,
		Repo:       a.repo,
		Tokens:     a.tokens,
		Creds:      a.cfg.Credential(),
		SiteURL:    a.cfg.SiteURL,
		Logger:     a.logger,
	})

	srv := &http.Server{
		Addr:         a.cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: a.cfg.HTTPTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting server",
			slog.String("listen", a.cfg.ListenAddr),
			slog.String("site_url", a.cfg.SiteURL),
			slog.Int("keys", keys.Len()),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	if a.cfg.ProvidersFile != "" {
		g.Go(func() error {
			err := a.registry.Watch(gctx, a.cfg.ProvidersFile)
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		})
	}

	// Shutdown when context is cancelled.
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *app) generate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	style := fs.String("style", repository.DefaultStyle, "image style")
	user := fs.String("user", a.cfg.DefaultUser, "draft owner")

	if err := fs.Parse(args); err != nil {
		return err
	}

	return a.search(ctx, *user, repository.SearchRequest{
		Prompt:    strings.Join(fs.Args(), " "),
		ImageType: *style,
	})
}

func (a *app) edit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	item := fs.Int64("item", 0, "draft item holding the image")
	file := fs.String("file", "", "name of the image to edit")
	user := fs.String("user", a.cfg.DefaultUser, "draft owner")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *item == 0 || *file == "" {
		return errors.New("edit needs -item and -file")
	}

	if !a.router.CanEditImage(ctx) {
		return fmt.Errorf("configured backend: %w", perrors.ErrProviderIncapable)
	}

	return a.search(ctx, *user, repository.SearchRequest{
		Prompt:        strings.Join(fs.Args(), " "),
		SelectedImage: *file,
		ItemID:        *item,
	})
}

func (a *app) search(ctx context.Context, username string, req repository.SearchRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return errors.New("a prompt is required")
	}

	res, err := a.repo.Search(ctx, models.User{Username: username}, req)
	if err != nil {
		return err
	}

	return printJSON(res)
}

func (a *app) token(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	refresh := fs.Bool("refresh", false, "fetch a new token first")

	if err := fs.Parse(args); err != nil {
		return err
	}

	creds := a.cfg.Credential()
	tok := a.tokens.Cached(creds)

	if *refresh {
		fresh, err := a.tokens.Fetch(ctx, creds, true)
		if err != nil {
			return fmt.Errorf("refreshing token: %w", err)
		}

		tok = fresh
	}

	for _, line := range a.tokens.Status(creds, a.cfg.SiteURL).Lines() {
		fmt.Println(line)
	}

	if err := a.tokens.CheckToken(creds, tok); err != nil {
		fmt.Printf("Token check: %v\n", err)
	}

	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
