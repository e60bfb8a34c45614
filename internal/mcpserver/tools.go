// Package mcpserver registers MCP tools that expose image generation,
// draft listing and vendor token status.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	perrors "github.com/alexjbarnes/cloudpoodll-imagegen/internal/errors"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/poodll"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/repository"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Repository runs prompt searches and describes draft items.
type Repository interface {
	Search(ctx context.Context, user models.User, req repository.SearchRequest) (repository.Results, error)
	Form(ctx context.Context, user models.User, siteURL string, req repository.SearchRequest) (repository.Form, error)
}

// EditChecker reports whether the current backend can edit images.
type EditChecker interface {
	CanEditImage(ctx context.Context) bool
}

// TokenReporter reads and refreshes the vendor token.
type TokenReporter interface {
	Fetch(ctx context.Context, creds models.Credential, force bool) (string, error)
	Status(creds models.Credential, siteURL string) poodll.TokenStatus
}

// Deps holds everything the tools call into.
type Deps struct {
	Repo    Repository
	Editor  EditChecker
	Tokens  TokenReporter
	Creds   models.Credential
	SiteURL string

	// User resolves the caller from the request context.
	User func(ctx context.Context) string
}

var errNoUser = errors.New("no authenticated user")

func (d Deps) user(ctx context.Context) (models.User, error) {
	if d.User == nil {
		return models.User{}, errNoUser
	}

	name := d.User(ctx)
	if name == "" {
		return models.User{}, errNoUser
	}

	return models.User{Username: name}, nil
}

// RegisterTools adds all image tools to the given MCP server.
func RegisterTools(server *mcp.Server, d Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "image_generate",
		Description: "Generate a new image from a text prompt in one of the supported styles. The image is stored in a fresh draft item and returned as a single result with its draft URL.",
	}, generateHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "image_edit",
		Description: "Edit an existing draft image with a text prompt. The edited image keeps the source filename with a .png extension and is stored in a fresh draft item. Fails when the configured backend cannot edit images.",
	}, editHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "image_list",
		Description: "List the image styles and, when editing is available, the png/jpeg/jpg/webp images in a draft item, newest first.",
	}, listHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "token_status",
		Description: "Report the cached Cloud Poodll token: subscriptions, expiry and whether this site is authorised. Set refresh to fetch a new token first.",
	}, tokenStatusHandler(d))
}

// --- Input types ---

// GenerateInput holds parameters for image_generate.
type GenerateInput struct {
	Prompt string `json:"prompt" jsonschema:"description of the image to create"`
	Style  string `json:"style,omitempty" jsonschema:"image style, defaults to flat vector illustration"`
}

// EditInput holds parameters for image_edit.
type EditInput struct {
	Prompt   string `json:"prompt" jsonschema:"the change to make"`
	Filename string `json:"filename" jsonschema:"name of the image to edit"`
	ItemID   int64  `json:"itemid" jsonschema:"draft item holding the image"`
}

// ListInput holds parameters for image_list.
type ListInput struct {
	ItemID int64 `json:"itemid,omitempty" jsonschema:"draft item to list, 0 lists no images"`
}

// TokenStatusInput holds parameters for token_status.
type TokenStatusInput struct {
	Refresh bool `json:"refresh,omitempty" jsonschema:"fetch a new token before reporting"`
}

// TokenStatusResult is the output of token_status.
type TokenStatusResult struct {
	Status    poodll.TokenStatus `json:"status"`
	Lines     []string           `json:"lines"`
	Refreshed bool               `json:"refreshed,omitempty"`
}

// --- Handlers ---

func generateHandler(d Deps) mcp.ToolHandlerFor[GenerateInput, *repository.Results] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GenerateInput) (*mcp.CallToolResult, *repository.Results, error) {
		user, err := d.user(ctx)
		if err != nil {
			return nil, nil, err
		}

		result, err := d.Repo.Search(ctx, user, repository.SearchRequest{
			Prompt:    input.Prompt,
			ImageType: input.Style,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("generating image (%s): %w", perrors.Kind(err), err)
		}

		return textResult(result), &result, nil
	}
}

func editHandler(d Deps) mcp.ToolHandlerFor[EditInput, *repository.Results] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input EditInput) (*mcp.CallToolResult, *repository.Results, error) {
		user, err := d.user(ctx)
		if err != nil {
			return nil, nil, err
		}

		if input.Filename == "" {
			return nil, nil, errors.New("filename is required")
		}

		if !d.Editor.CanEditImage(ctx) {
			return nil, nil, perrors.ErrProviderIncapable
		}

		result, err := d.Repo.Search(ctx, user, repository.SearchRequest{
			Prompt:        input.Prompt,
			SelectedImage: input.Filename,
			ItemID:        input.ItemID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("editing image (%s): %w", perrors.Kind(err), err)
		}

		return textResult(result), &result, nil
	}
}

func listHandler(d Deps) mcp.ToolHandlerFor[ListInput, *repository.Form] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ListInput) (*mcp.CallToolResult, *repository.Form, error) {
		user, err := d.user(ctx)
		if err != nil {
			return nil, nil, err
		}

		form, err := d.Repo.Form(ctx, user, d.SiteURL, repository.SearchRequest{ItemID: input.ItemID})
		if err != nil {
			return nil, nil, err
		}

		return textResult(form), &form, nil
	}
}

func tokenStatusHandler(d Deps) mcp.ToolHandlerFor[TokenStatusInput, *TokenStatusResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input TokenStatusInput) (*mcp.CallToolResult, *TokenStatusResult, error) {
		if _, err := d.user(ctx); err != nil {
			return nil, nil, err
		}

		out := &TokenStatusResult{}

		if input.Refresh {
			if _, err := d.Tokens.Fetch(ctx, d.Creds, true); err != nil {
				return nil, nil, fmt.Errorf("refreshing token (%s): %w", perrors.Kind(err), err)
			}

			out.Refreshed = true
		}

		out.Status = d.Tokens.Status(d.Creds, d.SiteURL)
		out.Lines = out.Status.Lines()

		return textResult(out), out, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
