// Package repository is the prompt entry point: it turns a search into
// a generate or edit request and returns the stored image as a
// selectable result.
package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/draft"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
)

// thumbnailSize is the edge length results are displayed at.
const thumbnailSize = 256

// Generator serves image requests.
type Generator interface {
	Attempt(ctx context.Context, user models.User, req models.ImageRequest, itemID int64, filename string) (models.ImageResult, error)
	CanEditImage(ctx context.Context) bool
}

// Files is the draft storage a repository reads from.
type Files interface {
	draft.FileStore
	draft.ItemChecker
}

// SearchRequest is one prompt submission. SelectedImage names a file in
// draft item ItemID to edit; empty means generate a new image.
type SearchRequest struct {
	Prompt        string `json:"prompt"`
	ImageType     string `json:"imagetype,omitempty"`
	SelectedImage string `json:"selectedimage,omitempty"`
	ItemID        int64  `json:"itemid,omitempty"`
}

// Result is one selectable image.
type Result struct {
	Title           string `json:"title"`
	ShortTitle      string `json:"shorttitle"`
	Thumbnail       string `json:"thumbnail"`
	ThumbnailHeight int    `json:"thumbnail_height"`
	ThumbnailWidth  int    `json:"thumbnail_width"`
	Source          string `json:"source"`
	URL             string `json:"url"`
}

// Results is the search response.
type Results struct {
	List     []Result `json:"list"`
	Page     int      `json:"page"`
	Pages    int      `json:"pages"`
	NoSearch bool     `json:"nosearch,omitempty"`
}

// SourceRef identifies a draft file. It is carried base64 encoded in
// Result.Source.
type SourceRef struct {
	User      string `json:"user"`
	Component string `json:"component"`
	FileArea  string `json:"filearea"`
	ItemID    int64  `json:"itemid"`
	FilePath  string `json:"filepath"`
	Filename  string `json:"filename"`
}

// DecodeSource parses a Result.Source value.
func DecodeSource(source string) (SourceRef, error) {
	var ref SourceRef

	data, err := base64.StdEncoding.DecodeString(source)
	if err != nil {
		return ref, fmt.Errorf("decoding source: %w", err)
	}

	if err := json.Unmarshal(data, &ref); err != nil {
		return ref, fmt.Errorf("parsing source: %w", err)
	}

	return ref, nil
}

// Repository runs searches for users.
type Repository struct {
	gen    Generator
	files  Files
	now    func() time.Time
	logger *slog.Logger
}

// New creates a repository.
func New(gen Generator, files Files, logger *slog.Logger) *Repository {
	return &Repository{
		gen:    gen,
		files:  files,
		now:    time.Now,
		logger: logger,
	}
}

// pngName swaps the extension of name for .png, the format stored
// images are re-encoded in.
func pngName(name string) string {
	ext := path.Ext(name)
	if strings.EqualFold(ext, ".png") {
		return name
	}

	return strings.TrimSuffix(name, ext) + ".png"
}

func emptyResults() Results {
	return Results{List: []Result{}, Pages: 1}
}

// Search generates or edits an image for req and returns it as a single
// result. A blank prompt returns no results and no error. Every other
// failure returns no results together with the reason.
func (r *Repository) Search(ctx context.Context, user models.User, req SearchRequest) (Results, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return emptyResults(), nil
	}

	var (
		imgReq   models.ImageRequest
		filename string
	)

	if req.SelectedImage != "" && r.gen.CanEditImage(ctx) {
		src, data, err := r.selected(ctx, user, req.ItemID, req.SelectedImage)
		if err != nil {
			r.logger.Info("selected image unavailable",
				slog.String("user", user.Username),
				slog.Int64("itemid", req.ItemID),
				slog.String("filename", req.SelectedImage),
				slog.String("error", err.Error()),
			)

			return emptyResults(), err
		}

		imgReq = models.NewEditRequest(prompt, data, src.MIMEType)
		filename = pngName(req.SelectedImage)
	} else {
		style := req.ImageType
		if style == "" {
			style = DefaultStyle
		}

		imgReq = models.NewGenerateRequest(prompt + "[NB The image style is: " + style + "]")
		filename = "imagegen_" + strconv.FormatInt(r.now().Unix(), 10) + ".png"
	}

	itemID, err := draft.NewItemID(r.files, user.Username)
	if err != nil {
		return emptyResults(), err
	}

	res, err := r.gen.Attempt(ctx, user, imgReq, itemID, filename)
	if err != nil {
		return emptyResults(), err
	}

	source, err := json.Marshal(SourceRef{
		User:      user.Username,
		Component: "user",
		FileArea:  "draft",
		ItemID:    res.DraftItemID,
		FilePath:  draft.RootPath,
		Filename:  res.Filename,
	})
	if err != nil {
		return emptyResults(), fmt.Errorf("encoding source: %w", err)
	}

	out := emptyResults()
	out.List = append(out.List, Result{
		Title:           res.Filename,
		ShortTitle:      res.Filename,
		Thumbnail:       res.DraftURL,
		ThumbnailHeight: thumbnailSize,
		ThumbnailWidth:  thumbnailSize,
		Source:          base64.StdEncoding.EncodeToString(source),
		URL:             res.DraftURL,
	})
	out.NoSearch = true

	return out, nil
}

// selected loads the image being edited from the user's draft item.
func (r *Repository) selected(ctx context.Context, user models.User, itemID int64, filename string) (*models.StoredFile, []byte, error) {
	f, err := draft.FindByName(ctx, r.files, user.Username, itemID, filename)
	if err != nil {
		return nil, nil, fmt.Errorf("finding selected image: %w", err)
	}

	if f == nil {
		return nil, nil, fmt.Errorf("selected image %q in item %d: %w", filename, itemID, draft.ErrNotFound)
	}

	data, err := r.files.ReadFile(ctx, f)
	if err != nil {
		return nil, nil, fmt.Errorf("reading selected image: %w", err)
	}

	return f, data, nil
}

// Image is an editable image in a draft item.
type Image struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	MIMEType string `json:"mimetype"`
	Modified int64  `json:"timemodified"`
	Selected bool   `json:"selected"`
}

// StyleOption is a Style marked as selected or not.
type StyleOption struct {
	Style
	Selected bool `json:"selected"`
}

// Form is the data a prompt form is drawn from.
type Form struct {
	Prompt    string        `json:"prompt"`
	Styles    []StyleOption `json:"imagestyles"`
	Images    []Image       `json:"images"`
	CanEdit   bool          `json:"canedit"`
	ShowClear bool          `json:"showclearoption"`
	NoCurrent bool          `json:"nocurrent"`
}

// Form describes the prompt form for req. Images are listed only when
// the current backend can edit.
func (r *Repository) Form(ctx context.Context, user models.User, siteURL string, req SearchRequest) (Form, error) {
	style := req.ImageType
	if style == "" {
		style = DefaultStyle
	}

	form := Form{
		Prompt:    req.Prompt,
		Images:    []Image{},
		CanEdit:   r.gen.CanEditImage(ctx),
		NoCurrent: req.SelectedImage == "",
	}

	for _, s := range styles {
		form.Styles = append(form.Styles, StyleOption{Style: s, Selected: s.Value == style})
	}

	if !form.CanEdit {
		return form, nil
	}

	files, err := draft.ListImages(ctx, r.files, user.Username, req.ItemID)
	if err != nil {
		return form, fmt.Errorf("listing draft images: %w", err)
	}

	for _, f := range files {
		form.Images = append(form.Images, Image{
			Title:    f.Filename,
			URL:      draft.URL(siteURL, f.FileLocation),
			MIMEType: f.MIMEType,
			Modified: f.TimeModified,
			Selected: req.SelectedImage != "" && f.Filename == req.SelectedImage,
		})
	}

	form.ShowClear = len(form.Images) > 0

	return form, nil
}
