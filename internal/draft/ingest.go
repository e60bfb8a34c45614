package draft

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	perrors "github.com/alexjbarnes/cloudpoodll-imagegen/internal/errors"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
)

// Ingester turns base64 images into draft files, reusing stored bytes
// when the same content was ingested before.
type Ingester struct {
	store  FileStore
	logger *slog.Logger
}

// NewIngester creates an ingester over store.
func NewIngester(store FileStore, logger *slog.Logger) *Ingester {
	return &Ingester{store: store, logger: logger}
}

// Ingest decodes b64 and stores it as filename in the user's draft item.
// When bytes with the same sha1 already exist, the requested location is
// linked to them and nothing is written to disk. The returned record
// always names the requested location.
func (i *Ingester) Ingest(ctx context.Context, user models.User, b64 string, itemID int64, filename string) (*models.FileRecord, error) {
	if b64 == "" {
		return nil, perrors.ErrEmptyImage
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w: %w", perrors.ErrMalformedResponse, err)
	}

	if len(data) == 0 {
		return nil, perrors.ErrEmptyImage
	}

	loc := models.FileLocation{
		Username: user.Username,
		ItemID:   itemID,
		FilePath: RootPath,
		Filename: filename,
	}

	hash := ContentHash(data)

	existing, err := i.store.GetFileByContentHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("looking up content: %w", err)
	}

	var f *models.StoredFile

	if existing != nil {
		f, err = i.store.LinkFile(ctx, loc, hash)
		if errors.Is(err, ErrNotFound) {
			// Released since the lookup.
			existing = nil
		}
	}

	if existing == nil {
		f, err = i.store.CreateFile(ctx, loc, data)
	}

	if err != nil {
		return nil, fmt.Errorf("storing draft file: %w", withStorageKind(err))
	}

	i.logger.Info("draft file stored",
		slog.String("user", user.Username),
		slog.Int64("itemid", itemID),
		slog.String("filename", f.Filename),
		slog.String("hash", hash),
		slog.Bool("deduplicated", existing != nil),
	)

	return &models.FileRecord{ItemID: f.ItemID, FilePath: f.FilePath, Filename: f.Filename}, nil
}

// withStorageKind makes sure a store failure is reported as ErrStorage.
func withStorageKind(err error) error {
	if perrors.Kind(err) == "storage" {
		return err
	}

	return fmt.Errorf("%w: %w", perrors.ErrStorage, err)
}
