package draft

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
)

// imageExtensions are the file types offered for editing.
var imageExtensions = []string{"png", "jpeg", "jpg", "webp"}

// maxItemID bounds generated draft item ids.
const maxItemID = 999999999

// IsImageFile reports whether name has an image extension.
func IsImageFile(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	return slices.Contains(imageExtensions, ext)
}

// ListImages returns the image files in a draft item, newest first.
func ListImages(ctx context.Context, store FileStore, username string, itemID int64) ([]models.StoredFile, error) {
	if itemID == 0 {
		return nil, nil
	}

	files, err := store.ListArea(ctx, username, itemID)
	if err != nil {
		return nil, err
	}

	images := files[:0]

	for _, f := range files {
		if IsImageFile(f.Filename) {
			images = append(images, f)
		}
	}

	return images, nil
}

// FindByName returns the file called filename at the root of a draft
// item, or nil.
func FindByName(ctx context.Context, store FileStore, username string, itemID int64, filename string) (*models.StoredFile, error) {
	return store.GetFile(ctx, models.FileLocation{
		Username: username,
		ItemID:   itemID,
		FilePath: RootPath,
		Filename: filename,
	})
}

// URL builds the public URL a draft file is served from.
func URL(siteURL string, loc models.FileLocation) string {
	filePath := loc.FilePath
	if filePath == "" {
		filePath = RootPath
	}

	var b strings.Builder

	b.WriteString(strings.TrimRight(siteURL, "/"))
	b.WriteString("/draftfile/")
	b.WriteString(url.PathEscape(loc.Username))
	b.WriteString("/")
	b.WriteString(strconv.FormatInt(loc.ItemID, 10))

	for _, seg := range strings.Split(strings.Trim(filePath, "/"), "/") {
		if seg != "" {
			b.WriteString("/")
			b.WriteString(url.PathEscape(seg))
		}
	}

	b.WriteString("/")
	b.WriteString(url.PathEscape(loc.Filename))

	return b.String()
}

// ItemChecker reports whether a draft item is in use.
type ItemChecker interface {
	ItemExists(username string, itemID int64) (bool, error)
}

// NewItemID returns a random draft item id not yet used by username.
func NewItemID(items ItemChecker, username string) (int64, error) {
	for range 100 {
		id := rand.Int64N(maxItemID) + 1

		used, err := items.ItemExists(username, id)
		if err != nil {
			return 0, fmt.Errorf("checking draft item: %w", err)
		}

		if !used {
			return id, nil
		}
	}

	return 0, fmt.Errorf("no unused draft item id found")
}
