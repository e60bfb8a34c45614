// Package draft stores generated images in per-user draft areas backed
// by a content-addressed file store.
package draft

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	perrors "github.com/alexjbarnes/cloudpoodll-imagegen/internal/errors"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/state"
	"golang.org/x/text/unicode/norm"
)

const (
	blobDirPerm  = fs.FileMode(0o750)
	blobFilePerm = fs.FileMode(0o640)

	// RootPath is the only folder used inside a draft area.
	RootPath = "/"
)

// ErrNotFound is returned when a draft file or blob does not exist.
var ErrNotFound = errors.New("draft file not found")

// FileStore is the storage the ingester and listing code work against.
type FileStore interface {
	GetFileByContentHash(ctx context.Context, hash string) (*state.Blob, error)
	CreateFile(ctx context.Context, loc models.FileLocation, data []byte) (*models.StoredFile, error)
	LinkFile(ctx context.Context, loc models.FileLocation, hash string) (*models.StoredFile, error)
	ReadFile(ctx context.Context, f *models.StoredFile) ([]byte, error)
	GetFile(ctx context.Context, loc models.FileLocation) (*models.StoredFile, error)
	ListArea(ctx context.Context, username string, itemID int64) ([]models.StoredFile, error)
}

// ContentHash returns the sha1 hex digest used to address stored bytes.
func ContentHash(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// NormalizeFilename applies NFC normalization and rejects names that
// could escape the draft area.
func NormalizeFilename(name string) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))

	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("invalid filename %q", name)
	}

	if strings.ContainsAny(name, "/\\\x00") {
		return "", fmt.Errorf("filename %q contains a path separator", name)
	}

	return name, nil
}

// Store keeps draft records in the state database and file bytes under
// root, at root/ab/cd/<sha1>. A blob file is removed once no draft
// record points at it.
type Store struct {
	state  *state.State
	root   string
	now    func() time.Time
	logger *slog.Logger

	// mu serializes record changes with blob writes and removals.
	mu sync.Mutex
}

// NewStore creates a store writing blobs under root.
func NewStore(st *state.State, root string, logger *slog.Logger) *Store {
	return &Store{state: st, root: root, now: time.Now, logger: logger}
}

func (s *Store) blobPath(hash string) string {
	if len(hash) < 4 {
		return filepath.Join(s.root, hash)
	}

	return filepath.Join(s.root, hash[0:2], hash[2:4], hash)
}

// GetFileByContentHash returns the blob record for hash, or nil.
func (s *Store) GetFileByContentHash(_ context.Context, hash string) (*state.Blob, error) {
	b, err := s.state.GetBlob(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: reading blob record: %w", perrors.ErrStorage, err)
	}

	return b, nil
}

// CreateFile writes data and records it at loc, replacing any record
// already there.
func (s *Store) CreateFile(_ context.Context, loc models.FileLocation, data []byte) (*models.StoredFile, error) {
	loc, err := cleanLocation(loc)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hash := ContentHash(data)

	if err := s.writeBlob(hash, data); err != nil {
		return nil, fmt.Errorf("%w: %w", perrors.ErrStorage, err)
	}

	f := models.StoredFile{
		FileLocation: loc,
		ContentHash:  hash,
		Size:         int64(len(data)),
		MIMEType:     http.DetectContentType(data),
		TimeModified: s.now().Unix(),
	}

	if err := s.record(f); err != nil {
		return nil, err
	}

	return &f, nil
}

// LinkFile records loc as pointing at the existing blob hash without
// writing any bytes.
func (s *Store) LinkFile(_ context.Context, loc models.FileLocation, hash string) (*models.StoredFile, error) {
	loc, err := cleanLocation(loc)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.state.GetBlob(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: reading blob record: %w", perrors.ErrStorage, err)
	}

	if b == nil {
		return nil, fmt.Errorf("%w: blob %s: %w", perrors.ErrStorage, hash, ErrNotFound)
	}

	head, err := s.readHead(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", perrors.ErrStorage, err)
	}

	f := models.StoredFile{
		FileLocation: loc,
		ContentHash:  hash,
		Size:         b.Size,
		MIMEType:     http.DetectContentType(head),
		TimeModified: s.now().Unix(),
	}

	if err := s.record(f); err != nil {
		return nil, err
	}

	return &f, nil
}

// record stores f and removes blob files no record points at anymore.
// Callers hold mu.
func (s *Store) record(f models.StoredFile) error {
	released, err := s.state.PutDraft(f)
	if err != nil {
		return fmt.Errorf("%w: recording draft: %w", perrors.ErrStorage, err)
	}

	for _, hash := range released {
		if err := os.Remove(s.blobPath(hash)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing released blob",
				slog.String("hash", hash),
				slog.String("error", err.Error()),
			)

			continue
		}

		s.logger.Debug("blob released", slog.String("hash", hash))
	}

	return nil
}

// ReadFile returns the bytes behind f.
func (s *Store) ReadFile(_ context.Context, f *models.StoredFile) ([]byte, error) {
	data, err := os.ReadFile(s.blobPath(f.ContentHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("%w: reading blob %s: %w", perrors.ErrStorage, f.ContentHash, err)
	}

	return data, nil
}

// GetFile returns the record at loc, or nil.
func (s *Store) GetFile(_ context.Context, loc models.FileLocation) (*models.StoredFile, error) {
	loc, err := cleanLocation(loc)
	if err != nil {
		return nil, err
	}

	f, err := s.state.GetDraft(loc)
	if err != nil {
		return nil, fmt.Errorf("%w: reading draft: %w", perrors.ErrStorage, err)
	}

	return f, nil
}

// ListArea returns the records in one draft item, newest first.
func (s *Store) ListArea(_ context.Context, username string, itemID int64) ([]models.StoredFile, error) {
	files, err := s.state.DraftArea(username, itemID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing draft area: %w", perrors.ErrStorage, err)
	}

	return files, nil
}

// ItemExists reports whether any file lives under the draft item.
func (s *Store) ItemExists(username string, itemID int64) (bool, error) {
	return s.state.DraftItemExists(username, itemID)
}

// writeBlob stores data at its content address using a temp file and
// rename. Existing blobs are left alone.
func (s *Store) writeBlob(hash string, data []byte) error {
	path := s.blobPath(hash)

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, blobDirPerm); err != nil {
		return fmt.Errorf("creating blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Chmod(blobFilePerm); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("setting blob permissions: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming blob into place: %w", err)
	}

	s.logger.Debug("blob written", slog.String("hash", hash), slog.Int("size", len(data)))

	return nil
}

func (s *Store) readHead(hash string) ([]byte, error) {
	f, err := os.Open(s.blobPath(hash))
	if err != nil {
		return nil, fmt.Errorf("opening blob %s: %w", hash, err)
	}
	defer f.Close()

	head := make([]byte, 512)

	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading blob %s: %w", hash, err)
	}

	return head[:n], nil
}

func cleanLocation(loc models.FileLocation) (models.FileLocation, error) {
	name, err := NormalizeFilename(loc.Filename)
	if err != nil {
		return loc, err
	}

	loc.Filename = name

	if loc.FilePath == "" {
		loc.FilePath = RootPath
	}

	if loc.Username == "" {
		return loc, errors.New("draft location has no user")
	}

	return loc, nil
}
