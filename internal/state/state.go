package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the data directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	// The token bucket holds live vendor bearer tokens.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	tokensBucket = []byte("tokens")
	blobsBucket  = []byte("blobs")
	draftsBucket = []byte("drafts")
)

// TokenKey builds the cache key for a vendor server and API user.
func TokenKey(server, apiUser string) string {
	return server + "|" + apiUser
}

// draftKey orders records by user, then item, then path and name, so a
// prefix scan returns one draft area.
func draftKey(loc models.FileLocation) []byte {
	return []byte(draftPrefix(loc.Username, loc.ItemID) + loc.FilePath + loc.Filename)
}

func draftPrefix(username string, itemID int64) string {
	return username + "\x00" + strconv.FormatInt(itemID, 10) + "\x00"
}

// Blob records content stored in the file store. Refs counts the draft
// records pointing at it.
type Blob struct {
	Hash    string `json:"hash"`
	Size    int64  `json:"size"`
	Refs    int    `json:"refs"`
	Created int64  `json:"created"`
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. All buckets are created on open.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{tokensBucket, blobsBucket, draftsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// GetToken returns the cached token for key, or nil if none.
func (s *State) GetToken(key string) (*models.Token, error) {
	var tok *models.Token

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(tokensBucket).Get([]byte(key))
		if v == nil {
			return nil
		}

		tok = &models.Token{}

		return json.Unmarshal(v, tok)
	})

	return tok, err
}

// SaveToken replaces the cached token for key.
func (s *State) SaveToken(key string, tok models.Token) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(tok)
		if err != nil {
			return err
		}

		return tx.Bucket(tokensBucket).Put([]byte(key), data)
	})
}

// GetBlob returns the blob record for a content hash, or nil.
func (s *State) GetBlob(hash string) (*Blob, error) {
	var b *Blob

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blobsBucket).Get([]byte(hash))
		if v == nil {
			return nil
		}

		b = &Blob{}

		return json.Unmarshal(v, b)
	})

	return b, err
}

// PutDraft stores a draft record and bumps the reference count of its
// blob, creating the blob record when it is new. Replacing an existing
// record at the same location releases the old blob reference. It
// returns the hashes of blobs left with no references; their records
// are removed.
func (s *State) PutDraft(f models.StoredFile) ([]string, error) {
	var released []string

	err := s.db.Update(func(tx *bolt.Tx) error {
		drafts := tx.Bucket(draftsBucket)
		blobs := tx.Bucket(blobsBucket)
		key := draftKey(f.FileLocation)

		if old := drafts.Get(key); old != nil {
			var prev models.StoredFile
			if err := json.Unmarshal(old, &prev); err != nil {
				return err
			}

			if prev.ContentHash == f.ContentHash {
				data, err := json.Marshal(f)
				if err != nil {
					return err
				}

				return drafts.Put(key, data)
			}

			gone, err := adjustRefs(blobs, prev.ContentHash, -1, prev.Size, f.TimeModified)
			if err != nil {
				return err
			}

			if gone {
				released = append(released, prev.ContentHash)
			}
		}

		if _, err := adjustRefs(blobs, f.ContentHash, 1, f.Size, f.TimeModified); err != nil {
			return err
		}

		data, err := json.Marshal(f)
		if err != nil {
			return err
		}

		return drafts.Put(key, data)
	})
	if err != nil {
		return nil, err
	}

	return released, nil
}

// adjustRefs applies delta to the blob's reference count. gone is true
// when the count reached zero and the record was deleted.
func adjustRefs(blobs *bolt.Bucket, hash string, delta int, size, now int64) (gone bool, err error) {
	var b Blob

	if v := blobs.Get([]byte(hash)); v != nil {
		if err := json.Unmarshal(v, &b); err != nil {
			return false, err
		}
	} else {
		if delta < 0 {
			return false, nil
		}

		b = Blob{Hash: hash, Size: size, Created: now}
	}

	b.Refs += delta
	if b.Refs <= 0 {
		return true, blobs.Delete([]byte(hash))
	}

	data, err := json.Marshal(b)
	if err != nil {
		return false, err
	}

	return false, blobs.Put([]byte(hash), data)
}

// GetDraft returns the draft record at loc, or nil.
func (s *State) GetDraft(loc models.FileLocation) (*models.StoredFile, error) {
	var f *models.StoredFile

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(draftsBucket).Get(draftKey(loc))
		if v == nil {
			return nil
		}

		f = &models.StoredFile{}

		return json.Unmarshal(v, f)
	})

	return f, err
}

// DraftArea returns every record in one user's draft item, newest first.
func (s *State) DraftArea(username string, itemID int64) ([]models.StoredFile, error) {
	prefix := []byte(draftPrefix(username, itemID))

	var files []models.StoredFile

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(draftsBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var f models.StoredFile
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}

			files = append(files, f)
		}

		return nil
	})

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].TimeModified > files[j].TimeModified
	})

	return files, err
}

// DraftItemExists reports whether any record exists under the draft item.
func (s *State) DraftItemExists(username string, itemID int64) (bool, error) {
	prefix := []byte(draftPrefix(username, itemID))
	found := false

	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(draftsBucket).Cursor().Seek(prefix)
		found = k != nil && strings.HasPrefix(string(k), string(prefix))

		return nil
	})

	return found, err
}
