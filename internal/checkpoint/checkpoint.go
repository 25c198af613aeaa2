// Package checkpoint persists named intermediate state so an interrupted
// pipeline can resume. Each checkpoint is one file written atomically; a
// file that cannot be read back intact is treated as absent.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FormatVersion is the envelope layout version. Bump it when the envelope
// itself changes shape.
const FormatVersion = 1

const ext = ".ckpt"

type envelope struct {
	Version       int             `json:"version"`
	SchemaVersion string          `json:"schema_version"`
	Name          string          `json:"name"`
	SavedAt       time.Time       `json:"saved_at"`
	Checksum      string          `json:"checksum"`
	Payload       json.RawMessage `json:"payload"`
}

// Info describes a stored checkpoint.
type Info struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	SavedAt time.Time `json:"saved_at"`
	Valid   bool      `json:"valid"`
}

// Store is a directory of checkpoint files.
type Store struct {
	dir           string
	schemaVersion string
	locks         sync.Map // name -> *sync.Mutex
	log           *zap.Logger
}

// New returns a Store rooted at dir, creating it if needed. schemaVersion
// is stamped into every checkpoint; checkpoints written under another
// version are ignored on load.
func New(dir, schemaVersion string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "checkpoint: create dir")
	}
	return &Store{
		dir:           dir,
		schemaVersion: schemaVersion,
		log:           zap.L().With(zap.String("component", "checkpoint")),
	}, nil
}

// Dir returns the directory the store writes to.
func (s *Store) Dir() string { return s.dir }

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeName maps name onto the characters allowed in a checkpoint file
// name.
func SanitizeName(name string) string {
	n := unsafeChars.ReplaceAllString(name, "_")
	n = strings.TrimLeft(n, ".")
	if n == "" {
		n = "_"
	}
	return n
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, SanitizeName(name)+ext)
}

func (s *Store) lock(name string) func() {
	v, _ := s.locks.LoadOrStore(SanitizeName(name), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Save persists state under name. It is written to a temp file in the same
// directory, synced, then renamed over any previous checkpoint, so readers
// see either the old or the new state in full.
func (s *Store) Save(name string, state any) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return eris.Wrapf(err, "checkpoint: encode %s", name)
	}
	sum := sha256.Sum256(payload)
	data, err := json.Marshal(envelope{
		Version:       FormatVersion,
		SchemaVersion: s.schemaVersion,
		Name:          name,
		SavedAt:       time.Now().UTC(),
		Checksum:      hex.EncodeToString(sum[:]),
		Payload:       payload,
	})
	if err != nil {
		return eris.Wrapf(err, "checkpoint: encode envelope %s", name)
	}

	unlock := s.lock(name)
	defer unlock()

	dest := s.path(name)
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return eris.Wrapf(err, "checkpoint: create temp for %s", name)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return eris.Wrapf(err, "checkpoint: write %s", name)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return eris.Wrapf(err, "checkpoint: sync %s", name)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return eris.Wrapf(err, "checkpoint: close %s", name)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return eris.Wrapf(err, "checkpoint: rename %s", name)
	}

	s.log.Debug("checkpoint saved", zap.String("name", name), zap.Int("bytes", len(data)))
	return nil
}

// Load decodes the checkpoint name into dst and reports whether it did.
// Missing, unreadable, truncated, tampered and version-mismatched
// checkpoints all report false; everything but a missing file is logged.
// dst is left untouched unless Load returns true.
func (s *Store) Load(name string, dst any) bool {
	unlock := s.lock(name)
	data, err := os.ReadFile(s.path(name))
	unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	if err != nil {
		s.warn(name, "unreadable", err)
		return false
	}

	env, reason := s.open(data)
	if reason != "" {
		s.warn(name, reason, nil)
		return false
	}

	if err := decodeInto(env.Payload, dst); err != nil {
		s.warn(name, "payload does not match state type", err)
		return false
	}
	return true
}

// decodeInto decodes into a fresh value of dst's type and assigns it only
// on success.
func decodeInto(payload []byte, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return eris.New("checkpoint: destination must be a non-nil pointer")
	}
	fresh := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal(payload, fresh.Interface()); err != nil {
		return err
	}
	rv.Elem().Set(fresh.Elem())
	return nil
}

func (s *Store) open(data []byte) (*envelope, string) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "truncated or corrupt"
	}
	if env.Version != FormatVersion {
		return nil, "format version mismatch"
	}
	if env.SchemaVersion != s.schemaVersion {
		return nil, "schema version mismatch"
	}
	sum := sha256.Sum256(env.Payload)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, "checksum mismatch"
	}
	return &env, ""
}

func (s *Store) warn(name, reason string, err error) {
	fields := []zap.Field{zap.String("name", name), zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.log.Warn("ignoring checkpoint", fields...)
}

// Exists reports whether a checkpoint file is present for name. It does not
// validate the contents.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// Clear removes the checkpoint for name. Removing a missing checkpoint is
// not an error.
func (s *Store) Clear(name string) error {
	unlock := s.lock(name)
	defer unlock()
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "checkpoint: clear %s", name)
	}
	return nil
}

// ClearAll removes every checkpoint and returns how many were removed.
func (s *Store) ClearAll() (int, error) {
	infos, err := s.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, info := range infos {
		if err := s.Clear(info.Name); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// List returns every stored checkpoint sorted by name. Names are the
// sanitized file names.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: list")
	}
	var out []Info
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		info := Info{Name: strings.TrimSuffix(e.Name(), ext)}
		if fi, err := e.Info(); err == nil {
			info.Size = fi.Size()
		}
		if data, err := os.ReadFile(filepath.Join(s.dir, e.Name())); err == nil {
			if env, reason := s.open(data); reason == "" {
				info.SavedAt = env.SavedAt
				info.Valid = true
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
