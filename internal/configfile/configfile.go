package configfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

var (
	ErrKeyExists   = errors.New("configfile: key already exists")
	ErrKeyNotFound = errors.New("configfile: key not found")
	ErrNotLoaded   = errors.New("configfile: no file loaded")
)

// File is a JSON document of top-level keyed segments backed by a file on disk.
// Reads always reflect the latest Create/Update in this process. Nothing is written
// to disk until Save is called.
type File struct {
	mu    sync.RWMutex
	path  string
	data  []byte
	dirty bool
}

func New() *File {
	return &File{data: []byte("{}")}
}

// Load reads the document at path. A missing file yields an empty document that
// Save will create.
func (f *File) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		data = []byte("{}")
	}

	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return fmt.Errorf("load %s: not a JSON object", path)
	}

	f.mu.Lock()
	f.path = path
	f.data = data
	f.dirty = false
	f.mu.Unlock()

	return nil
}

// Path returns the file the document was loaded from.
func (f *File) Path() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.path
}

// Empty reports whether the document has no keys.
func (f *File) Empty() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	empty := true
	gjson.ParseBytes(f.data).ForEach(func(_, _ gjson.Result) bool {
		empty = false
		return false
	})
	return empty
}

// Read returns the segment stored under key. The result does not exist when the
// key is absent.
func (f *File) Read(key string) gjson.Result {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return gjson.GetBytes(f.data, escape(key))
}

// Has reports whether key is present.
func (f *File) Has(key string) bool {
	return f.Read(key).Exists()
}

// Decode unmarshals the segment stored under key into v and reports whether the
// key was present.
func (f *File) Decode(key string, v any) (bool, error) {
	res := f.Read(key)
	if !res.Exists() {
		return false, nil
	}

	if err := json.Unmarshal([]byte(res.Raw), v); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}

	return true, nil
}

// Create adds a new segment. It fails with ErrKeyExists if key is already present.
func (f *File) Create(key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if gjson.GetBytes(f.data, escape(key)).Exists() {
		return fmt.Errorf("create %q: %w", key, ErrKeyExists)
	}
	return f.set(key, value)
}

// Update replaces an existing segment. It fails with ErrKeyNotFound if key is absent.
func (f *File) Update(key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !gjson.GetBytes(f.data, escape(key)).Exists() {
		return fmt.Errorf("update %q: %w", key, ErrKeyNotFound)
	}
	return f.set(key, value)
}

func (f *File) set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	data, err := sjson.SetRawBytes(f.data, escape(key), raw)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	f.data = data
	f.dirty = true
	return nil
}

// Dirty reports whether there are changes that have not been saved.
func (f *File) Dirty() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dirty
}

// Save flushes the document to the loaded path through a temp file and rename.
func (f *File) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.path == "" {
		return ErrNotLoaded
	}

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("save %s: %w", f.path, err)
		}
	}

	tempFile := f.path + ".tmp"
	if err := os.WriteFile(tempFile, pretty.Pretty(f.data), 0o644); err != nil {
		return fmt.Errorf("save %s: %w", f.path, err)
	}

	if err := os.Rename(tempFile, f.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("save %s: %w", f.path, err)
	}

	f.dirty = false
	return nil
}

// escape turns a literal key into a single-component gjson/sjson path.
func escape(key string) string {
	if !strings.ContainsAny(key, `.*?|#@\!:`) {
		return key
	}

	var sb strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', ':':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
