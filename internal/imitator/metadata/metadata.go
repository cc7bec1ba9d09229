// Package metadata persists a small string map as a JSON file: the Matrix
// session of the imitator account and the controller's claimed operator.
//
// A missing file reads as an empty map. Every write replaces the file
// atomically (temp file, fsync, rename) so a crash never leaves it torn.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bdobrica/Mimic/common/crypto"
)

// Well-known keys.
const (
	KeyOperatorID        = "operator_id"
	KeyMatrixUserID      = "matrix_user_id"
	KeyMatrixDeviceID    = "matrix_device_id"
	KeyMatrixAccessToken = "matrix_access_token"
)

// File is a JSON-backed string map. It is safe for concurrent use within one
// process; give each process its own file.
type File struct {
	path    string
	sealKey []byte
	mu      sync.Mutex
}

// Open returns a File at path. The file is not touched until first use.
func Open(path string) *File {
	return &File{path: path}
}

// SealWith makes UpdateSecrets encrypt values with key (see common/crypto).
func (f *File) SealWith(key []byte) {
	f.mu.Lock()
	f.sealKey = key
	f.mu.Unlock()
}

// Path returns the file location.
func (f *File) Path() string { return f.path }

// Load returns a copy of the whole map.
func (f *File) Load() (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

// Get returns the value for key and whether it is present.
func (f *File) Get(key string) (string, bool, error) {
	m, err := f.Load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

// Set stores one key.
func (f *File) Set(key, value string) error {
	return f.Update(map[string]string{key: value})
}

// Update merges values into the map in a single write.
func (f *File) Update(values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.read()
	if err != nil {
		return err
	}
	for k, v := range values {
		m[k] = v
	}
	return f.write(m)
}

// GetSecret is Get for values written by UpdateSecrets. A plaintext value is
// returned unchanged, so a seal key can be introduced on an existing file.
func (f *File) GetSecret(key string) (string, bool, error) {
	v, ok, err := f.Get(key)
	if err != nil || !ok || !crypto.IsSealed(v) {
		return v, ok, err
	}
	f.mu.Lock()
	sealKey := f.sealKey
	f.mu.Unlock()
	if sealKey == nil {
		return "", false, fmt.Errorf("metadata: %s is sealed but no key is configured", key)
	}
	plain, err := crypto.Open(sealKey, v)
	if err != nil {
		return "", false, fmt.Errorf("metadata: %s: %w", key, err)
	}
	return plain, true, nil
}

// UpdateSecrets is Update with every value sealed when a key is configured.
func (f *File) UpdateSecrets(values map[string]string) error {
	f.mu.Lock()
	sealKey := f.sealKey
	f.mu.Unlock()
	if sealKey == nil {
		return f.Update(values)
	}
	sealed := make(map[string]string, len(values))
	for k, v := range values {
		s, err := crypto.Seal(sealKey, v)
		if err != nil {
			return fmt.Errorf("metadata: seal %s: %w", k, err)
		}
		sealed[k] = s
	}
	return f.Update(sealed)
}

// Delete removes keys. Missing keys are ignored.
func (f *File) Delete(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, err := f.read()
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(m, k)
	}
	return f.write(m)
}

func (f *File) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metadata: read %s: %w", f.path, err)
	}
	m := map[string]string{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("metadata: decode %s: %w", f.path, err)
	}
	return m, nil
}

func (f *File) write(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("metadata: encode: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("metadata: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".metadata-*.tmp")
	if err != nil {
		return fmt.Errorf("metadata: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("metadata: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("metadata: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("metadata: close temp: %w", err)
	}
	// The file holds an access token.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("metadata: chmod: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("metadata: rename: %w", err)
	}
	return nil
}
