package metadata_test

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bdobrica/Mimic/common/crypto"
	"github.com/bdobrica/Mimic/internal/imitator/metadata"
)

func TestMissingFileIsEmpty(t *testing.T) {
	f := metadata.Open(filepath.Join(t.TempDir(), "none.json"))
	m, err := f.Load()
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || len(m) != 0 {
		t.Errorf("Load = %v", m)
	}
	if _, ok, _ := f.Get(metadata.KeyOperatorID); ok {
		t.Error("Get on missing file reported a value")
	}
}

func TestSetGetUpdateDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	f := metadata.Open(path)

	if err := f.Set(metadata.KeyOperatorID, "@op:example.org"); err != nil {
		t.Fatal(err)
	}
	if err := f.Update(map[string]string{
		metadata.KeyMatrixDeviceID:    "DEV",
		metadata.KeyMatrixAccessToken: "syt_x",
	}); err != nil {
		t.Fatal(err)
	}

	// A fresh handle sees the persisted values.
	m, err := metadata.Open(path).Load()
	if err != nil {
		t.Fatal(err)
	}
	if m[metadata.KeyOperatorID] != "@op:example.org" || m[metadata.KeyMatrixDeviceID] != "DEV" || m[metadata.KeyMatrixAccessToken] != "syt_x" {
		t.Errorf("persisted map = %v", m)
	}

	if err := f.Delete(metadata.KeyMatrixAccessToken, "absent"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := f.Get(metadata.KeyMatrixAccessToken); ok {
		t.Error("key survived Delete")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o", perm)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

func TestCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := metadata.Open(path).Load(); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	f := metadata.Open(filepath.Join(t.TempDir(), "m.json"))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := f.Set(string(rune('a'+i)), "v"); err != nil {
				t.Errorf("Set: %v", err)
			}
		}(i)
	}
	wg.Wait()
	m, _ := f.Load()
	if len(m) != 20 {
		t.Errorf("lost updates: %d keys", len(m))
	}
}

func TestSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	key, err := crypto.ParseKey(strings.Repeat("11", crypto.KeySize))
	if err != nil {
		t.Fatal(err)
	}

	plainFile := metadata.Open(path)
	if err := plainFile.UpdateSecrets(map[string]string{metadata.KeyMatrixAccessToken: "syt_plain"}); err != nil {
		t.Fatal(err)
	}

	f := metadata.Open(path)
	f.SealWith(key)
	// A value written before the key was configured still reads back.
	if v, ok, err := f.GetSecret(metadata.KeyMatrixAccessToken); err != nil || !ok || v != "syt_plain" {
		t.Fatalf("GetSecret plaintext = %q %v %v", v, ok, err)
	}

	if err := f.UpdateSecrets(map[string]string{metadata.KeyMatrixAccessToken: "syt_sealed"}); err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(path)
	if strings.Contains(string(raw), "syt_sealed") {
		t.Fatal("secret stored in plaintext")
	}
	if v, ok, err := f.GetSecret(metadata.KeyMatrixAccessToken); err != nil || !ok || v != "syt_sealed" {
		t.Errorf("GetSecret sealed = %q %v %v", v, ok, err)
	}
	if _, _, err := metadata.Open(path).GetSecret(metadata.KeyMatrixAccessToken); err == nil {
		t.Error("reading a sealed value without a key succeeded")
	}
}
