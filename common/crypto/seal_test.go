package crypto_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/bdobrica/Mimic/common/crypto"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.ParseKey(strings.Repeat("ab", crypto.KeySize))
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	return key
}

func TestSealOpen(t *testing.T) {
	key := testKey(t)
	sealed, err := crypto.Seal(key, "syt_access_token")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !crypto.IsSealed(sealed) || strings.Contains(sealed, "syt_access_token") {
		t.Fatalf("sealed = %q", sealed)
	}
	got, err := crypto.Open(key, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != "syt_access_token" {
		t.Errorf("Open = %q", got)
	}
}

func TestSeal_NonDeterministic(t *testing.T) {
	key := testKey(t)
	a, _ := crypto.Seal(key, "same")
	b, _ := crypto.Seal(key, "same")
	if a == b {
		t.Error("two seals of the same plaintext are identical")
	}
}

func TestOpen_WrongKey(t *testing.T) {
	sealed, _ := crypto.Seal(testKey(t), "secret")
	other, _ := crypto.ParseKey(strings.Repeat("cd", crypto.KeySize))
	if _, err := crypto.Open(other, sealed); err == nil {
		t.Error("Open with the wrong key succeeded")
	}
}

func TestOpen_Malformed(t *testing.T) {
	key := testKey(t)
	for _, in := range []string{"plain", "sealed:v1:!!!", "sealed:v1:AAAA"} {
		if _, err := crypto.Open(key, in); !errors.Is(err, crypto.ErrMalformed) {
			t.Errorf("Open(%q) err = %v, want ErrMalformed", in, err)
		}
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid", strings.Repeat("0f", 32), false},
		{"surrounding space", "  " + strings.Repeat("0f", 32) + "\n", false},
		{"empty", "", true},
		{"not hex", strings.Repeat("zz", 32), true},
		{"short", "abcd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := crypto.ParseKey(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
	if _, err := crypto.Seal([]byte("short"), "x"); !errors.Is(err, crypto.ErrInvalidKeySize) {
		t.Errorf("Seal with short key err = %v", err)
	}
}
