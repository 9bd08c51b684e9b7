package vault_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/browserd/browserd/internal/vault"
)

func TestGenerateRetrieveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	v := vault.Open(path)

	password, err := v.Generate("s1", "https://www.foo.com/login", "a@b.com")
	if err != nil {
		t.Fatalf("Failed to generate credentials: %v", err)
	}
	if len(password) != vault.PasswordLength {
		t.Errorf("Expected password length %d, got %d", vault.PasswordLength, len(password))
	}

	// Retrieve with the already-normalized form of the same website
	cred, err := v.Retrieve("s1", "foo.com", "a@b.com")
	if err != nil {
		t.Fatalf("Failed to retrieve credentials: %v", err)
	}
	if cred.Password != password {
		t.Errorf("Expected password %q, got %q", password, cred.Password)
	}
	if cred.Email != "a@b.com" {
		t.Errorf("Expected email a@b.com, got %q", cred.Email)
	}
}

func TestRetrieveMissing(t *testing.T) {
	v := vault.Open(filepath.Join(t.TempDir(), "credentials.json"))

	_, err := v.Retrieve("s1", "unknown.com", "a@b.com")
	if !errors.Is(err, vault.ErrCredentialNotFound) {
		t.Errorf("Expected ErrCredentialNotFound, got %v", err)
	}
}

func TestRetrieveWrongSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	v := vault.Open(path)

	if _, err := v.Generate("s1", "foo.com", "a@b.com"); err != nil {
		t.Fatalf("Failed to generate credentials: %v", err)
	}

	// Same website and email under a different session must not match
	_, err := v.Retrieve("s2", "foo.com", "a@b.com")
	if !errors.Is(err, vault.ErrCredentialNotFound) {
		t.Errorf("Expected ErrCredentialNotFound, got %v", err)
	}
}

func TestGenerateOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	v := vault.Open(path)

	first, err := v.Generate("s1", "foo.com", "a@b.com")
	if err != nil {
		t.Fatalf("Failed to generate credentials: %v", err)
	}
	second, err := v.Generate("s1", "foo.com", "a@b.com")
	if err != nil {
		t.Fatalf("Failed to regenerate credentials: %v", err)
	}
	if first == second {
		t.Errorf("Expected a fresh password on regeneration")
	}

	cred, err := v.Retrieve("s1", "foo.com", "a@b.com")
	if err != nil {
		t.Fatalf("Failed to retrieve credentials: %v", err)
	}
	if cred.Password != second {
		t.Errorf("Expected last-written password to win")
	}
}

func TestNormalizeWebsite(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://www.example.com/login", "example.com"},
		{"http://example.com/a/b", "example.com"},
		{"www.example.com", "example.com"},
		{"example.com", "example.com"},
		{"  https://example.com  ", "example.com"},
	}

	for _, tc := range cases {
		if got := vault.NormalizeWebsite(tc.in); got != tc.want {
			t.Errorf("NormalizeWebsite(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestGeneratePasswordClasses(t *testing.T) {
	var letters, digits, punct int

	// Class presence is statistical across many generations, not per
	// password.
	for i := 0; i < 50; i++ {
		p, err := vault.GeneratePassword(vault.PasswordLength)
		if err != nil {
			t.Fatalf("Failed to generate password: %v", err)
		}
		if len(p) != vault.PasswordLength {
			t.Fatalf("Expected length %d, got %d", vault.PasswordLength, len(p))
		}
		for _, r := range p {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
				letters++
			case r >= '0' && r <= '9':
				digits++
			case strings.ContainsRune("!@#$%^&*", r):
				punct++
			default:
				t.Fatalf("Password contains unexpected character %q", r)
			}
		}
	}

	if letters == 0 || digits == 0 || punct == 0 {
		t.Errorf("Expected all character classes across 50 passwords, got letters=%d digits=%d punct=%d", letters, digits, punct)
	}
}

func TestVaultReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	v := vault.Open(path)
	password, err := v.Generate("s1", "foo.com", "a@b.com")
	if err != nil {
		t.Fatalf("Failed to generate credentials: %v", err)
	}

	// A fresh vault on the same path must see the persisted record
	reopened := vault.Open(path)
	cred, err := reopened.Retrieve("s1", "foo.com", "a@b.com")
	if err != nil {
		t.Fatalf("Failed to retrieve after reload: %v", err)
	}
	if cred.Password != password {
		t.Errorf("Expected persisted password %q, got %q", password, cred.Password)
	}
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}

	v := vault.Open(path)
	if _, err := v.Retrieve("s1", "foo.com", "a@b.com"); !errors.Is(err, vault.ErrCredentialNotFound) {
		t.Errorf("Expected empty vault after corrupt file, got %v", err)
	}

	// The vault must still accept writes
	if _, err := v.Generate("s1", "foo.com", "a@b.com"); err != nil {
		t.Fatalf("Failed to generate after corrupt load: %v", err)
	}
}
