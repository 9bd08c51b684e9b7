// Package vault stores generated account credentials keyed by session,
// website, and email, backed by a single JSON snapshot on disk.
package vault

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// PasswordLength is the default length for generated passwords.
const PasswordLength = 16

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"

// ErrCredentialNotFound is returned when no record exists for the
// requested (session, website, email) triple.
var ErrCredentialNotFound = errors.New("credential not found")

// Credential is one stored account record.
type Credential struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Vault holds credentials in memory and writes the full snapshot to
// disk on every mutation.
type Vault struct {
	mu      sync.RWMutex
	path    string
	records map[string]map[string]map[string]Credential // session -> website -> email
}

// Open loads the vault snapshot at path. A missing or corrupt file is
// treated as an empty vault, never a startup failure.
func Open(path string) *Vault {
	v := &Vault{
		path:    path,
		records: make(map[string]map[string]map[string]Credential),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: could not read vault file %s: %v", path, err)
		}
		return v
	}

	if err := json.Unmarshal(data, &v.records); err != nil {
		log.Printf("Warning: vault file %s is corrupt, starting empty: %v", path, err)
		v.records = make(map[string]map[string]map[string]Credential)
		return v
	}

	log.Printf("Loaded credential vault from %s", path)
	return v
}

// NormalizeWebsite strips the scheme, a leading www. prefix, and any
// path so https://www.example.com/login and example.com collide to the
// same key.
func NormalizeWebsite(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}
	return s
}

// GeneratePassword returns a random password of the given length drawn
// from letters, digits, and a fixed punctuation set, using a secrets
// quality random source.
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		length = PasswordLength
	}

	max := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}

// Generate creates a fresh password for the triple, stores it with
// last-write-wins semantics, and persists the whole vault before
// returning. The website is normalized before use as a key.
func (v *Vault) Generate(sessionID, website, email string) (string, error) {
	password, err := GeneratePassword(PasswordLength)
	if err != nil {
		return "", err
	}

	site := NormalizeWebsite(website)

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.records[sessionID] == nil {
		v.records[sessionID] = make(map[string]map[string]Credential)
	}
	if v.records[sessionID][site] == nil {
		v.records[sessionID][site] = make(map[string]Credential)
	}
	v.records[sessionID][site][email] = Credential{Email: email, Password: password}

	if err := v.persistLocked(); err != nil {
		return "", fmt.Errorf("failed to persist vault: %w", err)
	}
	return password, nil
}

// Retrieve returns the stored credential for the triple, or
// ErrCredentialNotFound. The website is normalized before lookup.
func (v *Vault) Retrieve(sessionID, website, email string) (Credential, error) {
	site := NormalizeWebsite(website)

	v.mu.RLock()
	defer v.mu.RUnlock()

	cred, ok := v.records[sessionID][site][email]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return cred, nil
}

// persistLocked writes the full snapshot. Callers must hold v.mu.
func (v *Vault) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(v.path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v.records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(v.path, data, 0600)
}
