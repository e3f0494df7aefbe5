// Package creds persists the signed-in member's bearer token and
// identity between launches, encrypted at rest with a machine-bound key.
package creds

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const credentialsFile = "credentials.json"

var keySalt = []byte("psnchat.credentials.v1")

// ErrNoCredentials is returned when no credentials are stored for the profile.
var ErrNoCredentials = errors.New("creds: no stored credentials")

// Credentials is the persisted login state: the REST/socket bearer token
// plus the local member's identity.
type Credentials struct {
	Token      string `json:"token"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// Store reads and writes credentials for one named profile.
type Store struct {
	profile string
	baseDir string
}

// NewStore returns a store rooted at ~/.config/psnchat.
func NewStore(profile string) *Store {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Store{profile: profile, baseDir: filepath.Join(home, ".config", "psnchat")}
}

// NewStoreAt roots the store at an explicit directory.
func NewStoreAt(baseDir, profile string) *Store {
	return &Store{profile: profile, baseDir: baseDir}
}

func (s *Store) dir() string {
	return filepath.Join(s.baseDir, s.profile)
}

func (s *Store) path() string {
	return filepath.Join(s.dir(), credentialsFile)
}

// Load returns the stored credentials, or ErrNoCredentials when absent.
// Plaintext files from older versions are re-encrypted in place.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		return nil, ErrNoCredentials
	}

	decrypted, err := decrypt(string(data))
	if err != nil {
		var c Credentials
		if jsonErr := json.Unmarshal(data, &c); jsonErr == nil && c.Token != "" {
			_ = s.Save(c)
			return &c, nil
		}
		return nil, fmt.Errorf("creds: decrypt: %w", err)
	}

	var c Credentials
	if err := json.Unmarshal(decrypted, &c); err != nil {
		return nil, fmt.Errorf("creds: parse: %w", err)
	}
	return &c, nil
}

// BearerToken returns the stored token, satisfying the token-source
// contract of the socket and rest packages.
func (s *Store) BearerToken() (string, error) {
	c, err := s.Load()
	if err != nil {
		return "", err
	}
	return c.Token, nil
}

// Save encrypts and writes the credentials for this profile.
func (s *Store) Save(c Credentials) error {
	if err := os.MkdirAll(s.dir(), 0700); err != nil {
		return err
	}

	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	encrypted, err := encrypt(data)
	if err != nil {
		return err
	}

	return os.WriteFile(s.path(), []byte(encrypted), 0600)
}

// Clear removes the stored credentials, if any.
func (s *Store) Clear() {
	os.Remove(s.path())
}

func encryptionKey() []byte {
	paths := []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}
	var id string
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err == nil {
			id = strings.TrimSpace(string(data))
			break
		}
	}

	if id == "" {
		hostname, _ := os.Hostname()
		id = hostname
	}

	return pbkdf2.Key([]byte(id), keySalt, 4096, 32, sha256.New)
}

func encrypt(data []byte) (string, error) {
	block, err := aes.NewCipher(encryptionKey())
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, data, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func decrypt(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encryptionKey())
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
