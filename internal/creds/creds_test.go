package creds

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	originalData := "This is a secret token"

	encrypted, err := encrypt([]byte(originalData))
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}

	if encrypted == "" {
		t.Fatal("Encrypted string is empty")
	}

	decrypted, err := decrypt(encrypted)
	if err != nil {
		t.Fatalf("Failed to decrypt: %v", err)
	}

	if string(decrypted) != originalData {
		t.Errorf("Expected %q, got %q", originalData, string(decrypted))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewStoreAt(t.TempDir(), "default")

	original := Credentials{
		Token:    "jwt-abc123",
		UserID:   "u42",
		UserName: "Dr. Santos",
	}

	if err := store.Save(original); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	if *loaded != original {
		t.Errorf("Expected %+v, got %+v", original, *loaded)
	}

	token, err := store.BearerToken()
	if err != nil {
		t.Fatalf("BearerToken: %v", err)
	}
	if token != "jwt-abc123" {
		t.Errorf("BearerToken = %q", token)
	}
}

func TestLoadMissing(t *testing.T) {
	store := NewStoreAt(t.TempDir(), "default")
	if _, err := store.Load(); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("err = %v, want ErrNoCredentials", err)
	}
}

func TestLoadLegacyPlaintext(t *testing.T) {
	base := t.TempDir()
	store := NewStoreAt(base, "default")

	legacy := Credentials{Token: "plain-token", UserID: "u1", UserName: "Ana"}
	data, _ := json.Marshal(legacy)
	dir := filepath.Join(base, "default")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, credentialsFile), data, 0600); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Failed to load legacy file: %v", err)
	}
	if *loaded != legacy {
		t.Errorf("Expected %+v, got %+v", legacy, *loaded)
	}

	// The file should now be encrypted in place.
	raw, err := os.ReadFile(filepath.Join(dir, credentialsFile))
	if err != nil {
		t.Fatal(err)
	}
	var probe Credentials
	if json.Unmarshal(raw, &probe) == nil && probe.Token != "" {
		t.Error("legacy file was not re-encrypted")
	}

	if _, err := store.Load(); err != nil {
		t.Fatalf("Failed to load re-encrypted file: %v", err)
	}
}

func TestClear(t *testing.T) {
	store := NewStoreAt(t.TempDir(), "default")
	if err := store.Save(Credentials{Token: "x", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	store.Clear()
	if _, err := store.Load(); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("err = %v, want ErrNoCredentials after Clear", err)
	}
}
