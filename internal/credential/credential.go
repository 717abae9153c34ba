// Package credential persists the device pairing credential — the
// peripheral identifier plus the serial secret — under app-private
// storage. The record is sealed with AES-256-GCM; the sealing key is
// derived with HKDF-SHA256 from a random master key generated on first
// save.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
	"gopkg.in/yaml.v3"

	"github.com/Hyunsookm/VisionWalkHelper/internal/ble"
)

const (
	credentialFile = "credential.bin"
	keyFile        = "credential.key"
)

// hkdfInfo binds the derived key to this use.
var hkdfInfo = []byte("visionwalkhelper pairing credential v1")

// Store reads and writes the pairing credential in the given directory.
type Store struct {
	dir string
}

// NewStore creates a credential store rooted at dir. The directory is
// created on first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// DefaultDir returns the default credential directory path.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "visionwalkhelper")
}

type credentialRecord struct {
	DeviceID string `yaml:"device_id"`
	Serial   string `yaml:"serial"`
}

// Load returns the stored credential, or nil when none has been saved.
func (s *Store) Load() (*ble.Credential, error) {
	sealed, err := os.ReadFile(filepath.Join(s.dir, credentialFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credential: read: %w", err)
	}

	key, err := s.sealingKey(false)
	if err != nil {
		return nil, err
	}

	plain, err := open(key, sealed)
	if err != nil {
		return nil, fmt.Errorf("credential: unseal: %w", err)
	}

	var rec credentialRecord
	if err := yaml.Unmarshal(plain, &rec); err != nil {
		return nil, fmt.Errorf("credential: parse: %w", err)
	}
	if rec.DeviceID == "" || rec.Serial == "" {
		return nil, fmt.Errorf("credential: stored record is incomplete")
	}
	return &ble.Credential{DeviceID: rec.DeviceID, Serial: rec.Serial}, nil
}

// Save persists the credential, replacing any previous one.
func (s *Store) Save(c ble.Credential) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("credential: create dir: %w", err)
	}

	plain, err := yaml.Marshal(credentialRecord{DeviceID: c.DeviceID, Serial: c.Serial})
	if err != nil {
		return fmt.Errorf("credential: marshal: %w", err)
	}

	key, err := s.sealingKey(true)
	if err != nil {
		return err
	}

	sealed, err := seal(key, plain)
	if err != nil {
		return fmt.Errorf("credential: seal: %w", err)
	}

	if err := os.WriteFile(filepath.Join(s.dir, credentialFile), sealed, 0o600); err != nil {
		return fmt.Errorf("credential: write: %w", err)
	}
	return nil
}

// Clear removes the stored credential. Clearing an empty store is a no-op.
func (s *Store) Clear() error {
	err := os.Remove(filepath.Join(s.dir, credentialFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("credential: clear: %w", err)
	}
	return nil
}

// sealingKey derives the AES-256 key from the master key file,
// generating the master key when create is set and none exists yet.
func (s *Store) sealingKey(create bool) ([]byte, error) {
	path := filepath.Join(s.dir, keyFile)
	master, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && create {
		master = make([]byte, 32)
		if _, err := rand.Read(master); err != nil {
			return nil, fmt.Errorf("credential: generate master key: %w", err)
		}
		if err := os.WriteFile(path, master, 0o600); err != nil {
			return nil, fmt.Errorf("credential: write master key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("credential: read master key: %w", err)
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, master, nil, hkdfInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("credential: derive key: %w", err)
	}
	return key, nil
}

// seal encrypts plaintext with AES-256-GCM, prepending the nonce.
func seal(key, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

// open reverses seal.
func open(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("sealed record too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Compile-time check that Store implements ble.CredentialStore.
var _ ble.CredentialStore = (*Store)(nil)
