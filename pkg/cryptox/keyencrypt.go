package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// MasterKeyEnv is consulted when no master key file has been configured.
const MasterKeyEnv = "AUTHORITY_MASTER_KEY"

const masterKeyInfo = "stsession signing-key encryption v1"

var (
	masterKeyOnce sync.Once
	masterKey     []byte
	masterKeyErr  error
	masterKeyPath string
)

// SetMasterKeyPath configures where to load the master encryption key from.
// Must be called before the first Encrypt/Decrypt.
func SetMasterKeyPath(path string) {
	masterKeyPath = path
}

// loadMasterKey reads key material from the configured file, then from
// MasterKeyEnv, and finally falls back to random bytes. The fallback means
// persisted keys will not decrypt after a restart.
func loadMasterKey() ([]byte, error) {
	var keyMaterial []byte

	switch {
	case masterKeyPath != "":
		data, err := os.ReadFile(masterKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read master key file: %w", err)
		}
		keyMaterial = data
	case os.Getenv(MasterKeyEnv) != "":
		keyMaterial = []byte(os.Getenv(MasterKeyEnv))
	default:
		keyMaterial = make([]byte, 32)
		if _, err := rand.Read(keyMaterial); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral master key: %w", err)
		}
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, keyMaterial, nil, []byte(masterKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}
	return key, nil
}

func getMasterKey() ([]byte, error) {
	masterKeyOnce.Do(func() {
		masterKey, masterKeyErr = loadMasterKey()
	})
	return masterKey, masterKeyErr
}

func newGCM() (cipher.AEAD, error) {
	key, err := getMasterKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get master key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptPrivateKey encrypts a PEM-encoded private key using AES-256-GCM.
// The output format is: [12-byte nonce][encrypted data][16-byte auth tag]
func EncryptPrivateKey(pemData []byte) ([]byte, error) {
	gcm, err := newGCM()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, pemData, nil), nil
}

// DecryptPrivateKey decrypts data encrypted with EncryptPrivateKey.
func DecryptPrivateKey(encryptedData []byte) ([]byte, error) {
	gcm, err := newGCM()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(encryptedData) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := encryptedData[:nonceSize], encryptedData[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}

// ResetMasterKeyForTesting resets the master key singleton. Tests only.
func ResetMasterKeyForTesting() {
	masterKeyOnce = sync.Once{}
	masterKey = nil
	masterKeyErr = nil
	masterKeyPath = ""
}
