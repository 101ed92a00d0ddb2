package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/pbkdf2"
)

// Encryption-key environment variables and defaults.
const (
	EnvEncryptionKey      = "VAPID_ENCRYPTION_KEY"
	EnvEncryptionPassword = "VAPID_ENCRYPTION_PASSWORD"
	EnvEncryptionSalt     = "VAPID_ENCRYPTION_SALT"
	EnvEncryptionKeyFile  = "VAPID_ENCRYPTION_KEY_FILE"

	DefaultEncryptionSalt  = "taskpulse-vapid-salt"
	DefaultEncryptedSuffix = "_ENCRYPTED"

	pbkdf2Iterations = 100000
	saltLen          = 16
)

// ErrNoEncryptionKey is returned when an encrypted secret exists but no key
// is configured.
var ErrNoEncryptionKey = errors.New("encryption key not configured: set " +
	EnvEncryptionKey + ", " + EnvEncryptionPassword + " or " + EnvEncryptionKeyFile)

// KeyConfig names where the Fernet key comes from. The first non-empty
// field wins: Key, then Password (PBKDF2), then KeyFile.
type KeyConfig struct {
	Key      string
	Password string
	Salt     string
	KeyFile  string
}

// KeyConfigFromEnv reads the VAPID_ENCRYPTION_* variables.
func KeyConfigFromEnv(lookup func(string) (string, bool)) KeyConfig {
	get := func(k string) string {
		v, _ := lookup(k)
		return v
	}
	return KeyConfig{
		Key:      get(EnvEncryptionKey),
		Password: get(EnvEncryptionPassword),
		Salt:     get(EnvEncryptionSalt),
		KeyFile:  get(EnvEncryptionKeyFile),
	}
}

// Configured reports whether any key source is set.
func (c KeyConfig) Configured() bool {
	return c.Key != "" || c.Password != "" || c.KeyFile != ""
}

// LoadKey returns the Fernet key described by c.
func (c KeyConfig) LoadKey() (*fernet.Key, error) {
	switch {
	case c.Key != "":
		k, err := fernet.DecodeKey(c.Key)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", EnvEncryptionKey, err)
		}
		return k, nil

	case c.Password != "":
		return DeriveKey(c.Password, c.Salt), nil

	case c.KeyFile != "":
		data, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", EnvEncryptionKeyFile, err)
		}
		k, err := fernet.DecodeKey(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode key file: %w", err)
		}
		return k, nil
	}
	return nil, ErrNoEncryptionKey
}

// DeriveKey derives a Fernet key from a password with PBKDF2-SHA256. Only
// the first 16 bytes of salt are used; an empty salt means the default.
func DeriveKey(password, salt string) *fernet.Key {
	if salt == "" {
		salt = DefaultEncryptionSalt
	}
	s := []byte(salt)
	if len(s) > saltLen {
		s = s[:saltLen]
	}
	var k fernet.Key
	copy(k[:], pbkdf2.Key([]byte(password), s, pbkdf2Iterations, len(k), sha256.New))
	return &k
}

// Encrypt seals plaintext as a Fernet token wrapped in URL-safe base64, the
// format stored in <NAME>_ENCRYPTED.
func Encrypt(plaintext string, key *fernet.Key) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return base64.URLEncoding.EncodeToString(tok), nil
}

// Decrypt reverses Encrypt. Tokens never expire.
func Decrypt(value string, key *fernet.Key) (string, error) {
	tok, err := base64.URLEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return "", fmt.Errorf("decode encrypted value: %w", err)
	}
	msg := fernet.VerifyAndDecrypt(tok, -1, []*fernet.Key{key})
	if msg == nil {
		return "", errors.New("decrypt: invalid token or wrong key")
	}
	return string(msg), nil
}

// EncryptedSource resolves NAME by decrypting NAME_ENCRYPTED found in the
// underlying sources.
type EncryptedSource struct {
	ciphertexts Chain
	suffix      string
	keys        KeyConfig
}

// NewEncryptedSource creates a source that reads ciphertexts from the given
// sources.
func NewEncryptedSource(keys KeyConfig, suffix string, ciphertexts ...Source) *EncryptedSource {
	if suffix == "" {
		suffix = DefaultEncryptedSuffix
	}
	return &EncryptedSource{ciphertexts: ciphertexts, suffix: suffix, keys: keys}
}

func (s *EncryptedSource) Name() string { return "encrypted" }

func (s *EncryptedSource) Lookup(ctx context.Context, name string) (string, bool, error) {
	var ct string
	for _, src := range s.ciphertexts {
		v, ok, err := src.Lookup(ctx, name+s.suffix)
		if err != nil {
			return "", false, err
		}
		if ok {
			ct = v
			break
		}
	}
	if ct == "" {
		return "", false, nil
	}

	key, err := s.keys.LoadKey()
	if err != nil {
		return "", false, err
	}
	plain, err := Decrypt(ct, key)
	if err != nil {
		return "", false, fmt.Errorf("%s%s: %w", name, s.suffix, err)
	}
	return plain, true, nil
}
