package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fernet/fernet-go"
	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianly1003/taskpulse/internal/domain"
)

func TestSecret_NeverFormatsValue(t *testing.T) {
	s := New("super-private-key")

	assert.Equal(t, "super-private-key", s.Reveal())
	for _, got := range []string{
		s.String(),
		fmt.Sprint(s),
		fmt.Sprintf("%v %+v %#v %s %q %x", s, s, s, s, s, s),
		fmt.Sprintf("%v", struct{ Key Secret }{s}),
	} {
		assert.NotContains(t, got, "super-private-key")
		assert.Contains(t, got, "[REDACTED]")
	}

	b, err := json.Marshal(map[string]Secret{"key": s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(b))

	var buf []byte
	logger := zerolog.New(&sliceWriter{&buf})
	logger.Info().Interface("key", s).Stringer("k2", s).Msg("x")
	assert.NotContains(t, string(buf), "super-private-key")

	assert.True(t, Secret{}.IsZero())
	assert.False(t, s.IsZero())
}

type sliceWriter struct{ b *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.b = append(*w.b, p...)
	return len(p), nil
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vapid_private_key"), []byte("from-file\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"), []byte("  \n"), 0o600))

	src := NewFileSource(dir)
	ctx := context.Background()

	v, ok, err := src.Lookup(ctx, "VAPID_PRIVATE_KEY")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-file", v)

	_, ok, err = src.Lookup(ctx, "EMPTY")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = src.Lookup(ctx, "MISSING")
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingSource struct{}

func (failingSource) Name() string { return "broken" }

func (failingSource) Lookup(context.Context, string) (string, bool, error) {
	return "", false, errors.New("unreachable")
}

func TestChain_Order(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jwt_secret"), []byte("file-value"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "only_file"), []byte("file-only"), 0o600))

	chain := Chain{
		NewMapSource(map[string]string{"JWT_SECRET": "env-value", "BLANK": ""}),
		failingSource{},
		NewFileSource(dir),
	}
	ctx := context.Background()

	s, err := chain.Resolve(ctx, "JWT_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "env-value", s.Reveal())

	s, err = chain.Resolve(ctx, "ONLY_FILE")
	require.NoError(t, err)
	assert.Equal(t, "file-only", s.Reveal(), "a failing source is skipped")

	_, err = chain.Resolve(ctx, "BLANK")
	assert.ErrorIs(t, err, domain.ErrSecretNotFound)

	_, err = Chain{NewMapSource(nil)}.Resolve(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrSecretNotFound)
}

func TestEncryptDecrypt(t *testing.T) {
	var key fernet.Key
	require.NoError(t, key.Generate())

	ct, err := Encrypt("vapid-private", &key)
	require.NoError(t, err)
	assert.NotContains(t, ct, "vapid-private")

	pt, err := Decrypt(ct, &key)
	require.NoError(t, err)
	assert.Equal(t, "vapid-private", pt)

	var other fernet.Key
	require.NoError(t, other.Generate())
	_, err = Decrypt(ct, &other)
	assert.Error(t, err)

	_, err = Decrypt("!!!not-base64", &key)
	assert.Error(t, err)
}

func TestDeriveKey(t *testing.T) {
	a := DeriveKey("hunter2", "")
	b := DeriveKey("hunter2", DefaultEncryptionSalt)
	assert.Equal(t, *a, *b, "empty salt uses the default")

	// Only the first 16 bytes of the salt matter.
	c := DeriveKey("hunter2", "0123456789abcdefIGNORED")
	d := DeriveKey("hunter2", "0123456789abcdef")
	assert.Equal(t, *c, *d)

	assert.NotEqual(t, *a, *DeriveKey("hunter3", ""))
}

func TestKeyConfig_LoadKey(t *testing.T) {
	var key fernet.Key
	require.NoError(t, key.Generate())

	keyFile := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(keyFile, []byte(key.Encode()+"\n"), 0o600))

	tests := []struct {
		name    string
		cfg     KeyConfig
		want    *fernet.Key
		wantErr bool
	}{
		{"direct key", KeyConfig{Key: key.Encode(), Password: "ignored"}, &key, false},
		{"password", KeyConfig{Password: "pw", Salt: "salty"}, DeriveKey("pw", "salty"), false},
		{"key file", KeyConfig{KeyFile: keyFile}, &key, false},
		{"bad key", KeyConfig{Key: "short"}, nil, true},
		{"missing file", KeyConfig{KeyFile: filepath.Join(t.TempDir(), "nope")}, nil, true},
		{"nothing", KeyConfig{}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.LoadKey()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, *tt.want, *got)
		})
	}

	_, err := KeyConfig{}.LoadKey()
	assert.ErrorIs(t, err, ErrNoEncryptionKey)
}

func TestEncryptedSource(t *testing.T) {
	keys := KeyConfig{Password: "correct horse"}
	key, err := keys.LoadKey()
	require.NoError(t, err)

	ct, err := Encrypt("decrypted-private-key", key)
	require.NoError(t, err)

	env := NewMapSource(map[string]string{"VAPID_PRIVATE_KEY_ENCRYPTED": ct})
	ctx := context.Background()

	src := NewEncryptedSource(keys, "", env)
	v, ok, err := src.Lookup(ctx, "VAPID_PRIVATE_KEY")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "decrypted-private-key", v)

	_, ok, err = src.Lookup(ctx, "JWT_SECRET")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = NewEncryptedSource(KeyConfig{}, "", env).Lookup(ctx, "VAPID_PRIVATE_KEY")
	assert.ErrorIs(t, err, ErrNoEncryptionKey)

	_, _, err = NewEncryptedSource(KeyConfig{Password: "wrong"}, "", env).Lookup(ctx, "VAPID_PRIVATE_KEY")
	assert.Error(t, err)
}

type fakeKV struct {
	data  map[string]interface{}
	err   error
	calls int
}

func (f *fakeKV) Get(_ context.Context, _ string) (*vault.KVSecret, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &vault.KVSecret{Data: f.data}, nil
}

func TestVaultSource(t *testing.T) {
	kv := &fakeKV{data: map[string]interface{}{
		"VAPID_PRIVATE_KEY": "from-vault",
		"jwt_secret":        "lower",
		"NUMBER":            42,
	}}
	src := NewVaultSourceFromKV(kv, "taskpulse/production")
	ctx := context.Background()

	v, ok, err := src.Lookup(ctx, "VAPID_PRIVATE_KEY")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-vault", v)

	v, ok, err = src.Lookup(ctx, "JWT_SECRET")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "lower", v)

	_, ok, err = src.Lookup(ctx, "MISSING")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = src.Lookup(ctx, "NUMBER")
	assert.Error(t, err)

	assert.Equal(t, 1, kv.calls, "secret is fetched once")
}

func TestVaultSource_Errors(t *testing.T) {
	ctx := context.Background()

	notFound := NewVaultSourceFromKV(&fakeKV{err: vault.ErrSecretNotFound}, "p")
	_, ok, err := notFound.Lookup(ctx, "X")
	require.NoError(t, err)
	assert.False(t, ok)

	kv := &fakeKV{err: errors.New("permission denied")}
	down := NewVaultSourceFromKV(kv, "p")
	_, _, err = down.Lookup(ctx, "X")
	assert.Error(t, err)
	_, _, _ = down.Lookup(ctx, "X")
	assert.Equal(t, 2, kv.calls, "failed fetches are retried")
}
