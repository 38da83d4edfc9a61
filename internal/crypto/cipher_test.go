package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestSeal(t *testing.T) {
	validKey := testKey(t)

	tests := []struct {
		name      string
		errMsg    string
		plaintext []byte
		key       []byte
		wantErr   bool
	}{
		{
			name:      "successful encryption",
			plaintext: []byte(`[{"id":"op-1"}]`),
			key:       validKey,
		},
		{
			name:      "empty plaintext",
			plaintext: []byte{},
			key:       validKey,
		},
		{
			name:      "invalid key length - too short",
			plaintext: []byte("test"),
			key:       make([]byte, 16), // неправильная длина
			wantErr:   true,
			errMsg:    "encryption key must be 32 bytes",
		},
		{
			name:      "invalid key length - too long",
			plaintext: []byte("test"),
			key:       make([]byte, 64),
			wantErr:   true,
			errMsg:    "encryption key must be 32 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := Seal(tt.plaintext, tt.key, "pending_operations")

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, sealed)
				return
			}

			require.NoError(t, err)
			// nonce + ciphertext + auth_tag
			assert.Len(t, sealed, NonceSize+len(tt.plaintext)+16)
		})
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte(`{"trips/t1":{"data":{"name":"Lake"}}}`)

	sealed, err := Seal(plaintext, key, "cache_entries")
	require.NoError(t, err)

	opened, err := Open(sealed, key, "cache_entries")
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSeal_UniqueNonce(t *testing.T) {
	key := testKey(t)

	a, err := Seal([]byte("same"), key, "k")
	require.NoError(t, err)
	b, err := Seal([]byte("same"), key, "k")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "одинаковый plaintext должен давать разный ciphertext")
}

func TestOpen_Errors(t *testing.T) {
	key := testKey(t)
	sealed, err := Seal([]byte("test message"), key, "k")
	require.NoError(t, err)

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xFF

	tests := []struct {
		name   string
		data   []byte
		key    []byte
		label  string
		errMsg string
	}{
		{"too short", make([]byte, 5), key, "k", "encrypted data too short"},
		{"invalid key length", sealed, make([]byte, 16), "k", "encryption key must be 32 bytes"},
		{"wrong key", sealed, testKey(t), "k", "authentication failed"},
		{"wrong label", sealed, key, "other", "authentication failed"},
		{"tampered", tampered, key, "k", "authentication failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opened, err := Open(tt.data, tt.key, tt.label)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.Nil(t, opened)
		})
	}
}
