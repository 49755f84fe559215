package vault

import (
	"encoding/base64"
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reference vector published with the Fernet token format
const (
	referenceKey   = "cw_0x689RpI-jtRR7oE8h_eQsKImvJapLeSbXpwF4e4="
	referenceToken = "gAAAAAAdwJ6wAAECAwQFBgcICQoLDA0ODy021cpGVWKZ_eEwCGM4BLLF_5CV9dOPmrhuVUPgJobwOz7JcbmrR64jVmpU4IwqDA=="
)

func referenceVault(t *testing.T) *Vault {
	t.Helper()
	key, err := base64.URLEncoding.DecodeString(referenceKey)
	require.NoError(t, err)
	return fromKey(key)
}

func TestDecrypt_ReferenceToken(t *testing.T) {
	v := referenceVault(t)

	res := v.Decrypt(referenceToken)
	require.True(t, res.OK, "decrypt failed: %v", res.Err)
	assert.Equal(t, "hello", string(res.Plaintext))
}

func TestEncrypt_ReferenceKeyLayout(t *testing.T) {
	v := referenceVault(t)
	before := time.Now().Unix()

	token, err := v.Encrypt([]byte("hello"))
	require.NoError(t, err)

	raw, err := base64.URLEncoding.DecodeString(token)
	require.NoError(t, err)
	require.Len(t, raw, 1+8+16+16+32, "version, timestamp, iv, one block, hmac")
	assert.Equal(t, byte(0x80), raw[0])
	ts := int64(binary.BigEndian.Uint64(raw[1:9]))
	assert.GreaterOrEqual(t, ts, before)
	assert.LessOrEqual(t, ts, time.Now().Unix())

	// Readable by any Fernet implementation holding the same key
	key, err := fernet.DecodeKey(referenceKey)
	require.NoError(t, err)
	msg := fernet.VerifyAndDecrypt([]byte(token), time.Minute, []*fernet.Key{key})
	assert.Equal(t, "hello", string(msg))
}

func TestRoundTrip(t *testing.T) {
	v, err := New("master-secret")
	require.NoError(t, err)

	cases := [][]byte{
		[]byte(`{"cookies":[],"origins":[]}`),
		[]byte(strings.Repeat("x", 16)),
		[]byte("中文内容"),
		{},
	}
	for _, plaintext := range cases {
		token, err := v.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		res := v.Decrypt(token)
		require.True(t, res.OK, "decrypt failed: %v", res.Err)
		assert.Equal(t, len(plaintext), len(res.Plaintext))
		assert.Equal(t, string(plaintext), string(res.Plaintext))
	}
}

func TestDecrypt_Failures(t *testing.T) {
	v, err := New("master-secret")
	require.NoError(t, err)
	other, err := New("other-secret")
	require.NoError(t, err)

	token, err := v.Encrypt([]byte("payload"))
	require.NoError(t, err)

	res := v.Decrypt("")
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrEmptyToken)

	res = other.Decrypt(token)
	assert.False(t, res.OK, "a different master secret must not decrypt")
	assert.ErrorIs(t, res.Err, ErrInvalidToken)

	res = v.Decrypt(`{"cookies":[]}`)
	assert.False(t, res.OK, "legacy plain JSON is not a token")

	raw, err := base64.URLEncoding.DecodeString(token)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0xff
	res = v.Decrypt(base64.URLEncoding.EncodeToString(raw))
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrInvalidToken)

	res = v.Decrypt(token[:20])
	assert.False(t, res.OK)
}

func TestDecrypt_UnpaddedToken(t *testing.T) {
	v := referenceVault(t)
	res := v.Decrypt(strings.TrimRight(referenceToken, "="))
	require.True(t, res.OK)
	assert.Equal(t, "hello", string(res.Plaintext))
}

func TestNew_EmptySecret(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	a := DeriveKey("secret")
	b := DeriveKey("secret")
	assert.Len(t, a, KeyLength)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, DeriveKey("secret2"))
}

func TestJSONHelpers(t *testing.T) {
	v, err := New("master-secret")
	require.NoError(t, err)

	type state struct {
		Cookies []string `json:"cookies"`
	}
	token, err := v.EncryptJSON(state{Cookies: []string{"z_c0"}})
	require.NoError(t, err)

	var out state
	require.NoError(t, v.DecryptJSON(token, &out))
	assert.Equal(t, []string{"z_c0"}, out.Cookies)

	assert.Error(t, v.DecryptJSON("garbage", &out))
}
