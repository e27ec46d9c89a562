// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOpCipherPassthrough(t *testing.T) {
	c := NoOpCipher{}

	id, err := c.EncodeID("TGT-abc")
	require.NoError(t, err)
	assert.Equal(t, "TGT-abc", id)

	data, err := c.EncodePayload([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestAESCipherKeyValidation(t *testing.T) {
	_, err := NewAESCipher([]byte("short"))
	assert.Error(t, err)

	_, err = NewAESCipher(bytes.Repeat([]byte{0x42}, 32))
	assert.NoError(t, err)
}

func TestAESCipherIDDeterministicRoundTrip(t *testing.T) {
	c, err := NewAESCipher(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	first, err := c.EncodeID("TGT-abc")
	require.NoError(t, err)
	second, err := c.EncodeID("TGT-abc")
	require.NoError(t, err)

	// Deterministic: the encoded id doubles as a lookup key.
	assert.Equal(t, first, second)
	assert.NotEqual(t, "TGT-abc", first)

	other, err := c.EncodeID("TGT-abd")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	plain, err := c.DecodeID(first)
	require.NoError(t, err)
	assert.Equal(t, "TGT-abc", plain)
}

func TestAESCipherPayloadRoundTrip(t *testing.T) {
	c, err := NewAESCipher(bytes.Repeat([]byte{0x42}, 16))
	require.NoError(t, err)

	payload := []byte(`{"kind":"ST","ticket":{}}`)
	first, err := c.EncodePayload(payload)
	require.NoError(t, err)
	second, err := c.EncodePayload(payload)
	require.NoError(t, err)

	// Random nonce: same plaintext, different ciphertext.
	assert.NotEqual(t, first, second)

	plain, err := c.DecodePayload(first)
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
}

func TestAESCipherRejectsTampering(t *testing.T) {
	c, err := NewAESCipher(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	encoded, err := c.EncodeID("ST-abc")
	require.NoError(t, err)

	_, err = c.DecodeID(encoded[:len(encoded)-2] + "xx")
	assert.Error(t, err)

	_, err = c.DecodeID("not base64!!")
	assert.Error(t, err)

	_, err = c.DecodeID("")
	assert.Error(t, err)

	sealed, err := c.EncodePayload([]byte("payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff
	_, err = c.DecodePayload(sealed)
	assert.Error(t, err)

	_, err = c.DecodePayload([]byte("tiny"))
	assert.Error(t, err)
}

func TestAESCipherKeysDoNotInterop(t *testing.T) {
	a, err := NewAESCipher(bytes.Repeat([]byte{0x01}, 32))
	require.NoError(t, err)
	b, err := NewAESCipher(bytes.Repeat([]byte{0x02}, 32))
	require.NoError(t, err)

	encoded, err := a.EncodeID("TGT-abc")
	require.NoError(t, err)

	_, err = b.DecodeID(encoded)
	assert.Error(t, err)
}
