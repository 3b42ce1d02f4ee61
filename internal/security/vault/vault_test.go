package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESVaultRoundTrip(t *testing.T) {
	v, err := NewAESVault("local-encryption-key")
	require.NoError(t, err)

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	sealed, err := v.Seal("stripe:evt_1", payload)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "checkout.session.completed")

	opened, err := v.Open("stripe:evt_1", sealed)
	require.NoError(t, err)
	assert.Equal(t, payload, opened)
}

func TestAESVaultBindsPayloadToRecord(t *testing.T) {
	v, err := NewAESVault("local-encryption-key")
	require.NoError(t, err)

	sealed, err := v.Seal("stripe:evt_1", []byte("secret"))
	require.NoError(t, err)

	_, err = v.Open("stripe:evt_2", sealed)
	require.ErrorIs(t, err, ErrDecryption)
}

func TestAESVaultRejectsWrongKeyAndGarbage(t *testing.T) {
	v, err := NewAESVault("key-one")
	require.NoError(t, err)
	other, err := NewAESVault("key-two")
	require.NoError(t, err)

	sealed, err := v.Seal("polar:msg_1", []byte("secret"))
	require.NoError(t, err)

	_, err = other.Open("polar:msg_1", sealed)
	require.ErrorIs(t, err, ErrKeyMismatch)

	_, err = v.Open("polar:msg_1", []byte("not json"))
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = v.Open("polar:msg_1", []byte(`{"v":2}`))
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestNewAESVaultRequiresKey(t *testing.T) {
	_, err := NewAESVault("  ")
	require.ErrorIs(t, err, ErrInvalidKey)
}
