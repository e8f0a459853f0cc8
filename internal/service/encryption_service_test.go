package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESEncryptionService_RoundTrip(t *testing.T) {
	svc, err := NewAESEncryptionService("test-passphrase", "test-salt-12345")
	require.NoError(t, err)

	plaintext := "9f86d081884c7d659a2feaa0c55ad015"
	ciphertext, err := svc.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := svc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestAESEncryptionService_NonceVariesPerCall(t *testing.T) {
	svc, err := NewAESEncryptionService("test-passphrase", "test-salt-12345")
	require.NoError(t, err)

	first, err := svc.Encrypt("same input")
	require.NoError(t, err)
	second, err := svc.Encrypt("same input")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestAESEncryptionService_WrongKeyFails(t *testing.T) {
	svc1, err := NewAESEncryptionService("passphrase-one", "test-salt-12345")
	require.NoError(t, err)
	svc2, err := NewAESEncryptionService("passphrase-two", "test-salt-12345")
	require.NoError(t, err)

	ciphertext, err := svc1.Encrypt("secret material")
	require.NoError(t, err)

	_, err = svc2.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestAESEncryptionService_InvalidCiphertext(t *testing.T) {
	svc, err := NewAESEncryptionService("test-passphrase", "test-salt-12345")
	require.NoError(t, err)

	_, err = svc.Decrypt("not-hex")
	assert.Error(t, err)

	_, err = svc.Decrypt("abcd")
	assert.Error(t, err, "shorter than nonce")
}

func TestAESEncryptionService_RejectsWeakConfig(t *testing.T) {
	_, err := NewAESEncryptionService("", "test-salt-12345")
	assert.Error(t, err)

	_, err = NewAESEncryptionService("passphrase", "short")
	assert.Error(t, err)
}
