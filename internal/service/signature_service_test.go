package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACSignatureService_SignAndVerify(t *testing.T) {
	svc := NewHMACSignatureService()

	payload := `{"event_type":"TRANSACTION_CONFIRMED","transaction_id":"abc"}`
	sig := svc.Sign("secret-key", payload)

	assert.Len(t, sig, 64)
	assert.True(t, svc.Verify("secret-key", payload, sig))
}

func TestHMACSignatureService_VerifyRejectsTamperedPayload(t *testing.T) {
	svc := NewHMACSignatureService()

	sig := svc.Sign("secret-key", "original")
	assert.False(t, svc.Verify("secret-key", "tampered", sig))
}

func TestHMACSignatureService_VerifyRejectsWrongKey(t *testing.T) {
	svc := NewHMACSignatureService()

	sig := svc.Sign("secret-key", "payload")
	assert.False(t, svc.Verify("other-key", "payload", sig))
}

func TestHMACSignatureService_Deterministic(t *testing.T) {
	svc := NewHMACSignatureService()

	assert.Equal(t, svc.Sign("k", "p"), svc.Sign("k", "p"))
}
