package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPasskeyErrorMatchesByKind(t *testing.T) {
	cause := errors.New("duplicate key")
	err := newError(ErrCredentialExists, cause)

	assert.ErrorIs(t, err, ErrCredentialExists)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrInvalidCredential)
	assert.Equal(t, "credential_exists: credential already registered: duplicate key", err.Error())
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, wrapError(KindListFailed, nil))

	typed := wrapError(KindRevocationFailed, ErrCredentialNotFound)
	assert.Equal(t, KindCredentialNotFound, kindOf(typed), "typed errors pass through")

	raw := errors.New("pool exhausted")
	wrapped := wrapError(KindRevocationFailed, raw)
	assert.Equal(t, KindRevocationFailed, kindOf(wrapped))
	assert.ErrorIs(t, wrapped, raw)
	assert.True(t, kindOf(wrapped).IsCatchAll())
	assert.False(t, KindVerificationFailed.IsCatchAll())
}
