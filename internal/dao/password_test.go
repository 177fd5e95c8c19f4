package dao

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStrengthAcceptsCompliantPassword(t *testing.T) {
	pm := newPasswordManager()
	assert.NoError(t, pm.validateStrength("Str0ngPass!"+"word"))
}

func TestValidateStrengthRejectsTooShort(t *testing.T) {
	pm := newPasswordManager()
	assert.Error(t, pm.validateStrength("Sh0rt!"))
}

func TestValidateStrengthRejectsMissingSpecialChar(t *testing.T) {
	pm := newPasswordManager()
	assert.Error(t, pm.validateStrength("NoSpecialChar123"))
}

func TestValidateStrengthRejectsMissingDigit(t *testing.T) {
	pm := newPasswordManager()
	assert.Error(t, pm.validateStrength("NoDigitsHere!!"))
}

func TestHashAndVerifyRoundTrip(t *testing.T) {
	pm := newPasswordManager()
	hash, err := pm.hash("Str0ngPassword!")
	require.NoError(t, err)
	assert.True(t, pm.verify("Str0ngPassword!", hash))
	assert.False(t, pm.verify("WrongPassword!1", hash))
}
