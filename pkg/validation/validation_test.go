package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/pandebugger-api/pkg/errors"
)

func TestPasswordMeetsPolicy(t *testing.T) {
	cases := map[string]bool{
		"abcdefgh":        false,
		"Abcdef1!":        true,
		"Abcde1!":         false,
		"ABCDEFG1!":       true,
		"Abcdefg1_":       false,
		"Abcdefg1 ":       false,
		"abcdefg1!":       false,
		"Abcdefgh!":       false,
		"Ñandú12#x":       false,
		"Ñandú12#X":       true,
		"Contraseña1":     false,
		"Contraseña1!":    true,
		"Canción2024":     false,
		"Clave\u00a012ab": false,
		"Clave_12é€":      true,
	}
	for password, want := range cases {
		assert.Equal(t, want, PasswordMeetsPolicy(password), password)
	}
}

type signup struct {
	Name     string `json:"name" validate:"notblank,max=10"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,password_policy"`
}

func TestErrorMessages(t *testing.T) {
	v := New()

	err := Error(v.Struct(signup{Name: "  ", Email: "nope", Password: "abcdefgh"}))
	require.True(t, appErrors.IsKind(err, appErrors.ErrValidation))
	msg := appErrors.FromError(err).Message
	assert.Contains(t, msg, "name is required")
	assert.Contains(t, msg, "email must be a valid email address")
	assert.Contains(t, msg, PasswordPolicyMessage)

	assert.NoError(t, Error(v.Struct(signup{Name: "Ana", Email: "ana@example.com", Password: "Abcdef1!"})))
}

func TestErrorPassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	assert.Same(t, boom, Error(boom))
	assert.NoError(t, Error(nil))
}
