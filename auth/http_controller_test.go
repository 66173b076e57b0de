package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/centsible/centsible/auth"
)

func TestLoginRequest_Validate(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		payload := auth.LoginRequest{
			Email:    "pat@example.com",
			Password: "some password",
		}
		assert.NoError(t, payload.Validate())
	})

	t.Run("missing email", func(t *testing.T) {
		payload := auth.LoginRequest{Password: "some password"}
		assert.Error(t, payload.Validate())
	})

	t.Run("malformed email", func(t *testing.T) {
		payload := auth.LoginRequest{Email: "not-an-email", Password: "pw"}
		assert.Error(t, payload.Validate())
	})

	t.Run("missing password", func(t *testing.T) {
		payload := auth.LoginRequest{Email: "pat@example.com"}
		assert.Error(t, payload.Validate())
	})
}

func TestRegistrationCreatePayload_Validate(t *testing.T) {
	valid := auth.RegistrationCreatePayload{
		FirstName:       "Pat",
		LastName:        "Doe",
		Email:           "pat@example.com",
		Password:        "a long password",
		ConfirmPassword: "a long password",
	}

	t.Run("valid payload", func(t *testing.T) {
		assert.NoError(t, valid.Validate())
	})

	t.Run("password confirmation must match", func(t *testing.T) {
		payload := valid
		payload.ConfirmPassword = "a different password"
		assert.Error(t, payload.Validate())
	})

	t.Run("short password is rejected", func(t *testing.T) {
		payload := valid
		payload.Password = "short"
		payload.ConfirmPassword = "short"
		assert.Error(t, payload.Validate())
	})

	t.Run("missing names are rejected", func(t *testing.T) {
		payload := valid
		payload.FirstName = ""
		assert.Error(t, payload.Validate())
	})
}

func TestPasswordResetPayloads_Validate(t *testing.T) {
	t.Run("request requires a well formed email", func(t *testing.T) {
		assert.NoError(t, auth.PasswordResetRequestPayload{Email: "pat@example.com"}.Validate())
		assert.Error(t, auth.PasswordResetRequestPayload{}.Validate())
		assert.Error(t, auth.PasswordResetRequestPayload{Email: "nope"}.Validate())
	})

	t.Run("execute requires matching passwords", func(t *testing.T) {
		assert.NoError(t, auth.PasswordResetExecutePayload{
			Password:        "a long password",
			ConfirmPassword: "a long password",
		}.Validate())

		assert.Error(t, auth.PasswordResetExecutePayload{
			Password:        "a long password",
			ConfirmPassword: "another password",
		}.Validate())
	})
}

func TestVerifyEmailRequestPayload_Validate(t *testing.T) {
	assert.NoError(t, auth.VerifyEmailRequestPayload{Email: "pat@example.com"}.Validate())
	assert.Error(t, auth.VerifyEmailRequestPayload{Email: "nope"}.Validate())
}

func TestValidateStringEquals(t *testing.T) {
	rule := auth.ValidateStringEquals("expected")

	assert.NoError(t, rule("expected"))
	assert.Error(t, rule("other"))
	assert.Error(t, rule(42))
}

func TestNewAuthController(t *testing.T) {
	t.Run("panics without a repository", func(t *testing.T) {
		assert.Panics(t, func() {
			auth.NewAuthController(func(ac *auth.AuthController) *auth.AuthController {
				ac.Auther = &auth.Auther{}
				return ac
			})
		})
	})

	t.Run("panics without an authenticator", func(t *testing.T) {
		assert.Panics(t, func() {
			auth.NewAuthController()
		})
	})
}
