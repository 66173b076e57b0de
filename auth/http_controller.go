package auth

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// HTTPConfig configures the auth HTTP controller.
type HTTPConfig struct {
	// PathPrefix for routes (default: "/auth")
	PathPrefix string

	// CookieName for the refresh token cookie (default: "refresh_token")
	CookieName string

	// CookieSecure sets the Secure flag on cookies
	CookieSecure bool

	// CookieHTTPOnly sets the HttpOnly flag on cookies
	CookieHTTPOnly bool

	// CookieSameSite sets the SameSite attribute (e.g. "Lax", "Strict")
	CookieSameSite string

	// ContextKey is the router locals key holding the Principal
	ContextKey string
}

// AuthController exposes the JSON auth endpoints
type AuthController struct {
	Debug  bool
	Logger Logger
	Repo   RepositoryManager
	Auther Authenticator
	Config HTTPConfig
}

type AuthControllerOption func(*AuthController) *AuthController

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
		Config: HTTPConfig{
			PathPrefix:     "/auth",
			CookieName:     "refresh_token",
			CookieHTTPOnly: true,
			CookieSameSite: "Lax",
			ContextKey:     "principal",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing Authenticator in auth controller...")
	}

	return c
}

func (a *AuthController) WithLogger(logger Logger) *AuthController {
	if logger != nil {
		a.Logger = logger
	}
	return a
}

// RegisterAuthRoutes mounts the auth endpoints. Endpoints that must not run
// anonymously (logout, logout-all, me) take the guard middlewares.
func RegisterAuthRoutes[T any](app router.Router[T], controller *AuthController, authenticated ...router.MiddlewareFunc) {
	prefix := controller.Config.PathPrefix

	app.Post(prefix+"/register", controller.Register).
		SetName("register.post")
	app.Post(prefix+"/login", controller.Login).
		SetName("sign-in.post")
	app.Post(prefix+"/refresh", controller.Refresh).
		SetName("refresh.post")

	app.Post(prefix+"/password-reset", controller.PasswordResetRequest).
		SetName("pwd-reset.post")
	app.Post(prefix+"/password-reset/:id", controller.PasswordResetExecute).
		SetName("pwd-reset-do.post")

	app.Post(prefix+"/verify-email", controller.VerifyEmailRequest).
		SetName("verify-email.post")
	app.Get(prefix+"/verify-email/:id", controller.VerifyEmailConfirm).
		SetName("verify-email-do.get")

	app.Post(prefix+"/logout", controller.Logout, authenticated...).
		SetName("sign-out.post")
	app.Post(prefix+"/logout-all", controller.LogoutAll, authenticated...).
		SetName("sign-out-all.post")
	app.Get("/me", controller.Me, authenticated...).
		SetName("me.get")
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AuthController) Login(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "failed to parse request body",
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error":      "invalid login payload",
			"validation": formatValidationErrors(err),
		})
	}

	if a.Debug {
		fmt.Println(print.MaybePrettyJSON(payload))
	}

	meta := SessionMetadata{
		UserAgent: ctx.GetString("User-Agent", ""),
		IP:        ctx.IP(),
	}

	pair, err := a.Auther.Login(ctx.Context(), payload.Email, payload.Password, meta)
	if err != nil {
		return a.respondAuthError(ctx, err)
	}

	a.setRefreshCookie(ctx, pair)

	return ctx.JSON(router.StatusOK, pair)
}

// RegistrationCreatePayload is the registration payload. The password
// confirmation is an explicit second field checked against the first, not
// a reflective cross-field lookup.
type RegistrationCreatePayload struct {
	FirstName       string `form:"first_name" json:"first_name"`
	LastName        string `form:"last_name" json:"last_name"`
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) Register(ctx router.Context) error {
	payload := new(RegistrationCreatePayload)

	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "failed to parse request body",
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error":      "invalid registration payload",
			"validation": formatValidationErrors(err),
		})
	}

	handler := NewRegisterUserHandler(a.Repo)
	user, err := handler.Execute(ctx.Context(), RegisterUserMessage{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Email:     payload.Email,
		Password:  payload.Password,
	})
	if err != nil {
		a.Logger.Error("register user error", "error", err)
		return a.respondAuthError(ctx, err)
	}

	verification := NewRequestEmailVerificationHandler(a.Repo)
	if err := verification.Execute(ctx.Context(), RequestEmailVerificationMessage{Email: user.Email}); err != nil {
		a.Logger.Warn("verification request error", "error", err)
	}

	return ctx.JSON(router.StatusCreated, map[string]any{
		"id":    user.ID.String(),
		"email": user.Email,
	})
}

// RefreshRequest payload; the token can also arrive via cookie
type RefreshRequest struct {
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

func (a *AuthController) Refresh(ctx router.Context) error {
	payload := new(RefreshRequest)

	if err := ctx.Bind(payload); err != nil {
		payload.RefreshToken = ""
	}

	raw := payload.RefreshToken
	if raw == "" {
		raw = ctx.Cookies(a.Config.CookieName)
	}

	if raw == "" {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "missing refresh token",
		})
	}

	pair, err := a.Auther.Refresh(ctx.Context(), raw)
	if err != nil {
		return a.respondAuthError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, pair)
}

func (a *AuthController) Logout(ctx router.Context) error {
	principal, ok := PrincipalFromRouter(ctx, a.Config.ContextKey)
	if !ok {
		return ctx.JSON(router.StatusUnauthorized, map[string]any{
			"error": "authentication required",
		})
	}

	if err := a.Auther.Logout(ctx.Context(), principal.SessionID); err != nil {
		return a.respondAuthError(ctx, err)
	}

	a.clearRefreshCookie(ctx)

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

func (a *AuthController) LogoutAll(ctx router.Context) error {
	principal, ok := PrincipalFromRouter(ctx, a.Config.ContextKey)
	if !ok {
		return ctx.JSON(router.StatusUnauthorized, map[string]any{
			"error": "authentication required",
		})
	}

	if err := a.Auther.LogoutAll(ctx.Context(), principal.UserID); err != nil {
		return a.respondAuthError(ctx, err)
	}

	a.clearRefreshCookie(ctx)

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

func (a *AuthController) Me(ctx router.Context) error {
	principal, ok := PrincipalFromRouter(ctx, a.Config.ContextKey)
	if !ok {
		return ctx.JSON(router.StatusUnauthorized, map[string]any{
			"error": "authentication required",
		})
	}

	return ctx.JSON(router.StatusOK, principal)
}

// PasswordResetRequestPayload starts a reset
type PasswordResetRequestPayload struct {
	Email string `form:"email" json:"email"`
}

func (r PasswordResetRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) PasswordResetRequest(ctx router.Context) error {
	payload := new(PasswordResetRequestPayload)

	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "failed to parse request body",
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error":      "invalid payload",
			"validation": formatValidationErrors(err),
		})
	}

	handler := NewInitializePasswordResetHandler(a.Repo)
	if err := handler.Execute(ctx.Context(), InitializePasswordResetMessage{Email: payload.Email}); err != nil {
		a.Logger.Error("password reset request error", "error", err)
		return a.respondAuthError(ctx, err)
	}

	// always report success so the endpoint cannot enumerate accounts
	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

// PasswordResetExecutePayload finalizes a reset
type PasswordResetExecutePayload struct {
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

func (r PasswordResetExecutePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) PasswordResetExecute(ctx router.Context) error {
	payload := new(PasswordResetExecutePayload)

	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "failed to parse request body",
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error":      "invalid payload",
			"validation": formatValidationErrors(err),
		})
	}

	handler := NewFinalizePasswordResetHandler(a.Repo)
	if err := handler.Execute(ctx.Context(), FinalizePasswordResetMessage{
		Session:  ctx.Param("id"),
		Password: payload.Password,
	}); err != nil {
		a.Logger.Error("password reset execute error", "error", err)
		return a.respondAuthError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

// VerifyEmailRequestPayload asks for a fresh verification link
type VerifyEmailRequestPayload struct {
	Email string `form:"email" json:"email"`
}

func (r VerifyEmailRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) VerifyEmailRequest(ctx router.Context) error {
	payload := new(VerifyEmailRequestPayload)

	if err := ctx.Bind(payload); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "failed to parse request body",
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error":      "invalid payload",
			"validation": formatValidationErrors(err),
		})
	}

	handler := NewRequestEmailVerificationHandler(a.Repo)
	if err := handler.Execute(ctx.Context(), RequestEmailVerificationMessage{Email: payload.Email}); err != nil {
		a.Logger.Error("verification request error", "error", err)
		return a.respondAuthError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

func (a *AuthController) VerifyEmailConfirm(ctx router.Context) error {
	handler := NewConfirmEmailVerificationHandler(a.Repo)
	if err := handler.Execute(ctx.Context(), ConfirmEmailVerificationMessage{
		Session: ctx.Param("id"),
	}); err != nil {
		a.Logger.Error("verification confirm error", "error", err)
		return a.respondAuthError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

func (a *AuthController) setRefreshCookie(ctx router.Context, pair *TokenPair) {
	ctx.Cookie(&router.Cookie{
		Name:     a.Config.CookieName,
		Value:    pair.RefreshToken,
		Path:     a.Config.PathPrefix,
		Expires:  pair.RefreshExpiresAt,
		Secure:   a.Config.CookieSecure,
		HTTPOnly: a.Config.CookieHTTPOnly,
		SameSite: a.Config.CookieSameSite,
	})
}

func (a *AuthController) clearRefreshCookie(ctx router.Context) {
	ctx.Cookie(&router.Cookie{
		Name:     a.Config.CookieName,
		Value:    "",
		Path:     a.Config.PathPrefix,
		Expires:  time.Now().Add(-time.Hour * 24),
		Secure:   a.Config.CookieSecure,
		HTTPOnly: a.Config.CookieHTTPOnly,
		SameSite: a.Config.CookieSameSite,
	})
}

// respondAuthError maps structured error categories to HTTP statuses.
// Auth failures come back as a uniform 401 so responses do not leak which
// check failed; lock errors map to 429 without counts or durations.
func (a *AuthController) respondAuthError(ctx router.Context, err error) error {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return ctx.JSON(router.StatusInternalServerError, map[string]any{
			"error": "internal error",
		})
	}

	switch rich.Category {
	case goerrors.CategoryAuth:
		return ctx.JSON(router.StatusUnauthorized, map[string]any{
			"error":     "authentication failed",
			"text_code": rich.TextCode,
		})
	case goerrors.CategoryRateLimit:
		return ctx.JSON(router.StatusTooManyRequests, map[string]any{
			"error": "too many requests",
		})
	case goerrors.CategoryNotFound:
		return ctx.JSON(router.StatusNotFound, map[string]any{
			"error": rich.Message,
		})
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": rich.Message,
		})
	case goerrors.CategoryConflict:
		return ctx.JSON(router.StatusConflict, map[string]any{
			"error": rich.Message,
		})
	default:
		a.Logger.Error("unhandled auth error", "error", err)
		return ctx.JSON(router.StatusInternalServerError, map[string]any{
			"error": "internal error",
		})
	}
}

// ValidateStringEquals builds an ozzo rule that checks a field matches the
// given string
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func formatValidationErrors(err error) map[string]string {
	out := map[string]string{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}
	out["payload"] = err.Error()
	return out
}
