package config

import (
	"fmt"
	"time"
)

// BaseConfig is the application configuration tree. Values load from
// config files and environment overrides via go-config.
type BaseConfig struct {
	Name        string      `json:"name" koanf:"name"`
	Environment string      `json:"environment" koanf:"environment"`
	Server      Server      `json:"server" koanf:"server"`
	Auth        Auth        `json:"auth" koanf:"auth"`
	Persistence Persistence `json:"persistence" koanf:"persistence"`
}

func (a *BaseConfig) Validate() error {
	if a.Auth.SigningKey == "" {
		return fmt.Errorf("config: auth.signing_key is required")
	}
	return nil
}

func (a *BaseConfig) GetName() string {
	if a.Name == "" {
		return "centsible"
	}
	return a.Name
}

func (a *BaseConfig) GetEnvironment() string {
	if a.Environment == "" {
		return "development"
	}
	return a.Environment
}

func (a *BaseConfig) GetServer() Server {
	return a.Server
}

func (a *BaseConfig) GetAuth() Auth {
	return a.Auth
}

func (a *BaseConfig) GetPersistence() Persistence {
	return a.Persistence
}

type Server struct {
	Address string `json:"address" koanf:"address"`
}

func (s Server) GetAddress() string {
	if s.Address == "" {
		return ":8080"
	}
	return s.Address
}

// Auth satisfies the auth package's Config interface.
type Auth struct {
	SigningKey            string   `json:"signing_key" koanf:"signing_key"`
	SigningMethod         string   `json:"signing_method" koanf:"signing_method"`
	ContextKey            string   `json:"context_key" koanf:"context_key"`
	TokenExpiration       string   `json:"token_expiration" koanf:"token_expiration"`
	ExtendedTokenDuration string   `json:"extended_token_duration" koanf:"extended_token_duration"`
	TokenLookup           string   `json:"token_lookup" koanf:"token_lookup"`
	AuthScheme            string   `json:"auth_scheme" koanf:"auth_scheme"`
	Issuer                string   `json:"issuer" koanf:"issuer"`
	Audience              []string `json:"audience" koanf:"audience"`
	RefreshCookieName     string   `json:"refresh_cookie_name" koanf:"refresh_cookie_name"`
	RefreshCookieSecure   bool     `json:"refresh_cookie_secure" koanf:"refresh_cookie_secure"`
}

func (a Auth) GetSigningKey() string {
	return a.SigningKey
}

func (a Auth) GetSigningMethod() string {
	if a.SigningMethod == "" {
		return "HS256"
	}
	return a.SigningMethod
}

func (a Auth) GetContextKey() string {
	if a.ContextKey == "" {
		return "principal"
	}
	return a.ContextKey
}

// GetAccessTokenExpiration parses the access token TTL expression,
// defaulting to 15 minutes.
func (a Auth) GetAccessTokenExpiration() time.Duration {
	return parseDuration(a.TokenExpiration, 15*time.Minute)
}

// GetRefreshTokenExpiration parses the refresh token TTL expression,
// defaulting to 30 days.
func (a Auth) GetRefreshTokenExpiration() time.Duration {
	return parseDuration(a.ExtendedTokenDuration, 30*24*time.Hour)
}

func (a Auth) GetTokenLookup() string {
	if a.TokenLookup == "" {
		return "header:Authorization,cookie:access_token"
	}
	return a.TokenLookup
}

func (a Auth) GetAuthScheme() string {
	if a.AuthScheme == "" {
		return "Bearer"
	}
	return a.AuthScheme
}

func (a Auth) GetIssuer() string {
	if a.Issuer == "" {
		return "centsible"
	}
	return a.Issuer
}

func (a Auth) GetAudience() []string {
	if len(a.Audience) == 0 {
		return []string{"centsible"}
	}
	return a.Audience
}

func (a Auth) GetRefreshCookieName() string {
	if a.RefreshCookieName == "" {
		return "refresh_token"
	}
	return a.RefreshCookieName
}

func (a Auth) GetRefreshCookieSecure() bool {
	return a.RefreshCookieSecure
}

type Persistence struct {
	Debug                 bool   `json:"debug" koanf:"debug"`
	Driver                string `json:"driver" koanf:"driver"`
	DSN                   string `json:"dsn" koanf:"dsn"`
	PingTimeoutExpression string `json:"ping_timeout" koanf:"ping_timeout"`
}

func (p Persistence) GetDebug() bool {
	return p.Debug
}

func (p Persistence) GetDriver() string {
	if p.Driver == "" {
		return "sqlite"
	}
	return p.Driver
}

func (p Persistence) GetDSN() string {
	if p.DSN == "" {
		return "file::memory:?cache=shared"
	}
	return p.DSN
}

func (p Persistence) GetServer() string {
	return p.GetDSN()
}

func (p Persistence) GetOtelIdentifier() string {
	return ""
}

func (p Persistence) GetPingTimeout() time.Duration {
	expr := p.PingTimeoutExpression
	if expr == "" {
		expr = "5s"
	}
	dur, err := time.ParseDuration(expr)
	if err != nil {
		panic(
			fmt.Sprintf("unable to parse time: expr %s", expr),
		)
	}
	return dur
}

func parseDuration(expr string, def time.Duration) time.Duration {
	if expr == "" {
		return def
	}
	dur, err := time.ParseDuration(expr)
	if err != nil {
		panic(
			fmt.Sprintf("unable to parse time: expr %s", expr),
		)
	}
	return dur
}
