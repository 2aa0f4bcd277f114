package graphapi

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config configures the computation API client.
type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	AccessToken    string        `mapstructure:"access_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	OIDC           OIDCConfig    `mapstructure:"oidc"`
}

// OIDCConfig enables client-credentials auth against a discovered token endpoint.
type OIDCConfig struct {
	IssuerURL    string   `mapstructure:"issuer_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
}

func (c OIDCConfig) Enabled() bool {
	return strings.TrimSpace(c.IssuerURL) != ""
}

func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://graph.facebook.com/v17.0",
		RequestTimeout: 30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("graphapi.base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("graphapi.base_url is invalid: %q", c.BaseURL)
	}
	if c.OIDC.Enabled() {
		if strings.TrimSpace(c.OIDC.ClientID) == "" {
			return errors.New("graphapi.oidc.client_id is required")
		}
		if strings.TrimSpace(c.OIDC.ClientSecret) == "" {
			return errors.New("graphapi.oidc.client_secret is required")
		}
	} else if strings.TrimSpace(c.AccessToken) == "" {
		return errors.New("graphapi.access_token is required")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("graphapi.request_timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("graphapi.max_retries must be >= 0")
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 {
		return errors.New("graphapi backoff must be >= 0")
	}
	return nil
}
