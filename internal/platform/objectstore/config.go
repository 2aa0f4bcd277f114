package objectstore

import (
	"errors"
	"fmt"
	"strings"
)

// Config locates the S3-compatible store that holds input files. Buckets come
// from the s3:// URIs themselves.
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Enabled reports whether an endpoint is configured at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("object_store.access_key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("object_store.secret_key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("object_store.region is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("object_store.endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
