package config

import (
	"errors"
	"fmt"
)

// Validate checks cross-field constraints cleanenv tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Errorf("database.max_conns %d below min_conns %d",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 characters"))
	}
	if c.Engine.BaseURL == "" {
		errs = append(errs, errors.New("engine.base_url is required"))
	}

	return errors.Join(errs...)
}
