package config

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

var structValidator = validator.New()

// Validate validates the configuration. Every problem is reported, not just
// the first.
func (c *Config) Validate() error {
	var result *multierror.Error

	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				result = multierror.Append(result,
					fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			result = multierror.Append(result, err)
		}
	}

	switch c.Store.Backend {
	case "redis":
		if c.Store.Redis.Addr == "" && c.Store.Redis.URL == "" {
			result = multierror.Append(result, errors.New("store.redis: addr or url required for redis backend"))
		}
	case "sqlite":
		if c.Store.SQLite.DSN == "" {
			result = multierror.Append(result, errors.New("store.sqlite.dsn required for sqlite backend"))
		}
	case "badger":
		if c.Store.Badger.Dir == "" && !c.Store.Badger.InMemory {
			result = multierror.Append(result, errors.New("store.badger: dir required unless in_memory"))
		}
	}

	if c.ReasoningEnabled() && c.Reasoning.APIKey == "" {
		result = multierror.Append(result,
			errors.New("reasoning.api_key not configured (set GEMINI_API_KEY or OPENAI_API_KEY)"))
	}

	durations := []struct{ name, value string }{
		{"reasoning.timeout", c.Reasoning.Timeout},
		{"reasoning.breaker.open_timeout", c.Reasoning.Breaker.OpenTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: invalid duration %q", d.name, d.value))
		}
	}

	return result.ErrorOrNil()
}
