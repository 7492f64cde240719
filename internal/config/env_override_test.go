package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides_Store(t *testing.T) {
	t.Run("QUERYGATE_REDIS_ADDR sets redis addr", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("QUERYGATE_REDIS_ADDR", "cache:6380")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "cache:6380", cfg.Store.Redis.Addr)
		assert.Equal(t, "memory", cfg.Store.Backend)
	})

	t.Run("QUERYGATE_STORE_BACKEND selects backend", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("QUERYGATE_STORE_BACKEND", "badger")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "badger", cfg.Store.Backend)
	})
}

func TestEnvOverrides_Reasoning(t *testing.T) {
	t.Run("OPENAI_API_KEY switches provider", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OPENAI_API_KEY", "oa-key")

		cfg := &Config{Reasoning: ReasoningConfig{Provider: "gemini"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "oa-key", cfg.Reasoning.APIKey)
		assert.Equal(t, "openai", cfg.Reasoning.Provider)
	})

	t.Run("Precedence: GEMINI overrides OPENAI", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OPENAI_API_KEY", "oa-key")
		t.Setenv("GEMINI_API_KEY", "gm-key")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "gm-key", cfg.Reasoning.APIKey)
		assert.Equal(t, "gemini", cfg.Reasoning.Provider)
	})

	t.Run("No keys leaves config untouched", func(t *testing.T) {
		clearEnv(t)

		cfg := &Config{Reasoning: ReasoningConfig{Provider: "openai", APIKey: "file-key"}}
		cfg.applyEnvOverrides()

		assert.Equal(t, "file-key", cfg.Reasoning.APIKey)
		assert.Equal(t, "openai", cfg.Reasoning.Provider)
	})
}
