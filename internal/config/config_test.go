// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "zhihu", cfg.Platform().Name)
	assert.Equal(t, "https://zhuanlan.zhihu.com/write", cfg.Platform().EditorURL)
	assert.Equal(t, "AIFA_SIMPLE_PENDING_TASK", cfg.Protocol().StorageKey)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timing().TaskBuffer)
	assert.Equal(t, 30*time.Second, cfg.Timing().PresenceTimeout)
	assert.Equal(t, 80, cfg.Timing().ChunkSize)
	assert.Equal(t, float64(200), cfg.Platform().TitleMaxHeight)
	assert.Len(t, cfg.Platform().Selectors.Title, 8)
	assert.Len(t, cfg.Platform().Selectors.Content, 8)
	assert.Equal(t, ".WriteIndex-titleInput input", cfg.Platform().Selectors.Title[0])
	assert.Contains(t, cfg.Protocol().AllowedOrigins, "https://aixiaohu.top")
	assert.Contains(t, cfg.Platform().SubmitKeywords, "发布")
	assert.Equal(t, 2*time.Second, cfg.Accounts().PollInterval)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate())

		missingName := *cfg
		missingName.PlatformCfg.Name = ""
		err := missingName.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "platform.name is a required configuration field")

		badEditor := *cfg
		badEditor.PlatformCfg.EditorURL = "write"
		err = badEditor.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "platform.editor_url must be an absolute URL")

		noContent := *cfg
		noContent.PlatformCfg.Selectors.Content = nil
		err = noContent.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "platform.selectors.content")

		badOrigin := *cfg
		badOrigin.ProtocolCfg.AllowedOrigins = []string{"aixiaohu.top"}
		err = badOrigin.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "must start with http:// or https://")

		noPace := *cfg
		noPace.AccountsCfg.PollInterval = 0
		err = noPace.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "accounts.poll_interval must be positive")
	})

	t.Run("Timing Validation", func(t *testing.T) {
		valid := NewDefaultConfig().Timing()
		assert.NoError(t, valid.Validate())

		zeroPoll := valid
		zeroPoll.PresencePoll = 0
		err := zeroPoll.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "poll intervals must be positive")

		zeroChunk := valid
		zeroChunk.ChunkSize = 0
		err = zeroChunk.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "chunk_size must be a positive integer")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
protocol:
  prefix: "AIFA_"
platform:
  image_host: "https://pic2.zhimg.com"
timing:
  task_buffer: 250ms
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "AIFA_", cfg.Protocol().Prefix)
		assert.Equal(t, "https://pic2.zhimg.com", cfg.Platform().ImageHost)
		assert.Equal(t, 250*time.Millisecond, cfg.Timing().TaskBuffer)
		// Check a default value was also loaded
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("timing.chunk_size", 0) // Intentionally invalid

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "chunk_size must be a positive integer")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		yamlConfig := []byte(`
accounts:
  database_url: "postgres://configfile/db"
`)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		t.Setenv("QUILL_DATABASE_URL", "postgres://envvar/db")
		t.Setenv("QUILL_ANON_KEY", "anon-key")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "postgres://envvar/db", cfg.Accounts().DatabaseURL)
		assert.Equal(t, "anon-key", cfg.Accounts().AnonKey)
	})
}

func TestSetters(t *testing.T) {
	var cfg Interface = NewDefaultConfig()
	cfg.SetBrowserHeadless(true)
	cfg.SetBrowserRemoteURL("ws://127.0.0.1:9222")
	cfg.SetBrowserStartURL("https://www.zhihu.com")
	cfg.SetMetricsAddr(":9999")

	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, "ws://127.0.0.1:9222", cfg.Browser().RemoteURL)
	assert.Equal(t, "https://www.zhihu.com", cfg.Browser().StartURL)
	assert.Equal(t, ":9999", cfg.Metrics().Addr)
	assert.True(t, cfg.Metrics().Enabled)

	cfg.SetMetricsAddr("")
	assert.False(t, cfg.Metrics().Enabled)
}
