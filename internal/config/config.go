// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Protocol() ProtocolConfig
	Platform() PlatformConfig
	Timing() TimingConfig
	Accounts() AccountsConfig
	Journal() JournalConfig
	Metrics() MetricsConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserRemoteURL(string)
	SetBrowserStartURL(string)

	// SetMetricsAddr serves metrics on addr, or disables them when addr is empty.
	SetMetricsAddr(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	ProtocolCfg ProtocolConfig `mapstructure:"protocol" yaml:"protocol"`
	PlatformCfg PlatformConfig `mapstructure:"platform" yaml:"platform"`
	TimingCfg   TimingConfig   `mapstructure:"timing" yaml:"timing"`
	AccountsCfg AccountsConfig `mapstructure:"accounts" yaml:"accounts"`
	JournalCfg  JournalConfig  `mapstructure:"journal" yaml:"journal"`
	MetricsCfg  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Protocol() ProtocolConfig { return c.ProtocolCfg }
func (c *Config) Platform() PlatformConfig { return c.PlatformCfg }
func (c *Config) Timing() TimingConfig     { return c.TimingCfg }
func (c *Config) Accounts() AccountsConfig { return c.AccountsCfg }
func (c *Config) Journal() JournalConfig   { return c.JournalCfg }
func (c *Config) Metrics() MetricsConfig   { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)    { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserRemoteURL(u string) { c.BrowserCfg.RemoteURL = u }
func (c *Config) SetBrowserStartURL(u string)  { c.BrowserCfg.StartURL = u }
func (c *Config) SetMetricsAddr(addr string) {
	c.MetricsCfg.Addr = addr
	c.MetricsCfg.Enabled = addr != ""
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls how the Chrome instance is obtained.
// When RemoteURL is set the agent attaches to an already running browser
// instead of launching its own.
type BrowserConfig struct {
	Headless    bool     `mapstructure:"headless" yaml:"headless"`
	ExecPath    string   `mapstructure:"exec_path" yaml:"exec_path"`
	RemoteURL   string   `mapstructure:"remote_url" yaml:"remote_url"`
	UserDataDir string   `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	StartURL    string   `mapstructure:"start_url" yaml:"start_url"`
	Args        []string `mapstructure:"args" yaml:"args"`
	Debug       bool     `mapstructure:"debug" yaml:"debug"`
}

// ProtocolConfig describes the cross-window message contract.
type ProtocolConfig struct {
	// Prefix is prepended to every message type and to the handshake token.
	Prefix         string   `mapstructure:"prefix" yaml:"prefix"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	StorageKey     string   `mapstructure:"storage_key" yaml:"storage_key"`
}

// SelectorsConfig holds the per-goal lookup tables, in priority order.
type SelectorsConfig struct {
	TitlePresence   string   `mapstructure:"title_presence" yaml:"title_presence"`
	ContentPresence string   `mapstructure:"content_presence" yaml:"content_presence"`
	TitleCandidates string   `mapstructure:"title_candidates" yaml:"title_candidates"`
	Title           []string `mapstructure:"title" yaml:"title"`
	Content         []string `mapstructure:"content" yaml:"content"`
	Paste           []string `mapstructure:"paste" yaml:"paste"`
	Submit          []string `mapstructure:"submit" yaml:"submit"`
	SubmitScan      string   `mapstructure:"submit_scan" yaml:"submit_scan"`
}

// PlatformConfig describes the target editor.
type PlatformConfig struct {
	Name              string          `mapstructure:"name" yaml:"name"`
	EditorURL         string          `mapstructure:"editor_url" yaml:"editor_url"`
	ArticleHost       string          `mapstructure:"article_host" yaml:"article_host"`
	ArticlePathPrefix string          `mapstructure:"article_path_prefix" yaml:"article_path_prefix"`
	TabHosts          []string        `mapstructure:"tab_hosts" yaml:"tab_hosts"`
	ImageHost         string          `mapstructure:"image_host" yaml:"image_host"`
	UIMarker          string          `mapstructure:"ui_marker" yaml:"ui_marker"`
	TitleMaxHeight    float64         `mapstructure:"title_max_height" yaml:"title_max_height"`
	SubmitKeywords    []string        `mapstructure:"submit_keywords" yaml:"submit_keywords"`
	Selectors         SelectorsConfig `mapstructure:"selectors" yaml:"selectors"`
}

// TimingConfig gathers the delays and budgets the pipeline runs on.
type TimingConfig struct {
	TaskBuffer       time.Duration `mapstructure:"task_buffer" yaml:"task_buffer"`
	PresenceTimeout  time.Duration `mapstructure:"presence_timeout" yaml:"presence_timeout"`
	PresencePoll     time.Duration `mapstructure:"presence_poll" yaml:"presence_poll"`
	ReadyTimeout     time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	ReadyPoll        time.Duration `mapstructure:"ready_poll" yaml:"ready_poll"`
	ReadyMaxAttempts int           `mapstructure:"ready_max_attempts" yaml:"ready_max_attempts"`
	TitleSettle      time.Duration `mapstructure:"title_settle" yaml:"title_settle"`
	TitleBlurSettle  time.Duration `mapstructure:"title_blur_settle" yaml:"title_blur_settle"`
	TitleCharDelay   time.Duration `mapstructure:"title_char_delay" yaml:"title_char_delay"`
	ContentSettle    time.Duration `mapstructure:"content_settle" yaml:"content_settle"`
	PasteFocusSettle time.Duration `mapstructure:"paste_focus_settle" yaml:"paste_focus_settle"`
	PasteSettle      time.Duration `mapstructure:"paste_settle" yaml:"paste_settle"`
	ContentCharDelay time.Duration `mapstructure:"content_char_delay" yaml:"content_char_delay"`
	ChunkSize        int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkDelay       time.Duration `mapstructure:"chunk_delay" yaml:"chunk_delay"`
	PublishLead      time.Duration `mapstructure:"publish_lead" yaml:"publish_lead"`
	PublishScroll    int           `mapstructure:"publish_scroll" yaml:"publish_scroll"`
	PublishScrollGap time.Duration `mapstructure:"publish_scroll_gap" yaml:"publish_scroll_gap"`
	PublishSettle    time.Duration `mapstructure:"publish_settle" yaml:"publish_settle"`
}

// AccountsConfig points at the backend that owns channel accounts and login sessions.
type AccountsConfig struct {
	DatabaseURL    string        `mapstructure:"database_url" yaml:"database_url"`
	FunctionsURL   string        `mapstructure:"functions_url" yaml:"functions_url"`
	AnonKey        string        `mapstructure:"anon_key" yaml:"anon_key"`
	ChannelID      string        `mapstructure:"channel_id" yaml:"channel_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// JournalConfig controls the local task outcome journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "quill")
	v.SetDefault("logger.log_file", "quill.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.start_url", "https://zhuanlan.zhihu.com/write")
	v.SetDefault("browser.debug", false)

	// -- Protocol --
	v.SetDefault("protocol.prefix", "")
	v.SetDefault("protocol.storage_key", "AIFA_SIMPLE_PENDING_TASK")
	v.SetDefault("protocol.allowed_origins", []string{
		"http://localhost",
		"http://localhost:3000",
		"https://cloud1-2galtebofd65ac99-1360656182.tcloudbaseapp.com",
		"https://aifa.aixiaohu.top",
		"https://aixiaohu.top",
	})

	// -- Platform --
	v.SetDefault("platform.name", "zhihu")
	v.SetDefault("platform.editor_url", "https://zhuanlan.zhihu.com/write")
	v.SetDefault("platform.article_host", "zhuanlan.zhihu.com")
	v.SetDefault("platform.article_path_prefix", "/p/")
	v.SetDefault("platform.tab_hosts", []string{"zhihu.com"})
	v.SetDefault("platform.image_host", "https://pic1.zhimg.com")
	v.SetDefault("platform.ui_marker", "AIFA")
	v.SetDefault("platform.title_max_height", 200)
	v.SetDefault("platform.submit_keywords", []string{"发布", "Publish", "Submit", "Confirm"})
	v.SetDefault("platform.selectors.title_presence", `textarea[placeholder*="请输入标题"], textarea[placeholder*="输入文章标题"], `+
		`textarea[placeholder*="标题"], input[placeholder*="请输入标题"], input[placeholder*="输入文章标题"], `+
		`input[placeholder*="标题"], .WriteIndex-titleInput textarea, .WriteIndex-titleInput input, .TitleInput textarea, .TitleInput input`)
	v.SetDefault("platform.selectors.content_presence", `.DraftEditor-editorContainer [contenteditable="true"], [contenteditable="true"]`)
	v.SetDefault("platform.selectors.title_candidates", `div[contenteditable="true"], input[type="text"], textarea`)
	v.SetDefault("platform.selectors.title", []string{
		".WriteIndex-titleInput input",
		`textarea[placeholder*="请输入标题"]`,
		`textarea[placeholder*="输入文章标题"]`,
		`textarea[placeholder*="标题"]`,
		`input[placeholder*="请输入标题"]`,
		`input[placeholder*="标题"]`,
		".TitleInput textarea, .TitleInput input",
		`[class*="title"] textarea, [class*="title"] input`,
	})
	v.SetDefault("platform.selectors.content", []string{
		`.public-DraftEditor-content[contenteditable="true"]`,
		`.DraftEditor-editorContainer [contenteditable="true"]`,
		`.notranslate[contenteditable="true"]`,
		`div[role="textbox"]`,
		".DraftEditor-root .public-DraftEditor-content",
		".public-DraftEditor-content",
		`[contenteditable="true"]`,
		".RichText",
	})
	v.SetDefault("platform.selectors.paste", []string{
		".DraftEditor-editorContainer .public-DraftEditor-content",
		".public-DraftEditor-content",
		".DraftEditor-root .public-DraftEditor-content",
		`[contenteditable="true"]`,
	})
	v.SetDefault("platform.selectors.submit", []string{})
	v.SetDefault("platform.selectors.submit_scan", `button, [role="button"]`)

	// -- Timing --
	v.SetDefault("timing.task_buffer", "1500ms")
	v.SetDefault("timing.presence_timeout", "30s")
	v.SetDefault("timing.presence_poll", "200ms")
	v.SetDefault("timing.ready_timeout", "10s")
	v.SetDefault("timing.ready_poll", "500ms")
	v.SetDefault("timing.ready_max_attempts", 20)
	v.SetDefault("timing.title_settle", "2s")
	v.SetDefault("timing.title_blur_settle", "300ms")
	v.SetDefault("timing.title_char_delay", "50ms")
	v.SetDefault("timing.content_settle", "1s")
	v.SetDefault("timing.paste_focus_settle", "2s")
	v.SetDefault("timing.paste_settle", "3s")
	v.SetDefault("timing.content_char_delay", "30ms")
	v.SetDefault("timing.chunk_size", 80)
	v.SetDefault("timing.chunk_delay", "400ms")
	v.SetDefault("timing.publish_lead", "3s")
	v.SetDefault("timing.publish_scroll", 800)
	v.SetDefault("timing.publish_scroll_gap", "500ms")
	v.SetDefault("timing.publish_settle", "2s")

	// -- Accounts --
	v.SetDefault("accounts.channel_id", "zhihu")
	v.SetDefault("accounts.request_timeout", "15s")
	v.SetDefault("accounts.poll_interval", "2s")

	// -- Journal --
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "quill.db")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9464")
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("accounts.database_url", "QUILL_DATABASE_URL")
	_ = v.BindEnv("accounts.anon_key", "QUILL_ANON_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.PlatformCfg.Name == "" {
		return fmt.Errorf("platform.name is a required configuration field")
	}
	if _, err := url.ParseRequestURI(c.PlatformCfg.EditorURL); err != nil {
		return fmt.Errorf("platform.editor_url must be an absolute URL: %w", err)
	}
	if len(c.PlatformCfg.Selectors.Content) == 0 {
		return fmt.Errorf("platform.selectors.content must list at least one selector")
	}
	if c.ProtocolCfg.StorageKey == "" {
		return fmt.Errorf("protocol.storage_key is a required configuration field")
	}
	for _, o := range c.ProtocolCfg.AllowedOrigins {
		if !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return fmt.Errorf("protocol.allowed_origins entry %q must start with http:// or https://", o)
		}
	}
	if err := c.TimingCfg.Validate(); err != nil {
		return fmt.Errorf("timing configuration invalid: %w", err)
	}
	if c.AccountsCfg.PollInterval <= 0 {
		return fmt.Errorf("accounts.poll_interval must be positive")
	}
	return nil
}

// Validate checks the timing values that would stall or spin the pipeline.
func (t *TimingConfig) Validate() error {
	if t.PresencePoll <= 0 || t.ReadyPoll <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if t.PresenceTimeout <= 0 || t.ReadyTimeout <= 0 {
		return fmt.Errorf("wait budgets must be positive")
	}
	if t.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be a positive integer")
	}
	return nil
}
