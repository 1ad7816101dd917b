// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config is the whole application configuration. It is built once per process and then
// handed, read-only, to the components that need a section of it.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Site     SiteConfig     `mapstructure:"site" yaml:"site"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Proxy    ProxyConfig    `mapstructure:"proxy" yaml:"proxy"`
	Notify   NotifyConfig   `mapstructure:"notify" yaml:"notify"`
	Run      RunConfig      `mapstructure:"run" yaml:"run"`
	Daemon   DaemonConfig   `mapstructure:"daemon" yaml:"daemon"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format      string      `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size" validate:"gte=0"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age" validate:"gte=0"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color for each log level.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// SiteConfig describes the hosting panel: where to log in, how to recognise the
// authenticated area and which controls to drive.
type SiteConfig struct {
	LoginURL           string   `mapstructure:"login_url" yaml:"login_url" validate:"required,url"`
	AuthenticatedURL   string   `mapstructure:"authenticated_url" yaml:"authenticated_url" validate:"required"`
	IdentifierSelector string   `mapstructure:"identifier_selector" yaml:"identifier_selector" validate:"required"`
	SecretSelector     string   `mapstructure:"secret_selector" yaml:"secret_selector" validate:"required"`
	SubmitSelector     string   `mapstructure:"submit_selector" yaml:"submit_selector" validate:"required"`
	ErrorSelector      string   `mapstructure:"error_selector" yaml:"error_selector" validate:"required"`
	GreetingSelector   string   `mapstructure:"greeting_selector" yaml:"greeting_selector" validate:"required"`
	HeadingSelector    string   `mapstructure:"heading_selector" yaml:"heading_selector"`
	CheckboxSelector   string   `mapstructure:"checkbox_selector" yaml:"checkbox_selector"`
	BlockPatterns      []string `mapstructure:"block_patterns" yaml:"block_patterns"`
}

// BrowserConfig controls the Chrome instance launched for each attempt.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string `mapstructure:"args" yaml:"args"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	HumanTyping     bool     `mapstructure:"human_typing" yaml:"human_typing"`
	Debug           bool     `mapstructure:"debug" yaml:"debug"`
}

// TimeoutsConfig bounds every blocking page operation.
type TimeoutsConfig struct {
	Navigation    time.Duration `mapstructure:"navigation" yaml:"navigation" validate:"gt=0"`
	Settle        time.Duration `mapstructure:"settle" yaml:"settle" validate:"gte=0"`
	Element       time.Duration `mapstructure:"element" yaml:"element" validate:"gt=0"`
	Click         time.Duration `mapstructure:"click" yaml:"click" validate:"gt=0"`
	Challenge     time.Duration `mapstructure:"challenge" yaml:"challenge" validate:"gt=0"`
	OutcomeWindow time.Duration `mapstructure:"outcome_window" yaml:"outcome_window" validate:"gt=0"`
	Launch        time.Duration `mapstructure:"launch" yaml:"launch" validate:"gt=0"`
	Close         time.Duration `mapstructure:"close" yaml:"close" validate:"gt=0"`
}

// RetryConfig is the per-account retry budget and backoff policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay" validate:"gte=0"`
}

// ProxyConfig lists the egress proxies and how to health-check them.
type ProxyConfig struct {
	// URLs is a semicolon separated list of scheme://[user:secret@]host:port.
	URLs         string        `mapstructure:"urls" yaml:"-"`
	HealthCheck  bool          `mapstructure:"health_check" yaml:"health_check"`
	CheckURL     string        `mapstructure:"check_url" yaml:"check_url" validate:"required,url"`
	Concurrency  int           `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=1"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout" validate:"gt=0"`
	// RelayAddr is where the local relay for authenticated proxies listens.
	RelayAddr string `mapstructure:"relay_addr" yaml:"relay_addr" validate:"required"`
}

// NotifyConfig groups the notification channels.
type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
}

// TelegramConfig holds Bot API credentials. An empty token or chat id disables the channel.
type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token" yaml:"-"`
	ChatID   string        `mapstructure:"chat_id" yaml:"chat_id"`
	APIBase  string        `mapstructure:"api_base" yaml:"api_base" validate:"required,url"`
	Rate     float64       `mapstructure:"rate" yaml:"rate" validate:"gt=0"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// RunConfig holds the inputs of a single run.
type RunConfig struct {
	// Accounts is a whitespace separated list of identifier:secret tokens.
	Accounts      string `mapstructure:"accounts" yaml:"-"`
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir" validate:"required"`
	// ReportTimeout bounds delivery of the final summary.
	ReportTimeout time.Duration `mapstructure:"report_timeout" yaml:"report_timeout" validate:"gt=0"`
}

// DaemonConfig schedules repeated runs.
type DaemonConfig struct {
	Schedule   string `mapstructure:"schedule" yaml:"schedule" validate:"required"`
	RunOnStart bool   `mapstructure:"run_on_start" yaml:"run_on_start"`
}

var validate = validator.New()

// NewDefaultConfig creates a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "hostkeep")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Site --
	v.SetDefault("site.login_url", "https://client.webhostmost.com/login")
	v.SetDefault("site.authenticated_url", "https://client.webhostmost.com/clientarea.php")
	v.SetDefault("site.identifier_selector", "input[placeholder='Enter email']")
	v.SetDefault("site.secret_selector", "input[placeholder='Password']")
	v.SetDefault("site.submit_selector", "//button[normalize-space()='Login']")
	v.SetDefault("site.error_selector", ".MuiAlert-message")
	v.SetDefault("site.greeting_selector", "//*[contains(text(), 'Welcome, ')]")
	v.SetDefault("site.heading_selector", "h1")
	v.SetDefault("site.checkbox_selector", "iframe[src*='challenges.cloudflare.com'], input[type='checkbox'][name*='cf'], #challenge-stage input[type='checkbox']")
	v.SetDefault("site.block_patterns", []string{"Just a moment", "Attention Required", "Checking your browser", "Verify you are human"})

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.human_typing", true)
	v.SetDefault("browser.debug", false)

	// -- Timeouts --
	v.SetDefault("timeouts.navigation", "20s")
	v.SetDefault("timeouts.settle", "20s")
	v.SetDefault("timeouts.element", "10s")
	v.SetDefault("timeouts.click", "5s")
	v.SetDefault("timeouts.challenge", "10s")
	v.SetDefault("timeouts.outcome_window", "15s")
	v.SetDefault("timeouts.launch", "30s")
	v.SetDefault("timeouts.close", "10s")

	// -- Retry --
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", "2s")
	v.SetDefault("retry.max_delay", "30s")

	// -- Proxy --
	v.SetDefault("proxy.urls", "")
	v.SetDefault("proxy.health_check", true)
	v.SetDefault("proxy.check_url", "https://www.google.com/generate_204")
	v.SetDefault("proxy.concurrency", 8)
	v.SetDefault("proxy.probe_timeout", "10s")
	v.SetDefault("proxy.relay_addr", "127.0.0.1:0")

	// -- Notify --
	v.SetDefault("notify.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("notify.telegram.rate", 1.0)
	v.SetDefault("notify.telegram.timeout", "30s")

	// -- Run --
	v.SetDefault("run.accounts", "")
	v.SetDefault("run.screenshot_dir", "screenshots")
	v.SetDefault("run.report_timeout", "30s")

	// -- Daemon --
	v.SetDefault("daemon.schedule", "0 3 * * *")
	v.SetDefault("daemon.run_on_start", false)
}

// legacyEnv maps configuration keys to the environment names deployments already use.
var legacyEnv = map[string]string{
	"run.accounts":              "WEBHOST",
	"proxy.urls":                "PROXY_URLS",
	"notify.telegram.bot_token": "TELEGRAM_BOT_TOKEN",
	"notify.telegram.chat_id":   "TELEGRAM_CHAT_ID",
}

// EnvPrefix is the prefix of every configuration environment variable.
const EnvPrefix = "HOSTKEEP"

// BindEnv binds both the prefixed and the legacy environment names of the sensitive keys.
// The prefixed name wins when both are set.
func BindEnv(v *viper.Viper) error {
	var errs []error
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		errs = append(errs, v.BindEnv(key, prefixed, legacy))
	}
	return errors.Join(errs...)
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	if err := BindEnv(v); err != nil {
		return nil, fmt.Errorf("error binding environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Run.ScreenshotDir, &c.Logger.LogFile, &c.Browser.ExecPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			return fmt.Errorf("%s: %s", fieldPath(fe), describe(fe))
		}
		return err
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must not be shorter than retry.base_delay")
	}
	return nil
}

// fieldPath turns "Config.Retry.MaxAttempts" into "Retry.MaxAttempts".
func fieldPath(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
