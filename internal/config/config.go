package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/pharma-cart/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Queue        QueueConfig        `yaml:"queue" mapstructure:"queue"`
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Blob         BlobConfig         `yaml:"blob" mapstructure:"blob"`
	Browser      BrowserConfig      `yaml:"browser" mapstructure:"browser"`
	Worker       WorkerConfig       `yaml:"worker" mapstructure:"worker"`
	Health       HealthConfig       `yaml:"health" mapstructure:"health"`
	Publisher    PublisherConfig    `yaml:"publisher" mapstructure:"publisher"`
	RowSource    RowSourceConfig    `yaml:"rowsource" mapstructure:"rowsource"`
	Diagnostics  DiagnosticsConfig  `yaml:"diagnostics" mapstructure:"diagnostics"`
	Distributors DistributorsConfig `yaml:"distributors" mapstructure:"distributors"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// QueueConfig selects the inbound task queue and the outbound update queue.
type QueueConfig struct {
	Driver           string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL      string `yaml:"database_url" mapstructure:"database_url"`
	ConnectionString string `yaml:"connection_string" mapstructure:"connection_string"`
	TasksName        string `yaml:"tasks_name" mapstructure:"tasks_name"`
	UpdatesName      string `yaml:"updates_name" mapstructure:"updates_name"`
	LeaseSecs        int    `yaml:"lease_secs" mapstructure:"lease_secs"`
	MaxDeliveries    int    `yaml:"max_deliveries" mapstructure:"max_deliveries"`
}

// StoreConfig configures the task document store.
type StoreConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// BlobConfig configures the object store and its containers.
type BlobConfig struct {
	Driver           string `yaml:"driver" mapstructure:"driver"`
	ConnectionString string `yaml:"connection_string" mapstructure:"connection_string"`
	LocalDir         string `yaml:"local_dir" mapstructure:"local_dir"`
	InputContainer   string `yaml:"input_container" mapstructure:"input_container"`
	OutputContainer  string `yaml:"output_container" mapstructure:"output_container"`
	LogContainer     string `yaml:"log_container" mapstructure:"log_container"`
}

// BrowserConfig configures the automated browser sessions.
type BrowserConfig struct {
	Headless           bool   `yaml:"headless" mapstructure:"headless"`
	ExecPath           string `yaml:"exec_path" mapstructure:"exec_path"`
	WindowWidth        int    `yaml:"window_width" mapstructure:"window_width"`
	WindowHeight       int    `yaml:"window_height" mapstructure:"window_height"`
	ActionTimeoutSecs  int    `yaml:"action_timeout_secs" mapstructure:"action_timeout_secs"`
	ProbeTimeoutSecs   int    `yaml:"probe_timeout_secs" mapstructure:"probe_timeout_secs"`
	RetryBackoffMillis int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// ActionTimeout bounds a single UI action.
func (b BrowserConfig) ActionTimeout() time.Duration {
	return time.Duration(b.ActionTimeoutSecs) * time.Second
}

// ProbeTimeout bounds optional waits such as popups that may never appear.
func (b BrowserConfig) ProbeTimeout() time.Duration {
	return time.Duration(b.ProbeTimeoutSecs) * time.Second
}

// WorkerConfig configures the run loop.
type WorkerConfig struct {
	ReceiveWaitSecs int `yaml:"receive_wait_secs" mapstructure:"receive_wait_secs"`
}

// HealthConfig configures the liveness listener.
type HealthConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	Port    int  `yaml:"port" mapstructure:"port"`
}

// PublisherConfig configures the outbound circuit breakers.
type PublisherConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// RowSourceConfig fixes the spreadsheet layout. Rows and columns are 1-based.
type RowSourceConfig struct {
	StartRow       int `yaml:"start_row" mapstructure:"start_row"`
	NameColumn     int `yaml:"name_column" mapstructure:"name_column"`
	QuantityColumn int `yaml:"quantity_column" mapstructure:"quantity_column"`
}

// DiagnosticsConfig configures failure capture.
type DiagnosticsConfig struct {
	LogTailLines      int `yaml:"log_tail_lines" mapstructure:"log_tail_lines"`
	UploadConcurrency int `yaml:"upload_concurrency" mapstructure:"upload_concurrency"`
}

// DistributorsConfig holds per-distributor settings.
type DistributorsConfig struct {
	Sting   StingConfig   `yaml:"sting" mapstructure:"sting"`
	Phoenix PhoenixConfig `yaml:"phoenix" mapstructure:"phoenix"`
}

// StingConfig configures the Sting storefront.
type StingConfig struct {
	DistributorConfig `yaml:",inline" mapstructure:",squash"`
	PaymentMethod     string `yaml:"payment_method" mapstructure:"payment_method"`
}

// PhoenixConfig configures the Phoenix storefront.
type PhoenixConfig struct {
	DistributorConfig `yaml:",inline" mapstructure:",squash"`
	OrderType         string  `yaml:"order_type" mapstructure:"order_type"`
	SearchRPS         float64 `yaml:"search_rps" mapstructure:"search_rps"`
}

// DistributorConfig is shared by every distributor.
type DistributorConfig struct {
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	Priority int    `yaml:"priority" mapstructure:"priority"`
	// Users lists credentials per pharmacy. UsersJSON carries the same list
	// as a JSON string and is merged in, which suits environment variables.
	Users     []Credential `yaml:"users" mapstructure:"users"`
	UsersJSON string       `yaml:"users_json" mapstructure:"users_json"`
}

// Credential is a storefront login bound to one pharmacy.
type Credential struct {
	PharmacyID string `yaml:"id" mapstructure:"id" json:"id"`
	Username   string `yaml:"username" mapstructure:"username" json:"username"`
	Password   string `yaml:"password" mapstructure:"password" json:"password"`
}

// Credentials returns Users followed by the entries decoded from UsersJSON.
// UsersJSON may be double-encoded.
func (d DistributorConfig) Credentials() ([]Credential, error) {
	out := append([]Credential(nil), d.Users...)
	raw := strings.TrimSpace(d.UsersJSON)
	for raw != "" {
		var nested string
		if err := json.Unmarshal([]byte(raw), &nested); err == nil {
			raw = strings.TrimSpace(nested)
			continue
		}
		var users []Credential
		if err := json.Unmarshal([]byte(raw), &users); err != nil {
			return nil, eris.Wrap(err, "config: decode users_json")
		}
		out = append(out, users...)
		break
	}
	return out, nil
}

// CredentialFor returns the credential registered for pharmacyID.
func (d DistributorConfig) CredentialFor(pharmacyID string) (Credential, bool, error) {
	creds, err := d.Credentials()
	if err != nil {
		return Credential{}, false, err
	}
	for _, c := range creds {
		if c.PharmacyID == pharmacyID {
			return c, true, nil
		}
	}
	return Credential{}, false, nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PHARMACART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("queue.driver", "postgres")
	v.SetDefault("queue.database_url", "")
	v.SetDefault("queue.connection_string", "")
	v.SetDefault("queue.tasks_name", "scraper-tasks")
	v.SetDefault("queue.updates_name", "scraper-task-updates")
	v.SetDefault("queue.lease_secs", 1800)
	v.SetDefault("queue.max_deliveries", 3)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("blob.driver", "local")
	v.SetDefault("blob.local_dir", "./blobs")
	v.SetDefault("blob.connection_string", "")
	v.SetDefault("blob.input_container", "input")
	v.SetDefault("blob.output_container", "output")
	v.SetDefault("blob.log_container", "log")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.action_timeout_secs", 10)
	v.SetDefault("browser.probe_timeout_secs", 2)
	v.SetDefault("browser.retry_backoff_ms", 250)
	v.SetDefault("worker.receive_wait_secs", 5)
	v.SetDefault("health.enabled", false)
	v.SetDefault("health.port", 8081)
	v.SetDefault("publisher.failure_threshold", 3)
	v.SetDefault("publisher.cooldown_secs", 30)
	v.SetDefault("rowsource.start_row", 1)
	v.SetDefault("rowsource.name_column", 2)
	v.SetDefault("rowsource.quantity_column", 4)
	v.SetDefault("diagnostics.log_tail_lines", 500)
	v.SetDefault("diagnostics.upload_concurrency", 4)
	v.SetDefault("distributors.sting.base_url", "http://web.stingpharma.com")
	v.SetDefault("distributors.sting.priority", 10)
	v.SetDefault("distributors.sting.payment_method", "СП-30 дни, БАНКОВ ПРЕВОД")
	v.SetDefault("distributors.sting.users_json", "")
	v.SetDefault("distributors.phoenix.base_url", "https://b2b.phoenixpharma.bg")
	v.SetDefault("distributors.phoenix.priority", 20)
	v.SetDefault("distributors.phoenix.order_type", "Нова поръчка свободна")
	v.SetDefault("distributors.phoenix.search_rps", 2.0)
	v.SetDefault("distributors.phoenix.users_json", "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is "work" or "migrate".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "work":
		problems = append(problems, c.validateQueue()...)
		problems = append(problems, c.validateStore()...)
		switch c.Blob.Driver {
		case "azure":
			if c.Blob.ConnectionString == "" {
				problems = append(problems, "blob.connection_string is required for the azure driver")
			}
		case "local":
			if c.Blob.LocalDir == "" {
				problems = append(problems, "blob.local_dir is required for the local driver")
			}
		default:
			problems = append(problems, fmt.Sprintf("blob.driver %q is not supported", c.Blob.Driver))
		}
		if c.Worker.ReceiveWaitSecs <= 0 {
			problems = append(problems, "worker.receive_wait_secs must be > 0")
		}
		if c.Browser.ActionTimeoutSecs < 1 || c.Browser.ActionTimeoutSecs > 60 {
			problems = append(problems, "browser.action_timeout_secs must be between 1 and 60")
		}
		if c.Health.Enabled && c.Health.Port <= 0 {
			problems = append(problems, "health.port must be > 0")
		}
		if c.RowSource.StartRow < 1 || c.RowSource.NameColumn < 1 || c.RowSource.QuantityColumn < 1 {
			problems = append(problems, "rowsource rows and columns are 1-based")
		}
		for name, d := range map[string]DistributorConfig{
			"sting":   c.Distributors.Sting.DistributorConfig,
			"phoenix": c.Distributors.Phoenix.DistributorConfig,
		} {
			if _, err := d.Credentials(); err != nil {
				problems = append(problems, fmt.Sprintf("distributors.%s.users_json is not valid JSON", name))
			}
		}
	case "migrate":
		problems = append(problems, c.validateStore()...)
		if c.Queue.Driver == "postgres" {
			problems = append(problems, c.validateQueue()...)
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateQueue() []string {
	switch c.Queue.Driver {
	case "postgres":
		if c.Queue.DatabaseURL == "" && c.Store.DatabaseURL == "" {
			return []string{"queue.database_url (or store.database_url) is required for the postgres queue"}
		}
	case "servicebus":
		if c.Queue.ConnectionString == "" {
			return []string{"queue.connection_string is required for the servicebus queue"}
		}
	default:
		return []string{fmt.Sprintf("queue.driver %q is not supported", c.Queue.Driver)}
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "postgres", "sqlite":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required"}
		}
	default:
		return []string{fmt.Sprintf("store.driver %q is not supported", c.Store.Driver)}
	}
	return nil
}

// QueueDatabaseURL returns the queue DSN, falling back to the store's.
func (c *Config) QueueDatabaseURL() string {
	if c.Queue.DatabaseURL != "" {
		return c.Queue.DatabaseURL
	}
	return c.Store.DatabaseURL
}

// Redacted returns a copy with every secret replaced.
func (c *Config) Redacted() *Config {
	out := *c
	const mask = "[redacted]"
	redact := func(s string) string {
		if s == "" {
			return ""
		}
		return mask
	}
	out.Queue.DatabaseURL = redact(c.Queue.DatabaseURL)
	out.Queue.ConnectionString = redact(c.Queue.ConnectionString)
	out.Store.DatabaseURL = redact(c.Store.DatabaseURL)
	out.Blob.ConnectionString = redact(c.Blob.ConnectionString)

	redactUsers := func(d DistributorConfig) DistributorConfig {
		d.UsersJSON = redact(d.UsersJSON)
		users := make([]Credential, len(d.Users))
		for i, u := range d.Users {
			users[i] = Credential{PharmacyID: u.PharmacyID, Username: u.Username, Password: redact(u.Password)}
		}
		d.Users = users
		return d
	}
	out.Distributors.Sting.DistributorConfig = redactUsers(c.Distributors.Sting.DistributorConfig)
	out.Distributors.Phoenix.DistributorConfig = redactUsers(c.Distributors.Phoenix.DistributorConfig)
	return &out
}

// InitLogger initializes the global zap logger. Extra cores are teed with
// the configured one.
func InitLogger(cfg LogConfig, extra ...zapcore.Core) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	var opts []zap.Option
	if len(extra) > 0 {
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(append([]zapcore.Core{core}, extra...)...)
		}))
	}

	logger, err := zapCfg.Build(opts...)
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
