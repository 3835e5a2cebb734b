// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App             AppConfig               `mapstructure:"app"`
	Camunda         CamundaConfig           `mapstructure:"camunda"`
	Database        DatabaseConfig          `mapstructure:"database"`
	Workers         map[string]WorkerConfig `mapstructure:"workers"`
	Auth            AuthConfig              `mapstructure:"auth"`
	Ledger          RemoteServiceConfig     `mapstructure:"ledger"`
	LicenseRegistry RemoteServiceConfig     `mapstructure:"license_registry"`
	Signer          RemoteServiceConfig     `mapstructure:"signer"`
	Settlement      SettlementConfig        `mapstructure:"settlement"`
	Notifications   NotificationConfig      `mapstructure:"notifications"`
	Logging         LoggingConfig           `mapstructure:"logging"`
	Observability   ObservabilityConfig     `mapstructure:"observability"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	HTTPPort    int    `mapstructure:"http_port"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses     []string `mapstructure:"addresses"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	SSLEnabled    bool     `mapstructure:"ssl_enabled"`
	URL           string   `mapstructure:"url"`
	LicensesIndex string   `mapstructure:"licenses_index"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// AuthConfig holds the Keycloak client used to obtain service tokens for the remote registries.
type AuthConfig struct {
	Keycloak struct {
		URL          string `mapstructure:"url"`
		Realm        string `mapstructure:"realm"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
	} `mapstructure:"keycloak"`
}

// RemoteServiceConfig describes one of the HTTP services the pipeline calls
// (ledger, license registry, wallet signer).
type RemoteServiceConfig struct {
	BaseURL   string  `mapstructure:"base_url"`
	Timeout   int     `mapstructure:"timeout"`    // milliseconds
	RateLimit float64 `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int     `mapstructure:"burst"`
	UseAuth   bool    `mapstructure:"use_auth"`
	CacheTTL  int     `mapstructure:"cache_ttl"` // seconds, ledger metadata only
}

// Precision policies for amounts with more fractional digits than the token supports.
const (
	PrecisionReject   = "reject"
	PrecisionTruncate = "truncate"
)

type SettlementConfig struct {
	// MintTarget is the account the license is minted to. Empty means the applicant.
	MintTarget           string               `mapstructure:"mint_target"`
	TokenURIBase         string               `mapstructure:"token_uri_base"`
	PrecisionPolicy      string               `mapstructure:"precision_policy"`
	LockTTL              int                  `mapstructure:"lock_ttl"` // milliseconds
	RecordPaymentRetries int                  `mapstructure:"record_payment_retries"`
	RecordPaymentBackoff int                  `mapstructure:"record_payment_backoff"` // milliseconds
	BalanceCheckEnabled  bool                 `mapstructure:"balance_check_enabled"`
	Reconciliation       ReconciliationConfig `mapstructure:"reconciliation"`
}

type ReconciliationConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Schedule      string `mapstructure:"schedule"`    // cron expression
	StaleAfter    int    `mapstructure:"stale_after"` // milliseconds
	OperatorEmail string `mapstructure:"operator_email"`
}

// NotificationConfig holds settings for settlement events and operator alerts.
type NotificationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	SES struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"ses"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type ObservabilityConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Tracing     struct {
		Enabled        bool   `mapstructure:"enabled"`
		JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	} `mapstructure:"tracing"`
}
