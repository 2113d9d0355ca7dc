package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	Auth          AuthConfig          `mapstructure:"auth"`
	MQTT          MQTTConfig          `mapstructure:"mqtt"`
	Session       SessionConfig       `mapstructure:"session"`
	SFTP          SFTPConfig          `mapstructure:"sftp"`
	ObjectStorage ObjectStorageConfig `mapstructure:"object_storage"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Features      FeaturesConfig      `mapstructure:"features"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BaseURL is where the server reaches itself for task kickoff.
func (s *ServerConfig) BaseURL() string {
	if s.PublicURL != "" {
		return strings.TrimRight(s.PublicURL, "/")
	}
	host := s.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, s.Port)
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type AuthConfig struct {
	AdminAPIKey    string   `mapstructure:"admin_api_key"`
	AgentToken     string   `mapstructure:"agent_token"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	CommandPrefix  string        `mapstructure:"command_prefix"`
	ResponseRoot   string        `mapstructure:"response_root"`
	QoS            byte          `mapstructure:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type SessionConfig struct {
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type SFTPConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	KnownHostsPath string        `mapstructure:"known_hosts_path"`
	BaseDir        string        `mapstructure:"base_dir"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type ObjectStorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type ArchiveConfig struct {
	WorkDir          string `mapstructure:"work_dir"`
	FetchConcurrency int    `mapstructure:"fetch_concurrency"`
}

type EngineConfig struct {
	Workers     int           `mapstructure:"workers"`
	LogJitter   time.Duration `mapstructure:"log_jitter"`
	KickTimeout time.Duration `mapstructure:"kick_timeout"`
}

type TracingConfig struct {
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type FeaturesConfig struct {
	EnableLocks          bool   `mapstructure:"enable_locks"`
	RequestIDHeader      string `mapstructure:"request_id_header"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")

	v.SetDefault("mqtt.client_id", "fleetmaint-server")
	v.SetDefault("mqtt.command_prefix", "fleet")
	v.SetDefault("mqtt.response_root", "fleet")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.publish_timeout", 5*time.Second)

	v.SetDefault("session.topic_prefix", "fleet")

	v.SetDefault("sftp.port", 22)
	v.SetDefault("sftp.timeout", 30*time.Second)

	v.SetDefault("object_storage.bucket", "fleet-logs")
	v.SetDefault("object_storage.key_prefix", "logs")

	v.SetDefault("archive.work_dir", "/tmp/fleetmaint")
	v.SetDefault("archive.fetch_concurrency", 4)

	v.SetDefault("engine.workers", 32)
	v.SetDefault("engine.log_jitter", 2*time.Second)
	v.SetDefault("engine.kick_timeout", 10*time.Second)

	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.service_name", "fleetmaint")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("features.enable_locks", true)
	v.SetDefault("features.request_id_header", "X-Request-ID")
}

// Load reads the config file at path, when given, and overlays FLEETMAINT_*
// environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FLEETMAINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout", "otlphttp":
	default:
		return fmt.Errorf("config: unsupported tracing.exporter %q", c.Tracing.Exporter)
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("config: mqtt.broker_url is required when mqtt is enabled")
	}
	if c.ObjectStorage.Enabled && c.ObjectStorage.Endpoint == "" {
		return fmt.Errorf("config: object_storage.endpoint is required when object storage is enabled")
	}
	return nil
}
