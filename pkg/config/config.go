package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/blwatch/blwatch/pkg/types"
)

// ErrMissing reports a required option that was neither set in the
// environment nor resolvable through its *_FILE secret fallback.
var ErrMissing = errors.New("missing configuration value")

// Defaults mirroring the historical deployment.
const (
	DefaultQueueName       = "task_queue"
	DefaultWorkers         = 50
	DefaultBulkUpdateCount = 500
	DefaultPublishBatch    = 10000
)

// Broker holds the RabbitMQ connection settings.
type Broker struct {
	Host     string
	Port     int
	Username string
	Password string
	Queue    string
	Workers  int
}

// URL renders the AMQP connection string.
func (b Broker) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", b.Username, b.Password, b.Host, b.Port)
}

// Postgres holds the analytic store connection settings.
type Postgres struct {
	Host     string
	Port     int
	DB       string
	Username string
	Password string
}

// DSN renders a keyword/value connection string for the pgx stdlib driver.
func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		p.Host, p.Port, p.DB, p.Username, p.Password)
}

// Mongo holds the optional analytic mirror settings. Empty URL disables it.
type Mongo struct {
	URL    string
	DBName string
}

// SQLite holds the ledger settings.
type SQLite struct {
	DBPath          string `yaml:"db_path"`
	BulkUpdateCount int    `yaml:"bulk_update_count"`
}

// Logging holds the log sink paths.
type Logging struct {
	AppLogPath   string
	ErrorLogPath string
}

// Config is the full runtime configuration: environment-sourced connection
// settings merged with the YAML document carrying the zone set.
type Config struct {
	Env          string
	Broker       Broker
	Postgres     Postgres
	Mongo        Mongo
	SQLite       SQLite
	Logging      Logging
	PrefixesFile string
	Resolvers    []string
	Blacklists   []types.Zone
}

// yamlFile is the on-disk shape of the config document.
type yamlFile struct {
	PrefixesFile string       `yaml:"prefixes_file"`
	Resolvers    []string     `yaml:"resolvers"`
	SQLite       SQLite       `yaml:"sqlite"`
	Blacklists   []types.Zone `yaml:"blacklists"`
}

// Load reads the YAML document at path and merges it with environment
// variables. Unset environment values fall back to <KEY>_FILE secret files
// before failing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var doc yamlFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := &Config{
		Env: getenv("RUN_ENV", "local"),
		Broker: Broker{
			Host:     getenv("RABBITMQ_HOST", "localhost"),
			Port:     getenvInt("RABBITMQ_PORT", 5672),
			Username: getenv("RABBITMQ_USERNAME", ""),
			Password: getenv("RABBITMQ_PASSWORD", ""),
			Queue:    getenv("RABBITMQ_DEFAULT_QUEUE", DefaultQueueName),
			Workers:  getenvInt("RABBITMQ_CONCURRENCY_LIMIT", DefaultWorkers),
		},
		Postgres: Postgres{
			Host:     getenv("POSTGRES_HOST", "localhost"),
			Port:     getenvInt("POSTGRES_PORT", 5432),
			DB:       getenv("POSTGRES_DB", ""),
			Username: getenv("POSTGRES_USERNAME", ""),
			Password: getenv("POSTGRES_PASSWORD", ""),
		},
		Mongo: Mongo{
			URL:    getenv("MONGO_URL", ""),
			DBName: getenv("MONGO_DB_NAME", ""),
		},
		Logging: Logging{
			AppLogPath:   getenv("APP_LOG_PATH", ""),
			ErrorLogPath: getenv("ERROR_LOG_PATH", ""),
		},
		SQLite:       doc.SQLite,
		PrefixesFile: doc.PrefixesFile,
		Resolvers:    doc.Resolvers,
		Blacklists:   doc.Blacklists,
	}

	if cfg.SQLite.BulkUpdateCount <= 0 {
		cfg.SQLite.BulkUpdateCount = DefaultBulkUpdateCount
	}
	if cfg.Broker.Workers <= 0 {
		cfg.Broker.Workers = DefaultWorkers
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Broker.Username == "":
		return fmt.Errorf("%w: RABBITMQ_USERNAME", ErrMissing)
	case c.Broker.Password == "":
		return fmt.Errorf("%w: RABBITMQ_PASSWORD", ErrMissing)
	case c.Postgres.DB == "":
		return fmt.Errorf("%w: POSTGRES_DB", ErrMissing)
	case c.Postgres.Username == "":
		return fmt.Errorf("%w: POSTGRES_USERNAME", ErrMissing)
	case c.SQLite.DBPath == "":
		return fmt.Errorf("%w: sqlite.db_path", ErrMissing)
	case c.PrefixesFile == "":
		return fmt.Errorf("%w: prefixes_file", ErrMissing)
	case len(c.Blacklists) == 0:
		return fmt.Errorf("%w: blacklists", ErrMissing)
	}
	for _, z := range c.Blacklists {
		if z.DNS == "" {
			return fmt.Errorf("%w: blacklists[].dns (zone %q)", ErrMissing, z.Name)
		}
	}
	if c.Mongo.URL != "" && c.Mongo.DBName == "" {
		return fmt.Errorf("%w: MONGO_DB_NAME", ErrMissing)
	}
	return nil
}

// getenv resolves key from the environment, then from the file named by
// <key>_FILE, then falls back to def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if path := os.Getenv(key + "_FILE"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
