package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "drakan_server.cfg.json"

// ServerConfig holds simulation settings.
type ServerConfig struct {
	Level              string        `json:"level" mapstructure:"level"`
	LevelsDir          string        `json:"levelsDir" mapstructure:"levelsDir"`
	TickRate           float64       `json:"tickRate" mapstructure:"tickRate"`
	RetainedTicks      int           `json:"retainedTicks" mapstructure:"retainedTicks"`
	ViewInterpolation  time.Duration `json:"viewInterpolation" mapstructure:"viewInterpolation"`
	MaxLagCompensation time.Duration `json:"maxLagCompensation" mapstructure:"maxLagCompensation"`
}

// ListenConfig holds transport addresses. An empty address disables the
// transport.
type ListenConfig struct {
	TCP           string `json:"tcp" mapstructure:"tcp"`
	WebSocket     string `json:"websocket" mapstructure:"websocket"`
	WebSocketPath string `json:"websocketPath" mapstructure:"websocketPath"`
	QUIC          string `json:"quic" mapstructure:"quic"`
	SendQueue     int    `json:"sendQueue" mapstructure:"sendQueue"`
}

// SQLiteConfig holds SQLite savegame store settings
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
	// DumpPath receives a VACUUM INTO copy every DumpInterval and on close.
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// PostgresConfig holds PostgreSQL savegame store settings
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslMode" mapstructure:"sslMode"`
}

// StorageConfig selects and configures the savegame store
type StorageConfig struct {
	Type             string         `json:"type" mapstructure:"type"`
	AutosaveInterval time.Duration  `json:"autosaveInterval" mapstructure:"autosaveInterval"`
	Keep             int            `json:"keep" mapstructure:"keep"`
	SQLite           SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres         PostgresConfig `json:"postgres" mapstructure:"postgres"`
}

// InfluxConfig holds telemetry settings
type InfluxConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Host      string `json:"host" mapstructure:"host"`
	Port      string `json:"port" mapstructure:"port"`
	Protocol  string `json:"protocol" mapstructure:"protocol"`
	Token     string `json:"token" mapstructure:"token"`
	Org       string `json:"org" mapstructure:"org"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	BackupDir string `json:"backupDir" mapstructure:"backupDir"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// BotConfig holds settings of the headless test client
type BotConfig struct {
	Server       string        `json:"server" mapstructure:"server"`
	Transport    string        `json:"transport" mapstructure:"transport"`
	ActionPeriod time.Duration `json:"actionPeriod" mapstructure:"actionPeriod"`
	HistorySize  int           `json:"historySize" mapstructure:"historySize"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	// Set default values
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("server.level", "levels/default.json")
	viper.SetDefault("server.levelsDir", ".")
	viper.SetDefault("server.tickRate", 30.0)
	viper.SetDefault("server.retainedTicks", 64)
	viper.SetDefault("server.viewInterpolation", "100ms")
	viper.SetDefault("server.maxLagCompensation", "1s")

	viper.SetDefault("listen.tcp", ":6969")
	viper.SetDefault("listen.websocket", "")
	viper.SetDefault("listen.websocketPath", "/statesync")
	viper.SetDefault("listen.quic", "")
	viper.SetDefault("listen.sendQueue", 256)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.autosaveInterval", "5m")
	viper.SetDefault("storage.keep", 10)
	viper.SetDefault("storage.sqlite.path", "./savegames.db")
	viper.SetDefault("storage.sqlite.dumpPath", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "10m")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "drakan")
	viper.SetDefault("storage.postgres.sslMode", "disable")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "drakan-metrics")
	viper.SetDefault("influx.bucket", "statesync")
	viper.SetDefault("influx.backupDir", "./influx-backup")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "drakan-server")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("monitor.interval", "10s")

	viper.SetDefault("bot.server", "localhost:6969")
	viper.SetDefault("bot.transport", "tcp")
	viper.SetDefault("bot.actionPeriod", "500ms")
	viper.SetDefault("bot.historySize", 64)

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetServerConfig returns the simulation settings.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Level:              viper.GetString("server.level"),
		LevelsDir:          viper.GetString("server.levelsDir"),
		TickRate:           viper.GetFloat64("server.tickRate"),
		RetainedTicks:      viper.GetInt("server.retainedTicks"),
		ViewInterpolation:  viper.GetDuration("server.viewInterpolation"),
		MaxLagCompensation: viper.GetDuration("server.maxLagCompensation"),
	}
}

// GetListenConfig returns the transport addresses.
func GetListenConfig() ListenConfig {
	return ListenConfig{
		TCP:           viper.GetString("listen.tcp"),
		WebSocket:     viper.GetString("listen.websocket"),
		WebSocketPath: viper.GetString("listen.websocketPath"),
		QUIC:          viper.GetString("listen.quic"),
		SendQueue:     viper.GetInt("listen.sendQueue"),
	}
}

// GetStorageConfig returns the savegame store settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:             viper.GetString("storage.type"),
		AutosaveInterval: viper.GetDuration("storage.autosaveInterval"),
		Keep:             viper.GetInt("storage.keep"),
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
			SSLMode:  viper.GetString("storage.postgres.sslMode"),
		},
	}
}

// GetInfluxConfig returns the telemetry settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:   viper.GetBool("influx.enabled"),
		Host:      viper.GetString("influx.host"),
		Port:      viper.GetString("influx.port"),
		Protocol:  viper.GetString("influx.protocol"),
		Token:     viper.GetString("influx.token"),
		Org:       viper.GetString("influx.org"),
		Bucket:    viper.GetString("influx.bucket"),
		BackupDir: viper.GetString("influx.backupDir"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetBotConfig returns the headless client settings.
func GetBotConfig() BotConfig {
	return BotConfig{
		Server:       viper.GetString("bot.server"),
		Transport:    viper.GetString("bot.transport"),
		ActionPeriod: viper.GetDuration("bot.actionPeriod"),
		HistorySize:  viper.GetInt("bot.historySize"),
	}
}
