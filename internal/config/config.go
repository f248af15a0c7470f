package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Supabase  SupabaseConfig
	Cache     CacheConfig
	Printer   PrinterConfig
	AutoPrint AutoPrintConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type SupabaseConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type CacheConfig struct {
	DatabasePath string
	PullLimit    int
}

type PrinterConfig struct {
	ConfigPath string
	BackupPath string
}

type AutoPrintConfig struct {
	PollInterval time.Duration
}

type LogConfig struct {
	Level string
}

type TelemetryConfig struct {
	Enabled      bool
	QueueSize    int
	SpillPath    string
	FlushTimeout time.Duration
}

func Load() (*Config, error) {
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", 8520)
	viper.SetDefault("SERVER_API_TOKEN", "")
	viper.SetDefault("SUPABASE_URL", "")
	viper.SetDefault("SUPABASE_API_KEY", "")
	viper.SetDefault("SUPABASE_TIMEOUT", "15s")
	viper.SetDefault("CACHE_DB_PATH", "cache/orders.db")
	viper.SetDefault("CACHE_PULL_LIMIT", 20)
	viper.SetDefault("PRINTER_CONFIG_PATH", "printer_config.json")
	viper.SetDefault("RECEIPT_BACKUP_PATH", "receipts/last_receipt.bin")
	viper.SetDefault("AUTO_PRINT_POLL_INTERVAL", "5s")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("TELEMETRY_ENABLED", false)
	viper.SetDefault("TELEMETRY_QUEUE_SIZE", 256)
	viper.SetDefault("TELEMETRY_SPILL_PATH", "logs/telemetry_spill.jsonl")
	viper.SetDefault("TELEMETRY_FLUSH_TIMEOUT", "5s")

	supabaseTimeout, err := time.ParseDuration(viper.GetString("SUPABASE_TIMEOUT"))
	if err != nil {
		return nil, err
	}
	pollInterval, err := time.ParseDuration(viper.GetString("AUTO_PRINT_POLL_INTERVAL"))
	if err != nil {
		return nil, err
	}
	flushTimeout, err := time.ParseDuration(viper.GetString("TELEMETRY_FLUSH_TIMEOUT"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetInt("SERVER_PORT"),
			APIToken: viper.GetString("SERVER_API_TOKEN"),
		},
		Supabase: SupabaseConfig{
			URL:     viper.GetString("SUPABASE_URL"),
			APIKey:  viper.GetString("SUPABASE_API_KEY"),
			Timeout: supabaseTimeout,
		},
		Cache: CacheConfig{
			DatabasePath: viper.GetString("CACHE_DB_PATH"),
			PullLimit:    viper.GetInt("CACHE_PULL_LIMIT"),
		},
		Printer: PrinterConfig{
			ConfigPath: viper.GetString("PRINTER_CONFIG_PATH"),
			BackupPath: viper.GetString("RECEIPT_BACKUP_PATH"),
		},
		AutoPrint: AutoPrintConfig{
			PollInterval: pollInterval,
		},
		Log: LogConfig{
			Level: viper.GetString("LOG_LEVEL"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      viper.GetBool("TELEMETRY_ENABLED"),
			QueueSize:    viper.GetInt("TELEMETRY_QUEUE_SIZE"),
			SpillPath:    viper.GetString("TELEMETRY_SPILL_PATH"),
			FlushTimeout: flushTimeout,
		},
	}

	return cfg, nil
}
