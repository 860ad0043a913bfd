package config

import (
	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/egorkrivoshey335-create/bot-posts/pkg/logger"
)

type Config struct {
	Bot        BotConfig        `yaml:"bot"`
	Database   DatabaseConfig   `yaml:"database"`
	Logger     logger.Config    `yaml:"logger"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Status     StatusConfig     `yaml:"status"`
}

type BotConfig struct {
	Token     string  `yaml:"token"`
	ChannelID int64   `yaml:"channel_id"`
	AdminIDs  []int64 `yaml:"admin_ids"`
	Timezone  string  `yaml:"timezone"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

type SchedulerConfig struct {
	// MisfireGrace bounds how late a timer may fire and still publish.
	MisfireGrace string `yaml:"misfire_grace"`
}

type AggregatorConfig struct {
	// DebounceWindow is the wait used to detect "no more album items coming".
	DebounceWindow string `yaml:"debounce_window"`
}

type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Mode    string `yaml:"mode"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Bot.Timezone == "" {
		cfg.Bot.Timezone = "Europe/Moscow"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Scheduler.MisfireGrace == "" {
		cfg.Scheduler.MisfireGrace = "5m"
	}
	if cfg.Aggregator.DebounceWindow == "" {
		cfg.Aggregator.DebounceWindow = "500ms"
	}
	if cfg.Status.Host == "" {
		cfg.Status.Host = "localhost"
	}
	if cfg.Status.Port == 0 {
		cfg.Status.Port = 5334
	}
	if cfg.Status.Mode == "" {
		cfg.Status.Mode = "release"
	}

	return cfg, nil
}
