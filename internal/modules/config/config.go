package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	chatIDTelegramENV = "TELEGRAM_CHAT_ID"
	journalDSNENV     = "DATABASE_DSN"
	watchSymbolsENV   = "WATCH_SYMBOLS"
)

// Config ...
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Telegram struct {
		Token  string `mapstructure:"token"`
		ChatID int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`

	Market struct {
		BaseURL   string        `mapstructure:"base_url"`
		StreamURL string        `mapstructure:"stream_url"`
		Timeout   time.Duration `mapstructure:"timeout"` // таймаут одного запроса, ретраи — дело поллера
	} `mapstructure:"market"`

	Monitor struct {
		Symbols        []string      `mapstructure:"symbols"`
		WatchlistFile  string        `mapstructure:"watchlist_file"`
		Interval       time.Duration `mapstructure:"interval"`
		CandleInterval string        `mapstructure:"candle_interval"`
		RSIPeriod      int           `mapstructure:"rsi_period"`
		Oversold       float64       `mapstructure:"rsi_oversold"`
		Overbought     float64       `mapstructure:"rsi_overbought"`
		Lookback       int           `mapstructure:"lookback"` // свечей сверх period+1 для стабилизации сглаживания
		WithMACD       bool          `mapstructure:"with_macd"`
		Parallelism    int           `mapstructure:"parallelism"`
		RetryAttempts  int           `mapstructure:"retry_attempts"`
		RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
		Stream         bool          `mapstructure:"stream"`
		HealthEvery    int           `mapstructure:"health_every"` // health-лог раз в N циклов, 0 = выключен
	} `mapstructure:"monitor"`

	Journal struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"journal"`

	Jaeger struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"jaeger"`
}

// watchlistFile — опциональный yaml со списком символов,
// дополняет monitor.symbols из основного конфига.
type watchlistFile struct {
	Symbols []string `yaml:"symbols"`
}

func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	if !filepath.IsAbs(configFileName) {
		configFileName = filepath.Join("configs", configFileName)
	}
	// конфиг-файл опционален: дефолтов + env достаточно для запуска
	if _, err := os.Stat(configFileName); err == nil {
		v.SetConfigFile(configFileName)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	applyEnvOverrides(config)

	var extra []string
	if config.Monitor.WatchlistFile != "" {
		var err error
		extra, err = loadWatchlist(config.Monitor.WatchlistFile)
		if err != nil {
			return nil, err
		}
	}
	config.Monitor.Symbols = mergeSymbols(config.Monitor.Symbols, extra)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("market.base_url", "https://api.binance.com")
	v.SetDefault("market.stream_url", "wss://stream.binance.com:9443")
	v.SetDefault("market.timeout", "5s")

	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("monitor.candle_interval", "1m")
	v.SetDefault("monitor.rsi_period", 14)
	v.SetDefault("monitor.rsi_oversold", 30.0)
	v.SetDefault("monitor.rsi_overbought", 70.0)
	v.SetDefault("monitor.lookback", 86)
	v.SetDefault("monitor.with_macd", false)
	v.SetDefault("monitor.parallelism", 8)
	v.SetDefault("monitor.retry_attempts", 2)
	v.SetDefault("monitor.retry_backoff", "500ms")
	v.SetDefault("monitor.stream", false)
	v.SetDefault("monitor.health_every", 20)

	v.SetDefault("jaeger.port", 6831)
}

func applyEnvOverrides(config *Config) {
	if token := os.Getenv(tokenTelegramENV); token != "" {
		config.Telegram.Token = token
	}
	if raw := os.Getenv(chatIDTelegramENV); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			config.Telegram.ChatID = id
		}
	}
	if dsn := os.Getenv(journalDSNENV); dsn != "" {
		config.Journal.DSN = dsn
	}
	if raw := os.Getenv(watchSymbolsENV); raw != "" {
		config.Monitor.Symbols = mergeSymbols(nil, strings.Split(raw, ","))
	}
}

func loadWatchlist(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open watchlist file")
	}
	defer func() {
		_ = file.Close()
	}()

	var wl watchlistFile
	if err := yaml.NewDecoder(file).Decode(&wl); err != nil {
		return nil, errors.Wrap(err, "decode watchlist file")
	}
	return wl.Symbols, nil
}

func mergeSymbols(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, s := range append(base, extra...) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// validate — фатальные ошибки конфигурации ловим на старте, не в цикле.
func (c *Config) validate() error {
	if len(c.Monitor.Symbols) == 0 {
		return errors.New("config: monitor.symbols is empty")
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return errors.New("config: telegram.token set but telegram.chat_id is missing")
	}
	if c.Monitor.Interval < time.Second {
		return errors.Errorf("config: monitor.interval too small: %s", c.Monitor.Interval)
	}
	if c.Monitor.RSIPeriod < 2 {
		return errors.Errorf("config: monitor.rsi_period must be >= 2, got %d", c.Monitor.RSIPeriod)
	}
	if c.Monitor.Oversold >= c.Monitor.Overbought {
		return errors.Errorf("config: rsi_oversold %.1f must be below rsi_overbought %.1f",
			c.Monitor.Oversold, c.Monitor.Overbought)
	}
	if c.Monitor.Lookback < 0 {
		return errors.New("config: monitor.lookback must not be negative")
	}
	if c.Monitor.Parallelism < 1 {
		return errors.New("config: monitor.parallelism must be >= 1")
	}
	if c.Market.Timeout <= 0 {
		return errors.New("config: market.timeout must be positive")
	}
	return nil
}

// CandleCount — длина окна индикатора: period+1 минимум плюс lookback.
func (c *Config) CandleCount() int {
	return c.Monitor.RSIPeriod + 1 + c.Monitor.Lookback
}
