// Package config
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Trading phases. Phase 1 runs on mock data with paper orders, phase 2 on
// real broker data with paper orders, phase 3 places real orders.
const (
	PhaseMockPaper = 1
	PhaseDataPaper = 2
	PhaseLive      = 3
)

// ClockTime is a wall-clock time of day ("HH:MM") in the exchange timezone.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Minutes returns the minute of day, for ordering comparisons.
func (c ClockTime) Minutes() int { return c.Hour*60 + c.Minute }

// On anchors the clock time onto the given date in loc.
func (c ClockTime) On(day time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, loc)
}

func (c *ClockTime) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c ClockTime) MarshalYAML() (any, error) { return c.String(), nil }

// Times groups the session schedule.
type Times struct {
	MarketStart     ClockTime `yaml:"market_start"`
	MarketEnd       ClockTime `yaml:"market_end"`
	RefWindowStart  ClockTime `yaml:"reference_window_start"`
	RefWindowEnd    ClockTime `yaml:"reference_window_end"`
	StrikeSelection ClockTime `yaml:"strike_selection"`
	HardExit        ClockTime `yaml:"hard_exit"`
}

type Config struct {
	Phase int `yaml:"trading_phase" validate:"min=1,max=3"`

	// Broker data API (phases 2 and 3)
	KiteAPIKey      string `yaml:"kite_api_key"`
	KiteAPISecret   string `yaml:"kite_api_secret"`
	KiteAccessToken string `yaml:"kite_access_token"`
	KiteAPIBaseURL  string `yaml:"kite_api_base_url" validate:"required,url"`
	KiteWSURL       string `yaml:"kite_ws_url" validate:"required"`

	// Execution API (phase 3)
	AlgoTestAPIKey  string `yaml:"algotest_api_key"`
	AlgoTestBaseURL string `yaml:"algotest_base_url" validate:"required,url"`

	// Strategy parameters
	StrikeOffset      float64 `yaml:"strike_offset" validate:"gt=0"`
	StrikeStep        int     `yaml:"strike_step" validate:"gt=0"`
	LotSize           int     `yaml:"lot_size" validate:"gt=0"`
	DailyLossLimit    float64 `yaml:"daily_loss_limit" validate:"gt=0"`
	TrailingIncrement float64 `yaml:"trailing_increment" validate:"gt=0"`
	RSIPeriod         int     `yaml:"rsi_period" validate:"gte=2"`
	RSIExitDrop       float64 `yaml:"rsi_exit_drop" validate:"gt=0"`

	Times    Times  `yaml:"times"`
	Timezone string `yaml:"timezone" validate:"required"`

	// Infrastructure
	IndexSymbol        string `yaml:"index_symbol" validate:"required"`
	InstrumentsCSVPath string `yaml:"instruments_csv_path" validate:"required"`
	TradesDir          string `yaml:"trades_dir" validate:"required"`
	DBConnStr          string `yaml:"db_conn_str"`
	LogLevel           string `yaml:"log_level"`
	LogFilePath        string `yaml:"log_file_path"`
	TelegramToken      string `yaml:"telegram_token"`
	TelegramChatID     string `yaml:"telegram_chat_id"`

	location *time.Location
}

// IsUsingRealData reports whether the session consumes real broker data.
func (c *Config) IsUsingRealData() bool { return c.Phase >= PhaseDataPaper }

// IsLiveTrading reports whether real orders are placed.
func (c *Config) IsLiveTrading() bool { return c.Phase == PhaseLive }

// Location returns the exchange timezone.
func (c *Config) Location() *time.Location { return c.location }

func defaults() Config {
	return Config{
		Phase:             PhaseMockPaper,
		KiteAPIBaseURL:    "https://api.kite.trade",
		KiteWSURL:         "wss://ws.kite.trade",
		AlgoTestBaseURL:   "https://api.algotest.in/v1",
		StrikeOffset:      200,
		StrikeStep:        50,
		LotSize:           75,
		DailyLossLimit:    10000,
		TrailingIncrement: 20,
		RSIPeriod:         14,
		RSIExitDrop:       10,
		Times: Times{
			MarketStart:     ClockTime{9, 15},
			MarketEnd:       ClockTime{15, 30},
			RefWindowStart:  ClockTime{10, 0},
			RefWindowEnd:    ClockTime{10, 15},
			StrikeSelection: ClockTime{10, 15},
			HardExit:        ClockTime{15, 15},
		},
		Timezone:           "Asia/Kolkata",
		IndexSymbol:        "NIFTY 50",
		InstrumentsCSVPath: "./data/instruments.csv",
		TradesDir:          "./trades",
		LogLevel:           "info",
	}
}

// Load builds the configuration: defaults, then an optional YAML file, then
// environment variables (highest precedence). A .env file is loaded first if
// present. Validation failures are returned as a single error; callers treat
// them as fatal.
func Load(yamlPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug("Config | no .env file found")
	}

	cfg := defaults()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	cfg.location = loc

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var err error
	c.Phase = envInt("TRADING_PHASE", c.Phase)
	c.KiteAPIKey = envStr("KITE_API_KEY", c.KiteAPIKey)
	c.KiteAPISecret = envStr("KITE_API_SECRET", c.KiteAPISecret)
	c.KiteAccessToken = envStr("KITE_ACCESS_TOKEN", c.KiteAccessToken)
	c.KiteAPIBaseURL = envStr("KITE_API_BASE_URL", c.KiteAPIBaseURL)
	c.KiteWSURL = envStr("KITE_WS_URL", c.KiteWSURL)
	c.AlgoTestAPIKey = envStr("ALGOTEST_API_KEY", c.AlgoTestAPIKey)
	c.AlgoTestBaseURL = envStr("ALGOTEST_BASE_URL", c.AlgoTestBaseURL)
	c.StrikeOffset = envFloat("STRIKE_OFFSET", c.StrikeOffset)
	c.StrikeStep = envInt("STRIKE_STEP", c.StrikeStep)
	c.LotSize = envInt("LOT_SIZE", c.LotSize)
	c.DailyLossLimit = envFloat("DAILY_LOSS_LIMIT", c.DailyLossLimit)
	c.TrailingIncrement = envFloat("TRAILING_INCREMENT", c.TrailingIncrement)
	c.RSIPeriod = envInt("RSI_PERIOD", c.RSIPeriod)
	c.RSIExitDrop = envFloat("RSI_EXIT_DROP", c.RSIExitDrop)
	c.Timezone = envStr("TIMEZONE", c.Timezone)
	c.IndexSymbol = envStr("INDEX_SYMBOL", c.IndexSymbol)
	c.InstrumentsCSVPath = envStr("INSTRUMENTS_CSV_PATH", c.InstrumentsCSVPath)
	c.TradesDir = envStr("TRADES_DIR", c.TradesDir)
	c.DBConnStr = envStr("DB_CONN_STR", c.DBConnStr)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	c.LogFilePath = envStr("LOG_FILE_PATH", c.LogFilePath)
	c.TelegramToken = envStr("TELEGRAM_TOKEN", c.TelegramToken)
	c.TelegramChatID = envStr("TELEGRAM_CHAT_ID", c.TelegramChatID)

	clocks := []struct {
		key string
		dst *ClockTime
	}{
		{"MARKET_START_TIME", &c.Times.MarketStart},
		{"MARKET_END_TIME", &c.Times.MarketEnd},
		{"REFERENCE_WINDOW_START", &c.Times.RefWindowStart},
		{"REFERENCE_WINDOW_END", &c.Times.RefWindowEnd},
		{"STRIKE_SELECTION_TIME", &c.Times.StrikeSelection},
		{"HARD_EXIT_TIME", &c.Times.HardExit},
	}
	for _, e := range clocks {
		if v := os.Getenv(e.key); v != "" {
			if *e.dst, err = ParseClock(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Validate checks structural constraints and phase-dependent requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.IsUsingRealData() {
		if c.KiteAPIKey == "" {
			return fmt.Errorf("KITE_API_KEY required for phase %d", c.Phase)
		}
		if c.KiteAccessToken == "" {
			return fmt.Errorf("KITE_ACCESS_TOKEN required for phase %d", c.Phase)
		}
	}
	if c.IsLiveTrading() && c.AlgoTestAPIKey == "" {
		return fmt.Errorf("ALGOTEST_API_KEY required for phase %d", c.Phase)
	}

	t := c.Times
	ordered := []struct {
		name string
		a, b ClockTime
	}{
		{"market start before reference window start", t.MarketStart, t.RefWindowStart},
		{"reference window start before end", t.RefWindowStart, t.RefWindowEnd},
		{"reference window end before hard exit", t.RefWindowEnd, t.HardExit},
		{"hard exit before market end", t.HardExit, t.MarketEnd},
	}
	for _, o := range ordered {
		if o.a.Minutes() >= o.b.Minutes() {
			return fmt.Errorf("invalid session times: %s (%s / %s)", o.name, o.a, o.b)
		}
	}
	return nil
}

// PrintBanner logs the effective configuration at startup.
func (c *Config) PrintBanner() {
	phaseNames := map[int]string{
		PhaseMockPaper: "PHASE 1: Mock Data + Paper Trading",
		PhaseDataPaper: "PHASE 2: Real Data + Paper Trading",
		PhaseLive:      "PHASE 3: Real Data + LIVE Trading",
	}
	log.Infof("Config | mode: %s", phaseNames[c.Phase])
	log.Infof("Config | strike offset: ±%.0f, step: %d, lot size: %d", c.StrikeOffset, c.StrikeStep, c.LotSize)
	log.Infof("Config | daily loss limit: %.2f, trailing increment: %.2f, RSI exit drop: %.2f", c.DailyLossLimit, c.TrailingIncrement, c.RSIExitDrop)
	log.Infof("Config | reference window: %s-%s, strike selection: %s, hard exit: %s",
		c.Times.RefWindowStart, c.Times.RefWindowEnd, c.Times.StrikeSelection, c.Times.HardExit)
	log.Infof("Config | timezone: %s", c.Timezone)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warnf("Config | ignoring non-integer %s=%q", key, v)
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Warnf("Config | ignoring non-numeric %s=%q", key, v)
	}
	return fallback
}
