package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Strategy holds the candidate-selection and exit tunables.
type Strategy struct {
	InstrumentUniverse   []string `yaml:"instrument_universe"`
	ScanTime             string   `yaml:"scan_time"`       // "HH:MM:SS" exchange-local
	ExecuteTime          string   `yaml:"execute_time"`    // order fires at this instant
	EndOfDayTime         string   `yaml:"end_of_day_time"` // force exit cutoff
	SentimentRatioMin    float64  `yaml:"sentiment_ratio_min"`
	SentimentRatioMax    float64  `yaml:"sentiment_ratio_max"`
	ProfitTargetPercent  float64  `yaml:"profit_target_percent"`
	StopLossPercent      float64  `yaml:"stop_loss_percent"` // negative
	MaxCandidateAttempts int      `yaml:"max_candidate_attempts"`
}

// Risk holds capital-preservation limits.
type Risk struct {
	Capital                float64 `yaml:"capital"`
	MaxRiskPerTradePercent float64 `yaml:"max_risk_per_trade_percent"`
	MaxPositionValue       float64 `yaml:"max_position_value"` // absolute ceiling
	MaxDailyLoss           float64 `yaml:"max_daily_loss"`
	MaxConsecutiveLosses   int     `yaml:"max_consecutive_losses"`
}

// Data configures the provider chain.
type Data struct {
	ProviderPriorityOrder []string `yaml:"provider_priority_order"`
	FreshnessWindowSecs   int      `yaml:"freshness_window_seconds"`
	FetchTimeoutMs        int      `yaml:"fetch_timeout_ms"`
	FetchWorkers          int      `yaml:"fetch_workers"`
	RatePerSecond         float64  `yaml:"rate_per_second"` // per-provider request budget
}

// Broker selects and configures the execution venue. Credentials come from
// the environment, never from the YAML file.
type Broker struct {
	Kind              string `yaml:"kind"` // paper | zerodha
	BaseURL           string `yaml:"base_url"`
	FillTimeoutMs     int    `yaml:"fill_timeout_ms"`
	PaperLatencyMsMin int    `yaml:"paper_latency_ms_min"`
	PaperLatencyMsMax int    `yaml:"paper_latency_ms_max"`
	PaperSlippageBps  int    `yaml:"paper_slippage_bps"`

	APIKey      string `yaml:"-"`
	AccessToken string `yaml:"-"`
}

// Monitor controls the open-position polling loop.
type Monitor struct {
	PollIntervalMs    int `yaml:"poll_interval_ms"`
	MaxPollFailures   int `yaml:"max_poll_failures"`
	UpdateEveryNPolls int `yaml:"update_every_n_polls"` // progress notifications
}

// Alerts configures the notification sink.
type Alerts struct {
	TelegramEnabled bool   `yaml:"telegram_enabled"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	BotToken        string `yaml:"-"`
	ChatID          string `yaml:"-"`
}

// Clock configures time sync for the scheduler.
type Clock struct {
	Timezone  string `yaml:"timezone"`
	NTPServer string `yaml:"ntp_server"`
}

// Journal configures the sqlite trade journal.
type Journal struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

type Root struct {
	Strategy Strategy `yaml:"strategy"`
	Risk     Risk     `yaml:"risk"`
	Data     Data     `yaml:"data"`
	Broker   Broker   `yaml:"broker"`
	Monitor  Monitor  `yaml:"monitor"`
	Alerts   Alerts   `yaml:"alerts"`
	Clock    Clock    `yaml:"clock"`
	Journal  Journal  `yaml:"journal"`
}

// Load reads the YAML config, overlays credentials from the environment
// (a .env file is honored when present), applies defaults, and validates.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	_ = godotenv.Load()
	c.Broker.APIKey = os.Getenv("BROKER_API_KEY")
	c.Broker.AccessToken = os.Getenv("BROKER_ACCESS_TOKEN")
	c.Alerts.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.Alerts.ChatID = os.Getenv("TELEGRAM_CHAT_ID")

	ApplyDefaults(&c)
	if err := Validate(c); err != nil {
		return c, err
	}
	return c, nil
}

// ApplyDefaults fills zero-valued fields. Exported so tools building a Root
// in code get the same defaults as the file loader.
func ApplyDefaults(c *Root) {
	if c.Strategy.ScanTime == "" {
		c.Strategy.ScanTime = "09:14:00"
	}
	if c.Strategy.ExecuteTime == "" {
		c.Strategy.ExecuteTime = "09:15:00"
	}
	if c.Strategy.EndOfDayTime == "" {
		c.Strategy.EndOfDayTime = "15:15:00"
	}
	if c.Strategy.SentimentRatioMin == 0 && c.Strategy.SentimentRatioMax == 0 {
		c.Strategy.SentimentRatioMin = 0.7
		c.Strategy.SentimentRatioMax = 1.5
	}
	if c.Strategy.ProfitTargetPercent == 0 {
		c.Strategy.ProfitTargetPercent = 8
	}
	if c.Strategy.StopLossPercent == 0 {
		c.Strategy.StopLossPercent = -30
	}
	if c.Strategy.MaxCandidateAttempts == 0 {
		c.Strategy.MaxCandidateAttempts = 5
	}
	if c.Risk.Capital == 0 {
		c.Risk.Capital = 100000
	}
	if c.Risk.MaxRiskPerTradePercent == 0 {
		c.Risk.MaxRiskPerTradePercent = 5
	}
	if c.Risk.MaxPositionValue == 0 {
		c.Risk.MaxPositionValue = 25000
	}
	if c.Risk.MaxDailyLoss == 0 {
		c.Risk.MaxDailyLoss = 5000
	}
	if c.Risk.MaxConsecutiveLosses == 0 {
		c.Risk.MaxConsecutiveLosses = 3
	}
	if len(c.Data.ProviderPriorityOrder) == 0 {
		c.Data.ProviderPriorityOrder = []string{"nse", "yahoo"}
	}
	if c.Data.FreshnessWindowSecs == 0 {
		c.Data.FreshnessWindowSecs = 60
	}
	if c.Data.FetchTimeoutMs == 0 {
		c.Data.FetchTimeoutMs = 3000
	}
	if c.Data.FetchWorkers == 0 {
		c.Data.FetchWorkers = 8
	}
	if c.Data.RatePerSecond == 0 {
		c.Data.RatePerSecond = 5
	}
	if c.Broker.Kind == "" {
		c.Broker.Kind = "paper"
	}
	if c.Broker.FillTimeoutMs == 0 {
		c.Broker.FillTimeoutMs = 5000
	}
	if c.Broker.PaperLatencyMsMin == 0 {
		c.Broker.PaperLatencyMsMin = 20
	}
	if c.Broker.PaperLatencyMsMax == 0 {
		c.Broker.PaperLatencyMsMax = 150
	}
	if c.Broker.PaperSlippageBps == 0 {
		c.Broker.PaperSlippageBps = 5
	}
	if c.Monitor.PollIntervalMs == 0 {
		c.Monitor.PollIntervalMs = 3000
	}
	if c.Monitor.MaxPollFailures == 0 {
		c.Monitor.MaxPollFailures = 5
	}
	if c.Monitor.UpdateEveryNPolls == 0 {
		c.Monitor.UpdateEveryNPolls = 10
	}
	if c.Alerts.RateLimitPerMin == 0 {
		c.Alerts.RateLimitPerMin = 20
	}
	if c.Clock.Timezone == "" {
		c.Clock.Timezone = "Asia/Kolkata"
	}
	if c.Clock.NTPServer == "" {
		c.Clock.NTPServer = "time.google.com"
	}
	if c.Journal.DSN == "" {
		c.Journal.DSN = "data/journal.db"
	}
}

// Validate rejects configurations the pipeline cannot run with.
func Validate(c Root) error {
	if len(c.Strategy.InstrumentUniverse) == 0 {
		return fmt.Errorf("config: instrument_universe is empty")
	}
	for _, field := range []struct {
		name, val string
	}{
		{"scan_time", c.Strategy.ScanTime},
		{"execute_time", c.Strategy.ExecuteTime},
		{"end_of_day_time", c.Strategy.EndOfDayTime},
	} {
		if _, err := time.Parse("15:04:05", field.val); err != nil {
			return fmt.Errorf("config: %s %q: %w", field.name, field.val, err)
		}
	}
	if c.Strategy.SentimentRatioMax < c.Strategy.SentimentRatioMin {
		return fmt.Errorf("config: sentiment_ratio_max %.2f < sentiment_ratio_min %.2f",
			c.Strategy.SentimentRatioMax, c.Strategy.SentimentRatioMin)
	}
	if c.Strategy.StopLossPercent >= 0 {
		return fmt.Errorf("config: stop_loss_percent must be negative, got %.2f",
			c.Strategy.StopLossPercent)
	}
	if c.Strategy.ProfitTargetPercent <= 0 {
		return fmt.Errorf("config: profit_target_percent must be positive, got %.2f",
			c.Strategy.ProfitTargetPercent)
	}
	if c.Broker.Kind != "paper" && c.Broker.Kind != "zerodha" {
		return fmt.Errorf("config: unknown broker kind %q", c.Broker.Kind)
	}
	if c.Broker.Kind == "zerodha" && (c.Broker.APIKey == "" || c.Broker.AccessToken == "") {
		return fmt.Errorf("config: zerodha broker requires BROKER_API_KEY and BROKER_ACCESS_TOKEN")
	}
	if c.Alerts.TelegramEnabled && (c.Alerts.BotToken == "" || c.Alerts.ChatID == "") {
		return fmt.Errorf("config: telegram alerts require TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID")
	}
	if _, err := time.LoadLocation(c.Clock.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Clock.Timezone, err)
	}
	return nil
}

// PollInterval returns the monitor poll interval as a duration.
func (m Monitor) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMs) * time.Millisecond
}

// FreshnessWindow returns the staleness cutoff as a duration.
func (d Data) FreshnessWindow() time.Duration {
	return time.Duration(d.FreshnessWindowSecs) * time.Second
}

// FetchTimeout returns the per-provider fetch timeout as a duration.
func (d Data) FetchTimeout() time.Duration {
	return time.Duration(d.FetchTimeoutMs) * time.Millisecond
}

// FillTimeout returns how long to wait for an entry order fill.
func (b Broker) FillTimeout() time.Duration {
	return time.Duration(b.FillTimeoutMs) * time.Millisecond
}
