// Package config loads the daemon's configuration from an optional JSON
// file (BROKER_CONFIG_JSON), layers BROKER_<SECTION>_<FIELD> environment
// overrides on top, and resolves xdg-style default paths for the socket,
// pid file, audit database, and log file, mirroring
// original_source/daemon/src/broker_daemon/config.py.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type GatewayConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ClientID            int    `json:"client_id"`
	AutoReconnect       bool   `json:"auto_reconnect"`
	ReconnectBackoffMax int    `json:"reconnect_backoff_max"`
}

type RiskConfig struct {
	MaxPositionPct       float64  `json:"max_position_pct"`
	MaxOrderValue        float64  `json:"max_order_value"`
	MaxDailyLossPct      float64  `json:"max_daily_loss_pct"`
	MaxSectorExposurePct float64  `json:"max_sector_exposure_pct"`
	MaxSingleNamePct     float64  `json:"max_single_name_pct"`
	MaxOpenOrders        int      `json:"max_open_orders"`
	OrderRateLimit       int      `json:"order_rate_limit"`
	DuplicateWindowSecs  int      `json:"duplicate_window_seconds"`
	SymbolAllowlist      []string `json:"symbol_allowlist"`
	SymbolBlocklist      []string `json:"symbol_blocklist"`
	// DrawdownBasis resolves spec.md §9's open question: which PnL feeds the
	// drawdown breaker. One of "realized", "unrealized", "total".
	DrawdownBasis string `json:"drawdown_basis"`
}

type LoggingConfig struct {
	Level        string `json:"level"`
	AuditDB      string `json:"audit_db"`
	LogFile      string `json:"log_file"`
	MaxLogSizeMB int    `json:"max_log_size_mb"`
}

type AgentConfig struct {
	HeartbeatTimeoutSeconds int    `json:"heartbeat_timeout_seconds"`
	OnHeartbeatTimeout      string `json:"on_heartbeat_timeout"`
	DefaultOutput           string `json:"default_output"`
}

type OutputConfig struct {
	DefaultFormat string `json:"default_format"`
	Timezone      string `json:"timezone"`
}

type RuntimeConfig struct {
	SocketPath         string `json:"socket_path"`
	PidFile            string `json:"pid_file"`
	RequestTimeoutSecs int    `json:"request_timeout_seconds"`
}

// MarketDataConfig holds the market-data defaults named in spec.md §6.
type MarketDataConfig struct {
	QuoteIntentDefault       string   `json:"quote_intent_default"`
	ProbeSymbols             []string `json:"probe_symbols"`
	CapabilityTTLSeconds     int      `json:"capability_ttl_seconds"`
	AllowHistoryLastFallback bool     `json:"allow_history_last_fallback"`
}

// AlertConfig is an ambient addition (spec.md §6 "observability toggles")
// carrying the teacher's telegram-bot-api wiring forward as the halt/resume
// notifier in internal/alert.
type AlertConfig struct {
	TelegramToken  string
	TelegramChatID int64
}

type Config struct {
	Provider   string           `json:"provider"`
	Gateway    GatewayConfig    `json:"gateway"`
	Risk       RiskConfig       `json:"risk"`
	Logging    LoggingConfig    `json:"logging"`
	Agent      AgentConfig      `json:"agent"`
	Output     OutputConfig     `json:"output"`
	Runtime    RuntimeConfig    `json:"runtime"`
	MarketData MarketDataConfig `json:"market_data"`
	Alert      AlertConfig      `json:"-"`
}

func stateHome() string {
	if v := os.Getenv("XDG_STATE_HOME"); strings.TrimSpace(v) != "" {
		return filepath.Join(expandHome(v), "broker")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "broker")
}

func configHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); strings.TrimSpace(v) != "" {
		return filepath.Join(expandHome(v), "broker")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "broker")
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

func defaults() *Config {
	state := stateHome()
	return &Config{
		Provider: "ib",
		Gateway: GatewayConfig{
			Host:                "127.0.0.1",
			Port:                4001,
			ClientID:            1,
			AutoReconnect:       true,
			ReconnectBackoffMax: 30,
		},
		Risk: RiskConfig{
			MaxPositionPct:       10.0,
			MaxOrderValue:        50_000.0,
			MaxDailyLossPct:      2.0,
			MaxSectorExposurePct: 30.0,
			MaxSingleNamePct:     10.0,
			MaxOpenOrders:        20,
			OrderRateLimit:       10,
			DuplicateWindowSecs:  60,
			SymbolAllowlist:      []string{},
			SymbolBlocklist:      []string{},
			DrawdownBasis:        "total",
		},
		Logging: LoggingConfig{
			Level:        "INFO",
			AuditDB:      filepath.Join(state, "audit.db"),
			LogFile:      filepath.Join(state, "broker.log"),
			MaxLogSizeMB: 100,
		},
		Agent: AgentConfig{
			HeartbeatTimeoutSeconds: 300,
			OnHeartbeatTimeout:      "warn",
			DefaultOutput:           "json",
		},
		Output: OutputConfig{
			DefaultFormat: "json",
			Timezone:      "America/New_York",
		},
		Runtime: RuntimeConfig{
			SocketPath:         filepath.Join(state, "broker.sock"),
			PidFile:            filepath.Join(state, "broker-daemon.pid"),
			RequestTimeoutSecs: 15,
		},
		MarketData: MarketDataConfig{
			QuoteIntentDefault:       "best_effort",
			ProbeSymbols:             []string{},
			CapabilityTTLSeconds:     30,
			AllowHistoryLastFallback: true,
		},
	}
}

// Load reads BROKER_CONFIG_JSON (default $XDG_CONFIG_HOME/broker/config.json)
// if present, applies BROKER_<SECTION>_<FIELD> env overrides, resolves the
// alert/telegram settings, and ensures every directory the daemon writes to
// exists.
func Load() (*Config, error) {
	cfg := defaults()

	jsonPath := getEnv("BROKER_CONFIG_JSON", filepath.Join(configHome(), "config.json"))
	if raw, err := readBrokerJSON(jsonPath); err == nil {
		applyFileConfig(cfg, raw)
	}

	applyEnvOverrides(cfg)

	if cfg.Provider != "ib" {
		return nil, fmt.Errorf("only provider %q is currently supported, got %q", "ib", cfg.Provider)
	}

	cfg.Alert.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Alert.TelegramChatID = id
	}

	if err := cfg.ensureDirs(); err != nil {
		return nil, fmt.Errorf("preparing runtime directories: %w", err)
	}

	return cfg, nil
}

func (c *Config) ensureDirs() error {
	dirs := []string{
		filepath.Dir(c.Runtime.SocketPath),
		filepath.Dir(c.Runtime.PidFile),
		filepath.Dir(c.Logging.AuditDB),
		filepath.Dir(c.Logging.LogFile),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// RequestTimeout is runtime.request_timeout_seconds as a time.Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Runtime.RequestTimeoutSecs) * time.Second
}

// HeartbeatTimeout is agent.heartbeat_timeout_seconds as a time.Duration.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Agent.HeartbeatTimeoutSeconds) * time.Second
}

// CapabilityTTL is market_data.capability_ttl_seconds as a time.Duration.
func (c *Config) CapabilityTTL() time.Duration {
	return time.Duration(c.MarketData.CapabilityTTLSeconds) * time.Second
}

func readBrokerJSON(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// applyFileConfig mirrors _extract_broker_config: it reads the "broker" key,
// its provider + section sub-objects, and the ibkrGatewayMode convenience
// field, writing them onto cfg via JSON re-marshal/unmarshal per section.
func applyFileConfig(cfg *Config, doc map[string]any) {
	rawBroker, ok := doc["broker"].(map[string]any)
	if !ok {
		rawBroker = map[string]any{}
	}

	if provider, ok := rawBroker["provider"].(string); ok && strings.TrimSpace(provider) != "" {
		cfg.Provider = strings.TrimSpace(provider)
	}

	applySection(rawBroker, "gateway", &cfg.Gateway)
	applySection(rawBroker, "risk", &cfg.Risk)
	applySection(rawBroker, "logging", &cfg.Logging)
	applySection(rawBroker, "agent", &cfg.Agent)
	applySection(rawBroker, "output", &cfg.Output)
	applySection(rawBroker, "runtime", &cfg.Runtime)
	applySection(rawBroker, "market_data", &cfg.MarketData)

	if mode, ok := doc["ibkrGatewayMode"].(string); ok {
		switch strings.ToLower(strings.TrimSpace(mode)) {
		case "paper":
			cfg.Gateway.Port = 4002
		case "live":
			cfg.Gateway.Port = 4001
		}
	}
}

func applySection(rawBroker map[string]any, key string, dst any) {
	section, ok := rawBroker[key].(map[string]any)
	if !ok {
		return
	}
	raw, err := json.Marshal(section)
	if err != nil {
		return
	}
	_ = json.Unmarshal(raw, dst)
}

// applyEnvOverrides implements BROKER_<SECTION>_<FIELD> for every known
// section, matching the original's generic tokens[0]=section,
// tokens[1:]=field scheme but against a fixed field set (Go has no
// reflect-by-json-tag convenience as cheap as pydantic's model_validate).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BROKER_PROVIDER"); v != "" {
		cfg.Provider = strings.TrimSpace(v)
	}

	setStr(&cfg.Gateway.Host, "BROKER_GATEWAY_HOST")
	setInt(&cfg.Gateway.Port, "BROKER_GATEWAY_PORT")
	setInt(&cfg.Gateway.ClientID, "BROKER_GATEWAY_CLIENT_ID")
	setBool(&cfg.Gateway.AutoReconnect, "BROKER_GATEWAY_AUTO_RECONNECT")
	setInt(&cfg.Gateway.ReconnectBackoffMax, "BROKER_GATEWAY_RECONNECT_BACKOFF_MAX")

	setFloat(&cfg.Risk.MaxPositionPct, "BROKER_RISK_MAX_POSITION_PCT")
	setFloat(&cfg.Risk.MaxOrderValue, "BROKER_RISK_MAX_ORDER_VALUE")
	setFloat(&cfg.Risk.MaxDailyLossPct, "BROKER_RISK_MAX_DAILY_LOSS_PCT")
	setFloat(&cfg.Risk.MaxSectorExposurePct, "BROKER_RISK_MAX_SECTOR_EXPOSURE_PCT")
	setFloat(&cfg.Risk.MaxSingleNamePct, "BROKER_RISK_MAX_SINGLE_NAME_PCT")
	setInt(&cfg.Risk.MaxOpenOrders, "BROKER_RISK_MAX_OPEN_ORDERS")
	setInt(&cfg.Risk.OrderRateLimit, "BROKER_RISK_ORDER_RATE_LIMIT")
	setInt(&cfg.Risk.DuplicateWindowSecs, "BROKER_RISK_DUPLICATE_WINDOW_SECONDS")
	setList(&cfg.Risk.SymbolAllowlist, "BROKER_RISK_SYMBOL_ALLOWLIST")
	setList(&cfg.Risk.SymbolBlocklist, "BROKER_RISK_SYMBOL_BLOCKLIST")
	setStr(&cfg.Risk.DrawdownBasis, "BROKER_RISK_DRAWDOWN_BASIS")

	setStr(&cfg.Logging.Level, "BROKER_LOGGING_LEVEL")
	setStr(&cfg.Logging.AuditDB, "BROKER_LOGGING_AUDIT_DB")
	setStr(&cfg.Logging.LogFile, "BROKER_LOGGING_LOG_FILE")
	setInt(&cfg.Logging.MaxLogSizeMB, "BROKER_LOGGING_MAX_LOG_SIZE_MB")

	setInt(&cfg.Agent.HeartbeatTimeoutSeconds, "BROKER_AGENT_HEARTBEAT_TIMEOUT_SECONDS")
	setStr(&cfg.Agent.OnHeartbeatTimeout, "BROKER_AGENT_ON_HEARTBEAT_TIMEOUT")
	setStr(&cfg.Agent.DefaultOutput, "BROKER_AGENT_DEFAULT_OUTPUT")

	setStr(&cfg.Output.DefaultFormat, "BROKER_OUTPUT_DEFAULT_FORMAT")
	setStr(&cfg.Output.Timezone, "BROKER_OUTPUT_TIMEZONE")

	setStr(&cfg.Runtime.SocketPath, "BROKER_RUNTIME_SOCKET_PATH")
	setStr(&cfg.Runtime.PidFile, "BROKER_RUNTIME_PID_FILE")
	setInt(&cfg.Runtime.RequestTimeoutSecs, "BROKER_RUNTIME_REQUEST_TIMEOUT_SECONDS")

	setStr(&cfg.MarketData.QuoteIntentDefault, "BROKER_MARKET_DATA_QUOTE_INTENT_DEFAULT")
	setList(&cfg.MarketData.ProbeSymbols, "BROKER_MARKET_DATA_PROBE_SYMBOLS")
	setInt(&cfg.MarketData.CapabilityTTLSeconds, "BROKER_MARKET_DATA_CAPABILITY_TTL_SECONDS")
	setBool(&cfg.MarketData.AllowHistoryLastFallback, "BROKER_MARKET_DATA_ALLOW_HISTORY_LAST_FALLBACK")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1" || v == "yes"
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
