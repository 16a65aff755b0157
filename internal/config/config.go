// Package config собирает конфигурацию процесса из окружения.
//
// Порядок: необязательный .env (godotenv) -> необязательный файл CONFIG_FILE ->
// переменные окружения (viper, AutomaticEnv) -> значения по умолчанию.
// Секреты бирж можно передавать зашифрованными с префиксом "enc:" -
// они расшифровываются ключом ENCRYPTION_KEY.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"tvtrader/internal/exchange"
	"tvtrader/internal/models"
	"tvtrader/internal/risk"
	"tvtrader/pkg/crypto"
	"tvtrader/pkg/ratelimit"
	"tvtrader/pkg/utils"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Trading   TradingConfig             `mapstructure:"trading"`
	Risk      RiskConfig                `mapstructure:"risk"`
	Execution ExecutionConfig           `mapstructure:"execution"`
	Exchanges map[string]ExchangeConfig `mapstructure:"exchanges"`
	Security  SecurityConfig            `mapstructure:"security"`
	Events    EventsConfig              `mapstructure:"events"`
	Logging   LoggingConfig             `mapstructure:"logging"`
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	UseHTTPS        bool          `mapstructure:"use_https"`
	CertFile        string        `mapstructure:"cert_file"`
	KeyFile         string        `mapstructure:"key_file"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TradingConfig - параметры входа по умолчанию
type TradingConfig struct {
	Exchange        string  `mapstructure:"exchange"`
	ContractType    string  `mapstructure:"contract_type"`
	SizePosition    float64 `mapstructure:"size_position"`
	DefaultLeverage int     `mapstructure:"default_leverage"`
	OrderType       string  `mapstructure:"order_type"`
}

// RiskConfig - стратегия риска и параметры ATR
type RiskConfig struct {
	Mode            string  `mapstructure:"mode"`
	ATRPeriod       int     `mapstructure:"atr_period"`
	ATRTimeframe    string  `mapstructure:"atr_timeframe"`
	StopLossRate    float64 `mapstructure:"stop_loss_rate"`
	TakeProfitRate  float64 `mapstructure:"take_profit_rate"`
	RiskPerTrade    float64 `mapstructure:"risk_per_trade"`
	ATRMultiplier   float64 `mapstructure:"atr_multiplier"`
	RiskRewardRatio float64 `mapstructure:"risk_reward_ratio"`
	MaxPositionUSDT float64 `mapstructure:"max_position_usdt"`
	MinPositionUSDT float64 `mapstructure:"min_position_usdt"`
}

// ExecutionConfig - таймауты, повторы и наблюдатель лимитных входов
type ExecutionConfig struct {
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	PendingPollInterval time.Duration `mapstructure:"pending_poll_interval"`
	PendingTimeout      time.Duration `mapstructure:"pending_timeout"`
	ATRCacheTTL         time.Duration `mapstructure:"atr_cache_ttl"`
	BybitHedgeMode      bool          `mapstructure:"bybit_hedge_mode"`
	MarginMode          string        `mapstructure:"margin_mode"`
}

// ExchangeConfig - ключи и лимиты одной биржи
type ExchangeConfig struct {
	APIKey       string  `mapstructure:"api_key"`
	APISecret    string  `mapstructure:"api_secret"`
	Passphrase   string  `mapstructure:"passphrase"`
	Testnet      bool    `mapstructure:"testnet"`
	BaseURL      string  `mapstructure:"base_url"`
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"` // торговые запросы; 0 = по умолчанию
}

// Configured - заданы ли ключи
func (e ExchangeConfig) Configured() bool {
	return e.APIKey != "" && e.APISecret != ""
}

// SecurityConfig - токены и ключ шифрования
type SecurityConfig struct {
	WebhookSecretToken string   `mapstructure:"webhook_secret_token"`
	WebhookTokenHash   string   `mapstructure:"webhook_token_hash"`
	TradeSignalToken   string   `mapstructure:"trade_signal_token"`
	EncryptionKey      string   `mapstructure:"encryption_key"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
}

// EventsConfig - Kafka (необязательно)
type EventsConfig struct {
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	Development bool   `mapstructure:"development"`
}

// setting - ключ viper, имя переменной окружения и значение по умолчанию
type setting struct {
	key string
	env string
	def interface{}
}

var settings = []setting{
	{"server.host", "SERVER_HOST", "0.0.0.0"},
	{"server.port", "SERVER_PORT", 8080},
	{"server.use_https", "USE_HTTPS", false},
	{"server.cert_file", "CERT_FILE", ""},
	{"server.key_file", "KEY_FILE", ""},
	{"server.read_timeout", "SERVER_READ_TIMEOUT", 15 * time.Second},
	{"server.write_timeout", "SERVER_WRITE_TIMEOUT", 90 * time.Second},
	{"server.shutdown_timeout", "SERVER_SHUTDOWN_TIMEOUT", 15 * time.Second},

	{"trading.exchange", "EXCHANGE", "bybit"},
	{"trading.contract_type", "CONTRACT_TYPE", string(models.ContractUSDTM)},
	{"trading.size_position", "SIZE_POSITION", 100.0},
	{"trading.default_leverage", "DEFAULT_LEVERAGE", 35},
	{"trading.order_type", "ORDER_TYPE", string(models.OrderTypeMarket)},

	{"risk.mode", "RISK_MODE", risk.ModeFixedRiskATR},
	{"risk.atr_period", "ATR_PERIOD", 5},
	{"risk.atr_timeframe", "ATR_TIMEFRAME", "1d"},
	{"risk.stop_loss_rate", "STOP_LOSS_RATE", 0.10},
	{"risk.take_profit_rate", "TAKE_PROFIT_RATE", 0.30},
	{"risk.risk_per_trade", "RISK_PER_TRADE", 1.0},
	{"risk.atr_multiplier", "ATR_MULTIPLIER", 1.0},
	{"risk.risk_reward_ratio", "RISK_REWARD_RATIO", 3.0},
	{"risk.max_position_usdt", "MAX_POSITION_USDT", 300.0},
	{"risk.min_position_usdt", "MIN_POSITION_USDT", 30.0},

	{"execution.call_timeout", "EXCHANGE_CALL_TIMEOUT", 10 * time.Second},
	{"execution.max_retries", "MAX_RETRIES", 2},
	{"execution.retry_backoff", "RETRY_BACKOFF", 200 * time.Millisecond},
	{"execution.pending_poll_interval", "PENDING_STOPS_POLL_INTERVAL", 5 * time.Second},
	{"execution.pending_timeout", "PENDING_STOPS_TIMEOUT", 30 * time.Minute},
	{"execution.atr_cache_ttl", "ATR_CACHE_TTL", time.Minute},
	{"execution.bybit_hedge_mode", "BYBIT_HEDGE_MODE", true},
	{"execution.margin_mode", "MARGIN_MODE", "isolated"},

	{"security.webhook_secret_token", "WEBHOOK_SECRET_TOKEN", ""},
	{"security.webhook_token_hash", "WEBHOOK_TOKEN_HASH", ""},
	{"security.trade_signal_token", "TRADE_SIGNAL_TOKEN", ""},
	{"security.encryption_key", "ENCRYPTION_KEY", ""},
	{"security.allowed_origins", "ALLOWED_ORIGINS", []string{}},

	{"events.kafka_brokers", "KAFKA_BROKERS", []string{}},
	{"events.kafka_topic", "KAFKA_TOPIC", "tvtrader.executions"},

	{"logging.level", "LOG_LEVEL", "info"},
	{"logging.format", "LOG_FORMAT", "json"},
	{"logging.output", "LOG_FILE", ""},
	{"logging.development", "LOG_DEVELOPMENT", false},
}

// exchangeSettings - ключи одной биржи: BYBIT_API_KEY, OKX_PASSPHRASE, ...
func exchangeSettings(name string) []setting {
	prefix := strings.ToUpper(name) + "_"
	key := "exchanges." + name + "."
	return []setting{
		{key + "api_key", prefix + "API_KEY", ""},
		{key + "api_secret", prefix + "API_SECRET", ""},
		{key + "passphrase", prefix + "PASSPHRASE", ""},
		{key + "testnet", prefix + "TESTNET", false},
		{key + "base_url", prefix + "BASE_URL", ""},
		{key + "rate_limit_rps", prefix + "RATE_LIMIT_RPS", 0.0},
	}
}

// Load читает .env из рабочей директории (если есть) и окружение
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile - как Load, но с явным путём к .env. Отсутствующий файл не ошибка.
func LoadFile(envFile string) (*Config, error) {
	if envFile != "" {
		// godotenv не перезаписывает уже заданные переменные окружения
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "load %s", envFile)
		}
	}

	v := viper.New()
	all := append([]setting(nil), settings...)
	for _, name := range exchange.SupportedExchanges {
		all = append(all, exchangeSettings(name)...)
	}
	for _, s := range all {
		v.SetDefault(s.key, s.def)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, errors.Wrapf(err, "bind %s", s.env)
		}
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.normalize()

	if err := cfg.openSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Trading.Exchange = strings.ToLower(strings.TrimSpace(c.Trading.Exchange))
	c.Trading.OrderType = strings.ToLower(strings.TrimSpace(c.Trading.OrderType))
	c.Trading.ContractType = strings.ToUpper(strings.TrimSpace(c.Trading.ContractType))
	c.Risk.Mode = strings.ToLower(strings.TrimSpace(c.Risk.Mode))
	c.Execution.MarginMode = strings.ToLower(strings.TrimSpace(c.Execution.MarginMode))
	c.Security.AllowedOrigins = splitList(c.Security.AllowedOrigins)
	c.Events.KafkaBrokers = splitList(c.Events.KafkaBrokers)
	if c.Exchanges == nil {
		c.Exchanges = make(map[string]ExchangeConfig)
	}
}

// splitList убирает пустые элементы и пробелы ("a, b,,c")
func splitList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// openSecrets расшифровывает значения с префиксом enc:
func (c *Config) openSecrets() error {
	key := c.Security.EncryptionKey
	for name, ex := range c.Exchanges {
		var err error
		if ex.APIKey, err = crypto.OpenSecret(ex.APIKey, key); err != nil {
			return errors.Wrapf(err, "%s api key", name)
		}
		if ex.APISecret, err = crypto.OpenSecret(ex.APISecret, key); err != nil {
			return errors.Wrapf(err, "%s api secret", name)
		}
		if ex.Passphrase, err = crypto.OpenSecret(ex.Passphrase, key); err != nil {
			return errors.Wrapf(err, "%s passphrase", name)
		}
		c.Exchanges[name] = ex
	}

	var err error
	if c.Security.WebhookSecretToken, err = crypto.OpenSecret(c.Security.WebhookSecretToken, key); err != nil {
		return errors.Wrap(err, "webhook secret token")
	}
	if c.Security.TradeSignalToken, err = crypto.OpenSecret(c.Security.TradeSignalToken, key); err != nil {
		return errors.Wrap(err, "trade signal token")
	}
	return nil
}

// Validate проверяет перечисления и числовые диапазоны
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return errors.New("USE_HTTPS requires CERT_FILE and KEY_FILE")
	}

	if !exchange.IsSupported(c.Trading.Exchange) {
		return errors.Errorf("EXCHANGE must be one of %s, got %q", strings.Join(exchange.SupportedExchanges, ", "), c.Trading.Exchange)
	}
	switch models.ContractType(c.Trading.ContractType) {
	case models.ContractUSDTM, models.ContractCOINM:
	default:
		return errors.Errorf("CONTRACT_TYPE must be USDT-M or COIN-M, got %q", c.Trading.ContractType)
	}
	switch models.OrderType(c.Trading.OrderType) {
	case models.OrderTypeMarket, models.OrderTypeLimit:
	default:
		return errors.Errorf("ORDER_TYPE must be market or limit, got %q", c.Trading.OrderType)
	}
	if err := utils.ValidateLeverage(c.Trading.DefaultLeverage); err != nil {
		return errors.Wrap(err, "DEFAULT_LEVERAGE")
	}
	if c.Trading.SizePosition <= 0 {
		return errors.Errorf("SIZE_POSITION must be positive, got %v", c.Trading.SizePosition)
	}

	if !risk.ValidMode(c.Risk.Mode) {
		return errors.Errorf("RISK_MODE must be %s or %s, got %q", risk.ModeFixedSize, risk.ModeFixedRiskATR, c.Risk.Mode)
	}
	if c.Risk.ATRPeriod < 1 {
		return errors.Errorf("ATR_PERIOD must be positive, got %d", c.Risk.ATRPeriod)
	}
	if c.Risk.ATRTimeframe == "" {
		return errors.New("ATR_TIMEFRAME is required")
	}
	positive := []struct {
		name  string
		value float64
	}{
		{"STOP_LOSS_RATE", c.Risk.StopLossRate},
		{"TAKE_PROFIT_RATE", c.Risk.TakeProfitRate},
		{"RISK_PER_TRADE", c.Risk.RiskPerTrade},
		{"ATR_MULTIPLIER", c.Risk.ATRMultiplier},
		{"RISK_REWARD_RATIO", c.Risk.RiskRewardRatio},
		{"MAX_POSITION_USDT", c.Risk.MaxPositionUSDT},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return errors.Errorf("%s must be positive, got %v", p.name, p.value)
		}
	}
	if c.Risk.MinPositionUSDT < 0 || c.Risk.MinPositionUSDT > c.Risk.MaxPositionUSDT {
		return errors.Errorf("MIN_POSITION_USDT must be between 0 and MAX_POSITION_USDT, got %v", c.Risk.MinPositionUSDT)
	}

	if c.Execution.CallTimeout <= 0 {
		return errors.Errorf("EXCHANGE_CALL_TIMEOUT must be positive, got %v", c.Execution.CallTimeout)
	}
	if c.Execution.MaxRetries < 0 || c.Execution.MaxRetries > 10 {
		return errors.Errorf("MAX_RETRIES must be between 0 and 10, got %d", c.Execution.MaxRetries)
	}
	if c.Execution.PendingPollInterval <= 0 || c.Execution.PendingTimeout <= 0 {
		return errors.New("PENDING_STOPS_POLL_INTERVAL and PENDING_STOPS_TIMEOUT must be positive")
	}
	if c.Execution.ATRCacheTTL < 0 {
		return errors.Errorf("ATR_CACHE_TTL cannot be negative, got %v", c.Execution.ATRCacheTTL)
	}
	switch c.Execution.MarginMode {
	case "isolated", "cross":
	default:
		return errors.Errorf("MARGIN_MODE must be isolated or cross, got %q", c.Execution.MarginMode)
	}

	for name, ex := range c.Exchanges {
		if !ex.Configured() {
			continue
		}
		if err := utils.ValidateAPIKey(ex.APIKey); err != nil {
			return errors.Wrapf(err, "%s_API_KEY", strings.ToUpper(name))
		}
		if err := utils.ValidateAPIKey(ex.APISecret); err != nil {
			return errors.Wrapf(err, "%s_API_SECRET", strings.ToUpper(name))
		}
	}

	if c.Security.WebhookTokenHash != "" && !crypto.IsBcryptHash(c.Security.WebhookTokenHash) {
		return errors.New("WEBHOOK_TOKEN_HASH is not a bcrypt hash")
	}
	if len(c.Events.KafkaBrokers) > 0 && c.Events.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// WebhookToken - ожидаемый токен вебхука: bcrypt хеш важнее открытого значения
func (c *Config) WebhookToken() string {
	if c.Security.WebhookTokenHash != "" {
		return c.Security.WebhookTokenHash
	}
	return c.Security.WebhookSecretToken
}

// Accounts - подключения для exchange.Pool (только биржи с ключами)
func (c *Config) Accounts() map[string]exchange.Account {
	accounts := make(map[string]exchange.Account)
	for name, ex := range c.Exchanges {
		if !ex.Configured() {
			continue
		}
		opts := exchange.Options{
			HedgeMode:  name == "bybit" && c.Execution.BybitHedgeMode,
			MarginMode: c.Execution.MarginMode,
			BaseURL:    ex.BaseURL,
		}
		if ex.RateLimitRPS > 0 {
			limits := ratelimit.DefaultLimits(name)
			limits.TradeRPS = ex.RateLimitRPS
			opts.RateLimits = limits
		}
		accounts[name] = exchange.Account{
			Credentials: exchange.Credentials{
				APIKey:     ex.APIKey,
				Secret:     ex.APISecret,
				Passphrase: ex.Passphrase,
				Testnet:    ex.Testnet,
			},
			Options: opts,
		}
	}
	return accounts
}

// RiskParams - параметры стратегий риска
func (c *Config) RiskParams() risk.Params {
	return risk.Params{
		Mode: c.Risk.Mode,
		FixedSize: risk.FixedSizeParams{
			Notional:       c.Trading.SizePosition,
			StopLossRate:   c.Risk.StopLossRate,
			TakeProfitRate: c.Risk.TakeProfitRate,
		},
		RiskATR: risk.FixedRiskATRParams{
			RiskPerTrade:    c.Risk.RiskPerTrade,
			ATRMultiplier:   c.Risk.ATRMultiplier,
			RiskRewardRatio: c.Risk.RiskRewardRatio,
			MaxNotional:     c.Risk.MaxPositionUSDT,
			MinNotional:     c.Risk.MinPositionUSDT,
		},
	}
}

// LogConfig - параметры логгера
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:       c.Logging.Level,
		Format:      c.Logging.Format,
		Output:      c.Logging.Output,
		Development: c.Logging.Development,
	}
}
