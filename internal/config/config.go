package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime configuration values.
type Config struct {
	LogLevel         string
	LogFormat        string
	HTTPListenAddr   string
	PublicBasePath   string
	MetricsNamespace string
	DebugEndpoints   bool

	StoreDriver    string
	StorePath      string
	DatabaseURL    string
	DatabaseSchema string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisTLS       bool
	RedisKey       string

	SheetID             string
	GoogleSAKeyJSON     string
	GoogleSACredPath    string
	LedgerRetryInterval time.Duration
	LedgerBreakerDelay  time.Duration

	TelegramBaseURL string
	PollInterval    time.Duration
	PollWait        time.Duration
	SendTimeout     time.Duration
	AlertTimeout    time.Duration

	OrderBot       Bot
	BalanceBot     Bot
	AdminBot       Bot
	LoginReportBot Bot
	HelpBot        Bot
	OffersBot      Bot
	NotifyBot      Bot

	WhatsAppStorePath string
	WhatsAppAlertJID  string
	WhatsAppLogLevel  string
}

// Bot is a bot token and the chat its outbound messages go to.
type Bot struct {
	Token string
	Chat  string
}

// Keys lists every configuration key. Each is bound to the environment
// variable of the same name.
var Keys = []string{
	"LOG_LEVEL", "LOG_FORMAT", "HTTP_LISTEN_ADDR", "PUBLIC_BASE_PATH", "METRICS_NAMESPACE", "DEBUG_ENDPOINTS",
	"STORE_DRIVER", "STORE_PATH", "DATABASE_URL", "DATABASE_SCHEMA",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_TLS", "REDIS_KEY",
	"SHEET_ID", "GOOGLE_SA_KEY_JSON", "GOOGLE_SA_CRED_PATH", "LEDGER_RETRY_INTERVAL", "LEDGER_BREAKER_DELAY",
	"TELEGRAM_BASE_URL", "POLL_INTERVAL", "POLL_WAIT", "SEND_TIMEOUT", "ALERT_TIMEOUT",
	"BOT_ORDER_TOKEN", "BOT_ORDER_CHAT",
	"BOT_BALANCE_TOKEN", "BOT_BALANCE_CHAT",
	"BOT_ADMIN_CMD_TOKEN", "BOT_ADMIN_CMD_CHAT",
	"BOT_LOGIN_REPORT_TOKEN", "BOT_LOGIN_REPORT_CHAT",
	"BOT_HELP_TOKEN", "BOT_HELP_CHAT",
	"BOT_OFFERS_TOKEN", "BOT_OFFERS_CHAT",
	"BOT_NOTIFY_TOKEN", "BOT_NOTIFY_CHAT",
	"WHATSAPP_STORE_PATH", "WHATSAPP_ALERT_JID", "WHATSAPP_LOG_LEVEL",
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("HTTP_LISTEN_ADDR", ":3000")
	v.SetDefault("METRICS_NAMESPACE", "topup_bot")
	v.SetDefault("DEBUG_ENDPOINTS", true)
	v.SetDefault("STORE_DRIVER", "file")
	v.SetDefault("STORE_PATH", "data.json")
	v.SetDefault("DATABASE_SCHEMA", "public")
	v.SetDefault("REDIS_KEY", "topup-bot:document")
	v.SetDefault("LEDGER_RETRY_INTERVAL", time.Minute)
	v.SetDefault("LEDGER_BREAKER_DELAY", 30*time.Second)
	v.SetDefault("TELEGRAM_BASE_URL", "https://api.telegram.org")
	v.SetDefault("POLL_INTERVAL", 10*time.Second)
	v.SetDefault("POLL_WAIT", 20*time.Second)
	v.SetDefault("SEND_TIMEOUT", 4*time.Second)
	v.SetDefault("ALERT_TIMEOUT", 3*time.Second)
	v.SetDefault("WHATSAPP_LOG_LEVEL", "INFO")
}

// BindEnv binds every key to its environment variable.
func BindEnv(v *viper.Viper) error {
	for _, key := range Keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// Load reads configuration from v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		LogLevel:         str(v, "LOG_LEVEL"),
		LogFormat:        str(v, "LOG_FORMAT"),
		HTTPListenAddr:   str(v, "HTTP_LISTEN_ADDR"),
		PublicBasePath:   str(v, "PUBLIC_BASE_PATH"),
		MetricsNamespace: str(v, "METRICS_NAMESPACE"),
		DebugEndpoints:   v.GetBool("DEBUG_ENDPOINTS"),

		StoreDriver:    strings.ToLower(str(v, "STORE_DRIVER")),
		StorePath:      str(v, "STORE_PATH"),
		DatabaseURL:    str(v, "DATABASE_URL"),
		DatabaseSchema: str(v, "DATABASE_SCHEMA"),
		RedisAddr:      str(v, "REDIS_ADDR"),
		RedisPassword:  v.GetString("REDIS_PASSWORD"),
		RedisDB:        v.GetInt("REDIS_DB"),
		RedisTLS:       v.GetBool("REDIS_TLS"),
		RedisKey:       str(v, "REDIS_KEY"),

		SheetID:             str(v, "SHEET_ID"),
		GoogleSAKeyJSON:     str(v, "GOOGLE_SA_KEY_JSON"),
		GoogleSACredPath:    str(v, "GOOGLE_SA_CRED_PATH"),
		LedgerRetryInterval: v.GetDuration("LEDGER_RETRY_INTERVAL"),
		LedgerBreakerDelay:  v.GetDuration("LEDGER_BREAKER_DELAY"),

		TelegramBaseURL: strings.TrimRight(str(v, "TELEGRAM_BASE_URL"), "/"),
		PollInterval:    v.GetDuration("POLL_INTERVAL"),
		PollWait:        v.GetDuration("POLL_WAIT"),
		SendTimeout:     v.GetDuration("SEND_TIMEOUT"),
		AlertTimeout:    v.GetDuration("ALERT_TIMEOUT"),

		OrderBot:       bot(v, "ORDER"),
		BalanceBot:     bot(v, "BALANCE"),
		AdminBot:       bot(v, "ADMIN_CMD"),
		LoginReportBot: bot(v, "LOGIN_REPORT"),
		HelpBot:        bot(v, "HELP"),
		OffersBot:      bot(v, "OFFERS"),
		NotifyBot:      bot(v, "NOTIFY"),

		WhatsAppStorePath: str(v, "WHATSAPP_STORE_PATH"),
		WhatsAppAlertJID:  str(v, "WHATSAPP_ALERT_JID"),
		WhatsAppLogLevel:  str(v, "WHATSAPP_LOG_LEVEL"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected backends have what they need.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case "file", "sqlite":
		if c.StorePath == "" {
			return fmt.Errorf("STORE_PATH is required for store driver %s", c.StoreDriver)
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for store driver postgres")
		}
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for store driver redis")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.SheetID != "" && c.GoogleSAKeyJSON == "" && c.GoogleSACredPath == "" {
		return fmt.Errorf("SHEET_ID is set but neither GOOGLE_SA_KEY_JSON nor GOOGLE_SA_CRED_PATH is")
	}
	if c.PollInterval <= 0 || c.PollWait <= 0 || c.SendTimeout <= 0 {
		return fmt.Errorf("POLL_INTERVAL, POLL_WAIT and SEND_TIMEOUT must be positive")
	}
	return nil
}

func str(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func bot(v *viper.Viper, name string) Bot {
	return Bot{
		Token: str(v, "BOT_"+name+"_TOKEN"),
		Chat:  str(v, "BOT_"+name+"_CHAT"),
	}
}
