package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrMissingCredentials = errors.New("missing mailbox credentials")

type Config struct {
	Env        string
	DBPath     string
	ArchiveDir string

	MailProvider string

	EmailUser           string
	EmailPassword       string
	EmailHost           string
	EmailPort           int
	EmailTLS            bool
	CheckInterval       time.Duration
	ProcessTimeout      time.Duration
	FetchTimeout        time.Duration
	ReconnectBaseDelay  time.Duration
	ReconnectMaxAttempt int
	StopOnAuthFailure   bool

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	GeminiAPIKey    string
	GeminiModel     string
	GeminiBaseURL   string
	AIRetryAttempts int
	AIRateLimitRPS  int

	NBPBaseURL       string
	CurrencyCacheTTL time.Duration

	NtfyServer  string
	NtfyTopic   string
	NtfyToken   string
	NtfyEnabled bool

	DefaultMatchThreshold int
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v, cwd)

	cfg := Config{
		Env:        v.GetString("APP_ENV"),
		DBPath:     v.GetString("DB_PATH"),
		ArchiveDir: v.GetString("MAIL_ARCHIVE_DIR"),

		MailProvider: strings.ToLower(strings.TrimSpace(v.GetString("MAIL_PROVIDER"))),

		EmailUser:           v.GetString("EMAIL_USER"),
		EmailPassword:       v.GetString("EMAIL_PASSWORD"),
		EmailHost:           v.GetString("EMAIL_HOST"),
		EmailPort:           v.GetInt("EMAIL_PORT"),
		EmailTLS:            v.GetBool("EMAIL_TLS"),
		CheckInterval:       millis(v, "EMAIL_CHECK_INTERVAL"),
		ProcessTimeout:      millis(v, "EMAIL_PROCESS_TIMEOUT_MS"),
		FetchTimeout:        millis(v, "EMAIL_FETCH_TIMEOUT_MS"),
		ReconnectBaseDelay:  millis(v, "IMAP_RECONNECT_BASE_MS"),
		ReconnectMaxAttempt: v.GetInt("IMAP_RECONNECT_MAX_ATTEMPTS"),
		StopOnAuthFailure:   v.GetBool("IMAP_STOP_ON_AUTH_FAILURE"),

		GmailClientID:     v.GetString("GMAIL_CLIENT_ID"),
		GmailClientSecret: v.GetString("GMAIL_CLIENT_SECRET"),
		GmailRedirectURI:  v.GetString("GMAIL_REDIRECT_URI"),
		GmailRefreshToken: v.GetString("GMAIL_REFRESH_TOKEN"),

		GeminiAPIKey:    v.GetString("GEMINI_API_KEY"),
		GeminiModel:     v.GetString("GEMINI_MODEL"),
		GeminiBaseURL:   v.GetString("GEMINI_BASE_URL"),
		AIRetryAttempts: v.GetInt("AI_RETRY_ATTEMPTS"),
		AIRateLimitRPS:  v.GetInt("AI_RATE_LIMIT_RPS"),

		NBPBaseURL:       v.GetString("NBP_BASE_URL"),
		CurrencyCacheTTL: millis(v, "CURRENCY_CACHE_TTL_MS"),

		NtfyServer:  v.GetString("NTFY_SERVER"),
		NtfyTopic:   v.GetString("NTFY_TOPIC"),
		NtfyToken:   v.GetString("NTFY_TOKEN"),
		NtfyEnabled: v.GetBool("NTFY_ENABLED"),

		DefaultMatchThreshold: clampPercent(v.GetInt("MATCH_THRESHOLD_DEFAULT")),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cwd string) {
	v.SetDefault("APP_ENV", "local")
	v.SetDefault("DB_PATH", filepath.Join(cwd, "data", "offerwatch.db"))
	v.SetDefault("MAIL_ARCHIVE_DIR", "")
	v.SetDefault("MAIL_PROVIDER", "imap")

	v.SetDefault("EMAIL_USER", "")
	v.SetDefault("EMAIL_PASSWORD", "")
	v.SetDefault("EMAIL_HOST", "imap.home.pl")
	v.SetDefault("EMAIL_PORT", 993)
	v.SetDefault("EMAIL_TLS", true)
	v.SetDefault("EMAIL_CHECK_INTERVAL", 60000)
	v.SetDefault("EMAIL_PROCESS_TIMEOUT_MS", 120000)
	v.SetDefault("EMAIL_FETCH_TIMEOUT_MS", 60000)
	v.SetDefault("IMAP_RECONNECT_BASE_MS", 5000)
	v.SetDefault("IMAP_RECONNECT_MAX_ATTEMPTS", 10)
	v.SetDefault("IMAP_STOP_ON_AUTH_FAILURE", false)

	v.SetDefault("GMAIL_CLIENT_ID", "")
	v.SetDefault("GMAIL_CLIENT_SECRET", "")
	v.SetDefault("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground")
	v.SetDefault("GMAIL_REFRESH_TOKEN", "")

	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("GEMINI_MODEL", "gemini-2.5-flash-lite")
	v.SetDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("AI_RETRY_ATTEMPTS", 3)
	v.SetDefault("AI_RATE_LIMIT_RPS", 1)

	v.SetDefault("NBP_BASE_URL", "https://api.nbp.pl/api")
	v.SetDefault("CURRENCY_CACHE_TTL_MS", 3600000)

	v.SetDefault("NTFY_SERVER", "https://ntfy.sh")
	v.SetDefault("NTFY_TOPIC", "")
	v.SetDefault("NTFY_TOKEN", "")
	v.SetDefault("NTFY_ENABLED", true)

	v.SetDefault("MATCH_THRESHOLD_DEFAULT", 90)
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

// RequireMailbox checks the credentials of the configured provider.
func (c Config) RequireMailbox() error {
	switch c.MailProvider {
	case "gmail":
		for name, value := range map[string]string{
			"GMAIL_CLIENT_ID":     c.GmailClientID,
			"GMAIL_CLIENT_SECRET": c.GmailClientSecret,
			"GMAIL_REFRESH_TOKEN": c.GmailRefreshToken,
		} {
			if err := c.Require(name, value); err != nil {
				return fmt.Errorf("%w: %w", ErrMissingCredentials, err)
			}
		}
	default:
		if c.EmailUser == "" || c.EmailPassword == "" {
			return fmt.Errorf("%w: EMAIL_USER and EMAIL_PASSWORD are required", ErrMissingCredentials)
		}
	}
	return nil
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Millisecond
}

func clampPercent(n int) int {
	return min(100, max(0, n))
}
