package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port       string
	WebhookURL string

	TelegramBotToken string

	GeminiAPIKey string
	GeminiModel  string
	OCRTimeout   time.Duration

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration

	SyrveURL      string
	SyrveToken    string
	ExportTimeout time.Duration

	FuzzyThreshold     float64
	LearnThreshold     float64
	CandidateThreshold float64
	CatalogTTL         time.Duration

	MaxImageDimension int
	AlbumDebounce     time.Duration

	// ADMIN_TOKEN открывает служебный HTTP API, пустой, API выключен.
	AdminToken string

	LogLevel string
}

// Load читает .env (если есть) и окружение. Ошибки конфигурации фатальны.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: .env not loaded: %v", err)
	}
	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// FromEnv собирает конфиг из произвольного источника переменных.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := env{get: getenv}
	cfg := &Config{
		Port:       e.str("PORT", "8080"),
		WebhookURL: e.str("WEBHOOK_URL", ""),

		TelegramBotToken: e.must("TELEGRAM_BOT_TOKEN"),

		GeminiAPIKey: e.must("GEMINI_API_KEY"),
		GeminiModel:  e.str("GEMINI_MODEL", "gemini-2.5-flash"),
		OCRTimeout:   e.duration("OCR_TIMEOUT", 90*time.Second),

		DatabaseURL: resolveDSN(e),

		RedisAddr:     e.str("REDIS_ADDR", ""),
		RedisPassword: e.str("REDIS_PASSWORD", ""),
		RedisDB:       e.int("REDIS_DB", 0),
		SessionTTL:    e.duration("SESSION_TTL", 24*time.Hour),

		SyrveURL:      e.must("SYRVE_URL"),
		SyrveToken:    e.str("SYRVE_TOKEN", ""),
		ExportTimeout: e.duration("EXPORT_TIMEOUT", 30*time.Second),

		FuzzyThreshold:     e.float("FUZZY_THRESHOLD", 0.85),
		LearnThreshold:     e.float("LEARN_THRESHOLD", 0.90),
		CandidateThreshold: e.float("CANDIDATE_THRESHOLD", 0.5),
		CatalogTTL:         e.duration("CATALOG_TTL", 5*time.Minute),

		MaxImageDimension: e.int("MAX_IMAGE_DIMENSION", 2048),
		AlbumDebounce:     e.duration("ALBUM_DEBOUNCE", 1200*time.Millisecond),

		AdminToken: e.str("ADMIN_TOKEN", ""),

		LogLevel: e.str("LOG_LEVEL", "info"),
	}
	if err := e.err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	for name, v := range map[string]float64{
		"FUZZY_THRESHOLD":     c.FuzzyThreshold,
		"LEARN_THRESHOLD":     c.LearnThreshold,
		"CANDIDATE_THRESHOLD": c.CandidateThreshold,
	} {
		if v <= 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("%s must be in (0, 1], got %v", name, v))
		}
	}
	if c.CandidateThreshold > c.FuzzyThreshold {
		problems = append(problems, "CANDIDATE_THRESHOLD must not exceed FUZZY_THRESHOLD")
	}
	if c.MaxImageDimension < 256 {
		problems = append(problems, "MAX_IMAGE_DIMENSION must be at least 256")
	}
	if _, err := url.ParseRequestURI(c.SyrveURL); c.SyrveURL != "" && err != nil {
		problems = append(problems, fmt.Sprintf("SYRVE_URL: %v", err))
	}
	if c.DatabaseURL == "" {
		problems = append(problems, "database DSN is empty: set DATABASE_URL or POSTGRES_* env vars")
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// UseRedis: сессии хранятся в Redis, иначе в памяти процесса.
func (c *Config) UseRedis() bool { return strings.TrimSpace(c.RedisAddr) != "" }

// ---------------- env helpers ----------------

type env struct {
	get      func(string) string
	problems []string
}

func (e *env) str(k, def string) string {
	if v := strings.TrimSpace(e.get(k)); v != "" {
		return v
	}
	return def
}

func (e *env) must(k string) string {
	v := strings.TrimSpace(e.get(k))
	if v == "" {
		e.problems = append(e.problems, "missing required env "+k)
	}
	return v
}

func (e *env) int(k string, def int) int {
	v := e.str(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s: not an integer: %q", k, v))
		return def
	}
	return n
}

func (e *env) float(k string, def float64) float64 {
	v := e.str(k, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s: not a number: %q", k, v))
		return def
	}
	return f
}

// duration принимает "90s", "5m" или число секунд.
func (e *env) duration(k string, def time.Duration) time.Duration {
	v := e.str(k, "")
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.problems = append(e.problems, fmt.Sprintf("%s: bad duration: %q", k, v))
		return def
	}
	return d
}

func (e *env) err() error {
	if len(e.problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(e.problems, "; "))
}

// ResolveDSN: DSN для утилит, которым не нужен весь конфиг бота.
func ResolveDSN(getenv func(string) string) string {
	return resolveDSN(env{get: getenv})
}

func resolveDSN(e env) string {
	// Prefer DATABASE_URL if provided
	if v := e.str("DATABASE_URL", ""); v != "" {
		return v
	}
	user := e.str("POSTGRES_USER", "invoicebot")
	pass := e.str("POSTGRES_PASSWORD", "")
	host := e.str("PGHOST", "db")
	port := e.str("PGPORT", "5432")
	db := e.str("POSTGRES_DB", "invoicebot")

	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, pass),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + db,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// SafeDSNSummary: DSN без пароля, для логов.
func SafeDSNSummary(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "dsn: parse error"
	}
	user := u.User.Username()
	host := u.Host
	port := ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, user)
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, user)
}
