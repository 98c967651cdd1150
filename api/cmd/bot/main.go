package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/sirupsen/logrus"

	"invoice-bot/api/internal/catalog"
	"invoice-bot/api/internal/config"
	"invoice-bot/api/internal/detect"
	"invoice-bot/api/internal/export"
	"invoice-bot/api/internal/handle"
	"invoice-bot/api/internal/httpserver"
	"invoice-bot/api/internal/imgprep"
	"invoice-bot/api/internal/ocr"
	"invoice-bot/api/internal/ocr/gemini"
	"invoice-bot/api/internal/reconcile"
	"invoice-bot/api/internal/sessions"
	"invoice-bot/api/internal/store"
	"invoice-bot/api/internal/telegram"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("sql.Open: %v", err)
	}
	// connection pool tune (нагрузка до ~20 rps)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)

	// health check + схема
	{
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := db.PingContext(pctx); err != nil {
			logger.Fatalf("db.Ping: %v", err)
		}
		if err := store.Migrate(pctx, db); err != nil {
			logger.Fatalf("migrate: %v", err)
		}
		cancel()
		logger.Infof("db connected: %s", config.SafeDSNSummary(cfg.DatabaseURL))
	}

	products := store.NewProductRepo(db)
	aliases := store.NewAliasRepo(db)
	parses := store.NewParseRepo(db)
	invoices := store.NewInvoiceRepo(db)
	cat := catalog.NewCached(products, cfg.CatalogTTL)

	// --- Sessions ---
	checks := map[string]httpserver.Check{"db": db.PingContext}
	var sessionStore sessions.Store
	if cfg.UseRedis() {
		rs, err := sessions.NewRedis(ctx, sessions.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SessionTTL,
		}, logger.WithField("module", "sessions"))
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rs.Close()
		sessionStore = rs
		checks["redis"] = rs.Ping
		logger.Infof("sessions: redis %s db=%d", cfg.RedisAddr, cfg.RedisDB)
	} else {
		sessionStore = sessions.NewMemory(cfg.SessionTTL)
		logger.Warn("sessions: in-memory, REDIS_ADDR is empty")
	}

	// --- Reconciliation core ---
	det := detect.New(cat, aliases, logger.WithField("module", "detect"))
	det.Threshold = cfg.FuzzyThreshold
	det.LearnThreshold = cfg.LearnThreshold
	det.CandidateThreshold = cfg.CandidateThreshold

	exporter := export.NewSyrve(cfg.SyrveURL, cfg.SyrveToken, cfg.ExportTimeout, logger.WithField("module", "export"))
	engine := reconcile.NewEngine(cat, aliases, det, exporter, logger.WithField("module", "reconcile"))
	engine.Recorder = invoices
	engine.CandidateThreshold = cfg.CandidateThreshold
	engine.ExportTimeout = cfg.ExportTimeout

	// --- OCR ---
	recognizer := &ocr.Cached{
		Engine:  gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel, logger.WithField("module", "gemini")),
		Cache:   parses,
		Log:     logger.WithField("module", "ocr"),
		Timeout: cfg.OCRTimeout,
	}
	go purgeParses(ctx, parses, logger)

	// --- Telegram bot ---
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		logger.Fatal(err)
	}
	bot.Debug = false

	r := telegram.NewRouter(bot, engine, sessionStore, recognizer, logger.WithField("module", "telegram"))
	r.Aliases = aliases
	r.Invoices = invoices
	r.Prep = imgprep.Options{MaxDimension: cfg.MaxImageDimension, Quality: imgprep.DefaultOptions.Quality}
	r.Debounce = cfg.AlbumDebounce
	r.OCRTimeout = cfg.OCRTimeout + 10*time.Second

	// --- HTTP mux (DefaultServeMux) ---
	// Используем DefaultServeMux, чтобы ListenForWebhook, который регистрирует обработчик на default mux, работал корректно.
	httpserver.Register(http.DefaultServeMux, checks)
	api := handle.New(recognizer, det, cat, aliases, cfg.AdminToken, logger.WithField("module", "api"))
	if api.Register(http.DefaultServeMux) {
		logger.Info("admin api enabled on /v1/")
	}

	addr := "0.0.0.0:" + cfg.Port
	srv := &http.Server{Addr: addr, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	// --- Choose mode: Webhook vs Polling ---
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL != "" {
		startWebhookMode(ctx, srv, bot, r, webhookURL, logger)
	} else {
		startPollingMode(ctx, srv, bot, r, logger)
	}
	r.Wait()
	logger.Info("bot stopped")
}

// ---------------- Modes -----------------

func startWebhookMode(ctx context.Context, srv *http.Server, bot *tgbotapi.BotAPI, r *telegram.Router, baseURL string, logger *logrus.Logger) {
	// секретный путь вебхука
	path := "/webhook/" + shortHash(bot.Token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		logger.Fatal(err)
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		logger.Fatal(err)
	}

	// tgbotapi.ListenForWebhook регистрирует обработчик на DefaultServeMux
	updates := bot.ListenForWebhook(path)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd := <-updates:
				r.HandleUpdate(upd)
			}
		}
	}()

	logger.Infof("health server listening on %s/healthz", srv.Addr)
	logger.Infof("webhook listening on %s%s", srv.Addr, path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) { // DefaultServeMux
		logger.Fatal(err)
	}
}

func startPollingMode(ctx context.Context, srv *http.Server, bot *tgbotapi.BotAPI, r *telegram.Router, logger *logrus.Logger) {
	// вебхук мог остаться от прошлого запуска, с ним getUpdates не работает
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		logger.WithError(err).Warn("delete webhook failed")
	}

	// Запускаем HTTP server (healthz), хотя для polling он не обязателен
	go func() {
		logger.Infof("health server listening on %s/healthz", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) { // DefaultServeMux
			logger.Fatal(err)
		}
	}()

	// Устойчивый поллинг с backoff без log.Fatal/os.Exit
	runPolling(ctx, bot, r.HandleUpdate, logger)
}

// ---------------- Polling loop -----------------

// Updater: часть BotAPI для long polling.
type Updater interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") { // HTTP 429 от Telegram
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return 2 * time.Second
		}
	}
	return 1 * time.Second
}

func runPolling(ctx context.Context, bot Updater, handle func(tgbotapi.Update), logger logrus.FieldLogger) {
	offset := 0
	baseDelay := 1 * time.Second
	maxDelay := 15 * time.Second

	for {
		select {
		case <-ctx.Done():
			logger.Info("polling: context cancelled")
			return
		default:
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30 // long polling timeout (sec)

		updates, err := bot.GetUpdates(u)
		if err != nil {
			d := retryDelayFromError(err)
			if d < baseDelay {
				d = baseDelay
			}
			if d > maxDelay {
				d = maxDelay
			}
			logger.WithError(err).Warnf("polling error; retry in %v", d)
			if !sleepCtx(ctx, d) {
				return
			}
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}

		if len(updates) == 0 && !sleepCtx(ctx, 200*time.Millisecond) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// purgeParses раз в сутки чистит старый кэш распознавания.
func purgeParses(ctx context.Context, parses *store.ParseRepo, logger logrus.FieldLogger) {
	tick := time.NewTicker(24 * time.Hour)
	defer tick.Stop()
	for {
		n, err := parses.PurgeOlderThan(ctx, parses.MaxAge)
		if err != nil && ctx.Err() == nil {
			logger.WithError(err).Warn("parse cache purge failed")
		} else if n > 0 {
			logger.WithField("rows", n).Info("parse cache purged")
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

// ---------------- Helpers -----------------

func shortHash(s string) string {
	// лёгкий хэш для пути вебхука (не крипто, но стабильно для токена)
	h := uint64(1469598103934665603)
	const prime = 1099511628211
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	// 16-символный hex
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = hexdigits[h&0xF]
		h >>= 4
	}
	return string(out)
}
