package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/BookingRelay/internal/api"
	"github.com/BTreeMap/BookingRelay/internal/dedup"
	"github.com/BTreeMap/BookingRelay/internal/lockfile"
	"github.com/BTreeMap/BookingRelay/internal/messaging"
	"github.com/BTreeMap/BookingRelay/internal/metrics"
	"github.com/BTreeMap/BookingRelay/internal/store"
	"github.com/BTreeMap/BookingRelay/internal/telegram"
	"github.com/BTreeMap/BookingRelay/internal/transition"
	"github.com/BTreeMap/BookingRelay/internal/twilioalert"
	"github.com/BTreeMap/BookingRelay/internal/util"
	"github.com/BTreeMap/BookingRelay/internal/wix"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for BookingRelay state data
	DefaultStateDir = "/var/lib/bookingrelay"
	// metricsNamespace prefixes every exported metric
	metricsNamespace = "bookingrelay"
	// outboxPollInterval is how often queued notifications are retried
	outboxPollInterval = 5 * time.Second
	// claimLeaseSlack covers the click bookkeeping around a gateway Apply
	claimLeaseSlack = 30 * time.Second
)

var _ messaging.Channel = (*telegram.Client)(nil)

func main() {
	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)
	initializeLogger(*flags.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping BookingRelay")
	if err := run(ctx, flags); err != nil {
		slog.Error("BookingRelay failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("BookingRelay exited successfully")
}

// Config holds environment configuration
type Config struct {
	APIAddr          string
	LogLevel         string
	StateDir         string
	DatabaseURL      string
	BotToken         string
	ChatID           int64
	OperatorIDs      []int64
	TelegramHookURL  string
	TelegramSecret   string
	WixBaseURL       string
	WixAccessToken   string
	WixSiteID        string
	WebhookSecret    string
	RequireSecret    bool
	DedupTTL         time.Duration
	RemoteTimeout    time.Duration
	PaidNeedsConfirm bool
	Timezone         string
	PollInterval     time.Duration
	MetricsEnabled   bool
	RawDiagnostics   bool
	BindHandle       bool
	TwilioSID        string
	TwilioToken      string
	TwilioFrom       string
	AlertTo          string
}

// Flags holds command line flag values
type Flags struct {
	apiAddr          *string
	logLevel         *string
	stateDir         *string
	dbDSN            *string
	botToken         *string
	chatID           *int64
	operatorIDs      *string
	telegramHookURL  *string
	telegramSecret   *string
	wixBaseURL       *string
	wixAccessToken   *string
	wixSiteID        *string
	webhookSecret    *string
	requireSecret    *bool
	dedupTTL         *time.Duration
	remoteTimeout    *time.Duration
	paidNeedsConfirm *bool
	timezone         *string
	pollInterval     *time.Duration
	metricsEnabled   *bool
	rawDiagnostics   *bool
	bindHandle       *bool
	twilioSID        *string
	twilioToken      *string
	twilioFrom       *string
	alertTo          *string
}

// initializeLogger installs a text handler at the requested level
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		APIAddr:          firstNonEmpty(os.Getenv("API_ADDR"), api.DefaultAddr),
		LogLevel:         firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
		StateDir:         firstNonEmpty(os.Getenv("BOOKINGRELAY_STATE_DIR"), DefaultStateDir),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		BotToken:         firstNonEmpty(os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("BOT_TOKEN")),
		OperatorIDs:      util.ParseInt64ListEnv("TELEGRAM_OPERATOR_IDS"),
		TelegramHookURL:  os.Getenv("TELEGRAM_WEBHOOK_URL"),
		TelegramSecret:   os.Getenv("TELEGRAM_WEBHOOK_SECRET"),
		WixBaseURL:       firstNonEmpty(os.Getenv("WIX_API_BASE_URL"), wix.DefaultBaseURL),
		WixAccessToken:   os.Getenv("WIX_ACCESS_TOKEN"),
		WixSiteID:        os.Getenv("WIX_SITE_ID"),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		RequireSecret:    util.ParseBoolEnv("WEBHOOK_REQUIRE_SECRET", true),
		DedupTTL:         util.ParseDurationEnv("DEDUP_TTL", dedup.DefaultTTL),
		RemoteTimeout:    util.ParseDurationEnv("REMOTE_TIMEOUT", transition.DefaultStepTimeout),
		PaidNeedsConfirm: util.ParseBoolEnv("PAID_REQUIRES_CONFIRM", true),
		Timezone:         firstNonEmpty(os.Getenv("TIMEZONE"), messaging.DefaultTimezone),
		PollInterval:     util.ParseDurationEnv("POLL_INTERVAL", 0),
		MetricsEnabled:   util.ParseBoolEnv("METRICS_ENABLED", false),
		RawDiagnostics:   util.ParseBoolEnv("RAW_DIAGNOSTICS", true),
		BindHandle:       util.ParseBoolEnv("BIND_HANDLE", false),
		TwilioSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		AlertTo:          os.Getenv("ALERT_TO"),
	}
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			slog.Warn("invalid TELEGRAM_CHAT_ID, ignoring", "value", raw, "error", err)
		}
		config.ChatID = id
	}

	slog.Debug("environment variables loaded",
		"API_ADDR", config.APIAddr,
		"BOOKINGRELAY_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"TELEGRAM_BOT_TOKEN_SET", config.BotToken != "",
		"TELEGRAM_CHAT_ID", config.ChatID,
		"TELEGRAM_OPERATOR_IDS", len(config.OperatorIDs),
		"TELEGRAM_WEBHOOK_URL", config.TelegramHookURL,
		"WIX_API_BASE_URL", config.WixBaseURL,
		"WIX_ACCESS_TOKEN_SET", config.WixAccessToken != "",
		"WEBHOOK_SECRET_SET", config.WebhookSecret != "",
		"WEBHOOK_REQUIRE_SECRET", config.RequireSecret,
		"DEDUP_TTL", config.DedupTTL,
		"POLL_INTERVAL", config.PollInterval,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		logLevel:         flag.String("log-level", config.LogLevel, "log level: debug, info, warn, error (overrides $LOG_LEVEL)"),
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for BookingRelay data (overrides $BOOKINGRELAY_STATE_DIR)"),
		dbDSN:            flag.String("db-dsn", config.DatabaseURL, "durable store: SQLite path or Postgres DSN, empty for in-memory (overrides $DATABASE_URL)"),
		botToken:         flag.String("bot-token", config.BotToken, "Telegram bot token (overrides $TELEGRAM_BOT_TOKEN)"),
		chatID:           flag.Int64("chat-id", config.ChatID, "Telegram chat receiving notifications (overrides $TELEGRAM_CHAT_ID)"),
		operatorIDs:      flag.String("operator-ids", joinIDs(config.OperatorIDs), "comma separated Telegram user ids allowed to press controls (overrides $TELEGRAM_OPERATOR_IDS)"),
		telegramHookURL:  flag.String("telegram-webhook-url", config.TelegramHookURL, "public base URL for Telegram webhook mode, empty for long polling (overrides $TELEGRAM_WEBHOOK_URL)"),
		telegramSecret:   flag.String("telegram-webhook-secret", config.TelegramSecret, "path secret for the Telegram webhook (overrides $TELEGRAM_WEBHOOK_SECRET)"),
		wixBaseURL:       flag.String("wix-base-url", config.WixBaseURL, "booking API base URL (overrides $WIX_API_BASE_URL)"),
		wixAccessToken:   flag.String("wix-access-token", config.WixAccessToken, "booking API access token (overrides $WIX_ACCESS_TOKEN)"),
		wixSiteID:        flag.String("wix-site-id", config.WixSiteID, "booking API site id (overrides $WIX_SITE_ID)"),
		webhookSecret:    flag.String("webhook-secret", config.WebhookSecret, "shared secret for booking webhooks (overrides $WEBHOOK_SECRET)"),
		requireSecret:    flag.Bool("webhook-require-secret", config.RequireSecret, "refuse to start without a webhook secret (overrides $WEBHOOK_REQUIRE_SECRET)"),
		dedupTTL:         flag.Duration("dedup-ttl", config.DedupTTL, "duplicate suppression window (overrides $DEDUP_TTL)"),
		remoteTimeout:    flag.Duration("remote-timeout", config.RemoteTimeout, "timeout per booking API call (overrides $REMOTE_TIMEOUT)"),
		paidNeedsConfirm: flag.Bool("paid-requires-confirm", config.PaidNeedsConfirm, "confirm bookings before marking them paid (overrides $PAID_REQUIRES_CONFIRM)"),
		timezone:         flag.String("timezone", config.Timezone, "timezone for booking times (overrides $TIMEZONE)"),
		pollInterval:     flag.Duration("poll-interval", config.PollInterval, "booking poll interval, 0 disables polling (overrides $POLL_INTERVAL)"),
		metricsEnabled:   flag.Bool("metrics", config.MetricsEnabled, "serve Prometheus metrics on /metrics (overrides $METRICS_ENABLED)"),
		rawDiagnostics:   flag.Bool("raw-diagnostics", config.RawDiagnostics, "post unrecognized payloads to the chat (overrides $RAW_DIAGNOSTICS)"),
		bindHandle:       flag.Bool("bind-handle", config.BindHandle, "embed the message handle into control payloads (overrides $BIND_HANDLE)"),
		twilioSID:        flag.String("twilio-account-sid", config.TwilioSID, "Twilio account SID for alerts (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:      flag.String("twilio-auth-token", config.TwilioToken, "Twilio auth token for alerts (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:       flag.String("twilio-from", config.TwilioFrom, "Twilio sender for alerts (overrides $TWILIO_FROM_NUMBER)"),
		alertTo:          flag.String("alert-to", config.AlertTo, "alert recipient (overrides $ALERT_TO)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"apiAddr", *flags.apiAddr,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"chatID", *flags.chatID,
		"telegramWebhook", *flags.telegramHookURL != "",
		"pollInterval", *flags.pollInterval,
		"metrics", *flags.metricsEnabled)

	return flags
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid operator id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// validateFlags reports configuration the relay cannot start with
func validateFlags(flags Flags) error {
	var errs []error
	if *flags.botToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if *flags.chatID == 0 {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required"))
	}
	if *flags.requireSecret && *flags.webhookSecret == "" {
		errs = append(errs, errors.New("WEBHOOK_SECRET is required while WEBHOOK_REQUIRE_SECRET is true"))
	}
	if *flags.telegramHookURL != "" && *flags.telegramSecret == "" {
		errs = append(errs, errors.New("TELEGRAM_WEBHOOK_SECRET is required with TELEGRAM_WEBHOOK_URL"))
	}
	if _, err := parseIDs(*flags.operatorIDs); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// usesLocalState reports whether dedup state lives in this process or its
// state directory, which limits the relay to a single instance
func usesLocalState(flags Flags) bool {
	return *flags.dbDSN == "" || store.DetectDSNType(*flags.dbDSN) != "postgres"
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	}
	dsn := *flags.dbDSN
	if !filepath.IsAbs(dsn) && !strings.Contains(dsn, string(filepath.Separator)) {
		dsn = filepath.Join(*flags.stateDir, dsn)
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return append(storeOpts, store.WithSQLiteDSN(dsn))
}

// buildTelegramOptions constructs Telegram configuration options
func buildTelegramOptions(flags Flags) []telegram.Option {
	return []telegram.Option{
		telegram.WithToken(*flags.botToken),
		telegram.WithChatID(*flags.chatID),
		telegram.WithDebug(parseLogLevel(*flags.logLevel) == slog.LevelDebug),
	}
}

// buildWixConfig constructs the booking API client configuration
func buildWixConfig(flags Flags) wix.Config {
	cfg := wix.DefaultConfig()
	cfg.BaseURL = *flags.wixBaseURL
	cfg.SiteID = *flags.wixSiteID
	if *flags.remoteTimeout > 0 {
		cfg.Timeout = *flags.remoteTimeout
	}
	return cfg
}

// buildGatewayOptions constructs transition gateway options
func buildGatewayOptions(flags Flags, m metrics.RelayMetrics) []transition.Option {
	return []transition.Option{
		transition.WithStepTimeout(*flags.remoteTimeout),
		transition.WithPaidRequiresConfirm(*flags.paidNeedsConfirm),
		transition.WithMetrics(m),
	}
}

// buildNotifierOptions constructs notifier options
func buildNotifierOptions(flags Flags) ([]messaging.NotifierOption, error) {
	loc, err := time.LoadLocation(*flags.timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", *flags.timezone, err)
	}
	return []messaging.NotifierOption{
		messaging.WithLocation(loc),
		messaging.WithBindHandle(*flags.bindHandle),
		messaging.WithRawDiagnostics(*flags.rawDiagnostics),
	}, nil
}

// buildTwilioOptions constructs alert options; nil disables alert mirroring
func buildTwilioOptions(flags Flags) []twilioalert.Option {
	if *flags.twilioSID == "" {
		return nil
	}
	return []twilioalert.Option{
		twilioalert.WithAccountSID(*flags.twilioSID),
		twilioalert.WithAuthToken(*flags.twilioToken),
		twilioalert.WithFrom(*flags.twilioFrom),
		twilioalert.WithTo(*flags.alertTo),
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	apiOpts := []api.Option{
		api.WithWebhookSecret(*flags.webhookSecret),
		api.WithRequireSecret(*flags.requireSecret),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}

// durableStore is what a configured database provides.
type durableStore interface {
	dedup.WindowStore
	dedup.Sweeper
	dedup.ClaimStore
	store.NotificationRepo
	store.CursorRepo
	store.OutboxRepo
	Close() error
}

func openStore(flags Flags) (durableStore, error) {
	opts := buildStoreOptions(flags)
	if len(opts) == 0 {
		return nil, nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return store.NewPostgresStore(opts...)
	}
	return store.NewSQLiteStore(opts...)
}

// run wires every component and blocks until ctx is done or one of them fails
func run(ctx context.Context, flags Flags) error {
	if err := validateFlags(flags); err != nil {
		return err
	}
	operators, _ := parseIDs(*flags.operatorIDs)

	if usesLocalState(flags) {
		lock, err := lockfile.AcquireLock(*flags.stateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	relayMetrics := metrics.NewNoop()
	var apiOpts []api.Option
	if *flags.metricsEnabled {
		provider, err := metrics.NewProvider()
		if err != nil {
			return err
		}
		defer provider.Shutdown(context.Background())
		relayMetrics, err = metrics.NewRelayMetrics(provider.MeterProvider(), metricsNamespace)
		if err != nil {
			return err
		}
		apiOpts = append(apiOpts, api.WithMetricsHandler(provider.Handler()))
	}

	db, err := openStore(flags)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	mem := dedup.NewWindow()
	guard := dedup.NewGuard()
	var (
		window  dedup.WindowStore = mem
		sweeper dedup.Sweeper     = mem
		claims  dedup.ClaimStore  = guard
		records store.NotificationRepo
		cursors store.CursorRepo
	)
	if db != nil {
		defer db.Close()
		window, sweeper, claims, records, cursors = db, db, db, db, db
	}

	tg, err := telegram.NewClient(buildTelegramOptions(flags)...)
	if err != nil {
		return err
	}

	var alerter messaging.Alerter
	if opts := buildTwilioOptions(flags); opts != nil {
		tw, err := twilioalert.NewClient(opts...)
		if err != nil {
			return fmt.Errorf("failed to configure alerts: %w", err)
		}
		alerter = tw
	}

	notifierOpts, err := buildNotifierOptions(flags)
	if err != nil {
		return err
	}
	notifier := messaging.NewNotifier(tg, records, notifierOpts...)

	relayOpts := []messaging.RelayOption{
		messaging.WithTTL(*flags.dedupTTL),
		messaging.WithRelayMetrics(relayMetrics),
	}
	if alerter != nil {
		relayOpts = append(relayOpts, messaging.WithRelayAlerter(alerter))
	}
	if db != nil {
		relayOpts = append(relayOpts, messaging.WithOutbox(db))
	}
	relay := messaging.NewRelay(window, notifier, relayOpts...)

	wixClient := wix.New(buildWixConfig(flags), wix.StaticToken(*flags.wixAccessToken))
	gateway := transition.NewGateway(wixClient, buildGatewayOptions(flags, relayMetrics)...)

	claimLease := gateway.MaxDuration() + claimLeaseSlack
	cbOpts := []messaging.CallbackOption{
		messaging.WithOperators(operators),
		messaging.WithClaimLease(claimLease),
		messaging.WithCallbackMetrics(relayMetrics),
	}
	if alerter != nil {
		cbOpts = append(cbOpts, messaging.WithAlerter(alerter))
	}
	callbacks := messaging.NewCallbackHandler(tg, notifier, claims, gateway, cbOpts...)

	webhookMode := *flags.telegramHookURL != ""
	apiOpts = append(apiOpts, buildAPIOptions(flags)...)
	if webhookMode {
		apiOpts = append(apiOpts, api.WithTelegramWebhook(*flags.telegramSecret, callbacks))
	}
	server, err := api.NewServer(relay, apiOpts...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		dedup.RunSweeper(gctx, sweeper, dedup.SweepInterval(*flags.dedupTTL))
		return nil
	})
	if db == nil {
		g.Go(func() error {
			dedup.RunSweeper(gctx, guard, dedup.SweepInterval(claimLease))
			return nil
		})
	}
	g.Go(func() error {
		messaging.NewPoller(wixClient, relay, cursors, *flags.pollInterval).Run(gctx)
		return nil
	})
	if db != nil {
		sender := store.NewOutboxSender(db, relay.SendQueued, store.WithPollInterval(outboxPollInterval))
		if err := sender.RecoverStaleMessages(ctx); err != nil {
			slog.Warn("Failed to recover stale outbox messages", "error", err)
		}
		g.Go(func() error {
			sender.Run(gctx)
			return nil
		})
	}
	if webhookMode {
		hook := strings.TrimRight(*flags.telegramHookURL, "/") + "/telegram/" + *flags.telegramSecret
		if err := tg.SetWebhook(hook); err != nil {
			return err
		}
	} else {
		g.Go(func() error {
			return tg.Poll(gctx, callbacks.Dispatch)
		})
	}

	slog.Info("BookingRelay running",
		"addr", *flags.apiAddr,
		"durable_store", db != nil,
		"telegram_mode", map[bool]string{true: "webhook", false: "polling"}[webhookMode],
		"alerts", alerter != nil)
	err = g.Wait()

	// Clicks already acknowledged run to completion before the store closes.
	drainCtx, cancel := context.WithTimeout(context.Background(), claimLease)
	defer cancel()
	if derr := callbacks.Drain(drainCtx); derr != nil {
		slog.Error("Callbacks still running at shutdown", "error", derr)
	}
	return err
}
