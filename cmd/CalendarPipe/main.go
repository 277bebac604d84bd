package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BTreeMap/CalendarPipe/internal/api"
	"github.com/BTreeMap/CalendarPipe/internal/calendar"
	"github.com/BTreeMap/CalendarPipe/internal/flow"
	"github.com/BTreeMap/CalendarPipe/internal/messaging"
	"github.com/BTreeMap/CalendarPipe/internal/models"
	"github.com/BTreeMap/CalendarPipe/internal/notify"
	"github.com/BTreeMap/CalendarPipe/internal/reconcile"
	"github.com/BTreeMap/CalendarPipe/internal/scheduler"
	"github.com/BTreeMap/CalendarPipe/internal/store"
	"github.com/BTreeMap/CalendarPipe/internal/timeparse"
	"github.com/BTreeMap/CalendarPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/CalendarPipe/internal/util"
	"github.com/BTreeMap/CalendarPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

const (
	// DefaultStateDir is the default directory for CalendarPipe state data
	DefaultStateDir = "/var/lib/calendarpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "calendarpipe.db"
	// DefaultWhatsAppDBFileName is the default Whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"

	// BackendTwilio selects the webhook-driven Twilio messaging service
	BackendTwilio = "twilio"
	// BackendWhatsmeow selects the direct Whatsmeow session service
	BackendWhatsmeow = "whatsmeow"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping CalendarPipe", "backend", *flags.backend, "api_addr", *flags.apiAddr)
	if err := run(flags); err != nil {
		slog.Error("CalendarPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CalendarPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL  string
	WhatsAppDSN  string
	StateDir     string
	GoogleToken  string
	APIAddr      string
	ConnectURL   string
	Backend      string
	SilentResync bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	dbDSN        *string
	whatsappDSN  *string
	apiAddr      *string
	connectURL   *string
	backend      *string
	silentResync *bool
	googleToken  *string
	seedUser     *string
	seedEmail    *string
	seedTimezone *string
	seedDigest   *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		WhatsAppDSN:  os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:     os.Getenv("CALENDARPIPE_STATE_DIR"),
		GoogleToken:  os.Getenv("GOOGLE_CALENDAR_TOKEN"),
		APIAddr:      os.Getenv("API_ADDR"),
		ConnectURL:   os.Getenv("CONNECT_URL"),
		Backend:      util.GetEnvOrDefault("MESSAGING_BACKEND", BackendTwilio),
		SilentResync: util.ParseBoolEnv("CALENDARPIPE_SILENT_RESYNC", true),
	}

	// Fall back to the default state directory when not set
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("Using default state directory", "state_dir", config.StateDir)
	}

	// DATABASE_URL wins; otherwise the application store lives in the state dir
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, using SQLite in state directory", "db_path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
	}

	return config
}

// parseCommandLineFlags parses command line flags with environment fallbacks
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "Path to write WhatsApp login QR code (overrides terminal output)"),
		numeric:      flag.Bool("numeric-code", false, "Use numeric pairing code instead of QR code for WhatsApp login"),
		stateDir:     flag.String("state-dir", config.StateDir, "Directory for CalendarPipe state data (overrides $CALENDARPIPE_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "Application database DSN, PostgreSQL URL or SQLite path (overrides $DATABASE_URL)"),
		whatsappDSN:  flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "Whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server listen address (overrides $API_ADDR)"),
		connectURL:   flag.String("connect-url", config.ConnectURL, "Base URL of the calendar connect page sent to new users (overrides $CONNECT_URL)"),
		backend:      flag.String("backend", config.Backend, "Messaging backend: twilio or whatsmeow (overrides $MESSAGING_BACKEND)"),
		silentResync: flag.Bool("silent-resync", config.SilentResync, "Rebuild event snapshots on startup without notifying users (overrides $CALENDARPIPE_SILENT_RESYNC)"),
		googleToken:  flag.String("google-token", config.GoogleToken, "Static Google Calendar bearer token (overrides $GOOGLE_CALENDAR_TOKEN)"),
		seedUser:     flag.String("seed-user", "", "Phone number of a user to connect a calendar account for, then continue"),
		seedEmail:    flag.String("seed-email", "", "Calendar email for -seed-user"),
		seedTimezone: flag.String("seed-timezone", "UTC", "IANA timezone for -seed-user"),
		seedDigest:   flag.String("seed-digest", "", "Daily digest time for -seed-user, e.g. 7:30am or 08:00"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"backend", *flags.backend,
		"silentResync", *flags.silentResync)

	// Follow an overridden state directory when the DSNs were derived from it
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		}
		if *flags.whatsappDSN == filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) {
			*flags.whatsappDSN = filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName)
		}
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.dbDSN, *flags.whatsappDSN} {
		if store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		dir := filepath.Dir(dsn)
		slog.Debug("Creating state directory for file-based database", "state_dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", dir)
			return err
		}
	}
	return nil
}

// buildStore opens the application store matching the DSN type
func buildStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildCalendarClient constructs the calendar provider client. Without a
// token the in-memory client is used so the dialog flows stay operable in
// development environments.
func buildCalendarClient(flags Flags) calendar.Client {
	token := strings.TrimSpace(*flags.googleToken)
	if token == "" {
		slog.Warn("GOOGLE_CALENDAR_TOKEN not set, using in-memory calendar client")
		return calendar.NewMockClient()
	}
	tokens := func(ctx context.Context, account models.CalendarAccount) (string, error) {
		return token, nil
	}
	return calendar.NewGoogleClient(tokens)
}

// buildMessagingService constructs the selected messaging backend
func buildMessagingService(flags Flags) (messaging.Service, error) {
	switch *flags.backend {
	case BackendTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil
	case BackendWhatsmeow:
		var waOpts []whatsapp.Option
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil
	default:
		return nil, fmt.Errorf("unknown messaging backend %q", *flags.backend)
	}
}

// seedAccount connects a calendar account from the command line, used to
// bootstrap users while the OAuth connect page is handled externally.
func seedAccount(st store.Store, flags Flags) error {
	if *flags.seedUser == "" {
		return nil
	}
	if *flags.seedEmail == "" {
		return fmt.Errorf("-seed-user requires -seed-email")
	}
	account := models.NewCalendarAccount(*flags.seedUser, *flags.seedEmail, *flags.seedTimezone)
	if *flags.seedDigest != "" {
		ct := timeparse.ParseClockTime(*flags.seedDigest)
		if ct == nil {
			return fmt.Errorf("invalid -seed-digest time %q", *flags.seedDigest)
		}
		account.DigestEnabled = true
		account.DigestHour = ct.Hour
		account.DigestMinute = ct.Minute
	}
	if err := st.SaveAccount(account); err != nil {
		return fmt.Errorf("failed to seed calendar account: %w", err)
	}
	slog.Info("Seeded calendar account", "accountID", account.ID, "userID", account.UserID, "email", account.Email)
	return nil
}

// run wires the modules together and blocks until shutdown
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(*flags.dbDSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if err := seedAccount(st, flags); err != nil {
		return err
	}

	cal := buildCalendarClient(flags)

	svc, err := buildMessagingService(flags)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer svc.Stop()

	var engineOpts []flow.Option
	if *flags.connectURL != "" {
		engineOpts = append(engineOpts, flow.WithConnectURL(*flags.connectURL))
	}
	engine := flow.NewEngine(st, cal, engineOpts...)

	reconciler := reconcile.NewReconciler(st, cal)
	notifier := notify.NewNotifier(svc, cal, st)

	// Rebuild snapshots from the provider before the periodic sweeps start
	// so notifications only cover changes that happen while we are running.
	if *flags.silentResync {
		slog.Info("Running silent snapshot resync")
		if err := reconciler.Sweep(ctx, func(account models.CalendarAccount, changes []models.PendingChange) error {
			return notifier.DispatchChanges(ctx, account, changes)
		}, reconcile.WithSilentResync()); err != nil {
			slog.Error("Silent resync reported failures", "error", err)
		}
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()

	if err := sched.AddJob(scheduler.ReconcileSweepSpec, func() {
		if err := reconciler.Sweep(ctx, func(account models.CalendarAccount, changes []models.PendingChange) error {
			return notifier.DispatchChanges(ctx, account, changes)
		}); err != nil {
			slog.Error("Reconcile sweep reported failures", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule reconcile sweep: %w", err)
	}
	if err := sched.AddJob(scheduler.DigestSweepSpec, func() {
		if err := notifier.DigestSweep(ctx); err != nil {
			slog.Error("Digest sweep reported failures", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule digest sweep: %w", err)
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(engine, svc, st, apiOpts...)

	// The Whatsmeow backend delivers inbound messages over the Responses
	// channel instead of webhooks.
	if *flags.backend == BackendWhatsmeow {
		go server.ConsumeResponses(ctx)
	}

	return server.Start(ctx)
}
