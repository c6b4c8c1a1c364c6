package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zapflowhq/zapflow/internal/api"
	"github.com/zapflowhq/zapflow/internal/campaign"
	"github.com/zapflowhq/zapflow/internal/flow"
	"github.com/zapflowhq/zapflow/internal/lockfile"
	"github.com/zapflowhq/zapflow/internal/messaging"
	"github.com/zapflowhq/zapflow/internal/models"
	"github.com/zapflowhq/zapflow/internal/notify"
	"github.com/zapflowhq/zapflow/internal/scheduler"
	"github.com/zapflowhq/zapflow/internal/store"
	"github.com/zapflowhq/zapflow/internal/util"
	"github.com/zapflowhq/zapflow/internal/whatsapp"
	"github.com/zapflowhq/zapflow/internal/wuzapi"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ZapFlow state data
	DefaultStateDir = "/var/lib/zapflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "zapflow.db"
	// DefaultDispatchCron runs the campaign dispatcher every minute
	DefaultDispatchCron = "* * * * *"
	// DefaultJobPollInterval is how often the job runner claims due jobs
	DefaultJobPollInterval = 10 * time.Second
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Only one instance may poll the shared job table.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire instance lock", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release instance lock", "error", err)
		}
	}()

	if err := run(config, flags); err != nil {
		slog.Error("ZapFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ZapFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL     string
	StateDir        string
	APIAddr         string
	WuzAPIURL       string
	InstanceToken   string
	DispatchCron    string
	SendPacing      time.Duration
	WaitTimeout     time.Duration
	JobPollInterval time.Duration
	NumericCode     bool
	TwilioSID       string
	TwilioToken     string
	TwilioFrom      string
	TwilioTo        string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	dbDSN        *string
	apiAddr      *string
	wuzapiURL    *string
	dispatchCron *string
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
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("ZAPFLOW_STATE_DIR"),
		APIAddr:         os.Getenv("API_ADDR"),
		WuzAPIURL:       os.Getenv("WUZAPI_URL"),
		InstanceToken:   os.Getenv("WHATSAPP_INSTANCE_TOKEN"),
		DispatchCron:    os.Getenv("DISPATCH_SCHEDULE"),
		SendPacing:      util.ParseDurationEnv("SEND_PACING", flow.DefaultSendPacing),
		WaitTimeout:     util.ParseDurationEnv("WAIT_TIMEOUT", flow.DefaultWaitTimeout),
		JobPollInterval: util.ParseDurationEnv("JOB_POLL_INTERVAL", DefaultJobPollInterval),
		NumericCode:     util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
		TwilioSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:      os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioTo:        os.Getenv("TWILIO_ALERT_NUMBER"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ZAPFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.DispatchCron == "" {
		config.DispatchCron = DefaultDispatchCron
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"ZAPFLOW_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"WUZAPI_URL_SET", config.WuzAPIURL != "",
		"DISPATCH_SCHEDULE", config.DispatchCron,
		"TWILIO_CONFIGURED", config.TwilioSID != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "path to write login QR code"),
		numeric:      flag.Bool("numeric-code", config.NumericCode, "use numeric login code instead of QR code"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for ZapFlow data (overrides $ZAPFLOW_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "database DSN: PostgreSQL connection string or SQLite path (overrides $DATABASE_URL)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		wuzapiURL:    flag.String("wuzapi-url", config.WuzAPIURL, "WuzAPI gateway base URL; empty runs the built-in WhatsApp channel (overrides $WUZAPI_URL)"),
		dispatchCron: flag.String("dispatch-cron", config.DispatchCron, "cron schedule for campaign dispatch (overrides $DISPATCH_SCHEDULE)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"wuzapiURL_set", *flags.wuzapiURL != "",
		"dispatchCron", *flags.dispatchCron)

	// Follow a relocated state directory when the DSN was defaulted from it.
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		return err
	}
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		dbDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating directory for file-based database", "dir", dbDir)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildNotifier assembles the notification fan-out: the store sink always,
// Twilio SMS alerts when credentials are configured.
func buildNotifier(config Config, st store.Store) notify.Notifier {
	sinks := []notify.Notifier{notify.NewStoreNotifier(st)}
	if config.TwilioSID != "" && config.TwilioToken != "" {
		tn, err := notify.NewTwilioNotifier(
			notify.WithTwilioCredentials(config.TwilioSID, config.TwilioToken),
			notify.WithTwilioFromNumber(config.TwilioFrom),
			notify.WithTwilioToNumber(config.TwilioTo),
		)
		if err != nil {
			slog.Warn("Twilio notifier disabled", "error", err)
		} else {
			sinks = append(sinks, tn)
			slog.Info("Twilio SMS alerts enabled")
		}
	}
	return notify.NewMultiNotifier(sinks...)
}

// buildChannel selects the messaging channel: a WuzAPI gateway client when a
// gateway URL is configured, otherwise the built-in whatsmeow channel. The
// gateway client also serves the session management endpoints.
func buildChannel(config Config, flags Flags) (messaging.Service, api.SessionClient, *whatsapp.Client, error) {
	if *flags.wuzapiURL != "" {
		client, err := wuzapi.NewClient(wuzapi.WithBaseURL(*flags.wuzapiURL))
		if err != nil {
			return nil, nil, nil, err
		}
		slog.Info("Using WuzAPI gateway channel", "baseURL", *flags.wuzapiURL)
		return client, client, nil, nil
	}

	waOpts := []whatsapp.Option{
		whatsapp.WithDBDSN(filepath.Join(*flags.stateDir, "whatsmeow.db")),
	}
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if config.InstanceToken != "" {
		waOpts = append(waOpts, whatsapp.WithInstanceToken(config.InstanceToken))
	}
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.Info("Using built-in WhatsApp channel")
	return client, nil, client, nil
}

func run(config Config, flags Flags) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.NewStore(buildStoreOptions(flags)...)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("Store close failed", "error", err)
		}
	}()

	sender, session, waClient, err := buildChannel(config, flags)
	if err != nil {
		return err
	}
	if waClient != nil {
		defer waClient.Disconnect()
	}

	notifier := buildNotifier(config, st)

	jobRepo, ok := st.(store.JobRepo)
	if !ok {
		return fmt.Errorf("store backend %T does not support durable jobs", st)
	}

	engine, err := flow.NewEngine(
		flow.WithStore(st),
		flow.WithJobRepo(jobRepo),
		flow.WithSender(sender),
		flow.WithNotifier(notifier),
		flow.WithSendPacing(config.SendPacing),
		flow.WithWaitTimeout(config.WaitTimeout),
	)
	if err != nil {
		return err
	}

	// The built-in channel feeds inbound messages straight into the engine;
	// the gateway delivers them through the webhook endpoint instead.
	if waClient != nil {
		waClient.OnInboundMessage(func(ctx context.Context, msg models.InboundMessage) {
			conn, err := st.GetConnectionByToken(msg.Token)
			if err != nil || conn == nil {
				slog.Warn("Inbound message for unknown instance token", "error", err)
				return
			}
			if _, err := engine.HandleInbound(ctx, conn, msg.From, msg.Text); err != nil {
				slog.Error("Inbound message handling failed", "from", msg.From, "error", err)
			}
		})
	}

	runner := store.NewJobRunner(jobRepo, config.JobPollInterval)
	runner.RegisterHandler(flow.JobKindWaitResume, engine.WaitResumeHandler())
	if err := runner.RecoverStaleJobs(); err != nil {
		slog.Warn("Stale job recovery failed", "error", err)
	}
	go runner.Run(ctx)

	dispatcher, err := campaign.NewDispatcher(
		campaign.WithStore(st),
		campaign.WithSender(sender),
		campaign.WithNotifier(notifier),
		campaign.WithSendPacing(config.SendPacing),
	)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(*flags.dispatchCron, func() { dispatcher.DispatchDue(ctx) }); err != nil {
		return err
	}

	apiOpts := []api.Option{
		api.WithStore(st),
		api.WithEngine(engine),
		api.WithSender(sender),
		api.WithDispatcher(dispatcher),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if session != nil {
		apiOpts = append(apiOpts, api.WithSessionClient(session))
	}
	srv, err := api.NewServer(apiOpts...)
	if err != nil {
		return err
	}

	slog.Info("Bootstrapping ZapFlow", "addr", *flags.apiAddr, "dispatchCron", *flags.dispatchCron)
	return srv.Run(ctx)
}
