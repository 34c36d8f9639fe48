// RWS client runtime.
//
// rwsclient runs next to a robot controller's Robot Web Services API. It keeps
// one subscription group and socket for change notifications, proxies edit and
// motion mastership, and runs the ordered cleanup when the process unloads.
// An embedding host can drive mastership and cleanup over MQTT, and local
// tools can use the control API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/rws-client/internal/api"
	"github.com/nerrad567/rws-client/internal/auth"
	"github.com/nerrad567/rws-client/internal/controller"
	"github.com/nerrad567/rws-client/internal/hostbridge"
	"github.com/nerrad567/rws-client/internal/infrastructure/config"
	"github.com/nerrad567/rws-client/internal/infrastructure/database"
	"github.com/nerrad567/rws-client/internal/infrastructure/influxdb"
	"github.com/nerrad567/rws-client/internal/infrastructure/logging"
	"github.com/nerrad567/rws-client/internal/infrastructure/mqtt"
	"github.com/nerrad567/rws-client/internal/journal"
	"github.com/nerrad567/rws-client/internal/lifecycle"
	"github.com/nerrad567/rws-client/internal/mastership"
	"github.com/nerrad567/rws-client/internal/resources"
	"github.com/nerrad567/rws-client/internal/shutdown"
	"github.com/nerrad567/rws-client/internal/subscription"
	"github.com/nerrad567/rws-client/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// startupSubscribeTimeout bounds the initial status subscription.
const startupSubscribeTimeout = 30 * time.Second

// options are the command-line flags.
type options struct {
	configPath   string
	issueToken   string
	tokenSubject string
	showVersion  bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses the command line.
func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("rwsclient", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml (default $RWSCLIENT_CONFIG or "+defaultConfigPath+")")
	fs.StringVar(&opts.issueToken, "issue-token", "", "print a control API token for the given role (viewer, operator, admin) and exit")
	fs.StringVar(&opts.tokenSubject, "subject", "operator", "subject of the token printed by --issue-token")
	fs.BoolVarP(&opts.showVersion, "version", "v", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.configPath == "" {
		opts.configPath = getConfigPath()
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM; cancellation starts unload cleanup
//   - args: Command-line arguments without the program name
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string) error { //nolint:gocognit,gocyclo // linear startup wiring
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Printf("rwsclient %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if opts.issueToken != "" {
		return issueToken(cfg, opts)
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting RWS client",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", opts.configPath,
	)

	life := lifecycle.New()

	ctl, err := controller.New(controller.Config{
		BaseURL:            cfg.Controller.URL,
		Username:           cfg.Controller.Username,
		Password:           cfg.Controller.Password,
		RequestTimeout:     cfg.GetRequestTimeout(),
		KeepaliveTimeout:   cfg.GetKeepaliveTimeout(),
		InsecureSkipVerify: cfg.Controller.InsecureSkipVerify,
		StatusCacheTTL:     time.Duration(cfg.Controller.StatusCacheTTL) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("creating controller client: %w", err)
	}
	ctl.SetLifecycle(life)
	ctl.SetLogger(log.With("component", "controller"))

	subs := subscription.NewManager(subscription.Config{
		Protocol:          cfg.Subscription.Protocol,
		DefaultPriority:   cfg.Subscription.DefaultPriority,
		StartupTimeout:    cfg.GetStartupTimeout(),
		ClosePollInterval: cfg.GetClosePollInterval(),
		ClosePollAttempts: cfg.Subscription.ClosePollAttempts,
		HostSendTimeout:   cfg.GetHostSendTimeout(),
	}, ctl, life)
	subs.SetLogger(log.With("component", "subscription"))

	edit := mastership.NewManager(mastership.Config{Kind: mastership.KindEdit, HostAckTimeout: cfg.GetHostAckTimeout()}, ctl, life)
	edit.SetLogger(log.With("component", "mastership", "kind", "edit"))
	motion := mastership.NewManager(mastership.Config{Kind: mastership.KindMotion, HostAckTimeout: cfg.GetHostAckTimeout()}, ctl, life)
	motion.SetLogger(log.With("component", "mastership", "kind", "motion"))

	// Journal: SQLite repository and optional InfluxDB points.
	var history api.History
	var store journal.Store
	if cfg.Database.Enabled {
		db, dbErr := database.Open(cfg.Database)
		if dbErr != nil {
			return fmt.Errorf("opening database: %w", dbErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		repo := journal.NewRepository(db.DB)
		history, store = repo, repo
		log.Info("journal database ready", "path", db.Path())
	} else {
		log.Info("journal database disabled")
	}

	var metrics journal.Metrics
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		metrics = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if store != nil || metrics != nil {
		recorder := journal.NewRecorder(store, metrics, journal.RecorderConfig{
			Retention: time.Duration(cfg.Database.RetentionHours) * time.Hour,
		})
		recorder.SetLogger(log.With("component", "journal"))
		recorder.Start(ctx)
		defer func() {
			recorder.Stop()
			if dropped := recorder.Dropped(); dropped > 0 {
				log.Warn("journal dropped records", "dropped", dropped)
			}
		}()
		subs.SetEventObserver(recorder.ObserveEvent)
		edit.SetObserver(recorder.ObserveMastership)
		motion.SetObserver(recorder.ObserveMastership)
	}

	coordDeps := shutdown.Deps{
		Lifecycle:       life,
		Subscriptions:   subs,
		Edit:            edit,
		Motion:          motion,
		HostSendTimeout: cfg.GetHostSendTimeout(),
		Logger:          log.With("component", "shutdown"),
	}

	// Host bridge over MQTT.
	var bridge *hostbridge.MQTTBridge
	if cfg.Host.Enabled {
		topics := mqtt.Topics{Prefix: cfg.Host.TopicPrefix}
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT, topics)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge = hostbridge.NewMQTTBridge(mqttClient, topics, byte(cfg.MQTT.QoS)) //nolint:gosec // qos validated to 0-2
		bridge.SetSendTimeout(cfg.GetHostSendTimeout())
		bridge.SetLogger(log.With("component", "hostbridge"))
		bridge.SetAckHandler(mastership.KindEdit.String(), edit.HandleHostAck)
		bridge.SetAckHandler(mastership.KindMotion.String(), motion.HandleHostAck)

		subs.SetHost(bridge)
		edit.SetHost(bridge)
		motion.SetHost(bridge)
		coordDeps.Host = bridge
	}

	coord := shutdown.New(coordDeps)

	if bridge != nil {
		bridge.SetCleanupHandler(func(ctx context.Context) error {
			status, cleanupErr := coord.InitiateCleanup(ctx, true)
			log.Info("host-initiated cleanup finished", "status", status, "error", cleanupErr)
			return cleanupErr
		})
		if startErr := bridge.Start(); startErr != nil {
			return fmt.Errorf("starting host bridge: %w", startErr)
		}
		defer bridge.Stop()
	}

	// Control API.
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:        cfg.API,
			WS:            cfg.WebSocket,
			Security:      cfg.Security,
			Logger:        log.With("component", "api"),
			Subscriptions: subs,
			Edit:          edit,
			Motion:        motion,
			Cleanup:       coord,
			History:       history,
			Version:       version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	watchControllerStatus(ctx, ctl, subs, log)

	log.Info("initialisation complete, waiting for shutdown signal")
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, running unload cleanup")
		unload(coord, cfg.GetUnloadGrace(), log)
	case <-coord.Done():
		// Cleanup was requested by the host or over the API; keep serving
		// status until the process is told to exit.
		log.Info("cleanup complete, waiting for shutdown signal")
		<-ctx.Done()
	}

	log.Info("RWS client stopped")
	return nil
}

// unload starts the unload-initiated cleanup and gives it grace to finish.
func unload(coord *shutdown.Coordinator, grace time.Duration, log *logging.Logger) {
	//nolint:contextcheck // the signal context is already cancelled
	if _, err := coord.InitiateCleanup(context.Background(), false); err != nil && !errors.Is(err, shutdown.ErrAlreadyStarted) {
		log.Error("unload cleanup failed", "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-coord.Done():
		log.Info("unload cleanup finished")
	case <-timer.C:
		log.Warn("unload cleanup still running, exiting", "grace", grace)
	}
}

// watchControllerStatus subscribes to controller state, operating mode and
// RAPID execution state and logs their changes.
func watchControllerStatus(ctx context.Context, ctl *controller.Client, subs *subscription.Manager, log *logging.Logger) {
	logChange := func(name string) func(subscription.Event) {
		return func(ev subscription.Event) {
			log.Info("controller status changed", "resource", name, "event", map[string]string(ev))
		}
	}
	handles := []*resources.Handle{
		resources.ControllerState(logChange("ctrl-state")),
		resources.OperationMode(logChange("opmode")),
		resources.ExecutionState(logChange("execution")),
	}

	subCtx, cancel := context.WithTimeout(ctx, startupSubscribeTimeout)
	defer cancel()
	if err := subs.Subscribe(subCtx, resources.Subscribables(handles...), resources.InitialFire(ctl, handles...)); err != nil {
		log.Warn("controller status subscription failed", "error", err)
		return
	}
	log.Info("subscribed to controller status", "group", subs.GroupID())
}

// issueToken prints a control API token signed with the configured secret.
func issueToken(cfg *config.Config, opts options) error {
	if cfg.Security.JWT.Secret == "" {
		return fmt.Errorf("security.jwt.secret is not set")
	}
	ttl := time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	tok, err := auth.GenerateToken(opts.tokenSubject, auth.Role(opts.issueToken), cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Println(tok)
	return nil
}

// getConfigPath returns the configuration file path.
// Uses RWSCLIENT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RWSCLIENT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
