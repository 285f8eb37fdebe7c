package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/getsentry/sentry-go"
	"github.com/go-co-op/gocron"
	"github.com/hookflow-io/hookflow/addon"
	"github.com/hookflow-io/hookflow/api"
	"github.com/hookflow-io/hookflow/builtin"
	"github.com/hookflow-io/hookflow/config"
	"github.com/hookflow-io/hookflow/dispatch"
	gerr "github.com/hookflow-io/hookflow/errors"
	"github.com/hookflow-io/hookflow/logging"
	"github.com/hookflow-io/hookflow/network"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// cobraCmdWriter routes the loggers' console output through the cobra
// command, so the test harness can capture it.
type cobraCmdWriter struct {
	*cobra.Command
}

func (c cobraCmdWriter) Write(p []byte) (int, error) {
	c.Print(string(p))
	return len(p), nil
}

type HookFlowInstance struct {
	EnableSentry     bool
	EnableLinting    bool
	GlobalConfigFile string
	AddonsConfigFile string

	conf          *config.Config
	catalog       *addon.Catalog
	registry      *addon.Registry
	dispatcher    *dispatch.Dispatcher
	publisher     *addon.Publisher
	redisClient   *redis.Client
	metricsServer *http.Server
	httpServer    *api.HTTPServer

	loggers        map[string]zerolog.Logger
	servers        map[string]*network.Server
	auditScheduler *gocron.Scheduler
	notifierDone   chan struct{}
	stopChan       chan struct{}
}

var (
	testMode bool
	testApp  *HookFlowInstance
)

// EnableTestMode enables test mode and returns the previous value.
// This should only be used in tests.
func EnableTestMode() bool {
	previous := testMode
	testMode = true
	return previous
}

// stopGracefully stops the engine gracefully. The traffic servers stop
// before the registry, and the registry before the notifier and the API.
func (app *HookFlowInstance) stopGracefully(runCtx context.Context, sig os.Signal) {
	_, span := otel.Tracer(config.TracerName).Start(runCtx, "Shutdown server")
	currentSignal := "unknown"
	if sig != nil {
		currentSignal = sig.String()
	}

	logger := app.loggers[config.Default]

	logger.Info().Msg("HookFlow is shutting down")
	span.AddEvent("HookFlow is shutting down", trace.WithAttributes(
		attribute.String("signal", currentSignal),
	))
	if app.auditScheduler != nil {
		app.auditScheduler.Stop()
		app.auditScheduler.Clear()
		logger.Info().Msg("Stopped the snapshot audit scheduler")
		span.AddEvent("Stopped the snapshot audit scheduler")
	}
	if app.metricsServer != nil {
		//nolint:contextcheck
		if err := app.metricsServer.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("Failed to stop metrics server")
			span.RecordError(err)
		} else {
			logger.Info().Msg("Stopped metrics server")
			span.AddEvent("Stopped metrics server")
		}
	}
	for name, server := range app.servers {
		logger.Info().Str("name", name).Msg("Stopping server")
		server.Shutdown(runCtx)
		span.AddEvent("Stopped server")
	}
	logger.Info().Msg("Stopped all servers")
	if app.registry != nil {
		app.registry.Shutdown(runCtx)
		logger.Info().Msg("Stopped addon registry")
		span.AddEvent("Stopped addon registry")
	}
	if app.httpServer != nil {
		app.httpServer.Shutdown(runCtx)
		logger.Info().Msg("Stopped API server")
		span.AddEvent("Stopped API server")
	}

	// The registry shutdown closed the subscription channel, so the
	// notifier drains its backlog and exits before Redis goes away.
	if app.notifierDone != nil {
		<-app.notifierDone
	}
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close the Redis connection")
			span.RecordError(err)
		} else {
			logger.Info().Msg("Stopped the state change publisher")
			span.AddEvent("Stopped the state change publisher")
		}
	}
	span.End()

	// Signal the run command that the shutdown is complete.
	app.stopChan <- struct{}{}
	close(app.stopChan)
}

// handleSignals handles the signals and stops the engine gracefully.
func (app *HookFlowInstance) handleSignals(runCtx context.Context, signals []os.Signal) {
	signalsCh := make(chan os.Signal, 1)
	signal.Notify(signalsCh, signals...)

	go func() {
		for sig := range signalsCh {
			app.stopGracefully(runCtx, sig)
			os.Exit(0)
		}
	}()
}

// runCmd represents the run command.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a HookFlow instance",
	Run: func(cmd *cobra.Command, _ []string) {
		app := NewHookFlowInstance(cmd)

		// If test mode is enabled, we need to access the app instance from
		// the test, so we can stop the engine gracefully.
		if testMode {
			testApp = app
		}

		runCtx, span := otel.Tracer(config.TracerName).Start(context.Background(), "HookFlow")
		span.End()

		// Set up signal handling after the context is created.
		signals := []os.Signal{
			os.Interrupt,
			os.Kill,
			syscall.SIGTERM,
			syscall.SIGABRT,
			syscall.SIGQUIT,
			syscall.SIGHUP,
			syscall.SIGINT,
		}
		app.handleSignals(runCtx, signals)

		// Enable Sentry.
		if app.EnableSentry {
			_, span := otel.Tracer(config.TracerName).Start(runCtx, "Sentry")
			defer span.End()

			// Initialize Sentry.
			err := sentry.Init(sentry.ClientOptions{
				Dsn:              DSN,
				TracesSampleRate: config.DefaultTraceSampleRate,
				AttachStacktrace: config.DefaultAttachStacktrace,
			})
			if err != nil {
				span.RecordError(err)
				cmd.Println("Sentry initialization failed: ", err)
				return
			}

			// Flush buffered events before the program terminates.
			defer sentry.Flush(config.DefaultFlushTimeout)
			// Recover from panics and report the error to Sentry.
			defer sentry.Recover()
		}

		// Lint the configuration files before loading them.
		if app.EnableLinting {
			_, span := otel.Tracer(config.TracerName).Start(runCtx, "Lint config")
			defer span.End()

			// Lint the global configuration file and fail if it's not valid.
			if err := lintConfig(Global, app.GlobalConfigFile); err != nil {
				log.Fatal(err)
			}

			// Lint the addons configuration file and fail if it's not valid.
			if err := lintConfig(Addons, app.AddonsConfigFile); err != nil {
				log.Fatal(err)
			}
		}

		// Load the global and addons configuration.
		app.conf = config.NewConfig(runCtx, app.GlobalConfigFile, app.AddonsConfigFile)
		if err := app.conf.InitConfig(runCtx); err != nil {
			log.Fatal(err)
		}
		if err := app.conf.Validate(runCtx); err != nil {
			log.Fatal(err)
		}

		// Create and initialize loggers from the config.
		// Use the cobra command's writer instead of os.Stdout for the console.
		cmdLogger := &cobraCmdWriter{cmd}
		for name, cfg := range app.conf.Global.Loggers {
			app.loggers[name] = logging.NewLogger(runCtx, logging.LoggerConfig{
				Output:            cfg.GetOutput(),
				ConsoleOut:        cmdLogger,
				Level:             cfg.GetLevel(),
				TimeFormat:        cfg.GetTimeFormat(),
				ConsoleTimeFormat: cfg.GetConsoleTimeFormat(),
				NoColor:           cfg.NoColor,
				FileName:          cfg.FileName,
				MaxSize:           cfg.MaxSize,
				MaxBackups:        cfg.MaxBackups,
				MaxAge:            cfg.MaxAge,
				Compress:          cfg.Compress,
				LocalTime:         cfg.LocalTime,
			})
		}

		// Set the default logger.
		logger := app.loggers[config.Default]

		// Build the handler catalog with the bundled addons and create the
		// registry on top of it.
		_, span = otel.Tracer(config.TracerName).Start(runCtx, "Create addon registry")

		app.catalog = addon.NewCatalog()
		builtin.RegisterAll(app.catalog)

		app.registry = addon.NewRegistry(
			runCtx,
			app.catalog,
			app.conf.Global.Registry.GetMaxAddons(),
			app.conf.Addons.GetCompatibilityPolicy(),
			logger,
		)

		// Install the addons declared in the addons config file.
		app.registry.LoadAddons(runCtx, app.conf.Addons)

		span.End()

		// Bridge addon state changes into a Redis channel when the
		// notifier is enabled.
		if app.conf.Global.Notifier.Enabled {
			app.redisClient = redis.NewClient(&redis.Options{
				Addr: app.conf.Global.Notifier.RedisAddress,
			})
			var err error
			app.publisher, err = addon.NewPublisher(runCtx, addon.Publisher{
				Logger:      logger,
				RedisDB:     app.redisClient,
				ChannelName: app.conf.Global.Notifier.RedisChannel,
			})
			if err != nil {
				logger.Error().Err(err).Msg("Failed to create the state change publisher")
				os.Exit(gerr.FailedToCreatePublisher)
			}
			logger.Info().Msg("Created the Redis state change publisher")

			changes, _ := app.registry.Subscribe()
			app.notifierDone = make(chan struct{})
			go func() {
				defer close(app.notifierDone)
				for change := range changes {
					payload, err := json.Marshal(change)
					if err != nil {
						logger.Error().Err(err).Msg("Failed to encode state change")
						continue
					}
					if err := app.publisher.Publish(
						context.Background(), payload); err != nil {
						logger.Error().Err(err).Msg("Failed to publish state change")
					}
				}
			}()
		}

		// Create the dispatcher and one proxy server per proxies entry.
		_, span = otel.Tracer(config.TracerName).Start(runCtx, "Create proxy servers")

		app.dispatcher = dispatch.NewDispatcher(
			app.registry,
			app.conf.Global.Dispatcher.GetHookTimeout(),
			app.conf.Global.Dispatcher.GetFailureThreshold(),
			app.conf.Global.Dispatcher.GetFailureWindow(),
			logger,
		)

		for name, cfg := range app.conf.Global.Proxies {
			logger := config.If(
				config.Exists(app.loggers, name),
				app.loggers[name],
				app.loggers[config.Default],
			)

			server, err := network.NewServer(
				runCtx, cfg, network.NewAdapter(app.dispatcher, logger), logger)
			if err != nil {
				logger.Error().Err(err).Str("name", name).Msg("Failed to create server")
				span.RecordError(err)
				os.Exit(gerr.FailedToStartServer)
			}
			app.servers[name] = server

			span.AddEvent("Create server", trace.WithAttributes(
				attribute.String("name", name),
				attribute.String("network", cfg.Network),
				attribute.String("address", cfg.Address),
				attribute.String("mode", string(cfg.GetMode())),
			))
		}

		span.End()

		// Audit the registry snapshot periodically and report drift.
		ctx, span := otel.Tracer(config.TracerName).Start(runCtx, "Snapshot audit")

		auditPeriod := app.conf.Global.Registry.GetAuditPeriod()
		startDelay := time.Now().Add(auditPeriod)
		app.auditScheduler.Every(auditPeriod).SingletonMode().StartAt(startDelay).Do(
			func() {
				_, span := otel.Tracer(config.TracerName).Start(ctx, "Run snapshot audit")
				defer span.End()

				if err := app.registry.CheckConsistency(ctx); err != nil {
					span.RecordError(err)
					logger.Error().Err(err).Msg("Registry snapshot failed the consistency audit")
					if app.EnableSentry {
						sentry.CaptureException(err)
					}
				}
			})
		logger.Info().Str(
			"auditPeriod", auditPeriod.String(),
		).Msg("Starting the snapshot audit scheduler")
		app.auditScheduler.StartAsync()

		span.End()

		// Start the metrics server if enabled.
		go func(metricsConfig config.Metrics, logger zerolog.Logger) {
			_, span := otel.Tracer(config.TracerName).Start(runCtx, "Start metrics server")
			defer span.End()

			if !metricsConfig.Enabled {
				logger.Info().Msg("Metrics server is disabled")
				return
			}

			fqdn, err := url.Parse("http://" + metricsConfig.Address)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to parse metrics address")
				span.RecordError(err)
				return
			}

			address, err := url.JoinPath(fqdn.String(), metricsConfig.Path)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to parse metrics path")
				span.RecordError(err)
				return
			}

			handler := func() http.Handler {
				return promhttp.InstrumentMetricHandler(
					prometheus.DefaultRegisterer,
					promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
						DisableCompression: true,
					}),
				)
			}()

			mux := http.NewServeMux()
			mux.HandleFunc("/", func(responseWriter http.ResponseWriter, _ *http.Request) {
				// Serve a static page with a link to the metrics endpoint.
				if _, err := responseWriter.Write([]byte(fmt.Sprintf(
					`<html><head><title>HookFlow Prometheus Metrics Server</title></head><body><a href="%s">Metrics</a></body></html>`,
					address,
				))); err != nil {
					logger.Error().Err(err).Msg("Failed to write metrics")
					span.RecordError(err)
					sentry.CaptureException(err)
				}
			})

			readHeaderTimeout := metricsConfig.GetReadHeaderTimeout()

			// Check if the metrics server is already running before registering the handler.
			if _, err = http.Get(address); err != nil { //nolint:gosec
				// The timeout handler limits the nested handlers from running for too long.
				mux.Handle(
					metricsConfig.Path,
					http.TimeoutHandler(
						gziphandler.GzipHandler(handler),
						readHeaderTimeout,
						"The request timed out while fetching the metrics",
					),
				)
			} else {
				logger.Warn().Msg("Metrics server is already running, consider changing the port")
				span.RecordError(err)
			}

			// Create a new metrics server.
			timeout := metricsConfig.GetTimeout()
			app.metricsServer = &http.Server{
				Addr:              metricsConfig.Address,
				Handler:           mux,
				ReadHeaderTimeout: readHeaderTimeout,
				ReadTimeout:       timeout,
				WriteTimeout:      timeout,
				IdleTimeout:       timeout,
			}

			logger.Info().Fields(map[string]any{
				"address":           address,
				"timeout":           timeout.String(),
				"readHeaderTimeout": readHeaderTimeout.String(),
			}).Msg("Metrics are exposed")

			// Start the metrics server.
			if err = app.metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Failed to start metrics server")
				span.RecordError(err)
			}
		}(app.conf.Global.Metrics[config.Default], logger)

		// Start the API server.
		if app.conf.Global.API.Enabled {
			apiOptions := api.Options{
				Logger:  logger,
				Address: app.conf.Global.API.HTTPAddress,
			}
			app.httpServer = api.NewHTTPServer(&api.API{
				Options:  &apiOptions,
				Config:   app.conf,
				Registry: app.registry,
				Servers:  app.servers,
			})
			go app.httpServer.Start()
			logger.Info().Str("address", apiOptions.Address).Msg("Started the API server")
		}

		logger.Info().Msg("HookFlow is running")

		// Start the traffic servers. A server that cannot bind takes the
		// whole instance down.
		_, span = otel.Tracer(config.TracerName).Start(runCtx, "Start servers")
		runGroup := new(errgroup.Group)
		for name, server := range app.servers {
			span.AddEvent("Start server", trace.WithAttributes(
				attribute.String("name", name),
			))
			runGroup.Go(func() error {
				if err := server.Run(); err != nil {
					logger.Error().Err(err).Str("name", name).Msg("Failed to start server")
					span.RecordError(err)
					return err
				}
				return nil
			})
		}
		span.End()

		go func() {
			if err := runGroup.Wait(); err != nil {
				app.auditScheduler.Clear()
				app.registry.Shutdown(runCtx)
				os.Exit(gerr.FailedToStartServer)
			}
		}()

		// Wait for the engine to shut down.
		<-app.stopChan
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP(
		"config", "c", config.GetDefaultConfigFilePath(config.GlobalConfigFilename),
		"Global config file")
	runCmd.Flags().StringP(
		"addons-config", "a", config.GetDefaultConfigFilePath(config.AddonsConfigFilename),
		"Addons config file")
	runCmd.Flags().Bool("sentry", true, "Enable Sentry")
	runCmd.Flags().Bool("lint", true, "Enable linting of configuration files")
}

func NewHookFlowInstance(cmd *cobra.Command) *HookFlowInstance {
	app := HookFlowInstance{
		loggers:        make(map[string]zerolog.Logger),
		servers:        make(map[string]*network.Server),
		auditScheduler: gocron.NewScheduler(time.UTC),
		stopChan:       make(chan struct{}),
	}
	app.EnableSentry, _ = cmd.Flags().GetBool("sentry")
	app.EnableLinting, _ = cmd.Flags().GetBool("lint")
	app.GlobalConfigFile, _ = cmd.Flags().GetString("config")
	app.AddonsConfigFile, _ = cmd.Flags().GetString("addons-config")
	return &app
}
