package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/stephnangue/jwtsecrets/config"
	"github.com/stephnangue/jwtsecrets/core"
	jwthttp "github.com/stephnangue/jwtsecrets/http"
	"github.com/stephnangue/jwtsecrets/listener"
	"github.com/stephnangue/jwtsecrets/listener/api"
	log "github.com/stephnangue/jwtsecrets/logger"
	"github.com/stephnangue/jwtsecrets/logical"
	"github.com/stephnangue/jwtsecrets/physical"
	"github.com/stephnangue/jwtsecrets/secrets/jwt"

	_ "github.com/stephnangue/jwtsecrets/physical/file"
	_ "github.com/stephnangue/jwtsecrets/physical/inmem"
	_ "github.com/stephnangue/jwtsecrets/physical/postgres"
	_ "github.com/stephnangue/jwtsecrets/physical/redis"
)

const (
	// Subsystem names for logging
	subsystemCore     = "core"
	subsystemListener = "listener"

	shutdownTimeout = 30 * time.Second
)

var (
	configPath string
	flagDev    bool

	ServerCmd = &cobra.Command{
		Use:   "server",
		Short: "This command starts a jwtsecrets server that responds to API requests",
		Long: `
Usage: jwtsecrets server [options]

  This command starts a jwtsecrets server that responds to API requests.

  Start a server with a configuration file:

      $ jwtsecrets server --config=/etc/jwtsecrets/config.hcl

  Start an in-memory development server on 127.0.0.1:8200 with a "jwt"
  mount:

      $ jwtsecrets server --dev
  `,
		SilenceUsage: true,
		RunE:         run,
	}

	logicalBackends = map[string]logical.Factory{
		jwt.BackendType: jwt.Factory,
	}
)

func init() {
	ServerCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (e.g., path/to/jwtsecrets.hcl)")
	ServerCmd.Flags().BoolVar(&flagDev, "dev", false, "Start an in-memory development server")
}

func run(cmd *cobra.Command, args []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runServer(ctx, cmd.OutOrStdout(), conf)
}

func loadConfig() (*config.Config, error) {
	if flagDev {
		return config.DevConfig(), nil
	}
	if configPath == "" {
		return nil, fmt.Errorf("config file path is required. Use -c or --config flag, or --dev")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return conf, nil
}

// runServer serves conf until ctx is done or every listener has failed.
func runServer(ctx context.Context, out io.Writer, conf *config.Config) error {
	// construct the logger with gate closed during initialization
	logger := buildGatedLogger(conf, out)

	storage, err := physical.New(conf.Storage.Type, conf.Storage.Config(), logger.WithSystem("storage."+conf.Storage.Type))
	if err != nil {
		return fmt.Errorf("failed to construct the storage: %w", err)
	}

	var sink *metrics.InmemSink
	var metricsSink metrics.MetricSink = &metrics.BlackholeSink{}
	if !conf.DisableMetrics {
		sink = metrics.NewInmemSink(10*time.Second, time.Minute)
		metricsSink = sink
	}

	c, err := core.NewCore(&core.CoreConfig{
		Physical:        storage,
		CacheSize:       conf.CacheSize,
		DisableCache:    conf.DisableCache,
		LogicalBackends: logicalBackends,
		Logger:          logger,
		MetricsSink:     metricsSink,
	})
	if err != nil {
		return fmt.Errorf("error initializing core: %w", err)
	}
	defer c.Shutdown(context.Background())

	info := map[string]string{
		"log level":  conf.LogLevel,
		"log format": conf.LogFormat,
		"storage":    conf.Storage.Type,
	}
	if conf.LogFile != "" {
		info["log file"] = conf.LogFile
	}

	mounts := make([]string, 0, len(conf.Mounts))
	for _, m := range conf.Mounts {
		entry := &core.MountEntry{Path: m.Path, Type: m.Type, Config: m.Config()}
		if err := c.Mount(ctx, entry); err != nil {
			return fmt.Errorf("failed to mount %q: %w", m.Path, err)
		}
		mounts = append(mounts, fmt.Sprintf("%s (%s)", entry.Path, entry.Type))
	}
	info["mounts"] = strings.Join(mounts, ", ")

	httpHandler := jwthttp.Handler(&jwthttp.HandlerProperties{
		Core:           c,
		Logger:         logger.WithSystem("http"),
		Metrics:        sink,
		MaxRequestSize: conf.MaxRequestSize,
		RateLimit:      conf.RateLimit,
		RateBurst:      conf.RateLimitBurst,
	})

	lns, err := initListeners(httpHandler, conf, logger, info)
	if err != nil {
		return err
	}

	printInfo(out, info)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, len(lns))
	for _, ln := range lns {
		wg.Add(1)
		go func(ln listener.Listener) {
			defer wg.Done()
			if err := ln.Start(ctx); err != nil {
				errChan <- fmt.Errorf("%s listener at %s: %w", ln.Type(), ln.Addr(), err)
			}
		}(ln)
	}

	if flagDev {
		printDevBanner(out)
	}
	fmt.Fprintf(out, "\n==> jwtsecrets server started! Log data will stream in below:\n\n")
	if err := logger.OpenGate(); err != nil {
		fmt.Fprintf(out, "failed to flush startup logs: %v\n", err)
	}

	var listenerErrs []error
	for len(listenerErrs) < len(lns) {
		select {
		case err := <-errChan:
			listenerErrs = append(listenerErrs, err)
			logger.Error("listener failed", log.Err(err),
				log.Int("failed_count", len(listenerErrs)),
				log.Int("total_listeners", len(lns)),
			)
			continue
		case <-ctx.Done():
			logger.Info("shutdown triggered")
		}
		break
	}
	cancel()

	var shutdownErrs []error
	for _, ln := range lns {
		if err := ln.Stop(); err != nil {
			shutdownErrs = append(shutdownErrs, fmt.Errorf("failed to stop %s listener at %s: %w", ln.Type(), ln.Addr(), err))
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		shutdownErrs = append(shutdownErrs, errors.New("timed out waiting for listeners to stop"))
	}

	if len(listenerErrs) == len(lns) {
		return fmt.Errorf("all listeners failed: %w", errors.Join(listenerErrs...))
	}
	if len(shutdownErrs) > 0 {
		return errors.Join(shutdownErrs...)
	}

	logger.Info("server shutdown completed")
	return nil
}

func buildGatedLogger(conf *config.Config, out io.Writer) *log.GatedLogger {
	logConfig := conf.LoggerConfig()
	logConfig.Subsystem = subsystemCore
	logConfig.Outputs = []io.Writer{out}

	gateConfig := log.GatedWriterConfig{
		Underlying:    out,
		InitialState:  log.GateClosed,
		MaxBufferSize: 10 * 1024 * 1024, // 10MB buffer for initialization logs
	}

	gatedLogger, _ := log.NewGatedLogger(logConfig, gateConfig)
	return gatedLogger
}

func initListeners(handler http.Handler, conf *config.Config, logger *log.GatedLogger, info map[string]string) ([]listener.Listener, error) {
	lns := make([]listener.Listener, 0, len(conf.Listeners))
	addrs := make([]string, 0, len(conf.Listeners))

	for _, lnConfig := range conf.Listeners {
		ln, err := api.NewApiListener(api.ApiListenerConfig{
			Logger:          logger.WithSystem(subsystemListener),
			Address:         lnConfig.Address,
			TLSCertFile:     lnConfig.TLSCertFile,
			TLSKeyFile:      lnConfig.TLSKeyFile,
			TLSClientCAFile: lnConfig.TLSClientCAFile,
			TLSDisable:      lnConfig.TLSDisable,
		}, handler)
		if err != nil {
			for _, started := range lns {
				_ = started.Stop()
			}
			return nil, fmt.Errorf("error initializing listener of type %s: %w", lnConfig.Type, err)
		}
		lns = append(lns, ln)

		tlsState := "enabled"
		if lnConfig.TLSDisable {
			tlsState = "disabled"
		}
		addrs = append(addrs, fmt.Sprintf("%s (tls: %s)", ln.Addr(), tlsState))
	}

	info["listeners"] = strings.Join(addrs, ", ")
	return lns, nil
}

func printInfo(out io.Writer, info map[string]string) {
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	titleCaser := cases.Title(language.English, cases.NoLower)
	fmt.Fprintf(out, "\n==> jwtsecrets server configuration:\n\n")
	for _, k := range keys {
		fmt.Fprintf(out, "%24s: %s\n", titleCaser.String(k), info[k])
	}
}

func printDevBanner(w io.Writer) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "WARNING! dev mode is enabled! In this mode, jwtsecrets runs entirely\n")
	fmt.Fprintf(w, "in-memory and signing keys are lost on restart.\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "You may need to set the following environment variable:\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "    $ export JWTSECRETS_ADDR='http://%s'\n", config.DefaultAddress)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Development mode should NOT be used in production installations!\n")
}
