// Command portalboxd is the portal box access-control controller: it
// authorizes RFID card swipes against a backend service, drives the
// equipment relay, indicator, and buzzer, and reports session activity
// back to the backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hybridlabs/portalboxd/internal/backend"
	"github.com/hybridlabs/portalboxd/internal/clock"
	"github.com/hybridlabs/portalboxd/internal/config"
	"github.com/hybridlabs/portalboxd/internal/device"
	"github.com/hybridlabs/portalboxd/internal/fsm"
	"github.com/hybridlabs/portalboxd/internal/input"
	pbmetrics "github.com/hybridlabs/portalboxd/internal/metrics"
	"github.com/hybridlabs/portalboxd/internal/notifier"
	"github.com/hybridlabs/portalboxd/internal/supervisor"
	appversion "github.com/hybridlabs/portalboxd/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "portalboxd [config-path]",
		Short: "Portal box RFID access-control controller",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := "./config.ini"
			if len(args) == 1 {
				configPath = args[0]
			}
			return run(configPath)
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), appversion.Full("portalboxd"))
			return nil
		},
	})

	return root
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration", "error", err)
		return err
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Logging.Level))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	logger.Info("portalboxd starting", "version", appversion.Version, "metrics_addr", cfg.Metrics.Addr)

	reg := prometheus.NewRegistry()
	collector := pbmetrics.NewCollector(reg)

	macAddr, err := supervisor.MACAddress()
	if err != nil {
		logger.Error("failed to resolve mac address", "error", err)
		return err
	}

	backendClient := backend.NewHTTPClient(cfg.DB.Website, cfg.DB.BearerToken, logger)

	// Per §10, the controller must be registered with the backend before it
	// asks for its equipment profile -- an unregistered MAC address has no
	// profile to fetch yet.
	if err := supervisor.EnsureRegistered(context.Background(), backendClient, macAddr); err != nil {
		logger.Error("failed to register controller", "error", err)
		return err
	}

	profile, err := backendClient.GetProfile(context.Background(), macAddr)
	if err != nil {
		logger.Error("failed to fetch equipment profile", "error", err)
		return err
	}

	driver, err := device.Open(device.PinConfig{
		RelayPin:  cfg.GPIO.RelayPin,
		ButtonPin: cfg.GPIO.ButtonPin,
		RedPin:    cfg.GPIO.RedPin,
		GreenPin:  cfg.GPIO.GreenPin,
		BluePin:   cfg.GPIO.BluePin,
		BuzzerPin: cfg.GPIO.BuzzerPin,
	}, cfg.GPIO.SerialDevice, cfg.GPIO.SerialBaud)
	if err != nil {
		logger.Error("failed to open device driver", "error", err)
		return err
	}
	defer driver.Close()

	var notify notifier.Notifier
	if cfg.Email.Enabled {
		notify = notifier.New(cfg.Email.Host, cfg.Email.Port, cfg.Email.Username, cfg.Email.Password, cfg.Email.From, logger)
	} else {
		notify = notifier.NewNoop(logger)
	}

	policy := buildDisplayPolicy(cfg.Display)

	session := fsm.NewSession(driver, backendClient, notify, clock.Real{}, collector, logger, profile, policy, cfg.UserExp.GracePeriod)
	assembler := input.New(driver, backendClient, profile)
	super := supervisor.New(session, assembler, backendClient, logger, macAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	metricsSrv := newMetricsServer(cfg.Metrics.Addr, cfg.Metrics.Path, reg)
	g.Go(func() error {
		logger.Info("metrics server listening", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
		return listenAndServe(gCtx, metricsSrv)
	})

	g.Go(func() error {
		return super.Run(gCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("portalboxd exited with error", "error", err)
		return err
	}

	logger.Info("portalboxd stopped")
	return nil
}

// buildDisplayPolicy overlays any non-empty config.DisplayConfig fields on
// top of fsm.DefaultDisplayPolicy, matching the base spec's "each has a
// fixed default; the configuration may override any" rule.
func buildDisplayPolicy(cfg config.DisplayConfig) fsm.DisplayPolicy {
	policy := fsm.DefaultDisplayPolicy()

	overrides := []struct {
		field *string
		value string
	}{
		{&policy.Setup, cfg.Setup},
		{&policy.Auth, cfg.Auth},
		{&policy.Unauth, cfg.Unauth},
		{&policy.NoCardGrace, cfg.NoCardGrace},
		{&policy.UnauthCardGrace, cfg.UnauthCardGrace},
		{&policy.GraceTimeout, cfg.GraceTimeout},
		{&policy.Proxy, cfg.Proxy},
		{&policy.Training, cfg.Training},
		{&policy.Timeout, cfg.Timeout},
	}
	for _, o := range overrides {
		if o.value != "" {
			*o.field = o.value
		}
	}
	if cfg.FlashRate != 0 {
		policy.FlashRate = cfg.FlashRate
	}
	return policy
}

func newMetricsServer(addr, path string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux}
}

// listenAndServe runs srv until ctx is cancelled, then shuts it down.
func listenAndServe(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
