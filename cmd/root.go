// Package cmd defines the pricespy CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricespy/internal/app"
	"github.com/JakeFAU/pricespy/internal/config"
	"github.com/JakeFAU/pricespy/internal/logging"
	"github.com/JakeFAU/pricespy/internal/tracker"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what commands need from the application container. Tests swap in
// a fake through newApp.
type App interface {
	Close()
	Orchestrator() Acquirer
	Queue() tracker.TaskQueue
	Migrate(ctx context.Context) error
	SeedCompetitor(ctx context.Context, name string) (tracker.Competitor, error)
	RunWorker(ctx context.Context)
	Serve(ctx context.Context, withWorker bool) error
}

// Acquirer is the synchronous acquisition entry point.
type Acquirer interface {
	AcquirePrice(ctx context.Context, productID int64) (tracker.PriceObservation, error)
	AcquireAll(ctx context.Context) ([]tracker.AcquisitionResult, error)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &appAdapter{App: a, logger: logger}, nil
}

type appAdapter struct {
	*app.App
	logger *zap.Logger
}

func (a *appAdapter) Orchestrator() Acquirer { return a.App.Orchestrator() }

func (a *appAdapter) Close() {
	a.App.Close()
	_ = a.logger.Sync() //nolint:errcheck // best-effort flush
}

// newRootCmd returns the command tree and a function that closes whatever
// application PersistentPreRunE built. cobra skips post-run hooks when RunE
// fails, so callers close explicitly after ExecuteContext returns.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile string
		opened  App
	)
	closeApp := func() {
		if opened != nil {
			opened.Close()
			opened = nil
		}
	}
	cmd := &cobra.Command{
		Use:   "pricespy",
		Short: "Tracks competitor marketplace prices for catalog products.",
		Long: `pricespy locates each catalog product on a competitor marketplace, reads the
listing's structured offer data and records a dated price observation.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			cfg, err := config.Load(config.ResolvePath(cfgFile))
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			opened = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./pricespy.yaml if present)")

	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newAcquireCmd(),
		newEnqueueCmd(),
		newMigrateCmd(),
		newSeedCompetitorCmd(),
	)
	return cmd, closeApp
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	root, closeApp := newRootCmd()
	err := root.ExecuteContext(ctx)
	closeApp()
	if err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
