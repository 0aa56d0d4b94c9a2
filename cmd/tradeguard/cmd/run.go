package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/grafana/pyroscope-go"
	"github.com/rustyeddy/tradeguard/internal/app"
	"github.com/rustyeddy/tradeguard/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading pipeline",
	Long: `Run the trading loop described by the config file.

In paper mode orders fill on the simulated exchange; a csv feed replays
<feed.dir>/<SYMBOL>.csv and stops when the files are exhausted. In live mode
orders go to Binance. Orders left in flight by a previous process are
reconciled before the first cycle.

Example:
  tradeguard run -c tradeguard.yaml
  tradeguard run -c tradeguard.yaml --pyroscope http://localhost:4040`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var runPyroscope string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runPyroscope, "pyroscope", "", "pyroscope server address for continuous profiling")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateSecrets(); err != nil {
		return err
	}

	log, closer, err := logging.New(cfg.Logging.Logging())
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closer.Close()

	if runPyroscope != "" {
		profiler, err := startProfiler(runPyroscope, cfg.Mode, log)
		if err != nil {
			return err
		}
		defer func() { _ = profiler.Stop() }()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.WithError(err).Error("close")
		}
	}()

	log.WithFields(logrus.Fields{
		"mode":      cfg.Mode,
		"symbols":   cfg.Pipeline.Symbols,
		"timeframe": cfg.Pipeline.Timeframe,
		"equity":    a.Portfolio.Equity(),
	}).Info("tradeguard starting")

	if err := a.Run(ctx); err != nil {
		log.WithError(err).Error("trading loop stopped")
		return err
	}
	return nil
}

type profilerLogger struct{ log logrus.FieldLogger }

func (l profilerLogger) Infof(format string, args ...any)  { l.log.Debugf(format, args...) }
func (l profilerLogger) Debugf(format string, args ...any) { l.log.Debugf(format, args...) }
func (l profilerLogger) Errorf(format string, args ...any) { l.log.Errorf(format, args...) }

func startProfiler(addr, mode string, log logrus.FieldLogger) (*pyroscope.Profiler, error) {
	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: "tradeguard",
		ServerAddress:   addr,
		Tags:            map[string]string{"mode": mode},
		Logger:          profilerLogger{log: log.WithField("component", "pyroscope")},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pyroscope start: %w", err)
	}
	return p, nil
}
