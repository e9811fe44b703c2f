package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rudmsa/feedagg/internal/client"
	"github.com/rudmsa/feedagg/internal/config"
	"github.com/rudmsa/feedagg/internal/feed"
)

const (
	dummyInterval = 200 * time.Millisecond
)

// app carries the state shared by every command.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	dryRun     bool

	cfg *config.Config
	log *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "feedagg",
		Short:         "Aggregate trades and order books from Coinbase, Kraken and Hyperliquid",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (overrides config)")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text, json or auto (overrides config)")
	pf.BoolVar(&a.dryRun, "dry-run", false, "use synthetic feeds instead of connecting to exchanges")

	root.AddCommand(
		newTapeCmd(a),
		newBookCmd(a),
		newStreamCmd(a),
		newIndexCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) init(out io.Writer) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	log, err := newLogger(cfg.Log, out)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

func newLogger(cfg config.LogConfig, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: log level: %v", config.ErrInvalid, err)
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "", "auto":
		if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		} else {
			log.SetFormatter(&logrus.JSONFormatter{})
		}
	default:
		return nil, fmt.Errorf("%w: unknown log format %q", config.ErrInvalid, cfg.Format)
	}
	return log, nil
}

func (a *app) clientOptions(extra ...client.Option) []client.Option {
	opts := []client.Option{client.WithLogger(a.log)}
	if a.dryRun {
		a.log.Warn("dry run: using synthetic feeds")
		opts = append(opts, client.WithDialer(
			feed.NewDummyDialer(decimal.NewFromInt(35000), decimal.NewFromInt(48000), dummyInterval),
		))
	}
	return append(opts, extra...)
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
