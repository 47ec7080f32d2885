package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/parley/internal/config"
	"github.com/stupiduntilnot/parley/internal/db"
	"github.com/stupiduntilnot/parley/internal/logging"
	"github.com/stupiduntilnot/parley/internal/loop"
)

func main() {
	os.Exit(runMain(os.Args[1:]))
}

// runMain executes the root command and returns the process exit code.
func runMain(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

// flags shared by every subcommand.
type flags struct {
	configPath string
	verbose    bool
	channel    string
}

func (f *flags) load() (config.Config, error) {
	return config.Load(f.configPath, func(c *config.Config) {
		if f.channel != "" {
			c.Channel = f.channel
		}
		if f.verbose {
			c.Verbose = true
		}
	})
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "parley",
		Short: "Relay a prefix protocol between a chat peer and the local machine",
		Long: `parley polls a chat channel for the peer's latest utterance, executes the
action named by its prefix (store a note, run a command, load a memory file)
and replies with a status line over the same channel.

Run without a subcommand to start the loop.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "Config file (default: $PARLEY_CONFIG_DIR/config.yaml or ~/.config/parley/config.yaml)")
	root.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&f.channel, "channel", "", "Channel: browser, telegram or dummy")

	root.AddCommand(newDispatchCmd(f), newInstructionsCmd(f))
	return root
}

// run starts the loop and blocks until ctx is cancelled.
func run(ctx context.Context, cfg config.Config) error {
	workspace, _, logsDir, dbPath, err := cfg.Paths()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Dir: logsDir, Verbose: cfg.Verbose})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()
	log := logger.Logger

	var opts []loop.Option
	database, err := db.OpenDB(dbPath)
	if err == nil {
		defer database.Close()
		err = db.InitSchema(database)
	}
	var journal *db.Journal
	if err == nil {
		journal, err = db.StartJournal(database, map[string]any{
			"channel":   cfg.Channel,
			"workspace": workspace,
		}, log)
	}
	if err != nil {
		log.Warn("journal disabled", zap.String("path", dbPath), zap.Error(err))
	} else {
		log = log.With(zap.String("run_id", journal.RunID()))
		opts = append(opts, loop.WithJournal(journal))
	}
	opts = append(opts, loop.WithLogger(log))

	router, routes, err := newRouter(cfg, log)
	if err != nil {
		log.Error("router setup failed", zap.Error(err))
		return err
	}
	ch, err := newChannel(cfg, log)
	if err != nil {
		log.Error("channel setup failed", zap.Error(err))
		return err
	}
	defer ch.Close()

	lp := loop.New(loopConfig(cfg, routes), ch, router, opts...)
	log.Info("starting",
		zap.String("channel", cfg.Channel),
		zap.String("workspace", workspace),
		zap.String("log_file", logger.Path))
	if err := lp.Start(ctx); err != nil {
		log.Error("channel could not be opened", zap.Error(err))
		return fmt.Errorf("start: %w", err)
	}
	err = lp.Run(ctx)
	if journal != nil {
		journal.Record(0, db.EventProcessStopped, map[string]any{"cycles": lp.Cycle()})
	}
	return err
}
