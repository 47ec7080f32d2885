package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/parley/internal/chunk"
	"github.com/stupiduntilnot/parley/internal/logging"
)

func newDispatchCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch <utterance>",
		Short: "Handle one utterance locally and print the reply",
		Long: `Routes a single utterance exactly as the loop would, including its side
effects, and prints the reply parts that would be sent to the peer.

Example:
  parley dispatch 'L:>P hello'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Verbose: cfg.Verbose, Console: cmd.ErrOrStderr()})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Close()

			router, _, err := newRouter(cfg, logger.Logger)
			if err != nil {
				return err
			}
			res, reply := router.Dispatch(cmd.Context(), strings.Join(args, " "))
			if !reply {
				fmt.Fprintln(cmd.ErrOrStderr(), "no reply: the utterance is our own output")
				return nil
			}
			printParts(cmd, chunk.Split(res.String(), chunk.MaxContentLength))
			return nil
		},
	}
}

func newInstructionsCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "instructions",
		Short: "Print the instruction message sent to the peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Verbose: cfg.Verbose, Console: cmd.ErrOrStderr()})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Close()

			_, routes, err := newRouter(cfg, logger.Logger)
			if err != nil {
				return err
			}
			printParts(cmd, chunk.Split(instructions(cfg, routes), chunk.MaxContentLength))
			return nil
		},
	}
}

func printParts(cmd *cobra.Command, parts []string) {
	out := cmd.OutOrStdout()
	for i, p := range parts {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, p)
	}
}
