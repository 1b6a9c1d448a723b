// Package main provides the CLI entry point for researchmesh. Every command
// streams the run's events to stdout as NDJSON; logs go to stderr.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hupe1980/researchmesh"
	"github.com/hupe1980/researchmesh/config"
	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/runner"
	"github.com/spf13/cobra"
)

// Version information (set at build time)
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "researchmesh",
		Short: "researchmesh - plan, search and answer with an LLM research loop",
		Long: `researchmesh routes a question, plans research tasks, runs web, paper and
knowledge base searches, judges the findings and streams a final answer.

Events are written to stdout as newline delimited JSON.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./researchmesh.yaml or $HOME/.researchmesh/researchmesh.yaml)")

	open := func(cmd *cobra.Command) (*researchmesh.ResearchMesh, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return researchmesh.NewFromConfig(cmd.Context(), cfg)
	}

	// ask command - answer a single question
	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question on a thread",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			thread, _ := cmd.Flags().GetString("thread")

			rm, err := open(cmd)
			if err != nil {
				return err
			}
			defer rm.Close()

			_, events, err := rm.Ask(cmd.Context(), thread, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return stream(cmd, events)
		},
	}
	askCmd.Flags().String("thread", "default", "Conversation thread key")

	// chat command - one question per stdin line on the same thread
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Answer questions read line by line from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			thread, _ := cmd.Flags().GetString("thread")

			rm, err := open(cmd)
			if err != nil {
				return err
			}
			defer rm.Close()

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				_, events, err := rm.Ask(cmd.Context(), thread, line)
				if err != nil {
					return err
				}
				if err := stream(cmd, events); err != nil && !errors.Is(err, runner.ErrRunFailed) {
					return err
				}
			}
			return scanner.Err()
		},
	}
	chatCmd.Flags().String("thread", "default", "Conversation thread key")

	// resume command - continue an abandoned run
	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume the thread's unfinished run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			thread, _ := cmd.Flags().GetString("thread")

			rm, err := open(cmd)
			if err != nil {
				return err
			}
			defer rm.Close()

			_, events, err := rm.Resume(cmd.Context(), thread)
			if err != nil {
				return err
			}
			return stream(cmd, events)
		},
	}
	resumeCmd.Flags().String("thread", "default", "Conversation thread key")

	rootCmd.AddCommand(askCmd, chatCmd, resumeCmd)

	return rootCmd
}

// stream writes events to stdout and reports a failed run as an error.
func stream(cmd *cobra.Command, events <-chan core.Event) error {
	tee := make(chan core.Event)
	failed := false
	go func() {
		defer close(tee)
		for ev := range events {
			if ev.Type == core.EventError {
				failed = true
			}
			tee <- ev
		}
	}()

	if err := runner.WriteNDJSON(cmd.OutOrStdout(), tee); err != nil {
		go func() {
			for range tee {
			}
		}()
		return fmt.Errorf("failed to write events: %w", err)
	}
	if failed {
		return runner.ErrRunFailed
	}
	return nil
}
