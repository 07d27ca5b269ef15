package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd(g *globalFlags) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Answer a single message (for testing)",
		Long: `Answer a single message without starting the server.

Session state persists only with the redis session backend, so a
clarification asked by one invocation can be answered by the next
with the same --user.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), g.configPath, user, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "cli", "user the message is from")
	return cmd
}

// runAsk wires the agent and resolves one message, printing the reply
// to stdout. Logs go to stderr so the reply can be piped.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, user, message string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger(stderr)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	reply, err := a.loop.Resolve(ctx, user, message)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout, reply)
	return nil
}
