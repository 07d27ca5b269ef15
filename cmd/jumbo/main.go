// Jumbo is an advising assistant for international students.
//
// It answers chat messages delivered by an outgoing webhook, looking
// things up in its knowledge store and on the web, and asks a follow-up
// question when a message is too vague to answer. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]); a .env file in the working directory is
// loaded into the environment first so secrets can stay out of it.
//
// Usage:
//
//	jumbo serve                   Start the webhook server
//	jumbo ask [--user id] <text>  Answer a single message (for testing)
//	jumbo ingest <path>...        Seed the knowledge store with documents
//	jumbo init [dir]              Write an example config.yaml and .env
//	jumbo version                 Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/eduparlema/llmproxy-chatbot/internal/buildinfo"
)

func main() {
	if err := run(context.Background(), os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run builds the command tree and executes it with the given arguments.
// Keeping stdio and argv out of the commands lets tests drive them.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
	output     string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "jumbo",
		Short:         "Jumbo - international student advising assistant",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if g.output != "text" && g.output != "json" {
				return fmt.Errorf("unknown output format: %q (expected text or json)", g.output)
			}
			return loadEnv(g.envFile, cmd.Flags().Changed("env-file"))
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to config file (default: auto-discover)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "environment file loaded before the config")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newServeCmd(g),
		newAskCmd(g),
		newIngestCmd(g),
		newInitCmd(),
		newVersionCmd(g),
	)
	return root
}

// loadEnv loads path into the process environment without overriding
// variables that are already set. A missing default file is not an
// error; a missing file the user asked for is.
func loadEnv(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
