// Package commands provides the CLI commands for the opencode client.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/opencode-client/internal/api"
	"github.com/opencode-ai/opencode-client/internal/config"
	"github.com/opencode-ai/opencode-client/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	baseURL   string
	directory string
	printLogs bool
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "opencode-client",
	Short: "Client-side supervisor and transport for the opencode server",
	Long: `opencode-client talks to a headless opencode server: it probes health,
starts the server when needed, and tails its event stream.

Run 'opencode-client ensure' to guarantee a healthy server, or
'opencode-client events' to follow what it is doing.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// cfg is the resolved configuration; set up before any command runs.
var cfg *config.Config

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Server base URL (default from config)")
	rootCmd.PersistentFlags().StringVarP(&directory, "directory", "d", "", "Project directory for config and request scoping")
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("opencode-client %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ensureCmd)
	rootCmd.AddCommand(eventsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads configuration and initializes logging from flags + config.
func setup() error {
	workDir := directory
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	var err error
	cfg, err = config.Load(workDir)
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	var out io.Writer = io.Discard
	if printLogs {
		out = os.Stderr
	}
	logging.Init(logging.Config{
		Level:  logging.ParseLevel(level),
		Output: out,
		Pretty: printLogs,
	})

	if baseURL == "" {
		baseURL = cfg.BaseURL
	}
	return nil
}

// newClient builds the transport from the resolved configuration.
func newClient() *api.Client {
	var opts []api.ClientOption
	if cfg.Password != "" {
		opts = append(opts, api.WithCredentials(cfg.Username, cfg.Password))
	}
	return api.New(baseURL, opts...)
}
