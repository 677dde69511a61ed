package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/opencode-client/internal/supervisor"
)

var (
	ensureAutoServe      bool
	ensureStartupTimeout time.Duration
)

var ensureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Make sure a healthy opencode server is running",
	Long: `Probe the configured server and, when it is not reachable, locate the
opencode binary and start it. When this command spawned the server it
stays in the foreground owning the child; Ctrl-C stops both.`,
	RunE: runEnsure,
}

func init() {
	ensureCmd.Flags().BoolVar(&ensureAutoServe, "auto-serve", true, "Start the server when it is not reachable")
	ensureCmd.Flags().DurationVar(&ensureStartupTimeout, "startup-timeout", 0, "How long to wait for a spawned server (default from config)")
}

func runEnsure(cmd *cobra.Command, args []string) error {
	client := newClient()
	sup, err := supervisor.New(client)
	if err != nil {
		return err
	}

	timeout := ensureStartupTimeout
	if timeout <= 0 {
		timeout = cfg.StartupTimeoutDuration()
	}
	autoServe := ensureAutoServe && cfg.AutoServeEnabled()

	st, err := sup.EnsureServer(cmd.Context(), supervisor.Options{
		AutoServe:      autoServe,
		StartupTimeout: timeout,
	})
	if err != nil {
		return err
	}

	switch {
	case st.ManagedByUs:
		fmt.Printf("started opencode server at %s (version %s)\n", client.BaseURL(), st.Version)
	default:
		fmt.Printf("opencode server already running at %s (version %s)\n", client.BaseURL(), st.Version)
	}

	if !st.ManagedByUs {
		return nil
	}

	// We own the child; hold it until interrupted.
	fmt.Println("press Ctrl-C to stop")
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sup.Stop()
	return nil
}
