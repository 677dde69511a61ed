package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the server's health endpoint",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := newClient()
	st := client.Health(cmd.Context())

	if !st.Healthy {
		fmt.Printf("server at %s is not responding\n", client.BaseURL())
		return nil
	}
	if st.Version != "" {
		fmt.Printf("server at %s is healthy (version %s)\n", client.BaseURL(), st.Version)
	} else {
		fmt.Printf("server at %s is healthy\n", client.BaseURL())
	}
	return nil
}
