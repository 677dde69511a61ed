package commands

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/opencode-client/internal/api"
	"github.com/opencode-ai/opencode-client/internal/event"
)

var eventsRaw bool

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow the server's event stream",
	Long: `Subscribe to the server's SSE endpoint and print events as they arrive
until interrupted. With --raw, data payloads are printed unmodified,
one per line.`,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().BoolVar(&eventsRaw, "raw", false, "Print raw data payloads without decoration")
}

func runEvents(cmd *cobra.Command, args []string) error {
	client := newClient()

	var opts []api.RequestOption
	if directory != "" {
		opts = append(opts, api.WithDirectory(directory))
	}
	stream, err := client.Subscribe(cmd.Context(), "/event", opts...)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	bus := event.NewBus()
	defer bus.Close()
	unsub := bus.SubscribeAll(printEvent)
	defer unsub()

	return event.NewRelay(bus).Run(cmd.Context(), stream)
}

var (
	eventName = color.New(color.FgCyan, color.Bold)
	eventDim  = color.New(color.Faint)
)

func printEvent(evt api.Event) {
	if eventsRaw {
		fmt.Println(evt.Data)
		return
	}

	// Server events wrap a type field; surface it when present.
	var payload struct {
		Type string `json:"type"`
	}
	label := evt.Name
	if err := json.Unmarshal([]byte(evt.Data), &payload); err == nil && payload.Type != "" {
		label = payload.Type
	}

	eventName.Printf("%-28s", label)
	eventDim.Println(evt.Data)
}
