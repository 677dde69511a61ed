package event

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode-client/internal/api"
	"github.com/opencode-ai/opencode-client/internal/logging"
)

// Relay pumps a live event stream into a bus until the stream ends.
type Relay struct {
	bus *Bus
	log zerolog.Logger
}

// NewRelay creates a relay publishing to bus.
func NewRelay(bus *Bus) *Relay {
	return &Relay{
		bus: bus,
		log: logging.Component("relay"),
	}
}

// Run consumes the stream and publishes every event. It blocks until
// the stream ends, errors, or ctx is cancelled, closes the stream, and
// returns the terminal stream error. A dropped stream is not re-opened;
// the caller decides whether to subscribe again.
func (r *Relay) Run(ctx context.Context, stream *api.EventStream) error {
	defer stream.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-done:
		}
	}()

	count := 0
	for stream.Next() {
		r.bus.Publish(stream.Current())
		count++
	}

	err := stream.Err()
	if ctx.Err() != nil {
		err = nil
	}
	r.log.Debug().Int("events", count).Err(err).Msg("event stream ended")
	return err
}
