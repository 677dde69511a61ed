package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opencode-client/internal/api"
	"github.com/opencode-ai/opencode-client/internal/servertest"
)

func TestRelayPumpsStreamIntoBus(t *testing.T) {
	srv := servertest.New()
	defer srv.Close()

	client := api.New(srv.URL)
	stream, err := client.Subscribe(context.Background(), "/event")
	require.NoError(t, err)

	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var got []string
	bus.SubscribeAll(func(evt api.Event) {
		mu.Lock()
		got = append(got, evt.Data)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	relayDone := make(chan error, 1)
	go func() {
		relayDone <- NewRelay(bus).Run(ctx, stream)
	}()

	<-srv.Connected()
	srv.PushEvent("message", `{"seq":1}`)
	srv.PushEvent("message", `{"seq":2}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-relayDone:
		assert.NoError(t, err, "cancellation is a clean shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop on cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`{"seq":1}`, `{"seq":2}`}, got)
}
