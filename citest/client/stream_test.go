package client_test

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/opencode-client/internal/api"
	"github.com/opencode-ai/opencode-client/internal/event"
)

var _ = Describe("Event stream", func() {
	It("delivers pushed events in order", func() {
		stream, err := client.Subscribe(ctx, "/event")
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()

		Eventually(server.Connected()).Should(Receive())

		server.PushEvent("session.updated", `{"id":"first"}`)
		server.PushEvent("message.part.updated", `{"id":"second"}`)

		received := make(chan api.Event, 2)
		go func() {
			for stream.Next() {
				received <- stream.Current()
			}
		}()

		var ev api.Event
		Eventually(received).Should(Receive(&ev))
		Expect(ev.Name).To(Equal("session.updated"))
		Expect(ev.Data).To(Equal(`{"id":"first"}`))

		Eventually(received).Should(Receive(&ev))
		Expect(ev.Name).To(Equal("message.part.updated"))
	})

	It("stops cleanly when the context is cancelled", func() {
		streamCtx, cancel := context.WithCancel(ctx)
		stream, err := client.Subscribe(streamCtx, "/event")
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()

		Eventually(server.Connected()).Should(Receive())

		done := make(chan struct{})
		go func() {
			for stream.Next() {
			}
			close(done)
		}()

		cancel()
		Eventually(done, 5*time.Second).Should(BeClosed())
		Expect(stream.Err()).NotTo(HaveOccurred())
	})

	It("feeds the bus through a relay", func() {
		bus := event.NewBus()
		defer bus.Close()

		got := make(chan api.Event, 4)
		unsub := bus.Subscribe("session.updated", func(ev api.Event) {
			got <- ev
		})
		defer unsub()

		stream, err := client.Subscribe(ctx, "/event")
		Expect(err).NotTo(HaveOccurred())

		relayCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		relayDone := make(chan error, 1)
		go func() {
			relayDone <- event.NewRelay(bus).Run(relayCtx, stream)
		}()

		Eventually(server.Connected()).Should(Receive())
		server.PushEvent("session.updated", `{"id":"s_1","title":"demo"}`)

		var ev api.Event
		Eventually(got).Should(Receive(&ev))
		Expect(ev.Name).To(Equal("session.updated"))

		var payload map[string]string
		Expect(json.Unmarshal([]byte(ev.Data), &payload)).To(Succeed())
		Expect(payload["id"]).To(Equal("s_1"))

		cancel()
		Eventually(relayDone, 5*time.Second).Should(Receive(BeNil()))
	})
})
