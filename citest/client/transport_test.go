package client_test

import (
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/opencode-client/internal/api"
)

var _ = Describe("Transport", func() {
	Describe("request routing", func() {
		It("decodes JSON responses", func() {
			res, err := client.Get(ctx, "/session")
			Expect(err).NotTo(HaveOccurred())

			var body map[string]string
			Expect(res.Decode(&body)).To(Succeed())
			Expect(body["path"]).To(Equal("/session"))
		})

		It("sends the scoping header only when a directory is given", func() {
			_, err := client.Get(ctx, "/session", api.WithDirectory("/work/app"))
			Expect(err).NotTo(HaveOccurred())

			_, err = client.Get(ctx, "/session")
			Expect(err).NotTo(HaveOccurred())

			reqs := server.Requests()
			Expect(reqs[0].Header.Get(api.DirectoryHeader)).To(Equal("/work/app"))
			Expect(reqs[1].Header.Get(api.DirectoryHeader)).To(BeEmpty())
		})
	})

	Describe("retry behavior", func() {
		It("retries transient statuses until success", func() {
			server.ScriptStatuses("/session", http.StatusServiceUnavailable, http.StatusTooManyRequests)

			_, err := client.Get(ctx, "/session")
			Expect(err).NotTo(HaveOccurred())
			Expect(server.RequestCount("/session")).To(Equal(3))
		})

		It("gives up after the retry budget", func() {
			server.ScriptStatuses("/session",
				http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway)

			_, err := client.Get(ctx, "/session")
			Expect(err).To(HaveOccurred())
			Expect(server.RequestCount("/session")).To(Equal(3))

			var apiErr *api.Error
			Expect(errors.As(err, &apiErr)).To(BeTrue())
			Expect(apiErr.Status).To(Equal(http.StatusBadGateway))
		})

		It("does not retry client errors", func() {
			server.ScriptStatuses("/session", http.StatusUnprocessableEntity)

			_, err := client.Post(ctx, "/session", map[string]string{})
			Expect(err).To(HaveOccurred())
			Expect(server.RequestCount("/session")).To(Equal(1))
		})
	})

	Describe("204 handling", func() {
		It("yields no-content without parsing", func() {
			server.ScriptStatuses("/session/abc", http.StatusNoContent)

			res, err := client.Delete(ctx, "/session/abc", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.NoContent).To(BeTrue())
			Expect(res.JSON).To(BeNil())
		})
	})

	Describe("health probe", func() {
		It("reports a healthy server with its version", func() {
			server.SetHealthy(true, "0.9.1")

			st := client.Health(ctx)
			Expect(st.Healthy).To(BeTrue())
			Expect(st.Version).To(Equal("0.9.1"))
		})

		It("degrades instead of failing", func() {
			server.SetHealthy(false, "")

			st := client.Health(ctx)
			Expect(st.Healthy).To(BeFalse())
		})
	})
})
