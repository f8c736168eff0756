package e2e_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/assistcore/citest/testutil"
	"github.com/opencode-ai/assistcore/pkg/types"
)

var _ = Describe("Fallback", func() {
	var (
		primary   *testutil.MockLLM
		secondary *testutil.MockLLM
		srv       *testutil.TestServer
	)

	failing := &testutil.Scenario{
		Settings: testutil.ScenarioSettings{Status: http.StatusServiceUnavailable},
	}

	BeforeEach(func() {
		primary = startMock(nil)
		secondary = startMock(&testutil.Scenario{
			Defaults: testutil.ScenarioDefaults{Fallback: "answer from the fallback"},
		})
		srv = startServer([]types.ProviderConfig{
			testutil.OpenAIProvider("primary", 1, primary),
			testutil.OllamaProvider("secondary", 2, secondary),
		})
	})

	It("uses the highest priority provider when it is healthy", func() {
		events := streamChat(srv, testutil.Chat("hello", "main.go", ""))

		Expect(testutil.Last(events).Type).To(Equal("done"))
		Expect(testutil.Chunks(events)[0].ProviderID).To(Equal("primary"))
		Expect(secondary.RequestCount()).To(BeZero())
	})

	It("falls back when the primary fails before streaming", func() {
		primary.SetScenario(failing)

		events := streamChat(srv, testutil.Chat("hello", "main.go", ""))

		Expect(testutil.Last(events).Type).To(Equal("done"))
		expectOrdered(events)
		Expect(testutil.Text(events)).To(Equal("answer from the fallback"))
		for _, c := range testutil.Chunks(events) {
			Expect(c.ProviderID).To(Equal("secondary"))
		}

		client := srv.Client()
		p, err := client.ProviderHealth(ctx, "primary")
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Health.ConsecutiveFailures).To(Equal(1))
		Expect(p.Health.TotalFailures).To(BeEquivalentTo(1))

		s, err := client.ProviderHealth(ctx, "secondary")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Health.TotalSuccesses).To(BeEquivalentTo(1))
	})

	It("opens the circuit after repeated failures and skips the provider", func() {
		primary.SetScenario(failing)

		for range 2 {
			events := streamChat(srv, testutil.Chat("hello", "main.go", ""))
			Expect(testutil.Last(events).Type).To(Equal("done"))
		}
		Expect(primary.RequestCount()).To(Equal(2))

		p, err := srv.Client().ProviderHealth(ctx, "primary")
		Expect(err).NotTo(HaveOccurred())
		Expect(p.CircuitOpen).To(BeTrue())

		// Healthy again, but still cooling down.
		primary.SetScenario(testutil.DefaultScenario())
		events := streamChat(srv, testutil.Chat("hello", "main.go", ""))
		Expect(testutil.Chunks(events)[0].ProviderID).To(Equal("secondary"))
		Expect(primary.RequestCount()).To(Equal(2))
	})

	It("reports every attempt when all providers fail", func() {
		primary.SetScenario(failing)
		secondary.SetScenario(&testutil.Scenario{
			Settings: testutil.ScenarioSettings{Status: http.StatusBadGateway},
		})

		events := streamChat(srv, testutil.Chat("hello", "main.go", ""))

		last := testutil.Last(events)
		Expect(last.Type).To(Equal("error"))
		Expect(testutil.Chunks(events)).To(BeEmpty())

		typed, err := last.TypedError()
		Expect(err).NotTo(HaveOccurred())
		Expect(typed.Kind).To(Equal(types.ErrKindAllProvidersUnavailable))
		Expect(typed.Attempts).To(HaveLen(2))
		Expect(typed.Attempts[0].ProviderID).To(Equal("primary"))
		Expect(typed.Attempts[0].Kind).To(Equal(types.ErrKindProviderUnavailable))
		Expect(typed.Attempts[1].ProviderID).To(Equal("secondary"))
	})

	It("does not retry a rejected request elsewhere", func() {
		primary.SetScenario(&testutil.Scenario{
			Settings: testutil.ScenarioSettings{Status: http.StatusUnauthorized},
		})

		events := streamChat(srv, testutil.Chat("hello", "main.go", ""))

		typed, err := testutil.Last(events).TypedError()
		Expect(err).NotTo(HaveOccurred())
		Expect(typed.Kind).To(Equal(types.ErrKindAllProvidersUnavailable))
		Expect(typed.Attempts).To(HaveLen(1))
		Expect(typed.Attempts[0].Kind).To(Equal(types.ErrKindProviderRejected))
		Expect(secondary.RequestCount()).To(BeZero())
	})

	It("does not fall back once chunks were delivered", func() {
		primary.SetScenario(&testutil.Scenario{
			Settings: testutil.ScenarioSettings{TruncateAfter: 2},
			Defaults: testutil.ScenarioDefaults{Fallback: "one two three four"},
		})

		events := streamChat(srv, testutil.Chat("anything", "main.go", ""))

		chunks := testutil.Chunks(events)
		Expect(chunks).To(HaveLen(2))
		Expect(chunks[0].Seq).To(BeEquivalentTo(1))
		Expect(chunks[1].Seq).To(BeEquivalentTo(2))
		Expect(chunks[1].Final).To(BeFalse())

		last := testutil.Last(events)
		Expect(last.Type).To(Equal("error"))
		typed, err := last.TypedError()
		Expect(err).NotTo(HaveOccurred())
		Expect(typed.Kind).To(Equal(types.ErrKindStreamInterrupted))
		Expect(typed.ProviderID).To(Equal("primary"))

		Expect(secondary.RequestCount()).To(BeZero())
	})
})
