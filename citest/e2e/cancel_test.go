package e2e_test

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/assistcore/citest/testutil"
	"github.com/opencode-ai/assistcore/internal/router"
	"github.com/opencode-ai/assistcore/pkg/types"
)

var longAnswer = strings.TrimSpace(strings.Repeat("word ", 40))

var _ = Describe("Cancellation", func() {
	var (
		backend *testutil.MockLLM
		srv     *testutil.TestServer
	)

	BeforeEach(func() {
		backend = startMock(&testutil.Scenario{
			Settings: testutil.ScenarioSettings{ChunkDelayMS: 100},
			Defaults: testutil.ScenarioDefaults{Fallback: longAnswer},
		})
		srv = startServer([]types.ProviderConfig{
			testutil.OpenAIProvider("slow", 1, backend),
		})
	})

	It("stops the stream and leaves provider health alone", func() {
		client := srv.Client()
		st, err := client.Submit(ctx, testutil.Chat("go", "main.go", ""))
		Expect(err).NotTo(HaveOccurred())

		sse := srv.SSE()
		DeferCleanup(sse.Close)
		Expect(sse.Connect(ctx, "/requests/"+st.ID+"/events")).To(Succeed())
		_, err = sse.WaitForEvent("chunk", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())

		cancelled, err := client.CancelRequest(ctx, st.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(cancelled.State).To(Equal(types.StateCancelled))

		events, err := sse.Collect(5 * time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(testutil.Last(events).Type).To(Equal("cancelled"))
		Expect(len(testutil.Chunks(events))).To(BeNumerically("<", 40))

		p, err := client.ProviderHealth(ctx, "slow")
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Health.TotalFailures).To(BeZero())
		Expect(p.Health.ConsecutiveFailures).To(BeZero())
	})

	It("is a no-op on a finished request", func() {
		backend.SetScenario(testutil.DefaultScenario())
		client := srv.Client()

		st, err := client.Submit(ctx, testutil.Chat("hello", "main.go", ""))
		Expect(err).NotTo(HaveOccurred())
		Eventually(func() types.RequestState {
			got, err := client.GetRequest(ctx, st.ID)
			Expect(err).NotTo(HaveOccurred())
			return got.State
		}).Should(Equal(types.StateCompleted))

		again, err := client.CancelRequest(ctx, st.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(again.State).To(Equal(types.StateCompleted))
	})

	It("cancels when the streaming client disconnects", func() {
		sse := srv.SSE()
		Expect(sse.Submit(ctx, testutil.Chat("go", "main.go", ""))).To(Succeed())
		_, err := sse.WaitForEvent("chunk", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		sse.Close()

		client := srv.Client()
		Eventually(func() []types.RequestState {
			resp, err := client.Get(ctx, "/requests")
			Expect(err).NotTo(HaveOccurred())
			var statuses []router.Status
			Expect(resp.JSON(&statuses)).To(Succeed())
			states := make([]types.RequestState, len(statuses))
			for i, st := range statuses {
				states[i] = st.State
			}
			return states
		}).Should(ConsistOf(types.StateCancelled))
	})

	It("releases a request so it can no longer be found", func() {
		client := srv.Client()
		st, err := client.Submit(ctx, testutil.Chat("go", "main.go", ""))
		Expect(err).NotTo(HaveOccurred())

		resp, err := client.Delete(ctx, "/requests/"+st.ID+"?release=true")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.IsSuccess()).To(BeTrue())

		_, err = client.GetRequest(ctx, st.ID)
		Expect(err).To(MatchError(ContainSubstring("404")))
	})
})

var _ = Describe("Timeouts", func() {
	It("falls back when the primary sends nothing in time", func() {
		stalled := startMock(&testutil.Scenario{Settings: testutil.ScenarioSettings{Hang: true}})
		healthy := startMock(nil)
		srv := startServer([]types.ProviderConfig{
			testutil.OllamaProvider("stalled", 1, stalled),
			testutil.OllamaProvider("healthy", 2, healthy),
		})

		req := testutil.Chat("hello", "main.go", "")
		req.InterChunkTimeout = types.Duration(300 * time.Millisecond)
		events := streamChat(srv, req)

		Expect(testutil.Last(events).Type).To(Equal("done"))
		Expect(testutil.Text(events)).To(Equal("Hello, World!"))

		p, err := srv.Client().ProviderHealth(ctx, "stalled")
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Health.TotalFailures).To(BeEquivalentTo(1))
	})

	It("interrupts a stream that stalls after delivering chunks", func() {
		stalled := startMock(&testutil.Scenario{
			Settings: testutil.ScenarioSettings{Hang: true},
			Defaults: testutil.ScenarioDefaults{Fallback: "partial answer"},
		})
		healthy := startMock(nil)
		srv := startServer([]types.ProviderConfig{
			testutil.OllamaProvider("stalled", 1, stalled),
			testutil.OllamaProvider("healthy", 2, healthy),
		})

		req := testutil.Chat("hello", "main.go", "")
		req.InterChunkTimeout = types.Duration(300 * time.Millisecond)
		events := streamChat(srv, req)

		Expect(testutil.Text(events)).To(Equal("partial answer"))
		typed, err := testutil.Last(events).TypedError()
		Expect(err).NotTo(HaveOccurred())
		Expect(typed.Kind).To(Equal(types.ErrKindStreamInterrupted))
		Expect(typed.Attempts).To(HaveLen(1))
		Expect(typed.Attempts[0].Kind).To(Equal(types.ErrKindProviderTimeout))
		Expect(healthy.RequestCount()).To(BeZero())
	})
})
