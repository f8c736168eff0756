package e2e_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/assistcore/citest/testutil"
	"github.com/opencode-ai/assistcore/internal/event"
	"github.com/opencode-ai/assistcore/pkg/types"
)

var _ = Describe("Provider configuration", func() {
	var (
		first  *testutil.MockLLM
		second *testutil.MockLLM
		srv    *testutil.TestServer
	)

	BeforeEach(func() {
		first = startMock(&testutil.Scenario{Defaults: testutil.ScenarioDefaults{Fallback: "from first"}})
		second = startMock(&testutil.Scenario{Defaults: testutil.ScenarioDefaults{Fallback: "from second"}})
		srv = startServer([]types.ProviderConfig{
			testutil.OllamaProvider("first", 1, first),
		}, testutil.WithConfigWatcher())
	})

	providerIDs := func() []string {
		statuses, err := srv.Client().Providers(ctx)
		Expect(err).NotTo(HaveOccurred())
		ids := make([]string, len(statuses))
		for i, st := range statuses {
			ids[i] = st.Config.ID
		}
		return ids
	}

	It("picks up edits to the config file", func() {
		events := srv.SSE()
		DeferCleanup(events.Close)
		Expect(events.Connect(ctx, "/events")).To(Succeed())
		connected, err := events.WaitForEvent("message", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(connected.Data)).To(ContainSubstring("server.connected"))

		cfg := *srv.Config
		cfg.Providers = []types.ProviderConfig{
			testutil.OllamaProvider("second", 1, second),
			testutil.OllamaProvider("first", 2, first),
		}
		Expect(srv.WriteConfig(&cfg)).To(Succeed())

		Eventually(providerIDs).Should(Equal([]string{"second", "first"}))

		Eventually(func() event.EventType {
			evt, err := events.WaitForEvent("message", time.Second)
			if err != nil {
				return ""
			}
			var msg event.Event
			Expect(json.Unmarshal(evt.Data, &msg)).To(Succeed())
			return msg.Type
		}).Should(Equal(event.ConfigReloaded))

		out := streamChat(srv, testutil.Chat("hi", "main.go", ""))
		Expect(testutil.Text(out)).To(Equal("from second"))
	})

	It("keeps the previous providers when the new config is invalid", func() {
		cfg := *srv.Config
		cfg.Providers = []types.ProviderConfig{{ID: "broken", Kind: "nope"}}
		Expect(srv.WriteConfig(&cfg)).To(Succeed())

		Consistently(providerIDs, 300*time.Millisecond).Should(Equal([]string{"first"}))

		out := streamChat(srv, testutil.Chat("hi", "main.go", ""))
		Expect(testutil.Text(out)).To(Equal("from first"))
	})

	It("replaces providers over HTTP after validating the whole set", func() {
		client := srv.Client()

		resp, err := client.Put(ctx, "/providers", map[string]any{
			"providers": []types.ProviderConfig{
				testutil.OllamaProvider("second", 1, second),
				{ID: "raw-secret", Kind: types.KindOpenAI, Endpoint: "http://x", CredentialRef: "sk-live-abc"},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(400))
		Expect(resp.String()).NotTo(ContainSubstring("sk-live-abc"))
		Expect(providerIDs()).To(Equal([]string{"first"}))

		resp, err = client.Put(ctx, "/providers", map[string]any{
			"providers": []types.ProviderConfig{
				testutil.OllamaProvider("second", 1, second),
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(200))
		Expect(providerIDs()).To(Equal([]string{"second"}))
	})
})
