package e2e_test

import (
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/assistcore/citest/testutil"
	"github.com/opencode-ai/assistcore/internal/server"
	"github.com/opencode-ai/assistcore/internal/snapshot"
	"github.com/opencode-ai/assistcore/pkg/types"
)

var _ = Describe("Streaming", func() {
	Context("through an OpenAI-compatible backend", func() {
		var (
			backend *testutil.MockLLM
			srv     *testutil.TestServer
		)

		BeforeEach(func() {
			backend = startMock(nil)
			srv = startServer([]types.ProviderConfig{
				testutil.OpenAIProvider("openai", 1, backend),
			})
		})

		It("delivers chunks in order with one final chunk", func() {
			events := streamChat(srv, testutil.Chat("hello there", "main.go", "package main\n"))

			Expect(testutil.Last(events).Type).To(Equal("done"))
			expectOrdered(events)
			Expect(testutil.Text(events)).To(Equal("Hello, World!"))

			for _, c := range testutil.Chunks(events) {
				Expect(c.ProviderID).To(Equal("openai"))
			}
		})

		It("sends the editor context and prompt to the backend", func() {
			streamChat(srv, testutil.Chat("explain this", "calc.go", "func Add(a, b int) int { return a + b }"))

			reqs := backend.Requests()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0].Prompt).To(Equal("explain this"))
			Expect(reqs[0].Body).To(ContainSubstring("calc.go"))
			Expect(reqs[0].Body).To(ContainSubstring("func Add(a, b int) int"))
		})

		It("reports the finished request as completed", func() {
			client := srv.Client()
			st, err := client.Submit(ctx, testutil.Chat("2+2", "main.go", ""))
			Expect(err).NotTo(HaveOccurred())
			Expect(st.ID).NotTo(BeEmpty())

			sse := srv.SSE()
			DeferCleanup(sse.Close)
			Expect(sse.Connect(ctx, "/requests/"+st.ID+"/events")).To(Succeed())
			events, err := sse.Collect(5 * time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(testutil.Text(events)).To(Equal("4"))

			Eventually(func() types.RequestState {
				st, err := client.GetRequest(ctx, st.ID)
				Expect(err).NotTo(HaveOccurred())
				return st.State
			}).Should(Equal(types.StateCompleted))

			final, err := client.GetRequest(ctx, st.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(final.ProviderID).To(Equal("openai"))
			Expect(final.FinishedAt).NotTo(BeNil())
		})

		It("refuses a second subscriber", func() {
			client := srv.Client()
			st, err := client.Submit(ctx, testutil.Chat("hello", "main.go", ""))
			Expect(err).NotTo(HaveOccurred())

			first := srv.SSE()
			DeferCleanup(first.Close)
			Expect(first.Connect(ctx, "/requests/"+st.ID+"/events")).To(Succeed())

			resp, err := client.Get(ctx, "/requests/"+st.ID+"/events")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))

			_, err = first.Collect(5 * time.Second)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Context("through an Ollama-compatible backend", func() {
		It("streams NDJSON into the same chunk sequence", func() {
			backend := startMock(&testutil.Scenario{
				Defaults: testutil.ScenarioDefaults{Fallback: "local models stream too"},
			})
			srv := startServer([]types.ProviderConfig{
				testutil.OllamaProvider("local", 1, backend),
			})

			events := streamChat(srv, testutil.Chat("anything", "main.go", ""))
			Expect(testutil.Last(events).Type).To(Equal("done"))
			expectOrdered(events)
			Expect(testutil.Text(events)).To(Equal("local models stream too"))
			Expect(backend.Requests()[0].Path).To(Equal("/api/chat"))
		})
	})

	Context("editor snapshots", func() {
		var (
			backend *testutil.MockLLM
			srv     *testutil.TestServer
		)

		BeforeEach(func() {
			backend = startMock(nil)
			srv = startServer([]types.ProviderConfig{
				testutil.OllamaProvider("local", 1, backend),
			})
		})

		It("reads the active file from the workspace", func() {
			Expect(srv.WriteFile("pkg/util.go", "package pkg\n\nfunc Answer() int { return 42 }\n")).To(Succeed())

			streamChat(srv, server.SubmitRequest{
				Intent: types.Intent{Kind: types.IntentChat, Prompt: "what does Answer return"},
				Editor: server.EditorState{ActiveFile: "pkg/util.go"},
			})

			Expect(backend.Requests()).To(HaveLen(1))
			Expect(backend.Requests()[0].Body).To(ContainSubstring("func Answer() int { return 42 }"))
		})

		It("withholds files matching an exclude pattern", func() {
			Expect(srv.WriteFile("secrets/prod.key", "TOP-SECRET-VALUE")).To(Succeed())

			streamChat(srv, server.SubmitRequest{
				Intent: types.Intent{Kind: types.IntentChat, Prompt: "explain"},
				Editor: server.EditorState{ActiveFile: "secrets/prod.key"},
			})

			body := backend.Requests()[0].Body
			Expect(body).NotTo(ContainSubstring("TOP-SECRET-VALUE"))
			Expect(body).To(ContainSubstring(snapshot.WithheldMarker))
		})

		It("truncates oversized files to the byte budget", func() {
			big := strings.Repeat("x", 4000) + "MIDDLE" + strings.Repeat("y", 4000)
			Expect(srv.WriteFile("big.txt", big)).To(Succeed())

			streamChat(srv, server.SubmitRequest{
				Intent:   types.Intent{Kind: types.IntentChat, Prompt: "explain"},
				Editor:   server.EditorState{ActiveFile: "big.txt"},
				Snapshot: &types.SnapshotConfig{MaxBytes: 1024},
			})

			body := backend.Requests()[0].Body
			Expect(body).NotTo(ContainSubstring("MIDDLE"))
			Expect(body).To(ContainSubstring("xxxx"))
			Expect(body).To(ContainSubstring("yyyy"))
		})

		It("rejects a completion without an active document", func() {
			resp, err := srv.Client().Post(ctx, "/requests", server.SubmitRequest{
				Intent:   types.Intent{Kind: types.IntentCompletion},
				Snapshot: &types.SnapshotConfig{RequireActiveDocument: true},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

			var body server.ErrorResponse
			Expect(resp.JSON(&body)).To(Succeed())
			Expect(body.Error.Code).To(Equal(server.ErrCodeNoActiveDocument))
			Expect(backend.RequestCount()).To(BeZero())
		})
	})
})
