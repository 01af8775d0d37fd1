package scanning

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		ollama *Ollama
		image  []byte
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		ollama, err = NewOllama(server.URL(), "qwen2.5vl")
		Expect(err).NotTo(HaveOccurred())
		image = encodePNG(testImage(8, 8))
	})

	AfterEach(func() {
		server.Close()
	})

	When("the model answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					body, err := io.ReadAll(r.Body)
					Expect(err).NotTo(HaveOccurred())
					var req ollamaChatRequest
					Expect(json.Unmarshal(body, &req)).To(Succeed())
					Expect(req.Model).To(Equal("qwen2.5vl"))
					Expect(req.Format).To(Equal("json"))
					Expect(req.Messages).To(HaveLen(2))
					Expect(req.Messages[1].Images).To(HaveLen(1))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"message": map[string]string{
						"role":    "assistant",
						"content": `{"text": "CIRCLE K\nTổng: 35.000", "confidence": 0.85}`,
					},
					"done": true,
				}),
			))
		})

		It("returns the transcription", func() {
			res, err := ollama.ExtractText(context.Background(), image, "image/png")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Text).To(Equal("CIRCLE K\nTổng: 35.000"))
			Expect(res.Confidence).To(Equal(0.85))
		})
	})

	When("the API fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns the status and body", func() {
			_, err := ollama.ExtractText(context.Background(), image, "image/png")
			Expect(err).To(MatchError(ContainSubstring("status 500")))
			Expect(err).To(MatchError(ContainSubstring("model not loaded")))
		})
	})

	When("the upload is not an image", func() {
		It("fails before calling the API", func() {
			_, err := ollama.ExtractText(context.Background(), []byte("garbage"), "image/jpeg")
			Expect(err).To(MatchError(ErrUnsupportedFormat))
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})
})
