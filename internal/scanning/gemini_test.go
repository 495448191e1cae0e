package scanning

import (
	"context"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"google.golang.org/api/option"
)

// deadlineTransport remembers the deadline of the last request it sent
type deadlineTransport struct {
	deadline time.Time
}

func (t *deadlineTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.deadline, _ = req.Context().Deadline()
	return http.DefaultTransport.RoundTrip(req)
}

var _ = Describe("Gemini", func() {
	var (
		server    *ghttp.Server
		transport *deadlineTransport
		scanner   *Gemini
		ctx       context.Context
		cancel    context.CancelFunc
		text      string
		err       error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		transport = &deadlineTransport{}
		var newErr error
		scanner, newErr = newGemini("",
			option.WithEndpoint(server.URL()),
			option.WithHTTPClient(&http.Client{Transport: transport}),
		)
		Expect(newErr).NotTo(HaveOccurred())
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	})

	AfterEach(func() {
		cancel()
		scanner.Close()
		server.Close()
	})

	JustBeforeEach(func() {
		text, err = scanner.ScanText(ctx, encodeTestPNG(), "image/png")
	})

	When("the model answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/v1beta/models/"+DefaultGeminiModel+":generateContent"),
				ghttp.RespondWith(http.StatusOK,
					`{"candidates":[{"content":{"role":"model","parts":[{"text":"`+"```"+`\nMilk 2.49  \nBread 3.00\n`+"```"+`"}]}}]}`,
					http.Header{"Content-Type": []string{"application/json"}},
				),
			))
		})

		It("should return the cleaned transcript", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("Milk 2.49\nBread 3.00"))
		})

		It("should keep the caller's deadline", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(transport.deadline).NotTo(BeZero())
			Expect(time.Until(transport.deadline)).To(BeNumerically(">", 4*time.Minute))
		})
	})

	When("the model returns no candidates", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"candidates":[]}`,
				http.Header{"Content-Type": []string{"application/json"}},
			))
		})

		It("should return an error", func() {
			Expect(err).To(MatchError(ContainSubstring("no response from gemini")))
		})
	})
})

var _ = Describe("NewGemini", func() {
	It("should require an api key", func() {
		_, err := NewGemini("", "")
		Expect(err).To(MatchError("gemini api key is required"))
	})
})
