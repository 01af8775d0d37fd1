package receipt_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-scanner/internal/classifier"
	"github.com/zombor/receipt-scanner/internal/receipt"
	"github.com/zombor/receipt-scanner/internal/scanning"
	"github.com/zombor/receipt-scanner/internal/training"
)

// fixedOCR returns the same recognition result for every image.
type fixedOCR struct {
	text string
}

func (f *fixedOCR) ExtractText(ctx context.Context, imageData []byte, contentType string) (*scanning.OCRResult, error) {
	return &scanning.OCRResult{Text: f.text, Confidence: 0.9}, nil
}

func (f *fixedOCR) Close() error {
	return nil
}

var _ = Describe("Integration", func() {
	var (
		tempDir   string
		db        *receipt.BoltDB
		store     *receipt.LocalStorage
		registry  *classifier.Registry
		retrainer *training.Retrainer
		service   *receipt.Service
		jobs      *receipt.JobQueue
		ghServer  *ghttp.Server
		clock     time.Time
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		var err error
		tempDir = GinkgoT().TempDir()
		clock = time.Date(2024, 10, 15, 12, 0, 0, 0, time.UTC)

		db, err = receipt.NewBoltDB(filepath.Join(tempDir, "receipts.db"))
		Expect(err).NotTo(HaveOccurred())
		store, err = receipt.NewLocalStorage(filepath.Join(tempDir, "uploads"))
		Expect(err).NotTo(HaveOccurred())

		registry = classifier.NewRegistry(filepath.Join(tempDir, "models"), classifier.DefaultCategories(), classifier.NewHashingEmbedder(512))
		cfg := training.DefaultConfig
		cfg.Threshold = 2
		retrainer = training.NewRetrainer(registry, training.DefaultSeed(), cfg, func() time.Time { return clock })
		_, err = retrainer.TrainInitial(context.Background())
		Expect(err).NotTo(HaveOccurred())

		ocr := &fixedOCR{text: "NHÀ THUỐC LONG CHÂU\nNgày: 15/10/2024\nVitamin C 2 x 45.000\nTổng: 90000 đ"}
		service = receipt.NewService(db, ocr, store, receipt.Pipeline{Classifier: registry, Trainer: retrainer})

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		jobs = receipt.NewJobQueue(db, service, 2, 16)
		jobs.Start(ctx)

		server := receipt.NewServer(service, jobs, receipt.BasicAuth{})
		ghServer = ghttp.NewServer()
		all := regexp.MustCompile(".*")
		for _, method := range []string{"GET", "POST", "PUT", "DELETE"} {
			ghServer.RouteToHandler(method, all, server.Handler().ServeHTTP)
		}
	})

	AfterEach(func() {
		ghServer.Close()
		jobs.Stop()
		cancel()
		db.Close()
	})

	call := func(method, path, body string, v any) int {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req, err := http.NewRequest(method, ghServer.URL()+path, reader)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		if v != nil {
			Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
		}
		return resp.StatusCode
	}

	It("processes, corrects and retrains end to end", func() {
		var first receipt.Receipt
		Expect(call("POST", "/api/receipts/text",
			`{"text":"QUÁN NHẬU BA CHÚ HEO\nNgày 14/10/2024\nBia Tiger 6 x 25.000\nTổng: 150000 VND"}`, &first)).
			To(Equal(http.StatusCreated))
		Expect(first.MerchantName).To(Equal("QUÁN NHẬU BA CHÚ HEO"))
		Expect(first.ReceiptDate).To(Equal("2024-10-14"))
		Expect(first.TotalAmount).To(Equal(150000.0))
		Expect(classifier.DefaultLabels).To(ContainElement(first.Category))
		Expect(first.ModelVersion).To(Equal("category_clf_v20241015_120000"))

		var second receipt.Receipt
		Expect(call("POST", "/api/receipts/text",
			`{"text":"KARAOKE NICE\nPhòng VIP 2 giờ\nTổng: 400000 VND"}`, &second)).
			To(Equal(http.StatusCreated))

		By("recording a correction for each receipt")
		for _, id := range []string{first.ID, second.ID} {
			var updated receipt.Receipt
			category := "Entertainment"
			if id == first.ID && first.Category == "Entertainment" {
				category = "Food"
			}
			if id == second.ID && second.Category == "Entertainment" {
				category = "Travel"
			}
			Expect(call("PUT", "/api/receipts/"+id, `{"category":"`+category+`"}`, &updated)).To(Equal(http.StatusOK))
			Expect(updated.Corrected).To(BeTrue())
		}

		var corrections []receipt.Correction
		Expect(call("GET", "/api/corrections", "", &corrections)).To(Equal(http.StatusOK))
		Expect(corrections).To(HaveLen(2))

		By("retraining once the threshold is met")
		clock = clock.Add(time.Hour)
		var result training.Result
		Expect(call("POST", "/api/admin/retrain", "", &result)).To(Equal(http.StatusOK))
		Expect(result.Status).To(Equal(training.StatusSuccess))
		Expect(result.CorrectionsCount).To(Equal(2))
		Expect(result.Version).To(Equal("category_clf_v20241015_130000_retrained"))

		var health map[string]any
		Expect(call("GET", "/health", "", &health)).To(Equal(http.StatusOK))
		Expect(health).To(HaveKeyWithValue("model_version", "category_clf_v20241015_130000_retrained"))

		var models struct {
			Models []classifier.ModelInfo `json:"models"`
		}
		Expect(call("GET", "/api/admin/models", "", &models)).To(Equal(http.StatusOK))
		Expect(models.Models).To(HaveLen(2))

		var stats receipt.Stats
		Expect(call("GET", "/api/stats", "", &stats)).To(Equal(http.StatusOK))
		Expect(stats.TotalReceipts).To(Equal(2))
		Expect(stats.CorrectedReceipts).To(Equal(2))
		Expect(stats.Corrections).To(Equal(2))
		Expect(stats.TotalAmount).To(Equal(550000.0))
	})

	It("processes uploads asynchronously", func() {
		job, err := jobs.SubmitReceipt("long-chau.jpg", []byte("image bytes"), "image/jpeg")
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() receipt.JobStatus {
			j, err := jobs.GetJob(job.ID)
			if err != nil {
				return ""
			}
			return j.Status
		}).Should(Equal(receipt.JobCompleted))

		done, err := jobs.GetJob(job.ID)
		Expect(err).NotTo(HaveOccurred())
		var processed receipt.Receipt
		Expect(json.Unmarshal(done.Result, &processed)).To(Succeed())
		Expect(processed.MerchantName).To(Equal("NHÀ THUỐC LONG CHÂU"))
		Expect(processed.TotalAmount).To(Equal(90000.0))

		var fetched receipt.Receipt
		Expect(call("GET", "/api/receipts/"+processed.ID, "", &fetched)).To(Equal(http.StatusOK))
		Expect(fetched.ImageReference).To(HaveSuffix("long-chau.jpg"))

		req, err := http.NewRequest("GET", ghServer.URL()+"/api/receipts/"+processed.ID+"/file", nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal("image bytes"))
	})

	It("reloads the latest model from disk", func() {
		fresh := classifier.NewRegistry(registry.Dir(), classifier.DefaultCategories(), classifier.NewHashingEmbedder(512))
		version, err := fresh.LoadLatest()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(registry.Version()))
	})
})
