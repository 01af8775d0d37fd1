package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-scanner/internal/scanning"
	"github.com/zombor/receipt-scanner/internal/training"
)

var _ = Describe("JobQueue", func() {
	var (
		db      *mockDB
		storage *mockStorage
		ocr     *mockOCR
		trainer *mockTrainer
		service *Service
		queue   *JobQueue
		cancel  context.CancelFunc
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		ocr = newMockOCR()
		trainer = &mockTrainer{}
		service = NewServiceWithDeps(db, ocr, storage, Pipeline{Classifier: newMockClassifier(), Trainer: trainer},
			&mockIDGenerator{id: "job"}, &mockTimeSource{now: time.Date(2024, 10, 16, 10, 0, 0, 0, time.UTC)})
	})

	AfterEach(func() {
		if queue != nil {
			queue.Stop()
		}
		if cancel != nil {
			cancel()
		}
	})

	start := func(workers, capacity int) {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		queue = NewJobQueue(db, service, workers, capacity)
		queue.Start(ctx)
	}

	status := func(id string) func() JobStatus {
		return func() JobStatus {
			job, err := queue.GetJob(id)
			if err != nil {
				return ""
			}
			return job.Status
		}
	}

	When("a receipt job succeeds", func() {
		It("should complete with the receipt as its result", func() {
			start(1, 4)
			job, err := queue.SubmitReceipt("receipt.jpg", []byte("img"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Type).To(Equal(JobProcessReceipt))
			Expect(job.Status).To(Equal(JobPending))
			Expect(job.Metadata).To(HaveKeyWithValue("filename", "receipt.jpg"))
			Expect(job.Metadata).To(HaveKeyWithValue("size", "3"))

			Eventually(status(job.ID)).Should(Equal(JobCompleted))

			done, err := queue.GetJob(job.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(done.CompletedAt).NotTo(BeNil())
			var receipt Receipt
			Expect(json.Unmarshal(done.Result, &receipt)).To(Succeed())
			Expect(receipt.Category).To(Equal("Food"))
		})
	})

	When("a receipt job fails", func() {
		It("should record the error", func() {
			ocr.err = scanning.ErrUnsupportedFormat
			start(1, 4)
			job, err := queue.SubmitReceipt("receipt.tiff", []byte("img"), "image/tiff")
			Expect(err).NotTo(HaveOccurred())

			Eventually(status(job.ID)).Should(Equal(JobFailed))
			failed, _ := queue.GetJob(job.ID)
			Expect(failed.Error).To(ContainSubstring("unsupported"))
			Expect(failed.Result).To(BeEmpty())
		})
	})

	When("a retrain job runs", func() {
		It("should store the training result", func() {
			trainer.result = &training.Result{Status: training.StatusSuccess, Version: "category_clf_v20241016_100000_retrained"}
			start(2, 4)
			job, err := queue.SubmitRetrain()
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Type).To(Equal(JobRetrainModel))

			Eventually(status(job.ID)).Should(Equal(JobCompleted))
			done, _ := queue.GetJob(job.ID)
			Expect(string(done.Result)).To(ContainSubstring("category_clf_v20241016_100000_retrained"))
		})
	})

	When("the queue is full", func() {
		It("should reject the job and mark it failed", func() {
			// Not started, so nothing drains the single slot.
			queue = NewJobQueue(db, service, 1, 1)
			_, err := queue.SubmitRetrain()
			Expect(err).NotTo(HaveOccurred())

			_, err = queue.SubmitRetrain()
			Expect(errors.Is(err, ErrQueueFull)).To(BeTrue())

			jobs, err := queue.ListJobs()
			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(HaveLen(2))
			var failed int
			for _, j := range jobs {
				if j.Status == JobFailed {
					failed++
					Expect(j.Error).To(Equal(ErrQueueFull.Error()))
				}
			}
			Expect(failed).To(Equal(1))
		})
	})

	When("the queue is stopped", func() {
		It("should drain pending work and then reject new jobs", func() {
			start(1, 4)
			job, err := queue.SubmitRetrain()
			Expect(err).NotTo(HaveOccurred())
			queue.Stop()

			done, err := queue.GetJob(job.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(done.Status).To(Equal(JobCompleted))

			_, err = queue.SubmitRetrain()
			Expect(errors.Is(err, ErrQueueFull)).To(BeTrue())
		})
	})
})
