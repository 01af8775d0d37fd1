package training

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zombor/receipt-scanner/internal/classifier"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Retrainer", func() {
	var (
		ctx       context.Context
		dir       string
		registry  *classifier.Registry
		retrainer *Retrainer
		clock     time.Time
		cfg       Config
	)

	corrections := func(n int) []Sample {
		out := make([]Sample, n)
		for i := range out {
			out[i] = Sample{Label: "Healthcare", Text: fmt.Sprintf("Nhà thuốc Long Châu vitamin C hộp %d", i)}
		}
		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		registry = classifier.NewRegistry(dir, classifier.DefaultCategories(), classifier.NewHashingEmbedder(256))
		clock = time.Date(2024, 10, 15, 12, 0, 0, 0, time.UTC)
		cfg = DefaultConfig
	})

	JustBeforeEach(func() {
		retrainer = NewRetrainer(registry, DefaultSeed(), cfg, func() time.Time { return clock })
	})

	Describe("TrainInitial", func() {
		It("trains, persists and installs a seed model", func() {
			res, err := retrainer.TrainInitial(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(StatusSuccess))
			Expect(res.Version).To(Equal("category_clf_v20241015_120000"))
			Expect(res.TrainSamples).To(Equal(32))
			Expect(res.TestSamples).To(Equal(8))
			Expect(res.TestAccuracy).To(And(BeNumerically(">=", 0), BeNumerically("<=", 1)))

			Expect(filepath.Join(res.Path, "model.json")).To(BeAnExistingFile())
			Expect(filepath.Join(res.Path, SnapshotFile)).To(BeAnExistingFile())

			current, err := registry.Current()
			Expect(err).NotTo(HaveOccurred())
			Expect(current.Info().Version).To(Equal(res.Version))
			Expect(current.Info().TestSampleCount).To(Equal(8))

			meta, err := ReadMetadata(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(meta).To(HaveLen(1))
			Expect(meta[0].Type).To(Equal(KindInitial))
			Expect(meta[0].CorrectionsUsed).To(BeZero())
		})

		It("creates a new version on every run", func() {
			first, err := retrainer.TrainInitial(ctx)
			Expect(err).NotTo(HaveOccurred())
			second, err := retrainer.TrainInitial(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(second.Version).To(Equal("category_clf_v20241015_120000_2"))
			Expect(second.Version).NotTo(Equal(first.Version))
			meta, err := ReadMetadata(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(meta).To(HaveLen(2))
			Expect(meta[1].CorpusHash).To(Equal(meta[0].CorpusHash))
			Expect(second.TestAccuracy).To(Equal(first.TestAccuracy))
		})
	})

	Describe("Retrain", func() {
		It("skips below the threshold without side effects", func() {
			res, err := retrainer.Retrain(ctx, corrections(49))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(StatusSkipped))
			Expect(res.Reason).To(Equal(ReasonInsufficientCorrections))
			Expect(res.CorrectionsCount).To(Equal(49))

			entries, err := os.ReadDir(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})

		It("retrains at the threshold", func() {
			res, err := retrainer.Retrain(ctx, corrections(50))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(StatusSuccess))
			Expect(res.Version).To(Equal("category_clf_v20241015_120000_retrained"))
			Expect(res.CorrectionsCount).To(Equal(50))
			Expect(res.TrainSamples + res.TestSamples).To(Equal(90))
			Expect(res.TestAccuracy).To(And(BeNumerically(">=", 0), BeNumerically("<=", 1)))
			Expect(res.Report.PerClass).To(HaveKey("Healthcare"))

			latest, err := classifier.LatestVersion(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(latest).To(Equal(res.Path))

			meta, err := ReadMetadata(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(meta).To(HaveLen(1))
			Expect(meta[0].Type).To(Equal(KindRetrained))
			Expect(meta[0].CorrectionsUsed).To(Equal(50))
		})

		It("creates distinct versions when runs share a timestamp", func() {
			first, err := retrainer.Retrain(ctx, corrections(50))
			Expect(err).NotTo(HaveOccurred())
			second, err := retrainer.Retrain(ctx, corrections(50))
			Expect(err).NotTo(HaveOccurred())
			third, err := retrainer.Retrain(ctx, corrections(50))
			Expect(err).NotTo(HaveOccurred())

			Expect(first.Version).To(Equal("category_clf_v20241015_120000_retrained"))
			Expect(second.Version).To(Equal("category_clf_v20241015_120000_2_retrained"))
			Expect(third.Version).To(Equal("category_clf_v20241015_120000_3_retrained"))

			latest, err := classifier.LatestVersion(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(latest).To(Equal(third.Path))

			meta, err := ReadMetadata(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(meta).To(HaveLen(3))
		})

		When("a correction relabels a seed sample", func() {
			BeforeEach(func() {
				cfg.Threshold = 1
			})

			It("trains on the corrected label", func() {
				res, err := retrainer.Retrain(ctx, []Sample{{Label: "Other", Text: "Karaoke bar pub club music"}})
				Expect(err).NotTo(HaveOccurred())

				snapshot, err := LoadSeed(filepath.Join(res.Path, SnapshotFile))
				Expect(err).NotTo(HaveOccurred())
				Expect(snapshot).To(HaveLen(40))
				Expect(snapshot).To(ContainElement(Sample{Label: "Other", Text: "Karaoke bar pub club music"}))
				Expect(snapshot).NotTo(ContainElement(Sample{Label: "Entertainment", Text: "Karaoke bar pub club music"}))
			})
		})

		When("training fails", func() {
			It("leaves nothing behind", func() {
				bad := make([]Sample, 50)
				for i := range bad {
					bad[i] = Sample{Label: "Groceries", Text: fmt.Sprintf("rau muống bó %d", i)}
				}
				_, err := retrainer.Retrain(ctx, bad)
				Expect(err).To(MatchError(classifier.ErrUnknownLabel))

				entries, err := os.ReadDir(dir)
				Expect(err).NotTo(HaveOccurred())
				Expect(entries).To(BeEmpty())
				_, err = registry.Current()
				Expect(err).To(MatchError(classifier.ErrNotReady))
			})
		})

		When("another run holds the retrainer", func() {
			It("refuses to start", func() {
				retrainer.mu.Lock()
				defer retrainer.mu.Unlock()

				_, err := retrainer.Retrain(ctx, corrections(50))
				Expect(err).To(MatchError(ErrRetrainInProgress))
				_, err = retrainer.TrainInitial(ctx)
				Expect(err).To(MatchError(ErrRetrainInProgress))
			})
		})
	})
})

var _ = Describe("Metadata log", func() {
	It("is empty when missing", func() {
		meta, err := ReadMetadata(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		Expect(meta).To(BeEmpty())
	})

	It("appends entries in order", func() {
		dir := GinkgoT().TempDir()
		Expect(AppendMetadata(dir, Metadata{Version: "a"})).To(Succeed())
		Expect(AppendMetadata(dir, Metadata{Version: "b"})).To(Succeed())
		meta, err := ReadMetadata(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(meta).To(HaveLen(2))
		Expect(meta[0].Version).To(Equal("a"))
		Expect(meta[1].Version).To(Equal("b"))
	})
})
