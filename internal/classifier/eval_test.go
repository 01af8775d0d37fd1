package classifier

import (
	"bytes"
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Evaluate", func() {
	var (
		ctx context.Context
		clf *Classifier
	)

	BeforeEach(func() {
		ctx = context.Background()
		clf = New(DefaultCategories(), newStubEmbedder())
		texts, labels := twoClassCorpus()
		_, err := clf.Fit(ctx, texts, labels)
		Expect(err).NotTo(HaveOccurred())
	})

	It("scores perfectly on the training corpus", func() {
		texts, labels := twoClassCorpus()
		r, err := Evaluate(ctx, clf, texts, labels)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Samples).To(Equal(6))
		Expect(r.Accuracy).To(Equal(1.0))
		Expect(r.FallbackRate).To(Equal(0.0))
		Expect(r.PerClass["Food"].F1).To(Equal(1.0))
		Expect(r.PerClass["Food"].Support).To(Equal(3))
		Expect(r.Confusion["Electronics"]["Electronics"]).To(Equal(3))
	})

	It("counts misclassifications and fallbacks", func() {
		r, err := Evaluate(ctx, clf,
			[]string{"pho bo", "laptop", "half-half"},
			[]string{"Food", "Food", "Food"})
		Expect(err).NotTo(HaveOccurred())
		Expect(r.Confusion["Food"]["Electronics"]).To(BeNumerically(">=", 1))
		Expect(r.Accuracy).To(BeNumerically("<", 1.0))
		Expect(r.FallbackRate).To(BeNumerically("~", 1.0/3, 1e-9))
		Expect(r.PerClass["Food"].Recall).To(BeNumerically("<", 1.0))
	})

	It("rejects labels outside the vocabulary", func() {
		_, err := Evaluate(ctx, clf, []string{"pho bo"}, []string{"Groceries"})
		Expect(err).To(MatchError(ErrUnknownLabel))
	})

	It("rejects an empty set", func() {
		_, err := Evaluate(ctx, clf, nil, nil)
		Expect(err).To(MatchError(ErrInsufficientData))
	})

	It("renders a table", func() {
		texts, labels := twoClassCorpus()
		r, err := Evaluate(ctx, clf, texts, labels)
		Expect(err).NotTo(HaveOccurred())

		var buf bytes.Buffer
		Expect(r.WriteText(&buf)).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("accuracy"))
		Expect(buf.String()).To(ContainSubstring("Electronics"))
	})
})
