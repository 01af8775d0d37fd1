package classifier

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("StratifiedSplit", func() {
	var texts, labels []string

	BeforeEach(func() {
		texts, labels = nil, nil
		for i := 0; i < 10; i++ {
			texts = append(texts, fmt.Sprintf("food %d", i))
			labels = append(labels, "Food")
			texts = append(texts, fmt.Sprintf("travel %d", i))
			labels = append(labels, "Travel")
		}
	})

	count := func(ls []string, want string) int {
		n := 0
		for _, l := range ls {
			if l == want {
				n++
			}
		}
		return n
	}

	It("keeps each label's share in the test half", func() {
		s, err := StratifiedSplit(texts, labels, 0.2, 42)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.TestTexts).To(HaveLen(4))
		Expect(s.TrainTexts).To(HaveLen(16))
		Expect(count(s.TestLabels, "Food")).To(Equal(2))
		Expect(count(s.TestLabels, "Travel")).To(Equal(2))
	})

	It("partitions without losing or repeating samples", func() {
		s, err := StratifiedSplit(texts, labels, 0.2, 42)
		Expect(err).NotTo(HaveOccurred())
		Expect(append(append([]string{}, s.TrainTexts...), s.TestTexts...)).To(ConsistOf(texts))
	})

	It("is deterministic for a seed", func() {
		a, err := StratifiedSplit(texts, labels, 0.2, 42)
		Expect(err).NotTo(HaveOccurred())
		b, err := StratifiedSplit(texts, labels, 0.2, 42)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal(a))
	})

	It("puts at least one sample of each label on both sides", func() {
		s, err := StratifiedSplit(
			[]string{"a", "b", "c", "d"},
			[]string{"Food", "Food", "Travel", "Travel"},
			0.1, 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.TestLabels).To(ConsistOf("Food", "Travel"))
		Expect(s.TrainLabels).To(ConsistOf("Food", "Travel"))
	})

	It("rejects a label with a single sample", func() {
		_, err := StratifiedSplit(append(texts, "lonely"), append(labels, "Clothing"), 0.2, 42)
		Expect(err).To(MatchError(ErrInsufficientData))
		Expect(err).To(MatchError(ContainSubstring("Clothing")))
	})

	It("rejects a single label", func() {
		_, err := StratifiedSplit([]string{"a", "b"}, []string{"Food", "Food"}, 0.5, 1)
		Expect(err).To(MatchError(ErrInsufficientData))
	})

	DescribeTable("rejects fractions outside (0,1)",
		func(f float64) {
			_, err := StratifiedSplit(texts, labels, f, 42)
			Expect(err).To(MatchError(ContainSubstring("test fraction")))
		},
		Entry("zero", 0.0),
		Entry("one", 1.0),
		Entry("negative", -0.2),
	)
})
