package training

import (
	"github.com/zombor/receipt-scanner/internal/classifier"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Seed corpus", func() {
	It("covers every default category evenly", func() {
		counts := make(map[string]int)
		for _, s := range DefaultSeed() {
			counts[s.Label]++
		}
		Expect(counts).To(HaveLen(len(classifier.DefaultLabels)))
		for _, l := range classifier.DefaultLabels {
			Expect(counts).To(HaveKeyWithValue(l, 5))
		}
	})

	It("rejects samples without text", func() {
		_, err := ParseSeed([]byte("samples:\n  - {category: Food, text: \"\"}\n"))
		Expect(err).To(MatchError(ContainSubstring("sample 0")))
	})

	It("reads back what it writes", func() {
		samples := []Sample{{Label: "Food", Text: "Phở bò"}, {Label: "Other", Text: "Tiền điện: 1.000đ"}}
		data, err := MarshalCorpus(samples)
		Expect(err).NotTo(HaveOccurred())
		back, err := ParseSeed(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(back).To(Equal(samples))
	})
})

var _ = Describe("Merge", func() {
	base := []Sample{
		{Label: "Entertainment", Text: "Karaoke bar pub club music"},
		{Label: "Food", Text: "Phở bò tái"},
	}

	It("lets a correction override a seed sample with the same text", func() {
		merged := Merge(base, []Sample{{Label: "Other", Text: "karaoke  bar pub club MUSIC "}})
		Expect(merged).To(HaveLen(2))
		Expect(merged[0].Label).To(Equal("Other"))
		Expect(merged[1]).To(Equal(base[1]))
	})

	It("lets the newest correction win", func() {
		merged := Merge(base, []Sample{
			{Label: "Travel", Text: "Grab bike"},
			{Label: "Food", Text: "Grab bike"},
		})
		Expect(merged).To(HaveLen(3))
		Expect(merged[2]).To(Equal(Sample{Label: "Food", Text: "Grab bike"}))
	})

	It("treats composed and decomposed text as the same sample", func() {
		merged := Merge(base, []Sample{{Label: "Other", Text: "Pho\u031b\u0309 bo\u0300 ta\u0301i"}})
		Expect(merged).To(HaveLen(2))
		Expect(merged[1].Label).To(Equal("Other"))
	})

	It("drops blank samples", func() {
		Expect(Merge(nil, []Sample{{Label: "Food", Text: "  "}})).To(BeEmpty())
	})
})

var _ = Describe("Hash", func() {
	It("is stable and label sensitive", func() {
		a := []Sample{{Label: "Food", Text: "pho"}}
		b := []Sample{{Label: "Other", Text: "pho"}}
		Expect(Hash(a)).To(Equal(Hash([]Sample{{Label: "Food", Text: "pho"}})))
		Expect(Hash(a)).NotTo(Equal(Hash(b)))
		Expect(Hash(a)).To(HaveLen(64))
	})
})
