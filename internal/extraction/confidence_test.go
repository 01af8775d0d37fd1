package extraction

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Scorer", func() {
	var (
		scorer *Scorer
		full   Entities
	)

	BeforeEach(func() {
		scorer = NewScorer(DefaultWeights)
		full = Entities{
			MerchantName: "SIÊU THỊ ABC",
			ReceiptDate:  "2024-10-15",
			DateFound:    true,
			TotalAmount:  352000,
			Phone:        "0901234567",
			Items:        []string{"Thịt bò"},
		}
	})

	It("scores a complete record at 1", func() {
		Expect(scorer.Score(full)).To(BeNumerically("~", 1.0, 1e-9))
	})

	It("weights the amount most heavily", func() {
		withoutAmount := full
		withoutAmount.TotalAmount = 0
		withoutMerchant := full
		withoutMerchant.MerchantName = UnknownMerchant
		Expect(scorer.Score(withoutAmount)).To(BeNumerically("<", scorer.Score(withoutMerchant)))
		Expect(scorer.Score(withoutAmount)).To(BeNumerically("~", 0.6, 1e-9))
	})

	It("ignores the fallback date", func() {
		e := full
		e.DateFound = false
		Expect(scorer.Score(e)).To(BeNumerically("~", 0.8, 1e-9))
	})

	It("ignores very short merchant names", func() {
		e := Entities{MerchantName: "ABC"}
		Expect(scorer.Score(e)).To(BeZero())
	})

	Describe("ParseWeights", func() {
		It("overrides only the named fields", func() {
			w, err := ParseWeights("amount=50, phone=0")
			Expect(err).NotTo(HaveOccurred())
			Expect(w).To(Equal(Weights{Amount: 50, Merchant: 25, Date: 20, Phone: 0, Items: 5}))
		})

		It("returns the defaults for an empty string", func() {
			w, err := ParseWeights("")
			Expect(err).NotTo(HaveOccurred())
			Expect(w).To(Equal(DefaultWeights))
		})

		It("changes the score of a record", func() {
			w, err := ParseWeights("amount=0,merchant=0,date=0,phone=1,items=0")
			Expect(err).NotTo(HaveOccurred())
			Expect(NewScorer(w).Score(Entities{Phone: "0901234567"})).To(Equal(1.0))
		})

		DescribeTable("rejects invalid input",
			func(in string) {
				_, err := ParseWeights(in)
				Expect(err).To(HaveOccurred())
			},
			Entry("missing value", "amount"),
			Entry("not a number", "amount=lots"),
			Entry("negative", "date=-1"),
			Entry("unknown field", "tax=10"),
			Entry("all zero", "amount=0,merchant=0,date=0,phone=0,items=0"),
		)
	})

	DescribeTable("adding a field never lowers the score",
		func(add func(*Entities)) {
			base := Entities{MerchantName: UnknownMerchant}
			before := scorer.Score(base)
			add(&base)
			Expect(scorer.Score(base)).To(BeNumerically(">=", before))
		},
		Entry("amount", func(e *Entities) { e.TotalAmount = 1000 }),
		Entry("merchant", func(e *Entities) { e.MerchantName = "COOPMART" }),
		Entry("date", func(e *Entities) { e.DateFound = true }),
		Entry("phone", func(e *Entities) { e.Phone = "0901234567" }),
		Entry("items", func(e *Entities) { e.Items = []string{"Banh Mi"} }),
	)

	It("stays within [0,1] for custom weights", func() {
		s := NewScorer(Weights{Amount: 500, Merchant: -3})
		Expect(s.Score(full)).To(BeNumerically("~", 1.0, 1e-9))
		Expect(s.Score(Entities{})).To(BeZero())
	})

	It("returns zero when every weight is zero", func() {
		Expect(NewScorer(Weights{}).Score(full)).To(BeZero())
	})
})
