package extraction

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Extractor", func() {
	var (
		extractor *Extractor
		text      string
		entities  Entities
		now       time.Time
	)

	BeforeEach(func() {
		now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
		extractor = NewExtractor(nil, func() time.Time { return now })
	})

	JustBeforeEach(func() {
		entities = extractor.Extract(text)
	})

	When("given a Vietnamese supermarket receipt", func() {
		BeforeEach(func() {
			text = "SIÊU THỊ ABC\nDate: 15/10/2024\nThịt bò 2 x 150000\nTotal: 352000 VND"
		})

		It("finds the merchant from the header line", func() {
			Expect(entities.MerchantName).To(Equal("SIÊU THỊ ABC"))
		})

		It("normalizes the date", func() {
			Expect(entities.ReceiptDate).To(Equal("2024-10-15"))
			Expect(entities.DateFound).To(BeTrue())
		})

		It("extracts the total", func() {
			Expect(entities.TotalAmount).To(Equal(352000.0))
		})

		It("extracts the line item name", func() {
			Expect(entities.Items).To(ContainElement("Thịt bò"))
		})

		It("does not invent a phone or address", func() {
			Expect(entities.Phone).To(BeEmpty())
			Expect(entities.Address).To(BeEmpty())
		})
	})

	When("the text has a subtotal and a larger total", func() {
		BeforeEach(func() {
			text = "Subtotal: 320000\nVAT: 32000\nTotal: 352000 VND"
		})

		It("takes the maximum amount", func() {
			Expect(entities.TotalAmount).To(Equal(352000.0))
		})

		It("extracts the tax", func() {
			Expect(entities.Tax).To(Equal(32000.0))
		})
	})

	When("a stray large number carries a currency suffix", func() {
		BeforeEach(func() {
			text = "Total: 50.000.000\nDeposit 90.000.000 VND"
		})

		It("still selects the maximum", func() {
			Expect(entities.TotalAmount).To(Equal(90000000.0))
		})
	})

	When("a labeled store name is present", func() {
		BeforeEach(func() {
			text = "Hóa đơn bán lẻ\nCửa hàng: Điện Máy Xanh Quận 1!\nTel: 028 3838 1234"
		})

		It("uses the labeled name with punctuation removed", func() {
			Expect(entities.MerchantName).To(Equal("Điện Máy Xanh Quận 1"))
		})

		It("extracts the labeled phone", func() {
			Expect(entities.Phone).To(Equal("02838381234"))
		})
	})

	When("a store keyword is only the start of a longer word", func() {
		BeforeEach(func() {
			text = "Shopee Food Delivery order\nTotal: 45000 VND"
		})

		It("does not cut the name at the keyword", func() {
			Expect(entities.MerchantName).To(Equal("Shopee Food Delivery order"))
		})
	})

	When("a line ends with a number", func() {
		BeforeEach(func() {
			text = "COOPMART\nNgày 2024\nThịt bò 2 x 150000\nTel 0901234567\n88\nNguyen Van Cu Street"
		})

		It("does not join the next line into an address", func() {
			Expect(entities.Address).To(BeEmpty())
		})

		It("keeps items on their own line", func() {
			Expect(entities.Items).To(Equal([]string{"Thịt bò"}))
		})
	})

	When("the header line carries boilerplate keywords", func() {
		BeforeEach(func() {
			text = "WELCOME TO COOPMART\nthanks"
		})

		It("strips them from the merchant", func() {
			Expect(entities.MerchantName).To(Equal("TO COOPMART"))
		})
	})

	When("a phone number is too short", func() {
		BeforeEach(func() {
			text = "Tel: 12345"
		})

		It("is rejected", func() {
			Expect(entities.Phone).To(BeEmpty())
		})
	})

	When("a domestic mobile number appears", func() {
		BeforeEach(func() {
			text = "Hotline 0901234567"
		})

		It("is extracted", func() {
			Expect(entities.Phone).To(Equal("0901234567"))
		})
	})

	When("an address is labeled", func() {
		BeforeEach(func() {
			text = "Địa chỉ: 123 Nguyễn Huệ, Quận 1, TP.HCM"
		})

		It("is extracted", func() {
			Expect(entities.Address).To(Equal("123 Nguyễn Huệ, Quận 1, TP.HCM"))
		})
	})

	When("items repeat with different case", func() {
		BeforeEach(func() {
			text = "Coca Cola 2 x 15000\nCOCA COLA 1 x 15000\nBanh Mi 3 x 20000"
		})

		It("deduplicates case-insensitively in first-seen order", func() {
			Expect(entities.Items).To(Equal([]string{"Coca Cola", "Banh Mi"}))
		})
	})

	When("there are more than twenty items", func() {
		BeforeEach(func() {
			text = ""
			for _, name := range []string{
				"Apple", "Banana", "Cherry", "Durian", "Eggplant", "Fig", "Grape", "Honeydew",
				"Jackfruit", "Kiwi", "Lemon", "Mango", "Nectarine", "Orange", "Papaya", "Quince",
				"Rambutan", "Starfruit", "Tamarind", "Ugli", "Vanilla", "Watermelon",
			} {
				text += name + " item 1 x 1000\n"
			}
		})

		It("caps the list", func() {
			Expect(entities.Items).To(HaveLen(20))
			Expect(entities.Items[0]).To(Equal("Apple item"))
		})
	})

	When("no date is present", func() {
		BeforeEach(func() {
			text = "COOPMART\nTotal: 10000"
		})

		It("falls back to the processing date", func() {
			Expect(entities.ReceiptDate).To(Equal("2025-03-01"))
			Expect(entities.DateFound).To(BeFalse())
		})
	})

	When("the text is empty", func() {
		BeforeEach(func() {
			text = ""
		})

		It("returns defaults", func() {
			Expect(entities.MerchantName).To(Equal(UnknownMerchant))
			Expect(entities.TotalAmount).To(BeZero())
			Expect(entities.Tax).To(BeZero())
			Expect(entities.Phone).To(BeEmpty())
			Expect(entities.Address).To(BeEmpty())
			Expect(entities.Items).To(BeEmpty())
			Expect(entities.DateFound).To(BeFalse())
			Expect(NewScorer(DefaultWeights).Score(entities)).To(BeZero())
		})
	})
})
