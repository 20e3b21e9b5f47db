package scanning

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

var _ = Describe("Aggregate", func() {
	var (
		records []*PageRecord
		header  Header
		items   []LineItem
	)

	JustBeforeEach(func() {
		header, items = Aggregate(records)
	})

	When("merging a two page invoice with a continuation page", func() {
		BeforeEach(func() {
			records = []*PageRecord{
				{
					VendorName:    strPtr("Acme Wholesale"),
					InvoiceNumber: strPtr("INV-1"),
					InvoiceDate:   strPtr("2024-03-15"),
					TotalAmount:   floatPtr(70),
					Items: []PageItem{
						{ProductName: strPtr("Widget"), Quantity: floatPtr(2), UnitCost: floatPtr(10), TotalPrice: floatPtr(20)},
					},
				},
				{
					// continuation page, header fields absent
					Items: []PageItem{
						{ProductName: strPtr("Gadget"), Quantity: floatPtr(5), UnitCost: floatPtr(10), TotalPrice: floatPtr(50)},
					},
				},
			}
		})

		It("keeps the first page's header", func() {
			Expect(*header.VendorName).To(Equal("Acme Wholesale"))
			Expect(*header.InvoiceNumber).To(Equal("INV-1"))
			Expect(*header.InvoiceDate).To(Equal("2024-03-15"))
			Expect(header.TotalAmount.InexactFloat64()).To(Equal(70.0))
		})

		It("concatenates items in page order", func() {
			Expect(items).To(HaveLen(2))
			Expect(items[0].ProductName).To(Equal("Widget"))
			Expect(items[1].ProductName).To(Equal("Gadget"))
		})
	})

	When("a later page disagrees with a resolved header field", func() {
		BeforeEach(func() {
			records = []*PageRecord{
				{VendorName: strPtr("First Vendor")},
				{VendorName: strPtr("Second Vendor"), InvoiceNumber: strPtr("INV-9")},
			}
		})

		It("keeps the first non-null value and fills gaps from later pages", func() {
			Expect(*header.VendorName).To(Equal("First Vendor"))
			Expect(*header.InvoiceNumber).To(Equal("INV-9"))
		})
	})

	When("a page failed extraction and produced a nil record", func() {
		BeforeEach(func() {
			records = []*PageRecord{
				nil,
				{VendorName: strPtr("Surviving Vendor"), Items: []PageItem{{ProductName: strPtr("Soap Bar")}}},
			}
		})

		It("skips the nil record", func() {
			Expect(*header.VendorName).To(Equal("Surviving Vendor"))
			Expect(items).To(HaveLen(1))
		})
	})

	When("the same product appears on two pages", func() {
		BeforeEach(func() {
			records = []*PageRecord{
				{Items: []PageItem{{ProductName: strPtr("Sugar 1kg"), Quantity: floatPtr(3)}}},
				{Items: []PageItem{{ProductName: strPtr("Sugar 1kg"), Quantity: floatPtr(2)}}},
			}
		})

		It("keeps both rows without merging", func() {
			Expect(items).To(HaveLen(2))
			Expect(items[0].Quantity.InexactFloat64()).To(Equal(3.0))
			Expect(items[1].Quantity.InexactFloat64()).To(Equal(2.0))
		})
	})

	When("no page carried a header total", func() {
		BeforeEach(func() {
			records = []*PageRecord{
				{Items: []PageItem{
					{ProductName: strPtr("A"), TotalPrice: floatPtr(12.50)},
					{ProductName: strPtr("B"), TotalPrice: floatPtr(7.50)},
					{ProductName: strPtr("C")}, // no price at all
				}},
			}
		})

		It("falls back to the sum of line totals", func() {
			Expect(header.TotalAmount).NotTo(BeNil())
			Expect(header.TotalAmount.InexactFloat64()).To(Equal(20.0))
		})
	})
})

var _ = Describe("reconcileItem", func() {
	When("the line total is missing", func() {
		It("derives it from unit cost times quantity", func() {
			item := reconcileItem(PageItem{
				ProductName: strPtr("Toor Dal"),
				Quantity:    floatPtr(4),
				UnitCost:    floatPtr(2.5),
			})
			Expect(item.LineTotal).NotTo(BeNil())
			Expect(item.LineTotal.InexactFloat64()).To(Equal(10.0))
		})
	})

	When("the unit cost is missing", func() {
		It("derives it from line total over quantity", func() {
			item := reconcileItem(PageItem{
				ProductName: strPtr("Mustard Oil 1L"),
				Quantity:    floatPtr(5),
				TotalPrice:  floatPtr(25),
			})
			Expect(item.UnitCost).NotTo(BeNil())
			Expect(item.UnitCost.InexactFloat64()).To(Equal(5.0))
		})
	})

	When("the quantity is missing", func() {
		It("defaults to one unit", func() {
			item := reconcileItem(PageItem{
				ProductName: strPtr("Paneer 200g"),
				UnitCost:    floatPtr(80),
			})
			Expect(item.Quantity.InexactFloat64()).To(Equal(1.0))
			Expect(item.LineTotal.InexactFloat64()).To(Equal(80.0))
		})
	})

	When("both prices are missing", func() {
		It("leaves them nil", func() {
			item := reconcileItem(PageItem{ProductName: strPtr("Free Sample")})
			Expect(item.UnitCost).To(BeNil())
			Expect(item.LineTotal).To(BeNil())
		})
	})

	When("the category is absent", func() {
		It("infers it from the product name", func() {
			item := reconcileItem(PageItem{ProductName: strPtr("Basmati Rice 5kg")})
			Expect(item.Category).To(Equal("Grains & Pulses"))
		})
	})

	When("the category is a generic placeholder", func() {
		It("replaces it with the inferred category", func() {
			item := reconcileItem(PageItem{
				ProductName: strPtr("Lifebuoy Soap"),
				Category:    strPtr("Other"),
			})
			Expect(item.Category).To(Equal("Household"))
		})
	})

	When("the category is specific", func() {
		It("keeps the extracted value", func() {
			item := reconcileItem(PageItem{
				ProductName: strPtr("Basmati Rice 5kg"),
				Category:    strPtr("Premium Grains"),
			})
			Expect(item.Category).To(Equal("Premium Grains"))
		})
	})
})

var _ = Describe("InferCategory", func() {
	It("matches keywords case-insensitively", func() {
		Expect(InferCategory("FORTUNE SUNFLOWER OIL 1L")).To(Equal("Oils & Fats"))
	})

	It("applies the first matching rule when keywords overlap", func() {
		// "rice" wins over anything later in the table
		Expect(InferCategory("Rice Bran Oil")).To(Equal("Grains & Pulses"))
	})

	It("falls back to the default for unmatched names", func() {
		Expect(InferCategory("AA Batteries 4-pack")).To(Equal(CategoryGeneral))
	})

	It("is deterministic", func() {
		first := InferCategory("Amul Butter 500g")
		for i := 0; i < 10; i++ {
			Expect(InferCategory("Amul Butter 500g")).To(Equal(first))
		}
	})
})

var _ = Describe("Categories", func() {
	It("ends with the default category", func() {
		vocab := Categories()
		Expect(vocab[len(vocab)-1]).To(Equal(CategoryGeneral))
		Expect(vocab).To(ContainElement("Spices"))
	})
})

var _ = Describe("EmptyRecord", func() {
	It("has no header fields and no items", func() {
		rec := EmptyRecord()
		Expect(rec.VendorName).To(BeNil())
		Expect(rec.TotalAmount).To(BeNil())
		Expect(rec.Items).To(BeEmpty())
	})
})
