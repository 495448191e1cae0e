package receipt

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/smartspend/smartspend/internal/extract"
)

func newTestItem(receiptID string, position int, description, price string) *Item {
	return &Item{
		ID:        receiptID + "-item",
		ReceiptID: receiptID,
		Position:  position,
		LineItem: extract.LineItem{
			Description: description,
			Price:       decimal.RequireFromString(price),
		},
		CreatedAt: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}
}

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveReceipt", func() {
		var (
			receipt *Receipt
			items   []*Item
			err     error
		)

		BeforeEach(func() {
			receipt = &Receipt{
				ID:          "test-id",
				Filename:    "test-id_test.jpg",
				ContentType: "image/jpeg",
				RawText:     "Milk 2.49\nBread 3.00",
				ItemCount:   2,
				Total:       decimal.RequireFromString("5.49"),
				CreatedAt:   time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			}
			items = []*Item{
				newTestItem("test-id", 0, "Milk", "2.49"),
				newTestItem("test-id", 1, "Bread", "3.00"),
			}
		})

		JustBeforeEach(func() {
			err = db.SaveReceipt(receipt, items)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should save the receipt to the database", func() {
				saved, getErr := db.GetReceipt("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.ID).To(Equal("test-id"))
				Expect(saved.Total.Equal(decimal.RequireFromString("5.49"))).To(BeTrue())
				Expect(saved.RawText).To(Equal("Milk 2.49\nBread 3.00"))
			})

			It("should save the items in order", func() {
				saved, listErr := db.ListReceiptItems("test-id")
				Expect(listErr).NotTo(HaveOccurred())
				Expect(saved).To(HaveLen(2))
				Expect(saved[0].Description).To(Equal("Milk"))
				Expect(saved[1].Description).To(Equal("Bread"))
				Expect(saved[1].Price.Equal(decimal.RequireFromString("3"))).To(BeTrue())
			})
		})

		When("the receipt is saved again with fewer items", func() {
			JustBeforeEach(func() {
				Expect(err).NotTo(HaveOccurred())
				err = db.SaveReceipt(receipt, items[:1])
			})

			It("should replace the old items", func() {
				Expect(err).NotTo(HaveOccurred())
				saved, listErr := db.ListReceiptItems("test-id")
				Expect(listErr).NotTo(HaveOccurred())
				Expect(saved).To(HaveLen(1))
			})
		})

		When("an item belongs to another receipt", func() {
			BeforeEach(func() {
				items = append(items, newTestItem("other-id", 2, "Eggs", "4.10"))
			})

			It("should return an error", func() {
				Expect(err).To(MatchError(ContainSubstring("belongs to receipt")))
			})

			It("should not save the receipt", func() {
				_, getErr := db.GetReceipt("test-id")
				Expect(getErr).To(MatchError(ErrNotFound))
			})
		})

		When("the receipt has many items", func() {
			BeforeEach(func() {
				items = nil
				for i := 0; i < 12; i++ {
					items = append(items, newTestItem("test-id", i, "Item", "1.00"))
				}
			})

			It("should keep position order past single digits", func() {
				saved, listErr := db.ListReceiptItems("test-id")
				Expect(listErr).NotTo(HaveOccurred())
				Expect(saved).To(HaveLen(12))
				for i, item := range saved {
					Expect(item.Position).To(Equal(i))
				}
			})
		})
	})

	Describe("GetReceipt", func() {
		var (
			receiptID string
			receipt   *Receipt
			err       error
		)

		JustBeforeEach(func() {
			receipt, err = db.GetReceipt(receiptID)
		})

		When("receipt exists", func() {
			BeforeEach(func() {
				receiptID = "test-id"
				Expect(db.SaveReceipt(&Receipt{ID: receiptID, Filename: "test.jpg"}, nil)).To(Succeed())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the correct receipt", func() {
				Expect(receipt.ID).To(Equal(receiptID))
				Expect(receipt.Filename).To(Equal("test.jpg"))
			})
		})

		When("receipt does not exist", func() {
			BeforeEach(func() {
				receiptID = "nonexistent"
			})

			It("returns a not found error", func() {
				Expect(err).To(MatchError(ErrNotFound))
				Expect(err.Error()).To(Equal("receipt not found: nonexistent"))
			})
		})
	})

	Describe("ListReceipts", func() {
		var (
			receipts []*Receipt
			err      error
		)

		JustBeforeEach(func() {
			receipts, err = db.ListReceipts()
		})

		When("receipts exist", func() {
			BeforeEach(func() {
				Expect(db.SaveReceipt(&Receipt{ID: "id1"}, nil)).To(Succeed())
				Expect(db.SaveReceipt(&Receipt{ID: "id2"}, nil)).To(Succeed())
			})

			It("should return all receipts", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(receipts).To(HaveLen(2))
			})
		})

		When("no receipts exist", func() {
			It("should return an empty list", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(receipts).NotTo(BeNil())
				Expect(receipts).To(BeEmpty())
			})
		})
	})

	Describe("ListItems", func() {
		var (
			items []*Item
			err   error
		)

		JustBeforeEach(func() {
			items, err = db.ListItems()
		})

		When("several receipts have items", func() {
			BeforeEach(func() {
				Expect(db.SaveReceipt(&Receipt{ID: "b"}, []*Item{
					newTestItem("b", 0, "Tea", "1.20"),
				})).To(Succeed())
				Expect(db.SaveReceipt(&Receipt{ID: "a"}, []*Item{
					newTestItem("a", 0, "Milk", "2.49"),
					newTestItem("a", 1, "Bread", "3.00"),
				})).To(Succeed())
			})

			It("should return items grouped by receipt", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(items).To(HaveLen(3))
				Expect(items[0].ReceiptID).To(Equal("a"))
				Expect(items[1].ReceiptID).To(Equal("a"))
				Expect(items[2].ReceiptID).To(Equal("b"))
			})
		})

		When("no items exist", func() {
			It("should return an empty list", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(items).NotTo(BeNil())
				Expect(items).To(BeEmpty())
			})
		})
	})

	Describe("ListReceiptItems", func() {
		BeforeEach(func() {
			Expect(db.SaveReceipt(&Receipt{ID: "ab"}, []*Item{newTestItem("ab", 0, "Gum", "0.99")})).To(Succeed())
			Expect(db.SaveReceipt(&Receipt{ID: "a"}, []*Item{newTestItem("a", 0, "Milk", "2.49")})).To(Succeed())
		})

		It("should not pick up items of receipts sharing an ID prefix", func() {
			items, err := db.ListReceiptItems("a")
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(1))
			Expect(items[0].Description).To(Equal("Milk"))
		})

		It("should return an empty list for unknown receipts", func() {
			items, err := db.ListReceiptItems("missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(BeEmpty())
		})
	})

	Describe("DeleteReceipt", func() {
		var (
			receiptID string
			err       error
		)

		JustBeforeEach(func() {
			err = db.DeleteReceipt(receiptID)
		})

		When("receipt exists", func() {
			BeforeEach(func() {
				receiptID = "test-id"
				Expect(db.SaveReceipt(&Receipt{ID: receiptID}, []*Item{
					newTestItem(receiptID, 0, "Milk", "2.49"),
				})).To(Succeed())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should remove the receipt", func() {
				_, getErr := db.GetReceipt(receiptID)
				Expect(getErr).To(MatchError(ErrNotFound))
			})

			It("should remove its items", func() {
				items, listErr := db.ListItems()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(items).To(BeEmpty())
			})
		})

		When("receipt does not exist", func() {
			BeforeEach(func() {
				receiptID = "nonexistent"
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})

	Describe("Close", func() {
		It("should close without error", func() {
			Expect(db.Close()).To(Succeed())
			db = nil
		})
	})

	Describe("reopening", func() {
		It("should keep saved receipts", func() {
			Expect(db.SaveReceipt(&Receipt{ID: "kept"}, nil)).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
			_, err = db.GetReceipt("kept")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
