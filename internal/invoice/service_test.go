package invoice

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var _ = Describe("Service.CreateSession", func() {
	var (
		store     *mockStore
		artifacts *mockArtifacts
		service   *Service
		session   *ScanSession
		err       error
	)

	BeforeEach(func() {
		store = newMockStore()
		artifacts = newMockArtifacts()
		service = NewServiceWithDeps(&mockExtractor{}, artifacts, NewProgressHub(), testLogger(),
			fixedRasterizer(1, nil), 0,
			&seqIDGenerator{}, &fixedTimeSource{now: time.Date(2024, 3, 20, 8, 0, 0, 0, time.UTC)})
	})

	JustBeforeEach(func() {
		session, err = service.CreateSession(context.Background(), store, "IMG_2041 (1).heic", "image/heic", []byte("photo bytes"))
	})

	When("the upload succeeds", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("creates a pending session", func() {
			Expect(session.Status).To(Equal(StatusPending))
			stored, gerr := store.GetSession(context.Background(), session.SessionID)
			Expect(gerr).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(StatusPending))
		})

		It("stores the document under the session's key", func() {
			data, mediaType, aerr := artifacts.Get(session.SessionID.String())
			Expect(aerr).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("photo bytes")))
			Expect(mediaType).To(Equal("image/heic"))
		})

		It("sanitizes the source filename", func() {
			Expect(session.SourceFilename).To(Equal("IMG_2041 1.heic"))
		})

		It("uses the injected clock", func() {
			Expect(session.CreatedAt).To(Equal(time.Date(2024, 3, 20, 8, 0, 0, 0, time.UTC)))
		})
	})

	When("the artifact store rejects the document", func() {
		BeforeEach(func() {
			artifacts.saveErr = errors.New("disk full")
		})

		It("returns the error without creating a session", func() {
			Expect(err).To(HaveOccurred())
			Expect(store.sessions).To(BeEmpty())
		})
	})

	When("the session row cannot be created", func() {
		BeforeEach(func() {
			store.createSessionErr = errors.New("database gone")
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
		})

		It("cleans up the orphaned artifact", func() {
			Expect(artifacts.files).To(BeEmpty())
		})
	})
})

var _ = Describe("Service.UpdateItem", func() {
	var (
		store     *mockStore
		service   *Service
		sessionID uuid.UUID
		itemID    uuid.UUID
		patch     ItemPatch
		item      *ExtractedItem
		err       error
		now       time.Time
	)

	BeforeEach(func() {
		store = newMockStore()
		now = time.Date(2024, 3, 21, 10, 30, 0, 0, time.UTC)
		service = NewServiceWithDeps(&mockExtractor{}, newMockArtifacts(), NewProgressHub(), testLogger(),
			fixedRasterizer(1, nil), 0,
			&seqIDGenerator{}, &fixedTimeSource{now: now})

		sessionID = uuid.New()
		itemID = uuid.New()
		Expect(store.CreateSession(context.Background(), &ScanSession{
			SessionID: sessionID,
			Status:    StatusCompleted,
			CreatedAt: time.Now().UTC(),
		})).To(Succeed())
		Expect(store.ReplaceItems(context.Background(), sessionID, []*ExtractedItem{
			{
				ItemID: itemID, SessionID: sessionID,
				ProductName: "Curd 500g", Quantity: decimal.NewFromInt(6),
				Category: "Dairy", IncludeInCommit: true,
			},
		})).To(Succeed())

		patch = ItemPatch{}
	})

	JustBeforeEach(func() {
		item, err = service.UpdateItem(context.Background(), store, sessionID, itemID, patch)
	})

	When("setting an expiry date", func() {
		var expiry time.Time

		BeforeEach(func() {
			expiry = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
			patch.ModifiedExpiryDate = &expiry
		})

		It("saves the date on the item", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(item.ModifiedExpiryDate).To(Equal(&expiry))

			stored, _ := store.GetItem(context.Background(), sessionID, itemID)
			Expect(stored.ModifiedExpiryDate.Equal(expiry)).To(BeTrue())
		})

		It("stamps the session as reviewed", func() {
			session, _ := store.GetSession(context.Background(), sessionID)
			Expect(session.ReviewedAt).NotTo(BeNil())
			Expect(session.ReviewedAt.Equal(now)).To(BeTrue())
		})

		It("does not change the session status", func() {
			session, _ := store.GetSession(context.Background(), sessionID)
			Expect(session.Status).To(Equal(StatusCompleted))
		})
	})

	When("excluding the item from commit", func() {
		BeforeEach(func() {
			excluded := false
			patch.IncludeInCommit = &excluded
		})

		It("persists the exclusion", func() {
			Expect(err).NotTo(HaveOccurred())
			stored, _ := store.GetItem(context.Background(), sessionID, itemID)
			Expect(stored.IncludeInCommit).To(BeFalse())
		})
	})

	When("the patch is empty", func() {
		It("leaves the item's fields untouched", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(item.IncludeInCommit).To(BeTrue())
			Expect(item.ModifiedExpiryDate).To(BeNil())
		})
	})

	When("the session is already terminal", func() {
		BeforeEach(func() {
			store.sessions[sessionID].Status = StatusCommitted
		})

		It("returns a conflict", func() {
			Expect(err).To(MatchError(ErrCommitConflict))
		})
	})

	When("the item does not exist", func() {
		BeforeEach(func() {
			itemID = uuid.New()
		})

		It("returns not found", func() {
			Expect(err).To(MatchError(ErrItemNotFound))
		})
	})
})

var _ = Describe("sanitizeFilename", func() {
	It("strips shell metacharacters but keeps the extension", func() {
		Expect(sanitizeFilename("inv;rm -rf$.pdf")).To(Equal("invrm -rf.pdf"))
	})

	It("falls back to a stable name for junk-only input", func() {
		Expect(sanitizeFilename("###.png")).To(Equal("invoice.png"))
	})

	It("truncates absurdly long names", func() {
		long := ""
		for i := 0; i < 30; i++ {
			long += "abcdefghij"
		}
		sanitized := sanitizeFilename(long + ".pdf")
		Expect(len(sanitized)).To(BeNumerically("<=", 104))
	})
})
