package invoice

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kiranahq/backoffice/internal/scanning"
)

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

// stageSession creates a pending session with its artifact attached, the
// way an upload would.
func stageSession(store *mockStore, artifacts *mockArtifacts) uuid.UUID {
	sessionID := uuid.New()
	key := sessionID.String()
	Expect(artifacts.Save(key, "application/pdf", []byte("fake pdf"))).To(Succeed())
	Expect(store.CreateSession(context.Background(), &ScanSession{
		SessionID:      sessionID,
		Status:         StatusPending,
		ArtifactKey:    &key,
		SourceFilename: "invoice.pdf",
		CreatedAt:      time.Now().UTC(),
	})).To(Succeed())
	return sessionID
}

// drainEvents collects every event until the hub closes the channel.
func drainEvents(events <-chan ProgressEvent) []ProgressEvent {
	var out []ProgressEvent
	for event := range events {
		out = append(out, event)
	}
	return out
}

func stages(events []ProgressEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Stage)
	}
	return out
}

var _ = Describe("Service.Process", func() {
	var (
		store     *mockStore
		artifacts *mockArtifacts
		extractor *mockExtractor
		hub       *ProgressHub
		service   *Service
		sessionID uuid.UUID
		events    <-chan ProgressEvent
	)

	BeforeEach(func() {
		store = newMockStore()
		artifacts = newMockArtifacts()
		extractor = &mockExtractor{}
		hub = NewProgressHub()
	})

	newService := func(pages int, rasterErr error) *Service {
		return NewServiceWithDeps(extractor, artifacts, hub, testLogger(),
			fixedRasterizer(pages, rasterErr), 0,
			&seqIDGenerator{}, &fixedTimeSource{now: time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)})
	}

	Describe("a two page invoice", func() {
		BeforeEach(func() {
			extractor.records = []*scanning.PageRecord{
				{
					VendorName:    strPtr("Acme Wholesale"),
					InvoiceNumber: strPtr("INV-1"),
					InvoiceDate:   strPtr("2024-03-15"),
					TotalAmount:   floatPtr(70),
					Items: []scanning.PageItem{
						{ProductName: strPtr("Widget"), Quantity: floatPtr(2), UnitCost: floatPtr(10), TotalPrice: floatPtr(20)},
					},
				},
				{
					Items: []scanning.PageItem{
						{ProductName: strPtr("Gadget"), Quantity: floatPtr(5), UnitCost: floatPtr(10), TotalPrice: floatPtr(50)},
					},
				},
			}
			service = newService(2, nil)
			sessionID = stageSession(store, artifacts)
			events, _ = hub.Subscribe(sessionID)

			service.Process(context.Background(), store, sessionID)
		})

		It("completes the session", func() {
			session, err := store.GetSession(context.Background(), sessionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(session.Status).To(Equal(StatusCompleted))
		})

		It("persists the reconciled header", func() {
			session, _ := store.GetSession(context.Background(), sessionID)
			Expect(*session.SupplierName).To(Equal("Acme Wholesale"))
			Expect(*session.InvoiceNumber).To(Equal("INV-1"))
			Expect(session.InvoiceDate.Format("2006-01-02")).To(Equal("2024-03-15"))
			Expect(session.TotalAmount.InexactFloat64()).To(Equal(70.0))
		})

		It("records page counts", func() {
			session, _ := store.GetSession(context.Background(), sessionID)
			Expect(session.TotalPages).To(Equal(2))
			Expect(session.PagesProcessed).To(Equal(2))
		})

		It("stages both line items for review, included by default", func() {
			items, err := store.ListItems(context.Background(), sessionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(2))
			Expect(items[0].ProductName).To(Equal("Widget"))
			Expect(items[1].ProductName).To(Equal("Gadget"))
			for _, item := range items {
				Expect(item.IncludeInCommit).To(BeTrue())
			}
		})

		It("numbers the staged items in extraction order", func() {
			// The sequence column is what keeps review order stable even
			// when a whole batch lands with one created_at timestamp.
			items, _ := store.ListItems(context.Background(), sessionID)
			Expect(items[0].Position).To(Equal(1))
			Expect(items[1].Position).To(Equal(2))
		})

		It("stores the duplicate-detection fingerprint", func() {
			session, _ := store.GetSession(context.Background(), sessionID)
			Expect(session.InvoiceHash).NotTo(BeNil())

			date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
			total := decimal.NewFromFloat(70)
			expected := Fingerprint(strPtr("Acme Wholesale"), strPtr("INV-1"), &date, &total)
			Expect(*session.InvoiceHash).To(Equal(expected))
		})

		It("emits progress events in pipeline order and closes the stream", func() {
			got := drainEvents(events)
			Expect(stages(got)).To(Equal([]string{
				StageConverting,
				StageConverted,
				StageScanning, StageScanning,
				StageExtracting,
				StageCompleted,
			}))
		})

		It("carries page numbers on scanning events and a summary on the final event", func() {
			got := drainEvents(events)
			Expect(got[2].Page).To(Equal(1))
			Expect(got[3].Page).To(Equal(2))
			Expect(got[3].Total).To(Equal(2))

			final := got[len(got)-1]
			Expect(*final.ItemsCount).To(Equal(2))
			Expect(*final.Supplier).To(Equal("Acme Wholesale"))
			Expect(*final.TotalAmount).To(Equal(70.0))
		})
	})

	Describe("a page-scoped extraction failure", func() {
		BeforeEach(func() {
			extractor.records = make([]*scanning.PageRecord, 5)
			for i := range extractor.records {
				name := []string{"Rice", "Dal", "Oil", "Soap", "Tea"}[i]
				extractor.records[i] = &scanning.PageRecord{
					Items: []scanning.PageItem{{ProductName: strPtr(name), Quantity: floatPtr(1)}},
				}
			}
			extractor.failPages = map[int]bool{3: true}

			service = newService(5, nil)
			sessionID = stageSession(store, artifacts)

			service.Process(context.Background(), store, sessionID)
		})

		It("still completes the session", func() {
			session, _ := store.GetSession(context.Background(), sessionID)
			Expect(session.Status).To(Equal(StatusCompleted))
		})

		It("counts the failed page as processed", func() {
			session, _ := store.GetSession(context.Background(), sessionID)
			Expect(session.PagesProcessed).To(Equal(5))
		})

		It("keeps the items from the four healthy pages", func() {
			items, _ := store.ListItems(context.Background(), sessionID)
			Expect(items).To(HaveLen(4))
			names := make([]string, 0, len(items))
			for _, item := range items {
				names = append(names, item.ProductName)
			}
			Expect(names).To(Equal([]string{"Rice", "Dal", "Soap", "Tea"}))
		})
	})

	Describe("a document that cannot be converted", func() {
		BeforeEach(func() {
			service = newService(0, &scanning.ConversionError{Reason: "opening PDF"})
			sessionID = stageSession(store, artifacts)
			events, _ = hub.Subscribe(sessionID)

			service.Process(context.Background(), store, sessionID)
		})

		It("fails the session with the conversion error recorded", func() {
			session, _ := store.GetSession(context.Background(), sessionID)
			Expect(session.Status).To(Equal(StatusFailed))
			Expect(session.ErrorMessage).NotTo(BeNil())
			Expect(*session.ErrorMessage).To(ContainSubstring("opening PDF"))
		})

		It("never calls the extractor", func() {
			Expect(extractor.calls).To(BeZero())
		})

		It("ends the progress stream with an error event", func() {
			got := drainEvents(events)
			Expect(got[len(got)-1].Stage).To(Equal(StageError))
		})
	})

	Describe("a re-upload of an already committed invoice", func() {
		BeforeEach(func() {
			extractor.records = []*scanning.PageRecord{
				{
					VendorName:    strPtr("Acme Wholesale"),
					InvoiceNumber: strPtr("INV-1"),
					InvoiceDate:   strPtr("2024-03-15"),
					TotalAmount:   floatPtr(70),
					Items:         []scanning.PageItem{{ProductName: strPtr("Widget"), Quantity: floatPtr(2)}},
				},
			}

			date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
			total := decimal.NewFromFloat(70)
			priorSessionID := uuid.New()
			store.committed = append(store.committed, &CommittedInvoice{
				CommittedInvoiceID: uuid.New(),
				InvoiceHash:        Fingerprint(strPtr("Acme Wholesale"), strPtr("INV-1"), &date, &total),
				OriginalSessionID:  priorSessionID,
			})

			service = newService(1, nil)
			sessionID = stageSession(store, artifacts)
			service.Process(context.Background(), store, sessionID)
		})

		It("completes but flags the session as a likely duplicate", func() {
			session, _ := store.GetSession(context.Background(), sessionID)
			Expect(session.Status).To(Equal(StatusCompleted))
			Expect(session.IsDuplicate).To(BeTrue())
			Expect(session.DuplicateOfSessionID).NotTo(BeNil())
		})
	})

	Describe("a session in a non-processable state", func() {
		BeforeEach(func() {
			service = newService(1, nil)
			sessionID = stageSession(store, artifacts)
			store.sessions[sessionID].Status = StatusCommitted

			service.Process(context.Background(), store, sessionID)
		})

		It("leaves the session untouched", func() {
			session, _ := store.GetSession(context.Background(), sessionID)
			Expect(session.Status).To(Equal(StatusCommitted))
			Expect(store.statusWrites).To(BeEmpty())
		})
	})
})
