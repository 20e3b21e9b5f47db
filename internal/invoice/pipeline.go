package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kiranahq/backoffice/internal/scanning"
)

// Process runs the full extraction pipeline for one staged session:
// rasterize, extract page by page, aggregate, persist. It is designed to run
// on the background worker pool, so it returns nothing and reports through
// the session row and the progress hub.
//
// Pages are processed sequentially on purpose: it bounds load on the
// extraction service and leaves room for the pacing delay between calls.
// A page-level extraction failure degrades to an empty record; only a
// conversion failure (or a store fault) kills the session.
func (s *Service) Process(ctx context.Context, store Store, sessionID uuid.UUID) {
	defer s.hub.Finish(sessionID)

	log := s.logger.WithFields(logrus.Fields{
		"module":     "invoice",
		"session_id": sessionID,
	})

	session, err := store.GetSession(ctx, sessionID)
	if err != nil {
		log.WithError(err).Error("cannot load session for processing")
		s.hub.Publish(sessionID, ProgressEvent{Stage: StageError, Message: "Session not found"})
		return
	}
	if session.ArtifactKey == nil {
		s.fail(ctx, store, sessionID, "no uploaded document attached to session")
		return
	}

	if err := store.TransitionStatus(ctx, sessionID, StatusConverting); err != nil {
		log.WithError(err).Error("session is not in a processable state")
		return
	}
	// SaveSession writes the whole row, so the local copy must track every
	// status change or a later save would roll the status back.
	session.Status = StatusConverting
	s.hub.Publish(sessionID, ProgressEvent{Stage: StageConverting, Message: "Converting document to page images..."})

	data, mediaType, err := s.artifacts.Get(*session.ArtifactKey)
	if err != nil {
		s.fail(ctx, store, sessionID, fmt.Sprintf("reading uploaded document: %v", err))
		return
	}

	pages, err := s.rasterize(data, mediaType)
	if err != nil {
		// A document that cannot be decoded produces no pages to salvage.
		s.fail(ctx, store, sessionID, err.Error())
		return
	}

	totalPages := len(pages)
	session.TotalPages = totalPages
	session.PagesProcessed = 0
	if err := store.SaveSession(ctx, session); err != nil {
		s.fail(ctx, store, sessionID, fmt.Sprintf("recording page count: %v", err))
		return
	}
	s.hub.Publish(sessionID, ProgressEvent{Stage: StageConverted, TotalPages: &totalPages})

	if err := store.TransitionStatus(ctx, sessionID, StatusScanning); err != nil {
		s.fail(ctx, store, sessionID, fmt.Sprintf("entering scanning state: %v", err))
		return
	}
	session.Status = StatusScanning

	records := make([]*scanning.PageRecord, 0, totalPages)
	for i, page := range pages {
		pageNum := i + 1
		s.hub.Publish(sessionID, ProgressEvent{
			Stage:   StageScanning,
			Page:    pageNum,
			Total:   totalPages,
			Message: fmt.Sprintf("Scanning page %d/%d...", pageNum, totalPages),
		})

		record, err := s.extractor.ExtractPage(ctx, page)
		if err != nil {
			// Page-scoped fault: log it, keep going with an empty record.
			log.WithError(err).WithField("page", pageNum).Warn("page extraction failed")
			record = scanning.EmptyRecord()
		}
		records = append(records, record)

		session.PagesProcessed = pageNum
		if err := store.SaveSession(ctx, session); err != nil {
			s.fail(ctx, store, sessionID, fmt.Sprintf("recording page progress: %v", err))
			return
		}

		// Deliberate pause between extraction calls to respect the
		// service's rate limits.
		if s.pacing > 0 && pageNum < totalPages {
			select {
			case <-ctx.Done():
				s.fail(ctx, store, sessionID, "processing canceled")
				return
			case <-time.After(s.pacing):
			}
		}
	}

	s.hub.Publish(sessionID, ProgressEvent{Stage: StageExtracting, Message: "Processing extracted data..."})

	header, lineItems := scanning.Aggregate(records)

	session.SupplierName = header.VendorName
	session.InvoiceNumber = header.InvoiceNumber
	session.InvoiceDate = parseInvoiceDate(header.InvoiceDate)
	session.TotalAmount = header.TotalAmount

	hash := Fingerprint(session.SupplierName, session.InvoiceNumber, session.InvoiceDate, session.TotalAmount)
	session.InvoiceHash = &hash

	// Advisory only at this stage; the unique index makes it binding at
	// commit time.
	if prior, err := store.FindCommittedByHash(ctx, hash); err != nil {
		log.WithError(err).Warn("duplicate lookup failed")
	} else if prior != nil {
		session.IsDuplicate = true
		session.DuplicateOfSessionID = &prior.OriginalSessionID
	}

	items := make([]*ExtractedItem, 0, len(lineItems))
	for i, li := range lineItems {
		items = append(items, &ExtractedItem{
			ItemID:          s.idGenerator.Generate(),
			SessionID:       sessionID,
			Position:        i + 1,
			ProductName:     li.ProductName,
			Quantity:        li.Quantity,
			UnitCost:        li.UnitCost,
			LineTotal:       li.LineTotal,
			Category:        li.Category,
			ProductCode:     li.ProductCode,
			IncludeInCommit: true,
		})
	}
	if err := store.ReplaceItems(ctx, sessionID, items); err != nil {
		s.fail(ctx, store, sessionID, fmt.Sprintf("persisting extracted items: %v", err))
		return
	}
	if err := store.SaveSession(ctx, session); err != nil {
		s.fail(ctx, store, sessionID, fmt.Sprintf("persisting reconciled header: %v", err))
		return
	}
	if err := store.TransitionStatus(ctx, sessionID, StatusCompleted); err != nil {
		s.fail(ctx, store, sessionID, fmt.Sprintf("entering completed state: %v", err))
		return
	}

	itemsCount := len(items)
	event := ProgressEvent{
		Stage:         StageCompleted,
		ItemsCount:    &itemsCount,
		Supplier:      session.SupplierName,
		InvoiceNumber: session.InvoiceNumber,
	}
	if session.TotalAmount != nil {
		total := session.TotalAmount.InexactFloat64()
		event.TotalAmount = &total
	}
	s.hub.Publish(sessionID, event)

	log.WithFields(logrus.Fields{
		"pages": totalPages,
		"items": itemsCount,
	}).Info("scan session completed")
}

// fail records a fatal pipeline fault on the session and emits the terminal
// error event.
func (s *Service) fail(ctx context.Context, store Store, sessionID uuid.UUID, message string) {
	s.logger.WithFields(logrus.Fields{
		"module":     "invoice",
		"session_id": sessionID,
	}).Error(message)

	if session, err := store.GetSession(ctx, sessionID); err == nil {
		session.ErrorMessage = &message
		if err := store.SaveSession(ctx, session); err != nil {
			s.logger.WithError(err).Error("cannot record session error message")
		}
	}
	if err := store.TransitionStatus(ctx, sessionID, StatusFailed); err != nil {
		s.logger.WithError(err).Error("cannot mark session failed")
	}

	s.hub.Publish(sessionID, ProgressEvent{Stage: StageError, Message: message})
}

// parseInvoiceDate turns the aggregator's normalized free-text date into a
// concrete timestamp. Anything unparseable stays null for the operator to
// fill in during review.
func parseInvoiceDate(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	d, err := time.Parse("2006-01-02", *raw)
	if err != nil {
		return nil
	}
	return &d
}
