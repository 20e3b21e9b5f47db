package invoice

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// sellingPriceMarkup prices a newly created inventory row off its first
// known unit cost until someone sets a real price.
var sellingPriceMarkup = decimal.NewFromFloat(1.3)

const defaultReorderLevel = 10

// Commit finalizes a reviewed session: it writes the append-only history
// row, applies inventory deltas for every included item and marks the
// session committed, all inside one transaction. A fingerprint collision
// (or any other fault) leaves the session exactly as it was. The temp
// artifact is deleted only after the transaction has committed.
func (s *Service) Commit(ctx context.Context, store Store, sessionID uuid.UUID) (*CommittedInvoice, error) {
	session, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, ErrCommitConflict
	}

	items, err := store.ListItems(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing extracted items: %w", err)
	}
	included := make([]*ExtractedItem, 0, len(items))
	for _, item := range items {
		if item.IncludeInCommit {
			included = append(included, item)
		}
	}
	if len(included) == 0 {
		return nil, ErrNoItemsToCommit
	}

	committed := &CommittedInvoice{
		CommittedInvoiceID: s.idGenerator.Generate(),
		SupplierName:       session.SupplierName,
		InvoiceNumber:      session.InvoiceNumber,
		InvoiceDate:        session.InvoiceDate,
		TotalAmount:        session.TotalAmount,
		InvoiceHash:        fingerprintOf(session),
		ItemsCount:         len(included),
		OriginalSessionID:  session.SessionID,
		CommittedAt:        s.timeSource.Now(),
	}
	for _, item := range included {
		committed.CommittedItems = append(committed.CommittedItems, snapshotItem(item))
	}

	err = store.Transact(ctx, func(tx Store) error {
		// The unique index on invoice_hash is the real duplicate guard; a
		// collision surfaces here and rolls everything back.
		if err := tx.CreateCommittedInvoice(ctx, committed); err != nil {
			return err
		}
		for _, item := range included {
			if err := s.applyInventoryDelta(ctx, tx, session, item); err != nil {
				return fmt.Errorf("applying inventory delta for %q: %w", item.ProductName, err)
			}
		}
		return tx.TransitionStatus(ctx, sessionID, StatusCommitted)
	})
	if err != nil {
		return nil, err
	}

	s.discardArtifact(session)

	s.logger.WithFields(logrus.Fields{
		"module":     "invoice",
		"session_id": sessionID,
		"invoice_id": committed.CommittedInvoiceID,
		"items":      committed.ItemsCount,
	}).Info("invoice committed")

	return committed, nil
}

// Reject discards a staged session. The session row stays visible in
// listings but is inert; inventory is never touched.
func (s *Service) Reject(ctx context.Context, store Store, sessionID uuid.UUID) error {
	session, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return ErrCommitConflict
	}

	if err := store.TransitionStatus(ctx, sessionID, StatusRejected); err != nil {
		return err
	}

	s.discardArtifact(session)
	return nil
}

// applyInventoryDelta increases on-hand quantity and refreshes unit cost for
// a matched catalog entry, or creates a fresh unmatched row.
func (s *Service) applyInventoryDelta(ctx context.Context, tx Store, session *ScanSession, item *ExtractedItem) error {
	existing, err := tx.FindInventoryItem(ctx, item.MatchedProductID, item.ProductName)
	if err != nil {
		return err
	}

	unitCost := decimal.Zero
	if item.UnitCost != nil {
		unitCost = *item.UnitCost
	}

	if existing != nil {
		existing.QuantityOnHand = existing.QuantityOnHand.Add(item.Quantity)
		if item.UnitCost != nil {
			existing.UnitCost = unitCost
		}
		return tx.SaveInventoryItem(ctx, existing)
	}

	name := item.ProductName
	if name == "" {
		name = fmt.Sprintf("Unnamed item (invoice %s)", derefOr(session.InvoiceNumber, session.SessionID.String()))
	}
	return tx.SaveInventoryItem(ctx, &InventoryItem{
		InventoryID:    s.idGenerator.Generate(),
		ProductName:    name,
		ProductCode:    item.ProductCode,
		Category:       item.Category,
		QuantityOnHand: item.Quantity,
		UnitCost:       unitCost,
		SellingPrice:   unitCost.Mul(sellingPriceMarkup),
		ReorderLevel:   defaultReorderLevel,
	})
}

// snapshotItem freezes an item for the history row, preferring the
// operator's corrected expiry date.
func snapshotItem(item *ExtractedItem) CommittedItem {
	snap := CommittedItem{
		ProductName: item.ProductName,
		Quantity:    item.Quantity,
		Category:    item.Category,
		ProductCode: item.ProductCode,
		ExpiryDate:  item.ModifiedExpiryDate,
	}
	if item.UnitCost != nil {
		snap.UnitCost = *item.UnitCost
	}
	if item.LineTotal != nil {
		snap.LineTotal = *item.LineTotal
	}
	return snap
}

// fingerprintOf returns the stored hash, recomputing it for sessions whose
// pipeline died before aggregation.
func fingerprintOf(session *ScanSession) string {
	if session.InvoiceHash != nil {
		return *session.InvoiceHash
	}
	return Fingerprint(session.SupplierName, session.InvoiceNumber, session.InvoiceDate, session.TotalAmount)
}

// discardArtifact deletes the temp upload after a terminal transition.
// Best-effort: a leaked temp file is a nuisance, not a correctness problem.
func (s *Service) discardArtifact(session *ScanSession) {
	if session.ArtifactKey == nil {
		return
	}
	if err := s.artifacts.Delete(*session.ArtifactKey); err != nil {
		s.logger.WithFields(logrus.Fields{
			"module":     "invoice",
			"session_id": session.SessionID,
			"error":      err,
		}).Warn("failed to delete session artifact")
	}
}

func derefOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}
