package invoice

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store is the tenant-scoped persistence surface the pipeline works
// against. One Store maps to one tenant database; the tenant provider hands
// them out per request.
type Store interface {
	CreateSession(ctx context.Context, session *ScanSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*ScanSession, error)
	ListSessions(ctx context.Context, limit, offset int) ([]*ScanSession, error)
	SaveSession(ctx context.Context, session *ScanSession) error
	// TransitionStatus is the single place a session's status may change.
	// It enforces the forward-only state machine and stamps terminal
	// timestamps.
	TransitionStatus(ctx context.Context, id uuid.UUID, next Status) error

	ReplaceItems(ctx context.Context, sessionID uuid.UUID, items []*ExtractedItem) error
	ListItems(ctx context.Context, sessionID uuid.UUID) ([]*ExtractedItem, error)
	GetItem(ctx context.Context, sessionID, itemID uuid.UUID) (*ExtractedItem, error)
	SaveItem(ctx context.Context, item *ExtractedItem) error

	// FindCommittedByHash returns (nil, nil) when no committed invoice
	// carries the fingerprint.
	FindCommittedByHash(ctx context.Context, hash string) (*CommittedInvoice, error)
	CreateCommittedInvoice(ctx context.Context, inv *CommittedInvoice) error
	ListCommittedInvoices(ctx context.Context, limit, offset int) ([]*CommittedInvoice, error)

	// FindInventoryItem matches by catalog id first, then by product name;
	// (nil, nil) means no match.
	FindInventoryItem(ctx context.Context, matchedProductID *uuid.UUID, productName string) (*InventoryItem, error)
	SaveInventoryItem(ctx context.Context, item *InventoryItem) error

	// Transact runs fn against a store bound to one database transaction.
	// Any error rolls the whole unit back.
	Transact(ctx context.Context, fn func(Store) error) error
}

// GormStore implements Store on a tenant's gorm database handle.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateSession(ctx context.Context, session *ScanSession) error {
	return s.db.WithContext(ctx).Create(session).Error
}

func (s *GormStore) GetSession(ctx context.Context, id uuid.UUID) (*ScanSession, error) {
	var session ScanSession
	err := s.db.WithContext(ctx).First(&session, "session_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *GormStore) ListSessions(ctx context.Context, limit, offset int) ([]*ScanSession, error) {
	var sessions []*ScanSession
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&sessions).Error
	return sessions, err
}

func (s *GormStore) SaveSession(ctx context.Context, session *ScanSession) error {
	return s.db.WithContext(ctx).Save(session).Error
}

func (s *GormStore) TransitionStatus(ctx context.Context, id uuid.UUID, next Status) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(session.Status, next) {
		return ErrInvalidTransition
	}

	updates := map[string]any{"status": next}
	if next == StatusCommitted {
		updates["committed_at"] = time.Now().UTC()
	}
	// Guard the write against a concurrent transition: the update only
	// lands if the row still holds the status we validated against.
	res := s.db.WithContext(ctx).
		Model(&ScanSession{}).
		Where("session_id = ? AND status = ?", id, session.Status).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *GormStore) ReplaceItems(ctx context.Context, sessionID uuid.UUID, items []*ExtractedItem) error {
	db := s.db.WithContext(ctx)
	if err := db.Where("session_id = ?", sessionID).Delete(&ExtractedItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return db.Create(items).Error
}

func (s *GormStore) ListItems(ctx context.Context, sessionID uuid.UUID) ([]*ExtractedItem, error) {
	var items []*ExtractedItem
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("position ASC").
		Find(&items).Error
	return items, err
}

func (s *GormStore) GetItem(ctx context.Context, sessionID, itemID uuid.UUID) (*ExtractedItem, error) {
	var item ExtractedItem
	err := s.db.WithContext(ctx).
		First(&item, "item_id = ? AND session_id = ?", itemID, sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *GormStore) SaveItem(ctx context.Context, item *ExtractedItem) error {
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *GormStore) FindCommittedByHash(ctx context.Context, hash string) (*CommittedInvoice, error) {
	var inv CommittedInvoice
	err := s.db.WithContext(ctx).First(&inv, "invoice_hash = ?", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *GormStore) CreateCommittedInvoice(ctx context.Context, inv *CommittedInvoice) error {
	err := s.db.WithContext(ctx).Create(inv).Error
	if isDuplicateKey(err) {
		return ErrDuplicateInvoice
	}
	return err
}

func (s *GormStore) ListCommittedInvoices(ctx context.Context, limit, offset int) ([]*CommittedInvoice, error) {
	var invoices []*CommittedInvoice
	err := s.db.WithContext(ctx).
		Order("committed_at DESC").
		Limit(limit).Offset(offset).
		Find(&invoices).Error
	return invoices, err
}

func (s *GormStore) FindInventoryItem(ctx context.Context, matchedProductID *uuid.UUID, productName string) (*InventoryItem, error) {
	db := s.db.WithContext(ctx)

	if matchedProductID != nil {
		var item InventoryItem
		err := db.First(&item, "inventory_id = ?", *matchedProductID).Error
		if err == nil {
			return &item, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if productName == "" {
		return nil, nil
	}
	var item InventoryItem
	err := db.First(&item, "product_name = ?", productName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *GormStore) SaveInventoryItem(ctx context.Context, item *InventoryItem) error {
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *GormStore) Transact(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// isDuplicateKey detects a unique-index violation both through gorm's
// translated error and the raw MySQL error number.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
