package invoice

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kiranahq/backoffice/internal/scanning"
)

// ArtifactStore holds the uploaded source document for the lifetime of its
// session, keyed by session id.
type ArtifactStore interface {
	// Save stores a document under the session's key
	Save(key string, mediaType string, data []byte) error
	// Get retrieves the document and its media type
	Get(key string) ([]byte, string, error)
	// Delete removes the document
	Delete(key string) error
}

// Rasterizer converts document bytes into an ordered sequence of page
// images.
type Rasterizer func(data []byte, mediaType string) ([][]byte, error)

// IDGenerator generates unique IDs for sessions, items and invoices
type IDGenerator interface {
	Generate() uuid.UUID
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() uuid.UUID {
	return uuid.New()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Service owns the scan → review → commit workflow. The tenant-scoped Store
// is passed per call; everything else is a process-wide dependency.
type Service struct {
	extractor   scanning.PageExtractor
	artifacts   ArtifactStore
	hub         *ProgressHub
	logger      *logrus.Logger
	rasterize   Rasterizer
	pacing      time.Duration
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a Service with the production rasterizer, id generator
// and clock. pacing is the deliberate delay between extraction calls.
func NewService(extractor scanning.PageExtractor, artifacts ArtifactStore, hub *ProgressHub, logger *logrus.Logger, pacing time.Duration) *Service {
	return &Service{
		extractor:   extractor,
		artifacts:   artifacts,
		hub:         hub,
		logger:      logger,
		rasterize:   scanning.RenderPages,
		pacing:      pacing,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(extractor scanning.PageExtractor, artifacts ArtifactStore, hub *ProgressHub, logger *logrus.Logger, rasterize Rasterizer, pacing time.Duration, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		extractor:   extractor,
		artifacts:   artifacts,
		hub:         hub,
		logger:      logger,
		rasterize:   rasterize,
		pacing:      pacing,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var filenameJunk = regexp.MustCompile(`[^a-zA-Z0-9\s\-_.]`)

// sanitizeFilename cleans up phone-generated upload names before they are
// stored on the session.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filepath.Base(filename), ext)
	base = strings.TrimSpace(filenameJunk.ReplaceAllString(base, ""))
	if len(base) > 100 {
		base = base[:100]
	}
	if base == "" {
		base = "invoice"
	}
	return base + ext
}

// CreateSession stages an uploaded document: the bytes go to the artifact
// store and a pending ScanSession row is created. Processing is submitted
// separately so the caller gets the session id immediately.
func (s *Service) CreateSession(ctx context.Context, store Store, filename, mediaType string, data []byte) (*ScanSession, error) {
	sessionID := s.idGenerator.Generate()
	key := sessionID.String()

	if err := s.artifacts.Save(key, mediaType, data); err != nil {
		return nil, fmt.Errorf("saving uploaded document: %w", err)
	}

	session := &ScanSession{
		SessionID:      sessionID,
		Status:         StatusPending,
		ArtifactKey:    &key,
		SourceFilename: sanitizeFilename(filename),
		CreatedAt:      s.timeSource.Now(),
	}
	if err := store.CreateSession(ctx, session); err != nil {
		// Don't leave an orphaned artifact behind
		if delErr := s.artifacts.Delete(key); delErr != nil {
			s.logger.WithFields(logrus.Fields{"session_id": key, "error": delErr}).
				Warn("failed to clean up artifact after session create failure")
		}
		return nil, fmt.Errorf("creating scan session: %w", err)
	}

	return session, nil
}

// GetSession returns one session with its extracted items.
func (s *Service) GetSession(ctx context.Context, store Store, sessionID uuid.UUID) (*ScanSession, []*ExtractedItem, error) {
	session, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	items, err := store.ListItems(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing extracted items: %w", err)
	}
	return session, items, nil
}

// ListSessions returns staged sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, store Store, limit, offset int) ([]*ScanSession, error) {
	return store.ListSessions(ctx, limit, offset)
}

// ListHistory returns committed invoices, newest first.
func (s *Service) ListHistory(ctx context.Context, store Store, limit, offset int) ([]*CommittedInvoice, error) {
	return store.ListCommittedInvoices(ctx, limit, offset)
}

// ItemPatch carries the operator-editable fields of one extracted item.
// Nil fields are left untouched.
type ItemPatch struct {
	ModifiedExpiryDate *time.Time
	ModifiedHealthDate *time.Time
	IncludeInCommit    *bool
}

// UpdateItem applies an operator edit during review. Edits never change the
// session's status; the first edit stamps the session as reviewed.
func (s *Service) UpdateItem(ctx context.Context, store Store, sessionID, itemID uuid.UUID, patch ItemPatch) (*ExtractedItem, error) {
	session, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, ErrCommitConflict
	}

	item, err := store.GetItem(ctx, sessionID, itemID)
	if err != nil {
		return nil, err
	}

	if patch.ModifiedExpiryDate != nil {
		item.ModifiedExpiryDate = patch.ModifiedExpiryDate
	}
	if patch.ModifiedHealthDate != nil {
		item.ModifiedHealthDate = patch.ModifiedHealthDate
	}
	if patch.IncludeInCommit != nil {
		item.IncludeInCommit = *patch.IncludeInCommit
	}
	if err := store.SaveItem(ctx, item); err != nil {
		return nil, fmt.Errorf("saving item: %w", err)
	}

	if session.ReviewedAt == nil {
		now := s.timeSource.Now()
		session.ReviewedAt = &now
		if err := store.SaveSession(ctx, session); err != nil {
			return nil, fmt.Errorf("stamping review time: %w", err)
		}
	}

	return item, nil
}
