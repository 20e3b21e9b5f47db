package invoice

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kiranahq/backoffice/internal/config"
	"github.com/kiranahq/backoffice/internal/worker"
)

// maxUploadBytes caps the source document size. Phone photos and supplier
// PDFs are comfortably under this.
const maxUploadBytes = 25 << 20

// acceptedMediaTypes mirrors what the rasterizer can actually decode; an
// upload refused here never wastes a session on a doomed conversion.
var acceptedMediaTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/gif":       true,
	"image/heic":      true,
	"image/heif":      true,
}

// StoreResolver yields the tenant-scoped store for one request. In
// production it reads the store id header and asks the tenant provider; in
// tests it can return a fixture store.
type StoreResolver func(c *gin.Context) (Store, error)

// Handlers exposes the scan workflow over HTTP.
type Handlers struct {
	service  *Service
	pool     *worker.Pool
	resolve  StoreResolver
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

func NewHandlers(service *Service, pool *worker.Pool, resolve StoreResolver, logger *logrus.Logger) *Handlers {
	return &Handlers{
		service: service,
		pool:    pool,
		resolve: resolve,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API is consumed by the store-side app, not browsers on
			// arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the invoice endpoints under /api/invoices.
func (h *Handlers) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api/invoices")
	api.POST("/scan-upload", h.ScanUpload)
	api.GET("/scan-progress/:id", h.ScanProgress)
	api.GET("/sessions", h.ListSessions)
	api.GET("/sessions/:id", h.GetSession)
	api.PUT("/sessions/:id/items/:itemID", h.UpdateItem)
	api.POST("/sessions/:id/commit", h.Commit)
	api.POST("/sessions/:id/reject", h.Reject)
	api.GET("/committed", h.ListCommitted)
}

// ScanUpload accepts the source document, stages a pending session and
// queues background processing. The response returns immediately with the
// session id so the client can attach to the progress stream.
func (h *Handlers) ScanUpload(c *gin.Context) {
	store, err := h.resolve(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	mediaType := fileHeader.Header.Get("Content-Type")
	if idx := strings.Index(mediaType, ";"); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))
	if !acceptedMediaTypes[mediaType] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type: " + mediaType})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload"})
		return
	}
	if int64(len(data)) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	session, err := h.service.CreateSession(c.Request.Context(), store, fileHeader.Filename, mediaType, data)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	sessionID := session.SessionID
	err = h.pool.Submit("scan-session", func(ctx context.Context) {
		h.service.Process(ctx, store, sessionID)
	})
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"session_id": sessionID,
			"error":      err,
		}).Error("failed to queue scan processing")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "processing queue unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"session_id":   sessionID,
		"status":       session.Status,
		"filename":     session.SourceFilename,
		"progress_url": "/api/invoices/scan-progress/" + sessionID.String(),
	})
}

// writeWait bounds each websocket write.
const writeWait = 10 * time.Second

// ScanProgress streams the session's progress events over a websocket. For
// a session that already finished processing, one synthetic terminal event
// is sent and the socket is closed.
func (h *Handlers) ScanProgress(c *gin.Context) {
	store, err := h.resolve(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	// Subscribe before reading the session: a pipeline that finishes in
	// between is then caught by the status check below instead of leaving
	// this observer waiting on a stream nobody will ever close.
	events, cancel := h.service.hub.Subscribe(sessionID)
	defer cancel()

	session, err := store.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response
		return
	}
	defer conn.Close()

	// Drain reads so client close frames are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				return
			}
		}
	}()

	if session.Status == StatusCompleted || session.Status == StatusFailed || session.Status.Terminal() {
		h.writeFinalEvent(conn, session)
		return
	}

	for {
		select {
		case event, open := <-events:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if werr := conn.WriteJSON(event); werr != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// writeFinalEvent reconstructs the terminal progress event from the stored
// session for observers that attach after processing ended.
func (h *Handlers) writeFinalEvent(conn *websocket.Conn, session *ScanSession) {
	event := ProgressEvent{Stage: StageCompleted}
	if session.Status == StatusFailed {
		event.Stage = StageError
		if session.ErrorMessage != nil {
			event.Message = *session.ErrorMessage
		}
	} else {
		event.Supplier = session.SupplierName
		event.InvoiceNumber = session.InvoiceNumber
		if session.TotalAmount != nil {
			total := session.TotalAmount.InexactFloat64()
			event.TotalAmount = &total
		}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteJSON(event)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// ListSessions returns staged sessions, newest first.
func (h *Handlers) ListSessions(c *gin.Context) {
	store, err := h.resolve(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	limit, offset := pagination(c)
	sessions, err := h.service.ListSessions(c.Request.Context(), store, limit, offset)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// GetSession returns one session with its extracted items.
func (h *Handlers) GetSession(c *gin.Context) {
	store, err := h.resolve(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	session, items, err := h.service.GetSession(c.Request.Context(), store, sessionID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "items": items})
}

// updateItemRequest is the operator review edit payload. Dates arrive as
// YYYY-MM-DD strings.
type updateItemRequest struct {
	ModifiedExpiryDate *string `json:"modified_expiry_date"`
	ModifiedHealthDate *string `json:"modified_health_date"`
	IncludeInCommit    *bool   `json:"include_in_commit"`
}

// UpdateItem applies a review edit to one extracted item.
func (h *Handlers) UpdateItem(c *gin.Context) {
	store, err := h.resolve(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(c.Param("itemID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}

	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	patch := ItemPatch{IncludeInCommit: req.IncludeInCommit}
	if req.ModifiedExpiryDate != nil {
		t, perr := time.Parse("2006-01-02", *req.ModifiedExpiryDate)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid modified_expiry_date, expected YYYY-MM-DD"})
			return
		}
		patch.ModifiedExpiryDate = &t
	}
	if req.ModifiedHealthDate != nil {
		t, perr := time.Parse("2006-01-02", *req.ModifiedHealthDate)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid modified_health_date, expected YYYY-MM-DD"})
			return
		}
		patch.ModifiedHealthDate = &t
	}

	item, err := h.service.UpdateItem(c.Request.Context(), store, sessionID, itemID, patch)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

// Commit finalizes a reviewed session into history and inventory.
func (h *Handlers) Commit(c *gin.Context) {
	store, err := h.resolve(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	committed, err := h.service.Commit(c.Request.Context(), store, sessionID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"committed_invoice": committed})
}

// Reject discards a staged session.
func (h *Handlers) Reject(c *gin.Context) {
	store, err := h.resolve(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}
	if err := h.service.Reject(c.Request.Context(), store, sessionID); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "status": StatusRejected})
}

// ListCommitted returns the permanent invoice history, newest first.
func (h *Handlers) ListCommitted(c *gin.Context) {
	store, err := h.resolve(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	limit, offset := pagination(c)
	invoices, err := h.service.ListHistory(c.Request.Context(), store, limit, offset)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices, "count": len(invoices)})
}

func (h *Handlers) sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return uuid.Nil, false
	}
	return id, true
}

// abortWithError maps domain errors onto HTTP statuses.
func (h *Handlers) abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrCommitConflict), errors.Is(err, ErrDuplicateInvoice), errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNoItemsToCommit), errors.Is(err, ErrUnknownTenant):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		config.LogError(h.logger, "invoice", "handler", c.FullPath(), nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
