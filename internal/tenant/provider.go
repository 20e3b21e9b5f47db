// Package tenant hands out per-store database handles. Each retail store
// lives in its own MySQL database; the provider opens connections lazily
// and caches them for the life of the process.
package tenant

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kiranahq/backoffice/internal/invoice"
)

// storeIDPattern keeps tenant identifiers safe to embed in a database name.
var storeIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]{0,49}$`)

// ErrInvalidStoreID is returned for tenant identifiers that don't look like
// provisioned store slugs.
var ErrInvalidStoreID = fmt.Errorf("invalid store id")

// Provider resolves a store identity to a scoped gorm handle.
type Provider struct {
	dsnTemplate string // fmt template with one %s for the database name
	dbPrefix    string
	logger      *logrus.Logger

	mu  sync.Mutex
	dbs map[string]*gorm.DB
}

// NewProvider creates a Provider. dsnTemplate is a go-sql-driver DSN with a
// single %s where the database name goes, e.g.
// "user:pass@tcp(localhost:3306)/%s?parseTime=true".
func NewProvider(dsnTemplate, dbPrefix string, logger *logrus.Logger) *Provider {
	return &Provider{
		dsnTemplate: dsnTemplate,
		dbPrefix:    dbPrefix,
		logger:      logger,
		dbs:         make(map[string]*gorm.DB),
	}
}

// DB returns the gorm handle for one store's database, opening and
// migrating it on first use.
func (p *Provider) DB(storeID string) (*gorm.DB, error) {
	storeID = strings.ToLower(strings.TrimSpace(storeID))
	if !storeIDPattern.MatchString(storeID) {
		return nil, ErrInvalidStoreID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.dbs[storeID]; ok {
		return db, nil
	}

	dbName := p.dbPrefix + strings.ReplaceAll(storeID, "-", "_")
	dsn := fmt.Sprintf(p.dsnTemplate, dbName)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Error),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting tenant database %s: %w", dbName, err)
	}

	if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := invoice.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrating tenant database %s: %w", dbName, err)
	}

	p.logger.WithFields(logrus.Fields{
		"module":   "tenant",
		"store_id": storeID,
		"database": dbName,
	}).Info("tenant database connected")

	p.dbs[storeID] = db
	return db, nil
}

// Store returns the invoice store bound to one tenant's database.
func (p *Provider) Store(storeID string) (invoice.Store, error) {
	db, err := p.DB(storeID)
	if err != nil {
		return nil, err
	}
	return invoice.NewGormStore(db), nil
}
