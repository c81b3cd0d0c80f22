package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"microescrow/core/events"
	"microescrow/crypto"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Filter narrows a List call. Zero values match everything.
type Filter struct {
	Contract string
	Type     string
	// Cursor returns events strictly after this record id.
	Cursor uint64
	Limit  int
}

// Page is one window of indexed events.
type Page struct {
	Events     []EventRecord `json:"events"`
	NextCursor uint64        `json:"nextCursor"`
}

// Indexer stores published events and serves cursor-paginated reads. It
// implements events.Emitter so it can be attached to the host fanout.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	listeners []func(EventRecord)
}

// Open connects to dsn. DSNs starting with postgres:// or postgresql://
// select Postgres; anything else is handed to sqlite.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("indexer: empty dsn")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open: %w", err)
	}
	return db, nil
}

// New migrates db and returns an indexer over it.
func New(db *gorm.DB, log *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: nil database")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{db: db, logger: log, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Emit implements events.Emitter. Only committed envelopes are indexed.
func (ix *Indexer) Emit(evt events.Event) {
	env, ok := evt.(events.Envelope)
	if !ok {
		return
	}
	rec, err := ix.Store(context.Background(), env)
	if err != nil {
		ix.logger.Error("index event failed",
			slog.String("invocation", env.InvocationID),
			slog.String("type", env.EventType()),
			slog.String("error", err.Error()))
		return
	}
	ix.mu.RLock()
	listeners := ix.listeners
	ix.mu.RUnlock()
	for _, fn := range listeners {
		fn(rec)
	}
}

// OnStored registers fn to receive every record indexed through Emit, with
// its cursor assigned, in commit order.
func (ix *Indexer) OnStored(fn func(EventRecord)) {
	if fn == nil {
		return
	}
	ix.mu.Lock()
	ix.listeners = append(ix.listeners[:len(ix.listeners):len(ix.listeners)], fn)
	ix.mu.Unlock()
}

// Store indexes a single envelope and returns the persisted record.
func (ix *Indexer) Store(ctx context.Context, env events.Envelope) (EventRecord, error) {
	if env.Payload == nil {
		return EventRecord{}, errors.New("indexer: envelope without payload")
	}
	attrs := make(map[string]string, len(env.Payload.Attributes))
	for k, v := range env.Payload.Attributes {
		attrs[k] = v
	}
	rec := EventRecord{
		EventID:      uuid.New(),
		Contract:     crypto.FormatContract(env.Contract),
		Height:       env.Height,
		InvocationID: env.InvocationID,
		Position:     env.Index,
		Type:         env.Payload.Type,
		Attributes:   attrs,
		CreatedAt:    ix.now(),
	}
	if err := ix.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return EventRecord{}, err
	}
	return rec, nil
}

// List returns events after f.Cursor in commit order.
func (ix *Indexer) List(ctx context.Context, f Filter) (Page, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	query := ix.db.WithContext(ctx).Model(&EventRecord{}).Where("id > ?", f.Cursor)
	if contract := strings.TrimSpace(f.Contract); contract != "" {
		query = query.Where("contract = ?", contract)
	}
	if typ := strings.TrimSpace(f.Type); typ != "" {
		query = query.Where("type = ?", typ)
	}
	var records []EventRecord
	if err := query.Order("id ASC").Limit(limit).Find(&records).Error; err != nil {
		return Page{}, err
	}
	page := Page{Events: records, NextCursor: f.Cursor}
	if n := len(records); n > 0 {
		page.NextCursor = records[n-1].ID
	}
	return page, nil
}

// Close releases the underlying connection pool.
func (ix *Indexer) Close() error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
