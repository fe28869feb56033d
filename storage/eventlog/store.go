package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"escrowmarket/core/events"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

var errNilStore = errors.New("eventlog: store not configured")

// Record is one committed event as persisted.
type Record struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	InvocationID string    `gorm:"size:64;index"`
	Sequence     int       `gorm:"not null"`
	Type         string    `gorm:"size:64;index"`
	Listing      string    `gorm:"size:64;index"`
	Attributes   string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"index"`
}

func (Record) TableName() string { return "market_events" }

// Entry is the decoded form of a Record returned to readers.
type Entry struct {
	ID           uint64            `json:"id"`
	InvocationID string            `json:"invocationId"`
	Sequence     int               `json:"sequence"`
	Type         string            `json:"type"`
	Attributes   map[string]string `json:"attributes"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Type    string
	Listing string
	Limit   int
}

// Store appends committed events to a SQL table and serves them newest first.
// It implements events.Emitter so it can sit behind the runtime directly.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time
}

// Open connects to driver ("sqlite" or "postgres") and migrates the schema.
func Open(driver, conn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(conn)
	case "postgres":
		dialector = postgres.Open(conn)
	default:
		return nil, fmt.Errorf("eventlog: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errNilStore
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}
	return &Store{db: db, logger: slog.Default(), nowFn: time.Now}, nil
}

// SetLogger overrides the logger used to report failed appends from Emit.
func (s *Store) SetLogger(l *slog.Logger) {
	if s == nil || l == nil {
		return
	}
	s.logger = l
}

// SetNowFunc overrides the clock used for CreatedAt.
func (s *Store) SetNowFunc(now func() time.Time) {
	if s == nil || now == nil {
		return
	}
	s.nowFn = now
}

// Emit persists committed envelopes. Other event kinds are ignored. Emit has no
// error return, so failures are logged.
func (s *Store) Emit(evt events.Event) {
	env, ok := evt.(events.Envelope)
	if !ok || env.Payload == nil {
		return
	}
	if err := s.Append(context.Background(), env); err != nil && s != nil {
		s.logger.Error("event log append failed",
			slog.String("type", env.EventType()),
			slog.String("invocation", env.InvocationID),
			slog.String("error", err.Error()))
	}
}

// Append stores one envelope.
func (s *Store) Append(ctx context.Context, env events.Envelope) error {
	if s == nil || s.db == nil {
		return errNilStore
	}
	if env.Payload == nil {
		return fmt.Errorf("eventlog: empty envelope")
	}
	attrs, err := json.Marshal(env.Payload.Attributes)
	if err != nil {
		return fmt.Errorf("eventlog: encode attributes: %w", err)
	}
	rec := &Record{
		InvocationID: env.InvocationID,
		Sequence:     env.Sequence,
		Type:         env.Payload.Type,
		Listing:      env.Payload.Attributes["listing"],
		Attributes:   string(attrs),
		CreatedAt:    s.nowFn().UTC(),
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// List returns matching entries, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errNilStore
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	query := s.db.WithContext(ctx).Model(&Record{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Listing != "" {
		query = query.Where("listing = ?", filter.Listing)
	}
	var records []Record
	if err := query.Order("id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("eventlog: list: %w", err)
	}
	out := make([]Entry, 0, len(records))
	for _, rec := range records {
		entry := Entry{
			ID:           rec.ID,
			InvocationID: rec.InvocationID,
			Sequence:     rec.Sequence,
			Type:         rec.Type,
			CreatedAt:    rec.CreatedAt,
		}
		if rec.Attributes != "" {
			if err := json.Unmarshal([]byte(rec.Attributes), &entry.Attributes); err != nil {
				return nil, fmt.Errorf("eventlog: decode record %d: %w", rec.ID, err)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
