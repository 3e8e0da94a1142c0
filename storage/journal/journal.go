package journal

import (
	"context"
	"encoding/hex"
	"encoding/json"
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
	gormlogger "gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"poolrewards/core/events"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

var ErrUnsupportedDSN = errors.New("journal: unsupported dsn")

// Record is one committed event as persisted in the journal.
type Record struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Sequence    uint64    `gorm:"uniqueIndex;not null" json:"sequence"`
	Type        string    `gorm:"size:64;index" json:"type"`
	Distributor string    `gorm:"size:128;index" json:"distributor,omitempty"`
	Market      string    `gorm:"size:128;index" json:"market,omitempty"`
	Account     string    `gorm:"size:128;index" json:"account,omitempty"`
	Attributes  string    `gorm:"type:text" json:"attributes"`
	Digest      string    `gorm:"size:64" json:"digest"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (Record) TableName() string { return "reward_events" }

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type    string
	Account string
	After   uint64
	Limit   int
}

// Journal appends committed events to a SQL table. It implements
// events.Emitter.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq uint64
}

// Dialector picks the gorm driver for dsn. postgres:// and postgresql://
// URLs use Postgres; sqlite://<path> uses the embedded SQLite driver.
func Dialector(dsn string) (gorm.Dialector, error) {
	trimmed := strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return postgres.Open(trimmed), nil
	case strings.HasPrefix(trimmed, "sqlite://"):
		path := strings.TrimPrefix(trimmed, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("%w: sqlite path required", ErrUnsupportedDSN)
		}
		return sqlite.Open(path), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedDSN, dsn)
}

// Open connects to dsn and migrates the journal table.
func Open(dsn string, logger *slog.Logger) (*Journal, error) {
	dialector, err := Dialector(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return New(db, logger)
}

// New wraps an open database, migrating the schema and resuming the
// sequence from the last stored record.
func New(db *gorm.DB, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	var last Record
	res := db.Order("sequence desc").Limit(1).Find(&last)
	if res.Error != nil {
		return nil, fmt.Errorf("journal: load sequence: %w", res.Error)
	}
	return &Journal{
		db:     db,
		logger: logger.With(slog.String("module", "journal")),
		now:    time.Now,
		seq:    last.Sequence,
	}, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Digest is the blake3 hash binding an event's type to its attributes.
func Digest(eventType, attributes string) string {
	sum := blake3.Sum256([]byte(eventType + "\n" + attributes))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether the record still matches its digest.
func (r Record) Verify() bool {
	return r.Digest == Digest(r.Type, r.Attributes)
}

// Append stores evt and returns the persisted record.
func (j *Journal) Append(ctx context.Context, evt events.Event) (*Record, error) {
	rendered := events.Render(evt)
	if rendered == nil {
		return nil, errors.New("journal: nil event")
	}
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return nil, fmt.Errorf("journal: encode attributes: %w", err)
	}
	account := rendered.Attributes["user"]
	if account == "" {
		account = rendered.Attributes["account"]
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	rec := &Record{
		ID:          uuid.New(),
		Sequence:    j.seq + 1,
		Type:        rendered.Type,
		Distributor: rendered.Attributes["distributor"],
		Market:      rendered.Attributes["market"],
		Account:     account,
		Attributes:  string(attrs),
		Digest:      Digest(rendered.Type, string(attrs)),
		CreatedAt:   j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("journal: insert: %w", err)
	}
	j.seq = rec.Sequence
	return rec, nil
}

// Emit implements events.Emitter. Failures are logged since emitters cannot
// report errors.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	if _, err := j.Append(context.Background(), evt); err != nil {
		j.logger.Error("journal append failed",
			slog.String("type", evt.EventType()),
			slog.Any("error", err))
	}
}

// List returns records in sequence order.
func (j *Journal) List(ctx context.Context, f Filter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := j.db.WithContext(ctx).Model(&Record{}).Where("sequence > ?", f.After)
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}
	if f.Account != "" {
		query = query.Where("account = ?", f.Account)
	}
	var out []Record
	if err := query.Order("sequence asc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return out, nil
}
