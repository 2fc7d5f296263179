package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/browserpilot/engine/session"
)

// Config configures the relational archive's storage location.
type Config struct {
	// DSN is the sqlite data source, e.g. "file:browserpilot-replay.db?mode=rwc"
	// or ":memory:" for a process-local archive that does not survive restart.
	DSN string
}

// Archive is the C12 relational replay store: every terminal (or
// on-demand) replay export is mirrored here so it can be queried by
// session, state, or export time without deserializing every blob in the
// key-value store.
type Archive struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewArchive applies the embedded migrations against cfg.DSN and opens a
// gorm connection over it. DSN ":memory:" skips the file-based migration
// step and lets gorm's AutoMigrate build the schema instead, since an
// in-memory sqlite3 connection from golang-migrate's driver would not
// share state with gorm's own connection.
func NewArchive(cfg Config, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DSN == "" {
		return nil, errors.New("replay: DSN must not be empty")
	}

	if cfg.DSN != ":memory:" {
		if err := runMigrations(cfg.DSN); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("replay: open sqlite: %w", err)
	}

	if cfg.DSN == ":memory:" {
		if err := db.AutoMigrate(&Record{}); err != nil {
			return nil, fmt.Errorf("replay: automigrate: %w", err)
		}
	}

	logger.Info("replay archive initialized", zap.String("dsn", cfg.DSN))
	return &Archive{db: db, logger: logger.With(zap.String("component", "replay_archive"))}, nil
}

// Save inserts a new row mirroring export. The store's "replay:{id}" key
// remains the canonical copy; this is an additional queryable index, so a
// session may accumulate several archived rows across repeated /replay
// calls against an in-progress session.
func (a *Archive) Save(ctx context.Context, export *session.ReplayExport) error {
	record, err := newRecord(export)
	if err != nil {
		return fmt.Errorf("replay: build record: %w", err)
	}
	if err := a.db.WithContext(ctx).Create(record).Error; err != nil {
		a.logger.Error("failed to save replay record", zap.String("sessionId", export.SessionID), zap.Error(err))
		return fmt.Errorf("replay: save: %w", err)
	}
	return nil
}

// Latest returns the most recently exported record for a session, or
// ErrNotFound if none has ever been archived.
func (a *Archive) Latest(ctx context.Context, sessionID string) (*session.ReplayExport, error) {
	var record Record
	err := a.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("exported_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &ErrNotFound{SessionID: sessionID}
		}
		a.logger.Error("failed to load replay record", zap.String("sessionId", sessionID), zap.Error(err))
		return nil, fmt.Errorf("replay: latest: %w", err)
	}
	return record.toExport()
}

// ListOptions filters the archive's List query.
type ListOptions struct {
	State  string
	Limit  int
	Offset int
}

// List returns archived exports newest-first, optionally filtered by
// terminal state (e.g. "COMPLETED", "ERROR").
func (a *Archive) List(ctx context.Context, opts ListOptions) ([]*session.ReplayExport, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	q := a.db.WithContext(ctx).Order("exported_at DESC").Limit(limit).Offset(opts.Offset)
	if opts.State != "" {
		q = q.Where("state = ?", opts.State)
	}

	var records []Record
	if err := q.Find(&records).Error; err != nil {
		a.logger.Error("failed to list replay records", zap.Error(err))
		return nil, fmt.Errorf("replay: list: %w", err)
	}

	exports := make([]*session.ReplayExport, 0, len(records))
	for i := range records {
		export, err := records[i].toExport()
		if err != nil {
			return nil, fmt.Errorf("replay: decode record %d: %w", records[i].ID, err)
		}
		exports = append(exports, export)
	}
	return exports, nil
}

// CountBySession returns how many times a session has been archived.
func (a *Archive) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := a.db.WithContext(ctx).Model(&Record{}).Where("session_id = ?", sessionID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("replay: count: %w", err)
	}
	return count, nil
}

// Close releases the underlying sqlite connection.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ErrNotFound is returned by Latest when a session has never been
// archived.
type ErrNotFound struct{ SessionID string }

func (e *ErrNotFound) Error() string { return "replay: no archived export for session " + e.SessionID }
