// Package sql is an es.Backend on a relational database through gorm. Postgres
// and SQLite are supported.
package sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/codewandler/streamstore/core/es"
)

type Config struct {
	// Dialector takes precedence over PostgresDSN and SQLitePath.
	Dialector   gorm.Dialector
	PostgresDSN string
	SQLitePath  string
	Log         *slog.Logger
	// Debug logs every SQL statement.
	Debug bool
}

type gormStream struct {
	ID        string `gorm:"primaryKey;size:255"`
	Type      string `gorm:"index;size:255"`
	Version   uint64
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (gormStream) TableName() string { return "streams" }

type gormEvent struct {
	Sequence   uint64 `gorm:"autoIncrement;primaryKey"`
	ID         string `gorm:"index;size:255"`
	StreamID   string `gorm:"index:idx_stream_version,unique;size:255"`
	Version    uint64 `gorm:"index:idx_stream_version,unique"`
	ActorID    *string
	OccurredOn time.Time
	IsDeleted  *bool
	TypeName   string
	Payload    string
}

func (gormEvent) TableName() string { return "events" }

// EventStore keeps stream heads in a streams table and records in an events table
// with a unique (stream_id, version) index. Writes run in one database
// transaction, so it is batch atomic.
type EventStore struct {
	db  *gorm.DB
	log *slog.Logger
}

func Open(cfg Config) (*EventStore, error) {
	dial := cfg.Dialector
	sqliteDB := false
	switch {
	case dial != nil:
		_, sqliteDB = dial.(*sqlite.Dialector)
	case cfg.PostgresDSN != "":
		dial = postgres.Open(cfg.PostgresDSN)
	case cfg.SQLitePath != "":
		dial = sqlite.Open(cfg.SQLitePath)
		sqliteDB = true
	default:
		return nil, errors.New("either postgres dsn or sqlite path must be provided")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	gormLog := logger.Discard
	if cfg.Debug {
		gormLog = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if sqliteDB {
		// SQLite allows a single writer; one connection serializes transactions
		// instead of failing them with SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&gormStream{}, &gormEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return &EventStore{
		db:  db,
		log: log.With(slog.String("backend", "sql"), slog.String("dialect", dial.Name())),
	}, nil
}

// Close should be called as a part of cleanup process
// in order to close the underlying sql connection
func (s *EventStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *EventStore) Atomicity() es.Atomicity { return es.BatchAtomic }

func (s *EventStore) Head(ctx context.Context, id es.StreamID) (es.StreamHead, bool, error) {
	return head(s.db.WithContext(ctx), id)
}

func (s *EventStore) ReadRange(ctx context.Context, id es.StreamID, from, to es.Version) ([]es.Record, error) {
	q := s.db.WithContext(ctx).
		Where("stream_id = ? AND version >= ?", id.String(), from.Uint64())
	if to > 0 {
		q = q.Where("version <= ?", to.Uint64())
	}

	var rows []gormEvent
	if err := q.Order("version").Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]es.Record, len(rows))
	for i, row := range rows {
		records[i] = row.toRecord()
	}
	return records, nil
}

func (s *EventStore) StreamIDs(ctx context.Context, streamType string) ([]es.StreamID, error) {
	q := s.db.WithContext(ctx).Model(&gormStream{})
	if streamType != "" {
		q = q.Where("type = ?", streamType)
	}

	var ids []string
	if err := q.Order("created_at").Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}

	out := make([]es.StreamID, len(ids))
	for i, id := range ids {
		out[i] = es.StreamID(id)
	}
	return out, nil
}

// Write runs fn in a database transaction, rolled back when fn fails.
func (s *EventStore) Write(ctx context.Context, fn func(tx es.BackendTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&sqlTx{db: tx, log: s.log})
	})
}

type sqlTx struct {
	db  *gorm.DB
	log *slog.Logger
}

func (t *sqlTx) Head(ctx context.Context, id es.StreamID) (es.StreamHead, bool, error) {
	return head(t.db.WithContext(ctx), id)
}

func (t *sqlTx) CompareAndAppend(ctx context.Context, req es.AppendRequest) error {
	if len(req.Records) == 0 {
		return es.ErrNoEvents
	}

	var (
		db   = t.db.WithContext(ctx)
		last = req.Records[len(req.Records)-1].Version
	)

	if req.Expected == 0 {
		err := db.Create(&gormStream{ID: req.StreamID.String(), Type: req.Type, Version: last.Uint64()}).Error
		if err != nil {
			return mapError(req, err)
		}
	} else {
		res := db.Model(&gormStream{}).
			Where("id = ? AND version = ?", req.StreamID.String(), req.Expected.Uint64()).
			Update("version", last.Uint64())
		if res.Error != nil {
			return mapError(req, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: stream %s is not at version %d", es.ErrVersionConflict, req.StreamID, req.Expected)
		}
	}

	rows := make([]gormEvent, len(req.Records))
	for i, r := range req.Records {
		if r.Version != req.Expected+es.Version(i+1) {
			return fmt.Errorf("%w: record version %d is not gapless after %d", es.ErrVersionConflict, r.Version, req.Expected)
		}
		rows[i] = fromRecord(req.StreamID, r)
	}
	if err := db.Create(&rows).Error; err != nil {
		return mapError(req, err)
	}

	t.log.Debug("appended", slog.String("stream_id", req.StreamID.String()), last.SlogAttr())
	return nil
}

func head(db *gorm.DB, id es.StreamID) (es.StreamHead, bool, error) {
	var row gormStream
	err := db.Where("id = ?", id.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return es.StreamHead{ID: id}, false, nil
	}
	if err != nil {
		return es.StreamHead{ID: id}, false, err
	}
	return es.StreamHead{ID: id, Type: row.Type, Version: es.Version(row.Version)}, true, nil
}

// mapError turns unique constraint violations into es.ErrVersionConflict.
func mapError(req es.AppendRequest, err error) error {
	var sqliteErr sqlite3.Error
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		(errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint) {
		return fmt.Errorf("%w: stream %s was appended concurrently", es.ErrVersionConflict, req.StreamID)
	}
	return fmt.Errorf("failed to append to stream %s: %w", req.StreamID, err)
}

func fromRecord(id es.StreamID, r es.Record) gormEvent {
	row := gormEvent{
		ID:         r.ID.String(),
		StreamID:   id.String(),
		Version:    r.Version.Uint64(),
		OccurredOn: r.OccurredOn.UTC(),
		IsDeleted:  r.IsDeleted,
		TypeName:   r.TypeName,
		Payload:    string(r.Payload),
	}
	if r.ActorID != "" {
		actor := r.ActorID.String()
		row.ActorID = &actor
	}
	return row
}

func (row gormEvent) toRecord() es.Record {
	r := es.Record{
		ID:         es.EventID(row.ID),
		Version:    es.Version(row.Version),
		OccurredOn: row.OccurredOn.UTC(),
		IsDeleted:  row.IsDeleted,
		TypeName:   row.TypeName,
		Payload:    []byte(row.Payload),
	}
	if row.ActorID != nil {
		r.ActorID = es.ActorID(*row.ActorID)
	}
	return r
}

var (
	_ es.Backend   = (*EventStore)(nil)
	_ es.BackendTx = (*sqlTx)(nil)
)
