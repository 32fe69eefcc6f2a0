// Package history stores observed release and pre-download versions in
// SQLite. Rows are insert-only on their natural key.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/obentoo/gamepush/internal/history/migrations"
	"github.com/obentoo/gamepush/internal/monitor"
)

// mainRow maps the main table.
type mainRow struct {
	ID        uint      `gorm:"primaryKey"`
	Game      string    `gorm:"column:game;uniqueIndex:idx_main_game_version"`
	Version   string    `gorm:"column:version;uniqueIndex:idx_main_game_version"`
	Size      string    `gorm:"column:size"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (mainRow) TableName() string { return "main" }

// preRow maps the pre table. Ver is the pre-download version and OldVer
// the version it upgrades from.
type preRow struct {
	ID        uint      `gorm:"primaryKey"`
	Game      string    `gorm:"column:game;uniqueIndex:idx_pre_game_ver_oldver"`
	Ver       string    `gorm:"column:ver;uniqueIndex:idx_pre_game_ver_oldver"`
	OldVer    string    `gorm:"column:oldver;uniqueIndex:idx_pre_game_ver_oldver"`
	Size      string    `gorm:"column:size"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (preRow) TableName() string { return "pre" }

// Store is a monitor.HistoryStore backed by SQLite.
type Store struct {
	db *gorm.DB
}

var _ monitor.HistoryStore = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create history directory: %v", monitor.ErrStore, err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open history database: %v", monitor.ErrStore, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", monitor.ErrStore, err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	if err := migrations.Run(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: %v", monitor.ErrStore, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertMain inserts a release row unless (game, version) exists.
func (s *Store) UpsertMain(ctx context.Context, rec monitor.MainRecord) (bool, error) {
	row := mainRow{
		Game:      string(rec.Product),
		Version:   rec.Version,
		Size:      rec.Size,
		CreatedAt: createdAt(rec.CreatedAt),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game"}, {Name: "version"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("%w: failed to insert main history: %v", monitor.ErrStore, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpsertPre inserts a pre-download row unless (game, ver, oldver) exists.
func (s *Store) UpsertPre(ctx context.Context, rec monitor.PreRecord) (bool, error) {
	row := preRow{
		Game:      string(rec.Product),
		Ver:       rec.Version,
		OldVer:    rec.OldVersion,
		Size:      rec.Size,
		CreatedAt: createdAt(rec.CreatedAt),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game"}, {Name: "ver"}, {Name: "oldver"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("%w: failed to insert pre history: %v", monitor.ErrStore, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// QueryMain lists release rows of a product, newest first. An empty
// version matches all rows.
func (s *Store) QueryMain(ctx context.Context, product monitor.ProductID, version string) ([]monitor.MainRecord, error) {
	q := s.db.WithContext(ctx).Where("game = ?", string(product))
	if version != "" {
		q = q.Where("version = ?", version)
	}
	var rows []mainRow
	if err := q.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to query main history: %v", monitor.ErrStore, err)
	}

	out := make([]monitor.MainRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, monitor.MainRecord{
			Product:   monitor.ProductID(r.Game),
			Version:   r.Version,
			Size:      r.Size,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// QueryPre lists pre-download rows of a product, newest first.
func (s *Store) QueryPre(ctx context.Context, product monitor.ProductID, version string) ([]monitor.PreRecord, error) {
	q := s.db.WithContext(ctx).Where("game = ?", string(product))
	if version != "" {
		q = q.Where("ver = ?", version)
	}
	var rows []preRow
	if err := q.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to query pre history: %v", monitor.ErrStore, err)
	}

	out := make([]monitor.PreRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, monitor.PreRecord{
			Product:    monitor.ProductID(r.Game),
			Version:    r.Ver,
			OldVersion: r.OldVer,
			Size:       r.Size,
			CreatedAt:  r.CreatedAt,
		})
	}
	return out, nil
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
