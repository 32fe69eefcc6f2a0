package monitor

import (
	"context"
	"time"
)

// MainRecord is one observed release version.
type MainRecord struct {
	Product   ProductID
	Version   string
	Size      string
	CreatedAt time.Time
}

// PreRecord is one observed pre-download, keyed by the version it
// upgrades from.
type PreRecord struct {
	Product    ProductID
	Version    string
	OldVersion string
	Size       string
	CreatedAt  time.Time
}

// HistoryStore records observed versions. Upserts are insert-only on the
// natural key and report whether a row was created.
type HistoryStore interface {
	UpsertMain(ctx context.Context, rec MainRecord) (inserted bool, err error)
	UpsertPre(ctx context.Context, rec PreRecord) (inserted bool, err error)
	// QueryMain lists records of a product, optionally for one version.
	QueryMain(ctx context.Context, product ProductID, version string) ([]MainRecord, error)
	QueryPre(ctx context.Context, product ProductID, version string) ([]PreRecord, error)
}
