package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/obentoo/gamepush/internal/common/logger"
	"github.com/obentoo/gamepush/internal/telemetry"
)

// Outcome is what happened to one detected event.
type Outcome struct {
	Event Event
	// Suppressed is set for first observations, which are stored but not announced.
	Suppressed bool
	// SizeErr is set when sizes could not be resolved; the event was
	// announced without them and no history was written.
	SizeErr         error
	HistoryInserted bool
	Report          *DispatchReport
}

// CheckResult is the result of one check cycle.
type CheckResult struct {
	Product  Product
	CycleID  string
	Snapshot Snapshot
	Outcomes []Outcome
	// Skipped is set when a scheduled check found another cycle running.
	Skipped bool
}

// Changed reports whether any version transition was detected.
func (r *CheckResult) Changed() bool {
	return r != nil && len(r.Outcomes) > 0
}

// Engine runs check cycles and answers version and download queries.
type Engine struct {
	adapters   map[ProductID]Adapter
	cache      *FetchCache
	state      StateStore
	history    HistoryStore
	config     ConfigSource
	dispatcher *Dispatcher
	namespace  string
	gate       *productGate
	newCycleID func() string
}

// EngineOption is a functional option for configuring Engine
type EngineOption func(*Engine)

// WithNamespace sets the version-state key namespace.
func WithNamespace(ns string) EngineOption {
	return func(e *Engine) {
		e.namespace = ns
	}
}

// WithHistory enables history recording.
func WithHistory(h HistoryStore) EngineOption {
	return func(e *Engine) {
		e.history = h
	}
}

// WithFetchCache replaces the default download metadata cache.
func WithFetchCache(c *FetchCache) EngineOption {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithCycleIDFunc sets the cycle id generator (useful for testing).
func WithCycleIDFunc(fn func() string) EngineOption {
	return func(e *Engine) {
		e.newCycleID = fn
	}
}

// NewEngine creates an engine over the adapter registry.
func NewEngine(adapters map[ProductID]Adapter, state StateStore, config ConfigSource, dispatcher *Dispatcher, opts ...EngineOption) *Engine {
	e := &Engine{
		adapters:   adapters,
		state:      state,
		config:     config,
		dispatcher: dispatcher,
		namespace:  "GamePush",
		gate:       newProductGate(),
		newCycleID: func() string { return uuid.NewString()[:8] },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewFetchCache(adapters, DefaultFetchTTL)
	}
	if e.config == nil {
		e.config = StaticConfig{}
	}
	return e
}

func (e *Engine) resolve(id ProductID) (Product, Adapter, error) {
	p, ok := LookupProduct(string(id))
	if !ok {
		return Product{}, nil, fmt.Errorf("%w: %s", ErrUnknownProduct, id)
	}
	a, ok := e.adapters[p.ID]
	if !ok {
		return Product{}, nil, fmt.Errorf("%w: no adapter for %s", ErrUnknownProduct, p.ID)
	}
	return p, a, nil
}

func storeErr(err error) error {
	if errors.Is(err, ErrStore) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStore, err)
}

// CheckVersion runs one check cycle for a product. Manual checks wait for
// a running cycle of the same product, in this process or another sharing
// the state file; scheduled checks are skipped.
// Fetch and state errors abort the cycle and are returned.
func (e *Engine) CheckVersion(ctx context.Context, id ProductID, manual bool) (*CheckResult, error) {
	product, adapter, err := e.resolve(id)
	if err != nil {
		return nil, err
	}
	result := &CheckResult{Product: product, CycleID: e.newCycleID()}
	log := logger.With(product.Name).With(result.CycleID)

	release, acquired, err := e.acquire(ctx, product.ID, manual)
	if err != nil {
		return result, err
	}
	if !acquired {
		log.Debug("previous check still running, skipping")
		result.Skipped = true
		return result, nil
	}
	defer release()

	ctx, span := telemetry.StartSpan(ctx, "monitor.CheckVersion", trace.WithAttributes(
		attribute.String("product", string(product.ID)),
		attribute.String("cycle", result.CycleID),
		attribute.Bool("manual", manual),
	))
	defer span.End()

	snap, err := adapter.Fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return result, err
	}
	result.Snapshot = snap
	log.Debug("upstream main=%q pre=%q", snap.Main, snap.Pre)

	known, err := e.known(ctx, product)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "state read failed")
		return result, err
	}

	ev, changed, err := e.diffMain(ctx, product, snap.Main)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "state write failed")
		return result, err
	}
	if changed {
		result.Outcomes = append(result.Outcomes, e.announce(ctx, log, adapter, ev))
	}

	ev, changed, err = e.diffPre(ctx, product, snap.Pre, known)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "state write failed")
		return result, err
	}
	if changed {
		result.Outcomes = append(result.Outcomes, e.announce(ctx, log, adapter, ev))
	}

	span.SetAttributes(attribute.Int("events", len(result.Outcomes)))
	return result, nil
}

// acquire takes the product's cycle slot in this process and, when the
// state store is shared, across processes. With wait unset it returns
// acquired false instead of waiting for a running cycle.
func (e *Engine) acquire(ctx context.Context, id ProductID, wait bool) (func(), bool, error) {
	if wait {
		if err := e.gate.lock(ctx, id); err != nil {
			return nil, false, err
		}
	} else if !e.gate.tryLock(id) {
		return nil, false, nil
	}

	locker, ok := e.state.(CycleLocker)
	if !ok {
		return func() { e.gate.unlock(id) }, true, nil
	}
	unlock, acquired, err := locker.LockCycle(ctx, id, wait)
	if err != nil || !acquired {
		e.gate.unlock(id)
		return nil, false, err
	}
	return func() {
		unlock()
		e.gate.unlock(id)
	}, true, nil
}

// known reports whether a main version was stored for p before this cycle.
func (e *Engine) known(ctx context.Context, p Product) (bool, error) {
	v, ok, err := e.state.Get(ctx, p.StateKey(e.namespace, ChannelMain))
	if err != nil {
		return false, storeErr(err)
	}
	return ok && v != "", nil
}

// diffMain records a strictly newer main version.
func (e *Engine) diffMain(ctx context.Context, p Product, fetched string) (Event, bool, error) {
	if fetched == "" {
		return Event{}, false, nil
	}
	key := p.StateKey(e.namespace, ChannelMain)
	stored, ok, err := e.state.Get(ctx, key)
	if err != nil {
		return Event{}, false, storeErr(err)
	}
	if !ok || stored == "" {
		stored = InitialVersion
	}
	if Compare(fetched, stored) <= 0 {
		return Event{}, false, nil
	}
	if err := e.state.Set(ctx, key, fetched); err != nil {
		return Event{}, false, storeErr(err)
	}
	e.cache.Invalidate(p.ID, ChannelMain)
	return Event{Type: EventMain, Product: p, NewVersion: fetched, OldVersion: stored}, true, nil
}

// diffPre records any pre-download change, including its disappearance.
// A pre-download opening on a product with no stored main version is a
// first observation; on a known product it carries an empty old version.
func (e *Engine) diffPre(ctx context.Context, p Product, fetched string, known bool) (Event, bool, error) {
	key := p.StateKey(e.namespace, ChannelPre)
	stored, ok, err := e.state.Get(ctx, key)
	if err != nil {
		return Event{}, false, storeErr(err)
	}
	if !ok {
		stored = ""
	}

	switch {
	case fetched != "" && fetched != stored:
		old := stored
		if old == "" && !known {
			old = InitialVersion
		}
		if err := e.state.Set(ctx, key, fetched); err != nil {
			return Event{}, false, storeErr(err)
		}
		e.cache.Invalidate(p.ID, ChannelPre)
		return Event{Type: EventPre, Product: p, NewVersion: fetched, OldVersion: old}, true, nil
	case fetched == "" && stored != "":
		if err := e.state.Delete(ctx, key); err != nil {
			return Event{}, false, storeErr(err)
		}
		e.cache.Invalidate(p.ID, ChannelPre)
		return Event{Type: EventPreRemove, Product: p, OldVersion: stored}, true, nil
	}
	return Event{}, false, nil
}

// announce resolves sizes, records history and dispatches one event.
func (e *Engine) announce(ctx context.Context, log logger.Scope, adapter Adapter, ev Event) Outcome {
	out := Outcome{Event: ev}
	if ev.OldVersion == InitialVersion {
		log.Info("first observation of %s %s, not announcing", ev.Type.Channel().Label(), ev.NewVersion)
		out.Suppressed = true
		return out
	}

	ctx, span := telemetry.StartSpan(ctx, "monitor.announce", trace.WithAttributes(
		attribute.String("event", string(ev.Type)),
		attribute.String("version.new", ev.NewVersion),
		attribute.String("version.old", ev.OldVersion),
	))
	defer span.End()

	log.Info("%s: %s", ev.Type, ev.Describe())

	cfg := e.config.ProductConfig(ev.Product.ID)
	ev.Format = cfg.Format
	ev.Template = cfg.Template

	if ev.Type != EventPreRemove {
		size, err := adapter.ResolveSize(ctx, ev.Type.Channel(), e.cache.Func(ev.Product.ID))
		if err != nil {
			log.Warn("size resolution failed, announcing without sizes: %v", err)
			span.RecordError(err)
			out.SizeErr = err
		} else {
			ev.Size = size
			out.HistoryInserted = e.record(ctx, log, ev)
		}
	}

	if ev.Format == FormatImage {
		if icon, err := adapter.IconURL(ctx); err == nil {
			ev.IconURL = icon
		} else {
			log.Debug("icon lookup failed: %v", err)
		}
	}
	out.Event = ev

	if len(cfg.Targets) == 0 {
		log.Debug("no delivery targets configured")
		return out
	}
	report := e.dispatcher.Dispatch(ctx, ev, cfg.Targets)
	out.Report = &report
	span.SetAttributes(attribute.Int("delivered", report.Delivered), attribute.Int("failed", len(report.Failed)))
	return out
}

func (e *Engine) record(ctx context.Context, log logger.Scope, ev Event) bool {
	if e.history == nil {
		return false
	}

	var (
		inserted bool
		err      error
	)
	switch ev.Type {
	case EventMain:
		inserted, err = e.history.UpsertMain(ctx, MainRecord{
			Product: ev.Product.ID,
			Version: ev.NewVersion,
			Size:    ev.Size.FormattedDownload(),
		})
	case EventPre:
		size := ev.Size.FormattedIncremental()
		if size == "" {
			size = ev.Size.FormattedDownload()
		}
		from := ev.Size.PatchVersion
		if from == "" {
			from = ev.OldVersion
		}
		inserted, err = e.history.UpsertPre(ctx, PreRecord{
			Product:    ev.Product.ID,
			Version:    ev.NewVersion,
			OldVersion: from,
			Size:       size,
		})
	}
	if err != nil {
		log.Warn("history write failed: %v", err)
		return false
	}
	if !inserted {
		log.Debug("%s %s already in history", ev.Type, ev.NewVersion)
	}
	return inserted
}

// GetDownloadLinks formats the current download listing of a channel.
func (e *Engine) GetDownloadLinks(ctx context.Context, id ProductID, ch Channel) (DownloadInfo, error) {
	product, _, err := e.resolve(id)
	if err != nil {
		return DownloadInfo{}, err
	}
	meta, err := e.cache.Get(ctx, product.ID, ch)
	if err != nil {
		return DownloadInfo{}, err
	}
	if meta.Major == nil {
		return DownloadInfo{}, fmt.Errorf("%w: %s %s", ErrNoDownload, product.Name, ch.Label())
	}
	return FormatDownloadInfo(product, meta), nil
}

// GetCurrentVersions returns the stored versions of a product.
func (e *Engine) GetCurrentVersions(ctx context.Context, id ProductID) (Versions, error) {
	product, _, err := e.resolve(id)
	if err != nil {
		return Versions{}, err
	}
	var v Versions
	if v.Main, _, err = e.state.Get(ctx, product.StateKey(e.namespace, ChannelMain)); err != nil {
		return Versions{}, storeErr(err)
	}
	if v.Pre, _, err = e.state.Get(ctx, product.StateKey(e.namespace, ChannelPre)); err != nil {
		return Versions{}, storeErr(err)
	}
	return v, nil
}

// SetStoredVersion overwrites the stored version of a channel. It waits
// for a running cycle of the product.
func (e *Engine) SetStoredVersion(ctx context.Context, id ProductID, ch Channel, version string) error {
	product, _, err := e.resolve(id)
	if err != nil {
		return err
	}
	if version == "" {
		return e.DeleteStoredVersion(ctx, id, ch)
	}
	release, _, err := e.acquire(ctx, product.ID, true)
	if err != nil {
		return err
	}
	defer release()

	if err := e.state.Set(ctx, product.StateKey(e.namespace, ch), version); err != nil {
		return storeErr(err)
	}
	logger.With(product.Name).Info("stored %s version set to %s", ch.Label(), version)
	return nil
}

// DeleteStoredVersion forgets the stored version of a channel.
func (e *Engine) DeleteStoredVersion(ctx context.Context, id ProductID, ch Channel) error {
	product, _, err := e.resolve(id)
	if err != nil {
		return err
	}
	release, _, err := e.acquire(ctx, product.ID, true)
	if err != nil {
		return err
	}
	defer release()

	if err := e.state.Delete(ctx, product.StateKey(e.namespace, ch)); err != nil {
		return storeErr(err)
	}
	logger.With(product.Name).Info("stored %s version cleared", ch.Label())
	return nil
}

// History lists recorded versions of a product, optionally for one version.
func (e *Engine) History(ctx context.Context, id ProductID, version string) ([]MainRecord, []PreRecord, error) {
	product, _, err := e.resolve(id)
	if err != nil {
		return nil, nil, err
	}
	if e.history == nil {
		return nil, nil, nil
	}
	mains, err := e.history.QueryMain(ctx, product.ID, version)
	if err != nil {
		return nil, nil, err
	}
	pres, err := e.history.QueryPre(ctx, product.ID, version)
	if err != nil {
		return nil, nil, err
	}
	return mains, pres, nil
}
