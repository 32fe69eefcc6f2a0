package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// memHistory is an in-memory HistoryStore keyed like the SQL unique indexes.
type memHistory struct {
	mu    sync.Mutex
	mains map[string]MainRecord
	pres  map[string]PreRecord
}

func newMemHistory() *memHistory {
	return &memHistory{mains: map[string]MainRecord{}, pres: map[string]PreRecord{}}
}

func (h *memHistory) UpsertMain(_ context.Context, rec MainRecord) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := string(rec.Product) + "|" + rec.Version
	if _, ok := h.mains[key]; ok {
		return false, nil
	}
	h.mains[key] = rec
	return true, nil
}

func (h *memHistory) UpsertPre(_ context.Context, rec PreRecord) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := string(rec.Product) + "|" + rec.Version + "|" + rec.OldVersion
	if _, ok := h.pres[key]; ok {
		return false, nil
	}
	h.pres[key] = rec
	return true, nil
}

func (h *memHistory) QueryMain(_ context.Context, p ProductID, version string) ([]MainRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []MainRecord
	for _, r := range h.mains {
		if r.Product == p && (version == "" || r.Version == version) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (h *memHistory) QueryPre(_ context.Context, p ProductID, version string) ([]PreRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []PreRecord
	for _, r := range h.pres {
		if r.Product == p && (version == "" || r.Version == version) {
			out = append(out, r)
		}
	}
	return out, nil
}

type engineFixture struct {
	upstream *fakeLauncher
	state    *FileStateStore
	history  *memHistory
	sender   *recordingSender
	engine   *Engine
}

var testTargets = []Target{{"10001", "200"}, {"10001", "300"}}

func newEngineFixture(t *testing.T, cfg ProductConfig) *engineFixture {
	t.Helper()
	f := &engineFixture{
		upstream: newFakeLauncher(t),
		history:  newMemHistory(),
		sender:   newRecordingSender(),
	}
	var err error
	f.state, err = NewFileStateStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	adapters := map[ProductID]Adapter{
		WutheringWaves: f.upstream.adapter(t, WutheringWaves),
		Genshin:        f.upstream.adapter(t, Genshin),
	}
	f.engine = NewEngine(adapters, f.state,
		StaticConfig{WutheringWaves: cfg, Genshin: cfg},
		NewDispatcher(f.sender),
		WithHistory(f.history),
		WithCycleIDFunc(func() string { return "c0ffee00" }),
	)
	return f
}

func textConfig() ProductConfig {
	cfg := DefaultProductConfig()
	cfg.Format = FormatText
	cfg.Targets = testTargets
	return cfg
}

func (f *engineFixture) seed(t *testing.T, id ProductID, ch Channel, version string) {
	t.Helper()
	if err := f.state.Set(context.Background(), MustProduct(id).StateKey("GamePush", ch), version); err != nil {
		t.Fatal(err)
	}
}

func (f *engineFixture) stored(t *testing.T, id ProductID, ch Channel) string {
	t.Helper()
	v, _, err := f.state.Get(context.Background(), MustProduct(id).StateKey("GamePush", ch))
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestCheckVersionColdStartIsSuppressed(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	f.upstream.set("/index.json", kuroIndexJSON("2.4.0", ""))

	res, err := f.engine.CheckVersion(context.Background(), WutheringWaves, true)
	if err != nil {
		t.Fatalf("CheckVersion() error = %v", err)
	}
	if len(res.Outcomes) != 1 || !res.Outcomes[0].Suppressed {
		t.Fatalf("outcomes = %+v, want one suppressed", res.Outcomes)
	}
	if got := f.stored(t, WutheringWaves, ChannelMain); got != "2.4.0" {
		t.Errorf("stored main = %q, want 2.4.0", got)
	}
	if f.sender.total() != 0 {
		t.Errorf("sent %d messages on cold start", f.sender.total())
	}
	if len(f.history.mains) != 0 {
		t.Error("cold start must not write history")
	}
	if res.CycleID != "c0ffee00" {
		t.Errorf("CycleID = %q", res.CycleID)
	}
}

func TestCheckVersionMainUpdateUsesNumericOrder(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	f.seed(t, WutheringWaves, ChannelMain, "2.3.9")
	f.upstream.set("/index.json", kuroIndexJSON("2.3.10", ""))

	res, err := f.engine.CheckVersion(context.Background(), WutheringWaves, true)
	if err != nil {
		t.Fatalf("CheckVersion() error = %v", err)
	}
	if len(res.Outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(res.Outcomes))
	}
	out := res.Outcomes[0]
	if out.Event.Type != EventMain || out.Event.OldVersion != "2.3.9" || out.Event.NewVersion != "2.3.10" {
		t.Errorf("event = %+v", out.Event)
	}
	if out.Report == nil || out.Report.Delivered != len(testTargets) {
		t.Errorf("report = %+v", out.Report)
	}
	if !out.HistoryInserted {
		t.Error("history row not inserted")
	}
	rec := f.history.mains["ww|2.3.10"]
	if rec.Size != "10.00 KB" {
		t.Errorf("history size = %q, want 10.00 KB", rec.Size)
	}
	if f.sender.total() != len(testTargets) {
		t.Errorf("sent = %d", f.sender.total())
	}
}

func TestCheckVersionIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	f.seed(t, WutheringWaves, ChannelMain, "2.3.0")
	f.upstream.set("/index.json", kuroIndexJSON("2.4.0", ""))

	ctx := context.Background()
	if _, err := f.engine.CheckVersion(ctx, WutheringWaves, true); err != nil {
		t.Fatal(err)
	}
	sent := f.sender.total()

	res, err := f.engine.CheckVersion(ctx, WutheringWaves, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed() {
		t.Errorf("second cycle produced %+v", res.Outcomes)
	}
	if f.sender.total() != sent {
		t.Error("second cycle sent messages")
	}
}

func TestCheckVersionIgnoresOlderMain(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	f.seed(t, WutheringWaves, ChannelMain, "2.4.0")
	f.upstream.set("/index.json", kuroIndexJSON("2.3.10", ""))

	res, err := f.engine.CheckVersion(context.Background(), WutheringWaves, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed() {
		t.Errorf("rollback produced events: %+v", res.Outcomes)
	}
	if got := f.stored(t, WutheringWaves, ChannelMain); got != "2.4.0" {
		t.Errorf("stored main = %q", got)
	}
}

func TestCheckVersionPreLifecycle(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	ctx := context.Background()
	f.seed(t, WutheringWaves, ChannelMain, "2.4.0")
	f.seed(t, WutheringWaves, ChannelPre, "2.4.9")

	f.upstream.set("/index.json", kuroIndexJSON("2.4.0", "2.5.0"))
	res, err := f.engine.CheckVersion(ctx, WutheringWaves, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Outcomes) != 1 || res.Outcomes[0].Event.Type != EventPre {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}
	ev := res.Outcomes[0].Event
	if ev.OldVersion != "2.4.9" || ev.NewVersion != "2.5.0" {
		t.Errorf("event = %+v", ev)
	}
	rec, ok := f.history.pres["ww|2.5.0|2.4.9"]
	if !ok {
		t.Fatalf("pre history missing: %+v", f.history.pres)
	}
	if rec.Size != "3.00 KB" {
		t.Errorf("pre size = %q", rec.Size)
	}

	f.upstream.set("/index.json", kuroIndexJSON("2.4.0", ""))
	res, err = f.engine.CheckVersion(ctx, WutheringWaves, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Outcomes) != 1 || res.Outcomes[0].Event.Type != EventPreRemove {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}
	if res.Outcomes[0].Event.OldVersion != "2.5.0" {
		t.Errorf("removed version = %q", res.Outcomes[0].Event.OldVersion)
	}
	if _, ok, _ := f.state.Get(ctx, MustProduct(WutheringWaves).StateKey("GamePush", ChannelPre)); ok {
		t.Error("pre key still stored after removal")
	}
	if len(f.history.pres) != 1 {
		t.Error("pre-remove must not write history")
	}
	if f.sender.total() != 2*len(testTargets) {
		t.Errorf("sent = %d", f.sender.total())
	}
}

func TestCheckVersionPreOnNewProductIsSuppressed(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	f.upstream.set("/index.json", kuroIndexJSON("2.4.0", "2.5.0"))

	res, err := f.engine.CheckVersion(context.Background(), WutheringWaves, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Outcomes) != 2 {
		t.Fatalf("outcomes = %+v, want main and pre", res.Outcomes)
	}
	for _, out := range res.Outcomes {
		if !out.Suppressed {
			t.Errorf("%s on a new product should be suppressed", out.Event.Type)
		}
	}
	if got := f.stored(t, WutheringWaves, ChannelPre); got != "2.5.0" {
		t.Errorf("stored pre = %q", got)
	}
	if f.sender.total() != 0 {
		t.Errorf("sent = %d", f.sender.total())
	}
}

func TestCheckVersionPreOpeningOnKnownProductIsAnnounced(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	f.seed(t, WutheringWaves, ChannelMain, "2.4.0")
	f.upstream.set("/index.json", kuroIndexJSON("2.4.0", "2.5.0"))

	res, err := f.engine.CheckVersion(context.Background(), WutheringWaves, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Outcomes) != 1 {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}
	out := res.Outcomes[0]
	if out.Suppressed || out.Event.Type != EventPre || out.Event.OldVersion != "" {
		t.Errorf("outcome = %+v, want an announced pre with no previous pre", out)
	}
	if f.sender.total() != len(testTargets) {
		t.Errorf("sent = %d", f.sender.total())
	}
	if _, ok := f.history.pres["ww|2.5.0|"]; !ok {
		t.Errorf("pre history missing: %+v", f.history.pres)
	}
}

func TestCheckVersionPreReopensAfterRemoval(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	ctx := context.Background()
	f.seed(t, WutheringWaves, ChannelMain, "2.4.0")
	f.seed(t, WutheringWaves, ChannelPre, "2.5.0")

	steps := []struct {
		main, pre string
		want      EventType
	}{
		{"2.4.0", "", EventPreRemove},
		{"2.5.0", "", EventMain},
		{"2.5.0", "2.6.0", EventPre},
	}
	for _, step := range steps {
		f.upstream.set("/index.json", kuroIndexJSON(step.main, step.pre))
		res, err := f.engine.CheckVersion(ctx, WutheringWaves, true)
		if err != nil {
			t.Fatalf("%s: %v", step.want, err)
		}
		if len(res.Outcomes) != 1 || res.Outcomes[0].Event.Type != step.want {
			t.Fatalf("%s: outcomes = %+v", step.want, res.Outcomes)
		}
		if res.Outcomes[0].Suppressed {
			t.Errorf("%s was suppressed", step.want)
		}
	}

	if f.sender.total() != 3*len(testTargets) {
		t.Errorf("sent = %d, want %d", f.sender.total(), 3*len(testTargets))
	}
	if _, ok := f.history.pres["ww|2.6.0|"]; !ok {
		t.Errorf("reopened pre not recorded: %+v", f.history.pres)
	}
}

func TestCheckVersionConcurrentManualTriggers(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	f.seed(t, WutheringWaves, ChannelMain, "2.3.0")
	f.upstream.set("/index.json", kuroIndexJSON("2.4.0", ""))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.CheckVersion(context.Background(), WutheringWaves, true); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("CheckVersion() error = %v", err)
	}

	if f.sender.total() != len(testTargets) {
		t.Errorf("sent = %d, want exactly one notification per target", f.sender.total())
	}
	if len(f.history.mains) != 1 {
		t.Errorf("history rows = %d, want 1", len(f.history.mains))
	}
}

// peer builds a second engine over the same state file, as a separate
// gamepush process would.
func (f *engineFixture) peer(t *testing.T) (*Engine, *recordingSender) {
	t.Helper()
	st, err := NewFileStateStore(f.state.path)
	if err != nil {
		t.Fatal(err)
	}
	sender := newRecordingSender()
	adapters := map[ProductID]Adapter{WutheringWaves: f.upstream.adapter(t, WutheringWaves)}
	return NewEngine(adapters, st, StaticConfig{WutheringWaves: textConfig()}, NewDispatcher(sender),
		WithHistory(f.history)), sender
}

func TestCheckVersionAcrossProcessesNotifiesOnce(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	f.seed(t, WutheringWaves, ChannelMain, "2.3.9")
	f.upstream.set("/index.json", kuroIndexJSON("2.4.0", ""))
	ctx := context.Background()

	// The serve process reads state before the CLI announces.
	if got := f.stored(t, WutheringWaves, ChannelMain); got != "2.3.9" {
		t.Fatalf("stored main = %q", got)
	}
	cli, cliSender := f.peer(t)
	if _, err := cli.CheckVersion(ctx, WutheringWaves, true); err != nil {
		t.Fatal(err)
	}
	res, err := f.engine.CheckVersion(ctx, WutheringWaves, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed() {
		t.Errorf("serve re-announced %+v", res.Outcomes)
	}
	if cliSender.total() != len(testTargets) || f.sender.total() != 0 {
		t.Errorf("cli sent %d, serve sent %d; want %d and 0", cliSender.total(), f.sender.total(), len(testTargets))
	}
}

func TestCheckVersionConcurrentProcessesNotifyOnce(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	f.seed(t, WutheringWaves, ChannelMain, "2.3.9")
	f.upstream.set("/index.json", kuroIndexJSON("2.4.0", ""))

	cli, cliSender := f.peer(t)
	var wg sync.WaitGroup
	for _, e := range []*Engine{f.engine, cli} {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			if _, err := e.CheckVersion(context.Background(), WutheringWaves, true); err != nil {
				t.Error(err)
			}
		}(e)
	}
	wg.Wait()

	if got := cliSender.total() + f.sender.total(); got != len(testTargets) {
		t.Errorf("sent %d across processes, want %d", got, len(testTargets))
	}
}

func TestCheckVersionScheduledSkipsWhileOtherProcessRuns(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	f.upstream.set("/index.json", kuroIndexJSON("2.4.0", ""))

	other, err := NewFileStateStore(f.state.path)
	if err != nil {
		t.Fatal(err)
	}
	unlock, ok, err := other.LockCycle(context.Background(), WutheringWaves, false)
	if err != nil || !ok {
		t.Fatalf("LockCycle = %v, %v", ok, err)
	}
	defer unlock()

	res, err := f.engine.CheckVersion(context.Background(), WutheringWaves, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Error("scheduled check should be skipped while another process runs one")
	}
	if f.upstream.count("/index.json") != 0 {
		t.Error("skipped check reached upstream")
	}
}

func TestCheckVersionScheduledSkipsWhileBusy(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	f.upstream.set("/index.json", kuroIndexJSON("2.4.0", ""))

	if !f.engine.gate.tryLock(WutheringWaves) {
		t.Fatal("gate unexpectedly busy")
	}
	res, err := f.engine.CheckVersion(context.Background(), WutheringWaves, false)
	f.engine.gate.unlock(WutheringWaves)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Error("scheduled check should be skipped while another runs")
	}
	if f.upstream.count("/index.json") != 0 {
		t.Error("skipped check reached upstream")
	}
}

func TestCheckVersionSizeFailureStillNotifies(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	f.seed(t, Genshin, ChannelMain, "5.0.0")
	f.upstream.setBranches("5.1.0", "")
	f.upstream.fail("/getBuild", 500, "boom")
	f.upstream.set("/getPatchBuild", sophonPatchJSON)

	res, err := f.engine.CheckVersion(context.Background(), Genshin, true)
	if err != nil {
		t.Fatalf("CheckVersion() error = %v", err)
	}
	if len(res.Outcomes) != 1 {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}
	out := res.Outcomes[0]
	if out.SizeErr == nil {
		t.Errorf("SizeErr = %v", out.SizeErr)
	}
	if out.HistoryInserted || len(f.history.mains) != 0 {
		t.Error("history written despite size failure")
	}
	if f.sender.total() != len(testTargets) {
		t.Errorf("sent = %d", f.sender.total())
	}
	if got := f.stored(t, Genshin, ChannelMain); got != "5.1.0" {
		t.Errorf("stored main = %q", got)
	}
}

func TestCheckVersionStoreFailureAborts(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	f.seed(t, WutheringWaves, ChannelMain, "2.3.0")
	f.upstream.set("/index.json", kuroIndexJSON("2.4.0", ""))

	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := filepath.Join(t.TempDir(), "ro")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	st, err := NewFileStateStore(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(dir, 0o755) })
	f.engine.state = st

	_, err = f.engine.CheckVersion(context.Background(), WutheringWaves, true)
	if !errors.Is(err, ErrStore) {
		t.Fatalf("error = %v, want ErrStore", err)
	}
	if f.sender.total() != 0 {
		t.Error("notified despite state write failure")
	}
}

func TestCheckVersionFetchFailure(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	f.upstream.fail("/index.json", 503, "down")

	_, err := f.engine.CheckVersion(context.Background(), WutheringWaves, true)
	if !errors.Is(err, ErrFetch) {
		t.Errorf("error = %v, want ErrFetch", err)
	}
}

func TestCheckVersionNoTargets(t *testing.T) {
	cfg := textConfig()
	cfg.Targets = nil
	f := newEngineFixture(t, cfg)
	f.seed(t, WutheringWaves, ChannelMain, "2.3.0")
	f.upstream.set("/index.json", kuroIndexJSON("2.4.0", ""))

	res, err := f.engine.CheckVersion(context.Background(), WutheringWaves, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcomes[0].Report != nil {
		t.Error("dispatch attempted without targets")
	}
	if !res.Outcomes[0].HistoryInserted {
		t.Error("history should be recorded even without targets")
	}
}

func TestCheckVersionUnknownProduct(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	if _, err := f.engine.CheckVersion(context.Background(), "nope", true); !errors.Is(err, ErrUnknownProduct) {
		t.Errorf("error = %v", err)
	}
	if _, err := f.engine.CheckVersion(context.Background(), StarRail, true); !errors.Is(err, ErrUnknownProduct) {
		t.Errorf("product without adapter: error = %v", err)
	}
}

func TestGetDownloadLinks(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	f.upstream.set("/index.json", kuroIndexJSON("2.4.0", ""))

	info, err := f.engine.GetDownloadLinks(context.Background(), WutheringWaves, ChannelMain)
	if err != nil {
		t.Fatalf("GetDownloadLinks() error = %v", err)
	}
	if len(info.Sections()) == 0 {
		t.Error("no sections formatted")
	}

	_, err = f.engine.GetDownloadLinks(context.Background(), WutheringWaves, ChannelPre)
	if !errors.Is(err, ErrNoDownload) {
		t.Errorf("pre without download: error = %v", err)
	}
}

func TestStoredVersionCommands(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	ctx := context.Background()

	if err := f.engine.SetStoredVersion(ctx, WutheringWaves, ChannelMain, "2.4.0"); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.SetStoredVersion(ctx, WutheringWaves, ChannelPre, "2.5.0"); err != nil {
		t.Fatal(err)
	}
	v, err := f.engine.GetCurrentVersions(ctx, WutheringWaves)
	if err != nil {
		t.Fatal(err)
	}
	if v.Main != "2.4.0" || v.Pre != "2.5.0" {
		t.Errorf("versions = %+v", v)
	}

	if err := f.engine.DeleteStoredVersion(ctx, WutheringWaves, ChannelPre); err != nil {
		t.Fatal(err)
	}
	v, _ = f.engine.GetCurrentVersions(ctx, WutheringWaves)
	if v.Pre != "" {
		t.Errorf("pre = %q after delete", v.Pre)
	}
}

func TestHistoryQuery(t *testing.T) {
	f := newEngineFixture(t, textConfig())
	ctx := context.Background()
	for i, v := range []string{"2.1.0", "2.2.0"} {
		if _, err := f.history.UpsertMain(ctx, MainRecord{Product: WutheringWaves, Version: v, Size: fmt.Sprintf("%d GB", i)}); err != nil {
			t.Fatal(err)
		}
	}

	mains, pres, err := f.engine.History(ctx, WutheringWaves, "2.2.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(mains) != 1 || mains[0].Size != "1 GB" || len(pres) != 0 {
		t.Errorf("mains = %+v pres = %+v", mains, pres)
	}
}
