package fieldsync

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func cityField() Field {
	return Field{
		Key:     "city",
		SetKey:  "region|r, country=CN",
		Columns: Static(Choice{"value": "SH", "r": "East"}),
	}
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("wait for catalogs: %v", err)
	}
}

func TestReconcileFillsDependentsOnMatch(t *testing.T) {
	state := State{"city": "SH"}
	engine := New(List{cityField()}, state)
	defer engine.Close()

	want := State{"city": "SH", "region": "East", "country": "CN"}
	if diff := cmp.Diff(want, engine.Snapshot()); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, state); diff != "" {
		t.Fatalf("expected caller map mutated in place (-want +got):\n%s", diff)
	}
}

func TestReconcileWithoutMatchLeavesState(t *testing.T) {
	engine := New(List{cityField()}, State{"city": "XX"})
	defer engine.Close()

	engine.Reconcile()

	if diff := cmp.Diff(State{"city": "XX"}, engine.Snapshot()); diff != "" {
		t.Fatalf("expected no spurious dependents (-want +got):\n%s", diff)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	engine := New(List{cityField()}, State{"city": "SH"})
	defer engine.Close()

	var changes []Change
	engine.Subscribe(func(c Change) { changes = append(changes, c) })
	before := engine.Snapshot()

	engine.Reconcile()
	engine.Reconcile()

	if diff := cmp.Diff(before, engine.Snapshot()); diff != "" {
		t.Fatalf("reconcile mutated a settled state (-want +got):\n%s", diff)
	}
	if len(changes) != 0 {
		t.Fatalf("expected no change notifications, got %+v", changes)
	}
}

func TestOnSelectionAppliesMapping(t *testing.T) {
	field := cityField()
	field.Columns = Static(Choice{"value": "SH", "r": "East"}, Choice{"value": "BJ", "r": "North"})
	engine := New(List{field}, State{"city": "SH"})
	defer engine.Close()

	engine.OnSelection("city", Choice{"value": "BJ", "r": "North"})

	want := State{"city": "SH", "region": "North", "country": "CN"}
	if diff := cmp.Diff(want, engine.Snapshot()); diff != "" {
		t.Fatalf("selection should win over the stale field value (-want +got):\n%s", diff)
	}

	engine.Set("city", "BJ")
	want["city"] = "BJ"
	if diff := cmp.Diff(want, engine.Snapshot()); diff != "" {
		t.Fatalf("state mismatch after value write (-want +got):\n%s", diff)
	}
}

func TestOnSelectionIgnoresEmptyAndUnknown(t *testing.T) {
	engine := New(List{cityField()}, State{"city": "XX"})
	defer engine.Close()

	engine.OnSelection("city", nil)
	engine.OnSelection("city", Choice{})
	engine.OnSelection("missing", Choice{"value": "SH"})

	if diff := cmp.Diff(State{"city": "XX"}, engine.Snapshot()); diff != "" {
		t.Fatalf("expected no-op (-want +got):\n%s", diff)
	}
}

func TestSelectWritesValueAndMapping(t *testing.T) {
	field := cityField()
	field.ValueKey = "code"
	field.Columns = Static(Choice{"code": "SH", "r": "East"})
	engine := New(List{field}, nil)
	defer engine.Close()

	engine.Select("city", Choice{"code": "SH", "r": "East"})

	want := State{"city": "SH", "region": "East", "country": "CN"}
	if diff := cmp.Diff(want, engine.Snapshot()); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestOnBatchIsUnconditional(t *testing.T) {
	engine := New(List{cityField()}, State{"x": 0, "y": "old"})
	defer engine.Close()

	engine.OnBatch(map[string]any{"x": 1, "y": 2})

	want := State{"x": 1, "y": 2}
	if diff := cmp.Diff(want, engine.Snapshot()); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}

	engine.OnBatch(map[string]any{"city": "SH"})
	if region, _ := engine.Value("region"); region != "East" {
		t.Fatalf("expected batch to trigger reconciliation, got region=%v", region)
	}
}

func TestUpdateReconcilesAfterMutation(t *testing.T) {
	engine := New(List{cityField()}, nil)
	defer engine.Close()

	var keys []string
	engine.Subscribe(func(c Change) {
		if c.Kind == ChangeState {
			keys = c.Keys
		}
	})
	engine.Update(func(s State) { s["city"] = "SH" })

	if diff := cmp.Diff([]string{"city", "country", "region"}, keys); diff != "" {
		t.Fatalf("changed keys mismatch (-want +got):\n%s", diff)
	}
}

func TestDeferredCatalogSettles(t *testing.T) {
	release := make(chan struct{})
	var seen State
	field := Field{
		Key:    "city",
		SetKey: "region|r",
		Columns: Produced(func(ctx context.Context, state State, field Field) Result {
			seen = state
			return Defer(func(ctx context.Context) ([]Choice, error) {
				<-release
				return []Choice{{"value": "SH", "r": "East"}}, nil
			})
		}),
	}
	state := State{"city": "SH"}
	engine := New(List{field}, state)
	defer engine.Close()

	if !engine.Loading("city") {
		t.Fatalf("expected catalog to be loading")
	}
	if catalog, ok := engine.Catalog("city"); !ok || len(catalog) != 0 {
		t.Fatalf("expected empty placeholder catalog, got %v", catalog)
	}
	if _, ok := engine.Value("region"); ok {
		t.Fatalf("expected no dependents before the catalog settles")
	}
	if reflect.ValueOf(seen).Pointer() == reflect.ValueOf(state).Pointer() {
		t.Fatalf("expected producer to receive a snapshot, not the live state")
	}

	close(release)
	waitIdle(t, engine)

	if engine.Loading("city") {
		t.Fatalf("expected loading flag cleared")
	}
	want := State{"city": "SH", "region": "East"}
	if diff := cmp.Diff(want, engine.Snapshot()); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestCatalogFailureIsIsolated(t *testing.T) {
	boom := errors.New("upstream down")
	fields := List{
		{
			Key:    "a",
			SetKey: "fromA|x",
			Columns: Produced(func(context.Context, State, Field) Result {
				return Defer(func(context.Context) ([]Choice, error) { return nil, boom })
			}),
		},
		{
			Key:    "b",
			SetKey: "fromB|x",
			Columns: Produced(func(context.Context, State, Field) Result {
				return Defer(func(context.Context) ([]Choice, error) {
					return []Choice{{"value": 1, "x": "B"}}, nil
				})
			}),
		},
		{
			Key:     "c",
			SetKey:  "fromC|x",
			Columns: Static(Choice{"value": true, "x": "C"}),
		},
	}
	engine := New(fields, State{"a": 1, "b": 1, "c": true})
	defer engine.Close()
	waitIdle(t, engine)

	var catErr *CatalogError
	if err := engine.Err("a"); !errors.As(err, &catErr) || !errors.Is(err, boom) {
		t.Fatalf("expected catalog error for a, got %v", err)
	}
	if catErr.Field != "a" || catErr.Generation != 1 {
		t.Fatalf("unexpected catalog error metadata: %+v", catErr)
	}
	if catalog, _ := engine.Catalog("a"); len(catalog) != 0 {
		t.Fatalf("expected empty catalog after failure, got %v", catalog)
	}
	if err := engine.Err("b"); err != nil {
		t.Fatalf("expected b unaffected, got %v", err)
	}

	want := State{"a": 1, "b": 1, "c": true, "fromB": "B", "fromC": "C"}
	if diff := cmp.Diff(want, engine.Snapshot()); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestProducerPanicIsTreatedAsFailure(t *testing.T) {
	engine := New(List{
		{Key: "a", Columns: Produced(func(context.Context, State, Field) Result { panic("bad producer") })},
		{Key: "b", Columns: Produced(func(context.Context, State, Field) Result {
			return Defer(func(context.Context) ([]Choice, error) { panic("bad load") })
		})},
		{Key: "c", Columns: Produced(func(context.Context, State, Field) Result { return nil })},
	}, nil)
	defer engine.Close()
	waitIdle(t, engine)

	if engine.Err("a") == nil || engine.Err("b") == nil {
		t.Fatalf("expected panics to surface as catalog errors, got a=%v b=%v", engine.Err("a"), engine.Err("b"))
	}
	if engine.Err("c") != nil {
		t.Fatalf("expected nil result to resolve to an empty catalog")
	}
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	var cancelled atomic.Bool
	stale := Field{
		Key:    "city",
		SetKey: "region|r",
		Columns: Produced(func(context.Context, State, Field) Result {
			return Defer(func(ctx context.Context) ([]Choice, error) {
				<-release
				cancelled.Store(ctx.Err() != nil)
				return []Choice{{"value": "SH", "r": "Stale"}}, nil
			})
		}),
	}
	engine := New(List{stale}, State{"city": "SH"})
	defer engine.Close()

	fresh := Field{Key: "city", SetKey: "region|r", Columns: Static(Choice{"value": "SH", "r": "Fresh"})}
	engine.SetConfig(Wrapped{Columns: []Field{fresh}})
	close(release)
	waitIdle(t, engine)

	if engine.Generation() != 2 {
		t.Fatalf("expected generation 2, got %d", engine.Generation())
	}
	if !cancelled.Load() {
		t.Fatalf("expected the superseded load context to be cancelled")
	}
	catalog, _ := engine.Catalog("city")
	if diff := cmp.Diff([]Choice{{"value": "SH", "r": "Fresh"}}, catalog); diff != "" {
		t.Fatalf("catalog mismatch (-want +got):\n%s", diff)
	}
	if region, _ := engine.Value("region"); region != "Fresh" {
		t.Fatalf("expected fresh mapping, got %v", region)
	}
}

func TestReloadResolvesProducersAgain(t *testing.T) {
	var calls atomic.Int32
	engine := New(List{{
		Key: "city",
		Columns: Produced(func(context.Context, State, Field) Result {
			calls.Add(1)
			return Ready(Choice{"value": "SH"})
		}),
	}}, nil)
	defer engine.Close()

	engine.Set("city", "SH")
	engine.Set("city", "BJ")
	if calls.Load() != 1 {
		t.Fatalf("expected state changes not to re-run producers, got %d calls", calls.Load())
	}
	engine.Reload()
	if calls.Load() != 2 {
		t.Fatalf("expected reload to re-run producers, got %d calls", calls.Load())
	}
}

func TestNotifyChangeRunsWithSettledState(t *testing.T) {
	engine := New(List{cityField()}, nil)
	defer engine.Close()

	var (
		gotEvent  any
		gotRegion any
		gotField  string
	)
	cb := func(event any, formData State, field Field) {
		gotEvent = event
		gotRegion = formData["region"]
		gotField = field.Key
	}
	engine.Subscribe(func(c Change) {
		if c.Kind == ChangeState {
			engine.NotifyChange("picked", cb, cityField(), nil)
		}
	})

	engine.Set("city", "SH")

	if gotEvent != "picked" || gotField != "city" {
		t.Fatalf("unexpected callback arguments: event=%v field=%q", gotEvent, gotField)
	}
	if gotRegion != "East" {
		t.Fatalf("expected callback to observe reconciled state, got region=%v", gotRegion)
	}

	explicit := State{"region": "given"}
	engine.NotifyChange(nil, func(_ any, formData State, _ Field) {
		gotRegion = formData["region"]
	}, Field{}, explicit)
	if gotRegion != "given" {
		t.Fatalf("expected explicit form data to be passed through, got %v", gotRegion)
	}

	engine.NotifyChange(nil, nil, Field{}, nil)
}

func TestNotifyChangeSnapshotIsolatedFromSettlingLoads(t *testing.T) {
	release := make(chan struct{})
	engine := New(List{{
		Key:    "city",
		SetKey: "region|r",
		Columns: Produced(func(context.Context, State, Field) Result {
			return Defer(func(context.Context) ([]Choice, error) {
				<-release
				return []Choice{{"value": "SH", "r": "East"}}, nil
			})
		}),
	}}, State{"city": "SH"})
	defer engine.Close()

	var seen any
	engine.NotifyChange(nil, func(_ any, formData State, _ Field) {
		close(release)
		deadline := time.Now().Add(50 * time.Millisecond)
		for time.Now().Before(deadline) {
			seen = formData["region"]
			formData["scratch"] = seen
		}
	}, Field{}, nil)
	waitIdle(t, engine)

	if seen != nil {
		t.Fatalf("expected callback data to be a snapshot taken before the load settled, got region=%v", seen)
	}
	snapshot := engine.Snapshot()
	if snapshot["region"] != "East" {
		t.Fatalf("expected load to settle into engine state, got %v", snapshot)
	}
	if _, ok := snapshot["scratch"]; ok {
		t.Fatalf("expected callback writes to stay out of engine state, got %v", snapshot)
	}
}

func TestOnInputCompleteCallsAllInput(t *testing.T) {
	var calls []string
	hook := func(data State, field Field) {
		calls = append(calls, field.Key)
		data["touched"] = true
	}
	engine := New(List{
		{Key: "a", AllInput: hook},
		{Key: "b"},
		{Key: "c", AllInput: hook, Columns: Static(Choice{"value": 1})},
	}, nil)
	defer engine.Close()

	data := State{"a": 1}
	got := engine.OnInputComplete(data)

	if reflect.ValueOf(got).Pointer() != reflect.ValueOf(data).Pointer() {
		t.Fatalf("expected form data returned unchanged")
	}
	if diff := cmp.Diff([]string{"a", "c"}, calls); diff != "" {
		t.Fatalf("hook calls mismatch (-want +got):\n%s", diff)
	}
	if _, ok := engine.Snapshot()["touched"]; ok {
		t.Fatalf("expected engine state untouched by AllInput hooks")
	}
}

func TestSubscribeReceivesChanges(t *testing.T) {
	release := make(chan struct{})
	engine := New(List{{
		Key:    "city",
		SetKey: "region|r",
		Columns: Produced(func(context.Context, State, Field) Result {
			return Defer(func(context.Context) ([]Choice, error) {
				<-release
				return []Choice{{"value": "SH", "r": "East"}}, nil
			})
		}),
	}}, State{"city": "SH"})
	defer engine.Close()

	var (
		mu      sync.Mutex
		changes []Change
	)
	unsubscribe := engine.Subscribe(func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})

	close(release)
	waitIdle(t, engine)

	mu.Lock()
	want := []Change{
		{Kind: ChangeCatalog, Field: "city", Generation: 1},
		{Kind: ChangeState, Field: "city", Keys: []string{"region"}, Generation: 1},
	}
	if diff := cmp.Diff(want, changes); diff != "" {
		mu.Unlock()
		t.Fatalf("changes mismatch (-want +got):\n%s", diff)
	}
	changes = nil
	mu.Unlock()

	unsubscribe()
	engine.Set("city", "BJ")
	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %+v", changes)
	}
}

func TestDefaultsFillMissingValues(t *testing.T) {
	engine := New(List{
		{Key: "country", Default: "CN"},
		{Key: "region", Default: "East"},
		{Key: "city", Default: "SH", SetKey: "zone|z", Columns: Static(Choice{"value": "SH", "z": 8})},
	}, State{"region": "West", "country": nil})
	defer engine.Close()

	want := State{"country": "CN", "region": "West", "city": "SH", "zone": 8}
	if diff := cmp.Diff(want, engine.Snapshot()); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterAndCompute(t *testing.T) {
	engine := New(List{{
		Key:     "city",
		SetKey:  "region|r",
		Filter:  `option.r != "North"`,
		Compute: map[string]string{"label": `option.r + "-" + city`},
		Columns: Static(Choice{"value": "SH", "r": "East"}, Choice{"value": "BJ", "r": "North"}),
	}}, State{"city": "SH"})
	defer engine.Close()

	if diff := cmp.Diff([]Choice{{"value": "SH", "r": "East"}}, engine.Choices("city")); diff != "" {
		t.Fatalf("filtered choices mismatch (-want +got):\n%s", diff)
	}
	if all, _ := engine.Catalog("city"); len(all) != 2 {
		t.Fatalf("expected full catalog to stay intact, got %v", all)
	}
	if label, _ := engine.Value("label"); label != "East-SH" {
		t.Fatalf("expected computed label, got %v", label)
	}
}

func TestFilterErrorKeepsChoices(t *testing.T) {
	engine := New(List{{
		Key:     "city",
		Filter:  `option.r +`,
		Columns: Static(Choice{"value": "SH"}, Choice{"value": "BJ"}),
	}}, nil)
	defer engine.Close()

	if got := engine.Choices("city"); len(got) != 2 {
		t.Fatalf("expected failing filter to keep choices, got %v", got)
	}
	if got := engine.Choices("missing"); got != nil {
		t.Fatalf("expected nil for unknown field, got %v", got)
	}
}

func TestReconcileStopsOnOscillation(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	engine := New(List{
		{Key: "a", SetKey: "b", Columns: Static(Choice{"value": 1, "b": 2}, Choice{"value": 2, "b": 1})},
		{Key: "b", SetKey: "a", Columns: Static(Choice{"value": 2, "a": 2}, Choice{"value": 1, "a": 1})},
	}, State{"a": 1}, WithLogger(zap.New(core)))
	defer engine.Close()

	if logs.FilterMessage("reconciliation did not settle").Len() == 0 {
		t.Fatalf("expected a warning when reconciliation does not settle")
	}
}

func TestMaxConcurrentLoads(t *testing.T) {
	var active, peak atomic.Int32
	load := func(ctx context.Context) ([]Choice, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return []Choice{{"value": 1}}, nil
	}
	producer := func(context.Context, State, Field) Result { return Defer(load) }

	engine := New(List{
		{Key: "a", Columns: Produced(producer)},
		{Key: "b", Columns: Produced(producer)},
		{Key: "c", Columns: Produced(producer)},
	}, nil, WithMaxConcurrentLoads(1), WithTracerProvider(noop.NewTracerProvider()))
	defer engine.Close()
	waitIdle(t, engine)

	if peak.Load() != 1 {
		t.Fatalf("expected at most one concurrent load, got %d", peak.Load())
	}
	for _, key := range []string{"a", "b", "c"} {
		if catalog, _ := engine.Catalog(key); len(catalog) != 1 {
			t.Fatalf("expected catalog for %s, got %v", key, catalog)
		}
	}
}

func TestCloseCancelsLoadsAndStopsMutations(t *testing.T) {
	started := make(chan struct{})
	engine := New(List{{
		Key:    "city",
		SetKey: "region|r",
		Columns: Produced(func(context.Context, State, Field) Result {
			return Defer(func(ctx context.Context) ([]Choice, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			})
		}),
	}}, State{"city": "SH"})

	<-started
	if err := engine.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitIdle(t, engine)

	if err := engine.Err("city"); err != nil {
		t.Fatalf("expected cancelled load to be discarded, got %v", err)
	}
	engine.Set("city", "BJ")
	engine.OnBatch(map[string]any{"x": 1})
	if diff := cmp.Diff(State{"city": "SH"}, engine.Snapshot()); diff != "" {
		t.Fatalf("expected closed engine to ignore mutations (-want +got):\n%s", diff)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	engine := New(List{{
		Key: "city",
		Columns: Produced(func(context.Context, State, Field) Result {
			return Defer(func(context.Context) ([]Choice, error) {
				<-release
				return nil, nil
			})
		}),
	}}, nil)
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := engine.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSourcesAndAccessors(t *testing.T) {
	empty := New(nil, nil)
	defer empty.Close()
	if len(empty.Fields()) != 0 || empty.ID() == "" {
		t.Fatalf("expected empty working configuration with an id")
	}
	if _, ok := empty.Catalog("city"); ok {
		t.Fatalf("expected unknown field to report missing catalog")
	}

	engine := New(Wrapped{Columns: []Field{{
		Key: "city",
		Columns: Produced(func(context.Context, State, Field) Result {
			return Ready(Choice{"value": "SH"})
		}),
	}}}, nil)
	defer engine.Close()

	fields := engine.Fields()
	if len(fields) != 1 || fields[0].Columns.IsProduced() {
		t.Fatalf("expected resolved static columns, got %+v", fields)
	}
	if diff := cmp.Diff([]Choice{{"value": "SH"}}, fields[0].Columns.Choices()); diff != "" {
		t.Fatalf("resolved columns mismatch (-want +got):\n%s", diff)
	}
	if engine.ID() == empty.ID() {
		t.Fatalf("expected distinct engine ids")
	}

	engine.View(func(s State) { s["peek"] = true })
	if _, ok := engine.Value("peek"); !ok {
		t.Fatalf("expected View to expose the live state")
	}
}

func TestSameValue(t *testing.T) {
	cases := []struct {
		a, b any
		want bool
	}{
		{a: "SH", b: "SH", want: true},
		{a: 1, b: 1.0, want: true},
		{a: int64(2), b: json.Number("2"), want: true},
		{a: "1", b: 1, want: false},
		{a: nil, b: nil, want: true},
		{a: nil, b: 0, want: false},
		{a: []int{1}, b: []int{1}, want: false},
		{a: true, b: true, want: true},
	}
	for _, tc := range cases {
		if got := sameValue(tc.a, tc.b); got != tc.want {
			t.Fatalf("sameValue(%#v, %#v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
