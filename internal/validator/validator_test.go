package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/speclint/internal/credentials"
	"github.com/wudi/speclint/internal/diag"
	"github.com/wudi/speclint/internal/evaluation"
	"github.com/wudi/speclint/internal/metrics"
	"github.com/wudi/speclint/internal/suppress"
)

const petstore = "openapi: 3.0.0\n" +
	"info:\n" +
	"  title: Pets\n" +
	"  version: 1.0.0\n" +
	"paths:\n" +
	"  /pets:\n" +
	"    get:\n" +
	"      operationId: listPets\n"

const petstoreV2 = "openapi: 3.0.0\n" +
	"info:\n" +
	"  title: PetsTwo\n" +
	"  version: 2.0.0\n" +
	"paths:\n" +
	"  /pets:\n" +
	"    get:\n" +
	"      operationId: listPets\n"

const defaultViolations = `"violations":[{` +
	`"key":{"type":"operation_id","operationId":"listPets"},` +
	`"violations":[{"ruleId":7,"message":"operation names must be kebab-case","severity":"error"}]}],` +
	`"ruleIdToSlug":{"7":"operation-naming"}`

// fakeService replays the evaluation service wire contract: upload,
// poll, and the two ignore endpoints.
type fakeService struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	specs     []string
	response  string
	pollDelay time.Duration

	uploads      atomic.Int32
	polls        atomic.Int32
	ruleIgnores  atomic.Int32
	globIgnores  atomic.Int32
	uploadStatus atomic.Int32
}

func newFakeService(t *testing.T) *fakeService {
	f := &fakeService{t: t, response: defaultViolations}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeService) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/projects/acme/store/specifications":
		if status := f.uploadStatus.Load(); status != 0 {
			w.WriteHeader(int(status))
			fmt.Fprint(w, `{"error":"bad token","code":"token_expired"}`)
			return
		}
		n := f.uploads.Add(1)
		var req struct {
			Spec json.RawMessage `json:"spec"`
			Tag  string          `json:"tag"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			f.t.Errorf("decoding upload body: %v", err)
		}
		f.mu.Lock()
		f.specs = append(f.specs, string(req.Spec))
		f.mu.Unlock()
		fmt.Fprintf(w, `{"specification":{"id":"spec-%d"}}`, n)

	case r.Method == http.MethodGet && r.URL.Path == "/projects/acme/store/specifications":
		f.polls.Add(1)
		f.mu.Lock()
		delay, resp := f.pollDelay, f.response
		f.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		specID := r.URL.Query().Get("specId")
		fmt.Fprintf(w, `{"evaluation":{"status":"ready","specId":%q},%s}`, specID, resp)

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/ignores"):
		if strings.Contains(r.URL.Path, "/rules/") {
			f.ruleIgnores.Add(1)
			fmt.Fprint(w, `{"id":"ign-rule"}`)
			return
		}
		f.globIgnores.Add(1)
		fmt.Fprint(w, `{"id":"ign-global"}`)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeService) setResponse(violations string) {
	f.mu.Lock()
	f.response = violations
	f.mu.Unlock()
}

func (f *fakeService) setPollDelay(d time.Duration) {
	f.mu.Lock()
	f.pollDelay = d
	f.mu.Unlock()
}

func (f *fakeService) spec(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.specs) {
		return ""
	}
	return f.specs[i]
}

type publishRec struct {
	id      string
	diags   []diag.Diagnostic
	actions []diag.Action
}

type memorySink struct {
	mu        sync.Mutex
	published []publishRec
	started   []string
	finished  []string
}

func (m *memorySink) Publish(docID string, diags []diag.Diagnostic, actions []diag.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishRec{id: docID, diags: diags, actions: actions})
}

func (m *memorySink) EvaluationStarted(docID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, docID)
}

func (m *memorySink) EvaluationFinished(docID string, violations int, max diag.Severity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, docID)
}

func (m *memorySink) waitPublished(t *testing.T, n int) []publishRec {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		if len(m.published) >= n {
			out := append([]publishRec(nil), m.published...)
			m.mu.Unlock()
			return out
		}
		m.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d publishes, got %d", n, m.publishCount())
	return nil
}

func (m *memorySink) publishCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

func (m *memorySink) startedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.started)
}

func testSnapshot(serverURL string) Snapshot {
	client := evaluation.New(evaluation.Options{
		ServiceURL:      serverURL,
		Organization:    "acme",
		Project:         "store",
		Tag:             "test",
		Tokens:          credentials.Static{Value: "tok-123"},
		Timeout:         2 * time.Second,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      5 * time.Millisecond,
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 5,
	})
	return Snapshot{Client: client, OnSave: true, Debounce: 50 * time.Millisecond}
}

func newTestOrchestrator(t *testing.T, snap Snapshot) (*Orchestrator, *memorySink, *metrics.Collector) {
	t.Helper()
	m := &memorySink{}
	coll := metrics.NewCollector()
	o := New(snap, Deps{Sink: m, Metrics: coll, Logger: zap.NewNop()})
	t.Cleanup(o.Close)
	return o, m, coll
}

func TestOpenEvaluatesAndPublishes(t *testing.T) {
	f := newFakeService(t)
	o, m, _ := newTestOrchestrator(t, testSnapshot(f.srv.URL))

	o.DocumentOpened("pet.yaml", petstore)

	recs := m.waitPublished(t, 1)
	rec := recs[0]
	if rec.id != "pet.yaml" {
		t.Errorf("published document = %q", rec.id)
	}
	if len(rec.diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(rec.diags))
	}
	d := rec.diags[0]
	if d.Severity != diag.SeverityError || d.Code != "operation-naming" || d.Source != diag.SourceName {
		t.Errorf("diagnostic = %+v", d)
	}
	if d.Range.Start.Line != 7 || d.Range.Start.Column != 6 {
		t.Errorf("range start = %+v, want line 7 col 6", d.Range.Start)
	}
	if len(rec.actions) != 1 || rec.actions[0].RuleID != 7 || rec.actions[0].Key.OperationID != "listPets" {
		t.Errorf("actions = %+v", rec.actions)
	}

	if got := f.uploads.Load(); got != 1 {
		t.Errorf("uploads = %d, want 1", got)
	}
	if m.startedCount() != 1 {
		t.Errorf("started notifications = %d, want 1", m.startedCount())
	}
}

func TestCacheHitAcrossDocuments(t *testing.T) {
	f := newFakeService(t)
	o, m, coll := newTestOrchestrator(t, testSnapshot(f.srv.URL))

	o.DocumentOpened("a.yaml", petstore)
	m.waitPublished(t, 1)

	o.DocumentOpened("b.yaml", petstore)
	recs := m.waitPublished(t, 2)

	if got := f.uploads.Load(); got != 1 {
		t.Errorf("uploads = %d, want 1 (second document should hit the cache)", got)
	}
	if len(recs[1].diags) != 1 {
		t.Errorf("cached publish carried %d diagnostics, want 1", len(recs[1].diags))
	}
	if snap := coll.Snapshot(); snap.CacheHits != 1 {
		t.Errorf("cache hits = %d, want 1", snap.CacheHits)
	}
}

func TestNonOpenAPIPublishesEmptyWithoutNetwork(t *testing.T) {
	f := newFakeService(t)
	o, m, _ := newTestOrchestrator(t, testSnapshot(f.srv.URL))

	o.DocumentOpened("notes.md", "# deployment notes\n")

	recs := m.waitPublished(t, 1)
	if len(recs[0].diags) != 0 {
		t.Errorf("got %d diagnostics for a non-OpenAPI document", len(recs[0].diags))
	}
	if got := f.uploads.Load(); got != 0 {
		t.Errorf("uploads = %d, want 0", got)
	}
	if got := f.polls.Load(); got != 0 {
		t.Errorf("polls = %d, want 0", got)
	}
	if m.startedCount() != 0 {
		t.Errorf("started notifications = %d, want 0", m.startedCount())
	}
}

func TestDebounceCollapsesRapidChanges(t *testing.T) {
	f := newFakeService(t)
	snap := testSnapshot(f.srv.URL)
	snap.OnType = true
	o, m, _ := newTestOrchestrator(t, snap)

	o.DocumentChanged("pet.yaml", petstore)
	time.Sleep(10 * time.Millisecond)
	o.DocumentChanged("pet.yaml", petstoreV2)

	m.waitPublished(t, 1)
	if got := f.uploads.Load(); got != 1 {
		t.Errorf("uploads = %d, want 1", got)
	}
	if !strings.Contains(f.spec(0), "PetsTwo") {
		t.Errorf("evaluated content is not the latest edit: %s", f.spec(0))
	}
}

func TestChangeIgnoredWhenOnTypeDisabled(t *testing.T) {
	f := newFakeService(t)
	o, m, _ := newTestOrchestrator(t, testSnapshot(f.srv.URL))

	o.DocumentChanged("pet.yaml", petstore)
	time.Sleep(120 * time.Millisecond)

	if got := m.publishCount(); got != 0 {
		t.Errorf("publishes = %d, want 0", got)
	}
	if got := f.uploads.Load(); got != 0 {
		t.Errorf("uploads = %d, want 0", got)
	}
}

func TestSaveDuringEvaluationQueuesFollowUp(t *testing.T) {
	f := newFakeService(t)
	f.setPollDelay(150 * time.Millisecond)
	o, m, _ := newTestOrchestrator(t, testSnapshot(f.srv.URL))

	o.DocumentOpened("pet.yaml", petstore)
	time.Sleep(40 * time.Millisecond)
	o.DocumentSaved("pet.yaml", petstoreV2)

	recs := m.waitPublished(t, 1)
	if got := f.uploads.Load(); got != 2 {
		t.Errorf("uploads = %d, want 2", got)
	}
	if !strings.Contains(f.spec(1), "PetsTwo") {
		t.Errorf("follow-up did not evaluate the saved content: %s", f.spec(1))
	}
	if !strings.Contains(f.spec(0), `"title":"Pets"`) {
		t.Errorf("first evaluation did not carry the opened content: %s", f.spec(0))
	}
	if len(recs) != 1 {
		t.Errorf("publishes = %d, want 1 (superseded result must be discarded)", len(recs))
	}
	if st := o.Stats(); st.Discarded != 1 {
		t.Errorf("discarded = %d, want 1", st.Discarded)
	}
}

func TestCloseCancelsPendingDebounce(t *testing.T) {
	f := newFakeService(t)
	snap := testSnapshot(f.srv.URL)
	snap.OnType = true
	o, m, _ := newTestOrchestrator(t, snap)

	o.DocumentChanged("pet.yaml", petstore)
	time.Sleep(10 * time.Millisecond)
	o.DocumentClosed("pet.yaml")

	recs := m.waitPublished(t, 1)
	if len(recs[0].diags) != 0 {
		t.Errorf("close published %d diagnostics, want empty set", len(recs[0].diags))
	}

	time.Sleep(120 * time.Millisecond)
	if got := f.uploads.Load(); got != 0 {
		t.Errorf("uploads = %d, want 0 (debounce should be cancelled)", got)
	}
	if got := m.publishCount(); got != 1 {
		t.Errorf("publishes = %d, want 1", got)
	}
	if st := o.Stats(); st.Documents != 0 {
		t.Errorf("documents = %d, want 0", st.Documents)
	}
}

func TestCloseDiscardsInFlightResult(t *testing.T) {
	f := newFakeService(t)
	f.setPollDelay(150 * time.Millisecond)
	o, m, _ := newTestOrchestrator(t, testSnapshot(f.srv.URL))

	o.DocumentOpened("pet.yaml", petstore)
	time.Sleep(40 * time.Millisecond)
	o.Close()

	// Close waits for the in-flight run; its result, aborted by the
	// cancellation, must never reach the sinks.
	if got := m.publishCount(); got != 0 {
		t.Fatalf("publishes after close = %d, want 0", got)
	}
	if st := o.Stats(); st.Discarded != 1 {
		t.Errorf("discarded = %d, want 1", st.Discarded)
	}
}

func TestEvaluationFailureSurfacesWarning(t *testing.T) {
	f := newFakeService(t)
	f.uploadStatus.Store(http.StatusUnauthorized)
	o, m, _ := newTestOrchestrator(t, testSnapshot(f.srv.URL))

	o.DocumentOpened("pet.yaml", petstore)

	recs := m.waitPublished(t, 1)
	if len(recs[0].diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(recs[0].diags))
	}
	d := recs[0].diags[0]
	if d.Severity != diag.SeverityWarning {
		t.Errorf("severity = %q, want warning", d.Severity)
	}
	if !strings.Contains(d.Message, "authentication") {
		t.Errorf("message = %q", d.Message)
	}
	if d.Range.Start.Line != 0 {
		t.Errorf("failure diagnostic not at default range: %+v", d.Range)
	}
	if len(recs[0].actions) != 0 {
		t.Errorf("failure publish carried actions: %+v", recs[0].actions)
	}
}

func TestMissingConfigIsInformational(t *testing.T) {
	f := newFakeService(t)
	snap := testSnapshot(f.srv.URL)
	snap.Client = evaluation.New(evaluation.Options{ServiceURL: f.srv.URL, Project: "store"})
	o, m, _ := newTestOrchestrator(t, snap)

	o.DocumentOpened("pet.yaml", petstore)

	recs := m.waitPublished(t, 1)
	if len(recs[0].diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(recs[0].diags))
	}
	d := recs[0].diags[0]
	if d.Severity != diag.SeverityInfo {
		t.Errorf("severity = %q, want info", d.Severity)
	}
	if !strings.Contains(d.Message, "not configured") {
		t.Errorf("message = %q", d.Message)
	}
	if got := f.uploads.Load(); got != 0 {
		t.Errorf("uploads = %d, want 0", got)
	}
}

func TestSuppressionFilterDropsViolations(t *testing.T) {
	f := newFakeService(t)
	filter, err := suppress.New([]string{`RuleSlug contains "operation"`}, zap.NewNop())
	if err != nil {
		t.Fatalf("compiling filter: %v", err)
	}
	snap := testSnapshot(f.srv.URL)
	snap.Filter = filter
	o, m, coll := newTestOrchestrator(t, snap)

	o.DocumentOpened("pet.yaml", petstore)

	recs := m.waitPublished(t, 1)
	if len(recs[0].diags) != 0 {
		t.Errorf("got %d diagnostics, want all suppressed", len(recs[0].diags))
	}
	if ms := coll.Snapshot(); ms.Suppressed != 1 {
		t.Errorf("suppressed = %d, want 1", ms.Suppressed)
	}
}

func TestInfoSeverityFloor(t *testing.T) {
	infoAndError := `"violations":[{` +
		`"key":{"type":"operation_id","operationId":"listPets"},` +
		`"violations":[` +
		`{"ruleId":7,"message":"operation names must be kebab-case","severity":"error"},` +
		`{"ruleId":8,"message":"consider adding a summary","severity":"info"}]}],` +
		`"ruleIdToSlug":{"7":"operation-naming","8":"operation-summary"}`

	t.Run("filtered by default", func(t *testing.T) {
		f := newFakeService(t)
		f.setResponse(infoAndError)
		o, m, _ := newTestOrchestrator(t, testSnapshot(f.srv.URL))

		o.DocumentOpened("pet.yaml", petstore)
		recs := m.waitPublished(t, 1)
		if len(recs[0].diags) != 1 || recs[0].diags[0].Severity != diag.SeverityError {
			t.Errorf("diagnostics = %+v, want the error only", recs[0].diags)
		}
	})

	t.Run("included when enabled", func(t *testing.T) {
		f := newFakeService(t)
		f.setResponse(infoAndError)
		snap := testSnapshot(f.srv.URL)
		snap.IncludeInfo = true
		o, m, _ := newTestOrchestrator(t, snap)

		o.DocumentOpened("pet.yaml", petstore)
		recs := m.waitPublished(t, 1)
		if len(recs[0].diags) != 2 {
			t.Errorf("got %d diagnostics, want 2", len(recs[0].diags))
		}
	})
}

func TestIgnoreRuleReevaluates(t *testing.T) {
	f := newFakeService(t)
	o, m, coll := newTestOrchestrator(t, testSnapshot(f.srv.URL))

	o.DocumentOpened("pet.yaml", petstore)
	m.waitPublished(t, 1)

	key := diag.ViolationKey{Kind: diag.KindOperationID, OperationID: "listPets"}
	id, err := o.IgnoreRule(context.Background(), "pet.yaml", 7, key)
	if err != nil {
		t.Fatalf("IgnoreRule() error: %v", err)
	}
	if id != "ign-rule" {
		t.Errorf("ignore id = %q", id)
	}

	m.waitPublished(t, 2)
	if got := f.uploads.Load(); got != 2 {
		t.Errorf("uploads = %d, want 2 (cache entry should be invalidated)", got)
	}
	if got := f.ruleIgnores.Load(); got != 1 {
		t.Errorf("rule ignore posts = %d, want 1", got)
	}
	if snap := coll.Snapshot(); snap.Ignores["rule"] != 1 {
		t.Errorf("ignore metric = %v", snap.Ignores)
	}
}

func TestIgnoreGloballyReevaluates(t *testing.T) {
	f := newFakeService(t)
	o, m, _ := newTestOrchestrator(t, testSnapshot(f.srv.URL))

	o.DocumentOpened("pet.yaml", petstore)
	m.waitPublished(t, 1)

	key := diag.ViolationKey{Kind: diag.KindOperationID, OperationID: "listPets"}
	id, err := o.IgnoreGlobally(context.Background(), "pet.yaml", key)
	if err != nil {
		t.Fatalf("IgnoreGlobally() error: %v", err)
	}
	if id != "ign-global" {
		t.Errorf("ignore id = %q", id)
	}

	m.waitPublished(t, 2)
	if got := f.globIgnores.Load(); got != 1 {
		t.Errorf("global ignore posts = %d, want 1", got)
	}
}

func TestUpdateConfigClearsCache(t *testing.T) {
	f := newFakeService(t)
	snap := testSnapshot(f.srv.URL)
	o, m, _ := newTestOrchestrator(t, snap)

	o.DocumentOpened("pet.yaml", petstore)
	m.waitPublished(t, 1)

	o.UpdateConfig(snap)
	o.DocumentOpened("pet.yaml", petstore)
	m.waitPublished(t, 2)

	if got := f.uploads.Load(); got != 2 {
		t.Errorf("uploads = %d, want 2 (cache should be cleared on config update)", got)
	}
}

func TestLintSynchronous(t *testing.T) {
	f := newFakeService(t)
	o, m, _ := newTestOrchestrator(t, testSnapshot(f.srv.URL))

	diags, err := o.Lint(context.Background(), "pet.yaml", petstore)
	if err != nil {
		t.Fatalf("Lint() error: %v", err)
	}
	if len(diags) != 1 || diags[0].Code != "operation-naming" {
		t.Errorf("diagnostics = %+v", diags)
	}
	if got := m.publishCount(); got != 1 {
		t.Errorf("publishes = %d, want 1", got)
	}
}

func TestConcurrentIdenticalContentSharesEvaluation(t *testing.T) {
	f := newFakeService(t)
	f.setPollDelay(150 * time.Millisecond)
	o, m, _ := newTestOrchestrator(t, testSnapshot(f.srv.URL))

	o.DocumentOpened("a.yaml", petstore)
	o.DocumentOpened("b.yaml", petstore)

	m.waitPublished(t, 2)
	if got := f.uploads.Load(); got != 1 {
		t.Errorf("uploads = %d, want 1 (identical content should share one evaluation)", got)
	}
}
