package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"relaypoint/internal/resilience"
	"relaypoint/internal/types"
)

type testLogger struct{}

func (testLogger) Info(string, ...any)      {}
func (testLogger) Error(string, ...any)     {}
func (testLogger) Warn(string, ...any)      {}
func (testLogger) With(...any) types.Logger { return testLogger{} }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// memStore persists snapshot copies the way a real store would, so Resume
// reads state as of the last save, not live memory.
type memStore struct {
	mu        sync.Mutex
	workflows map[string]*Workflow
	saveErr   error
}

func newMemStore() *memStore {
	return &memStore{workflows: make(map[string]*Workflow)}
}

func (s *memStore) SaveWorkflow(_ context.Context, wf *Workflow) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	s.workflows[wf.ID] = snapshotWorkflow(wf)
	s.mu.Unlock()
	return nil
}

func (s *memStore) GetWorkflow(_ context.Context, id string) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeWorkflowNotFound, "no workflow "+id, nil)
	}
	return snapshotWorkflow(wf), nil
}

func snapshotWorkflow(wf *Workflow) *Workflow {
	cp := *wf
	cp.Steps = make([]RecoveryStep, len(wf.Steps))
	copy(cp.Steps, wf.Steps)
	cp.Checkpoints = make([]Checkpoint, len(wf.Checkpoints))
	copy(cp.Checkpoints, wf.Checkpoints)
	cp.Context = copyContext(wf.Context)
	return &cp
}

// fakeDeps implements every handler collaborator with scriptable failures.
type fakeDeps struct {
	mu       sync.Mutex
	calls    []string
	failOn   map[string]error // call label -> error
	failLeft map[string]int   // call label -> failures before succeeding
	onCall   func(label string)
}

func newFakeDeps() *fakeDeps {
	return &fakeDeps{failOn: make(map[string]error), failLeft: make(map[string]int)}
}

func (f *fakeDeps) record(label string) error {
	f.mu.Lock()
	f.calls = append(f.calls, label)
	hook := f.onCall
	if n, ok := f.failLeft[label]; ok && n > 0 {
		f.failLeft[label] = n - 1
		f.mu.Unlock()
		if hook != nil {
			hook(label)
		}
		return errors.New(label + " transient failure")
	}
	err := f.failOn[label]
	f.mu.Unlock()
	if hook != nil {
		hook(label)
	}
	return err
}

func (f *fakeDeps) callCount(label string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == label {
			n++
		}
	}
	return n
}

func (f *fakeDeps) Restart(_ context.Context, target string) error {
	return f.record("restart:" + target)
}
func (f *fakeDeps) Failover(_ context.Context, target string) error {
	return f.record("failover:" + target)
}
func (f *fakeDeps) ResetConnections(_ context.Context, target string) error {
	return f.record("reset:" + target)
}
func (f *fakeDeps) ReloadConfig(_ context.Context, target string) error {
	return f.record("reload:" + target)
}
func (f *fakeDeps) Restore(_ context.Context, target string) error {
	return f.record("restore:" + target)
}
func (f *fakeDeps) Invalidate(_ context.Context, scope string) error {
	return f.record("invalidate:" + scope)
}
func (f *fakeDeps) Check(_ context.Context, target string) error {
	return f.record("check:" + target)
}
func (f *fakeDeps) ResendPending(_ context.Context, target string) (int, error) {
	return 0, f.record("resend:" + target)
}
func (f *fakeDeps) NotifyDisruption(_ context.Context, _ string) error {
	return f.record("notify")
}

type testHarness struct {
	o     *Orchestrator
	store *memStore
	deps  *fakeDeps
}

func newTestOrchestrator(t *testing.T) testHarness {
	t.Helper()
	store := newMemStore()
	deps := newFakeDeps()
	clock := newFakeClock()
	budget := resilience.NewRetryBudget(0, nil, clock)
	engine := resilience.NewEngine(budget, testLogger{},
		resilience.WithSleepFunc(func(context.Context, time.Duration) error { return nil }))

	o := New(Options{
		Store:  store,
		Engine: engine,
		Deps: HandlerDeps{
			Services: deps,
			Data:     deps,
			Caches:   deps,
			Health:   deps,
			Resender: deps,
			Users:    deps,
		},
		DepChecks: map[types.DependencyType]DependencyChecker{
			types.DepServiceHealthy:  func(context.Context, string) error { return nil },
			types.DepDataAvailable:   func(context.Context, string) error { return nil },
			types.DepExternalService: func(context.Context, string) error { return nil },
		},
		Logger: testLogger{},
		Clock:  clock,
	})
	return testHarness{o: o, store: store, deps: deps}
}

func TestExecuteWorkflow_DatabaseRecoveryCompletes(t *testing.T) {
	h := newTestOrchestrator(t)

	wf, err := h.o.ExecuteWorkflow(context.Background(), TemplateDatabaseRecovery, "database", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wf.State != types.WorkflowCompleted {
		t.Errorf("expected completed, got %s", wf.State)
	}
	if wf.Progress != 100 {
		t.Errorf("expected 100%% progress, got %v", wf.Progress)
	}
	for _, step := range wf.Steps {
		if step.Status != StepCompleted {
			t.Errorf("step %s: expected completed, got %s", step.ID, step.Status)
		}
	}
	// Two critical steps means two checkpoints.
	if len(wf.Checkpoints) != 2 {
		t.Errorf("expected 2 checkpoints, got %d", len(wf.Checkpoints))
	}
	if wf.CompletedAt == nil {
		t.Error("completed workflow must carry an end timestamp")
	}
	if len(h.o.Active()) != 0 {
		t.Error("finished workflow must leave the active set")
	}
}

func TestExecuteWorkflow_UnknownTemplate(t *testing.T) {
	h := newTestOrchestrator(t)

	_, err := h.o.ExecuteWorkflow(context.Background(), "no_such_template", "svc", nil, nil)
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeWorkflowNotFound {
		t.Fatalf("expected workflow_not_found, got %v", err)
	}
}

func TestExecuteWorkflow_StepRetriesThenSucceeds(t *testing.T) {
	h := newTestOrchestrator(t)
	h.deps.failLeft["check:database"] = 2 // first step fails twice, succeeds on 3rd

	wf, err := h.o.ExecuteWorkflow(context.Background(), TemplateDatabaseRecovery, "database", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wf.State != types.WorkflowCompleted {
		t.Errorf("expected completed after retries, got %s", wf.State)
	}
	// 3 attempts on the precheck plus 1 on the postcheck.
	if got := h.deps.callCount("check:database"); got != 4 {
		t.Errorf("expected 4 health-check calls, got %d", got)
	}
}

func TestExecuteWorkflow_CriticalStepFailureAborts(t *testing.T) {
	h := newTestOrchestrator(t)
	h.deps.failOn["restore:database"] = errors.New("backup missing")

	wf, err := h.o.ExecuteWorkflow(context.Background(), TemplateDatabaseRecovery, "database", nil, nil)
	if err == nil {
		t.Fatal("expected workflow failure")
	}
	if wf.State != types.WorkflowFailed {
		t.Errorf("expected failed, got %s", wf.State)
	}
	// Steps after the failed critical one never ran.
	if got := h.deps.callCount("invalidate:database"); got != 0 {
		t.Errorf("post-failure steps must not run, invalidate called %d times", got)
	}
}

func TestExecuteWorkflow_NonCriticalFailureContinues(t *testing.T) {
	h := newTestOrchestrator(t)
	h.deps.failOn["resend:channel"] = errors.New("still flaky")

	wf, err := h.o.ExecuteWorkflow(context.Background(), TemplateChannelRecovery, "email", nil, nil)
	if err != nil {
		t.Fatalf("continue-on-failure step must not abort: %v", err)
	}
	if wf.State != types.WorkflowCompleted {
		t.Errorf("expected completed, got %s", wf.State)
	}
	last := wf.Steps[len(wf.Steps)-1]
	if last.Status != StepFailed || last.Error == "" {
		t.Errorf("failed step must be recorded: %+v", last)
	}
	if wf.Progress != 100 {
		t.Errorf("all steps terminal, expected 100%% progress, got %v", wf.Progress)
	}
}

func TestExecuteWorkflow_DependencyNotReadyAborts(t *testing.T) {
	h := newTestOrchestrator(t)
	h.o.depChecks[types.DepServiceHealthy] = func(context.Context, string) error {
		return errors.New("database still down")
	}

	wf, err := h.o.ExecuteWorkflow(context.Background(), TemplateDatabaseRecovery, "database", nil, nil)
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeWorkflowDepsNotReady {
		t.Fatalf("expected workflow_dependencies_not_ready, got %v", err)
	}
	if wf.State != types.WorkflowFailed {
		t.Errorf("expected failed, got %s", wf.State)
	}
	if got := h.deps.callCount("reset:database"); got != 0 {
		t.Error("the guarded step must not run when dependencies fail")
	}
}

func TestResume_SkipsCompletedSteps(t *testing.T) {
	h := newTestOrchestrator(t)
	h.deps.failOn["restore:database"] = errors.New("backup missing")

	wf, err := h.o.ExecuteWorkflow(context.Background(), TemplateDatabaseRecovery, "database", nil, nil)
	if err == nil {
		t.Fatal("expected first run to fail")
	}
	resetCallsBefore := h.deps.callCount("reset:database")

	// The fault clears; resume picks up at the failed step.
	delete(h.deps.failOn, "restore:database")
	resumed, err := h.o.Resume(context.Background(), wf.ID)
	if err != nil {
		t.Fatalf("unexpected resume error: %v", err)
	}
	if resumed.State != types.WorkflowCompleted {
		t.Errorf("expected completed after resume, got %s", resumed.State)
	}
	if got := h.deps.callCount("reset:database"); got != resetCallsBefore {
		t.Errorf("resume must not re-execute earlier steps: reset ran %d extra times", got-resetCallsBefore)
	}
}

func TestResume_CompletedWorkflowIsNoop(t *testing.T) {
	h := newTestOrchestrator(t)

	wf, err := h.o.ExecuteWorkflow(context.Background(), TemplateDatabaseRecovery, "database", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	callsBefore := len(h.deps.calls)

	resumed, err := h.o.Resume(context.Background(), wf.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed.State != types.WorkflowCompleted {
		t.Errorf("expected completed, got %s", resumed.State)
	}
	if len(h.deps.calls) != callsBefore {
		t.Error("resuming a completed workflow must not execute anything")
	}
}

func TestCancel_TakesEffectBetweenSteps(t *testing.T) {
	h := newTestOrchestrator(t)

	// Cancel from inside the first step; the step finishes, the workflow is
	// marked cancelled before the next one.
	var once sync.Once
	h.deps.onCall = func(string) {
		once.Do(func() {
			ids := h.o.Active()
			if len(ids) != 1 {
				t.Errorf("expected 1 active workflow, got %d", len(ids))
				return
			}
			if !h.o.Cancel(ids[0]) {
				t.Error("cancel of an active workflow must succeed")
			}
		})
	}

	wf, err := h.o.ExecuteWorkflow(context.Background(), TemplateDatabaseRecovery, "database", nil, nil)
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeWorkflowCancelled {
		t.Fatalf("expected workflow_cancelled, got %v", err)
	}
	if wf.State != types.WorkflowCancelled {
		t.Errorf("expected cancelled, got %s", wf.State)
	}
	if got := h.deps.callCount("check:database"); got != 1 {
		t.Errorf("only the in-flight step should have run, got %d calls", got)
	}
	if wf.Steps[0].Status != StepCompleted {
		t.Errorf("in-flight step runs to completion, got %s", wf.Steps[0].Status)
	}
}

func TestCancel_InactiveWorkflowReturnsFalse(t *testing.T) {
	h := newTestOrchestrator(t)
	if h.o.Cancel("never-started") {
		t.Error("cancelling an unknown workflow must return false")
	}
}

func TestRollback_ReversesSinceCheckpoint(t *testing.T) {
	h := newTestOrchestrator(t)

	wf, err := h.o.ExecuteWorkflow(context.Background(), TemplateFullRecovery, "system", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rb, err := h.o.RollbackWorkflow(context.Background(), wf.ID, "")
	if err != nil {
		t.Fatalf("unexpected rollback error: %v", err)
	}
	if rb.State != types.WorkflowCompleted {
		t.Errorf("expected rollback completed, got %s", rb.State)
	}
	if rb.TemplateID != TemplateFullRecovery+":rollback" {
		t.Errorf("unexpected rollback template id %s", rb.TemplateID)
	}
	// Latest checkpoint sits at sys-service-restart; only its rollback runs.
	if len(rb.Steps) != 1 || rb.Steps[0].ID != "rb-sys-health-check" {
		t.Errorf("expected the restart rollback step only, got %+v", rb.Steps)
	}
}

func TestRollback_FromNamedCheckpoint(t *testing.T) {
	h := newTestOrchestrator(t)

	wf, err := h.o.ExecuteWorkflow(context.Background(), TemplateFullRecovery, "system", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, err := h.store.GetWorkflow(context.Background(), wf.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := stored.Checkpoints[0] // before sys-failover

	rb, err := h.o.RollbackWorkflow(context.Background(), wf.ID, first.ID)
	if err != nil {
		t.Fatalf("unexpected rollback error: %v", err)
	}
	// Everything from the failover onward gets undone, reverse order.
	if len(rb.Steps) != 2 {
		t.Fatalf("expected 2 rollback steps, got %d", len(rb.Steps))
	}
	if rb.Steps[0].ID != "rb-sys-health-check" || rb.Steps[1].ID != "rb-sys-failback" {
		t.Errorf("rollback steps out of order: %s, %s", rb.Steps[0].ID, rb.Steps[1].ID)
	}
}

func TestRollback_MissingCheckpoint(t *testing.T) {
	h := newTestOrchestrator(t)
	wf, err := h.o.ExecuteWorkflow(context.Background(), TemplateFullRecovery, "system", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = h.o.RollbackWorkflow(context.Background(), wf.ID, "no-such-checkpoint")
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeCheckpointNotFound {
		t.Fatalf("expected checkpoint_not_found, got %v", err)
	}
}

func TestCustomStepsReplaceTemplate(t *testing.T) {
	h := newTestOrchestrator(t)

	custom := []RecoveryStep{
		{ID: "only", Name: "single check", Type: types.StepHealthCheck, Params: map[string]string{"target": "custom"}},
	}
	wf, err := h.o.ExecuteWorkflow(context.Background(), TemplateDatabaseRecovery, "database", nil, custom)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(wf.Steps) != 1 || h.deps.callCount("check:custom") != 1 {
		t.Errorf("custom steps must replace the template, got %d steps", len(wf.Steps))
	}
}

func TestLaunch_RunsTemplate(t *testing.T) {
	h := newTestOrchestrator(t)

	if err := h.o.Launch(context.Background(), TemplateDatabaseRecovery, "database"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.deps.callCount("restore:database") != 1 {
		t.Error("launch must execute the template")
	}
}
