package hub

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-statemachine"
	"github.com/goliatone/go-statemachine/machine"
)

type job struct {
	Attempts int `json:"attempts"`
}

func jobDefinition() statemachine.DefinitionSet[job] {
	return statemachine.DefinitionSet[job]{
		ID: "job",
		States: []statemachine.StateDefinition[job]{
			{Name: "queued", Initial: true},
			{Name: "running"},
			{Name: "done", Terminal: true},
			{Name: "stuck", Failure: true},
		},
		Transitions: []statemachine.TransitionDefinition[job]{
			{Event: "start", From: "queued", To: "running"},
			{Event: "finish", From: "running", To: "done"},
			{Event: "jam", From: "queued", To: "stuck"},
			{Event: "jam", From: "running", To: "stuck"},
		},
	}
}

func newJob(t *testing.T, id string) *machine.Machine[job] {
	t.Helper()
	m, err := machine.New(id, jobDefinition(), job{})
	if err != nil {
		t.Fatalf("new machine %s: %v", id, err)
	}
	return m
}

func jobFactory(id string) statemachine.InstanceFactory {
	return func(context.Context) (statemachine.Instance, error) {
		return machine.New(id, jobDefinition(), job{})
	}
}

func waitForSupervisor(t *testing.T, h *Hub, state string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Supervisor().CurrentState() == state {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("supervisor stuck in %s, wanted %s", h.Supervisor().CurrentState(), state)
}

func startedHub(t *testing.T, opts ...Option) (*Hub, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h, err := New(opts...)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	if err := h.Start(ctx); err != nil {
		t.Fatalf("start hub: %v", err)
	}
	t.Cleanup(func() {
		_ = h.Stop(context.Background())
		cancel()
	})
	waitForSupervisor(t, h, StateActive)
	return h, ctx
}

func TestStartDrivesSupervisorToActive(t *testing.T) {
	h, _ := startedHub(t)
	if !h.IsHealthy() {
		t.Fatal("expected healthy hub with no instances")
	}
	st := h.Status()
	if st.SupervisorState != StateActive || !st.Healthy || st.RegisteredCount != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestSupervisorPauseResumeAndShutdown(t *testing.T) {
	h, ctx := startedHub(t)
	sup := h.Supervisor()

	if err := sup.SendImmediate(ctx, EventPause, nil); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if sup.CurrentState() != StateSuspended {
		t.Fatalf("expected suspended, got %s", sup.CurrentState())
	}
	if h.IsHealthy() {
		t.Fatal("suspended hub must not report healthy")
	}
	if err := sup.SendImmediate(ctx, EventResume, nil); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if sup.CurrentState() != StateActive {
		t.Fatalf("expected active, got %s", sup.CurrentState())
	}
}

func TestSupervisorRecoveryGuardExhausts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := New(WithMaxRecoveryAttempts(2))
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	if err := h.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.Stop(context.Background())
	waitForSupervisor(t, h, StateActive)
	sup := h.Supervisor()

	for attempt := 0; attempt < 2; attempt++ {
		if err := sup.SendImmediate(ctx, EventErrorOccurred, nil); err != nil {
			t.Fatalf("error signal: %v", err)
		}
		if sup.CurrentState() != StateError {
			t.Fatalf("expected error state, got %s", sup.CurrentState())
		}
		if err := sup.SendImmediate(ctx, EventRecoveryComplete, nil); err != nil {
			t.Fatalf("recovery %d: %v", attempt, err)
		}
		waitForSupervisor(t, h, StateActive)
	}

	if err := sup.SendImmediate(ctx, EventErrorOccurred, nil); err != nil {
		t.Fatalf("error signal: %v", err)
	}
	err = sup.SendImmediate(ctx, EventRecoveryComplete, nil)
	if !statemachine.IsGuardRejected(err) {
		t.Fatalf("expected canRecover to exhaust, got %v", err)
	}
	if sup.CurrentState() != StateError {
		t.Fatalf("expected supervisor held in error, got %s", sup.CurrentState())
	}

	if err := sup.SendImmediate(ctx, EventForceShutdown, nil); err != nil {
		t.Fatalf("force shutdown: %v", err)
	}
	if sup.CurrentState() != StateShutdown {
		t.Fatalf("expected shutdown, got %s", sup.CurrentState())
	}
}

func TestRegisterRejectsDuplicatesAndEmptyIDs(t *testing.T) {
	h, _ := startedHub(t)

	if err := h.Register("", "jobs", "Job", newJob(t, "j"), nil); err == nil {
		t.Fatal("expected empty id rejection")
	}
	if err := h.Register("j1", "jobs", "Job 1", newJob(t, "j1"), nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := h.Register("j1", "jobs", "Job 1 again", newJob(t, "j1"), nil)
	if statemachine.ErrorCode(err) != statemachine.ErrCodePreconditionFailed {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestStatusAggregatesAcrossCategories(t *testing.T) {
	h, ctx := startedHub(t)

	j1 := newJob(t, "j1")
	j2 := newJob(t, "j2")
	w1 := newJob(t, "w1")
	for id, inst := range map[string]*machine.Machine[job]{"j1": j1, "j2": j2, "w1": w1} {
		category := "jobs"
		if id == "w1" {
			category = "workers"
		}
		if err := h.Register(id, category, id, inst, nil); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	if err := j2.SendImmediate(ctx, "jam", nil); err != nil {
		t.Fatalf("jam: %v", err)
	}

	st := h.Status()
	if st.RegisteredCount != 3 {
		t.Fatalf("expected 3 registered, got %d", st.RegisteredCount)
	}
	if st.Healthy {
		t.Fatal("expected aggregate unhealthy with one stuck instance")
	}
	if got := st.Categories["jobs"]; got.Total != 2 || got.Healthy != 1 {
		t.Fatalf("unexpected jobs health: %+v", got)
	}
	if got := st.Categories["workers"]; got.Total != 1 || got.Healthy != 1 {
		t.Fatalf("unexpected workers health: %+v", got)
	}
	if st.Instances[0].ID != "j1" || st.Instances[2].ID != "w1" {
		t.Fatalf("expected stable id ordering, got %+v", st.Instances)
	}
	if h.IsHealthy() {
		t.Fatal("expected short-circuit conjunction to fail")
	}
}

func TestRestartReplacesHandleWithFreshInstance(t *testing.T) {
	h, ctx := startedHub(t)

	j1 := newJob(t, "j1")
	if err := h.Register("j1", "jobs", "Job 1", j1, jobFactory("j1")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := j1.SendImmediate(ctx, "jam", nil); err != nil {
		t.Fatalf("jam: %v", err)
	}
	if h.IsHealthy() {
		t.Fatal("expected unhealthy before restart")
	}

	if err := h.Restart(ctx, "j1"); err != nil {
		t.Fatalf("restart: %v", err)
	}

	handle, ok := h.Get("j1")
	if !ok {
		t.Fatal("expected instance still registered")
	}
	if handle == statemachine.Instance(j1) {
		t.Fatal("expected a fresh handle after restart")
	}
	if handle.CurrentState() != "queued" {
		t.Fatalf("expected initial state, got %s", handle.CurrentState())
	}
	fresh, ok := handle.(*machine.Machine[job])
	if !ok {
		t.Fatalf("unexpected handle type %T", handle)
	}
	if transitions, events := fresh.Recorder().Len(); transitions != 0 || events != 0 {
		t.Fatalf("expected empty history after restart, got %d/%d", transitions, events)
	}
	if !h.IsHealthy() {
		t.Fatal("expected healthy after restart")
	}

	st := h.Status()
	if st.Instances[0].Restarts != 1 {
		t.Fatalf("expected restart counted, got %+v", st.Instances[0])
	}
}

func TestRestartWithoutFactoryFails(t *testing.T) {
	h, ctx := startedHub(t)
	if err := h.Register("j1", "jobs", "Job 1", newJob(t, "j1"), nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := h.Restart(ctx, "j1")
	if statemachine.ErrorCode(err) != statemachine.ErrCodePreconditionFailed {
		t.Fatalf("expected factory precondition failure, got %v", err)
	}
	if err := h.Restart(ctx, "ghost"); statemachine.ErrorCode(err) != statemachine.ErrCodeInstanceNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSendRoutesToRegisteredInstance(t *testing.T) {
	h, ctx := startedHub(t)
	j1 := newJob(t, "j1")
	if err := h.Register("j1", "jobs", "Job 1", j1, nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := h.Send(ctx, "ghost", statemachine.Event{Name: "start"}); statemachine.ErrorCode(err) != statemachine.ErrCodeInstanceNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := h.Send(ctx, "j1", statemachine.Event{Name: "start"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	j1.Drain(ctx)
	if j1.CurrentState() != "running" {
		t.Fatalf("expected running, got %s", j1.CurrentState())
	}
}

func TestSweepRestartsUnhealthyInstancesWithFactories(t *testing.T) {
	h, ctx := startedHub(t)

	j1 := newJob(t, "j1")
	j2 := newJob(t, "j2")
	if err := h.Register("j1", "jobs", "Job 1", j1, jobFactory("j1")); err != nil {
		t.Fatalf("register j1: %v", err)
	}
	// no factory: sweep can flag it but not restart it
	if err := h.Register("j2", "jobs", "Job 2", j2, nil); err != nil {
		t.Fatalf("register j2: %v", err)
	}
	for _, m := range []*machine.Machine[job]{j1, j2} {
		if err := m.SendImmediate(ctx, "jam", nil); err != nil {
			t.Fatalf("jam: %v", err)
		}
	}

	report := h.Sweep(ctx, true)
	if report.Checked != 2 || len(report.Unhealthy) != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Restarted) != 1 || report.Restarted[0] != "j1" {
		t.Fatalf("expected only j1 restarted, got %+v", report.Restarted)
	}

	handle, _ := h.Get("j1")
	if handle.CurrentState() != "queued" {
		t.Fatalf("expected j1 reset, got %s", handle.CurrentState())
	}
}

func TestSweeperRunsOnSchedule(t *testing.T) {
	h, _ := startedHub(t)

	reports := make(chan SweepReport, 4)
	if err := h.StartSweeper("@every 1s", WithSweepHandler(func(r SweepReport) {
		select {
		case reports <- r:
		default:
		}
	})); err != nil {
		t.Fatalf("start sweeper: %v", err)
	}
	if err := h.StartSweeper("@every 1s"); err == nil {
		t.Fatal("expected double start rejection")
	}

	select {
	case r := <-reports:
		if r.At.IsZero() {
			t.Fatalf("expected stamped report, got %+v", r)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("sweeper never fired")
	}

	if _, ok := h.LastSweep(); !ok {
		t.Fatal("expected last sweep recorded")
	}
	h.StopSweeper()
	h.StopSweeper()
}

func TestHubLogLinesAreWellFormed(t *testing.T) {
	buf := &bytes.Buffer{}
	h, err := New(WithLogger(statemachine.NewFmtLogger(buf)))
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	ctx := context.Background()

	j1 := newJob(t, "j1")
	if err := h.Register("j1", "jobs", "Job 1", j1, jobFactory("j1")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := j1.SendImmediate(ctx, "jam", nil); err != nil {
		t.Fatalf("jam: %v", err)
	}
	h.Sweep(ctx, true)
	h.Unregister("j1")

	out := buf.String()
	for _, line := range []string{
		"instance j1 registered category=jobs",
		"unhealthy instance j1 category=jobs state=stuck",
		"instance j1 restarted restarts=1",
		"instance j1 unregistered",
	} {
		if !strings.Contains(out, line) {
			t.Fatalf("expected log line %q in output:\n%s", line, out)
		}
	}
	if strings.Contains(out, "%!") {
		t.Fatalf("malformed format directives in log output:\n%s", out)
	}
}

func TestHubInitServiceFailureLandsInErrorState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := New(WithInitService(func(context.Context, statemachine.MachineContext[SupervisorData]) (any, error) {
		return nil, fmt.Errorf("dependency unavailable")
	}))
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	if err := h.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.Stop(context.Background())

	waitForSupervisor(t, h, StateError)
	if h.IsHealthy() {
		t.Fatal("expected unhealthy hub after failed bootstrap")
	}
}
