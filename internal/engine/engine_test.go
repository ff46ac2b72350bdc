package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tira-io/tirad/internal/catalog"
	"github.com/tira-io/tirad/internal/engine"
	"github.com/tira-io/tirad/internal/gate"
	"github.com/tira-io/tirad/internal/journal"
	"github.com/tira-io/tirad/internal/model"
	"github.com/tira-io/tirad/internal/shell"
	"github.com/tira-io/tirad/internal/shell/shelltest"
	"github.com/tira-io/tirad/internal/store"
	"github.com/tira-io/tirad/internal/supervisor"
)

const testCatalog = `
tasks:
  - id: task1
    virtual_machine_id: task1-master
datasets:
  - id: ds-train
    task_id: task1
    evaluator_id: evaluator1
  - id: ds-noeval
    task_id: task1
softwares:
  - id: software1
    task_id: task1
    user: alice
    command: ./run.sh
    working_directory: /home/alice
  - id: software2
    task_id: task1
    user: alice
    command: ./old.sh
    deleted: true
evaluators:
  - id: evaluator1
    task_id: task1
    command: eval.sh
    working_directory: /eval
virtual_machines:
  - id: alice-vm
    host: host1
    vm_name: alice-ubuntu-20-04
    user: tira-alice
    password: pw
    port_ssh: "44001"
    port_rdp: "44002"
  - id: task1-master
    host: host2
    vm_name: task1-master-fedora
    user: master
    password: mpw
    port_ssh: "45001"
users:
  - name: alice
    virtual_machine_id: alice-vm
  - name: bob
    virtual_machine_id: alice-vm
`

// fakeManager keeps jobs in memory. Submitted jobs are immediately RUNNING.
type fakeManager struct {
	mu        sync.Mutex
	procs     []model.ManagedProcess
	submitted []supervisor.Job
	stopped   []string
	submitErr error
	stopErr   error
}

func (m *fakeManager) List(context.Context) ([]model.ManagedProcess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ManagedProcess(nil), m.procs...), nil
}

func (m *fakeManager) Submit(_ context.Context, job supervisor.Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return "", m.submitErr
	}
	runID := job.RunID
	if runID == "" {
		runID = "2024-01-01-10-00-00"
	}
	name := supervisor.JobName(job.User, job.Type, runID)
	m.submitted = append(m.submitted, job)
	m.procs = append(m.procs, model.ManagedProcess{Name: name, State: model.ProcRunning, Uptime: "0:00:01"})
	return name, nil
}

func (m *fakeManager) Stop(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopErr != nil {
		return m.stopErr
	}
	m.stopped = append(m.stopped, name)
	for i := range m.procs {
		if m.procs[i].Name == name {
			m.procs[i].State = "STOPPED"
		}
	}
	return nil
}

func (m *fakeManager) ActiveDescriptors(string) ([]string, error) { return nil, nil }

func (m *fakeManager) submissions() []supervisor.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]supervisor.Job(nil), m.submitted...)
}

type fixture struct {
	engine  *engine.Engine
	manager *fakeManager
	exec    *shelltest.Fake
	runs    *store.RunStore
	journal *journal.SQLiteJournal
	subDir  string
}

// testNow stamps every run the fixture's engine creates.
var testNow = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	j, err := journal.NewSQLiteJournal(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	fake := &shelltest.Fake{}
	runs := store.New(store.Config{
		RunsRoot:           t.TempDir(),
		TextCacheBytes:     1 << 20,
		RecordCacheEntries: 16,
		OutputTailBytes:    1 << 20,
	}, fake, logger)
	subDir := t.TempDir()
	m := &fakeManager{}

	clock := func() time.Time { return testNow }
	eng := engine.NewEngine(engine.Config{HostUser: "tira", Now: clock}, gate.New(m, nil), m, fake, runs,
		store.NewSubmissionFiles(subDir), cat, j, logger)
	return &fixture{engine: eng, manager: m, exec: fake, runs: runs, journal: j, subDir: subDir}
}

// seedRun writes a run record of user directly into the store.
func (f *fixture) seedRun(t *testing.T, key model.RunKey, softwareID string) {
	t.Helper()
	h, err := f.runs.RunHandle(context.Background(), key, true)
	if err != nil {
		t.Fatalf("RunHandle: %v", err)
	}
	r := f.runs.CreateRun("task1", softwareID, key.RunID, "", model.Dataset{ID: key.Dataset})
	if err := h.SaveRun(context.Background(), r); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
}

func TestSubmitSoftwareRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.engine.SubmitSoftwareRun(ctx, engine.SoftwareRun{
		User: "alice", TaskID: "task1", SoftwareID: "software1", DatasetID: "ds-train",
	})
	if err != nil {
		t.Fatalf("SubmitSoftwareRun: %v", err)
	}
	if got.Key.Dataset != "ds-train" || got.Key.User != "alice" || got.Key.RunID == "" {
		t.Errorf("key = %+v", got.Key)
	}
	if got.Job != "alice-software1-"+got.Key.RunID {
		t.Errorf("job = %q", got.Job)
	}
	if got.JournalID == "" {
		t.Error("journal id not set")
	}

	r, err := f.runs.ReadRun(got.Key)
	if err != nil {
		t.Fatalf("ReadRun: %v", err)
	}
	if r.SoftwareID != "software1" || r.InputRun != model.NoInputRun || !r.Downloadable {
		t.Errorf("run = %+v", r)
	}

	subFile := filepath.Join(f.subDir, "tira-alice", "tira-alice-submission-"+got.Key.RunID+".txt")
	b, err := os.ReadFile(subFile)
	if err != nil {
		t.Fatalf("submission file: %v", err)
	}
	if !strings.Contains(string(b), `cmd="./run.sh"`) || !strings.Contains(string(b), `workingDir="/home/alice"`) {
		t.Errorf("submission file = %q", b)
	}

	jobs := f.manager.submissions()
	if len(jobs) != 1 {
		t.Fatalf("submitted %d jobs, want 1", len(jobs))
	}
	want := "sudo -u tira -H tira run-execute -r host1 tira-alice-submission-" + got.Key.RunID +
		".txt ds-train none " + got.Key.RunID + " true -T task1"
	if jobs[0].Command != want {
		t.Errorf("command = %q\nwant      %q", jobs[0].Command, want)
	}

	e, err := f.journal.Get(ctx, got.JournalID)
	if err != nil {
		t.Fatalf("journal Get: %v", err)
	}
	if e.Outcome != journal.OutcomeStarted || e.Job != got.Job {
		t.Errorf("journal entry = %+v", e)
	}
}

func TestSubmitSoftwareRunWithInputRun(t *testing.T) {
	f := newFixture(t)
	input := model.RunKey{Dataset: "ds-train", User: "alice", RunID: "2023-12-31-10-00-00"}
	f.seedRun(t, input, "software1")

	got, err := f.engine.SubmitSoftwareRun(context.Background(), engine.SoftwareRun{
		User: "alice", TaskID: "task1", SoftwareID: "software1", DatasetID: "ds-train",
		InputRun: input.RunID,
	})
	if err != nil {
		t.Fatalf("SubmitSoftwareRun: %v", err)
	}
	if !strings.Contains(f.manager.submissions()[0].Command, " "+f.runs.Dir(input)+" ") {
		t.Errorf("command %q does not name the input run dir", f.manager.submissions()[0].Command)
	}
	r, _ := f.runs.ReadRun(got.Key)
	if r.InputRun != input.RunID {
		t.Errorf("InputRun = %q, want %q", r.InputRun, input.RunID)
	}
}

func TestSubmitRejectsRunIDsOutsideOwnRuns(t *testing.T) {
	f := newFixture(t)
	bob := model.RunKey{Dataset: "ds-train", User: "bob", RunID: "2023-12-31-10-00-00"}
	f.seedRun(t, bob, "software1")
	ctx := context.Background()

	_, err := f.engine.SubmitSoftwareRun(ctx, engine.SoftwareRun{
		User: "alice", TaskID: "task1", SoftwareID: "software1", DatasetID: "ds-train",
		InputRun: "../bob/" + bob.RunID,
	})
	if !errors.Is(err, model.ErrInvalid) {
		t.Errorf("software run: err = %v, want ErrInvalid", err)
	}
	_, err = f.engine.SubmitEvaluatorRun(ctx, engine.EvaluatorRun{
		User: "alice", TaskID: "task1", RunID: "../../ds-train/bob/" + bob.RunID,
	})
	if !errors.Is(err, model.ErrInvalid) {
		t.Errorf("evaluator run: err = %v, want ErrInvalid", err)
	}
	if n := len(f.manager.submissions()); n != 0 {
		t.Errorf("submitted %d jobs, want 0", n)
	}
}

func TestSubmitSoftwareRunBusyIsConflict(t *testing.T) {
	f := newFixture(t)
	f.manager.procs = []model.ManagedProcess{
		{Name: "alice-software1-2024-01-01-09-00-00", State: model.ProcRunning},
	}

	_, err := f.engine.SubmitSoftwareRun(context.Background(), engine.SoftwareRun{
		User: "alice", TaskID: "task1", SoftwareID: "software1", DatasetID: "ds-train",
	})
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if n := len(f.manager.submissions()); n != 0 {
		t.Errorf("submitted %d jobs, want 0", n)
	}
	keys, _ := f.runs.ListUserRuns("alice")
	if len(keys) != 0 {
		t.Errorf("run records created while busy: %v", keys)
	}
}

func TestSubmitSoftwareRunSameSecondIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := engine.SoftwareRun{User: "alice", TaskID: "task1", SoftwareID: "software1", DatasetID: "ds-train"}

	first, err := f.engine.SubmitSoftwareRun(ctx, req)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if first.Key.RunID != model.NewRunID(testNow) {
		t.Fatalf("run id = %q", first.Key.RunID)
	}
	before, err := f.runs.ReadRun(first.Key)
	if err != nil {
		t.Fatal(err)
	}

	// The job fails instantly, so the user is idle again within the second.
	f.manager.mu.Lock()
	for i := range f.manager.procs {
		f.manager.procs[i].State = "EXITED"
	}
	f.manager.mu.Unlock()

	_, err = f.engine.SubmitSoftwareRun(ctx, req)
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	after, err := f.runs.ReadRun(first.Key)
	if err != nil {
		t.Fatal(err)
	}
	if after != before {
		t.Errorf("run record rewritten: %+v, was %+v", after, before)
	}
	if n := len(f.manager.submissions()); n != 1 {
		t.Errorf("submitted %d jobs, want 1", n)
	}
}

func TestConcurrentSubmissionsSecondIsConflict(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.SubmitSoftwareRun(context.Background(), engine.SoftwareRun{
				User: "alice", TaskID: "task1", SoftwareID: "software1", DatasetID: "ds-train",
			})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Errorf("ok=%d conflicts=%d, want 1 and 1", ok, conflicts)
	}
	if n := len(f.manager.submissions()); n != 1 {
		t.Errorf("submitted %d jobs, want 1", n)
	}
}

func TestOtherUserIsNotBlocked(t *testing.T) {
	f := newFixture(t)
	f.manager.procs = []model.ManagedProcess{
		{Name: "alice-software1-2024-01-01-09-00-00", State: model.ProcRunning},
	}

	_, err := f.engine.StartVM(context.Background(), "bob")
	if err != nil {
		t.Fatalf("StartVM(bob): %v", err)
	}
}

func TestSubmitSoftwareRunDeletedSoftware(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SubmitSoftwareRun(context.Background(), engine.SoftwareRun{
		User: "alice", TaskID: "task1", SoftwareID: "software2", DatasetID: "ds-train",
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSubmitSoftwareRunStartFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	f.manager.submitErr = &shell.ToolError{Command: "supervisorctl start", ExitCode: 1}

	_, err := f.engine.SubmitSoftwareRun(context.Background(), engine.SoftwareRun{
		User: "alice", TaskID: "task1", SoftwareID: "software1", DatasetID: "ds-train",
	})
	if !errors.Is(err, model.ErrExternalTool) {
		t.Fatalf("err = %v, want ErrExternalTool", err)
	}

	keys, _ := f.runs.ListUserRuns("alice")
	if len(keys) != 1 {
		t.Errorf("run records = %v, want the orphaned record", keys)
	}

	entries, total, err := f.journal.List(context.Background(), "alice", 10, 0)
	if err != nil || total != 1 || entries[0].Outcome != journal.OutcomeFailed {
		t.Errorf("journal = %+v (%d), %v", entries, total, err)
	}
}

func TestSubmitEvaluatorRun(t *testing.T) {
	f := newFixture(t)
	input := model.RunKey{Dataset: "ds-train", User: "alice", RunID: "2023-12-31-10-00-00"}
	f.seedRun(t, input, "software1")

	got, err := f.engine.SubmitEvaluatorRun(context.Background(), engine.EvaluatorRun{
		User: "alice", TaskID: "task1", RunID: input.RunID,
	})
	if err != nil {
		t.Fatalf("SubmitEvaluatorRun: %v", err)
	}
	if got.Key.Dataset != "ds-train" {
		t.Errorf("dataset = %q, want the evaluated run's", got.Key.Dataset)
	}

	r, err := f.runs.ReadRun(got.Key)
	if err != nil {
		t.Fatalf("ReadRun: %v", err)
	}
	if r.SoftwareID != "evaluator1" || r.InputRun != input.RunID || !r.IsEvaluation() {
		t.Errorf("run = %+v", r)
	}

	b, err := os.ReadFile(filepath.Join(f.subDir, "tira-alice", "tira-alice-submission-"+got.Key.RunID+".txt"))
	if err != nil {
		t.Fatalf("submission file: %v", err)
	}
	if !strings.Contains(string(b), `host="host2"`) || !strings.Contains(string(b), `user="master"`) {
		t.Errorf("submission file does not target the task VM: %q", b)
	}

	want := "sudo -u tira -H tira run-eval -r host2 tira-alice-submission-" + got.Key.RunID +
		".txt ds-train " + f.runs.Dir(input) + " " + got.Key.RunID + " -T task1"
	if cmd := f.manager.submissions()[0].Command; cmd != want {
		t.Errorf("command = %q\nwant      %q", cmd, want)
	}
}

func TestSubmitEvaluatorRunMissingRun(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SubmitEvaluatorRun(context.Background(), engine.EvaluatorRun{
		User: "alice", TaskID: "task1", RunID: "2020-01-01-00-00-00",
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSubmitEvaluatorRunDatasetWithoutEvaluator(t *testing.T) {
	f := newFixture(t)
	input := model.RunKey{Dataset: "ds-noeval", User: "alice", RunID: "2023-12-31-10-00-00"}
	f.seedRun(t, input, "software1")

	_, err := f.engine.SubmitEvaluatorRun(context.Background(), engine.EvaluatorRun{
		User: "alice", TaskID: "task1", RunID: input.RunID,
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestKillIdleUserIssuesNoStop(t *testing.T) {
	f := newFixture(t)
	f.manager.procs = []model.ManagedProcess{
		{Name: "alice-software1-2024-01-01-09-00-00", State: "EXITED"},
	}

	_, err := f.engine.Kill(context.Background(), "alice", true)
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if len(f.manager.stopped) != 0 {
		t.Errorf("stopped %v, want nothing", f.manager.stopped)
	}
	if n := len(f.exec.Calls()); n != 0 {
		t.Errorf("executed %v, want nothing", f.exec.Calls())
	}
}

func TestKillCopiesBackSoftwareOutput(t *testing.T) {
	f := newFixture(t)
	key := model.RunKey{Dataset: "ds-train", User: "alice", RunID: "2024-01-01-09-00-00"}
	f.seedRun(t, key, "software1")
	name := "alice-software1-" + key.RunID
	f.manager.procs = []model.ManagedProcess{{Name: name, State: model.ProcRunning}}

	stopped, err := f.engine.Kill(context.Background(), "alice", true)
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if len(stopped) != 1 || stopped[0] != name {
		t.Errorf("stopped = %v", stopped)
	}

	copyCmd := "sudo -u tira -H tira run-copy-to-local -r host1 " + key.RunID +
		" ds-train tira-alice pw host1 44001 ubuntu"
	if f.exec.Count(copyCmd) != 1 {
		t.Errorf("copy-back not issued; calls = %v", f.exec.Calls())
	}
	if f.exec.Count("sudo -u tira -H tira vm-unsandbox -r host1 alice-ubuntu-20-04") != 1 {
		t.Errorf("unsandbox not issued; calls = %v", f.exec.Calls())
	}
}

func TestKillEvaluatorSkipsCopyBack(t *testing.T) {
	f := newFixture(t)
	f.manager.procs = []model.ManagedProcess{
		{Name: "alice-evaluator1-2024-01-01-09-00-00", State: model.ProcRunning},
	}

	if _, err := f.engine.Kill(context.Background(), "alice", false); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if n := f.exec.Count("sudo -u tira -H tira run-copy-to-local"); n != 0 {
		t.Errorf("copy-back issued %d times for an evaluator", n)
	}
	if n := f.exec.Count("sudo -u tira -H tira vm-unsandbox"); n != 0 {
		t.Errorf("unsandbox issued without being requested")
	}
	if len(f.manager.stopped) != 1 {
		t.Errorf("stopped = %v", f.manager.stopped)
	}
}

func TestKillCopyBackFailureStillStops(t *testing.T) {
	f := newFixture(t)
	key := model.RunKey{Dataset: "ds-train", User: "alice", RunID: "2024-01-01-09-00-00"}
	f.seedRun(t, key, "software1")
	f.manager.procs = []model.ManagedProcess{{Name: "alice-software1-" + key.RunID, State: model.ProcRunning}}
	f.exec.Fail("sudo -u tira -H tira run-copy-to-local", "ssh: connection refused")

	if _, err := f.engine.Kill(context.Background(), "alice", false); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if len(f.manager.stopped) != 1 {
		t.Errorf("stopped = %v, want the job", f.manager.stopped)
	}
}

func TestVMJobs(t *testing.T) {
	tests := []struct {
		name    string
		call    func(*engine.Engine, context.Context, string) (string, error)
		jobType string
		command string
	}{
		{"start", (*engine.Engine).StartVM, model.JobStartVM, "sudo -u tira -H tira vm-start -r host1 alice-ubuntu-20-04"},
		{"stop", (*engine.Engine).StopVM, model.JobStopVM, "sudo -u tira -H tira vm-stop -r host1 alice-ubuntu-20-04"},
		{"shutdown", (*engine.Engine).ShutdownVM, model.JobShutdownVM, "sudo -u tira -H tira vm-shutdown -r host1 tira-alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			job, err := tt.call(f.engine, context.Background(), "alice")
			if err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			jobs := f.manager.submissions()
			if len(jobs) != 1 || jobs[0].Type != tt.jobType || jobs[0].Command != tt.command {
				t.Errorf("jobs = %+v", jobs)
			}
			if !strings.HasPrefix(job, "alice-"+tt.jobType+"-") {
				t.Errorf("job = %q", job)
			}
		})
	}
}

func TestEventsPublished(t *testing.T) {
	f := newFixture(t)
	ch, unsub := f.engine.Broker().Subscribe("alice")
	defer unsub()

	if _, err := f.engine.StartVM(context.Background(), "alice"); err != nil {
		t.Fatalf("StartVM: %v", err)
	}
	if _, err := f.engine.StartVM(context.Background(), "alice"); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("second StartVM err = %v, want ErrConflict", err)
	}

	want := []string{journal.OutcomeStarted, journal.OutcomeRejected}
	for _, outcome := range want {
		select {
		case ev := <-ch:
			if ev.Kind != journal.KindStartVM || ev.Outcome != outcome {
				t.Errorf("event = %+v, want outcome %s", ev, outcome)
			}
		case <-time.After(time.Second):
			t.Fatalf("no event for outcome %s", outcome)
		}
	}
}
