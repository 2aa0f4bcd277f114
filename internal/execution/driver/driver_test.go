package driver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/attribution-runner/internal/domain"
	"github.com/animus-labs/attribution-runner/internal/execution/stageflow"
	"github.com/animus-labs/attribution-runner/internal/repo"
	"github.com/animus-labs/attribution-runner/internal/runtimeexec"
)

type call struct {
	stage   string
	attempt int
}

type fakeRunner struct {
	calls []call
	// outcome decides the result of the n-th call (1-based) for a stage.
	outcome func(ctx context.Context, stage string, n int) error
	counts  map[string]int
}

func (f *fakeRunner) ExecuteStage(ctx context.Context, req runtimeexec.StageRequest) error {
	f.calls = append(f.calls, call{stage: req.Stage.Name, attempt: req.Attempt})
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[req.Stage.Name]++
	if f.outcome == nil {
		return nil
	}
	return f.outcome(ctx, req.Stage.Name, f.counts[req.Stage.Name])
}

type fakeLedger struct {
	mu      sync.Mutex
	records []repo.StageAttemptRecord
}

func (f *fakeLedger) InsertAttempt(ctx context.Context, rec repo.StageAttemptRecord) (repo.StageAttemptRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return rec, true, nil
}

func (f *fakeLedger) ListByInstance(ctx context.Context, instanceID string) ([]repo.StageAttemptRecord, error) {
	return f.records, nil
}

func (f *fakeLedger) statuses(stage string) []string {
	var out []string
	for _, r := range f.records {
		if r.StageName == stage {
			out = append(out, r.Status)
		}
	}
	return out
}

type fakeObserver struct {
	status domain.InstanceStatus
}

func (f fakeObserver) GetInstance(ctx context.Context, id string) (domain.Instance, error) {
	return domain.Instance{ID: id, Status: f.status}, nil
}

func testFlow() stageflow.Flow {
	return stageflow.Flow{
		Name:     "test",
		GameType: domain.GameAttribution,
		Stages: []stageflow.Stage{
			{Name: "id_match", StatusPrefix: domain.PrefixIDMatching, Binary: stageflow.BinaryPrivateIDClient, Containers: stageflow.ContainersPID},
			{Name: "compute", StatusPrefix: domain.PrefixPCF2Attribution, Binary: stageflow.BinaryAttributionCompute, Containers: stageflow.ContainersMPC},
			{Name: "post", StatusPrefix: domain.PrefixPostProcessingHandlers, Containers: stageflow.ContainersNone},
		},
	}
}

func newTestDriver(runner StageRunner, ledger repo.StageAttemptRepository, observer StatusObserver) *Driver {
	d := New(runner, observer, ledger, Options{RetryBackoff: time.Second, ObserveFinalStatus: observer != nil}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return d
}

func TestRunSucceedsInOrder(t *testing.T) {
	runner := &fakeRunner{}
	ledger := &fakeLedger{}
	d := newTestDriver(runner, ledger, fakeObserver{status: domain.StatusTerminalSuccess})

	out, err := d.Run(context.Background(), RunInput{InstanceID: "inst-1", Flow: testFlow(), RetryBudget: DefaultRetryBudget})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, out.Status)
	assert.Equal(t, 3, out.StagesRun)
	assert.Equal(t, domain.StatusTerminalSuccess, out.FinalStatus)
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, []call{{"id_match", 1}, {"compute", 1}, {"post", 1}}, runner.calls)
	for _, s := range out.Stages {
		assert.Equal(t, StageSucceeded, s.State)
	}
	assert.Equal(t, []string{repo.AttemptRunning, repo.AttemptSucceeded}, ledger.statuses("compute"))
	for _, r := range ledger.records {
		assert.Equal(t, out.RunID, r.RunID)
		assert.Equal(t, "inst-1", r.InstanceID)
	}
}

func TestRetryExhaustionMakesThreeAttempts(t *testing.T) {
	boom := errors.New("container exited 1")
	runner := &fakeRunner{outcome: func(ctx context.Context, stage string, n int) error {
		if stage == "compute" {
			return boom
		}
		return nil
	}}
	ledger := &fakeLedger{}
	d := newTestDriver(runner, ledger, nil)

	out, err := d.Run(context.Background(), RunInput{InstanceID: "inst-1", Flow: testFlow(), RetryBudget: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStageAborted)
	assert.ErrorIs(t, err, boom)

	var abort *domain.AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, "compute", abort.Stage)
	assert.Equal(t, 3, abort.Attempts)
	assert.Equal(t, "inst-1", abort.InstanceID)

	assert.Equal(t, 3, runner.counts["compute"])
	assert.Zero(t, runner.counts["post"])
	assert.Equal(t, OutcomeAborted, out.Status)
	assert.Equal(t, "compute", out.FailedStage)
	assert.Equal(t, StageFailed, out.Stages[1].State)
	assert.Equal(t, StagePending, out.Stages[2].State)
	assert.Equal(t, []string{
		repo.AttemptRunning, repo.AttemptFailed,
		repo.AttemptRunning, repo.AttemptFailed,
		repo.AttemptRunning, repo.AttemptFailed,
	}, ledger.statuses("compute"))
}

func TestRetryRecovers(t *testing.T) {
	runner := &fakeRunner{outcome: func(ctx context.Context, stage string, n int) error {
		if stage == "id_match" && n == 1 {
			return errors.New("flaky")
		}
		return nil
	}}
	d := newTestDriver(runner, nil, nil)

	out, err := d.Run(context.Background(), RunInput{InstanceID: "inst-1", Flow: testFlow(), RetryBudget: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Stages[0].Attempts)
	assert.Equal(t, []call{{"id_match", 1}, {"id_match", 2}, {"compute", 1}, {"post", 1}}, runner.calls)
}

func TestZeroRetryBudget(t *testing.T) {
	runner := &fakeRunner{outcome: func(ctx context.Context, stage string, n int) error {
		return errors.New("no")
	}}
	d := newTestDriver(runner, nil, nil)
	_, err := d.Run(context.Background(), RunInput{InstanceID: "inst-1", Flow: testFlow(), RetryBudget: 0})
	var abort *domain.AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, 1, abort.Attempts)
	assert.Len(t, runner.calls, 1)
}

func TestCancelledAttemptIsNotCounted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{outcome: func(c context.Context, stage string, n int) error {
		if stage != "compute" {
			return nil
		}
		if n == 1 {
			return errors.New("first failure")
		}
		cancel()
		return c.Err()
	}}
	ledger := &fakeLedger{}
	d := newTestDriver(runner, ledger, nil)

	out, err := d.Run(ctx, RunInput{InstanceID: "inst-1", Flow: testFlow(), RetryBudget: 2})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrStageAborted)

	var instErr *domain.InstanceError
	require.ErrorAs(t, err, &instErr)
	assert.Equal(t, "inst-1", instErr.InstanceID)

	assert.Equal(t, OutcomeCancelled, out.Status)
	assert.Equal(t, 1, out.Stages[1].Attempts)
	assert.Equal(t, []string{
		repo.AttemptRunning, repo.AttemptFailed,
		repo.AttemptRunning, repo.AttemptCancelled,
	}, ledger.statuses("compute"))
}

func TestResumeSkipsCompletedStages(t *testing.T) {
	runner := &fakeRunner{}
	d := newTestDriver(runner, nil, nil)

	out, err := d.Run(context.Background(), RunInput{InstanceID: "inst-1", Flow: testFlow(), RetryBudget: 2, StartIndex: 2})
	require.NoError(t, err)
	assert.Equal(t, []call{{"post", 1}}, runner.calls)
	assert.Equal(t, StageResumed, out.Stages[0].State)
	assert.Equal(t, 1, out.StagesRun)
}

func TestRunRejectsBadInput(t *testing.T) {
	d := newTestDriver(&fakeRunner{}, nil, nil)
	ctx := context.Background()

	_, err := d.Run(ctx, RunInput{Flow: testFlow()})
	require.Error(t, err)

	_, err = d.Run(ctx, RunInput{InstanceID: "inst-1", Flow: testFlow(), RetryBudget: -1})
	require.Error(t, err)

	_, err = d.Run(ctx, RunInput{InstanceID: "inst-1", Flow: testFlow(), StartIndex: 4})
	require.Error(t, err)

	assert.Nil(t, New(nil, nil, nil, Options{}, nil))
}
