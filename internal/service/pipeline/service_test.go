package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakemart/internal/domain"
)

type fakeRunRepo struct {
	mu       sync.Mutex
	inserted []domain.RunReport
	finished []domain.RunReport
}

func (f *fakeRunRepo) Insert(_ context.Context, r *domain.RunReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, *r)
	return nil
}

func (f *fakeRunRepo) Finish(_ context.Context, r *domain.RunReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, *r)
	return nil
}

func (f *fakeRunRepo) List(_ context.Context, _ int) ([]domain.RunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RunReport, len(f.finished))
	copy(out, f.finished)
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okStage(name string) StageFunc {
	return func(_ context.Context, _ string) (*domain.RunReport, error) {
		return &domain.RunReport{Stage: name, RowsRead: 1}, nil
	}
}

func TestRunAllExecutesInDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) StageFunc {
		return func(_ context.Context, _ string) (*domain.RunReport, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return &domain.RunReport{Stage: name}, nil
		}
	}

	repo := &fakeRunRepo{}
	svc, err := NewService([]StageDef{
		{Name: "ingest", Run: record("ingest")},
		{Name: "conform", DependsOn: []string{"ingest"}, Run: record("conform")},
		{Name: "scd1", DependsOn: []string{"conform"}, Run: record("scd1")},
		{Name: "scd2", DependsOn: []string{"conform"}, Run: record("scd2")},
		{Name: "fact", DependsOn: []string{"scd1", "scd2"}, Run: record("fact")},
	}, repo, 0, discardLogger())
	require.NoError(t, err)

	reports, err := svc.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 5)

	for _, r := range reports {
		assert.Equal(t, domain.RunStatusSuccess, r.Status)
		assert.NotEmpty(t, r.ID)
		require.NotNil(t, r.FinishedAt)
	}

	// Dependency order: ingest first, fact last, scd stages after conform.
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	assert.Less(t, pos["ingest"], pos["conform"])
	assert.Less(t, pos["conform"], pos["scd1"])
	assert.Less(t, pos["conform"], pos["scd2"])
	assert.Less(t, pos["scd1"], pos["fact"])
	assert.Less(t, pos["scd2"], pos["fact"])

	// Every run was recorded as started and finished.
	assert.Len(t, repo.inserted, 5)
	assert.Len(t, repo.finished, 5)
}

func TestRunAllStageFailureSkipsDownstream(t *testing.T) {
	repo := &fakeRunRepo{}
	svc, err := NewService([]StageDef{
		{Name: "ingest", Run: okStage("ingest")},
		{Name: "conform", DependsOn: []string{"ingest"}, Run: func(_ context.Context, _ string) (*domain.RunReport, error) {
			return &domain.RunReport{Stage: "conform"}, domain.ErrInvariantViolation("corrupt dimension state")
		}},
		{Name: "fact", DependsOn: []string{"conform"}, Run: okStage("fact")},
	}, repo, 0, discardLogger())
	require.NoError(t, err)

	reports, err := svc.RunAll(context.Background())
	require.Error(t, err)

	var invariant *domain.InvariantViolationError
	assert.ErrorAs(t, err, &invariant)

	// fact never ran: only ingest and conform reports exist.
	require.Len(t, reports, 2)
	assert.Equal(t, domain.RunStatusSuccess, reports[0].Status)
	assert.Equal(t, domain.RunStatusFailed, reports[1].Status)
	require.NotNil(t, reports[1].Error)
	assert.Contains(t, *reports[1].Error, "corrupt dimension state")
}

func TestExecuteRetriesTransientErrors(t *testing.T) {
	attempts := 0
	repo := &fakeRunRepo{}
	svc, err := NewService([]StageDef{
		{Name: "ingest", Run: func(_ context.Context, _ string) (*domain.RunReport, error) {
			attempts++
			if attempts == 1 {
				return nil, domain.ErrTransient("source unavailable")
			}
			return &domain.RunReport{Stage: "ingest", RowsRead: 3}, nil
		}},
	}, repo, 2, discardLogger())
	require.NoError(t, err)

	report, err := svc.RunStage(context.Background(), "ingest")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, domain.RunStatusSuccess, report.Status)
	assert.Equal(t, int64(3), report.RowsRead)
}

func TestExecuteDoesNotRetryValidationErrors(t *testing.T) {
	attempts := 0
	repo := &fakeRunRepo{}
	svc, err := NewService([]StageDef{
		{Name: "ingest", Run: func(_ context.Context, _ string) (*domain.RunReport, error) {
			attempts++
			return nil, domain.ErrValidation("bad input")
		}},
	}, repo, 3, discardLogger())
	require.NoError(t, err)

	report, err := svc.RunStage(context.Background(), "ingest")
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, domain.RunStatusFailed, report.Status)
}

func TestRunStageUnknownStage(t *testing.T) {
	svc, err := NewService([]StageDef{{Name: "ingest", Run: okStage("ingest")}},
		&fakeRunRepo{}, 0, discardLogger())
	require.NoError(t, err)

	_, err = svc.RunStage(context.Background(), "bogus")
	require.Error(t, err)

	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestStagesListsExecutionOrder(t *testing.T) {
	svc, err := NewService([]StageDef{
		{Name: "b", DependsOn: []string{"a"}, Run: okStage("b")},
		{Name: "a", Run: okStage("a")},
	}, &fakeRunRepo{}, 0, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, svc.Stages())
}
