package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lakemart/internal/domain"
)

func newSchedulerService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService([]StageDef{{Name: "ingest", Run: okStage("ingest")}},
		&fakeRunRepo{}, 0, discardLogger())
	require.NoError(t, err)
	return svc
}

func TestNewSchedulerEmptyScheduleDisables(t *testing.T) {
	s, err := NewScheduler(newSchedulerService(t), "", discardLogger())
	require.NoError(t, err)
	s.Start()
	s.Stop()
}

func TestNewSchedulerValidSchedule(t *testing.T) {
	_, err := NewScheduler(newSchedulerService(t), "*/5 * * * *", discardLogger())
	require.NoError(t, err)
}

func TestNewSchedulerInvalidSchedule(t *testing.T) {
	_, err := NewScheduler(newSchedulerService(t), "every five minutes", discardLogger())
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
}
