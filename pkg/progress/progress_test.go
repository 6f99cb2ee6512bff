package progress

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linecook-ai/linecook/pkg/domain"
)

func TestUpdateAdvancesMonotonically(t *testing.T) {
	s := NewMemoryStore()
	s.Create(domain.ProgressRecord{ProcessID: "p1", Stage: domain.StageUploaded, Percent: domain.PercentUploaded})

	require.NoError(t, s.Update("p1", domain.StageValidated, domain.PercentValidated, "validated", false))
	require.NoError(t, s.Update("p1", domain.StageTextExtracted, domain.PercentTextExtracted, "", false))

	rec, err := s.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageTextExtracted, rec.Stage)
	assert.Equal(t, domain.PercentTextExtracted, rec.Percent)
}

func TestPercentRegressionRejected(t *testing.T) {
	s := NewMemoryStore()
	s.Create(domain.ProgressRecord{ProcessID: "p1", Stage: domain.StageValidated, Percent: domain.PercentValidated})

	err := s.Update("p1", domain.StageUploaded, domain.PercentUploaded, "", false)
	assert.ErrorIs(t, err, domain.ErrInternalInvariant)

	// Same percent is allowed (retry of the same stage).
	assert.NoError(t, s.Update("p1", domain.StageValidated, domain.PercentValidated, "retry", false))
}

func TestTerminalRecordsAreImmutable(t *testing.T) {
	s := NewMemoryStore()
	s.Create(domain.ProgressRecord{ProcessID: "p1", Stage: domain.StageUploaded, Percent: domain.PercentUploaded})

	require.NoError(t, s.Update("p1", domain.StageFailed, domain.PercentUploaded, "validation rejected", true))

	err := s.Update("p1", domain.StageVerified, domain.PercentVerified, "", true)
	assert.ErrorIs(t, err, domain.ErrInternalInvariant)

	rec, err := s.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageFailed, rec.Stage)
	assert.Equal(t, "validation rejected", rec.Message)
}

func TestSetCountsIgnoresTerminalAndMissing(t *testing.T) {
	s := NewMemoryStore()
	s.Create(domain.ProgressRecord{ProcessID: "p1", Stage: domain.StageUploaded, Percent: domain.PercentUploaded})

	s.SetCounts("p1", 7, 3)
	rec, _ := s.Get("p1")
	assert.Equal(t, 7, rec.EntitiesFound)
	assert.Equal(t, 3, rec.RelationshipsFound)

	require.NoError(t, s.Update("p1", domain.StageVerified, domain.PercentVerified, "", true))
	s.SetCounts("p1", 99, 99)
	rec, _ = s.Get("p1")
	assert.Equal(t, 7, rec.EntitiesFound)

	s.SetCounts("missing", 1, 1) // no panic
}

func TestGetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSweepEvictsOldTerminalOnly(t *testing.T) {
	s := NewMemoryStore(WithRetention(time.Minute))

	s.Create(domain.ProgressRecord{ProcessID: "old-done", Stage: domain.StageVerified, Percent: 100})
	require.NoError(t, s.Update("old-done", domain.StageVerified, 100, "", true))
	s.Create(domain.ProgressRecord{ProcessID: "active", Stage: domain.StageUploaded, Percent: 10})

	// Age the terminal record past the window.
	s.mu.Lock()
	rec := s.records["old-done"]
	rec.UpdatedAt = time.Now().Add(-2 * time.Minute)
	s.records["old-done"] = rec
	s.mu.Unlock()

	s.Sweep()

	_, err := s.Get("old-done")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Get("active")
	assert.NoError(t, err)
}

func TestSoftCapEvictsOldestTerminal(t *testing.T) {
	s := NewMemoryStore(WithSoftCap(3))

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("p%d", i)
		s.Create(domain.ProgressRecord{ProcessID: id, Stage: domain.StageUploaded, Percent: 10})
	}
	require.NoError(t, s.Update("p0", domain.StageVerified, 100, "", true))

	s.Create(domain.ProgressRecord{ProcessID: "p3", Stage: domain.StageUploaded, Percent: 10})

	assert.Equal(t, 3, s.Len())
	_, err := s.Get("p0")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Get("p3")
	assert.NoError(t, err)
}

func TestSoftCapNeverEvictsActive(t *testing.T) {
	s := NewMemoryStore(WithSoftCap(2))

	s.Create(domain.ProgressRecord{ProcessID: "a", Stage: domain.StageUploaded, Percent: 10})
	s.Create(domain.ProgressRecord{ProcessID: "b", Stage: domain.StageUploaded, Percent: 10})
	s.Create(domain.ProgressRecord{ProcessID: "c", Stage: domain.StageUploaded, Percent: 10})

	// All active: the store grows past the cap rather than dropping state.
	assert.Equal(t, 3, s.Len())
}
