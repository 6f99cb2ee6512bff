package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/linecook-ai/linecook/pkg/domain"
)

func TestModeStartsNormal(t *testing.T) {
	m := NewModeController(0.5, time.Minute)
	assert.Equal(t, domain.ModeNormal, m.Mode())
}

func TestExplicitModeTransition(t *testing.T) {
	m := NewModeController(0.5, time.Minute)
	m.Set(domain.ModeSelectiveProcessing, "operator request")
	assert.Equal(t, domain.ModeSelectiveProcessing, m.Mode())
	assert.Equal(t, "operator request", m.Reason())
}

func TestFailureRateTripsToLocalQueue(t *testing.T) {
	m := NewModeController(0.5, time.Minute)

	// Two early failures alone must not trip the breaker.
	m.RecordOutcome(false)
	m.RecordOutcome(false)
	assert.Equal(t, domain.ModeNormal, m.Mode())

	m.RecordOutcome(false)
	m.RecordOutcome(false)
	assert.Equal(t, domain.ModeLocalQueue, m.Mode())
	assert.NotEmpty(t, m.Reason())
}

func TestHealthySampleBelowThresholdStaysNormal(t *testing.T) {
	m := NewModeController(0.5, time.Minute)
	for i := 0; i < 10; i++ {
		m.RecordOutcome(true)
	}
	m.RecordOutcome(false)
	assert.Equal(t, domain.ModeNormal, m.Mode())
}

func TestProbeRecoveryReturnsToNormal(t *testing.T) {
	m := NewModeController(0.5, 10*time.Millisecond)
	m.Set(domain.ModeLocalQueue, "test")

	m.RecordProbe(true)
	time.Sleep(20 * time.Millisecond)
	m.RecordProbe(true)

	assert.Equal(t, domain.ModeNormal, m.Mode())
}

func TestOnChangeNotifiesEveryTransition(t *testing.T) {
	m := NewModeController(0.5, 10*time.Millisecond)

	type change struct{ from, to domain.DegradationMode }
	var changes []change
	m.OnChange(func(from, to domain.DegradationMode) {
		changes = append(changes, change{from, to})
	})

	for i := 0; i < 4; i++ {
		m.RecordOutcome(false)
	}
	m.RecordProbe(true)
	time.Sleep(20 * time.Millisecond)
	m.RecordProbe(true)

	assert.Equal(t, []change{
		{domain.ModeNormal, domain.ModeLocalQueue},
		{domain.ModeLocalQueue, domain.ModeNormal},
	}, changes)
}

func TestFailedProbeResetsRecoveryWindow(t *testing.T) {
	m := NewModeController(0.5, 10*time.Millisecond)
	m.Set(domain.ModeLocalQueue, "test")

	m.RecordProbe(true)
	m.RecordProbe(false)
	time.Sleep(20 * time.Millisecond)
	m.RecordProbe(true)

	// The healthy stretch restarted after the failed probe.
	assert.Equal(t, domain.ModeLocalQueue, m.Mode())
}
