package utils

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerStartStop(t *testing.T) {
	timer := NewTimer("test")

	pt := timer.Start("phase1")
	time.Sleep(time.Millisecond)
	d := pt.Stop()

	assert.Greater(t, d, time.Duration(0))
	assert.Equal(t, d, timer.GetDuration("phase1"))
}

func TestTimerStopIdempotent(t *testing.T) {
	timer := NewTimer("test")

	pt := timer.Start("phase")
	first := pt.Stop()
	time.Sleep(time.Millisecond)
	second := pt.Stop()

	assert.Equal(t, first, second)
}

func TestTimerStopUnknownPhase(t *testing.T) {
	timer := NewTimer("test")
	assert.Zero(t, timer.StopPhase("never started"))
}

func TestTimerPhaseOrder(t *testing.T) {
	timer := NewTimer("test")

	timer.Start("a").Stop()
	timer.Start("b").Stop()
	timer.Start("c").Stop()

	phases := timer.GetPhases()
	require.Len(t, phases, 3)
	assert.Equal(t, "a", phases[0].Name)
	assert.Equal(t, "b", phases[1].Name)
	assert.Equal(t, "c", phases[2].Name)
}

func TestTimerSummary(t *testing.T) {
	timer := NewTimer("parse")
	timer.Start("header").Stop()
	timer.Start("records").Stop()

	summary := timer.Summary()
	assert.Contains(t, summary, "=== parse Timing Summary ===")
	assert.Contains(t, summary, "Phase 1 - header")
	assert.Contains(t, summary, "Phase 2 - records")
	assert.Contains(t, summary, "Total:")
}

func TestTimerPrintSummary(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf)

	timer := NewTimer("merge", WithLogger(logger))
	timer.Start("pass").Stop()
	timer.PrintSummary()

	assert.Contains(t, buf.String(), "merge Timing Summary")
	assert.Contains(t, buf.String(), "pass")
}

func TestTimerTimeFunc(t *testing.T) {
	timer := NewTimer("test")

	ran := false
	d := timer.TimeFunc("work", func() { ran = true })

	assert.True(t, ran)
	assert.GreaterOrEqual(t, d, time.Duration(0))
	assert.Len(t, timer.GetPhases(), 1)
}

func TestTimerTimeFuncWithError(t *testing.T) {
	timer := NewTimer("test")

	wantErr := errors.New("boom")
	_, err := timer.TimeFuncWithError("work", func() error { return wantErr })

	assert.Equal(t, wantErr, err)
}

func TestTimerReset(t *testing.T) {
	timer := NewTimer("test")
	timer.Start("phase").Stop()
	require.Len(t, timer.GetPhases(), 1)

	timer.Reset()
	assert.Empty(t, timer.GetPhases())
}

func TestTimerDisabled(t *testing.T) {
	timer := NewTimer("test", WithEnabled(false))

	pt := timer.Start("phase")
	assert.Zero(t, pt.Stop())
	assert.Empty(t, timer.GetPhases())
	assert.Empty(t, timer.Summary())
}

func TestNullTimer(t *testing.T) {
	// All operations are no-ops and must not panic.
	NullTimer.Start("x").Stop()
	NullTimer.TimeFunc("y", func() {})
	_, err := NullTimer.TimeFuncWithError("z", func() error { return nil })
	assert.NoError(t, err)
	NullTimer.PrintSummary()
}
