package readiness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type staticSource struct {
	names []string
	err   error
}

func (s staticSource) AllTagNames(context.Context) ([]string, error) {
	return s.names, s.err
}

type recordingSink struct {
	replaced []string
	err      error
}

func (s *recordingSink) Replace(_ context.Context, names []string) error {
	s.replaced = names
	return s.err
}

func TestGateSettlesOnce(t *testing.T) {
	gate := NewGate()
	assert.False(t, gate.IsReady())
	assert.Equal(t, StateInitializing, gate.Snapshot().State)
	assert.NotEmpty(t, gate.Snapshot().Reason)

	gate.MarkDegraded("cache unreachable")
	gate.MarkReady()

	snapshot := gate.Snapshot()
	assert.True(t, gate.IsReady())
	assert.Equal(t, StateDegraded, snapshot.State)
	assert.Equal(t, "cache unreachable", snapshot.Reason)
}

func TestWarmerMarksReady(t *testing.T) {
	gate := NewGate()
	sink := &recordingSink{}
	NewWarmer(gate, staticSource{names: []string{"bank", "tax"}}, sink, nil).Run(context.Background())

	assert.Equal(t, []string{"bank", "tax"}, sink.replaced)
	assert.Equal(t, Snapshot{State: StateReady}, gate.Snapshot())
}

func TestWarmerDegradesOnFailure(t *testing.T) {
	testCases := []struct {
		name   string
		source staticSource
		sink   *recordingSink
	}{
		{name: "source", source: staticSource{err: errors.New("db locked")}, sink: &recordingSink{}},
		{name: "sink", source: staticSource{names: []string{"tax"}}, sink: &recordingSink{err: errors.New("redis down")}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			core, logs := observer.New(zap.ErrorLevel)
			gate := NewGate()
			NewWarmer(gate, testCase.source, testCase.sink, zap.New(core)).Run(context.Background())

			require.True(t, gate.IsReady())
			assert.Equal(t, StateDegraded, gate.Snapshot().State)
			assert.Equal(t, warmingFailedReason, gate.Snapshot().Reason)
			assert.Equal(t, 1, logs.FilterMessage("tag cache warming failed").Len())
		})
	}
}
