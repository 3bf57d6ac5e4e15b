package sink_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthcast/engine/internal/ring"
	"github.com/hearthcast/engine/internal/sink"
)

func testLogger() *log.Logger { return log.New(io.Discard) }

type fakeSink struct {
	id       string
	priority int
	status   sink.Status
	starts   int
	failNext bool
}

func (f *fakeSink) ID() string             { return f.id }
func (f *fakeSink) Priority() int          { return f.priority }
func (f *fakeSink) Ring() *ring.Buffer     { return nil }
func (f *fakeSink) Status() sink.Status    { return f.status }
func (f *fakeSink) SetStatus(s sink.Status) { f.status = s }
func (f *fakeSink) Stop(ctx context.Context) error { return nil }
func (f *fakeSink) Start(ctx context.Context) error {
	f.starts++
	if f.failNext {
		f.status = sink.StatusFailed
		return assertErr
	}
	f.status = sink.StatusReady
	return nil
}

var assertErr = assertError("start failed")

type assertError string

func (e assertError) Error() string { return string(e) }

func TestPromotesHighestPriorityReadySink(t *testing.T) {
	m := sink.NewManager(testLogger())
	low := &fakeSink{id: "low", priority: 10, status: sink.StatusReady}
	high := &fakeSink{id: "high", priority: 1, status: sink.StatusReady}
	m.Add(low)
	m.Add(high)

	require.NoError(t, m.Reconcile(context.Background(), time.Now()))
	assert.Equal(t, "high", m.Active())
}

func TestFailoverPromotesNextReady(t *testing.T) {
	m := sink.NewManager(testLogger())
	primary := &fakeSink{id: "primary", priority: 1, status: sink.StatusReady}
	backup := &fakeSink{id: "backup", priority: 2, status: sink.StatusReady}
	m.Add(primary)
	m.Add(backup)

	require.NoError(t, m.Reconcile(context.Background(), time.Now()))
	assert.Equal(t, "primary", m.Active())

	m.MarkFailed("primary", time.Now())
	require.NoError(t, m.Reconcile(context.Background(), time.Now()))
	assert.Equal(t, "backup", m.Active())
}

func TestNoReadySinkReturnsUnavailable(t *testing.T) {
	m := sink.NewManager(testLogger())
	s := &fakeSink{id: "only", priority: 1, status: sink.StatusFailed}
	m.Add(s)

	err := m.Reconcile(context.Background(), time.Now())
	require.Error(t, err)
}
