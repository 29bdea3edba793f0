package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corticerasf/dice/pkg/container"
	"github.com/corticerasf/dice/pkg/lifecycle"
	"github.com/corticerasf/dice/pkg/pipeline"
	"github.com/corticerasf/dice/pkg/scheduler"
)

func newContainer(t *testing.T, name string) *container.Base {
	t.Helper()
	sched := scheduler.New()
	t.Cleanup(sched.Close)
	return container.New(name, container.WithScheduler(sched), container.WithBackgroundDelay(0))
}

func TestAttachCountsLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	parent := newContainer(t, "parent")
	child := newContainer(t, "child")
	require.NoError(t, parent.AddChild(child))

	m.Attach(parent)
	m.Attach(parent)

	require.NoError(t, parent.Start())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LifecycleEvents.WithLabelValues("parent", lifecycle.EventAfterStart)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LifecycleEvents.WithLabelValues("child", lifecycle.EventAfterStart)))
	assert.Equal(t, float64(lifecycle.StateStarted), testutil.ToFloat64(m.State.WithLabelValues("parent")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.StartDuration))

	require.NoError(t, parent.Stop())
	assert.Equal(t, float64(lifecycle.StateStopped), testutil.ToFloat64(m.State.WithLabelValues("child")))
}

func TestFollowsAddedChildren(t *testing.T) {
	m := New(prometheus.NewRegistry())
	parent := newContainer(t, "parent")
	m.Attach(parent)

	late := newContainer(t, "late")
	require.NoError(t, parent.AddChild(late))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContainerEvents.WithLabelValues("parent", container.EventAddChild)))

	require.NoError(t, late.Init())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LifecycleEvents.WithLabelValues("late", lifecycle.EventAfterInit)))

	parent.RemoveChild(late)
	assert.Empty(t, late.Listeners())
}

func TestValveRecordsRequests(t *testing.T) {
	m := New(prometheus.NewRegistry())
	c := newContainer(t, "app")

	fail := errors.New("boom")
	calls := 0
	require.NoError(t, c.Pipeline().SetBasic(pipeline.NewFuncValve("basic",
		func(ctx context.Context, ex *pipeline.Exchange, next pipeline.Valve) error {
			calls++
			if calls > 1 {
				return fail
			}
			return nil
		})))
	require.NoError(t, c.Pipeline().AddValve(m.Valve("app")))

	ex := pipeline.NewExchange("1", "h", "/", nil)
	require.NoError(t, c.Pipeline().Invoke(context.Background(), ex))
	assert.ErrorIs(t, c.Pipeline().Invoke(context.Background(), ex), fail)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("app", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("app", "error")))
}

func TestRegisterTwiceReuses(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := New(reg)
	second := New(reg)
	assert.Same(t, first.LifecycleEvents, second.LifecycleEvents)
}

func TestNilMetrics(t *testing.T) {
	m := NullMetrics()
	assert.NotPanics(t, func() {
		m.LifecycleEvent(lifecycle.Event{Type: lifecycle.EventStart})
		m.RecordRequest("x", nil, time.Millisecond)
		m.Attach(nil)
		m.Detach(nil)
	})
}
