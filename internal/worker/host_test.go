package worker

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/booster/internal/domain/job"
	"github.com/GriffinCanCode/booster/internal/infrastructure/monitoring"
)

func TestHostEchoesInOrder(t *testing.T) {
	jobs := newTestJobs(t)
	host := Spawn(jobs.Registry, WithLogger(zaptest.NewLogger(t)))
	defer host.End(0)
	events := collect(host)

	require.NoError(t, host.PostJob(mustDescriptor(t, kindEcho, nil, true)))
	for _, payload := range []string{"a", "b", "c"} {
		require.NoError(t, host.PostMessage(payload))
	}

	assert.Equal(t, `"a"`, events.nextMessage(t))
	assert.Equal(t, `"b"`, events.nextMessage(t))
	assert.Equal(t, `"c"`, events.nextMessage(t))
	assert.Equal(t, kindEcho, host.Kind())
	assert.Equal(t, StateReady, host.State())
}

func TestPayloadBeforeJobIsDropped(t *testing.T) {
	jobs := newTestJobs(t)
	host := Spawn(jobs.Registry)
	defer host.End(0)
	events := collect(host)

	require.NoError(t, host.PostMessage("early"))
	require.NoError(t, host.PostJob(mustDescriptor(t, kindEcho, nil, true)))
	require.NoError(t, host.PostMessage("late"))

	assert.Equal(t, `"late"`, events.nextMessage(t))
	assert.Empty(t, events.messages)
}

func TestDeferredJobRunsFactoryPerPayload(t *testing.T) {
	jobs := newTestJobs(t)
	host := Spawn(jobs.Registry)
	defer host.End(0)
	events := collect(host)

	require.NoError(t, host.PostJob(mustDescriptor(t, kindEcho, nil, false)))
	require.Eventually(t, func() bool { return host.State() == StateReady }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), jobs.factoryCalls.Load())

	require.NoError(t, host.PostMessage(1))
	require.NoError(t, host.PostMessage(2))

	assert.Equal(t, "1", events.nextMessage(t))
	assert.Equal(t, "2", events.nextMessage(t))
	assert.Equal(t, int32(2), jobs.factoryCalls.Load())
}

func TestUnknownKindReportsError(t *testing.T) {
	jobs := newTestJobs(t)
	host := Spawn(jobs.Registry)
	defer host.End(0)
	events := collect(host)

	require.NoError(t, host.PostJob(mustDescriptor(t, "nope", nil, true)))

	err := events.nextError(t)
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, StateIdle, host.State())

	require.NoError(t, host.PostJob(mustDescriptor(t, kindEcho, nil, true)))
	require.NoError(t, host.PostMessage("ok"))
	assert.Equal(t, `"ok"`, events.nextMessage(t))
}

func TestContextFaults(t *testing.T) {
	tests := []struct {
		name string
		kind job.Kind
		post bool
	}{
		{"panic in handler", kindPanic, true},
		{"factory error", kindBroken, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := monitoring.NewMetrics()
			jobs := newTestJobs(t)
			host := Spawn(jobs.Registry, WithMetrics(metrics))
			events := collect(host)

			require.NoError(t, host.PostJob(mustDescriptor(t, tt.kind, nil, true)))
			if tt.post {
				require.NoError(t, host.PostMessage("x"))
			}

			assert.ErrorIs(t, events.nextError(t), ErrContextFault)
			require.Eventually(t, func() bool {
				select {
				case <-host.Done():
					return true
				default:
					return false
				}
			}, time.Second, time.Millisecond)

			assert.Equal(t, StateClosed, host.State())
			assert.ErrorIs(t, host.PostMessage("y"), ErrClosed)
			assert.False(t, host.Terminated())
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ContextFaults))
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HostsEnded.WithLabelValues("failed")))
		})
	}
}

func TestSecondJobIsViolation(t *testing.T) {
	metrics := monitoring.NewMetrics()
	jobs := newTestJobs(t)
	host := Spawn(jobs.Registry, WithMetrics(metrics))
	defer host.End(0)
	events := collect(host)

	require.NoError(t, host.PostJob(mustDescriptor(t, kindEcho, nil, true)))
	require.NoError(t, host.PostJob(mustDescriptor(t, kindEcho, nil, true)))
	require.NoError(t, host.PostMessage("once"))

	assert.Equal(t, `"once"`, events.nextMessage(t))
	assert.Equal(t, int32(1), jobs.factoryCalls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ProtocolViolations.WithLabelValues("context")))
}

func TestUnknownCommandIsViolation(t *testing.T) {
	metrics := monitoring.NewMetrics()
	jobs := newTestJobs(t)
	host := Spawn(jobs.Registry, WithMetrics(metrics))
	defer host.End(0)
	events := collect(host)

	require.NoError(t, host.PostJob(mustDescriptor(t, kindEcho, nil, true)))
	require.NoError(t, host.PostCommand(job.Command{Name: "reboot"}))
	require.NoError(t, host.PostMessage("still here"))

	assert.Equal(t, `"still here"`, events.nextMessage(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ProtocolViolations.WithLabelValues("context")))
}

func TestEndAcknowledgedWithinGrace(t *testing.T) {
	mock := clock.NewMock()
	metrics := monitoring.NewMetrics()
	jobs := newTestJobs(t)
	host := Spawn(jobs.Registry, WithClock(mock), WithMetrics(metrics))

	require.NoError(t, host.PostJob(mustDescriptor(t, kindEcho, nil, true)))
	host.End(100 * time.Millisecond)

	select {
	case <-host.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("host did not end")
	}

	mock.Add(time.Second)
	assert.False(t, host.Terminated())
	assert.True(t, jobs.stopped.Load(), "handler should be stopped on close")
	assert.Equal(t, StateClosed, host.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HostsEnded.WithLabelValues("graceful")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.HostsEnded.WithLabelValues("forced")))
}

func TestEndForcedAtGrace(t *testing.T) {
	mock := clock.NewMock()
	metrics := monitoring.NewMetrics()
	jobs := newTestJobs(t)
	host := Spawn(jobs.Registry, WithClock(mock), WithMetrics(metrics))
	events := collect(host)
	defer close(jobs.release)

	require.NoError(t, host.PostJob(mustDescriptor(t, kindBlock, nil, true)))
	require.NoError(t, host.PostMessage("hold"))
	<-jobs.entered

	host.End(100 * time.Millisecond)

	mock.Add(99 * time.Millisecond)
	assert.False(t, host.Terminated())

	mock.Add(time.Millisecond)
	require.Eventually(t, host.Terminated, time.Second, time.Millisecond)
	<-host.Done()

	assert.ErrorIs(t, host.PostMessage("late"), ErrClosed)
	assert.Empty(t, events.messages)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HostsEnded.WithLabelValues("forced")))
}

func TestEndIsIdempotent(t *testing.T) {
	jobs := newTestJobs(t)
	host := Spawn(jobs.Registry)

	host.End(0)
	host.End(0)
	<-host.Done()

	assert.ErrorIs(t, host.PostJob(mustDescriptor(t, kindEcho, nil, true)), ErrClosed)
	assert.ErrorIs(t, host.PostCommand(job.Command{Name: job.CommandClose}), ErrClosed)
}

func TestListeners(t *testing.T) {
	jobs := newTestJobs(t)
	host := Spawn(jobs.Registry)
	defer host.End(0)

	order := make(chan string, 8)
	host.
		AddListener(EventMessage, func(Event) { order <- "first" }).
		AddListener(EventMessage, func(Event) { panic("listener bug") }).
		AddListener(EventMessage, func(Event) { order <- "third" }).
		AddListener("bogus", func(Event) { order <- "never" })

	require.NoError(t, host.PostJob(mustDescriptor(t, kindEcho, nil, true)))
	require.NoError(t, host.PostMessage("go"))

	assert.Equal(t, "first", <-order)
	assert.Equal(t, "third", <-order)

	require.NoError(t, host.PostMessage("again"))
	assert.Equal(t, "first", <-order)
	assert.Equal(t, "third", <-order)
}

func TestTimersRunOnContext(t *testing.T) {
	mock := clock.NewMock()
	jobs := newTestJobs(t)
	host := Spawn(jobs.Registry, WithClock(mock))
	defer host.End(0)
	events := collect(host)

	require.NoError(t, host.PostJob(mustDescriptor(t, kindDelay, map[string]int{"ms": 50}, true)))
	require.NoError(t, host.PostMessage("tick"))
	assert.Equal(t, `"armed"`, events.nextMessage(t))

	mock.Add(49 * time.Millisecond)
	assert.Empty(t, events.messages)

	mock.Add(time.Millisecond)
	assert.Equal(t, `"tick"`, events.nextMessage(t))
}

func TestFetchTimeout(t *testing.T) {
	mock := clock.NewMock()
	jobs := newTestJobs(t)
	host := Spawn(jobs.Registry, WithClock(mock), WithRequester(blockingRequester{}))
	defer host.End(0)
	events := collect(host)

	require.NoError(t, host.PostJob(mustDescriptor(t, kindFetch, nil, true)))
	require.NoError(t, host.PostMessage("go"))
	assert.Equal(t, `"issued"`, events.nextMessage(t))

	mock.Add(time.Second)

	var out map[string]any
	msg := events.nextMessage(t)
	require.NoError(t, Event{Kind: EventMessage, Data: []byte(msg)}.Decode(&out))
	assert.Equal(t, true, out["timeout"])
}

func TestFetchResponse(t *testing.T) {
	jobs := newTestJobs(t)
	host := Spawn(jobs.Registry, WithRequester(staticRequester{status: 200, body: "pong"}))
	defer host.End(0)
	events := collect(host)

	require.NoError(t, host.PostJob(mustDescriptor(t, kindFetch, nil, true)))
	require.NoError(t, host.PostMessage("go"))

	assert.Equal(t, `"issued"`, events.nextMessage(t))
	assert.JSONEq(t, `{"status":200,"body":"pong"}`, events.nextMessage(t))
}

func TestFetchStampsReceiptOffLoop(t *testing.T) {
	mock := clock.NewMock()
	jobs := newTestJobs(t)
	host := Spawn(jobs.Registry, WithClock(mock), WithRequester(staticRequester{status: 200}))
	defer host.End(0)
	events := collect(host)

	require.NoError(t, host.PostJob(mustDescriptor(t, kindStamp, nil, true)))
	require.NoError(t, host.PostMessage("go"))
	<-jobs.entered

	// The response is queued while the loop is busy.
	require.Eventually(t, func() bool { return host.iso.tasks.len() == 1 }, 2*time.Second, time.Millisecond)
	mock.Add(time.Second)
	close(jobs.release)

	var out map[string]int64
	msg := events.nextMessage(t)
	require.NoError(t, Event{Kind: EventMessage, Data: []byte(msg)}.Decode(&out))
	assert.Equal(t, int64(0), out["received"])
	assert.Equal(t, int64(1000), out["handled"])
}

func TestFetchWithoutRequester(t *testing.T) {
	jobs := newTestJobs(t)
	host := Spawn(jobs.Registry)
	defer host.End(0)
	events := collect(host)

	require.NoError(t, host.PostJob(mustDescriptor(t, kindFetch, nil, true)))
	require.NoError(t, host.PostMessage("go"))

	assert.Equal(t, `"issued"`, events.nextMessage(t))
	assert.Contains(t, events.nextMessage(t), ErrNoCapability.Error())
}

func TestSocketLifecycle(t *testing.T) {
	conn := newPipeConn()
	dialer := &gatedDialer{gate: make(chan struct{}), conn: conn}
	jobs := newTestJobs(t)
	host := Spawn(jobs.Registry, WithDialer(dialer))
	events := collect(host)

	require.NoError(t, host.PostJob(mustDescriptor(t, kindSocket, nil, true)))
	require.NoError(t, host.PostMessage("too early"))
	assert.Equal(t, `"send:`+ErrNotOpen.Error()+`"`, events.nextMessage(t))

	close(dialer.gate)
	assert.Equal(t, `"open"`, events.nextMessage(t))

	require.NoError(t, host.PostMessage("hello"))
	assert.Equal(t, "hello", string(<-conn.outbound))

	conn.inbound <- []byte("world")
	assert.Equal(t, `"in:world"`, events.nextMessage(t))

	host.End(0)
	<-host.Done()
	select {
	case <-conn.closed:
	case <-time.After(time.Second):
		t.Fatal("connection not closed when context ended")
	}
}
