package socketrelay

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/booster/internal/domain/job"
	"github.com/GriffinCanCode/booster/internal/worker"
	"github.com/GriffinCanCode/booster/internal/worker/workertest"
)

func startRelay(t *testing.T, env *workertest.Env, params Params) worker.Handler {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	handler, err := New(env, raw)
	require.NoError(t, err)
	return handler
}

func TestNewValidatesParams(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing url", `{}`},
		{"malformed", `{"url":`},
		{"unknown transform", `{"url":"ws://x","transform":"rot13"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(workertest.New(t), json.RawMessage(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestDialsOnStart(t *testing.T) {
	env := workertest.New(t)
	startRelay(t, env, Params{URL: "ws://relay.test/feed"})

	require.Len(t, env.Sockets(), 1)
	assert.Equal(t, "ws://relay.test/feed", env.LastSocket().URL)
}

func TestPreOpenSendDeliveredOnceAfterOpen(t *testing.T) {
	env := workertest.New(t)
	relay := startRelay(t, env, Params{URL: "ws://x"})
	sock := env.LastSocket()

	relay.Handle(json.RawMessage(`"first"`))
	relay.Handle(json.RawMessage(`{"n":2}`))
	assert.Empty(t, sock.Sent())

	// Still connecting after several retries.
	env.Advance(35 * time.Millisecond)
	assert.Empty(t, sock.Sent())
	assert.Equal(t, 3.0, testutil.ToFloat64(env.Metrics().SocketSendRetries))

	sock.Open()
	env.Advance(time.Second)

	assert.Equal(t, []string{"first", `{"n":2}`}, sock.Sent())
	assert.Zero(t, env.PendingTimers())
}

func TestRetryDeliversWhenOpenedWithoutEvent(t *testing.T) {
	env := workertest.New(t)
	relay := startRelay(t, env, Params{URL: "ws://x"})
	sock := env.LastSocket()

	relay.Handle(json.RawMessage(`"queued"`))
	sock.SetState(worker.Open)

	env.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"queued"}, sock.Sent())

	env.Advance(time.Second)
	assert.Equal(t, []string{"queued"}, sock.Sent())
}

func TestSendWhenOpenIsImmediate(t *testing.T) {
	env := workertest.New(t)
	relay := startRelay(t, env, Params{URL: "ws://x"})
	sock := env.LastSocket()
	sock.Open()

	relay.Handle(json.RawMessage(`"now"`))
	relay.Handle(json.RawMessage(`[1,2]`))

	assert.Equal(t, []string{"now", "[1,2]"}, sock.Sent())
	assert.Zero(t, env.PendingTimers())
}

func TestSendOnClosedSocketIsDropped(t *testing.T) {
	env := workertest.New(t)
	relay := startRelay(t, env, Params{URL: "ws://x"})
	sock := env.LastSocket()

	relay.Handle(json.RawMessage(`"pending"`))
	sock.Drop(errors.New("refused"))
	relay.Handle(json.RawMessage(`"late"`))

	env.Advance(time.Second)
	assert.Empty(t, sock.Sent())
	assert.Zero(t, env.PendingTimers())
}

func TestInboundTransforms(t *testing.T) {
	tests := []struct {
		name      string
		transform string
		frame     string
		want      string
	}{
		{"unchanged text", "", "hello", `"hello"`},
		{"trim", "trim", "  padded \n", `"padded"`},
		{"json", "json", `{"price":3}`, `{"price":3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := workertest.New(t)
			startRelay(t, env, Params{URL: "ws://x", Transform: tt.transform})
			sock := env.LastSocket()
			sock.Open()

			sock.Deliver([]byte(tt.frame))

			require.Len(t, env.Emitted(), 1)
			assert.JSONEq(t, tt.want, string(env.Emitted()[0]))
		})
	}
}

func TestBadFrameIsDropped(t *testing.T) {
	env := workertest.New(t)
	startRelay(t, env, Params{URL: "ws://x", Transform: "json"})
	sock := env.LastSocket()
	sock.Open()

	sock.Deliver([]byte("{not json"))
	sock.Deliver([]byte(`true`))

	require.Len(t, env.Emitted(), 1)
	assert.Equal(t, "true", string(env.Emitted()[0]))
}

func TestStopClosesSocket(t *testing.T) {
	env := workertest.New(t)
	relay := startRelay(t, env, Params{URL: "ws://x"})
	sock := env.LastSocket()

	relay.Handle(json.RawMessage(`"queued"`))
	relay.(worker.Stopper).Stop()

	assert.Equal(t, worker.Closed, sock.ReadyState())
	assert.Zero(t, env.PendingTimers())
}

func TestRegister(t *testing.T) {
	reg := worker.NewRegistry()
	require.NoError(t, Register(reg))

	_, ok := reg.Lookup(job.KindSocketRelay)
	assert.True(t, ok)
}
