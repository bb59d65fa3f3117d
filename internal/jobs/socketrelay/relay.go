// Package socketrelay is the socket-relay job: it holds one duplex
// connection inside an isolated context, relays payloads out over it and
// emits inbound frames upstream through a named transform.
package socketrelay

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/booster/internal/domain/job"
	"github.com/GriffinCanCode/booster/internal/jobs/transform"
	"github.com/GriffinCanCode/booster/internal/worker"
)

// DefaultRetry is how often a pending send checks whether the connection opened.
const DefaultRetry = 10 * time.Millisecond

// Params configures a relay.
type Params struct {
	URL       string `json:"url"`
	Transform string `json:"transform,omitempty"`
	RetryMs   int    `json:"retryMs,omitempty"`
}

// Register adds the relay factory to reg.
func Register(reg *worker.Registry) error {
	return reg.Register(job.KindSocketRelay, New)
}

// Relay is the per-context job state.
type Relay struct {
	env       worker.Env
	logger    *zap.Logger
	socket    worker.Socket
	transform string
	retry     time.Duration

	queue   [][]byte
	pending worker.Timer
}

// New is the worker.Factory for socket-relay.
func New(env worker.Env, raw json.RawMessage) (worker.Handler, error) {
	var p Params
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("invalid socket-relay params: %w", err)
		}
	}
	if p.URL == "" {
		return nil, fmt.Errorf("socket-relay requires a url")
	}
	if _, ok := transform.Lookup(p.Transform); !ok {
		return nil, fmt.Errorf("unknown transform %q", p.Transform)
	}

	r := &Relay{
		env:       env,
		logger:    env.Logger().With(zap.String("url", p.URL)),
		transform: p.Transform,
		retry:     DefaultRetry,
	}
	if p.RetryMs > 0 {
		r.retry = time.Duration(p.RetryMs) * time.Millisecond
	}

	r.socket = env.Dial(p.URL, worker.SocketEvents{
		OnOpen:    r.flush,
		OnMessage: r.receive,
		OnClose:   r.closed,
	})
	return r, nil
}

// Handle sends one payload. JSON strings go out as their content, any
// other value as its JSON text.
func (r *Relay) Handle(payload json.RawMessage) {
	var text string
	if err := json.Unmarshal(payload, &text); err == nil {
		r.send([]byte(text))
		return
	}
	r.send(append([]byte(nil), payload...))
}

// send writes now when the connection is open and nothing is queued ahead,
// otherwise queues data for the retry loop.
func (r *Relay) send(data []byte) {
	switch r.socket.ReadyState() {
	case worker.Open:
		if len(r.queue) == 0 {
			r.write(data)
			return
		}
		r.queue = append(r.queue, data)
		r.flush()
	case worker.Connecting:
		r.queue = append(r.queue, data)
		r.arm()
	default:
		r.logger.Warn("Dropping send on closed socket",
			zap.Stringer("state", r.socket.ReadyState()),
			zap.Int("bytes", len(data)))
	}
}

func (r *Relay) arm() {
	if r.pending != nil {
		return
	}
	r.pending = r.env.AfterFunc(r.retry, r.tick)
}

func (r *Relay) tick() {
	r.pending = nil
	switch r.socket.ReadyState() {
	case worker.Open:
		r.flush()
	case worker.Connecting:
		r.env.Metrics().IncSocketSendRetries()
		r.arm()
	default:
		r.drop()
	}
}

// flush drains queued sends in order.
func (r *Relay) flush() {
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
	for len(r.queue) > 0 && r.socket.ReadyState() == worker.Open {
		data := r.queue[0]
		r.queue = r.queue[1:]
		r.write(data)
	}
}

func (r *Relay) write(data []byte) {
	if err := r.socket.Send(data); err != nil {
		r.logger.Warn("Socket send failed", zap.Error(err))
	}
}

func (r *Relay) receive(data []byte) {
	out, err := transform.Apply(r.transform, data)
	if err != nil {
		r.logger.Warn("Dropping inbound frame", zap.Error(err))
		return
	}
	if err := r.env.Emit(out); err != nil {
		r.logger.Debug("Emit failed", zap.Error(err))
	}
}

func (r *Relay) closed(err error) {
	if err != nil {
		r.logger.Info("Socket closed", zap.Error(err))
	} else {
		r.logger.Debug("Socket closed")
	}
	r.drop()
}

func (r *Relay) drop() {
	if len(r.queue) > 0 {
		r.logger.Warn("Dropping queued sends on closed socket", zap.Int("count", len(r.queue)))
	}
	r.queue = nil
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
}

// Stop closes the connection when the context shuts down.
func (r *Relay) Stop() {
	r.drop()
	if err := r.socket.Close(); err != nil {
		r.logger.Debug("Socket close failed", zap.Error(err))
	}
}
