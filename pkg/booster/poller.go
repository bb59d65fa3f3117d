package booster

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/booster/internal/domain/job"
	"github.com/GriffinCanCode/booster/internal/jobs/poll"
	"github.com/GriffinCanCode/booster/internal/jobs/transform"
	"github.com/GriffinCanCode/booster/internal/worker"
)

// AjaxPoller runs a polling cycle inside a worker context. When the cycle
// asks for a refresh, or its context fails, the poller swaps in a fresh
// context seeded with the latest data; listeners never see the swap.
type AjaxPoller struct {
	opts   options
	logger *zap.Logger

	mu        sync.Mutex
	settings  PollSettings
	host      *worker.Host
	listeners listenerSet
	updated   *lastUpdate
	refreshes int
	rebuilds  int
	closed    bool
}

// lastUpdate is the newest UPDATE posted to host. It wins over whatever
// data the host carries out, since the host may have stopped applying
// updates once it asked for a refresh.
type lastUpdate struct {
	host   *worker.Host
	params json.RawMessage
}

// NewAjaxPoller starts polling. The cycle method is forced to GET and the
// settings are snapshotted, so later changes to the caller's value have
// no effect.
func NewAjaxPoller(settings PollSettings, opts ...Option) (*AjaxPoller, error) {
	snapshot, err := settings.Snapshot()
	if err != nil {
		return nil, err
	}
	snapshot.Method = http.MethodGet
	if err := snapshot.WithDefaults().Validate(); err != nil {
		return nil, err
	}
	if _, ok := transform.Lookup(snapshot.Process); !ok {
		return nil, fmt.Errorf("unknown process transform %q", snapshot.Process)
	}

	o := newOptions(opts)
	if err := o.withRequester(); err != nil {
		return nil, err
	}

	p := &AjaxPoller{
		opts:      o,
		logger:    o.logger.With(zap.String("url", snapshot.URL)),
		settings:  snapshot,
		listeners: make(listenerSet),
	}

	if err := o.register(p.AddEventListener); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	host, err := p.spawnLocked(0)
	if err != nil {
		return nil, err
	}
	p.host = host
	return p, nil
}

// spawnLocked starts a host running the current settings, holding off the
// first request for delay ms.
func (p *AjaxPoller) spawnLocked(delay int) (*worker.Host, error) {
	s := p.settings
	s.Delay = delay
	d, err := job.New(job.KindPollClient, s, true)
	if err != nil {
		return nil, err
	}
	return p.opts.spawn(d, p.settings.URL, func(h *worker.Host) {
		h.AddListener(worker.EventMessage, func(ev worker.Event) { p.onMessage(h, ev) })
		h.AddListener(worker.EventError, func(ev worker.Event) { p.onError(h, ev) })
	})
}

// ID returns the current worker host ID; it changes on every refresh
func (p *AjaxPoller) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.host.ID()
}

// Refreshes returns how many times the worker context was rebuilt after
// reaching its refresh threshold
func (p *AjaxPoller) Refreshes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

// Rebuilds returns how many failed worker contexts were replaced
func (p *AjaxPoller) Rebuilds() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rebuilds
}

// Settings returns the settings the current context was spawned with. Data
// reflects the last refresh or rebuild, not later updates.
func (p *AjaxPoller) Settings() PollSettings {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.settings.Snapshot()
	if err != nil {
		return p.settings
	}
	return s
}

// Post issues a one-off POST. Unset demand fields inherit the poller's
// url, timeout and headers.
func (p *AjaxPoller) Post(d Demand) error { return p.demand(http.MethodPost, d) }

// Put issues a one-off PUT
func (p *AjaxPoller) Put(d Demand) error { return p.demand(http.MethodPut, d) }

// Del issues a one-off DELETE
func (p *AjaxPoller) Del(d Demand) error { return p.demand(http.MethodDelete, d) }

// Update replaces the cycle data and re-polls without waiting out the
// current delay
func (p *AjaxPoller) Update(params any) error {
	return p.post(Demand{Type: poll.DemandUpdate, Params: params})
}

func (p *AjaxPoller) demand(method string, d Demand) error {
	d.Type = method
	return p.post(d)
}

// Send posts v to the poller as-is. v is expected to be a Demand or a
// mapping with a "type" field.
func (p *AjaxPoller) Send(v any) error {
	return p.post(v)
}

// post hands v to the current host. If that host was swapped out while v
// was in flight, v goes to its replacement instead; if it died without
// being swapped, it is rebuilt first.
func (p *AjaxPoller) post(v any) error {
	params, isUpdate := updateParams(v)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	host := p.host
	if isUpdate {
		p.updated = &lastUpdate{host: host, params: params}
	}
	p.mu.Unlock()

	err := host.PostMessage(v)
	if !errors.Is(err, worker.ErrClosed) {
		return err
	}

	p.mu.Lock()
	closed, current := p.closed, p.host
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if current == host {
		p.rebuild(host, err)
		p.mu.Lock()
		current = p.host
		p.mu.Unlock()
		if current == host {
			return err
		}
	}
	return p.post(v)
}

// updateParams reports whether v is an UPDATE demand and returns its params.
func updateParams(v any) (json.RawMessage, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var d struct {
		Type   string          `json:"type"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &d); err != nil || !strings.EqualFold(d.Type, poll.DemandUpdate) {
		return nil, false
	}
	if len(d.Params) == 0 {
		d.Params = json.RawMessage("null")
	}
	return d.Params, true
}

// Close ends the worker context. Pending requests are abandoned.
func (p *AjaxPoller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	host := p.host
	p.mu.Unlock()

	host.End(p.opts.grace)
	return nil
}

// Done is closed once the poller is closed and its current host has ended
func (p *AjaxPoller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.host.Done()
}

// AddEventListener registers fn for success, error or message events
func (p *AjaxPoller) AddEventListener(kind string, fn Listener) error {
	switch kind {
	case EventSuccess, EventError, EventMessage:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
	}
	if fn == nil {
		return nil
	}
	p.mu.Lock()
	p.listeners.add(kind, fn)
	p.mu.Unlock()
	return nil
}

// On is AddEventListener for the Transport interface
func (p *AjaxPoller) On(kind string, fn Listener) {
	if err := p.AddEventListener(kind, fn); err != nil {
		p.logger.Warn("Ignoring listener", zap.Error(err))
	}
}

// onMessage runs on the dispatch goroutine of the host that emitted ev.
func (p *AjaxPoller) onMessage(from *worker.Host, ev worker.Event) {
	var probe struct {
		Refresh bool            `json:"refresh"`
		Params  json.RawMessage `json:"params"`
	}
	if err := ev.Decode(&probe); err == nil && probe.Refresh {
		p.refresh(from, probe.Params)
		return
	}

	var rec Record
	if err := ev.Decode(&rec); err != nil {
		p.logger.Warn("Dropping malformed poll message", zap.Error(err))
		return
	}
	p.deliver(ev.HostID, rec)
}

// onError turns a context failure into a failed record. A context that
// faulted is gone, so it is replaced first; the new one waits out a full
// frequency before its first request.
func (p *AjaxPoller) onError(from *worker.Host, ev worker.Event) {
	if errors.Is(ev.Err, worker.ErrContextFault) {
		p.rebuild(from, ev.Err)
	}

	msg := "worker context failed"
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	payload, _ := json.Marshal(msg)

	p.mu.Lock()
	freq := p.settings.WithDefaults().Frequency
	p.mu.Unlock()

	p.deliver(ev.HostID, Record{
		Success:           false,
		Payload:           payload,
		StatusCode:        ContextFailureStatus,
		PreviousFrequency: freq,
	})
}

// refresh swaps the emitting host for a new one whose data is params, or
// the last update posted to it.
func (p *AjaxPoller) refresh(from *worker.Host, params json.RawMessage) {
	p.mu.Lock()
	next, err := p.replaceLocked(from, params, 0)
	if next != nil {
		p.refreshes++
	}
	p.mu.Unlock()

	switch {
	case err != nil:
		p.logger.Error("Refresh failed, keeping current context", zap.Error(err))
	case next != nil:
		p.logger.Debug("Worker context refreshed",
			zap.String("previous", from.ID()),
			zap.String("current", next.ID()))
		from.End(p.opts.grace)
	}
}

// rebuild replaces a failed host, keeping the data it was last given.
func (p *AjaxPoller) rebuild(from *worker.Host, cause error) {
	p.mu.Lock()
	next, err := p.replaceLocked(from, nil, p.settings.WithDefaults().Frequency)
	if next != nil {
		p.rebuilds++
	}
	p.mu.Unlock()

	switch {
	case err != nil:
		p.logger.Error("Failed to rebuild worker context", zap.NamedError("cause", cause), zap.Error(err))
	case next != nil:
		p.logger.Warn("Worker context failed, rebuilt",
			zap.Error(cause),
			zap.String("previous", from.ID()),
			zap.String("current", next.ID()))
		from.End(p.opts.grace)
	}
}

// replaceLocked spawns the successor of from. It returns nil, nil when the
// poller is closed or from was already replaced. Callers hold mu.
func (p *AjaxPoller) replaceLocked(from *worker.Host, carried json.RawMessage, delay int) (*worker.Host, error) {
	if p.closed || p.host != from {
		return nil, nil
	}

	previous := p.settings.Data
	switch {
	case p.updated != nil && p.updated.host == from:
		p.settings.Data = decodeData(p.updated.params)
	case carried != nil:
		p.settings.Data = decodeData(carried)
	}

	next, err := p.spawnLocked(delay)
	if err != nil {
		p.settings.Data = previous
		return nil, err
	}
	p.host = next
	p.updated = nil
	return next, nil
}

func (p *AjaxPoller) deliver(hostID string, rec Record) {
	kind := EventError
	if rec.Success {
		kind = EventSuccess
	}

	p.mu.Lock()
	routed := p.listeners.snapshot(kind)
	all := p.listeners.snapshot(EventMessage)
	p.mu.Unlock()

	for _, fn := range routed {
		fn(Event{Kind: kind, HostID: hostID, Record: &rec})
	}
	for _, fn := range all {
		fn(Event{Kind: EventMessage, HostID: hostID, Record: &rec})
	}
}

// decodeData turns carried params back into a plain value, keeping numbers
// exact.
func decodeData(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	return v
}

var _ Transport = (*AjaxPoller)(nil)
