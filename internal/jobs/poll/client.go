// Package poll is the poll-client job: a self-rescheduling GET cycle with
// named backoff, bounded lifetime through refresh-after-N, demand-triggered
// re-requests and one-off POST, PUT and DELETE requests.
//
// All state lives in one Client owned by its isolated context. The host
// only sees it through the Records and Refresh signals the job emits.
package poll

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/booster/internal/domain/job"
	"github.com/GriffinCanCode/booster/internal/jobs/transform"
	"github.com/GriffinCanCode/booster/internal/shared/id"
	"github.com/GriffinCanCode/booster/internal/worker"
)

// RequestIDHeader carries the per-request ID.
const RequestIDHeader = "X-Request-ID"

// Register adds the poll-client factory to reg.
func Register(reg *worker.Registry) error {
	return reg.Register(job.KindPollClient, New)
}

// state is the poller's mutable state. Only the context goroutine touches it.
type state struct {
	requestCount      int
	previousFrequency int
	subscriber        func()
	pending           worker.Timer
	data              any
	inflight          map[int]func()
	nextFetch         int
	refreshed         bool
	stopped           bool
}

// Client is the per-context job.
type Client struct {
	env      worker.Env
	logger   *zap.Logger
	settings Settings
	state    state
}

// New is the worker.Factory for poll-client. The first GET is issued
// before New returns unless Settings.Delay holds it off.
func New(env worker.Env, raw json.RawMessage) (worker.Handler, error) {
	settings, err := decodeSettings(raw)
	if err != nil {
		return nil, err
	}
	settings = settings.WithDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if _, ok := transform.Lookup(settings.Process); !ok {
		return nil, fmt.Errorf("unknown process transform %q", settings.Process)
	}

	c := &Client{
		env:      env,
		logger:   env.Logger().With(zap.String("url", settings.URL)),
		settings: settings,
		state: state{
			previousFrequency: settings.Frequency,
			data:              settings.Data,
			inflight:          make(map[int]func()),
		},
	}

	if settings.Delay > 0 {
		c.wait(time.Duration(settings.Delay) * time.Millisecond)
	} else {
		c.poll()
	}
	return c, nil
}

// Handle applies a demand posted by the host.
func (c *Client) Handle(payload json.RawMessage) {
	var d Demand
	if err := json.Unmarshal(payload, &d); err != nil {
		c.logger.Warn("Ignoring malformed demand", zap.Error(err))
		return
	}

	switch strings.ToUpper(d.Type) {
	case DemandUpdate:
		c.update(d.Params)
	case DemandPost, DemandPut, DemandDelete:
		c.oneOff(strings.ToUpper(d.Type), d)
	default:
		c.logger.Warn("Ignoring unknown demand", zap.String("type", d.Type))
	}
}

// Stop cancels the pending wait and any in-flight requests.
func (c *Client) Stop() {
	c.state.stopped = true
	c.clearWait()
	for key, cancel := range c.state.inflight {
		delete(c.state.inflight, key)
		cancel()
	}
}

// update replaces the cycle data and fires the subscriber, preempting the
// remaining delay once. With a request in flight the new data is picked up
// by the next cycle.
func (c *Client) update(params any) {
	c.state.data = params
	if sub := c.state.subscriber; sub != nil {
		sub()
	}
}

// poll issues one cycle GET.
func (c *Client) poll() {
	c.send(request{
		method:  http.MethodGet,
		url:     c.settings.URL,
		data:    c.state.data,
		timeout: c.settings.Timeout,
		headers: c.settings.Headers,
	}, c.complete)
}

// oneOff issues a single request outside the cycle. Unset fields inherit
// the poller's url, timeout and headers.
func (c *Client) oneOff(method string, d Demand) {
	req := request{
		method:  method,
		url:     c.settings.URL,
		data:    d.Data,
		timeout: c.settings.Timeout,
		headers: mergeHeaders(c.settings.Headers, d.Headers),
	}
	if d.URL != "" {
		req.url = d.URL
	}
	if d.Timeout > 0 {
		req.timeout = d.Timeout
	}
	c.send(req, nil)
}

type request struct {
	method  string
	url     string
	data    any
	timeout int
	headers map[string]string
}

func (c *Client) send(r request, hook func(Record)) {
	var (
		sent string
		err  error
	)
	if r.method == http.MethodGet {
		sent, err = Encode(r.data)
	} else {
		sent, err = EncodeString(r.data)
	}
	if err != nil {
		c.finish(Record{
			Success:           false,
			Payload:           jsonString(err.Error()),
			PreviousFrequency: c.state.previousFrequency,
			Method:            r.method,
		}, hook)
		return
	}

	requestID := id.NewRequestID().String()
	headers := mergeHeaders(r.headers, map[string]string{RequestIDHeader: requestID})
	target := r.url
	body := ""
	if r.method == http.MethodGet {
		target = AppendQuery(r.url, sent)
	} else {
		body = sent
		if _, ok := headerValue(headers, "Content-Type"); !ok && body != "" {
			headers["Content-Type"] = "application/x-www-form-urlencoded"
		}
	}

	issued := c.env.Now()
	key := c.state.nextFetch
	c.state.nextFetch++

	cancel := c.env.Fetch(worker.Request{
		Method:  r.method,
		URL:     target,
		Headers: headers,
		Body:    body,
		Timeout: time.Duration(r.timeout) * time.Millisecond,
	}, func(done worker.Completion) {
		delete(c.state.inflight, key)
		if c.state.stopped {
			return
		}
		rec := c.record(done.Response, done.Err)
		rec.Duration = done.Received.Sub(issued).Milliseconds()
		rec.SentData = sent
		rec.Method = r.method
		rec.RequestID = requestID
		c.finish(rec, hook)
	})
	c.state.inflight[key] = cancel
}

// record classifies a fetch outcome.
func (c *Client) record(resp *worker.Response, err error) Record {
	rec := Record{PreviousFrequency: c.state.previousFrequency}

	switch {
	case errors.Is(err, worker.ErrTimeout):
		rec.Payload = jsonString("timeout")
	case err != nil:
		rec.Payload = jsonString(err.Error())
	case !resp.Success():
		rec.StatusCode = resp.StatusCode
		rec.Payload = jsonString(string(resp.Body))
		rec.ByteSize = len(resp.Body)
	default:
		rec.StatusCode = resp.StatusCode
		rec.ByteSize = len(resp.Body)
		payload, perr := c.process(resp.Body)
		if perr != nil {
			c.logger.Warn("Process transform failed", zap.Error(perr))
			rec.Payload = jsonString(perr.Error())
			return rec
		}
		rec.Success = true
		rec.Payload = payload
	}
	return rec
}

func (c *Client) process(body []byte) (json.RawMessage, error) {
	out, err := transform.Apply(c.settings.Process, body)
	if err != nil {
		return nil, err
	}
	if raw, ok := out.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(out)
}

// finish emits rec and runs the completion hook, if any.
func (c *Client) finish(rec Record, hook func(Record)) {
	c.env.Metrics().RecordPollRequest(rec.Method, outcome(rec), time.Duration(rec.Duration)*time.Millisecond)
	if err := c.env.Emit(rec); err != nil {
		c.logger.Debug("Emit failed", zap.Error(err))
	}
	if hook != nil {
		hook(rec)
	}
}

// complete is the cycle's completion hook.
func (c *Client) complete(rec Record) {
	if c.state.refreshed {
		return
	}
	if c.settings.Refresh > 0 {
		c.state.requestCount++
	}

	next := c.settings.Frequency
	if c.settings.Backoff != nil {
		if !rec.Success {
			delay, err := c.settings.Backoff.NextDelay(rec)
			if err != nil {
				c.logger.Warn("Backoff failed, using frequency", zap.Error(err))
			} else {
				next = delay
			}
		}
		c.state.previousFrequency = next
	}

	if c.settings.Refresh > 0 && c.state.requestCount >= c.settings.Refresh {
		c.state.refreshed = true
		c.clearWait()
		c.env.Metrics().IncPollRefreshes()
		c.logger.Debug("Refresh threshold reached", zap.Int("requests", c.state.requestCount))
		if err := c.env.Emit(Refresh{Refresh: true, Params: c.state.data}); err != nil {
			c.logger.Debug("Emit failed", zap.Error(err))
		}
		return
	}

	c.wait(time.Duration(next) * time.Millisecond)
}

// wait arms the single pending delay and its subscriber, replacing any
// previous pair.
func (c *Client) wait(delay time.Duration) {
	c.clearWait()
	c.state.pending = c.env.AfterFunc(delay, func() {
		c.state.pending = nil
		c.state.subscriber = nil
		c.poll()
	})
	c.state.subscriber = func() {
		c.clearWait()
		c.poll()
	}
}

func (c *Client) clearWait() {
	if c.state.pending != nil {
		c.state.pending.Stop()
		c.state.pending = nil
	}
	c.state.subscriber = nil
}

func outcome(rec Record) string {
	switch {
	case rec.Success:
		return "success"
	case rec.Text() == "timeout" && rec.StatusCode == 0:
		return "timeout"
	case rec.StatusCode == 0:
		return "error"
	default:
		return "failure"
	}
}

func mergeHeaders(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		if existing, ok := headerKey(out, k); ok {
			delete(out, existing)
		}
		out[k] = v
	}
	return out
}

func headerKey(headers map[string]string, name string) (string, bool) {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return k, true
		}
	}
	return "", false
}

func headerValue(headers map[string]string, name string) (string, bool) {
	k, ok := headerKey(headers, name)
	if !ok {
		return "", false
	}
	return headers[k], true
}

func jsonString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
