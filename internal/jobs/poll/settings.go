package poll

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	// DefaultTimeout is the request timeout in milliseconds
	DefaultTimeout = 10000

	// DefaultFrequency is the delay between cycle requests in milliseconds
	DefaultFrequency = 30000
)

// Settings configures a poller. Durations are milliseconds.
type Settings struct {
	URL       string            `json:"url" yaml:"url" toml:"url"`
	Method    string            `json:"method,omitempty" yaml:"method" toml:"method"`
	Data      any               `json:"data,omitempty" yaml:"data" toml:"data"`
	Timeout   int               `json:"timeout,omitempty" yaml:"timeout" toml:"timeout"`
	Frequency int               `json:"frequency,omitempty" yaml:"frequency" toml:"frequency"`
	Refresh   int               `json:"refresh,omitempty" yaml:"refresh" toml:"refresh"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers" toml:"headers"`
	Backoff   *Backoff          `json:"backoff,omitempty" yaml:"backoff" toml:"backoff"`
	Process   string            `json:"process,omitempty" yaml:"process" toml:"process"`

	// Delay holds off the first request, in ms. The poller sets it when it
	// rebuilds a context that failed.
	Delay int `json:"delay,omitempty" yaml:"-" toml:"-"`
}

// Backoff selects a named delay strategy applied after failed cycle requests.
type Backoff struct {
	Strategy string  `json:"strategy" yaml:"strategy" toml:"strategy"`
	Base     int     `json:"base,omitempty" yaml:"base" toml:"base"`
	Factor   float64 `json:"factor,omitempty" yaml:"factor" toml:"factor"`
	Max      int     `json:"max,omitempty" yaml:"max" toml:"max"`
}

// WithDefaults fills unset fields. The cycle method is always GET.
func (s Settings) WithDefaults() Settings {
	s.Method = http.MethodGet
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.Frequency <= 0 {
		s.Frequency = DefaultFrequency
	}
	if s.Refresh < 0 {
		s.Refresh = 0
	}
	return s
}

// Validate checks the settings a poller cannot run without.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("poll settings require a url")
	}
	if s.Backoff != nil {
		if _, ok := lookupBackoff(s.Backoff.Strategy); !ok {
			return fmt.Errorf("unknown backoff strategy %q", s.Backoff.Strategy)
		}
	}
	return nil
}

// Snapshot returns a deep copy made through JSON, the same way settings
// cross into an isolated context.
func (s Settings) Snapshot() (Settings, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to snapshot poll settings: %w", err)
	}
	return decodeSettings(data)
}

func decodeSettings(raw []byte) (Settings, error) {
	var s Settings
	if len(raw) == 0 {
		return s, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("invalid poll settings: %w", err)
	}
	return s, nil
}

// Record is emitted once per completed or failed request.
type Record struct {
	Success           bool            `json:"success"`
	Payload           json.RawMessage `json:"payload"`
	StatusCode        int             `json:"statusCode"`
	PreviousFrequency int             `json:"previousFrequency"`
	Duration          int64           `json:"duration"`
	SentData          string          `json:"sentData"`
	ByteSize          int             `json:"byteSize"`
	Method            string          `json:"method,omitempty"`
	RequestID         string          `json:"requestId,omitempty"`
}

// Text returns the payload as a string: string payloads unquoted, anything
// else as JSON text.
func (r Record) Text() string {
	var s string
	if err := json.Unmarshal(r.Payload, &s); err == nil {
		return s
	}
	return string(r.Payload)
}

// Refresh asks the host side to rebuild the context with Params as data.
type Refresh struct {
	Refresh bool `json:"refresh"`
	Params  any  `json:"params"`
}

// Demand types accepted by a running poller.
const (
	DemandUpdate = "UPDATE"
	DemandPost   = http.MethodPost
	DemandPut    = http.MethodPut
	DemandDelete = http.MethodDelete
)

// Demand is a payload posted to a running poller. UPDATE replaces the cycle
// data and preempts the pending wait; POST, PUT and DELETE issue a one-off
// request that inherits the poller's url, timeout and headers unless set.
type Demand struct {
	Type    string            `json:"type"`
	Params  any               `json:"params,omitempty"`
	URL     string            `json:"url,omitempty"`
	Data    any               `json:"data,omitempty"`
	Timeout int               `json:"timeout,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}
