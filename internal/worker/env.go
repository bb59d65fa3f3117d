package worker

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/booster/internal/infrastructure/monitoring"
)

// Env is everything a job body may touch. All callbacks it accepts run on
// the isolated context's own goroutine.
type Env interface {
	ID() string
	Logger() *zap.Logger
	Metrics() *monitoring.Metrics
	Now() time.Time

	// AfterFunc runs fn on the context after d.
	AfterFunc(d time.Duration, fn func()) Timer

	// Emit sends v upstream as a payload message.
	Emit(v any) error

	// Fetch issues req and calls done exactly once on the context.
	// Cancelling aborts the request; done still fires with the error.
	Fetch(req Request, done func(Completion)) (cancel func())

	// Dial opens a duplex connection. Events are delivered on the context.
	Dial(url string, events SocketEvents) Socket
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call if it has not run yet and reports whether it did.
	Stop() bool
}

// Request is an HTTP request issued through the requester capability.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

// Response is the outcome of a request that reached the server.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Completion is how a fetch ended. Received is stamped when the requester
// returns, not when done gets its turn on the loop.
type Completion struct {
	Response *Response
	Err      error
	Received time.Time
}

// Success reports whether the status is in [200,299].
func (r *Response) Success() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode <= 299
}

// Requester performs HTTP requests for contexts.
type Requester interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Conn is a dialed duplex connection carrying text frames.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens duplex connections for contexts.
type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}

// ReadyState mirrors the lifecycle of a duplex connection.
type ReadyState int32

const (
	Connecting ReadyState = iota
	Open
	Closing
	Closed
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Socket is the context-side view of a duplex connection.
type Socket interface {
	ReadyState() ReadyState
	Send(data []byte) error
	Close() error
}

// SocketEvents are socket callbacks. Nil callbacks are skipped.
type SocketEvents struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func(err error)
}
