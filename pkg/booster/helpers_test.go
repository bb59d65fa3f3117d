package booster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/booster/internal/worker"
)

const waitFor = 2 * time.Second

// call is one request held by gatedRequester until the test answers it.
type call struct {
	req   worker.Request
	reply chan *worker.Response
}

func (c call) respond(status int, body string) {
	c.reply <- &worker.Response{StatusCode: status, Body: []byte(body)}
}

// gatedRequester hands every request to the test.
type gatedRequester struct {
	calls chan call
}

func newGatedRequester() *gatedRequester {
	return &gatedRequester{calls: make(chan call, 16)}
}

func (g *gatedRequester) Do(ctx context.Context, req worker.Request) (*worker.Response, error) {
	c := call{req: req, reply: make(chan *worker.Response, 1)}
	select {
	case g.calls <- c:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-c.reply:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedRequester) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-g.calls:
		return c
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a request")
		return call{}
	}
}

func (g *gatedRequester) idle(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case c := <-g.calls:
		t.Fatalf("unexpected request %s %s", c.req.Method, c.req.URL)
	case <-time.After(d):
	}
}

func collect(ch chan Event) Listener {
	return func(ev Event) { ch <- ev }
}

func receive(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for an event")
		return Event{}
	}
}

// newEchoServer answers every text frame with "echo:" + frame.
func newEchoServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, append([]byte("echo:"), data...)); err != nil {
				return
			}
		}
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}
