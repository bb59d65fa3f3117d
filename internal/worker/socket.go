package worker

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// socket bridges a dialed Conn into the loop. The dial and read goroutines
// only post tasks; state transitions observed by the job happen on the loop.
type socket struct {
	iso    *isolate
	events SocketEvents
	state  atomic.Int32

	mu     sync.Mutex
	conn   Conn
	closed bool
}

func (s *socket) ReadyState() ReadyState {
	return ReadyState(s.state.Load())
}

func (s *socket) Send(data []byte) error {
	if s.ReadyState() != Open {
		return ErrNotOpen
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("socket send failed: %w", err)
	}
	s.iso.metrics.RecordSocketFrame("out")
	return nil
}

func (s *socket) Close() error {
	switch s.ReadyState() {
	case Closing, Closed:
		return nil
	}
	s.state.Store(int32(Closing))

	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		// Still dialing; connect closes it on arrival.
		return nil
	}
	return conn.Close()
}

// abort closes the connection when the context dies. No events follow.
func (s *socket) abort() {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.state.Store(int32(Closed))
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *socket) connect(url string) {
	logger := s.iso.logger.With(zap.String("url", url))

	conn, err := s.iso.dialer.DialContext(s.iso.ctx, url)
	if err != nil {
		logger.Debug("Socket dial failed", zap.Error(err))
		s.iso.post(func() {
			s.state.Store(int32(Closed))
			s.fireClose(err)
		})
		return
	}

	s.mu.Lock()
	s.conn = conn
	closed := s.closed
	s.mu.Unlock()

	if closed {
		_ = conn.Close()
		s.iso.post(func() {
			s.state.Store(int32(Closed))
			s.fireClose(nil)
		})
		return
	}

	s.iso.post(func() {
		if s.ReadyState() != Connecting {
			return
		}
		s.state.Store(int32(Open))
		logger.Debug("Socket open")
		if s.events.OnOpen != nil {
			s.events.OnOpen()
		}
	})

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.iso.post(func() {
				s.state.Store(int32(Closed))
				s.fireClose(err)
			})
			return
		}
		s.iso.post(func() {
			s.iso.metrics.RecordSocketFrame("in")
			if s.events.OnMessage != nil {
				s.events.OnMessage(data)
			}
		})
	}
}

func (s *socket) fireClose(err error) {
	s.iso.forget(s)
	if s.events.OnClose != nil {
		s.events.OnClose(err)
	}
}
