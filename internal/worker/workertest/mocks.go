package workertest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/booster/internal/worker"
)

// MockRequester is a mock implementation of worker.Requester.
type MockRequester struct {
	mock.Mock
}

// Do mocks the Do method.
func (m *MockRequester) Do(ctx context.Context, req worker.Request) (*worker.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*worker.Response), args.Error(1)
}

// MockDialer is a mock implementation of worker.Dialer.
type MockDialer struct {
	mock.Mock
}

// DialContext mocks the DialContext method.
func (m *MockDialer) DialContext(ctx context.Context, url string) (worker.Conn, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(worker.Conn), args.Error(1)
}

// NewMockRequester creates a requester answering every request with status and body.
func NewMockRequester(t *testing.T, status int, body string) *MockRequester {
	t.Helper()
	m := new(MockRequester)
	m.On("Do", mock.Anything, mock.Anything).
		Return(&worker.Response{StatusCode: status, Body: []byte(body)}, nil).
		Maybe()
	return m
}
