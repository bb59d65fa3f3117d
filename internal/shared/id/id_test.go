package id

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHostID(t *testing.T) {
	host := NewHostID()

	assert.True(t, strings.HasPrefix(host.String(), HostPrefix+"_"))
	assert.Len(t, host.String(), len(HostPrefix)+1+26)
}

func TestHostIDTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	host := NewHostID()

	ts, err := host.Timestamp()
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = HostID("host_nope").Timestamp()
	assert.Error(t, err)

	_, err = HostID(strings.TrimPrefix(host.String(), HostPrefix+"_")).Timestamp()
	assert.Error(t, err)
}

func TestHostIDsSortBySpawnOrder(t *testing.T) {
	at := time.Now()
	first := hostIDAt(at)
	second := hostIDAt(at)
	later := hostIDAt(at.Add(time.Second))

	assert.Less(t, first, second)
	assert.Less(t, second, later)
}

func TestConcurrentHostIDs(t *testing.T) {
	const count = 200
	var (
		mu   sync.Mutex
		seen = make(map[HostID]bool, count)
		wg   sync.WaitGroup
	)

	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			host := NewHostID()
			mu.Lock()
			seen[host] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, count)
}

func TestNewRequestID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"generated", NewRequestID().String(), true},
		{"empty", "", false},
		{"garbage", "not-a-uuid", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidRequestID(tt.input))
		})
	}
}
