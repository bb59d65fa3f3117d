package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		kind      Kind
		settings  any
		wantNames []string
		wantErr   bool
	}{
		{
			name:      "object params",
			kind:      KindPollClient,
			settings:  map[string]any{"url": "http://x", "data": map[string]int{"a": 1}},
			wantNames: []string{"data", "url"},
		},
		{
			name:     "no params",
			kind:     KindSocketRelay,
			settings: nil,
		},
		{
			name:     "scalar params have no names",
			kind:     KindSocketRelay,
			settings: "ws://x",
		},
		{
			name:    "missing kind",
			kind:    "",
			wantErr: true,
		},
		{
			name:     "unencodable",
			kind:     KindPollClient,
			settings: map[string]any{"fn": func() {}},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.kind, tt.settings, true)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, d.Kind)
			assert.True(t, d.Immediate)
			assert.Equal(t, tt.wantNames, d.ParameterNames)
		})
	}
}

func TestNewSnapshotsSettings(t *testing.T) {
	settings := map[string]any{"url": "http://before"}
	d, err := New(KindPollClient, settings, true)
	require.NoError(t, err)

	settings["url"] = "http://after"

	var decoded map[string]string
	require.NoError(t, d.Decode(&decoded))
	assert.Equal(t, "http://before", decoded["url"])
}

func TestDecodeInvalidParams(t *testing.T) {
	d := Descriptor{Kind: KindPollClient, Params: []byte(`[1]`)}

	var target struct{ URL string }
	assert.Error(t, d.Decode(&target))

	empty := Descriptor{Kind: KindPollClient}
	assert.NoError(t, empty.Decode(&target))
}
