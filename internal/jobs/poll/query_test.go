package poll

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		data any
		want string
	}{
		{"nil", nil, ""},
		{"string passes through", "a=1&b= raw", "a=1&b= raw"},
		{"scalars", map[string]any{"b": 2, "a": "x y", "c": true}, "&a=x+y&b=2&c=true"},
		{"array", map[string]any{"ids": []int{1, 2}}, "&ids[]=1&ids[]=2"},
		{"nested", map[string]any{"f": map[string]string{"to": "b&c", "from": "a"}}, "&f{from}=a&f{to}=b%26c"},
		{"struct", struct {
			Page int    `json:"page"`
			Tag  string `json:"tag"`
		}{3, "new"}, "&page=3&tag=new"},
		{"float", map[string]any{"p": 1.5}, "&p=1.5"},
		{"null value", map[string]any{"n": nil}, "&n="},
		{"escaped keys", map[string]any{"a&b": 1, "c=d": []int{2}, "e f": map[string]any{"g[]": 3}}, "&a%26b=1&c%3Dd[]=2&e+f{g%5B%5D}=3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeRejectsNonMappings(t *testing.T) {
	_, err := Encode([]int{1, 2})
	assert.Error(t, err)

	_, err = Encode(map[string]any{"fn": func() {}})
	assert.Error(t, err)
}

func TestQueryRoundTrip(t *testing.T) {
	data := map[string]any{
		"q":      "hello world",
		"limit":  25,
		"tags":   []string{"a&b", "c=d"},
		"filter": map[string]any{"min": 1, "label": "ünïcode"},
	}

	encoded, err := Encode(data)
	require.NoError(t, err)

	parsed, err := ParseQuery(encoded)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"q":      "hello world",
		"limit":  "25",
		"tags":   []any{"a&b", "c=d"},
		"filter": map[string]any{"min": "1", "label": "ünïcode"},
	}, parsed)
}

func TestQueryRoundTripAwkwardKeys(t *testing.T) {
	data := map[string]any{
		"a&b":     "1",
		"k=v":     []string{"x"},
		"x[]":     "2",
		"{brace}": map[string]any{"in}ner": "3", "sp ace": "4"},
	}

	encoded, err := Encode(data)
	require.NoError(t, err)

	parsed, err := ParseQuery(encoded)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"a&b":     "1",
		"k=v":     []any{"x"},
		"x[]":     "2",
		"{brace}": map[string]any{"in}ner": "3", "sp ace": "4"},
	}, parsed)
}

func TestParseQueryErrors(t *testing.T) {
	for _, query := range []string{"&a=%zz", "&%zz=1", "&%zz[]=1", "&a{%zz}=1"} {
		_, err := ParseQuery(query)
		assert.Error(t, err, query)
	}
}

func TestAppendQuery(t *testing.T) {
	tests := []struct {
		url, encoded, want string
	}{
		{"http://x/a", "", "http://x/a"},
		{"http://x/a", "&k=v", "http://x/a?k=v"},
		{"http://x/a?z=1", "&k=v", "http://x/a?z=1&k=v"},
		{"http://x/a?", "&k=v", "http://x/a?k=v"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, AppendQuery(tt.url, tt.encoded))
		})
	}
}

func TestEncodeString(t *testing.T) {
	got, err := EncodeString(map[string]any{"a": 1, "b": "two"})
	require.NoError(t, err)
	assert.Equal(t, "a=1&b=two", got)

	got, err = EncodeString("&raw")
	require.NoError(t, err)
	assert.Equal(t, "&raw", got)
}
