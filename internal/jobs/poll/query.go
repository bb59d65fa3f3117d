package poll

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Encode renders data as `&key=value` pairs. Arrays become repeated
// `key[]=value` pairs and nested mappings `key{sub}=value`. Keys and values
// are URL-encoded, so only the brackets and braces Encode adds stay raw.
// Keys are emitted in sorted order. Strings pass through
// untouched; any other value is normalized through JSON first.
func Encode(data any) (string, error) {
	switch v := data.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	}

	normalized, err := normalize(data)
	if err != nil {
		return "", err
	}
	fields, ok := normalized.(map[string]any)
	if !ok {
		return "", fmt.Errorf("poll data must be a mapping or a string, got %T", data)
	}

	var b strings.Builder
	for _, key := range sortedKeys(fields) {
		name := url.QueryEscape(key)
		switch value := fields[key].(type) {
		case []any:
			for _, item := range value {
				writePair(&b, name+"[]", item)
			}
		case map[string]any:
			for _, sub := range sortedKeys(value) {
				writePair(&b, name+"{"+url.QueryEscape(sub)+"}", value[sub])
			}
		default:
			writePair(&b, name, value)
		}
	}
	return b.String(), nil
}

// EncodeString is Encode without the leading separator, for bodies.
func EncodeString(data any) (string, error) {
	encoded, err := Encode(data)
	if err != nil {
		return "", err
	}
	if _, isString := data.(string); isString {
		return encoded, nil
	}
	return strings.TrimPrefix(encoded, "&"), nil
}

// AppendQuery joins an encoded query onto rawURL.
func AppendQuery(rawURL, encoded string) string {
	encoded = strings.TrimPrefix(encoded, "&")
	if encoded == "" {
		return rawURL
	}
	if strings.Contains(rawURL, "?") {
		if strings.HasSuffix(rawURL, "?") || strings.HasSuffix(rawURL, "&") {
			return rawURL + encoded
		}
		return rawURL + "&" + encoded
	}
	return rawURL + "?" + encoded
}

var nestedKey = regexp.MustCompile(`^([^{}\[\]]+)\{([^{}]+)\}$`)

// ParseQuery reverses Encode. Values come back as strings, arrays as
// []any and nested mappings as map[string]any.
func ParseQuery(query string) (map[string]any, error) {
	out := make(map[string]any)
	for _, pair := range strings.Split(strings.TrimPrefix(query, "?"), "&") {
		if pair == "" {
			continue
		}
		key, raw, _ := strings.Cut(pair, "=")
		value, err := url.QueryUnescape(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %q: %w", key, err)
		}

		switch {
		case strings.HasSuffix(key, "[]"):
			base, err := unescapeKey(strings.TrimSuffix(key, "[]"))
			if err != nil {
				return nil, err
			}
			list, _ := out[base].([]any)
			out[base] = append(list, value)
		case nestedKey.MatchString(key):
			m := nestedKey.FindStringSubmatch(key)
			base, err := unescapeKey(m[1])
			if err != nil {
				return nil, err
			}
			sub, err := unescapeKey(m[2])
			if err != nil {
				return nil, err
			}
			nested, ok := out[base].(map[string]any)
			if !ok {
				nested = make(map[string]any)
				out[base] = nested
			}
			nested[sub] = value
		default:
			name, err := unescapeKey(key)
			if err != nil {
				return nil, err
			}
			out[name] = value
		}
	}
	return out, nil
}

func unescapeKey(key string) (string, error) {
	name, err := url.QueryUnescape(key)
	if err != nil {
		return "", fmt.Errorf("invalid key %q: %w", key, err)
	}
	return name, nil
}

// writePair writes one pair. key must already be escaped.
func writePair(b *strings.Builder, key string, value any) {
	b.WriteByte('&')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(url.QueryEscape(scalar(value)))
}

func scalar(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

// normalize converts any JSON-serializable value into maps, slices and
// scalars, keeping numbers exact.
func normalize(data any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("poll data is not serializable: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
