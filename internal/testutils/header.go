package testutils

import (
	"bufio"
	"strconv"
	"strings"
	"testing"
)

// Header is the leading comment block of a data-driven test document.
//
//	# schema: schema.graphqls
//	# option:data: data.json
//	# option:introspection: false
type Header struct {
	Schema  string
	Options map[string]string
}

// ParseHeader reads the comment lines at the top of source. A document
// without a schema line fails the test.
func ParseHeader(t testing.TB, source string) *Header {
	t.Helper()

	h := &Header{Options: map[string]string{}}

	scanner := bufio.NewScanner(strings.NewReader(source))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			break
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "#"))

		if v, ok := strings.CutPrefix(line, "schema:"); ok {
			h.Schema = strings.TrimSpace(v)
			continue
		}
		if v, ok := strings.CutPrefix(line, "option:"); ok {
			name, value, found := strings.Cut(v, ":")
			if !found {
				t.Fatalf("malformed option line: %s", line)
			}
			h.Options[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}

	if h.Schema == "" {
		t.Fatal("schema file directive is missing")
	}

	return h
}

func (h *Header) String(name string) string {
	return h.Options[name]
}

func (h *Header) Bool(t testing.TB, name string, fallback bool) bool {
	t.Helper()

	v, ok := h.Options[name]
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		t.Fatalf("option %s: %s", name, err)
	}
	return b
}
