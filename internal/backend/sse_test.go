package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSSEData(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{"single data line", "data: {\"x\":1}\n\n", `{"x":1}`, true},
		{"skips event lines", "event: message\ndata: hello\n\n", "hello", true},
		{"first non-empty data wins", "data:\ndata: first\ndata: second\n", "first", true},
		{"no space after prefix", "data:payload\n", "payload", true},
		{"no data line", "event: message\n\n", "", false},
		{"empty input", "", "", false},
		{"data prefix mid-line ignored", "x data: nope\n", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseSSEData(tt.raw)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.want, got)
		})
	}
}
