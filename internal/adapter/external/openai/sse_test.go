package openai

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s string) []Event {
	t.Helper()
	d := NewDecoder(strings.NewReader(s))
	var out []Event
	for {
		ev, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestDecoder(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Event
	}{
		{"empty", "", nil},
		{"single", "data: {}\n\n", []Event{{Data: "{}"}}},
		{"no space after colon", "data:x\n\n", []Event{{Data: "x"}}},
		{"crlf", "data: a\r\n\r\ndata: b\r\n\r\n", []Event{{Data: "a"}, {Data: "b"}}},
		{"multi line data", "data: a\ndata: b\n\n", []Event{{Data: "a\nb"}}},
		{"comments and blank runs", ": keep-alive\n\n\n\ndata: x\n\n", []Event{{Data: "x"}}},
		{"named with id", "event: error\nid: 7\ndata: boom\n\n", []Event{{Name: "error", ID: "7", Data: "boom"}}},
		{"unknown fields ignored", "retry: 100\ndata: x\n\n", []Event{{Data: "x"}}},
		{"trailing event without blank line", "data: a\n\ndata: b", []Event{{Data: "a"}, {Data: "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, collect(t, tt.in))
		})
	}
}

func TestDecoderReadError(t *testing.T) {
	boom := errors.New("connection reset by peer")
	r := io.MultiReader(strings.NewReader("data: a\n\ndata: partial"), iotest.ErrReader(boom))
	d := NewDecoder(r)

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Data)

	_, err = d.Next()
	assert.ErrorIs(t, err, boom)
}

func TestDecoderEventTooLarge(t *testing.T) {
	big := "data: " + strings.Repeat("x", maxEventSize) + "\n\n"
	_, err := NewDecoder(strings.NewReader(big)).Next()
	assert.ErrorIs(t, err, ErrEventTooLarge)
}
