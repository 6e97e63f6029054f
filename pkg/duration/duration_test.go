package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "standard go format", input: "30s", want: 30 * time.Second},
		{name: "standard compound", input: "1h30m", want: 90 * time.Minute},
		{name: "days short", input: "3d", want: 3 * Day},
		{name: "days long", input: "3 days", want: 3 * Day},
		{name: "single day", input: "1 day", want: Day},
		{name: "weeks short", input: "2w", want: 2 * Week},
		{name: "weeks long", input: "2 weeks", want: 2 * Week},
		{name: "mixed extended and standard", input: "1w2d12h", want: Week + 2*Day + 12*time.Hour},
		{name: "spaces between components", input: "1 week 2 days", want: Week + 2*Day},
		{name: "spelled out hours", input: "3 hours", want: 3 * time.Hour},
		{name: "spelled out minutes", input: "30 minutes", want: 30 * time.Minute},
		{name: "fractional days", input: "1.5d", want: 36 * time.Hour},
		{name: "negative", input: "-2d", want: -2 * Day},
		{name: "milliseconds", input: "250ms", want: 250 * time.Millisecond},
		{name: "empty", input: "", wantErr: true},
		{name: "bare number", input: "42", wantErr: true},
		{name: "unknown unit", input: "5 fortnights", wantErr: true},
		{name: "unit without number", input: "days", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("not a duration") })
	assert.Equal(t, 2*Day, MustParse("2d"))
}

func TestFormat(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{0, "0s"},
		{30 * time.Second, "30s"},
		{90 * time.Minute, "1h30m"},
		{26 * time.Hour, "1d2h"},
		{Week + 2*Day, "1w2d"},
		{Day + 10*time.Second, "1d10s"},
		{-2 * Day, "-2d"},
		{250 * time.Millisecond, "250ms"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.input))
		})
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{
		45 * time.Second,
		3 * Day,
		Week + Day + time.Hour,
		90 * time.Minute,
	} {
		parsed, err := Parse(Format(d))
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}
}
