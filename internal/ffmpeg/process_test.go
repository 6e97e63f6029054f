package ffmpeg

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStderrLine(t *testing.T) {
	tests := []struct {
		line string
		want StderrClass
	}{
		{"[tcp @ 0x7f] Failed to resolve hostname plex.local: Name or service not known", StderrClassDNS},
		{"[https @ 0x7f] Cannot open connection: TLS handshake failed", StderrClassTLS},
		{"[https @ 0x7f] Server returned 403 Forbidden (access denied)", StderrClassHTTP4xx},
		{"[https @ 0x7f] HTTP error 404 Not Found", StderrClassHTTP4xx},
		{"[https @ 0x7f] Server returned 5XX Server Error reply", StderrClassHTTP5xx},
		{"[mov,mp4,m4a,3gp,3g2,mj2 @ 0x55] moov atom not found", StderrClassDecode},
		{"[h264 @ 0x55] Invalid data found when processing input", StderrClassDecode},
		{"[h264 @ 0x55] decode_slice_header error", StderrClassDecode},
		{"[AVHWDeviceContext @ 0x55] Failed to initialise VAAPI connection: -1", StderrClassHWAccel},
		{"Cannot load nvcuda.dll", StderrClassHWAccel},
		{"[AVHWDeviceContext @ 0x55] Cannot open DRM device /dev/dri/renderD128", StderrClassHWAccel},
		{"Stream is DRM protected and cannot be played", StderrClassDRM},
		{"[mp4 @ 0x55] sample encryption found, media is encrypted", StderrClassDRM},
		{"frame= 1234 fps= 25 q=28.0 size=    2048kB", StderrClassNone},
		{"", StderrClassNone},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStderrLine(tt.line))
		})
	}
}

func TestFailureClassLastFatalWins(t *testing.T) {
	cmd := newCommand("ffmpeg", nil)

	cmd.consumeStderrLine("[https @ 0x7f] Server returned 5XX Server Error reply")
	cmd.consumeStderrLine("frame=  100 fps= 25") // noise never clears the class
	cmd.consumeStderrLine("[h264 @ 0x55] Invalid data found when processing input")

	assert.Equal(t, StderrClassDecode, cmd.FailureClass())
	assert.Contains(t, cmd.StderrTail(), "Server returned 5XX")
	assert.Contains(t, cmd.StderrTail(), "Invalid data found")
}

func TestStderrRingBounds(t *testing.T) {
	ring := newStderrRing(64)

	for i := 0; i < 100; i++ {
		ring.WriteLine("0123456789")
	}

	tail := ring.Tail()
	assert.LessOrEqual(t, len(tail), 64)
	assert.True(t, strings.HasSuffix(tail, "0123456789\n"))
}

func TestLineWriterSplitsOnBothSeparators(t *testing.T) {
	var lines []string
	lw := &lineWriter{sink: func(s string) { lines = append(lines, s) }}

	// Progress updates end with \r, fatal lines with \n, and writes can
	// split a line anywhere.
	_, err := lw.Write([]byte("frame= 1 fps=25\rframe= 2 "))
	require.NoError(t, err)
	_, err = lw.Write([]byte("fps=25\rInvalid data"))
	require.NoError(t, err)
	_, err = lw.Write([]byte(" found\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"frame= 1 fps=25", "frame= 2 fps=25", "Invalid data found"}, lines)
}

func TestLineWriterFlushesOversizedLine(t *testing.T) {
	var lines []string
	lw := &lineWriter{sink: func(s string) { lines = append(lines, s) }}

	_, err := lw.Write(bytes.Repeat([]byte("x"), maxPendingLine+1))
	require.NoError(t, err)

	require.Len(t, lines, 1)
	assert.Len(t, lines[0], maxPendingLine+1)
}

func TestCommandString(t *testing.T) {
	cmd := newCommand("/usr/bin/ffmpeg", []string{"-i", "in.ts", "out.ts"})
	assert.Equal(t, "/usr/bin/ffmpeg -i in.ts out.ts", cmd.String())
}

func TestCommandLifecycleBeforeStart(t *testing.T) {
	cmd := newCommand("ffmpeg", []string{"-version"})

	assert.False(t, cmd.IsRunning())
	assert.Zero(t, cmd.Pid())
	assert.Zero(t, cmd.Uptime())
	assert.Nil(t, cmd.Monitor())
	assert.Nil(t, cmd.Counter())
	assert.Error(t, cmd.Wait())

	// Stop and Kill on an unstarted command are no-ops.
	cmd.Stop(time.Second)
	assert.NoError(t, cmd.Kill())
}

func TestCommandStartWait(t *testing.T) {
	path := skipIfNoFFmpeg(t)

	cmd := newCommand(path, []string{"-version"})
	require.NoError(t, cmd.Start(context.Background()))

	assert.Greater(t, cmd.Pid(), 0)
	assert.NotNil(t, cmd.Monitor())
	assert.Error(t, cmd.Start(context.Background()), "second start must fail")

	require.NoError(t, cmd.Wait())
	assert.False(t, cmd.IsRunning())
	assert.Greater(t, cmd.Uptime(), time.Duration(0))
}

func TestCommandStreamTo(t *testing.T) {
	path := skipIfNoFFmpeg(t)

	cmd := newCommand(path, []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=size=320x240:rate=25:duration=0.2",
		"-c:v", "mpeg2video",
		"-f", "mpegts", "pipe:1",
	})

	var buf bytes.Buffer
	require.NoError(t, cmd.StreamTo(context.Background(), &buf))

	assert.Greater(t, buf.Len(), 0)
	require.NotNil(t, cmd.Counter())
	assert.Equal(t, int64(buf.Len()), cmd.Counter().Bytes())
	assert.False(t, cmd.Counter().LastWrite().IsZero())
	assert.False(t, cmd.IsRunning())
}

func TestCommandStopTerminates(t *testing.T) {
	path := skipIfNoFFmpeg(t)

	// Unbounded encode; only a signal ends it.
	cmd := newCommand(path, []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=size=320x240:rate=25",
		"-c:v", "mpeg2video",
		"-f", "null", "-",
	})
	require.NoError(t, cmd.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	time.Sleep(200 * time.Millisecond)
	cmd.Stop(3 * time.Second)

	select {
	case err := <-done:
		assert.Error(t, err, "SIGTERM exit reports a non-zero status")
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Stop")
	}
	assert.False(t, cmd.IsRunning())
}

func TestCommandContextCancelTearsDown(t *testing.T) {
	path := skipIfNoFFmpeg(t)

	cmd := newCommand(path, []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=size=320x240:rate=25",
		"-c:v", "mpeg2video",
		"-f", "null", "-",
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, cmd.Start(ctx))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit after context cancel")
	}
}
