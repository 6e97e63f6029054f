package m3u

import (
	"fmt"
	"io"
	"strings"
)

// Writer emits an extended M3U playlist. Write errors are sticky.
type Writer struct {
	w             io.Writer
	err           error
	headerWritten bool

	// EPGURL, when set, is advertised in the header so IPTV players can
	// discover the XMLTV guide.
	EPGURL string
}

// NewWriter creates a streaming playlist writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) printf(format string, args ...any) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.w, format, args...)
}

// WriteHeader writes the EXTM3U line. Called implicitly by WriteEntry.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return w.err
	}
	w.headerWritten = true
	if w.EPGURL != "" {
		esc := escapeAttr(w.EPGURL)
		w.printf("#EXTM3U url-tvg=\"%s\" x-tvg-url=\"%s\"\n", esc, esc)
	} else {
		w.printf("#EXTM3U\n")
	}
	return w.err
}

// WriteEntry writes one EXTINF line and its URL.
func (w *Writer) WriteEntry(entry *Entry) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}

	var attrs []string
	add := func(key, value string) {
		if value != "" {
			attrs = append(attrs, fmt.Sprintf("%s=\"%s\"", key, escapeAttr(value)))
		}
	}
	add("tvg-id", entry.TvgID)
	add("tvg-chno", entry.ChannelNumber)
	add("tvg-name", entry.TvgName)
	add("tvg-logo", entry.TvgLogo)
	add("group-title", entry.GroupTitle)
	for k, v := range entry.Extra {
		add(k, v)
	}

	duration := entry.Duration
	if duration == 0 {
		duration = -1
	}

	if len(attrs) > 0 {
		w.printf("#EXTINF:%d %s,%s\n", duration, strings.Join(attrs, " "), entry.Title)
	} else {
		w.printf("#EXTINF:%d,%s\n", duration, entry.Title)
	}
	w.printf("%s\n", entry.URL)
	return w.err
}

func escapeAttr(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
