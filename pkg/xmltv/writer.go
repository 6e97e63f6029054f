package xmltv

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

const (
	generatorName = "exstreamtv"
	generatorURL  = "https://github.com/exstreamtv/exstreamtv"
)

// Writer emits an XMLTV document incrementally: header, channels,
// programmes, footer. Channels must all be written before the first
// programme. Write errors are sticky; the first one is returned by every
// subsequent call.
type Writer struct {
	w             io.Writer
	err           error
	headerWritten bool
	channelsDone  bool
}

// NewWriter creates a streaming XMLTV writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) printf(format string, args ...any) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.w, format, args...)
}

// WriteHeader writes the XML declaration and opens the tv element. Called
// implicitly by WriteChannel and WriteProgramme.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return w.err
	}
	w.headerWritten = true
	w.printf("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	w.printf("<tv generator-info-name=\"%s\" generator-info-url=\"%s\">\n", generatorName, generatorURL)
	return w.err
}

// WriteChannel writes one channel definition.
func (w *Writer) WriteChannel(ch *Channel) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if w.channelsDone {
		return fmt.Errorf("channel %q written after first programme", ch.ID)
	}
	w.printf("  <channel id=\"%s\">\n", escape(ch.ID))
	w.printf("    <display-name>%s</display-name>\n", escape(ch.DisplayName))
	if ch.Icon != "" {
		w.printf("    <icon src=\"%s\"/>\n", escape(ch.Icon))
	}
	if ch.URL != "" {
		w.printf("    <url>%s</url>\n", escape(ch.URL))
	}
	w.printf("  </channel>\n")
	return w.err
}

// WriteProgramme writes one programme entry.
func (w *Writer) WriteProgramme(prog *Programme) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	w.channelsDone = true

	lang := prog.Language
	if lang == "" {
		lang = "en"
	}

	w.printf("  <programme start=\"%s\" stop=\"%s\" channel=\"%s\">\n",
		FormatTime(prog.Start), FormatTime(prog.Stop), escape(prog.Channel))
	w.printf("    <title lang=\"%s\">%s</title>\n", lang, escape(prog.Title))
	if prog.SubTitle != "" {
		w.printf("    <sub-title lang=\"%s\">%s</sub-title>\n", lang, escape(prog.SubTitle))
	}
	if prog.Description != "" {
		w.printf("    <desc lang=\"%s\">%s</desc>\n", lang, escape(prog.Description))
	}
	if prog.Category != "" {
		w.printf("    <category lang=\"%s\">%s</category>\n", lang, escape(prog.Category))
	}
	if prog.Icon != "" {
		w.printf("    <icon src=\"%s\"/>\n", escape(prog.Icon))
	}
	if prog.EpisodeNum != "" {
		w.printf("    <episode-num system=\"onscreen\">%s</episode-num>\n", escape(prog.EpisodeNum))
	}
	if prog.Rating != "" {
		w.printf("    <rating><value>%s</value></rating>\n", escape(prog.Rating))
	}
	if prog.IsNew {
		w.printf("    <new/>\n")
	}
	if prog.IsPremiere {
		w.printf("    <premiere/>\n")
	}
	w.printf("  </programme>\n")
	return w.err
}

// WriteFooter closes the tv element.
func (w *Writer) WriteFooter() error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	w.printf("</tv>\n")
	return w.err
}

// FormatTime renders a timestamp in XMLTV form, always UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format("20060102150405 +0000")
}

// escape escapes XML-special characters in text and attribute content.
func escape(s string) string {
	var buf escapeBuf
	_ = xml.EscapeText(&buf, []byte(s))
	return string(buf)
}

type escapeBuf []byte

func (b *escapeBuf) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
