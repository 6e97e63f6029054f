// Package xmltv provides streaming XMLTV writing and parsing for
// electronic program guide data.
package xmltv

import (
	"bufio"
	"compress/gzip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
	"golang.org/x/net/html/charset"
)

// Channel is a channel definition in an XMLTV document.
type Channel struct {
	ID          string
	DisplayName string
	Icon        string
	URL         string
}

// Programme is a single guide entry.
type Programme struct {
	Start       time.Time
	Stop        time.Time
	Channel     string
	Title       string
	SubTitle    string
	Description string
	Category    string
	Icon        string
	EpisodeNum  string
	Rating      string
	Language    string
	IsNew       bool
	IsPremiere  bool
}

// Parser streams an XMLTV document, invoking the callbacks per element so
// large guides never live in memory whole. Non-UTF-8 documents are decoded
// through their declared encoding.
type Parser struct {
	// OnChannel is called for each channel definition.
	OnChannel func(channel *Channel) error

	// OnProgramme is called for each programme.
	OnProgramme func(programme *Programme) error

	// OnError is called for recoverable per-element errors; parsing
	// continues.
	OnError func(err error)
}

// xmlChannel mirrors the channel element for decoding.
type xmlChannel struct {
	ID           string   `xml:"id,attr"`
	DisplayNames []string `xml:"display-name"`
	Icon         struct {
		Src string `xml:"src,attr"`
	} `xml:"icon"`
	URL string `xml:"url"`
}

// xmlProgramme mirrors the programme element for decoding.
type xmlProgramme struct {
	Start    string `xml:"start,attr"`
	Stop     string `xml:"stop,attr"`
	Channel  string `xml:"channel,attr"`
	Titles   []langValue `xml:"title"`
	SubTitle langValue   `xml:"sub-title"`
	Desc     langValue `xml:"desc"`
	Category langValue `xml:"category"`
	Icon     struct {
		Src string `xml:"src,attr"`
	} `xml:"icon"`
	EpisodeNum string `xml:"episode-num"`
	Rating     struct {
		Value string `xml:"value"`
	} `xml:"rating"`
	Language string    `xml:"language"`
	New      *struct{} `xml:"new"`
	Premiere *struct{} `xml:"premiere"`
}

type langValue struct {
	Lang  string `xml:"lang,attr"`
	Value string `xml:",chardata"`
}

// Parse consumes an uncompressed XMLTV document.
func (p *Parser) Parse(r io.Reader) error {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = charset.NewReaderLabel

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading XML token: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "channel":
			if p.OnChannel == nil {
				_ = dec.Skip()
				continue
			}
			var raw xmlChannel
			if err := dec.DecodeElement(&raw, &start); err != nil {
				p.recover(fmt.Errorf("decoding channel: %w", err))
				continue
			}
			if err := p.OnChannel(raw.toChannel()); err != nil {
				return fmt.Errorf("channel callback: %w", err)
			}

		case "programme":
			if p.OnProgramme == nil {
				_ = dec.Skip()
				continue
			}
			var raw xmlProgramme
			if err := dec.DecodeElement(&raw, &start); err != nil {
				p.recover(fmt.Errorf("decoding programme: %w", err))
				continue
			}
			prog, err := raw.toProgramme()
			if err != nil {
				p.recover(err)
				continue
			}
			if err := p.OnProgramme(prog); err != nil {
				return fmt.Errorf("programme callback: %w", err)
			}
		}
	}
}

// ParseCompressed parses an XMLTV document that may be gzip, bzip2, or xz
// compressed, sniffing magic bytes.
func (p *Parser) ParseCompressed(r io.Reader) error {
	plain, err := decompress(r)
	if err != nil {
		return err
	}
	return p.Parse(plain)
}

// ParseAll collects every programme into memory. Use Parse with callbacks
// for large documents.
func ParseAll(r io.Reader) ([]*Programme, error) {
	var out []*Programme
	p := &Parser{OnProgramme: func(prog *Programme) error {
		out = append(out, prog)
		return nil
	}}
	if err := p.Parse(r); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Parser) recover(err error) {
	if p.OnError != nil {
		p.OnError(err)
	}
}

func (c *xmlChannel) toChannel() *Channel {
	ch := &Channel{
		ID:   c.ID,
		Icon: c.Icon.Src,
		URL:  strings.TrimSpace(c.URL),
	}
	if len(c.DisplayNames) > 0 {
		ch.DisplayName = strings.TrimSpace(c.DisplayNames[0])
	}
	return ch
}

func (x *xmlProgramme) toProgramme() (*Programme, error) {
	start, err := ParseTime(x.Start)
	if err != nil {
		return nil, fmt.Errorf("programme start: %w", err)
	}
	// Stop is optional in the wild; a zero Stop is the consumer's problem.
	stop, _ := ParseTime(x.Stop)

	prog := &Programme{
		Start:       start,
		Stop:        stop,
		Channel:     x.Channel,
		SubTitle:    strings.TrimSpace(x.SubTitle.Value),
		Description: strings.TrimSpace(x.Desc.Value),
		Category:    strings.TrimSpace(x.Category.Value),
		Icon:        x.Icon.Src,
		EpisodeNum:  strings.TrimSpace(x.EpisodeNum),
		Rating:      strings.TrimSpace(x.Rating.Value),
		Language:    strings.TrimSpace(x.Language),
		IsNew:       x.New != nil,
		IsPremiere:  x.Premiere != nil,
	}
	if len(x.Titles) > 0 {
		prog.Title = strings.TrimSpace(x.Titles[0].Value)
		if prog.Language == "" {
			prog.Language = x.Titles[0].Lang
		}
	}
	return prog, nil
}

// xmltvTimeFormats are tried in order; guides in the wild drop the offset
// or the seconds.
var xmltvTimeFormats = []string{
	"20060102150405 -0700",
	"20060102150405",
	"200601021504 -0700",
	"200601021504",
}

// ParseTime parses an XMLTV timestamp such as "20240101120000 +0000".
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}
	for _, layout := range xmltvTimeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable XMLTV time %q", s)
}

// decompress wraps r so compressed payloads read as plain text, sniffing
// gzip, bzip2, and xz magic bytes.
func decompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("peeking payload header: %w", err)
	}

	switch {
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening gzip payload: %w", err)
		}
		return gz, nil
	case len(magic) >= 3 && magic[0] == 'B' && magic[1] == 'Z' && magic[2] == 'h':
		bz, err := bzip2.NewReader(br, nil)
		if err != nil {
			return nil, fmt.Errorf("opening bzip2 payload: %w", err)
		}
		return bz, nil
	case len(magic) >= 6 && magic[0] == 0xfd && string(magic[1:6]) == "7zXZ\x00":
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening xz payload: %w", err)
		}
		return xzr, nil
	}
	return br, nil
}
