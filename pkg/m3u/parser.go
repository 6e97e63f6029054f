// Package m3u provides streaming parsing and writing of extended M3U
// playlists with EXTINF tvg metadata.
package m3u

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Entry is one playlist item: an EXTINF line plus its URL.
type Entry struct {
	// Duration is the runtime in seconds, -1 for live streams.
	Duration int

	// TvgID ties the entry to an EPG channel id.
	TvgID string

	// TvgName is the tvg-name attribute.
	TvgName string

	// TvgLogo is the logo URL.
	TvgLogo string

	// GroupTitle is the group-title category.
	GroupTitle string

	// ChannelNumber is the tvg-chno attribute.
	ChannelNumber string

	// Title is the display title after the EXTINF comma.
	Title string

	// URL is the stream URL.
	URL string

	// Extra holds attributes not parsed into named fields.
	Extra map[string]string
}

// Parser streams a playlist, calling OnEntry per item.
type Parser struct {
	// OnEntry is called for each parsed entry. Required.
	OnEntry func(entry *Entry) error

	// OnError is called for recoverable per-line errors; parsing
	// continues.
	OnError func(line int, err error)
}

var (
	extinfRe = regexp.MustCompile(`^#EXTINF:\s*(-?\d+(?:\.\d+)?)\s*(.*)$`)
	attrRe   = regexp.MustCompile(`([a-zA-Z0-9_-]+)=(?:"([^"]*)"|([^\s,]+))`)
)

// maxLineSize accommodates tokenized stream URLs that run to hundreds of
// kilobytes.
const maxLineSize = 1 << 20

// Parse consumes an uncompressed playlist. UTF-16 input with a BOM is
// transparently decoded.
func (p *Parser) Parse(r io.Reader) error {
	if p.OnEntry == nil {
		return fmt.Errorf("OnEntry callback is required")
	}

	utf8 := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	scanner := bufio.NewScanner(utf8)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var pending *Entry
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())

		switch {
		case text == "" || strings.HasPrefix(text, "#EXTM3U"):
			continue
		case strings.HasPrefix(text, "#EXTINF:"):
			entry, err := parseExtinf(text)
			if err != nil {
				p.recover(line, err)
				pending = nil
				continue
			}
			pending = entry
		case strings.HasPrefix(text, "#"):
			// Other directives (EXTVLCOPT, EXTGRP, ...) are skipped.
			continue
		default:
			if pending == nil {
				p.recover(line, fmt.Errorf("URL without preceding EXTINF: %s", text))
				continue
			}
			pending.URL = text
			if err := p.OnEntry(pending); err != nil {
				return fmt.Errorf("entry callback at line %d: %w", line, err)
			}
			pending = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning playlist: %w", err)
	}
	return nil
}

// ParseCompressed parses a playlist that may be gzip, bzip2, or xz
// compressed, sniffing magic bytes.
func (p *Parser) ParseCompressed(r io.Reader) error {
	br := bufio.NewReader(r)
	magic, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return fmt.Errorf("peeking playlist header: %w", err)
	}

	var plain io.Reader = br
	switch {
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("opening gzip playlist: %w", err)
		}
		defer gz.Close()
		plain = gz
	case len(magic) >= 3 && magic[0] == 'B' && magic[1] == 'Z' && magic[2] == 'h':
		bz, err := bzip2.NewReader(br, nil)
		if err != nil {
			return fmt.Errorf("opening bzip2 playlist: %w", err)
		}
		plain = bz
	case len(magic) >= 6 && magic[0] == 0xfd && string(magic[1:6]) == "7zXZ\x00":
		xzr, err := xz.NewReader(br)
		if err != nil {
			return fmt.Errorf("opening xz playlist: %w", err)
		}
		plain = xzr
	}
	return p.Parse(plain)
}

func (p *Parser) recover(line int, err error) {
	if p.OnError != nil {
		p.OnError(line, err)
	}
}

// parseExtinf splits an EXTINF line into duration, attributes, and title.
func parseExtinf(text string) (*Entry, error) {
	m := extinfRe.FindStringSubmatch(text)
	if m == nil {
		return nil, fmt.Errorf("malformed EXTINF line")
	}

	dur, _ := strconv.ParseFloat(m[1], 64)
	entry := &Entry{Duration: int(dur)}
	rest := m[2]

	// The title follows the last comma outside quotes.
	if idx := titleComma(rest); idx >= 0 {
		entry.Title = strings.TrimSpace(rest[idx+1:])
		rest = rest[:idx]
	}

	for _, am := range attrRe.FindAllStringSubmatch(rest, -1) {
		value := am[2]
		if value == "" {
			value = am[3]
		}
		switch strings.ToLower(am[1]) {
		case "tvg-id":
			entry.TvgID = value
		case "tvg-name":
			entry.TvgName = value
		case "tvg-logo":
			entry.TvgLogo = value
		case "group-title":
			entry.GroupTitle = value
		case "tvg-chno":
			entry.ChannelNumber = value
		default:
			if entry.Extra == nil {
				entry.Extra = make(map[string]string)
			}
			entry.Extra[strings.ToLower(am[1])] = value
		}
	}
	return entry, nil
}

// titleComma finds the comma separating attributes from the title,
// ignoring commas inside quoted attribute values.
func titleComma(s string) int {
	inQuotes := false
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				return i
			}
		}
	}
	return -1
}
