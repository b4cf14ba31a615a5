// Package jsd parses a textual series definition (JSD) into a fully
// populated series types.Template.
//
// Parsing is two-phase per the DESIGN NOTES: Phase 1 (this file plus
// keyword.go/segment.go/link.go) collects the *declared* keywords,
// segments and links exactly as written. Phase 2 (synth.go) validates each
// declared slotted keyword and synthesizes its companion index keyword,
// then synthesizes per-segment keyword expansion and FITS/TAS compression
// parameter keywords. Any parse error aborts the whole parse; nothing
// partially built is handed back to the caller.
package jsd

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/suncumby/drms/pkg/types"
)

// rawKeyword/rawLink/rawSegment are the Phase 1 declarations, before
// synth.go expands them.
type rawKeyword struct {
	lineno int
	fields []string
}

type rawLink struct {
	lineno int
	fields []string
}

type rawSegment struct {
	lineno int
	fields []string
}

type parseState struct {
	info     types.SeriesInfo
	rawKws   []rawKeyword
	rawLinks []rawLink
	rawSegs  []rawSegment

	explicitPrime []string
	explicitIndex []string // "Index:" is an accepted synonym for PrimeKeys
	dbIndex       []string
}

// Parse translates a JSD document into a fully-populated series template.
func Parse(doc string) (*types.Template, error) {
	st := &parseState{}
	if err := st.scan(doc); err != nil {
		return nil, fmt.Errorf("jsd: %w", err)
	}

	tmpl := &types.Template{
		Info:     st.info,
		Keywords: map[string]*types.Keyword{},
		Links:    map[string]*types.Link{},
		Segments: map[string]*types.Segment{},
	}

	if err := st.buildSegments(tmpl); err != nil {
		return nil, fmt.Errorf("jsd: %w", err)
	}
	if err := st.buildLinks(tmpl); err != nil {
		return nil, fmt.Errorf("jsd: %w", err)
	}
	if err := st.buildKeywords(tmpl); err != nil {
		return nil, fmt.Errorf("jsd: %w", err)
	}
	if err := st.synthesize(tmpl); err != nil {
		return nil, fmt.Errorf("jsd: %w", err)
	}
	if err := st.promotePrimeKeys(tmpl); err != nil {
		return nil, fmt.Errorf("jsd: %w", err)
	}

	return tmpl, nil
}

// scan performs the line-oriented tokenization: classify each
// non-comment, non-blank line as a header field or a Link:/Keyword:/Data:
// declaration.
func (st *parseState) scan(doc string) error {
	sc := bufio.NewScanner(strings.NewReader(doc))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		key, val, ok := splitHeader(trimmed)
		if !ok {
			return fmt.Errorf("line %d: expected \"Key: value\", got %q", lineno, trimmed)
		}

		switch strings.ToLower(key) {
		case "link":
			st.rawLinks = append(st.rawLinks, rawLink{lineno, splitFields(val)})
		case "keyword":
			st.rawKws = append(st.rawKws, rawKeyword{lineno, splitFields(val)})
		case "data":
			st.rawSegs = append(st.rawSegs, rawSegment{lineno, splitFields(val)})
		default:
			if err := st.header(lineno, key, val); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if st.info.Name == "" {
		return fmt.Errorf("missing required Seriesname header")
	}
	return nil
}

func (st *parseState) header(lineno int, key, val string) error {
	switch strings.ToLower(key) {
	case "seriesname":
		st.info.Name = unquoteIdent(val)
		parts := strings.SplitN(st.info.Name, ".", 2)
		if len(parts) == 2 {
			st.info.Namespace = parts[0]
		}
	case "description":
		st.info.Description = unquoteIdent(val)
	case "author":
		st.info.Author = unquoteIdent(val)
	case "owner":
		st.info.Owner = unquoteIdent(val)
	case "unitsize":
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("line %d: bad Unitsize %q: %w", lineno, val, err)
		}
		st.info.UnitSize = n
	case "archive":
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("line %d: bad Archive %q: %w", lineno, val, err)
		}
		if n < -1 || n > 1 {
			n = 0 // warning: clamp out-of-range archive flag
		}
		st.info.Archive = types.ArchiveFlag(n)
	case "retention":
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("line %d: bad Retention %q: %w", lineno, val, err)
		}
		st.info.Retention = n
	case "tapegroup":
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("line %d: bad Tapegroup %q: %w", lineno, val, err)
		}
		st.info.TapeGroup = n
	case "version":
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return fmt.Errorf("line %d: bad Version %q: %w", lineno, val, err)
		}
		st.info.JSDVersion = f
	case "primekeys", "index":
		for _, f := range splitFields(val) {
			st.explicitPrime = append(st.explicitPrime, unquoteIdent(f))
		}
	case "dbindex":
		for _, f := range splitFields(val) {
			st.dbIndex = append(st.dbIndex, unquoteIdent(f))
		}
	default:
		return fmt.Errorf("line %d: unknown header key %q", lineno, key)
	}
	return nil
}
