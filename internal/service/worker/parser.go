package worker

import (
	"regexp"
	"sort"
	"strings"

	"github.com/devcrewhq/crew/internal/core"
)

// FileChange is one (path, content) pair extracted from a completion.
type FileChange struct {
	Path    string
	Content string
}

// Parser extracts file changes from a model completion.
type Parser interface {
	Parse(response string, task *core.Task) ([]FileChange, error)
}

// File path markers the prompts establish. A completion may use heading
// markers between blocks or comment markers on the first line of a block.
var (
	headingMarker = regexp.MustCompile(`(?mi)^##\s*File:\s*(\S+)`)
	htmlMarker    = regexp.MustCompile(`(?i)<!--\s*filepath:\s*([^\s>]+)\s*-->`)
	slashMarker   = regexp.MustCompile(`(?i)//\s*filepath:\s*(\S+)`)
	hashMarker    = regexp.MustCompile(`(?i)#\s*filepath:\s*(\S+)`)

	fencedBlock = regexp.MustCompile("(?s)```[^\\n]*\\n(.*?)```")
)

// ParserFor returns the parser for a specialty. The marker vocabulary
// follows each specialty's file types: html comments for markup and Vue
// files, hash comments for Python and config trees, slash comments for
// TypeScript.
func ParserFor(specialty core.Specialty) Parser {
	switch specialty {
	case core.SpecialtyFrontend:
		return &markerParser{patterns: []*regexp.Regexp{headingMarker, htmlMarker, slashMarker}}
	case core.SpecialtyDocs:
		return &markerParser{patterns: []*regexp.Regexp{headingMarker, htmlMarker, hashMarker}, raw: true}
	case core.SpecialtyBackend, core.SpecialtyIntegration:
		return &markerParser{patterns: []*regexp.Regexp{headingMarker, hashMarker, slashMarker}}
	default: // testing, infra
		return &markerParser{patterns: []*regexp.Regexp{headingMarker, hashMarker}}
	}
}

// markerParser locates file markers and pairs each with its content. In raw
// mode (documentation) the content is the unfenced text between markers; in
// code mode it is the first fenced block after the marker, or the enclosing
// block when the marker sits inside one.
type markerParser struct {
	patterns []*regexp.Regexp
	raw      bool
}

type marker struct {
	path       string
	start, end int
}

type fence struct {
	start, end               int
	contentStart, contentEnd int
}

func (p *markerParser) Parse(response string, task *core.Task) ([]FileChange, error) {
	markers := p.findMarkers(response)
	fences := findFences(response)

	if len(markers) == 0 {
		return p.fallback(response, fences, task)
	}

	changes := make([]FileChange, 0, len(markers))
	for i, m := range markers {
		limit := len(response)
		if i+1 < len(markers) {
			limit = markers[i+1].start
		}
		content, ok := p.contentFor(response, m, limit, fences)
		if !ok {
			continue
		}
		changes = append(changes, FileChange{Path: m.path, Content: content})
	}

	if len(changes) == 0 {
		return nil, core.ErrExecution(core.CodeFileOperationFailed,
			"no file contents found in model response")
	}
	return changes, nil
}

// fallback covers completions without markers: a task creating exactly one
// file is assumed to be answered with that file's content.
func (p *markerParser) fallback(response string, fences []fence, task *core.Task) ([]FileChange, error) {
	if len(task.FilesToCreate) != 1 {
		return nil, core.ErrExecution(core.CodeFileOperationFailed,
			"no file path markers found in model response")
	}
	path := task.FilesToCreate[0]

	if p.raw {
		return []FileChange{{Path: path, Content: stripWrappingFence(response)}}, nil
	}
	if len(fences) == 0 {
		return nil, core.ErrExecution(core.CodeFileOperationFailed,
			"no code block found in model response")
	}
	content := response[fences[0].contentStart:fences[0].contentEnd]
	return []FileChange{{Path: path, Content: strings.TrimSpace(content)}}, nil
}

func (p *markerParser) contentFor(response string, m marker, limit int, fences []fence) (string, bool) {
	// Marker inside a fenced block: the block is the content, minus the
	// marker's own line, cut short by the next marker.
	for _, f := range fences {
		if m.start >= f.contentStart && m.start < f.contentEnd {
			end := f.contentEnd
			if limit < end {
				end = limit
			}
			content := response[f.contentStart:end]
			content = removeLineAt(content, m.start-f.contentStart)
			return strings.TrimSpace(content), true
		}
	}

	if p.raw {
		// Raw text section from the marker to the next one.
		return stripWrappingFence(response[m.end:limit]), true
	}

	// First fenced block after the marker and before the next one.
	for _, f := range fences {
		if f.start >= m.end && f.start < limit {
			return strings.TrimSpace(response[f.contentStart:f.contentEnd]), true
		}
	}
	return "", false
}

func (p *markerParser) findMarkers(response string) []marker {
	var markers []marker
	for _, pattern := range p.patterns {
		for _, idx := range pattern.FindAllStringSubmatchIndex(response, -1) {
			path := strings.Trim(response[idx[2]:idx[3]], "`*")
			if path == "" {
				continue
			}
			markers = append(markers, marker{path: path, start: idx[0], end: idx[1]})
		}
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].start < markers[j].start })

	// Drop overlaps where two patterns matched the same text.
	deduped := markers[:0]
	lastEnd := -1
	for _, m := range markers {
		if m.start < lastEnd {
			continue
		}
		deduped = append(deduped, m)
		lastEnd = m.end
	}
	return deduped
}

func findFences(response string) []fence {
	var fences []fence
	for _, idx := range fencedBlock.FindAllStringSubmatchIndex(response, -1) {
		fences = append(fences, fence{
			start:        idx[0],
			end:          idx[1],
			contentStart: idx[2],
			contentEnd:   idx[3],
		})
	}
	return fences
}

// removeLineAt drops the line containing offset from s.
func removeLineAt(s string, offset int) string {
	if offset < 0 || offset > len(s) {
		return s
	}
	lineStart := strings.LastIndexByte(s[:offset], '\n') + 1
	lineEnd := strings.IndexByte(s[offset:], '\n')
	if lineEnd < 0 {
		return s[:lineStart]
	}
	return s[:lineStart] + s[offset+lineEnd+1:]
}

// stripWrappingFence unwraps content that arrived inside a single markdown
// fence and trims surrounding whitespace.
func stripWrappingFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
