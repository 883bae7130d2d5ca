// Package locate maps structured violation keys to best-effort character
// ranges in raw document text. The evaluation service reports violations
// against abstract spec elements, not source offsets, and documents may be
// hand-formatted YAML or compact JSON, so location is layered pattern
// search bounded by section markers rather than a position-tracking parse.
// Ranges degrade to the document's first line when nothing better is found.
package locate

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/wudi/speclint/internal/diag"
)

var (
	yamlPathsMarker = regexp.MustCompile(`(?m)^['"]?paths['"]?[ \t]*:`)
	jsonPathsMarker = regexp.MustCompile(`['"]paths['"][ \t]*:`)
	nextTopKey      = regexp.MustCompile(`(?m)^[^\s#][^\n]*:`)
	pathKey         = regexp.MustCompile(`(?m)['"]?(/[^\s"':]*)['"]?[ \t]*:`)
	infoHeader      = regexp.MustCompile(`(?m)^['"]?(info)['"]?[ \t]*:`)
	infoAnywhere    = regexp.MustCompile(`['"](info)['"][ \t]*:`)
	propertyRef     = regexp.MustCompile(`property ['"]([^'"]+)['"]`)
)

// Resolver locates text ranges for violation keys.
type Resolver struct{}

// New creates a range resolver.
func New() *Resolver {
	return &Resolver{}
}

// Resolve returns the best-effort range for key in text. It never fails:
// when no strategy finds a location it returns DefaultRange(text).
// Strategy order per key kind is fixed; reordering would change which
// occurrence wins for ambiguous documents.
func (r *Resolver) Resolve(key diag.ViolationKey, text, message string) diag.Range {
	if start, end, ok := r.locate(key, text, message); ok {
		return rangeAt(text, start, end)
	}
	return DefaultRange(text)
}

func (r *Resolver) locate(key diag.ViolationKey, text, message string) (int, int, bool) {
	switch key.Kind {
	case diag.KindOperationID:
		if s, e, ok := findOperationID(text, key.OperationID); ok {
			return s, e, ok
		}
		return r.locatePath(text, key.Path, message)

	case diag.KindPath:
		return r.locatePath(text, key.Path, message)

	case diag.KindSchemaPath:
		return locateSchema(text, key.SchemaPath, message)

	case diag.KindHTTPCode:
		if s, e, ok := findHTTPCode(text, key.HTTPCode); ok {
			return s, e, ok
		}
		// Fall back to the violation's associated operation, then path.
		if s, e, ok := findOperationID(text, key.OperationID); ok {
			return s, e, ok
		}
		return r.locatePath(text, key.Path, message)

	case diag.KindTag:
		return locateTag(text, key.Tag)

	case diag.KindInfo:
		return locateInfo(text)

	default:
		// system violations are document-wide, not locatable
		return 0, 0, false
	}
}

// findOperationID searches for the identifier as an operationId mapping
// value, quoted or not, YAML or JSON spelling. Matches are taken in
// document order; partial identifier hits are rejected by boundary checks.
func findOperationID(text, id string) (int, int, bool) {
	if id == "" {
		return 0, 0, false
	}
	re := regexp.MustCompile(`['"]?operationId['"]?[ \t]*:[ \t]*['"]?` + regexp.QuoteMeta(id) + `['"]?`)
	for _, m := range re.FindAllStringIndex(text, -1) {
		if boundedMatch(text, m[0], m[1]) {
			return m[0], m[1], true
		}
	}
	return 0, 0, false
}

// locatePath finds a path template inside the top-level paths section.
// Search never leaves the section, so schema names equal to a path
// segment can't produce false hits. Order: exact key (2-space indent,
// 4-space indent, quoted), non-parameter segment fallback, then the
// message keyword heuristic.
func (r *Resolver) locatePath(text, path, message string) (int, int, bool) {
	ws, we, ok := pathsWindow(text)
	if !ok {
		return 0, 0, false
	}
	window := text[ws:we]

	if path != "" {
		for _, indent := range []string{"\n  ", "\n    "} {
			if i := strings.Index(window, indent+path+":"); i >= 0 {
				s := ws + i + len(indent)
				return s, s + len(path), true
			}
		}
		quoted := regexp.MustCompile(`['"](` + regexp.QuoteMeta(path) + `)['"][ \t]*:`)
		if m := quoted.FindStringSubmatchIndex(window); m != nil {
			return ws + m[2], ws + m[3], true
		}
		if s, e, ok := findSegment(window, path); ok {
			return ws + s, ws + e, true
		}
	}

	if test := namingTest(message); test != nil {
		for _, m := range pathKey.FindAllStringSubmatchIndex(window, -1) {
			if test(window[m[2]:m[3]]) {
				return ws + m[2], ws + m[3], true
			}
		}
	}

	return 0, 0, false
}

// pathsWindow returns the offsets of the document region belonging to the
// top-level paths section: from the marker to the next top-level key, or
// to the end of the document when none follows (compact JSON has no
// textual top-level boundaries).
func pathsWindow(text string) (int, int, bool) {
	if m := yamlPathsMarker.FindStringIndex(text); m != nil {
		start := m[1]
		end := len(text)
		// Bound at the next top-level key, scanning from the next line so
		// same-line content can't terminate the window immediately.
		scan := start
		if nl := strings.IndexByte(text[start:], '\n'); nl >= 0 {
			scan = start + nl
		}
		if n := nextTopKey.FindStringIndex(text[scan:]); n != nil {
			end = scan + n[0]
		}
		return start, end, true
	}
	if m := jsonPathsMarker.FindStringIndex(text); m != nil {
		return m[1], len(text), true
	}
	return 0, 0, false
}

// findSegment decomposes path into its non-parameter segments and returns
// the earliest /segment occurrence in the window. Used when the reported
// template does not appear verbatim, e.g. the document spells a concrete
// value where the key has a parameter or vice versa.
func findSegment(window, path string) (int, int, bool) {
	best, bestLen := -1, 0
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || (strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")) {
			continue
		}
		needle := "/" + seg
		if i := strings.Index(window, needle); i >= 0 && (best < 0 || i < best) {
			best, bestLen = i, len(needle)
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	return best, best + bestLen, true
}

// namingTest maps a naming-convention keyword in the violation message to
// a predicate over path keys, or nil when the message names none.
func namingTest(message string) func(string) bool {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "underscore"):
		return func(s string) bool { return strings.ContainsRune(s, '_') }
	case strings.Contains(m, "hyphen"), strings.Contains(m, "dash"):
		return func(s string) bool { return strings.ContainsRune(s, '-') }
	case strings.Contains(m, "uppercase"), strings.Contains(m, "upper-case"):
		return func(s string) bool { return strings.IndexFunc(s, unicode.IsUpper) >= 0 }
	default:
		return nil
	}
}

// locateSchema resolves a schema pointer to its defining key. When the
// message names a specific property, the search narrows to the span
// between the schema key and its next sibling and returns the property
// key instead.
func locateSchema(text, pointer, message string) (int, int, bool) {
	name := pointer
	if i := strings.LastIndex(pointer, "/"); i >= 0 {
		name = pointer[i+1:]
	}
	if name == "" {
		return 0, 0, false
	}

	q := regexp.QuoteMeta(name)
	lineRe := regexp.MustCompile(`(?m)^([ \t]*)['"]?(` + q + `)['"]?[ \t]*:`)

	var nameStart, nameEnd, windowStart, windowEnd int
	if m := lineRe.FindStringSubmatchIndex(text); m != nil {
		indentLen := m[3] - m[2]
		nameStart, nameEnd = m[4], m[5]
		windowStart = m[1]
		windowEnd = len(text)
		// The window closes at the next key indented at or above the
		// schema's own level.
		sibling := regexp.MustCompile(`(?m)^[ \t]{0,` + strconv.Itoa(indentLen) + `}[^ \t\n]`)
		if sm := sibling.FindStringIndex(text[windowStart:]); sm != nil {
			windowEnd = windowStart + sm[0]
		}
	} else {
		anyRe := regexp.MustCompile(`['"](` + q + `)['"][ \t]*:`)
		m := anyRe.FindStringSubmatchIndex(text)
		if m == nil {
			return 0, 0, false
		}
		nameStart, nameEnd = m[2], m[3]
		windowStart, windowEnd = m[1], len(text)
	}

	if pm := propertyRef.FindStringSubmatch(message); pm != nil {
		if ps, pe, ok := findMappingKey(text[windowStart:windowEnd], pm[1]); ok {
			return windowStart + ps, windowStart + pe, true
		}
	}
	return nameStart, nameEnd, true
}

// findMappingKey locates name used as a mapping key, preferring the
// line-anchored YAML spelling over the quoted JSON one.
func findMappingKey(text, name string) (int, int, bool) {
	q := regexp.QuoteMeta(name)
	lineRe := regexp.MustCompile(`(?m)^[ \t]*['"]?(` + q + `)['"]?[ \t]*:`)
	if m := lineRe.FindStringSubmatchIndex(text); m != nil {
		return m[2], m[3], true
	}
	anyRe := regexp.MustCompile(`['"](` + q + `)['"][ \t]*:`)
	if m := anyRe.FindStringSubmatchIndex(text); m != nil {
		return m[2], m[3], true
	}
	return 0, 0, false
}

// findHTTPCode locates a status code used as a mapping key. Both the
// line-anchored and quoted spellings are considered and the earlier
// occurrence wins.
func findHTTPCode(text, code string) (int, int, bool) {
	if code == "" {
		return 0, 0, false
	}
	q := regexp.QuoteMeta(code)
	lineRe := regexp.MustCompile(`(?m)^[ \t]*['"]?(` + q + `)['"]?[ \t]*:`)
	anyRe := regexp.MustCompile(`['"](` + q + `)['"][ \t]*:`)

	lm := lineRe.FindStringSubmatchIndex(text)
	am := anyRe.FindStringSubmatchIndex(text)
	switch {
	case lm != nil && (am == nil || lm[2] <= am[2]):
		return lm[2], lm[3], true
	case am != nil:
		return am[2], am[3], true
	}
	return 0, 0, false
}

// locateTag finds a tag as a sequence item first, then as a name mapping
// value.
func locateTag(text, tag string) (int, int, bool) {
	if tag == "" {
		return 0, 0, false
	}
	q := regexp.QuoteMeta(tag)
	seqRe := regexp.MustCompile(`(?m)^[ \t]*-[ \t]+['"]?(` + q + `)['"]?[ \t]*$`)
	if m := seqRe.FindStringSubmatchIndex(text); m != nil {
		return m[2], m[3], true
	}
	nameRe := regexp.MustCompile(`['"]?name['"]?[ \t]*:[ \t]*['"]?(` + q + `)['"]?`)
	for _, m := range nameRe.FindAllStringSubmatchIndex(text, -1) {
		if boundedMatch(text, m[2], m[3]) {
			return m[2], m[3], true
		}
	}
	return 0, 0, false
}

func locateInfo(text string) (int, int, bool) {
	if m := infoHeader.FindStringSubmatchIndex(text); m != nil {
		return m[2], m[3], true
	}
	if m := infoAnywhere.FindStringSubmatchIndex(text); m != nil {
		return m[2], m[3], true
	}
	return 0, 0, false
}

// boundedMatch rejects spans whose unquoted edges continue into a larger
// identifier, so "listPets" can't hit inside "listPetsV2".
func boundedMatch(text string, start, end int) bool {
	if start > 0 && text[start] != '"' && text[start] != '\'' && isWordByte(text[start-1]) {
		return false
	}
	if end < len(text) && text[end-1] != '"' && text[end-1] != '\'' && isWordByte(text[end]) {
		return false
	}
	return true
}

func isWordByte(b byte) bool {
	return b == '_' || b == '-' ||
		('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}

// DefaultRange spans the first line of text. Document-wide findings and
// failed locations land here.
func DefaultRange(text string) diag.Range {
	end := strings.IndexByte(text, '\n')
	if end < 0 {
		end = len(text)
	}
	return diag.Range{End: diag.Position{Line: 0, Column: end}}
}

// rangeAt converts byte offsets to 0-based line/column positions with a
// single scan; a newline advances the line and occupies one position in
// the running offset.
func rangeAt(text string, start, end int) diag.Range {
	if start > len(text) {
		start = len(text)
	}
	if end > len(text) {
		end = len(text)
	}

	line, col := 0, 0
	for i := 0; i < start; i++ {
		if text[i] == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}
	startPos := diag.Position{Line: line, Column: col}

	for i := start; i < end; i++ {
		if text[i] == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}
	return diag.Range{Start: startPos, End: diag.Position{Line: line, Column: col}}
}
