package semantic

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
)

// Expr is a parsed filter expression.
//
// Syntax:
//
//	*                       every document
//	@field:{a | b}          tag field contains a or b (exact match)
//	@field:[min max]        numeric field within the inclusive range; ±inf allowed
//	( x | y )               either side matches
//	x y                     both match
type Expr interface {
	Match(fields map[string]any) bool
}

// MatchAll matches every document.
type MatchAll struct{}

// And matches when every child matches.
type And []Expr

// Or matches when any child matches.
type Or []Expr

// TagMatch matches when the tag field holds any of Values.
type TagMatch struct {
	Field  string
	Values []string
}

// NumericRange matches Min <= field <= Max.
type NumericRange struct {
	Field    string
	Min, Max float64
}

func (MatchAll) Match(map[string]any) bool { return true }

func (a And) Match(fields map[string]any) bool {
	for _, e := range a {
		if !e.Match(fields) {
			return false
		}
	}
	return true
}

func (o Or) Match(fields map[string]any) bool {
	for _, e := range o {
		if e.Match(fields) {
			return true
		}
	}
	return false
}

func (t TagMatch) Match(fields map[string]any) bool {
	have := tagValues(fields[t.Field])
	for _, want := range t.Values {
		for _, h := range have {
			if strings.TrimSpace(h) == want {
				return true
			}
		}
	}
	return false
}

func (r NumericRange) Match(fields map[string]any) bool {
	v, ok := numericValue(fields[r.Field])
	return ok && v >= r.Min && v <= r.Max
}

func tagValues(v any) []string {
	switch tv := v.(type) {
	case string:
		return strings.Split(tv, ",")
	case []string:
		return tv
	case []any:
		out := make([]string, 0, len(tv))
		for _, x := range tv {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// ParseFilter parses a filter expression. Malformed input yields an error
// wrapping domain.ErrQuerySyntax.
func ParseFilter(src string) (Expr, error) {
	if s := strings.TrimSpace(src); s == "" || s == "*" {
		return MatchAll{}, nil
	}
	p := &parser{src: src}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("unexpected %q", p.peek())
	}
	return e, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) eof() bool  { return p.pos >= len(p.src) }
func (p *parser) peek() byte { return p.src[p.pos] }

func (p *parser) skipSpace() {
	for !p.eof() && (p.peek() == ' ' || p.peek() == '\t' || p.peek() == '\n') {
		p.pos++
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d in %q", domain.ErrQuerySyntax, fmt.Sprintf(format, args...), p.pos, p.src)
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.eof() || p.peek() != c {
		return p.errorf("expected %q", c)
	}
	p.pos++
	return nil
}

func (p *parser) parseOr() (Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	alts := Or{first}
	for {
		p.skipSpace()
		if p.eof() || p.peek() != '|' {
			break
		}
		p.pos++
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		alts = append(alts, next)
	}
	if len(alts) == 1 {
		return first, nil
	}
	return alts, nil
}

func (p *parser) parseAnd() (Expr, error) {
	var terms And
	for {
		p.skipSpace()
		if p.eof() || p.peek() == ')' || p.peek() == '|' {
			break
		}
		t, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	switch len(terms) {
	case 0:
		return nil, p.errorf("empty expression")
	case 1:
		return terms[0], nil
	}
	return terms, nil
}

func (p *parser) parseTerm() (Expr, error) {
	switch p.peek() {
	case '*':
		p.pos++
		return MatchAll{}, nil
	case '(':
		p.pos++
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		return e, nil
	case '@':
		p.pos++
		return p.parseField()
	}
	return nil, p.errorf("unexpected %q", p.peek())
}

func (p *parser) parseField() (Expr, error) {
	start := p.pos
	for !p.eof() && isIdent(p.peek()) {
		p.pos++
	}
	field := p.src[start:p.pos]
	if field == "" {
		return nil, p.errorf("missing field name")
	}
	if p.eof() || p.peek() != ':' {
		return nil, p.errorf("expected ':' after @%s", field)
	}
	p.pos++
	if p.eof() {
		return nil, p.errorf("missing value for @%s", field)
	}
	switch p.peek() {
	case '{':
		p.pos++
		return p.parseTags(field)
	case '[':
		p.pos++
		return p.parseRange(field)
	}
	return nil, p.errorf("expected '{' or '[' after @%s:", field)
}

func (p *parser) parseTags(field string) (Expr, error) {
	var values []string
	var cur strings.Builder
	flush := func() error {
		v := strings.TrimSpace(cur.String())
		if v == "" {
			return p.errorf("empty tag in @%s", field)
		}
		values = append(values, v)
		cur.Reset()
		return nil
	}
	for {
		if p.eof() {
			return nil, p.errorf("unterminated tag set for @%s", field)
		}
		c := p.peek()
		p.pos++
		switch c {
		case '\\':
			if p.eof() {
				return nil, p.errorf("dangling escape")
			}
			cur.WriteByte(p.peek())
			p.pos++
		case '|':
			if err := flush(); err != nil {
				return nil, err
			}
		case '}':
			if err := flush(); err != nil {
				return nil, err
			}
			return TagMatch{Field: field, Values: values}, nil
		default:
			cur.WriteByte(c)
		}
	}
}

func (p *parser) parseRange(field string) (Expr, error) {
	end := strings.IndexByte(p.src[p.pos:], ']')
	if end < 0 {
		return nil, p.errorf("unterminated range for @%s", field)
	}
	parts := strings.Fields(p.src[p.pos : p.pos+end])
	if len(parts) != 2 {
		return nil, p.errorf("range for @%s needs two bounds", field)
	}
	lo, err1 := strconv.ParseFloat(parts[0], 64)
	hi, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return nil, p.errorf("bad numeric bound in @%s", field)
	}
	p.pos += end + 1
	return NumericRange{Field: field, Min: lo, Max: hi}, nil
}

func isIdent(c byte) bool {
	return c == '_' || c == '.' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// EscapeTag escapes characters that would end or split a tag value.
func EscapeTag(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `|`, `\|`, `}`, `\}`, `{`, `\{`)
	return r.Replace(v)
}
