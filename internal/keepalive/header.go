package keepalive

import "strings"

// Param is a name/value pair attached to an element after a ';'.
type Param struct {
	Name     string
	Value    string
	HasValue bool
}

// Element is one comma-separated entry of a header value, e.g. "timeout=5".
type Element struct {
	Name     string
	Value    string
	HasValue bool
	Params   []Param
}

// ParseElements parses header values into elements in transmission order.
// Values are split on ',' into elements and on ';' into parameters; quoted
// strings may contain either separator. Malformed input never fails, it just
// yields whatever elements could be recognised.
func ParseElements(values ...string) []Element {
	var out []Element
	for _, v := range values {
		p := parser{s: v}
		for !p.done() {
			if el, ok := p.element(); ok {
				out = append(out, el)
			}
		}
	}
	return out
}

type parser struct {
	s   string
	pos int
}

func (p *parser) done() bool { return p.pos >= len(p.s) }

// element reads one element and consumes its trailing ','.
func (p *parser) element() (Element, bool) {
	name, value, hasValue, term := p.pair()
	el := Element{Name: name, Value: value, HasValue: hasValue}
	for term == ';' {
		var pr Param
		pr.Name, pr.Value, pr.HasValue, term = p.pair()
		if pr.Name != "" {
			el.Params = append(el.Params, pr)
		}
	}
	// Empty elements ("a,,b" or a trailing comma) are skipped.
	if el.Name == "" {
		return el, false
	}
	return el, true
}

// pair reads "name[=value]" up to and including the next ',' or ';'.
// term is the delimiter consumed, or 0 at end of input.
func (p *parser) pair() (name, value string, hasValue bool, term byte) {
	name, term = p.token("=,;")
	if term != '=' {
		return name, "", false, term
	}
	value, term = p.value()
	return name, value, true, term
}

// token reads until one of delims and returns the trimmed text and the
// delimiter hit (consumed), or 0 at end of input.
func (p *parser) token(delims string) (string, byte) {
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if strings.IndexByte(delims, c) >= 0 {
			tok := strings.TrimSpace(p.s[start:p.pos])
			p.pos++
			return tok, c
		}
		p.pos++
	}
	return strings.TrimSpace(p.s[start:]), 0
}

// value reads a plain or quoted value up to the next ',' or ';'.
func (p *parser) value() (string, byte) {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
	if p.pos >= len(p.s) || p.s[p.pos] != '"' {
		return p.token(",;")
	}

	p.pos++ // opening quote
	var b strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		p.pos++
		if c == '\\' && p.pos < len(p.s) {
			b.WriteByte(p.s[p.pos])
			p.pos++
			continue
		}
		if c == '"' {
			break
		}
		b.WriteByte(c)
	}
	// Anything between the closing quote and the delimiter is dropped.
	_, term := p.token(",;")
	return b.String(), term
}
