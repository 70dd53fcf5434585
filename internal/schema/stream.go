// Package schema holds the gateway's JSON-schema tooling: output/input
// validation, schema sanitisation, a tolerant whole-document parser for
// model output, and an incremental streaming parser that surfaces leaf
// values of a partial JSON object as they complete.
package schema

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// StreamUpdate is one completed leaf (or closed container) of the object
// being streamed: a dotted keypath ("a", "b.0", "items.2.name") and the
// decoded value. Containers emit once closed, after all their leaves.
type StreamUpdate struct {
	Keypath string
	Value   any
}

// JSONStreamParser incrementally parses a possibly-malformed JSON object
// arriving as raw string chunks. Feed returns the updates completed by
// that chunk, in the order their leaves finished. The parser never
// buffers the whole message; state is a container stack plus the
// in-progress scalar.
//
// Tolerance rules: unexpected characters outside strings are skipped; a
// closing quote followed by something other than a terminator is treated
// as if the quote were escaped; invalid escape sequences are preserved
// verbatim.
type JSONStreamParser struct {
	stack []*container

	state    parseState
	scalar   strings.Builder // in-progress string/number/literal
	pendingKey string
	haveKey    bool

	// string-state bookkeeping
	inEscape   bool
	unicodeBuf strings.Builder // hex digits of a \uXXXX in progress
	inUnicode  bool
	highSurrogate rune
	haveHighSurrogate bool
	maybeClosed bool            // saw a closing quote, awaiting terminator confirmation
	pendingWS   strings.Builder // whitespace seen while maybeClosed

	root    any
	haveRoot bool
}

type parseState int

const (
	stateValue parseState = iota // expecting a value
	stateKey                     // inside an object, expecting a key
	stateInString
	stateInKeyString
	stateInScalar // number / true / false / null
	statePostValue
	stateDone
)

type container struct {
	isArray bool
	key     string // keypath segment of this container within its parent
	obj     map[string]any
	arr     []any
	index   int // next array index
}

// NewJSONStreamParser returns a parser ready to consume the first chunk.
func NewJSONStreamParser() *JSONStreamParser {
	return &JSONStreamParser{}
}

// Feed consumes one raw chunk and returns the updates it completed.
func (p *JSONStreamParser) Feed(chunk string) []StreamUpdate {
	var updates []StreamUpdate
	for _, r := range chunk {
		updates = append(updates, p.feedRune(r)...)
	}
	return updates
}

// Finish flushes any dangling scalar (e.g. a number with no terminator
// because the stream ended) and returns the final updates. The parser is
// unusable afterwards.
func (p *JSONStreamParser) Finish() []StreamUpdate {
	var updates []StreamUpdate
	switch p.state {
	case stateInScalar:
		updates = append(updates, p.completeScalar()...)
	case stateInString:
		if p.maybeClosed {
			// The stream ended right after the close quote.
			p.maybeClosed = false
			updates = append(updates, p.completeString()...)
			break
		}
		// Unterminated string: surface what arrived.
		updates = append(updates, p.storeValue(p.scalar.String())...)
	}
	return updates
}

// Value returns the (possibly partial) decoded object so far, including
// any string leaf still mid-stream (so "{\"a\":\"he" surfaces as
// {"a": "he"}).
func (p *JSONStreamParser) Value() any {
	if len(p.stack) > 0 {
		if p.state == stateInString && !p.top().isArray && p.haveKey {
			p.top().obj[p.pendingKey] = p.scalar.String()
		}
		return p.stack[0].value()
	}
	if p.haveRoot {
		return p.root
	}
	return nil
}

func (c *container) value() any {
	if c.isArray {
		return c.arr
	}
	return c.obj
}

func (p *JSONStreamParser) feedRune(r rune) []StreamUpdate {
	switch p.state {
	case stateInString, stateInKeyString:
		return p.feedStringRune(r)
	case stateInScalar:
		if isScalarRune(r) {
			p.scalar.WriteRune(r)
			return nil
		}
		updates := p.completeScalar()
		return append(updates, p.feedStructural(r)...)
	default:
		return p.feedStructural(r)
	}
}

func isScalarRune(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '+' || r == '.' || r == 'e' || r == 'E':
		return true
	// letters cover true/false/null (and give malformed literals a chance
	// to terminate on the next structural character)
	case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
		return true
	}
	return false
}

func (p *JSONStreamParser) feedStructural(r rune) []StreamUpdate {
	switch r {
	case '{':
		p.pushContainer(false)
		return nil
	case '[':
		p.pushContainer(true)
		return nil
	case '}':
		return p.closeContainer(false)
	case ']':
		return p.closeContainer(true)
	case '"':
		p.scalar.Reset()
		p.inEscape = false
		p.maybeClosed = false
		if p.expectingKey() {
			p.state = stateInKeyString
		} else {
			p.state = stateInString
		}
		return nil
	case ':':
		// key/value separator; the key was already captured
		return nil
	case ',':
		if len(p.stack) > 0 && !p.top().isArray {
			p.haveKey = false
			p.state = stateKey
		} else {
			p.state = stateValue
		}
		return nil
	case ' ', '\t', '\n', '\r':
		return nil
	default:
		if p.state == stateValue || p.state == stateKey || p.state == statePostValue {
			if isScalarRune(r) && !p.expectingKey() {
				p.scalar.Reset()
				p.scalar.WriteRune(r)
				p.state = stateInScalar
				return nil
			}
		}
		// Tolerant mode: anything unexpected outside a string is skipped.
		return nil
	}
}

func (p *JSONStreamParser) expectingKey() bool {
	return len(p.stack) > 0 && !p.top().isArray && !p.haveKey
}

func (p *JSONStreamParser) feedStringRune(r rune) []StreamUpdate {
	if p.maybeClosed {
		// The previous rune was an unescaped quote. A structural terminator
		// confirms the string ended; whitespace stays ambiguous; anything
		// else means the quote was content, as if it had been escaped.
		switch r {
		case ',', '}', ']', ':':
			p.maybeClosed = false
			p.pendingWS.Reset()
			updates := p.completeString()
			return append(updates, p.feedStructural(r)...)
		case ' ', '\t', '\n', '\r':
			p.pendingWS.WriteRune(r)
			return nil
		default:
			p.maybeClosed = false
			p.scalar.WriteRune('"')
			p.scalar.WriteString(p.pendingWS.String())
			p.pendingWS.Reset()
			p.scalar.WriteRune(r)
			return nil
		}
	}

	if p.inUnicode {
		p.unicodeBuf.WriteRune(r)
		if p.unicodeBuf.Len() == 4 {
			p.inUnicode = false
			hex := p.unicodeBuf.String()
			p.unicodeBuf.Reset()
			code, err := strconv.ParseUint(hex, 16, 32)
			if err != nil {
				// Invalid escape: preserve it verbatim.
				p.scalar.WriteString("\\u" + hex)
				return nil
			}
			cp := rune(code)
			if p.haveHighSurrogate {
				p.haveHighSurrogate = false
				combined := utf16.DecodeRune(p.highSurrogate, cp)
				if combined != 0xFFFD {
					p.scalar.WriteRune(combined)
					return nil
				}
				p.scalar.WriteRune(p.highSurrogate)
				p.scalar.WriteRune(cp)
				return nil
			}
			if utf16.IsSurrogate(cp) {
				p.highSurrogate = cp
				p.haveHighSurrogate = true
				return nil
			}
			p.scalar.WriteRune(cp)
		}
		return nil
	}

	if p.inEscape {
		p.inEscape = false
		if r != 'u' {
			p.flushHighSurrogate()
		}
		switch r {
		case '"':
			p.scalar.WriteRune('"')
		case '\\':
			p.scalar.WriteRune('\\')
		case '/':
			p.scalar.WriteRune('/')
		case 'n':
			p.scalar.WriteRune('\n')
		case 't':
			p.scalar.WriteRune('\t')
		case 'r':
			p.scalar.WriteRune('\r')
		case 'b':
			p.scalar.WriteRune('\b')
		case 'f':
			p.scalar.WriteRune('\f')
		case 'u':
			p.inUnicode = true
			p.unicodeBuf.Reset()
		default:
			// Invalid escape: preserve verbatim.
			p.scalar.WriteRune('\\')
			p.scalar.WriteRune(r)
		}
		return nil
	}

	switch r {
	case '\\':
		p.inEscape = true
		return nil
	case '"':
		p.flushHighSurrogate()
		if p.state == stateInKeyString {
			return p.completeString()
		}
		p.maybeClosed = true
		return nil
	default:
		p.flushHighSurrogate()
		p.scalar.WriteRune(r)
		return nil
	}
}

// flushHighSurrogate emits a dangling high surrogate that was never paired
// with a low surrogate escape.
func (p *JSONStreamParser) flushHighSurrogate() {
	if p.haveHighSurrogate {
		p.haveHighSurrogate = false
		p.scalar.WriteRune(p.highSurrogate)
	}
}

func (p *JSONStreamParser) completeString() []StreamUpdate {
	s := p.scalar.String()
	p.scalar.Reset()
	if p.state == stateInKeyString {
		p.pendingKey = s
		p.haveKey = true
		p.state = stateValue
		return nil
	}
	return p.storeValue(s)
}

func (p *JSONStreamParser) completeScalar() []StreamUpdate {
	raw := p.scalar.String()
	p.scalar.Reset()
	var value any
	switch raw {
	case "true":
		value = true
	case "false":
		value = false
	case "null":
		value = nil
	default:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			value = f
		} else {
			// Malformed literal: keep the raw text rather than dropping it.
			value = raw
		}
	}
	return p.storeValue(value)
}

func (p *JSONStreamParser) pushContainer(isArray bool) {
	c := &container{isArray: isArray}
	if !isArray {
		c.obj = make(map[string]any)
	}
	if len(p.stack) > 0 {
		parent := p.top()
		if parent.isArray {
			c.key = strconv.Itoa(parent.index)
		} else {
			c.key = p.pendingKey
		}
	}
	p.stack = append(p.stack, c)
	if isArray {
		p.state = stateValue
	} else {
		p.haveKey = false
		p.state = stateKey
	}
}

func (p *JSONStreamParser) closeContainer(isArray bool) []StreamUpdate {
	if len(p.stack) == 0 || p.top().isArray != isArray {
		// Stray close: ignore in tolerant mode.
		return nil
	}
	c := p.top()
	p.stack = p.stack[:len(p.stack)-1]

	value := c.value()
	if c.isArray && c.arr == nil {
		value = []any{}
	}

	if len(p.stack) == 0 {
		// Root close: every leaf already emitted its own update, so the
		// root itself stays silent.
		p.root = value
		p.haveRoot = true
		p.state = stateDone
		return nil
	}

	keypath := p.keypathFor(c.key)
	p.attachToParent(c.key, value)
	p.state = statePostValue
	return []StreamUpdate{{Keypath: keypath, Value: value}}
}

// storeValue attaches a completed leaf to the current container and emits
// its update.
func (p *JSONStreamParser) storeValue(value any) []StreamUpdate {
	if len(p.stack) == 0 {
		p.root = value
		p.haveRoot = true
		p.state = stateDone
		return []StreamUpdate{{Keypath: "", Value: value}}
	}

	c := p.top()
	var segment string
	if c.isArray {
		segment = strconv.Itoa(c.index)
	} else {
		segment = p.pendingKey
	}
	keypath := p.keypathFor(segment)
	p.attachToParent(segment, value)
	p.state = statePostValue
	return []StreamUpdate{{Keypath: keypath, Value: value}}
}

func (p *JSONStreamParser) attachToParent(segment string, value any) {
	c := p.top()
	if c.isArray {
		c.arr = append(c.arr, value)
		c.index++
	} else {
		c.obj[segment] = value
		p.haveKey = false
	}
}

// keypathFor joins the open container keys with the final segment into a
// dotted path. The root container itself has no segment.
func (p *JSONStreamParser) keypathFor(segment string) string {
	var parts []string
	for i, c := range p.stack {
		if i == 0 {
			continue // root has no key
		}
		parts = append(parts, c.key)
	}
	if segment != "" || len(parts) == 0 {
		if segment != "" {
			parts = append(parts, segment)
		}
	}
	return strings.Join(parts, ".")
}

func (p *JSONStreamParser) top() *container {
	return p.stack[len(p.stack)-1]
}
