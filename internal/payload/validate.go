// Package payload checks that inbound bodies are well-formed JSON before
// anything is transcoded or published.
package payload

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// MaxDepth is the deepest nesting of objects and arrays a payload may use.
const MaxDepth = 1000

var (
	ErrEmpty   = errors.New("payload is empty")
	ErrInvalid = errors.New("payload is not valid JSON")

	ErrTooDeep     = fmt.Errorf("%w: nesting deeper than %d levels", ErrInvalid, MaxDepth)
	ErrInvalidUTF8 = fmt.Errorf("%w: invalid UTF-8", ErrInvalid)
)

// DuplicateKeyError reports an object that names the same field twice.
type DuplicateKeyError struct {
	Key  string
	Path string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate field '%s' at %s", e.Key, e.Path)
}

// Validate parses raw strictly. Besides plain syntax it rejects invalid UTF-8,
// nesting deeper than MaxDepth, and duplicate keys within the same object,
// which lenient decoders silently collapse. Every check is one pass over raw.
func Validate(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ErrEmpty
	}
	// depth first: the syntax check recurses once per level
	if depth(raw) > MaxDepth {
		return ErrTooDeep
	}
	if !gjson.ValidBytes(raw) {
		return ErrInvalid
	}
	if !utf8.Valid(raw) {
		return ErrInvalidUTF8
	}
	return checkKeys(raw)
}

// skipString returns the index just past the string opening at raw[i].
func skipString(raw []byte, i int) int {
	for j := i + 1; j < len(raw); j++ {
		switch raw[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return len(raw)
}

func depth(raw []byte) int {
	cur, deepest := 0, 0
	for i := 0; i < len(raw); {
		switch raw[i] {
		case '"':
			i = skipString(raw, i)
			continue
		case '{', '[':
			cur++
			if cur > deepest {
				deepest = cur
			}
		case '}', ']':
			cur--
		}
		i++
	}
	return deepest
}

type frame struct {
	object  bool
	seen    map[string]struct{}
	key     string // current key, objects only
	index   int    // current element, arrays only
	wantKey bool
}

// checkKeys walks syntactically valid JSON once, tracking open containers on
// a stack so that each byte is visited a single time.
func checkKeys(raw []byte) error {
	var stack []*frame

	for i := 0; i < len(raw); {
		switch raw[i] {
		case '{':
			stack = append(stack, &frame{object: true, seen: make(map[string]struct{}), wantKey: true})
		case '[':
			stack = append(stack, &frame{})
		case '}', ']':
			stack = stack[:len(stack)-1]
		case ',':
			if top := stack[len(stack)-1]; top.object {
				top.wantKey = true
			} else {
				top.index++
			}
		case '"':
			end := skipString(raw, i)
			if n := len(stack); n > 0 && stack[n-1].object && stack[n-1].wantKey {
				top := stack[n-1]
				name := gjson.ParseBytes(raw[i:end]).String()
				if _, dup := top.seen[name]; dup {
					return &DuplicateKeyError{Key: name, Path: pathOf(stack[:n-1])}
				}
				top.seen[name] = struct{}{}
				top.key = name
				top.wantKey = false
			}
			i = end
			continue
		}
		i++
	}
	return nil
}

// pathOf renders the location of the container opened inside parents.
func pathOf(parents []*frame) string {
	var b strings.Builder
	b.WriteString("$")
	for _, f := range parents {
		if f.object {
			b.WriteString(".")
			b.WriteString(f.key)
		} else {
			b.WriteString("[")
			b.WriteString(strconv.Itoa(f.index))
			b.WriteString("]")
		}
	}
	return b.String()
}
