// Package llmjson recovers JSON from free-form model output. Completions routinely wrap JSON in
// markdown fences, prefix it with prose, emit invalid escapes or stop mid-array when they hit
// the token limit; Extract handles each of those before giving up.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnparseable is returned when no recovery step yields valid JSON.
var ErrUnparseable = errors.New("unparseable model output")

// Parse extracts JSON from raw and decodes it into target.
func Parse(raw string, target any) error {
	text, err := Extract(raw)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(text), target); err != nil {
		return fmt.Errorf("%w: %w", ErrUnparseable, err)
	}

	return nil
}

// Extract returns the first JSON object or array found in raw, repaired if necessary.
//
// Steps, stopping at the first that yields valid JSON: strip fences, take the balanced
// value, sanitize escapes and control characters, cut back to the last complete element
// and close whatever is still open. When a value starting at one '{' or '[' cannot be
// recovered, the scan resumes at the next one.
func Extract(raw string) (string, error) {
	body := stripFences(raw)

	start := strings.IndexAny(body, "{[")
	if start < 0 {
		return "", fmt.Errorf("%w: no JSON value found", ErrUnparseable)
	}

	for start < len(body) {
		if text, ok := recoverValue(body[start:]); ok {
			return text, nil
		}

		next := strings.IndexAny(body[start+1:], "{[")
		if next < 0 {
			break
		}

		start += next + 1
	}

	return "", fmt.Errorf("%w: recovery failed (%d bytes)", ErrUnparseable, len(raw))
}

// recoverValue runs the repair chain on the value that s starts with.
func recoverValue(s string) (string, bool) {
	candidate, complete := extractBalanced(s)
	if candidate == "" {
		return "", false
	}

	if complete && json.Valid([]byte(candidate)) {
		return candidate, true
	}

	sanitized := sanitize(candidate)
	if complete && json.Valid([]byte(sanitized)) {
		return sanitized, true
	}

	if repaired, found := repairTruncated(sanitized); found && json.Valid([]byte(repaired)) {
		return repaired, true
	}

	return "", false
}

// stripFences returns the contents of the first ``` fence, or s unchanged when there is none.
// An unterminated fence yields everything after the opening line.
func stripFences(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return strings.TrimSpace(s)
	}

	rest := s[start+3:]

	// skip the info string ("json", "JSON", ...)
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		rest = strings.TrimLeft(rest, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	}

	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}

	return strings.TrimSpace(rest)
}

// extractBalanced returns the text from the first '{' or '[' up to its matching closer.
// complete is false when the input ends before the value closes; the returned text then
// runs to the end of s.
func extractBalanced(s string) (text string, complete bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}

	var (
		depth    int
		inString bool
		escaped  bool
	)

	for i := start; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}

			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return s[start:], false
}

// sanitize drops backslashes that do not start a valid JSON escape and escapes raw control
// characters inside strings. Text outside strings is copied unchanged.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if !inString {
			if c == '"' {
				inString = true
			}

			b.WriteByte(c)

			continue
		}

		switch {
		case c == '"':
			inString = false
			b.WriteByte(c)
		case c == '\\':
			if i+1 >= len(s) {
				continue
			}

			next := s[i+1]
			switch {
			case strings.IndexByte(`"\/bfnrt`, next) >= 0:
				b.WriteByte(c)
				b.WriteByte(next)
				i++
			case next == 'u' && isHex4(s[i+2:]):
				b.WriteByte(c)
			default:
				// invalid escape: keep the character, lose the backslash
			}
		case c < 0x20:
			b.WriteString(escapeControl(c))
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}

func isHex4(s string) bool {
	if len(s) < 4 {
		return false
	}

	for i := range 4 {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}

	return true
}

func escapeControl(c byte) string {
	switch c {
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	default:
		return fmt.Sprintf(`\u%04x`, c)
	}
}

// repairTruncated cuts s after the last element that closed inside a still-open container and
// appends the closers that container stack needs. found is false when no element ever closed.
func repairTruncated(s string) (string, bool) {
	var (
		stack    []byte
		inString bool
		escaped  bool
		cut      = -1
		cutStack []byte
	)

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}

			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}

			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[:i+1], true
			}

			cut = i + 1
			cutStack = append(cutStack[:0], stack...)
		}
	}

	if cut < 0 {
		return "", false
	}

	var b strings.Builder

	b.WriteString(s[:cut])

	for i := len(cutStack) - 1; i >= 0; i-- {
		b.WriteByte(cutStack[i])
	}

	return b.String(), true
}
