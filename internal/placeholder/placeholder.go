package placeholder

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/osteele/liquid"
)

// Recognized request-body tokens. The backend substitutes them when it
// builds the outgoing request; the console only inserts the literal text.
const (
	Message   = "{{message}}"
	Sender    = "{{sender}}"
	Timestamp = "{{timestamp}}"
	DeviceID  = "{{deviceId}}"
)

// tokenPattern matches template variables like {{variable}}
var tokenPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// All returns every recognized token in display order
func All() []string {
	return []string{Message, Sender, Timestamp, DeviceID}
}

// Description returns a short human-readable description of a token
func Description(token string) string {
	switch token {
	case Message:
		return "Text of the inbound message"
	case Sender:
		return "Identity of the message sender"
	case Timestamp:
		return "Time the message was received"
	case DeviceID:
		return "Device that received the message"
	}
	return ""
}

// IsToken reports whether s is one of the recognized tokens
func IsToken(s string) bool {
	for _, t := range All() {
		if t == s {
			return true
		}
	}
	return false
}

// Insert places token into text at the rune offset cursor and returns the
// new text together with the cursor positioned right after the token.
// Out-of-range cursors are clamped to the text bounds.
func Insert(text string, cursor int, token string) (string, int, error) {
	if !IsToken(token) {
		return text, cursor, fmt.Errorf("unknown placeholder %q", token)
	}

	runes := []rune(text)
	cursor = Clamp(cursor, len(runes))

	var b strings.Builder
	b.Grow(len(text) + len(token))
	b.WriteString(string(runes[:cursor]))
	b.WriteString(token)
	b.WriteString(string(runes[cursor:]))

	return b.String(), cursor + utf8.RuneCountInString(token), nil
}

// Clamp bounds a rune cursor to [0, length]
func Clamp(cursor, length int) int {
	if cursor < 0 {
		return 0
	}
	if cursor > length {
		return length
	}
	return cursor
}

// Used returns the distinct tokens referenced by body, in order of first
// appearance. Unknown tokens are reported separately by Unknown.
func Used(body string) []string {
	return scan(body, true)
}

// Unknown returns distinct {{...}} markers in body that the backend will not substitute
func Unknown(body string) []string {
	return scan(body, false)
}

func scan(body string, known bool) []string {
	seen := make(map[string]bool)
	result := make([]string, 0)
	for _, match := range tokenPattern.FindAllString(body, -1) {
		normalized := "{{" + strings.TrimSpace(match[2:len(match)-2]) + "}}"
		if IsToken(normalized) != known || seen[normalized] {
			continue
		}
		seen[normalized] = true
		result = append(result, normalized)
	}
	return result
}

// Sample holds the example values used for a local preview
type Sample struct {
	Message   string
	Sender    string
	DeviceID  int64
	Timestamp time.Time
}

// Engine renders local previews of request bodies
type Engine struct {
	liquid *liquid.Engine
}

// NewEngine creates a new preview engine
func NewEngine() *Engine {
	return &Engine{
		liquid: liquid.NewEngine(),
	}
}

// Preview substitutes the sample values into body. It approximates what the
// backend will send and is never sent anywhere itself.
func (e *Engine) Preview(body string, sample Sample) (string, error) {
	if body == "" {
		return "", nil
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	values := map[string]string{
		"message":   sample.Message,
		"sender":    sample.Sender,
		"timestamp": sample.Timestamp.Format(time.RFC3339),
		"deviceId":  fmt.Sprintf("%d", sample.DeviceID),
	}

	// Liquid blanks undefined variables, so bodies with unknown markers go
	// through plain substitution to keep those markers visible.
	if len(Unknown(body)) == 0 && !strings.Contains(body, "{%") {
		bindings := make(liquid.Bindings, len(values))
		for k, v := range values {
			bindings[k] = v
		}
		out, err := e.liquid.ParseAndRenderString(body, bindings)
		if err == nil {
			return out, nil
		}
	}

	return tokenPattern.ReplaceAllStringFunc(body, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if v, ok := values[name]; ok {
			return v
		}
		return match
	}), nil
}
