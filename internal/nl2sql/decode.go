package nl2sql

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

const ErrUnparsable = "unparsable response"

// Decoded is the outcome of reading a JSON object out of model output. Err is
// empty on success; on failure Value is {"error": ErrUnparsable}.
type Decoded struct {
	Value map[string]any
	Err   string
}

func (d Decoded) OK() bool {
	return d.Err == ""
}

func (d Decoded) String(key string) string {
	value, ok := d.Value[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func (d Decoded) Strings(key string) []string {
	out := []string{}
	switch value := d.Value[key].(type) {
	case []any:
		for _, item := range value {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		for _, part := range strings.Split(value, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func (d Decoded) Float(key string) float64 {
	value, _ := d.Value[key].(float64)
	return value
}

var fencedBlockPattern = regexp.MustCompile("(?s)```[A-Za-z]*\\s*(.*?)\\s*```")

var quoteReplacer = strings.NewReplacer(
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
	"「", `"`, "」", `"`,
	"『", `"`, "』", `"`,
)

// DecodeObject pulls a JSON object out of free-form model output. It tries a
// fenced block first, then the outermost braces, then the same candidate
// with quotes and fullwidth punctuation normalized.
func DecodeObject(text string) Decoded {
	candidate := text
	if match := fencedBlockPattern.FindStringSubmatch(text); match != nil && strings.Contains(match[1], "{") {
		candidate = match[1]
	}
	candidate = outermostObject(candidate)

	if value, ok := unmarshalObject(candidate); ok {
		return Decoded{Value: value}
	}
	normalized := normalizeJSON(candidate)
	if value, ok := unmarshalObject(normalized); ok {
		return Decoded{Value: value}
	}
	if value, ok := unmarshalObject(singleToDoubleQuotes(normalized)); ok {
		return Decoded{Value: value}
	}
	return Decoded{Value: map[string]any{"error": ErrUnparsable}, Err: ErrUnparsable}
}

func outermostObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return strings.TrimSpace(text)
	}
	return text[start : end+1]
}

func unmarshalObject(text string) (map[string]any, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	var value map[string]any
	if err := json.Unmarshal([]byte(text), &value); err != nil || value == nil {
		return nil, false
	}
	return value, true
}

func normalizeJSON(text string) string {
	return quoteReplacer.Replace(width.Fold.String(text))
}

// singleToDoubleQuotes rewrites single-quoted strings as JSON strings. A
// single quote only closes a string when what follows fits the enclosing
// container: a colon or closing bracket always does, a comma does inside an
// array, and inside an object only when the next token is a quoted key. SQL
// literals such as IN ('x', 'y') inside a value therefore survive.
func singleToDoubleQuotes(text string) string {
	runes := []rune(text)
	var b strings.Builder
	b.Grow(len(text))

	const (
		outside = iota
		inDouble
		inSingle
	)
	state := outside
	var containers []rune
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch state {
		case outside:
			switch r {
			case '"':
				state = inDouble
			case '\'':
				state = inSingle
				r = '"'
			case '{', '[':
				containers = append(containers, r)
			case '}', ']':
				if len(containers) > 0 {
					containers = containers[:len(containers)-1]
				}
			}
			b.WriteRune(r)
		case inDouble:
			b.WriteRune(r)
			if r == '\\' && i+1 < len(runes) {
				i++
				b.WriteRune(runes[i])
			} else if r == '"' {
				state = outside
			}
		case inSingle:
			switch {
			case r == '\\' && i+1 < len(runes) && runes[i+1] == '\'':
				i++
				b.WriteRune('\'')
			case r == '\\' && i+1 < len(runes):
				i++
				b.WriteRune(r)
				b.WriteRune(runes[i])
			case r == '"':
				b.WriteString(`\"`)
			case r == '\'' && closesString(runes, i+1, containers):
				state = outside
				b.WriteRune('"')
			default:
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

func closesString(runes []rune, from int, containers []rune) bool {
	i := skipSpace(runes, from)
	if i == len(runes) {
		return true
	}
	switch runes[i] {
	case ':', '}', ']':
		return true
	case ',':
		if len(containers) == 0 || containers[len(containers)-1] == '[' {
			return true
		}
		return startsKey(runes, skipSpace(runes, i+1))
	}
	return false
}

// startsKey reports whether runes[at:] opens a quoted object key, or ends
// the object after a trailing comma.
func startsKey(runes []rune, at int) bool {
	if at == len(runes) || runes[at] == '}' {
		return true
	}
	quote := runes[at]
	if quote != '\'' && quote != '"' {
		return false
	}
	for i := at + 1; i < len(runes); i++ {
		if runes[i] == quote {
			next := skipSpace(runes, i+1)
			return next < len(runes) && runes[next] == ':'
		}
	}
	return false
}

func skipSpace(runes []rune, from int) int {
	for from < len(runes) && unicode.IsSpace(runes[from]) {
		from++
	}
	return from
}

// ExtractSQL returns the last statement of a possibly multi-statement SQL
// string, without its trailing semicolon. Semicolons inside quotes do not
// split statements.
func ExtractSQL(sql string) string {
	sql = stripMarkdownSQL(sql)
	statements := splitStatements(sql)
	for i := len(statements) - 1; i >= 0; i-- {
		if statement := strings.TrimSpace(statements[i]); statement != "" {
			return statement
		}
	}
	return ""
}

// splitStatements splits on semicolons outside quotes. Line comments
// (-- and #) and block comments outside quotes are dropped.
func splitStatements(sql string) []string {
	var (
		statements []string
		current    strings.Builder
		quote      rune
	)
	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			current.WriteRune(r)
			if r == '\\' && i+1 < len(runes) {
				i++
				current.WriteRune(runes[i])
			} else if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
			current.WriteRune(r)
		case r == '#' || lineComment(runes, i):
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			current.WriteRune('\n')
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i < len(runes) && !(runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/') {
				i++
			}
			i++
			current.WriteRune(' ')
		case r == ';':
			statements = append(statements, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	statements = append(statements, current.String())
	return statements
}

// lineComment reports a MySQL "-- " comment, which needs whitespace after
// the dashes.
func lineComment(runes []rune, at int) bool {
	if runes[at] != '-' || at+1 >= len(runes) || runes[at+1] != '-' {
		return false
	}
	return at+2 == len(runes) || unicode.IsSpace(runes[at+2])
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
