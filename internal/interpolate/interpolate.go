// Package interpolate substitutes compose-style variable references.
//
// Supported forms:
//
//	$NAME  ${NAME}            value of NAME, error when unset
//	${NAME:-default}          default when NAME is unset or empty
//	${NAME-default}           default when NAME is unset
//	${NAME:?message}          error with message when NAME is unset or empty
//	${NAME?message}           error with message when NAME is unset
//	${NAME:+alt} ${NAME+alt}  alt when NAME is set (and non-empty for :+)
//	$$                        a literal $
//
// Defaults and alternatives may themselves contain references.
package interpolate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnresolved = errors.New("interpolate: unresolved variable")
	ErrRequired   = errors.New("interpolate: required variable not set")
	ErrSyntax     = errors.New("interpolate: invalid syntax")
)

// LookupFunc reports the value of a variable and whether it is set.
type LookupFunc func(name string) (string, bool)

// MapLookup returns a LookupFunc that consults each map in order.
func MapLookup(maps ...map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		for _, m := range maps {
			if v, ok := m[name]; ok {
				return v, true
			}
		}
		return "", false
	}
}

type VariableError struct {
	Path    string
	Name    string
	Message string
	Err     error
}

func (e *VariableError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Name != "" {
		b.WriteString(": " + e.Name)
	}
	if e.Path != "" {
		b.WriteString(" at " + e.Path)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

func (e *VariableError) Unwrap() error {
	return e.Err
}

// Substitute replaces every variable reference in s.
func Substitute(s string, lookup LookupFunc) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if c != '$' || i+1 >= len(s) {
			b.WriteByte(c)
			i++
			continue
		}
		next := s[i+1]
		switch {
		case next == '$':
			b.WriteByte('$')
			i += 2
		case next == '{':
			end, err := closingBrace(s, i+2)
			if err != nil {
				return "", err
			}
			v, err := expand(s[i+2:end], lookup)
			if err != nil {
				return "", err
			}
			b.WriteString(v)
			i = end + 1
		case isNameStart(next):
			j := i + 1
			for j < len(s) && isNameChar(s[j]) {
				j++
			}
			name := s[i+1 : j]
			v, ok := lookup(name)
			if !ok {
				return "", &VariableError{Name: name, Err: ErrUnresolved}
			}
			b.WriteString(v)
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

// Tree walks a decoded document and substitutes every string value. Mapping
// keys are left untouched. Errors carry the dotted path of the offending value.
func Tree(v any, lookup LookupFunc) (any, error) {
	return walk(v, "", lookup)
}

func walk(v any, path string, lookup LookupFunc) (any, error) {
	switch t := v.(type) {
	case string:
		out, err := Substitute(t, lookup)
		if err != nil {
			var verr *VariableError
			if errors.As(err, &verr) && verr.Path == "" {
				verr.Path = path
			}
			return nil, err
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for _, k := range sortedKeys(t) {
			r, err := walk(t[k], join(path, k), lookup)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = val
		}
		return walk(m, path, lookup)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			r, err := walk(item, fmt.Sprintf("%s[%d]", path, i), lookup)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func expand(body string, lookup LookupFunc) (string, error) {
	n := 0
	for n < len(body) && isNameChar(body[n]) {
		n++
	}
	if n == 0 || !isNameStart(body[0]) {
		return "", &VariableError{Message: "${" + body + "}", Err: ErrSyntax}
	}
	name, rest := body[:n], body[n:]
	v, set := lookup(name)

	switch {
	case rest == "":
		if !set {
			return "", &VariableError{Name: name, Err: ErrUnresolved}
		}
		return v, nil
	case strings.HasPrefix(rest, ":-"):
		if set && v != "" {
			return v, nil
		}
		return Substitute(rest[2:], lookup)
	case strings.HasPrefix(rest, "-"):
		if set {
			return v, nil
		}
		return Substitute(rest[1:], lookup)
	case strings.HasPrefix(rest, ":?"):
		if set && v != "" {
			return v, nil
		}
		return "", required(name, rest[2:], lookup)
	case strings.HasPrefix(rest, "?"):
		if set {
			return v, nil
		}
		return "", required(name, rest[1:], lookup)
	case strings.HasPrefix(rest, ":+"):
		if set && v != "" {
			return Substitute(rest[2:], lookup)
		}
		return "", nil
	case strings.HasPrefix(rest, "+"):
		if set {
			return Substitute(rest[1:], lookup)
		}
		return "", nil
	default:
		return "", &VariableError{Name: name, Message: "${" + body + "}", Err: ErrSyntax}
	}
}

func required(name, raw string, lookup LookupFunc) error {
	msg, err := Substitute(raw, lookup)
	if err != nil {
		msg = raw
	}
	return &VariableError{Name: name, Message: msg, Err: ErrRequired}
}

// closingBrace returns the index of the brace closing a reference whose body
// starts at start. Nested ${...} in defaults are skipped.
func closingBrace(s string, start int) (int, error) {
	depth := 0
	for j := start; j < len(s); j++ {
		switch {
		case s[j] == '$' && j+1 < len(s) && s[j+1] == '$':
			j++
		case s[j] == '$' && j+1 < len(s) && s[j+1] == '{':
			depth++
			j++
		case s[j] == '}':
			if depth == 0 {
				return j, nil
			}
			depth--
		}
	}
	return 0, &VariableError{Message: "unterminated reference in " + s, Err: ErrSyntax}
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
