// Package querydoc builds parameterized query and mutation documents for the
// graph service from structured arguments.
package querydoc

import (
	"fmt"
	"strings"
	"unicode"

	"graphlink/internal/domain"
)

// Kind is the operation keyword that opens a document.
type Kind string

const (
	KindQuery        Kind = "query"
	KindMutation     Kind = "mutation"
	KindSubscription Kind = "subscription"
)

// Inferred parameter types.
const (
	TypeString  = "String!"
	TypeBoolean = "Boolean!"
)

// ErrNoParamType is the detail reported when a parameter's type can be
// neither found in the hints nor inferred from its value.
const ErrNoParamType = "no paramType given"

// Build renders "{kind} {name}({decls}) { {body} }". Each declaration takes
// its type from hints, else String! for strings, Boolean! for booleans.
// Any other value without a hint is rejected before anything is sent.
func Build(kind Kind, name, body string, hints map[string]string, values *Params) (string, error) {
	if values.Len() == 0 {
		return fmt.Sprintf("%s %s { %s }", kind, name, body), nil
	}

	decls := make([]string, 0, values.Len())
	for _, key := range values.Keys() {
		v, _ := values.Get(key)
		typ, err := ParamType(key, v, hints)
		if err != nil {
			return "", err
		}
		decls = append(decls, "$"+key+": "+typ)
	}
	return fmt.Sprintf("%s %s(%s) { %s }", kind, name, strings.Join(decls, ", "), body), nil
}

// ParamType resolves the declared type of one parameter.
func ParamType(key string, value any, hints map[string]string) (string, error) {
	if typ, ok := hints[key]; ok && typ != "" {
		return typ, nil
	}
	switch value.(type) {
	case string:
		return TypeString, nil
	case bool:
		return TypeBoolean, nil
	}
	return "", domain.NewSubSystemError("querydoc", "querydoc.Build", domain.ErrInvalidInput,
		fmt.Sprintf("%s for $%s", ErrNoParamType, key))
}

// Placeholders renders "key: $key" for every argument, comma-joined, for
// splicing into a field call.
func Placeholders(args *Params) string {
	parts := make([]string, 0, args.Len())
	for _, key := range args.Keys() {
		parts = append(parts, key+": $"+key)
	}
	return strings.Join(parts, ", ")
}

// NormalizeQuery wraps a bare selection set as "query { text }". Text that
// already starts with the query keyword followed by whitespace is returned
// unchanged.
func NormalizeQuery(text string) string {
	trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
	if rest, ok := strings.CutPrefix(trimmed, string(KindQuery)); ok {
		if r := []rune(rest); len(r) > 0 && unicode.IsSpace(r[0]) {
			return text
		}
	}
	return fmt.Sprintf("query { %s }", text)
}

// FieldCall renders "alias:operation(placeholders) { selection }".
func FieldCall(alias, operation string, args *Params, selection string) string {
	var b strings.Builder
	b.WriteString(alias)
	b.WriteByte(':')
	b.WriteString(operation)
	if args.Len() > 0 {
		b.WriteByte('(')
		b.WriteString(Placeholders(args))
		b.WriteByte(')')
	}
	if selection != "" {
		b.WriteString(" { ")
		b.WriteString(selection)
		b.WriteString(" }")
	}
	return b.String()
}
