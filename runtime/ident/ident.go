// Package ident is the single chokepoint for validating identifiers before
// they reach a filename, environment variable, or subprocess argument.
//
// Rules are enforced by explicit character-class and length checks, never by
// trying to escape a string after the fact: callers that skip validation and
// hand a raw string to a subprocess, a blob path, or an env assignment are
// treated as a bug (spec §4.1, §7 "security" error kind).
package ident

import (
	"fmt"
	"strings"
)

// Kind selects which identifier rule set applies. Most kinds share the base
// rule; a few extend it for fields that legitimately need extra characters.
type Kind string

const (
	KindNode     Kind = "node"
	KindWorkflow Kind = "workflow"
	KindRun      Kind = "run"
	KindAgent    Kind = "agent"
	KindAgentType Kind = "agent_type"
	KindFilename Kind = "filename"
	KindTenant   Kind = "tenant"
)

const (
	minLen = 1
	maxLen = 100
)

// Error reports why validate rejected a value, naming the offending
// character so the caller doesn't have to re-derive it.
type Error struct {
	Kind  Kind
	Value string
	Rune  rune // zero when the failure isn't about a specific character
	Msg   string
}

func (e *Error) Error() string {
	if e.Rune != 0 {
		return fmt.Sprintf("invalid_identifier: kind=%s value=%q: %s (offending char %q)", e.Kind, e.Value, e.Msg, e.Rune)
	}
	return fmt.Sprintf("invalid_identifier: kind=%s value=%q: %s", e.Kind, e.Value, e.Msg)
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func isBodyRune(r rune) bool {
	return isAlnum(r) || r == '_' || r == '-'
}

// Validate checks value against the rules for kind and returns the canonical
// form (identical to value when it passes; validation never rewrites
// characters, only accepts or rejects).
func Validate(value string, kind Kind) (string, error) {
	switch kind {
	case KindFilename:
		return validateFilename(value)
	case KindAgentType:
		return validateAgentType(value)
	case KindNode, KindWorkflow, KindRun, KindAgent, KindTenant:
		return validateBase(value, kind)
	default:
		return "", &Error{Kind: kind, Value: value, Msg: fmt.Sprintf("unknown identifier kind %q", kind)}
	}
}

// MustValidate panics on failure. Reserved for startup-time constants where a
// validation failure indicates a programming error, never user input.
func MustValidate(value string, kind Kind) string {
	v, err := Validate(value, kind)
	if err != nil {
		panic(err)
	}
	return v
}

func validateBase(value string, kind Kind) (string, error) {
	if err := checkLength(value, kind); err != nil {
		return "", err
	}
	runes := []rune(value)
	if len(runes) == 1 {
		if !isAlnum(runes[0]) {
			return "", &Error{Kind: kind, Value: value, Rune: runes[0], Msg: "single-character identifiers must be alphanumeric"}
		}
		return value, nil
	}
	if !isAlnum(runes[0]) {
		return "", &Error{Kind: kind, Value: value, Rune: runes[0], Msg: "must start with an alphanumeric character"}
	}
	if !isAlnum(runes[len(runes)-1]) {
		return "", &Error{Kind: kind, Value: value, Rune: runes[len(runes)-1], Msg: "must end with an alphanumeric character"}
	}
	for _, r := range runes[1 : len(runes)-1] {
		if !isBodyRune(r) {
			return "", &Error{Kind: kind, Value: value, Rune: r, Msg: "body must be alphanumeric, '_' or '-'"}
		}
	}
	return value, nil
}

// validateAgentType allows interior spaces in addition to the base rule
// (spec §4.1: "agent_type additionally allows interior spaces").
func validateAgentType(value string) (string, error) {
	if err := checkLength(value, KindAgentType); err != nil {
		return "", err
	}
	runes := []rune(value)
	if !isAlnum(runes[0]) {
		return "", &Error{Kind: KindAgentType, Value: value, Rune: runes[0], Msg: "must start with an alphanumeric character"}
	}
	if !isAlnum(runes[len(runes)-1]) {
		return "", &Error{Kind: KindAgentType, Value: value, Rune: runes[len(runes)-1], Msg: "must end with an alphanumeric character"}
	}
	for _, r := range runes[1 : len(runes)-1] {
		if !isBodyRune(r) && r != ' ' {
			return "", &Error{Kind: KindAgentType, Value: value, Rune: r, Msg: "body must be alphanumeric, '_', '-' or a single space"}
		}
	}
	return value, nil
}

// validateFilename allows a single trailing ".{ext}" where ext is 1-10
// alphanumerics (spec §4.1).
func validateFilename(value string) (string, error) {
	if err := checkLength(value, KindFilename); err != nil {
		return "", err
	}
	stem, ext, hasExt := cutExtension(value)
	if hasExt {
		if len(ext) < 1 || len(ext) > 10 {
			return "", &Error{Kind: KindFilename, Value: value, Msg: "extension must be 1-10 alphanumeric characters"}
		}
		for _, r := range ext {
			if !isAlnum(r) {
				return "", &Error{Kind: KindFilename, Value: value, Rune: r, Msg: "extension must be alphanumeric"}
			}
		}
	}
	runes := []rune(stem)
	if len(runes) == 0 {
		return "", &Error{Kind: KindFilename, Value: value, Msg: "stem must not be empty"}
	}
	if len(runes) == 1 {
		if !isAlnum(runes[0]) {
			return "", &Error{Kind: KindFilename, Value: value, Rune: runes[0], Msg: "single-character stem must be alphanumeric"}
		}
		return value, nil
	}
	if !isAlnum(runes[0]) {
		return "", &Error{Kind: KindFilename, Value: value, Rune: runes[0], Msg: "must start with an alphanumeric character"}
	}
	if !isAlnum(runes[len(runes)-1]) {
		return "", &Error{Kind: KindFilename, Value: value, Rune: runes[len(runes)-1], Msg: "must end with an alphanumeric character"}
	}
	for _, r := range runes[1 : len(runes)-1] {
		if !isBodyRune(r) {
			return "", &Error{Kind: KindFilename, Value: value, Rune: r, Msg: "stem body must be alphanumeric, '_' or '-'"}
		}
	}
	return value, nil
}

// cutExtension splits value on the last '.', returning the stem and
// extension. hasExt is false when there is no '.' in value.
func cutExtension(value string) (stem, ext string, hasExt bool) {
	i := strings.LastIndexByte(value, '.')
	if i < 0 {
		return value, "", false
	}
	return value[:i], value[i+1:], true
}

func checkLength(value string, kind Kind) error {
	n := len([]rune(value))
	if n < minLen || n > maxLen {
		return &Error{Kind: kind, Value: value, Msg: fmt.Sprintf("length must be between %d and %d, got %d", minLen, maxLen, n)}
	}
	return nil
}
