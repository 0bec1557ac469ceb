package consume

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Selector decides whether a built exchange should be processed. Exchanges
// that do not match are skipped: they are not processed and no completion
// callback is attached.
//
// Selectors should be cheap; they run on the delivery goroutine for every
// message.
type Selector interface {
	Match(ex *Exchange) bool
}

// SelectorFunc is a function adapter for Selector.
type SelectorFunc func(ex *Exchange) bool

// Match implements the Selector interface.
func (f SelectorFunc) Match(ex *Exchange) bool { return f(ex) }

// HasHeaders returns a Selector that matches when all headers are present.
func HasHeaders(names ...string) Selector {
	return hasHeaders{names: names}
}

type hasHeaders struct {
	names []string
}

func (s hasHeaders) Match(ex *Exchange) bool {
	for _, n := range s.names {
		if _, ok := ex.in.Headers[n]; !ok {
			return false
		}
	}
	return true
}

// HeaderEquals returns a Selector that matches when the header is present
// and its value formats (with %v) to value.
func HeaderEquals(name, value string) Selector {
	return headerEquals{name: name, value: value}
}

type headerEquals struct {
	name  string
	value string
}

func (s headerEquals) Match(ex *Exchange) bool {
	v, ok := ex.in.Headers[s.name]
	if !ok {
		return false
	}
	if str, ok := v.(string); ok {
		return str == s.value
	}
	return fmt.Sprint(v) == s.value
}

// BodyHasFields returns a Selector that matches when the body is JSON and
// every gjson path exists.
func BodyHasFields(paths ...string) Selector {
	return bodyHasFields{paths: paths}
}

type bodyHasFields struct {
	paths []string
}

func (s bodyHasFields) Match(ex *Exchange) bool {
	if !gjson.ValidBytes(ex.in.Body) {
		return false
	}
	for _, p := range s.paths {
		if !gjson.GetBytes(ex.in.Body, p).Exists() {
			return false
		}
	}
	return true
}

// BodyFieldEquals returns a Selector that matches when the body is JSON and
// the path holds the given string value.
func BodyFieldEquals(path, value string) Selector {
	return bodyFieldEquals{path: path, value: value}
}

type bodyFieldEquals struct {
	path  string
	value string
}

func (s bodyFieldEquals) Match(ex *Exchange) bool {
	if !gjson.ValidBytes(ex.in.Body) {
		return false
	}
	r := gjson.GetBytes(ex.in.Body, s.path)
	return r.Type == gjson.String && r.Str == s.value
}

// And returns a Selector that matches when all selectors match.
func And(ss ...Selector) Selector {
	return and{ss: ss}
}

type and struct {
	ss []Selector
}

func (s and) Match(ex *Exchange) bool {
	for _, sel := range s.ss {
		if !sel.Match(ex) {
			return false
		}
	}
	return true
}

// Or returns a Selector that matches when any selector matches.
func Or(ss ...Selector) Selector {
	return or{ss: ss}
}

type or struct {
	ss []Selector
}

func (s or) Match(ex *Exchange) bool {
	for _, sel := range s.ss {
		if sel.Match(ex) {
			return true
		}
	}
	return false
}

// Not returns a Selector that inverts s.
func Not(s Selector) Selector {
	return not{s: s}
}

type not struct {
	s Selector
}

func (s not) Match(ex *Exchange) bool { return !s.s.Match(ex) }
