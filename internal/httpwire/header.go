// Package httpwire implements the incremental HTTP/1.1 message reader used
// by the connection worker: it reads exactly one request or response head
// (start line plus headers) off a buffered stream, preserving header order
// and original casing so the proxy can forward a byte-faithful copy, and
// it frames the body so the worker knows when one message ends and the
// next begins.
package httpwire

import "strings"

// Header is an ordered list of (name, value) pairs. Unlike net/http.Header
// it is not a map: lookups are case-insensitive, but both the original
// field-name casing and the relative order of repeated fields are
// preserved, since this proxy forwards requests byte-faithfully rather
// than reconstructing them from a normalized model.
type Header struct {
	fields []headerField
}

type headerField struct {
	name  string
	value string
}

// Add appends a field, preserving name as given.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, headerField{name, value})
}

// Get returns the first value for name (case-insensitive), or "".
func (h *Header) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return f.value
		}
	}
	return ""
}

// Values returns every value for name, in the order they occurred.
func (h *Header) Values(name string) []string {
	var out []string
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			out = append(out, f.value)
		}
	}
	return out
}

// Has reports whether any field matches name.
func (h *Header) Has(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return true
		}
	}
	return false
}

// Del removes every field matching name.
func (h *Header) Del(name string) {
	out := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.name, name) {
			out = append(out, f)
		}
	}
	h.fields = out
}

// Set replaces all fields matching name with a single field.
func (h *Header) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Len returns the number of fields, counting repeated names separately.
func (h *Header) Len() int { return len(h.fields) }

// Each calls f for every field, in wire order.
func (h *Header) Each(f func(name, value string)) {
	for _, field := range h.fields {
		f(field.name, field.value)
	}
}

// WriteTo serializes the header block, each field as "Name: value\r\n",
// terminated by a blank line. It never reorders or cases fields.
func (h *Header) WriteTo(sb *strings.Builder) {
	for _, f := range h.fields {
		sb.WriteString(f.name)
		sb.WriteString(": ")
		sb.WriteString(f.value)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
}
