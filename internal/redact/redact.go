// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package redact masks the values of sensitive key=value fields in log
// messages.
package redact

import "strings"

// Defaults used for audit log lines.
const (
	Separator = ";"
	Redaction = "***"
)

// PIIFields are the keys treated as personally identifiable.
var PIIFields = []string{"name", "email", "phone", "ssn", "password"}

// Redactor masks a fixed set of fields. It is safe for concurrent use.
type Redactor struct {
	fields    map[string]struct{}
	redaction string
	separator string
}

// New returns a Redactor for messages made of key=value segments joined
// by separator.
func New(fields []string, redaction, separator string) *Redactor {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return &Redactor{fields: set, redaction: redaction, separator: separator}
}

// Datum masks fields in a single message.
func Datum(fields []string, redaction, message, separator string) string {
	return New(fields, redaction, separator).Redact(message)
}

// Has reports whether key is one of the masked fields.
func (r *Redactor) Has(key string) bool {
	_, ok := r.fields[key]
	return ok
}

// Redact replaces the value of every masked field in message. A field
// matches where its key starts the segment or follows a character that
// cannot be part of a key, so "user_data INFO: name=Bob" masks name but
// "username=bob" does not. The first match in a segment masks the rest of
// that segment. Separators and everything before the match are kept in
// place.
func (r *Redactor) Redact(message string) string {
	if len(r.fields) == 0 || message == "" {
		return message
	}
	if r.separator == "" {
		return r.segment(message)
	}

	var b strings.Builder
	b.Grow(len(message))
	rest := message
	for {
		seg, tail, found := strings.Cut(rest, r.separator)
		b.WriteString(r.segment(seg))
		if !found {
			break
		}
		b.WriteString(r.separator)
		rest = tail
	}
	return b.String()
}

func (r *Redactor) segment(seg string) string {
	for i := 0; i < len(seg); {
		if !isKeyByte(seg[i]) {
			i++
			continue
		}
		k := i
		for k < len(seg) && isKeyByte(seg[k]) {
			k++
		}
		if k < len(seg) && seg[k] == '=' && r.Has(seg[i:k]) {
			return seg[:k+1] + r.redaction
		}
		i = k
	}
	return seg
}

func isKeyByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '_' || c == '-' || c == '.'
}
