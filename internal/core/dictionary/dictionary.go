// Package dictionary implements the binary key/value metadata format
// carried by HELLO and OK(HELLO) packets. The encoding is line-oriented
// key=value with backslash escapes for bytes that would break the framing,
// so values may hold arbitrary binary data.
package dictionary

import (
	"bytes"
	"sort"

	"veilnet.io/stratum/internal/core"
)

// Dictionary maps string keys to binary values.
type Dictionary map[string][]byte

// Encode renders the dictionary deterministically (keys sorted).
func (d Dictionary) Encode() []byte {
	if len(d) == 0 {
		return nil
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out bytes.Buffer
	for _, k := range keys {
		appendEscaped(&out, []byte(k))
		out.WriteByte('=')
		appendEscaped(&out, d[k])
		out.WriteByte('\n')
	}
	return out.Bytes()
}

// Decode parses b into the dictionary, returning false on malformed input.
// Decoding into a non-empty dictionary overwrites duplicate keys.
func (d Dictionary) Decode(b []byte) bool {
	var key, val bytes.Buffer
	inKey := true
	esc := false
	for _, c := range b {
		if esc {
			var u byte
			switch c {
			case '0':
				u = 0
			case 'n':
				u = '\n'
			case 'r':
				u = '\r'
			case 'e':
				u = '='
			case '\\':
				u = '\\'
			default:
				return false
			}
			if inKey {
				key.WriteByte(u)
			} else {
				val.WriteByte(u)
			}
			esc = false
			continue
		}
		switch c {
		case '\\':
			esc = true
		case '=':
			if !inKey {
				return false
			}
			inKey = false
		case '\n':
			if inKey && key.Len() == 0 {
				continue // tolerate blank lines
			}
			if inKey {
				return false
			}
			d[key.String()] = append([]byte{}, val.Bytes()...)
			key.Reset()
			val.Reset()
			inKey = true
		case '\r', 0:
			return false
		default:
			if inKey {
				key.WriteByte(c)
			} else {
				val.WriteByte(c)
			}
		}
	}
	if esc || !inKey {
		return false
	}
	return true
}

func appendEscaped(out *bytes.Buffer, b []byte) {
	for _, c := range b {
		switch c {
		case 0:
			out.WriteString(`\0`)
		case '\n':
			out.WriteString(`\n`)
		case '\r':
			out.WriteString(`\r`)
		case '=':
			out.WriteString(`\e`)
		case '\\':
			out.WriteString(`\\`)
		default:
			out.WriteByte(c)
		}
	}
}

// GetString returns the value for key as a string.
func (d Dictionary) GetString(key string) string { return string(d[key]) }

// Validate returns ErrInvalidObject if b does not decode.
func Validate(b []byte) error {
	if !(Dictionary{}).Decode(b) {
		return core.ErrInvalidObject
	}
	return nil
}
