// Package bleuuid converts the textual UUID forms seen on the wire and in
// user input into the canonical lowercase 36-character form used as a key
// everywhere in the engine.
package bleuuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/srg/blecore/pkg/bleerror"
)

const (
	baseUUIDPrefix = "0000"
	baseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"
)

// CCCD is the canonical Client Characteristic Configuration descriptor UUID.
const CCCD = "00002902-0000-1000-8000-00805f9b34fb"

// Canonicalize expands 16/32-bit short forms through the Bluetooth base UUID
// and validates long forms. Accepted inputs: "180d", "0x180D", "0000180d",
// the 32-character dashless form and the 36-character form.
func Canonicalize(text string) (string, error) {
	s := strings.TrimSpace(text)
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	s = strings.ToLower(s)

	switch len(s) {
	case 4:
		if !isHex(s) {
			return "", invalid(text)
		}
		return baseUUIDPrefix + s + baseUUIDSuffix, nil
	case 8:
		if !isHex(s) {
			return "", invalid(text)
		}
		return s + baseUUIDSuffix, nil
	case 32, 36:
		u, err := uuid.Parse(s)
		if err != nil {
			return "", invalid(text).WithCause(err)
		}
		return u.String(), nil
	default:
		return "", invalid(text)
	}
}

// CanonicalizeAll canonicalizes every element. A single malformed element
// fails the whole batch and is named in the error reason.
func CanonicalizeAll(texts []string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([]string, 0, len(texts))
	for i, t := range texts {
		c, err := Canonicalize(t)
		if err != nil {
			return nil, bleerror.Newf(bleerror.InvalidIdentifiers, "invalid UUID at index %d: %q", i, t)
		}
		out = append(out, c)
	}
	return out, nil
}

// MustCanonicalize is Canonicalize for compile-time constants; it panics on error.
func MustCanonicalize(text string) string {
	c, err := Canonicalize(text)
	if err != nil {
		panic(err)
	}
	return c
}

// Short returns the 4-character form of a SIG base UUID, or the input
// unchanged when it is not one.
func Short(canonical string) string {
	if len(canonical) == 36 &&
		strings.HasPrefix(canonical, baseUUIDPrefix) &&
		strings.HasSuffix(canonical, baseUUIDSuffix) {
		return canonical[4:8]
	}
	return canonical
}

func invalid(text string) *bleerror.Error {
	return bleerror.New(bleerror.InvalidIdentifiers, fmt.Sprintf("invalid UUID: %q", text))
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
