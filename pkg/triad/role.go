// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package triad

import (
	"fmt"
	"strings"
)

// Role is a board's fixed position in the triad
type Role int

// Board roles
const (
	Primary   Role = iota // A: runs compares
	Secondary             // B: compared against A
	Tertiary              // C: acts on compare verdicts
)

// Roles lists every role in address order
var Roles = []Role{Primary, Secondary, Tertiary}

// String returns the lower-case role name
func (r Role) String() string {
	switch r {
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	case Tertiary:
		return "tertiary"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Letter returns the board letter (A, B or C)
func (r Role) Letter() byte {
	return 'A' + byte(r)
}

// Address returns the board's frame address
func (r Role) Address() uint8 {
	return uint8(r)
}

// Valid reports whether r is one of the three roles
func (r Role) Valid() bool {
	return r >= Primary && r <= Tertiary
}

// Donor returns the board a freshly reset board copies its state from
func (r Role) Donor() Role {
	if r == Primary {
		return Secondary
	}
	return Primary
}

// Peers returns the roles r exchanges frames with directly
func (r Role) Peers() []Role {
	switch r {
	case Primary:
		return []Role{Secondary, Tertiary}
	default:
		return []Role{Primary}
	}
}

// ParseRole accepts a role name or board letter, case-insensitively
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "a":
		return Primary, nil
	case "secondary", "b":
		return Secondary, nil
	case "tertiary", "c":
		return Tertiary, nil
	default:
		return 0, fmt.Errorf("unknown board role %q (use primary|secondary|tertiary or A|B|C)", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}
