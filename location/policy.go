// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package location

import (
	"strings"

	"github.com/pkg/errors"
)

// Policy is the execution domain authorized to operate on some data.
//
// It is never stored: it is derived on demand from the locations of the operands.
type Policy int

const (
	// ExecUndefined means no consistent execution domain exists for the operands.
	ExecUndefined Policy = iota

	// ExecHost means the operation runs on the host.
	ExecHost

	// ExecDevice means the operation runs on the accelerator.
	ExecDevice
)

// String implements fmt.Stringer.
func (p Policy) String() string {
	switch p {
	case ExecHost:
		return "HOST"
	case ExecDevice:
		return "DEVICE"
	default:
		return "UNDEFINED"
	}
}

// ParsePolicy converts "host" or "device" (case-insensitive) to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "host":
		return ExecHost, nil
	case "device":
		return ExecDevice, nil
	}
	return ExecUndefined, errors.Errorf("unknown execution policy %q, valid values are \"host\" or \"device\"", name)
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	if p == ExecUndefined {
		return nil, errors.New("cannot marshal an undefined execution policy")
	}
	return []byte(strings.ToLower(p.String())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
