// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

// Package state is the per-player key-value store detection modules
// use to carry observations across batches. Keys are scoped per
// entity; values are scalar and carry an explicit kind tag so modules
// in any language agree on what they read back. Last write wins per
// key; there are no cross-key transactions.
package state

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Kind tags the scalar type of a stored value.
type Kind string

const (
	KindNumber Kind = "number"
	KindString Kind = "string"
	KindBool   Kind = "bool"
	KindNull   Kind = "null"
)

// Value is one kind-tagged scalar. The zero Value is null.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
}

// Constructors

func Number(v float64) Value { return Value{kind: KindNumber, num: v} }
func String(v string) Value  { return Value{kind: KindString, str: v} }
func Bool(v bool) Value      { return Value{kind: KindBool, b: v} }
func Null() Value            { return Value{kind: KindNull} }

// Kind returns the value's type tag.
func (v Value) Kind() Kind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

// Accessors return the scalar and whether the kind matched.

func (v Value) Number() (float64, bool) { return v.num, v.Kind() == KindNumber }
func (v Value) String() (string, bool)  { return v.str, v.Kind() == KindString }
func (v Value) Bool() (bool, bool)      { return v.b, v.Kind() == KindBool }
func (v Value) IsNull() bool            { return v.Kind() == KindNull }

// valueEnvelope is the JSON wire shape: {"kind":"number","value":1.5}.
type valueEnvelope struct {
	Kind  Kind `json:"kind"`
	Value any  `json:"value,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	env := valueEnvelope{Kind: v.Kind()}
	switch v.Kind() {
	case KindNumber:
		env.Value = v.num
	case KindString:
		env.Value = v.str
	case KindBool:
		env.Value = v.b
	case KindNull:
	}
	return json.Marshal(env)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var env valueEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode state value: %w", err)
	}

	switch env.Kind {
	case KindNumber:
		n, ok := env.Value.(float64)
		if !ok {
			return fmt.Errorf("state value kind %q with non-numeric payload %T", env.Kind, env.Value)
		}
		*v = Number(n)
	case KindString:
		s, ok := env.Value.(string)
		if !ok {
			return fmt.Errorf("state value kind %q with non-string payload %T", env.Kind, env.Value)
		}
		*v = String(s)
	case KindBool:
		b, ok := env.Value.(bool)
		if !ok {
			return fmt.Errorf("state value kind %q with non-bool payload %T", env.Kind, env.Value)
		}
		*v = Bool(b)
	case KindNull:
		*v = Null()
	default:
		return fmt.Errorf("unknown state value kind %q", env.Kind)
	}
	return nil
}
