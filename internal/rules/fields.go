// Package rules holds the conditional field rules for the interaction form.
// The resolver and validator here are shared by every consumer: the Form
// Engine, the submission handler, and clients that fetch the rule table.
package rules

import (
	"encoding/json"
	"strings"
)

// Field names a form field. Values match the JSON answer shape.
type Field string

const (
	FieldStaffName     Field = "staffName"
	FieldChannel       Field = "channel"
	FieldOtherChannel  Field = "otherChannel"
	FieldBranch        Field = "branch"
	FieldCategory      Field = "category"
	FieldOtherCategory Field = "otherCategory"
	FieldPurchased     Field = "purchased"
	FieldOutOfStock    Field = "outOfStock"
	FieldWantedItem    Field = "wantedItem"
)

// Values the conditional rules key on.
const (
	ChannelOther    = "Other"
	ChannelInStore  = "In-store"
	ChannelWhatsApp = "WhatsApp"
	CategoryOther   = "Other"
)

// Kind is the value type of a field.
type Kind string

const (
	KindEnum Kind = "enum"
	KindText Kind = "text"
	KindBool Kind = "bool"
)

// FieldSpec declares a field's type and, for text, its length bounds.
type FieldSpec struct {
	Field     Field     `json:"field"`
	Kind      Kind      `json:"kind"`
	OptionSet OptionSet `json:"optionSet,omitempty"`
	MinLength int       `json:"minLength,omitempty"`
	MaxLength int       `json:"maxLength,omitempty"`
}

// fieldSpecs is in form order; FieldSet bit positions follow it.
var fieldSpecs = []FieldSpec{
	{Field: FieldStaffName, Kind: KindEnum, OptionSet: OptionStaff},
	{Field: FieldChannel, Kind: KindEnum, OptionSet: OptionChannel},
	{Field: FieldOtherChannel, Kind: KindText, MinLength: 1, MaxLength: 60},
	{Field: FieldBranch, Kind: KindEnum, OptionSet: OptionBranch},
	{Field: FieldCategory, Kind: KindEnum, OptionSet: OptionCategory},
	{Field: FieldOtherCategory, Kind: KindText, MinLength: 1, MaxLength: 60},
	{Field: FieldPurchased, Kind: KindBool},
	{Field: FieldOutOfStock, Kind: KindBool},
	{Field: FieldWantedItem, Kind: KindText, MinLength: 1, MaxLength: 120},
}

// Fields returns every field in form order.
func Fields() []Field {
	out := make([]Field, len(fieldSpecs))
	for i, s := range fieldSpecs {
		out[i] = s.Field
	}
	return out
}

// FieldSpecs returns a copy of the field declarations in form order.
func FieldSpecs() []FieldSpec {
	return append([]FieldSpec(nil), fieldSpecs...)
}

func bitOf(f Field) uint16 {
	for i, s := range fieldSpecs {
		if s.Field == f {
			return 1 << uint(i)
		}
	}
	return 0
}

// FieldSet is an immutable set of fields. The zero value is empty.
type FieldSet uint16

// With returns a set that also contains f.
func (s FieldSet) With(f Field) FieldSet {
	return s | FieldSet(bitOf(f))
}

// Has reports whether f is in the set.
func (s FieldSet) Has(f Field) bool {
	b := bitOf(f)
	return b != 0 && uint16(s)&b != 0
}

// Fields lists the members in form order.
func (s FieldSet) Fields() []Field {
	var out []Field
	for _, spec := range fieldSpecs {
		if s.Has(spec.Field) {
			out = append(out, spec.Field)
		}
	}
	return out
}

func (s FieldSet) String() string {
	names := make([]string, 0, len(fieldSpecs))
	for _, f := range s.Fields() {
		names = append(names, string(f))
	}
	return "{" + strings.Join(names, ",") + "}"
}

// MarshalJSON encodes the set as an ordered list of field names.
func (s FieldSet) MarshalJSON() ([]byte, error) {
	fields := s.Fields()
	if fields == nil {
		fields = []Field{}
	}
	return json.Marshal(fields)
}
