package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// Answers is a partial or complete answer set, in the JSON shape clients
// submit. Empty strings and nil booleans mean "not answered".
type Answers struct {
	StaffName     string `json:"staffName,omitempty"`
	Channel       string `json:"channel,omitempty"`
	OtherChannel  string `json:"otherChannel,omitempty"`
	Branch        string `json:"branch,omitempty"`
	Category      string `json:"category,omitempty"`
	OtherCategory string `json:"otherCategory,omitempty"`
	Purchased     *bool  `json:"purchased,omitempty"`
	OutOfStock    *bool  `json:"outOfStock,omitempty"`
	WantedItem    string `json:"wantedItem,omitempty"`
}

// BoolPtr returns a pointer to b, for building answer sets.
func BoolPtr(b bool) *bool {
	return &b
}

func (a *Answers) textRef(f Field) *string {
	switch f {
	case FieldStaffName:
		return &a.StaffName
	case FieldChannel:
		return &a.Channel
	case FieldOtherChannel:
		return &a.OtherChannel
	case FieldBranch:
		return &a.Branch
	case FieldCategory:
		return &a.Category
	case FieldOtherCategory:
		return &a.OtherCategory
	case FieldWantedItem:
		return &a.WantedItem
	}
	return nil
}

func (a *Answers) boolRef(f Field) **bool {
	switch f {
	case FieldPurchased:
		return &a.Purchased
	case FieldOutOfStock:
		return &a.OutOfStock
	}
	return nil
}

// Text returns the value of a text or enum field, trimmed.
func (a Answers) Text(f Field) string {
	if p := a.textRef(f); p != nil {
		return strings.TrimSpace(*p)
	}
	return ""
}

// Bool returns the value of a boolean field, or nil if unanswered.
func (a Answers) Bool(f Field) *bool {
	if p := a.boolRef(f); p != nil {
		return *p
	}
	return nil
}

// Present reports whether f carries a non-empty value.
func (a Answers) Present(f Field) bool {
	if p := a.boolRef(f); p != nil {
		return *p != nil
	}
	return a.Text(f) != ""
}

// value renders f as the string the rule conditions compare against.
func (a Answers) value(f Field) (string, bool) {
	if b := a.Bool(f); b != nil {
		return strconv.FormatBool(*b), true
	}
	v := a.Text(f)
	return v, v != ""
}

// SetText sets a text or enum field.
func (a *Answers) SetText(f Field, v string) error {
	p := a.textRef(f)
	if p == nil {
		return fmt.Errorf("field %q does not take text", f)
	}
	*p = v
	return nil
}

// SetBool sets a boolean field.
func (a *Answers) SetBool(f Field, v bool) error {
	p := a.boolRef(f)
	if p == nil {
		return fmt.Errorf("field %q does not take a boolean", f)
	}
	*p = BoolPtr(v)
	return nil
}

// Clear unsets f. Unknown fields are ignored.
func (a *Answers) Clear(f Field) {
	if p := a.textRef(f); p != nil {
		*p = ""
		return
	}
	if p := a.boolRef(f); p != nil {
		*p = nil
	}
}

// Normalized returns a copy with surrounding whitespace removed from every
// text field.
func (a Answers) Normalized() Answers {
	out := a
	for _, f := range Fields() {
		if p := out.textRef(f); p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
	return out
}
