package rules

// Condition holds when Field is visible and its value is one of AnyOf.
// Booleans compare as "true"/"false".
type Condition struct {
	Field Field    `json:"field"`
	AnyOf []string `json:"anyOf"`
}

// Rule makes Field visible and required either always or when a condition
// holds.
type Rule struct {
	Field  Field      `json:"field"`
	Always bool       `json:"always,omitempty"`
	When   *Condition `json:"when,omitempty"`
}

// Evaluated in order. A condition can only see fields made visible by an
// earlier rule, so outOfStock is unreachable unless purchased is shown.
var ruleTable = []Rule{
	{Field: FieldStaffName, Always: true},
	{Field: FieldChannel, Always: true},
	{Field: FieldCategory, Always: true},
	{Field: FieldWantedItem, Always: true},
	{Field: FieldOtherChannel, When: &Condition{Field: FieldChannel, AnyOf: []string{ChannelOther}}},
	{Field: FieldBranch, When: &Condition{Field: FieldChannel, AnyOf: []string{ChannelInStore}}},
	{Field: FieldOtherCategory, When: &Condition{Field: FieldCategory, AnyOf: []string{CategoryOther}}},
	{Field: FieldPurchased, When: &Condition{Field: FieldChannel, AnyOf: []string{ChannelInStore, ChannelWhatsApp}}},
	{Field: FieldOutOfStock, When: &Condition{Field: FieldPurchased, AnyOf: []string{"false"}}},
}

func (c *Condition) holds(a Answers, visible FieldSet) bool {
	if c == nil || !visible.Has(c.Field) {
		return false
	}
	v, ok := a.value(c.Field)
	if !ok {
		return false
	}
	for _, want := range c.AnyOf {
		if v == want {
			return true
		}
	}
	return false
}

// Requirements is the derived view of an answer set.
type Requirements struct {
	Visible  FieldSet `json:"visible"`
	Required FieldSet `json:"required"`
}

// Resolve derives the visible and required fields from the current values
// of channel, category and purchased. It is pure: the same answers always
// produce the same result.
func Resolve(a Answers) Requirements {
	var visible FieldSet
	for _, r := range ruleTable {
		if r.Always || r.When.holds(a, visible) {
			visible = visible.With(r.Field)
		}
	}
	// Every shown field must be answered.
	return Requirements{Visible: visible, Required: visible}
}

// Prune returns a copy of a with every field that is not currently visible
// cleared, so stale answers never reach submission.
func Prune(a Answers) Answers {
	req := Resolve(a)
	out := a
	for _, f := range Fields() {
		if !req.Visible.Has(f) {
			out.Clear(f)
		}
	}
	return out
}

// Table is the decision table served to form clients.
type Table struct {
	Fields []FieldSpec `json:"fields"`
	Rules  []Rule      `json:"rules"`
}

// RuleTable returns the rules in evaluation order together with the field
// declarations, for clients that evaluate visibility locally.
func RuleTable() Table {
	rules := make([]Rule, len(ruleTable))
	for i, r := range ruleTable {
		rules[i] = r
		if r.When != nil {
			rules[i].When = &Condition{
				Field: r.When.Field,
				AnyOf: append([]string(nil), r.When.AnyOf...),
			}
		}
	}
	return Table{Fields: FieldSpecs(), Rules: rules}
}
