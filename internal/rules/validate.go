package rules

import (
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"interactionlog/internal/apperrors"
)

// Validator turns a client-asserted answer set into an InteractionRecord.
// Violations are aggregated: every offending field is reported at once.
//
// Fields that are answered but not currently visible are rejected, so a
// record with a branch for a phone interaction never validates.
type Validator struct {
	options OptionSets
	now     func() time.Time
	lang    language.Tag
}

// NewValidator builds a validator that checks enum fields against options
// and stamps accepted records with now.
func NewValidator(options OptionSets, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	if options == nil {
		options = DefaultOptionSets()
	}
	return &Validator{options: options, now: now, lang: SupportedLanguages[0]}
}

// WithLanguage returns a copy that renders messages in lang.
func (v *Validator) WithLanguage(lang language.Tag) *Validator {
	cp := *v
	cp.lang = lang
	return &cp
}

// WithOptions returns a copy that checks enum fields against options.
func (v *Validator) WithOptions(options OptionSets) *Validator {
	cp := *v
	cp.options = options
	return &cp
}

// Violations returns a field -> message map for every rule a violates. An
// empty map means the answers are valid.
func (v *Validator) Violations(a Answers) map[string]string {
	a = a.Normalized()
	req := Resolve(a)
	p := message.NewPrinter(v.lang)

	out := make(map[string]string)
	for _, spec := range fieldSpecs {
		f := spec.Field
		label := Label(f, v.lang)
		present := a.Present(f)
		required := req.Required.Has(f)

		switch {
		case required && !present:
			out[string(f)] = p.Sprintf(msgRequired, label)
		case !required && present:
			out[string(f)] = p.Sprintf(msgNotApplicable, label)
		case present:
			if msg := v.checkValue(p, spec, a.Text(f), label); msg != "" {
				out[string(f)] = msg
			}
		}
	}
	return out
}

func (v *Validator) checkValue(p *message.Printer, spec FieldSpec, value, label string) string {
	switch spec.Kind {
	case KindText:
		n := utf8.RuneCountInString(value)
		if n < spec.MinLength {
			return p.Sprintf(msgTooShort, label, spec.MinLength)
		}
		if spec.MaxLength > 0 && n > spec.MaxLength {
			return p.Sprintf(msgTooLong, label, spec.MaxLength)
		}
	case KindEnum:
		if !v.options.Contains(spec.OptionSet, value) {
			return p.Sprintf(msgUnknownOption, value, label)
		}
	}
	return ""
}

// Validate checks a against the derived requirements and, on success,
// returns the record stamped with the current instant. Failures are
// *apperrors.Error values of kind validation.
func (v *Validator) Validate(a Answers) (InteractionRecord, error) {
	if violations := v.Violations(a); len(violations) > 0 {
		return InteractionRecord{}, apperrors.Validation(violations)
	}

	a = a.Normalized()
	return InteractionRecord{
		StaffName:     a.StaffName,
		Channel:       a.Channel,
		OtherChannel:  a.OtherChannel,
		Branch:        a.Branch,
		Category:      a.Category,
		OtherCategory: a.OtherCategory,
		Purchased:     copyBool(a.Purchased),
		OutOfStock:    copyBool(a.OutOfStock),
		WantedItem:    a.WantedItem,
		Timestamp:     v.now().UTC(),
	}, nil
}
