package rules

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys. English text doubles as the key.
const (
	msgRequired      = "%s is required"
	msgTooShort      = "%s must be at least %d characters"
	msgTooLong       = "%s must be at most %d characters"
	msgNotApplicable = "%s does not apply to this interaction"
	msgUnknownOption = "%q is not a valid choice for %s"
)

var spanish = map[string]string{
	msgRequired:      "%s es obligatorio",
	msgTooShort:      "%s debe tener al menos %d caracteres",
	msgTooLong:       "%s debe tener como máximo %d caracteres",
	msgNotApplicable: "%s no corresponde a esta interacción",
	msgUnknownOption: "%q no es una opción válida para %s",

	"Staff name":     "Nombre del empleado",
	"Channel":        "Canal",
	"Other channel":  "Otro canal",
	"Branch":         "Sucursal",
	"Category":       "Categoría",
	"Other category": "Otra categoría",
	"Purchased":      "Compra realizada",
	"Out of stock":   "Sin existencias",
	"Wanted item":    "Artículo buscado",
}

// SupportedLanguages lists the locales violation messages are available in.
// The first entry is the default.
var SupportedLanguages = []language.Tag{language.AmericanEnglish, language.Spanish}

var matcher = language.NewMatcher(SupportedLanguages)

func init() {
	for key, msg := range spanish {
		if err := message.SetString(language.Spanish, key, msg); err != nil {
			panic("rules: register spanish message: " + err.Error())
		}
	}
}

// MatchLanguage picks the supported locale that best fits an
// Accept-Language header value.
func MatchLanguage(acceptLanguage string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return SupportedLanguages[0]
	}
	_, idx, _ := matcher.Match(tags...)
	return SupportedLanguages[idx]
}

// Label returns the display label of f in lang.
func Label(f Field, lang language.Tag) string {
	p := message.NewPrinter(lang)
	switch f {
	case FieldStaffName:
		return p.Sprintf("Staff name")
	case FieldChannel:
		return p.Sprintf("Channel")
	case FieldOtherChannel:
		return p.Sprintf("Other channel")
	case FieldBranch:
		return p.Sprintf("Branch")
	case FieldCategory:
		return p.Sprintf("Category")
	case FieldOtherCategory:
		return p.Sprintf("Other category")
	case FieldPurchased:
		return p.Sprintf("Purchased")
	case FieldOutOfStock:
		return p.Sprintf("Out of stock")
	case FieldWantedItem:
		return p.Sprintf("Wanted item")
	}
	return string(f)
}
