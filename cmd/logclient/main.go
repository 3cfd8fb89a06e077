// Command logclient records one customer interaction against a running
// server. It fills a form engine from flags, validates locally with the
// server's current option lists, and submits over HTTP.
//
//	logclient -server http://127.0.0.1:5051 -staff Alex -channel Phone \
//	    -category Games -item "Switch cartridge"
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"interactionlog/internal/apperrors"
	"interactionlog/internal/engine"
	"interactionlog/internal/gateway"
	"interactionlog/internal/options"
	"interactionlog/internal/rules"
)

func main() {
	server := flag.String("server", "http://127.0.0.1:5051", "base URL of the interaction service")
	token := flag.String("token", "", "optional bearer credential")
	timeout := flag.Duration("timeout", 10*time.Second, "submission deadline")
	lang := flag.String("lang", "en", "language for validation messages")

	text := map[rules.Field]*string{
		rules.FieldStaffName:     flag.String("staff", "", "staff member"),
		rules.FieldChannel:       flag.String("channel", "", "contact channel"),
		rules.FieldOtherChannel:  flag.String("other-channel", "", "channel when -channel=Other"),
		rules.FieldBranch:        flag.String("branch", "", "branch for in-store visits"),
		rules.FieldCategory:      flag.String("category", "", "product category"),
		rules.FieldOtherCategory: flag.String("other-category", "", "category when -category=Other"),
		rules.FieldWantedItem:    flag.String("item", "", "item the customer asked for"),
	}
	purchased := flag.String("purchased", "", "yes or no, for in-store and WhatsApp contacts")
	outOfStock := flag.String("out-of-stock", "", "yes or no, when nothing was purchased")
	flag.Parse()

	ctx := context.Background()
	opts := []gateway.HTTPOption{}
	if *token != "" {
		opts = append(opts, gateway.WithCredential(*token))
	}

	lookup := gateway.NewHTTPLookup(*server, opts...)
	cache := options.NewCache(lookup, options.WithRefreshTimeout(5*time.Second))
	validator := rules.NewValidator(cache.All(ctx), time.Now).WithLanguage(rules.MatchLanguage(*lang))

	eng := engine.New(gateway.NewHTTPGateway(*server, opts...),
		engine.WithTimeout(*timeout),
		engine.WithValidator(validator),
	)

	// Controlling fields first so dependent fields are visible when set.
	order := []rules.Field{
		rules.FieldStaffName, rules.FieldChannel, rules.FieldCategory,
		rules.FieldOtherChannel, rules.FieldBranch, rules.FieldOtherCategory,
		rules.FieldWantedItem,
	}
	for _, f := range order[:3] {
		setText(eng, f, *text[f])
	}
	setBool(eng, rules.FieldPurchased, *purchased)
	setBool(eng, rules.FieldOutOfStock, *outOfStock)
	for _, f := range order[3:] {
		setText(eng, f, *text[f])
	}

	rec, err := eng.Submit(ctx)
	if err != nil {
		report(err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(rec)
}

func setText(eng *engine.Engine, f rules.Field, v string) {
	if v == "" {
		return
	}
	if err := eng.SetText(f, v); err != nil {
		fail(f, err)
	}
}

func setBool(eng *engine.Engine, f rules.Field, v string) {
	if v == "" {
		return
	}
	b, err := parseYesNo(v)
	if err != nil {
		fail(f, err)
	}
	if err := eng.SetBool(f, b); err != nil {
		fail(f, err)
	}
}

func parseYesNo(v string) (bool, error) {
	switch v {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	return strconv.ParseBool(v)
}

func fail(f rules.Field, err error) {
	if errors.Is(err, engine.ErrFieldHidden) {
		fmt.Fprintf(os.Stderr, "logclient: %s does not apply to this interaction\n", f)
	} else {
		fmt.Fprintf(os.Stderr, "logclient: %s: %v\n", f, err)
	}
	os.Exit(2)
}

func report(err error) {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		fields := apperrors.FieldsOf(err)
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(os.Stderr, "logclient: the interaction is incomplete:")
		for _, name := range names {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", name, fields[name])
		}
	case apperrors.KindTransport:
		if errors.Is(err, gateway.ErrDuplicate) {
			fmt.Fprintln(os.Stderr, "logclient: this interaction was already recorded")
			return
		}
		fmt.Fprintf(os.Stderr, "logclient: server unreachable, try again: %v\n", err)
	case apperrors.KindConfiguration:
		fmt.Fprintf(os.Stderr, "logclient: the server refused the submission: %v\n", err)
	default:
		fmt.Fprintf(os.Stderr, "logclient: %v\n", err)
	}
}
