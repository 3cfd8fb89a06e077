package options

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"interactionlog/internal/logger"
	"interactionlog/internal/rules"
)

// LoadDefaults reads fallback option sets from a JSON file such as
//
//	{"staff": ["Alex", "Sam"], "branch": ["Main Street", "Mall"]}
//
// Sets missing from the file keep the built-in names.
func LoadDefaults(path string) (rules.OptionSets, error) {
	logger.LogInfo("Loading fallback options from %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read options file: %w", err)
	}

	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse options file: %w", err)
	}

	sets := rules.DefaultOptionSets()
	for name, names := range raw {
		set, err := rules.ParseOptionSet(name)
		if err != nil {
			return nil, fmt.Errorf("options file %s: %w", path, err)
		}
		cleaned := cleanNames(names)
		if len(cleaned) == 0 {
			logger.LogWarn("Options file lists no names for %s, keeping built-in defaults", set)
			continue
		}
		sets[set] = cleaned
	}

	checkRuleValues(sets)
	logger.LogInfo("Loaded fallback options: %d staff, %d channels, %d categories, %d branches",
		len(sets[rules.OptionStaff]), len(sets[rules.OptionChannel]),
		len(sets[rules.OptionCategory]), len(sets[rules.OptionBranch]))
	return sets, nil
}

func cleanNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// checkRuleValues warns when a set lacks a value the field rules key on.
// Such a list still works but the matching conditional field can never
// be shown.
func checkRuleValues(sets rules.OptionSets) {
	required := map[rules.OptionSet][]string{
		rules.OptionChannel:  {rules.ChannelInStore, rules.ChannelWhatsApp, rules.ChannelOther},
		rules.OptionCategory: {rules.CategoryOther},
	}
	for set, values := range required {
		for _, v := range values {
			if !sets.Contains(set, v) {
				logger.LogWarn("Option set %s has no %q entry; its conditional fields will never apply", set, v)
			}
		}
	}
}
