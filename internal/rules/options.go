package rules

import (
	"fmt"
	"strings"
)

// OptionSet names one of the admin-managed dropdown lists.
type OptionSet string

const (
	OptionStaff    OptionSet = "staff"
	OptionChannel  OptionSet = "channel"
	OptionCategory OptionSet = "category"
	OptionBranch   OptionSet = "branch"
)

// AllOptionSets lists the four option sets in a stable order.
func AllOptionSets() []OptionSet {
	return []OptionSet{OptionStaff, OptionChannel, OptionCategory, OptionBranch}
}

// ParseOptionSet validates a set name taken from a URL or config file.
func ParseOptionSet(name string) (OptionSet, error) {
	switch set := OptionSet(strings.ToLower(strings.TrimSpace(name))); set {
	case OptionStaff, OptionChannel, OptionCategory, OptionBranch:
		return set, nil
	default:
		return "", fmt.Errorf("unknown option set %q", name)
	}
}

// OptionSets maps each set to its ordered, active names.
type OptionSets map[OptionSet][]string

// Contains reports whether name is a member of set. A set with no entries
// is treated as unconstrained.
func (o OptionSets) Contains(set OptionSet, name string) bool {
	names := o[set]
	if len(names) == 0 {
		return true
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// DefaultOptionSets is the built-in fallback used when the lookup source
// cannot be reached and to seed an empty store.
func DefaultOptionSets() OptionSets {
	return OptionSets{
		OptionStaff:    {"Alex", "Sam", "Jordan", "Taylor"},
		OptionChannel:  {ChannelInStore, ChannelWhatsApp, "Phone", "Instagram", "Facebook", "Website", ChannelOther},
		OptionCategory: {"Electronics", "Games", "Accessories", "Toys", "Books", "Clothing", "Home", CategoryOther},
		OptionBranch:   {"Main Street", "Mall"},
	}
}
