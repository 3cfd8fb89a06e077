package admin

import (
	"sort"
	"strings"
	"time"

	"interactionlog/internal/form"
	"interactionlog/internal/options"
	"interactionlog/internal/rules"
)

// ItemCount is a wanted item and how often it was reported out of stock.
type ItemCount struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// Summary aggregates interactions for the dashboard.
type Summary struct {
	Total      int            `json:"total"`
	ByChannel  map[string]int `json:"byChannel"`
	ByCategory map[string]int `json:"byCategory"`
	ByStaff    map[string]int `json:"byStaff"`
	ByBranch   map[string]int `json:"byBranch"`

	// PurchaseAsked counts records where the purchased question applied.
	PurchaseAsked  int     `json:"purchaseAsked"`
	Purchased      int     `json:"purchased"`
	ConversionRate float64 `json:"conversionRate"`

	OutOfStock      int         `json:"outOfStock"`
	OutOfStockItems []ItemCount `json:"outOfStockItems"`

	FirstAt *time.Time `json:"firstAt,omitempty"`
	LastAt  *time.Time `json:"lastAt,omitempty"`

	Submissions *form.Stats         `json:"submissions,omitempty"`
	Options     []options.SetStatus `json:"options,omitempty"`
	GeneratedAt time.Time           `json:"generatedAt"`
	Duration    string              `json:"processingDuration"`

	items map[string]*ItemCount
}

func newSummary() *Summary {
	return &Summary{
		ByChannel:  map[string]int{},
		ByCategory: map[string]int{},
		ByStaff:    map[string]int{},
		ByBranch:   map[string]int{},
		items:      map[string]*ItemCount{},
	}
}

// add folds one record into the summary. Free-text labels count under the
// text the staff member typed.
func (s *Summary) add(rec rules.InteractionRecord) {
	s.Total++
	s.ByChannel[rec.ChannelLabel()]++
	s.ByCategory[rec.CategoryLabel()]++
	s.ByStaff[rec.StaffName]++
	if rec.Branch != "" {
		s.ByBranch[rec.Branch]++
	}

	if rec.Purchased != nil {
		s.PurchaseAsked++
		if *rec.Purchased {
			s.Purchased++
		}
	}
	if rec.OutOfStock != nil && *rec.OutOfStock {
		s.OutOfStock++
		key := strings.ToLower(strings.TrimSpace(rec.WantedItem))
		if ic, ok := s.items[key]; ok {
			ic.Count++
		} else {
			s.items[key] = &ItemCount{Item: rec.WantedItem, Count: 1}
		}
	}

	ts := rec.Timestamp
	if s.FirstAt == nil || ts.Before(*s.FirstAt) {
		s.FirstAt = &ts
	}
	if s.LastAt == nil || ts.After(*s.LastAt) {
		last := ts
		s.LastAt = &last
	}
}

// finish computes derived values once every record has been added.
func (s *Summary) finish() {
	if s.PurchaseAsked > 0 {
		s.ConversionRate = float64(s.Purchased) / float64(s.PurchaseAsked)
	}

	s.OutOfStockItems = make([]ItemCount, 0, len(s.items))
	for _, ic := range s.items {
		s.OutOfStockItems = append(s.OutOfStockItems, *ic)
	}
	sort.Slice(s.OutOfStockItems, func(i, j int) bool {
		a, b := s.OutOfStockItems[i], s.OutOfStockItems[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return strings.ToLower(a.Item) < strings.ToLower(b.Item)
	})
}
