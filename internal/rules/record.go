package rules

import "time"

// InteractionRecord is a validated interaction. Records are built only by
// Validator.Validate and are never modified after acceptance.
type InteractionRecord struct {
	ID            string    `json:"id,omitempty"`
	StaffName     string    `json:"staffName"`
	Channel       string    `json:"channel"`
	OtherChannel  string    `json:"otherChannel,omitempty"`
	Branch        string    `json:"branch,omitempty"`
	Category      string    `json:"category"`
	OtherCategory string    `json:"otherCategory,omitempty"`
	Purchased     *bool     `json:"purchased,omitempty"`
	OutOfStock    *bool     `json:"outOfStock,omitempty"`
	WantedItem    string    `json:"wantedItem"`
	Timestamp     time.Time `json:"timestamp"`
}

// ChannelLabel is the free-text channel when channel is "Other", otherwise
// the channel itself.
func (r InteractionRecord) ChannelLabel() string {
	if r.Channel == ChannelOther {
		return r.OtherChannel
	}
	return r.Channel
}

// CategoryLabel is the free-text category when category is "Other",
// otherwise the category itself.
func (r InteractionRecord) CategoryLabel() string {
	if r.Category == CategoryOther {
		return r.OtherCategory
	}
	return r.Category
}

// Answers converts the record back into the submission shape, without the
// server-assigned id and timestamp.
func (r InteractionRecord) Answers() Answers {
	return Answers{
		StaffName:     r.StaffName,
		Channel:       r.Channel,
		OtherChannel:  r.OtherChannel,
		Branch:        r.Branch,
		Category:      r.Category,
		OtherCategory: r.OtherCategory,
		Purchased:     copyBool(r.Purchased),
		OutOfStock:    copyBool(r.OutOfStock),
		WantedItem:    r.WantedItem,
	}
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	return BoolPtr(*b)
}
