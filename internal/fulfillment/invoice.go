package fulfillment

import (
	"encoding/json"
	"fmt"
	"time"
)

// InvoiceRef is the part of an invoice event fulfillment cares about.
type InvoiceRef struct {
	ID             string
	SubscriptionID string
	PeriodEnd      time.Time
}

type expandable struct {
	ID string
}

func (e *expandable) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		e.ID = id
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	e.ID = obj.ID
	return nil
}

// ParseInvoice reads an invoice object from event data. Older API versions
// carry the subscription at the top level, newer ones under
// parent.subscription_details.
func ParseInvoice(raw json.RawMessage) (InvoiceRef, error) {
	var inv struct {
		ID           string      `json:"id"`
		Subscription *expandable `json:"subscription"`
		Parent       *struct {
			SubscriptionDetails *struct {
				Subscription *expandable `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
		Lines struct {
			Data []struct {
				Period struct {
					End int64 `json:"end"`
				} `json:"period"`
			} `json:"data"`
		} `json:"lines"`
		PeriodEnd int64 `json:"period_end"`
	}
	if err := json.Unmarshal(raw, &inv); err != nil {
		return InvoiceRef{}, fmt.Errorf("failed to parse invoice: %w", err)
	}

	ref := InvoiceRef{ID: inv.ID}
	switch {
	case inv.Subscription != nil && inv.Subscription.ID != "":
		ref.SubscriptionID = inv.Subscription.ID
	case inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil:
		ref.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}

	end := inv.PeriodEnd
	for _, line := range inv.Lines.Data {
		if line.Period.End > end {
			end = line.Period.End
		}
	}
	if end > 0 {
		ref.PeriodEnd = time.Unix(end, 0).UTC()
	}
	return ref, nil
}
