package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/handbok-org/handbok/internal/app/service/subscription"
	"github.com/handbok-org/handbok/pkg/types"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

const (
	metaHandbookID = "handbook_id"
	metaUserID     = "user_id"
)

type StripeEventParser struct {
	Event stripe.Event
}

// ParseStripeEvent verifies the Stripe-Signature header against the endpoint
// secret and decodes the event.
func ParseStripeEvent(payload []byte, signature, secret string) (*StripeEventParser, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &StripeEventParser{Event: event}, nil
}

func (p *StripeEventParser) Provider() string      { return string(types.WebhookProviderStripe) }
func (p *StripeEventParser) EventID() string       { return p.Event.ID }
func (p *StripeEventParser) EventType() string     { return string(p.Event.Type) }
func (p *StripeEventParser) OccurredAt() time.Time { return time.Unix(p.Event.Created, 0) }

func (p *StripeEventParser) Data() any {
	if p.Event.Data == nil {
		return nil
	}
	return p.Event.Data.Raw
}

func (p *StripeEventParser) UserID() string {
	if p.Event.Data == nil {
		return ""
	}
	var obj struct {
		Metadata            map[string]string `json:"metadata"`
		SubscriptionDetails *struct {
			Metadata map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	}
	if err := json.Unmarshal(p.Event.Data.Raw, &obj); err != nil {
		return ""
	}
	if id := obj.Metadata[metaUserID]; id != "" {
		return id
	}
	if obj.SubscriptionDetails != nil {
		return obj.SubscriptionDetails.Metadata[metaUserID]
	}
	return ""
}

func (p *StripeEventParser) BillingUpdate() (*subscription.BillingUpdate, error) {
	switch p.Event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(p.Event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		return fromSubscription(&sub), nil
	case stripe.EventTypeInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(p.Event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		return fromPaidInvoice(&inv)
	default:
		return nil, nil
	}
}

func fromSubscription(sub *stripe.Subscription) *subscription.BillingUpdate {
	u := &subscription.BillingUpdate{
		StripeSubscriptionID: sub.ID,
		HandbookID:           sub.Metadata[metaHandbookID],
		UserID:               sub.Metadata[metaUserID],
		Status:               mapStatus(sub.Status),
		PlanType:             planType(sub),
	}
	if sub.Customer != nil {
		u.StripeCustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		u.CurrentPeriodEnd = &end
	}
	return u
}

func fromPaidInvoice(inv *stripe.Invoice) (*subscription.BillingUpdate, error) {
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		// one-off invoice
		return nil, nil
	}
	u := &subscription.BillingUpdate{
		StripeSubscriptionID: inv.Subscription.ID,
		Status:               types.SubscriptionStatusActive,
		Renewal:              true,
		InvoiceID:            inv.ID,
	}
	if inv.Customer != nil {
		u.StripeCustomerID = inv.Customer.ID
	}
	if inv.SubscriptionDetails != nil {
		u.HandbookID = inv.SubscriptionDetails.Metadata[metaHandbookID]
		u.UserID = inv.SubscriptionDetails.Metadata[metaUserID]
	}
	var periodEnd int64
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line.Period != nil && line.Period.End > periodEnd {
				periodEnd = line.Period.End
			}
		}
	}
	if periodEnd > 0 {
		end := time.Unix(periodEnd, 0).UTC()
		u.CurrentPeriodEnd = &end
	}
	return u, nil
}

// mapStatus keeps past_due live while Stripe retries the charge.
func mapStatus(s stripe.SubscriptionStatus) types.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusPastDue:
		return types.SubscriptionStatusActive
	case stripe.SubscriptionStatusTrialing:
		return types.SubscriptionStatusTrial
	case stripe.SubscriptionStatusCanceled:
		return types.SubscriptionStatusCancelled
	case stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		return types.SubscriptionStatusExpired
	case stripe.SubscriptionStatusPaused:
		return types.SubscriptionStatusSuspended
	default:
		return types.SubscriptionStatusNone
	}
}

func planType(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return ""
	}
	price := sub.Items.Data[0].Price
	if price.LookupKey != "" {
		return price.LookupKey
	}
	if price.Recurring != nil {
		switch price.Recurring.Interval {
		case stripe.PriceRecurringIntervalYear:
			return "yearly"
		case stripe.PriceRecurringIntervalMonth:
			return "monthly"
		}
	}
	return ""
}
