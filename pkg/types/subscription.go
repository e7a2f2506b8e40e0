package types

type HealthActionType string

const (
	HealthActionNone            HealthActionType = "none"
	HealthActionRenewal         HealthActionType = "renewal"
	HealthActionRenewalReminder HealthActionType = "renewal_reminder"
	HealthActionUpgrade         HealthActionType = "upgrade"
	HealthActionReactivation    HealthActionType = "reactivation"
	HealthActionSubscribe       HealthActionType = "subscribe"
)

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonExpired      SubscriptionChangeReason = "expired"
	SubscriptionChangeReasonSuspended    SubscriptionChangeReason = "suspended"
	SubscriptionChangeReasonBilling      SubscriptionChangeReason = "billing"
	SubscriptionChangeReasonRenewal      SubscriptionChangeReason = "renewal"
	SubscriptionChangeReasonTrialStarted SubscriptionChangeReason = "trial_started"
)
