package models

type UserRole string
type SubscriptionStatus string
type PaymentStatus string
type PaymentType string
type BillingCycle string
type AddonBillingType string
type PaymentEventKind string

const (
	UserRoleUser       UserRole = "user"
	UserRoleAdmin      UserRole = "admin"
	UserRoleSuperAdmin UserRole = "superadmin"

	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"

	// Статус платежа меняется только из pending и только один раз
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"

	PaymentTypeSubscription PaymentType = "subscription_purchase"
	PaymentTypeAddon        PaymentType = "addon_purchase"

	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"

	AddonBillingOneTime   AddonBillingType = "one_time"
	AddonBillingRecurring AddonBillingType = "recurring"

	PaymentEventSubscription PaymentEventKind = "subscription"
	PaymentEventAddon        PaymentEventKind = "addon"
)

// Причины отмены
const (
	CancelReasonTimeout    = "payment timeout"
	CancelReasonSuperseded = "superseded"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// IsFinal - терминальный статус, дальше переходов нет
func (s PaymentStatus) IsFinal() bool {
	return s != PaymentStatusPending
}

func (c BillingCycle) IsValid() bool {
	return c == BillingCycleMonthly || c == BillingCycleYearly
}

func (r UserRole) IsAdmin() bool {
	return r == UserRoleAdmin || r == UserRoleSuperAdmin
}
