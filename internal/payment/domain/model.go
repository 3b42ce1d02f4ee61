package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// MetadataReferenceKey carries the local record id through provider metadata
// so webhooks can be matched back to the record that initiated them.
const MetadataReferenceKey = "paygate_reference"

type PaymentIntentStatus string

const (
	PaymentIntentStatusPending    PaymentIntentStatus = "pending"
	PaymentIntentStatusProcessing PaymentIntentStatus = "processing"
	PaymentIntentStatusSucceeded  PaymentIntentStatus = "succeeded"
	PaymentIntentStatusFailed     PaymentIntentStatus = "failed"
	PaymentIntentStatusRefunded   PaymentIntentStatus = "refunded"
	PaymentIntentStatusCanceled   PaymentIntentStatus = "canceled"
)

type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
)

// WriteSource records who last wrote a record. Webhook writes win conflicts.
type WriteSource string

const (
	WriteSourceLocal   WriteSource = "local"
	WriteSourceWebhook WriteSource = "webhook"
)

type Customer struct {
	ID                 snowflake.ID           `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Provider           ProviderName           `json:"provider" gorm:"type:varchar(32)"`
	ProviderCustomerID string                 `json:"provider_customer_id" gorm:"type:varchar(255)"`
	Email              string                 `json:"email" gorm:"type:text;not null;index"`
	Name               string                 `json:"name" gorm:"type:text"`
	Country            string                 `json:"country" gorm:"type:varchar(2)"`
	Metadata           datatypes.JSONMap      `json:"metadata" gorm:"type:jsonb"`
	Links              []CustomerProviderLink `json:"links,omitempty" gorm:"foreignKey:CustomerID"`
	Version            int64                  `json:"version" gorm:"not null;default:1"`
	DeletedAt          *time.Time             `json:"deleted_at,omitempty"`
	CreatedAt          time.Time              `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time              `json:"updated_at" gorm:"not null"`
}

func (Customer) TableName() string { return "customers" }

// CustomerProviderLink maps a logical customer to at most one customer record
// per provider.
type CustomerProviderLink struct {
	ID                 snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	CustomerID         snowflake.ID `json:"customer_id" gorm:"not null;uniqueIndex:ux_customer_provider_links_customer"`
	Provider           ProviderName `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_customer_provider_links_customer;uniqueIndex:ux_customer_provider_links_ref"`
	ProviderCustomerID string       `json:"provider_customer_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_customer_provider_links_ref"`
	CreatedAt          time.Time    `json:"created_at" gorm:"not null"`
}

func (CustomerProviderLink) TableName() string { return "customer_provider_links" }

type PaymentIntent struct {
	ID                snowflake.ID        `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Provider          ProviderName        `json:"provider" gorm:"type:varchar(32);not null"`
	ProviderIntentID  string              `json:"provider_intent_id" gorm:"type:varchar(255);index"`
	ProviderSessionID string              `json:"provider_session_id" gorm:"type:varchar(255);index"`
	Amount            int64               `json:"amount" gorm:"not null"`
	RefundedAmount    int64               `json:"refunded_amount" gorm:"not null;default:0"`
	Currency          string              `json:"currency" gorm:"type:varchar(3);not null"`
	Status            PaymentIntentStatus `json:"status" gorm:"type:varchar(20);not null"`
	CustomerID        snowflake.ID        `json:"customer_id" gorm:"not null;index"`
	OrganizationID    string              `json:"organization_id" gorm:"type:varchar(255);index"`
	PaymentMethod     *string             `json:"payment_method,omitempty" gorm:"type:varchar(255)"`
	Error             *string             `json:"error,omitempty" gorm:"type:text"`
	DeclineReason     DeclineReason       `json:"decline_reason,omitempty" gorm:"type:varchar(64)"`
	Source            WriteSource         `json:"-" gorm:"type:varchar(16);not null;default:'local'"`
	LastEventAt       *time.Time          `json:"-"`
	Version           int64               `json:"version" gorm:"not null;default:1"`
	CreatedAt         time.Time           `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time           `json:"updated_at" gorm:"not null"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
)

type Refund struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	PaymentIntentID  snowflake.ID `json:"payment_intent_id" gorm:"not null;index"`
	Provider         ProviderName `json:"provider" gorm:"type:varchar(32);not null"`
	ProviderRefundID string       `json:"provider_refund_id" gorm:"type:varchar(255)"`
	Amount           int64        `json:"amount" gorm:"not null"`
	Currency         string       `json:"currency" gorm:"type:varchar(3);not null"`
	Status           RefundStatus `json:"status" gorm:"type:varchar(20);not null"`
	Reason           string       `json:"reason,omitempty" gorm:"type:text"`
	IdempotencyKey   string       `json:"idempotency_key" gorm:"type:varchar(255);not null;uniqueIndex"`
	CreatedAt        time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time    `json:"updated_at" gorm:"not null"`
}

func (Refund) TableName() string { return "refunds" }

type Subscription struct {
	ID                     snowflake.ID       `json:"id" gorm:"primaryKey;autoIncrement:false"`
	OrganizationID         string             `json:"organization_id" gorm:"type:varchar(255);index"`
	CustomerID             snowflake.ID       `json:"customer_id" gorm:"not null;index"`
	Provider               ProviderName       `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_subscriptions_provider_ref"`
	ProviderSubscriptionID string             `json:"provider_subscription_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_subscriptions_provider_ref"`
	PlanID                 string             `json:"plan_id" gorm:"type:varchar(255);not null"`
	Status                 SubscriptionStatus `json:"status" gorm:"type:varchar(20);not null"`
	CurrentPeriodStart     time.Time          `json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end"`
	TrialEnd               *time.Time         `json:"trial_end,omitempty"`
	CancelAt               *time.Time         `json:"cancel_at,omitempty"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end" gorm:"not null;default:false"`
	CanceledAt             *time.Time         `json:"canceled_at,omitempty"`
	Source                 WriteSource        `json:"-" gorm:"type:varchar(16);not null;default:'local'"`
	LastEventAt            *time.Time         `json:"-"`
	Version                int64              `json:"version" gorm:"not null;default:1"`
	CreatedAt              time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt              time.Time          `json:"updated_at" gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

// WebhookEventRecord is the persisted trace of every accepted webhook.
// RawPayload is masked and encrypted before it is stored.
type WebhookEventRecord struct {
	ID              string       `json:"id" gorm:"primaryKey;type:varchar(320)"`
	Provider        ProviderName `json:"provider" gorm:"type:varchar(32);not null"`
	ProviderEventID string       `json:"provider_event_id" gorm:"type:varchar(255);not null"`
	Type            EventType    `json:"type" gorm:"type:varchar(64);not null"`
	OccurredAt      time.Time    `json:"occurred_at" gorm:"not null"`
	RawPayload      []byte       `json:"-"`
	ReceivedAt      time.Time    `json:"received_at" gorm:"not null;index"`
	ProcessedAt     *time.Time   `json:"processed_at"`
	DuplicateCount  int          `json:"duplicate_count" gorm:"not null;default:0"`
	LastError       string       `json:"last_error,omitempty" gorm:"type:text"`
}

func (WebhookEventRecord) TableName() string { return "webhook_events" }

// UsageEvent is a metered usage sample supplied by the caller.
type UsageEvent struct {
	CustomerID     string         `json:"customer_id" validate:"required,min=1"`
	EventName      string         `json:"event_name" validate:"required,min=1"`
	Value          float64        `json:"value" validate:"gte=0"`
	Timestamp      time.Time      `json:"timestamp"`
	IdempotencyKey string         `json:"idempotency_key" validate:"required,min=1"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// UsageEventRecord is the ledger row written once a provider accepted an event.
type UsageEventRecord struct {
	ID             snowflake.ID      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Provider       ProviderName      `json:"provider" gorm:"type:varchar(32);not null"`
	CustomerID     string            `json:"customer_id" gorm:"type:varchar(255);not null;index"`
	EventName      string            `json:"event_name" gorm:"type:varchar(255);not null"`
	Value          float64           `json:"value" gorm:"not null"`
	Timestamp      time.Time         `json:"timestamp" gorm:"not null"`
	IdempotencyKey string            `json:"idempotency_key" gorm:"type:varchar(255);not null;index"`
	Metadata       datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	ForwardedAt    time.Time         `json:"forwarded_at" gorm:"not null;index"`
}

func (UsageEventRecord) TableName() string { return "usage_events" }

type AuditLog struct {
	ID           snowflake.ID      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Action       string            `json:"action" gorm:"type:varchar(64);not null"`
	ResourceType string            `json:"resource_type" gorm:"type:varchar(64);not null"`
	ResourceID   string            `json:"resource_id" gorm:"type:varchar(255);not null;index"`
	Actor        string            `json:"actor" gorm:"type:varchar(255)"`
	Metadata     datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt    time.Time         `json:"created_at" gorm:"not null"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Models lists every table owned by the gateway.
func Models() []any {
	return []any{
		&Customer{},
		&CustomerProviderLink{},
		&PaymentIntent{},
		&Refund{},
		&Subscription{},
		&WebhookEventRecord{},
		&UsageEventRecord{},
		&AuditLog{},
	}
}
