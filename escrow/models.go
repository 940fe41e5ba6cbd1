package escrow

import "time"

// Status represents the lifecycle states of an escrow.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisputed Status = "disputed"
	StatusClosed   Status = "closed"
)

// Valid reports whether the status is one of the defined lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusDisputed, StatusClosed:
		return true
	default:
		return false
	}
}

// PaymentStatus represents the lifecycle of a single payment. A payment only
// ever moves pending -> released; there is no reverse transition.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentReleased PaymentStatus = "released"
)

// Escrow mirrors the escrows table. Client, Contractor and TotalAmount are
// immutable after creation; ReleasedAmount is maintained by ReleasePayment and
// never exceeds TotalAmount.
type Escrow struct {
	ID             string
	ProjectID      string
	Client         string
	Contractor     string
	TotalAmount    int64
	ReleasedAmount int64
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsClient reports whether the principal owns the escrowed funds.
func (e Escrow) IsClient(principal string) bool {
	return principal != "" && principal == e.Client
}

// IsContractor reports whether the principal is the escrow's payee.
func (e Escrow) IsContractor(principal string) bool {
	return principal != "" && principal == e.Contractor
}

// Payment mirrors the payments table. Amount is fixed at creation;
// ReleaseMarker is stamped from the release sequence exactly once.
type Payment struct {
	EscrowID      string
	PaymentID     string
	MilestoneID   string
	Amount        int64
	Status        PaymentStatus
	ReleaseMarker *int64
	CreatedAt     time.Time
	ReleasedAt    *time.Time
}

// CreateParams contains the caller-supplied fields for a new escrow.
type CreateParams struct {
	EscrowID    string
	ProjectID   string
	Contractor  string
	TotalAmount int64
}

// AddPaymentParams contains the caller-supplied fields for a new payment.
type AddPaymentParams struct {
	EscrowID    string
	PaymentID   string
	MilestoneID string
	Amount      int64
}

// Timeline event types appended alongside every state mutation.
const (
	EventEscrowCreated   = "ESCROW_CREATED"
	EventEscrowClosed    = "ESCROW_CLOSED"
	EventEscrowDisputed  = "ESCROW_DISPUTED"
	EventDisputeResolved = "DISPUTE_RESOLVED"
	EventPaymentAdded    = "PAYMENT_ADDED"
	EventPaymentReleased = "PAYMENT_RELEASED"
)

// Outbox topics published for downstream consumers.
const (
	TopicEscrowCreated   = "escrow.created"
	TopicEscrowClosed    = "escrow.closed"
	TopicEscrowDisputed  = "escrow.disputed"
	TopicEscrowResolved  = "escrow.resolved"
	TopicPaymentAdded    = "escrow.payment_added"
	TopicPaymentReleased = "escrow.payment_released"
)
