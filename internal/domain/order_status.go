package domain

type PaymentMethod string

const (
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodBankTransfer || m == PaymentMethodCashOnDelivery
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the payment track allows s -> next.
// Only pending may move, to paid or cancelled.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if s == next {
		return true
	}
	return s == PaymentStatusPending && (next == PaymentStatusPaid || next == PaymentStatusCancelled)
}

type FulfillmentStatus string

const (
	FulfillmentPending    FulfillmentStatus = "pending"
	FulfillmentConfirmed  FulfillmentStatus = "confirmed"
	FulfillmentProcessing FulfillmentStatus = "processing"
	FulfillmentShipped    FulfillmentStatus = "shipped"
	FulfillmentDelivered  FulfillmentStatus = "delivered"
	FulfillmentCancelled  FulfillmentStatus = "cancelled"
)

var fulfillmentNext = map[FulfillmentStatus]FulfillmentStatus{
	FulfillmentPending:    FulfillmentConfirmed,
	FulfillmentConfirmed:  FulfillmentProcessing,
	FulfillmentProcessing: FulfillmentShipped,
	FulfillmentShipped:    FulfillmentDelivered,
}

func (s FulfillmentStatus) Valid() bool {
	switch s {
	case FulfillmentPending, FulfillmentConfirmed, FulfillmentProcessing,
		FulfillmentShipped, FulfillmentDelivered, FulfillmentCancelled:
		return true
	}
	return false
}

func (s FulfillmentStatus) IsTerminal() bool {
	return s == FulfillmentDelivered || s == FulfillmentCancelled
}

// CanTransitionTo follows pending -> confirmed -> processing -> shipped ->
// delivered, with cancelled reachable from any non-terminal state.
// The result is advisory; callers decide whether to enforce it.
func (s FulfillmentStatus) CanTransitionTo(next FulfillmentStatus) bool {
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	if next == FulfillmentCancelled {
		return true
	}
	return fulfillmentNext[s] == next
}

// String representation (for logging)
func (s FulfillmentStatus) String() string {
	return string(s)
}

func (s PaymentStatus) String() string {
	return string(s)
}
