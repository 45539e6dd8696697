package models

// PaymentStatus is the lifecycle state of a pending payment record
// (a deposit transaction or a chama STK request).
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "pending"
	StatusSent       PaymentStatus = "sent"
	StatusProcessing PaymentStatus = "processing"
	StatusCompleted  PaymentStatus = "completed"
	StatusFailed     PaymentStatus = "failed"
)

// paymentTransitions is the closed set of legal status moves. Anything
// not listed here is rejected by the services before touching the DB.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	StatusPending:    {StatusSent, StatusProcessing, StatusCompleted, StatusFailed},
	StatusSent:       {StatusProcessing, StatusCompleted, StatusFailed, StatusSent},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// Terminal reports whether the status admits no further transitions.
func (s PaymentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is legal.
// sent -> sent is allowed: a retried STK push refreshes the record
// without changing its lifecycle position.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OpenStatuses lists the non-terminal payment statuses, for use in
// "find everything still in flight" queries.
func OpenStatuses() []PaymentStatus {
	return []PaymentStatus{StatusPending, StatusSent, StatusProcessing}
}

// CycleStatus is the lifecycle state of a collection cycle.
type CycleStatus string

const (
	CycleCollecting CycleStatus = "collecting"
	CycleCollected  CycleStatus = "collected"
	CycleCompleted  CycleStatus = "completed"
	CycleFailed     CycleStatus = "failed"
)

// Open reports whether the cycle still blocks a new collection round.
func (s CycleStatus) Open() bool {
	return s == CycleCollecting || s == CycleCollected
}
