package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateLedgerEntry OutboxAggregateType = "ledger_entry"
	AggregateFine        OutboxAggregateType = "fine"
	AggregateCopy        OutboxAggregateType = "copy"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateLedgerEntry,
	AggregateFine,
	AggregateCopy,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventBorrowRequested OutboxEventType = "borrow_requested"
	EventBorrowApproved  OutboxEventType = "borrow_approved"
	EventBorrowRejected  OutboxEventType = "borrow_rejected"
	EventLoanRenewed     OutboxEventType = "loan_renewed"
	EventLoanReturned    OutboxEventType = "loan_returned"
	EventLoanOverdue     OutboxEventType = "loan_overdue"
	EventFineAssessed    OutboxEventType = "fine_assessed"
	EventFinePaid        OutboxEventType = "fine_paid"
	EventCopyStatusSet   OutboxEventType = "copy_status_set"
)

var validOutboxEventTypes = []OutboxEventType{
	EventBorrowRequested,
	EventBorrowApproved,
	EventBorrowRejected,
	EventLoanRenewed,
	EventLoanReturned,
	EventLoanOverdue,
	EventFineAssessed,
	EventFinePaid,
	EventCopyStatusSet,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
