package finance

import "time"

// =============================================================================
// APPROVAL TICKET - Tagged view of an OperationalTxn's approval slots
// =============================================================================

// ApprovalTicket is one of Unchecked, Checked, Approved, Rejected or
// Cancelled. It is derived from the stored columns by TicketOf so the
// workflow guards switch on a closed set of states instead of probing
// nullable fields.
type ApprovalTicket interface {
	Stage() string
	isTicket()
}

type Unchecked struct{}

type Checked struct {
	By string
	At time.Time
}

type Approved struct {
	CheckedBy string
	By        string
	At        time.Time
}

type Rejected struct {
	By     string
	Reason string
	At     time.Time
}

type Cancelled struct {
	By string
	At time.Time
}

func (Unchecked) Stage() string { return "unchecked" }
func (Checked) Stage() string   { return "checked" }
func (Approved) Stage() string  { return "approved" }
func (Rejected) Stage() string  { return "rejected" }
func (Cancelled) Stage() string { return "cancelled" }

func (Unchecked) isTicket() {}
func (Checked) isTicket()   {}
func (Approved) isTicket()  {}
func (Rejected) isTicket()  {}
func (Cancelled) isTicket() {}

// TicketOf derives the ticket for a stored transaction.
func TicketOf(t OperationalTxn) ApprovalTicket {
	switch t.ApprovalStatus {
	case StatusApproved:
		return Approved{CheckedBy: t.CheckedBy, By: t.ApprovedBy, At: deref(t.ApprovedAt)}
	case StatusRejected:
		return Rejected{By: t.RejectedBy, Reason: t.RejectionReason, At: deref(t.RejectedAt)}
	case StatusCancelled:
		return Cancelled{By: t.CancelledBy, At: deref(t.CancelledAt)}
	}
	if t.CheckedBy != "" {
		return Checked{By: t.CheckedBy, At: deref(t.CheckedAt)}
	}
	return Unchecked{}
}

// sameTicket reports whether two legs are in the same pre-state with the
// same reviewers.
func sameTicket(a, b ApprovalTicket) bool {
	if a.Stage() != b.Stage() {
		return false
	}
	return ticketActor(a) == ticketActor(b)
}

func ticketActor(t ApprovalTicket) string {
	switch v := t.(type) {
	case Checked:
		return v.By
	case Approved:
		return v.By
	case Rejected:
		return v.By
	case Cancelled:
		return v.By
	}
	return ""
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
