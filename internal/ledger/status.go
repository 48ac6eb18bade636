package ledger

type Status string

const (
	StatusDraft           Status = "draft"
	StatusReserved        Status = "reserved"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaid            Status = "paid"
	StatusCancelled       Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusDraft:           {StatusReserved: true, StatusCancelled: true},
	StatusReserved:        {StatusAwaitingPayment: true, StatusCancelled: true},
	StatusAwaitingPayment: {StatusPaid: true, StatusCancelled: true},
	StatusPaid:            {},
	StatusCancelled:       {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}
