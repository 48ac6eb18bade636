package ledger

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusDraft, StatusReserved},
		{StatusDraft, StatusCancelled},
		{StatusReserved, StatusAwaitingPayment},
		{StatusReserved, StatusCancelled},
		{StatusAwaitingPayment, StatusPaid},
		{StatusAwaitingPayment, StatusCancelled},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("expected %s -> %s to be allowed", tr.from, tr.to)
		}
	}

	forbidden := []struct{ from, to Status }{
		{StatusDraft, StatusAwaitingPayment}, // no skipping states
		{StatusDraft, StatusPaid},
		{StatusReserved, StatusPaid},
		{StatusPaid, StatusCancelled}, // terminal states are immutable
		{StatusPaid, StatusAwaitingPayment},
		{StatusCancelled, StatusPaid},
		{StatusCancelled, StatusReserved},
		{StatusAwaitingPayment, StatusReserved}, // no going backwards
	}
	for _, tr := range forbidden {
		if CanTransition(tr.from, tr.to) {
			t.Errorf("expected %s -> %s to be forbidden", tr.from, tr.to)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusPaid, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusDraft, StatusReserved, StatusAwaitingPayment} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestLocalPaymentStatus(t *testing.T) {
	cases := map[string]PaymentStatus{
		"approved":   PaymentPaid,
		"rejected":   PaymentFailed,
		"cancelled":  PaymentFailed,
		"pending":    PaymentPending,
		"in_process": PaymentPending,
		"":           PaymentPending,
	}
	for provider, want := range cases {
		if got := LocalPaymentStatus(provider); got != want {
			t.Errorf("LocalPaymentStatus(%q) = %s, want %s", provider, got, want)
		}
	}
}
