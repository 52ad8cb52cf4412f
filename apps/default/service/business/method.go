package business

import (
	"github.com/antinvestor/service-checkout/apps/default/service/session"
	"github.com/shopspring/decimal"
)

// LineMethod is the payment method configured on a payment line.
type LineMethod struct {
	IsMpesa       bool `json:"is_mpesa"`
	IsTillPayment bool `json:"is_till_payment"`
}

// PaymentLine is one tender on the order being paid.
type PaymentLine struct {
	Amount decimal.Decimal `json:"amount"`
	Method LineMethod      `json:"method"`
}

// PaymentMethod is decided once when a checkout is opened.
type PaymentMethod struct {
	Kind  session.Kind
	Total decimal.Decimal
}

// ResolveMethod totals the lines and decides which confirmation flow they
// need. Any till line puts the whole checkout in till mode, since the till
// dialog confirms by amount and covers the STK lines as well.
func ResolveMethod(lines []PaymentLine) PaymentMethod {
	var (
		mpesa, till bool
		total       = decimal.Zero
	)
	for _, line := range lines {
		total = total.Add(line.Amount)
		if line.Method.IsTillPayment {
			till = true
		} else if line.Method.IsMpesa {
			mpesa = true
		}
	}

	method := PaymentMethod{Kind: session.KindStandard, Total: total}
	switch {
	case till:
		method.Kind = session.KindTill
	case mpesa:
		method.Kind = session.KindMpesa
	}
	return method
}
