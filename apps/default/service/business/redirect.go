package business

import (
	"net/http"
	"slices"
	"strings"

	"github.com/antinvestor/service-checkout/apps/default/service/validation"
)

const (
	ProviderCodeEagle = "eagle"

	eagleProcessAction = "/payment/eagle/process"
)

// SupportedCurrencies lists the ISO 4217 codes the eagle gateway settles in.
var SupportedCurrencies = []string{"UGX", "KES"}

type RedirectRequest struct {
	ProviderCode  string `json:"provider_code" validate:"required"`
	PaymentMethod string `json:"payment_method"`
	Phone         string `json:"phone"`
	Reference     string `json:"reference" validate:"required"`
	Currency      string `json:"currency"`
}

// Redirect describes the form the storefront submits to continue a web
// payment. Delegate means the provider is not ours and the storefront keeps
// its default flow.
type Redirect struct {
	Delegate bool              `json:"delegate"`
	Action   string            `json:"action,omitempty"`
	Method   string            `json:"method,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	Phone    string            `json:"phone,omitempty"`
}

// RedirectForm builds the redirect for a web checkout.
func RedirectForm(req RedirectRequest) (*Redirect, error) {
	if req.ProviderCode != ProviderCodeEagle {
		return &Redirect{Delegate: true}, nil
	}
	if req.Reference == "" {
		return nil, &ValidationError{Field: "reference", Message: MessageFillRequired}
	}

	if req.Currency != "" && !slices.Contains(SupportedCurrencies, strings.ToUpper(req.Currency)) {
		return nil, &ValidationError{Field: "currency", Message: "Currency " + req.Currency + " is not supported"}
	}

	provider := validation.Provider(req.PaymentMethod)
	switch provider {
	case validation.ProviderEagleMTN, validation.ProviderEagleAirtel, validation.ProviderEagleMpesa:
	default:
		return nil, &ValidationError{Field: "payment_method", Message: "Unknown payment method " + req.PaymentMethod}
	}

	phone := validation.ValidatePhone(req.Phone, provider)
	if !phone.Valid {
		return nil, phoneValidationError(phone)
	}

	return &Redirect{
		Action: eagleProcessAction,
		Method: http.MethodPost,
		Fields: map[string]string{"reference": req.Reference},
		Phone:  phone.Normalized,
	}, nil
}
