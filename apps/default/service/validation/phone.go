package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// Provider identifies the payment method a phone number is validated for.
type Provider string

const (
	ProviderEagleMTN    Provider = "eagle_mtn"
	ProviderEagleAirtel Provider = "eagle_airtel"
	ProviderEagleMpesa  Provider = "eagle_mpesa"
	ProviderMpesa       Provider = "mpesa"
)

// Reason explains why a phone number was rejected.
type Reason string

const (
	ReasonNone   Reason = ""
	ReasonEmpty  Reason = "empty"
	ReasonPrefix Reason = "prefix"
	ReasonLength Reason = "length"
)

const localNumberLength = 10

var (
	nonDigits    = regexp.MustCompile(`\D`)
	mtnPrefix    = regexp.MustCompile(`^(077|078|076|039|031)`)
	airtelPrefix = regexp.MustCompile(`^(070|075|074|020)`)
)

// Result is the outcome of validating a phone number.
type Result struct {
	Valid      bool     `json:"valid"`
	Provider   Provider `json:"provider"`
	Normalized string   `json:"normalized,omitempty"`
	Reason     Reason   `json:"reason,omitempty"`
	Message    string   `json:"message,omitempty"`

	// Field is the error slot the checkout form renders Message in.
	Field string `json:"field"`
}

// Normalize strips every non digit and turns 9 digit local numbers into
// 10 digit ones by prefixing a zero. Other lengths pass through unchanged.
func Normalize(raw string) string {
	cleaned := nonDigits.ReplaceAllString(raw, "")
	if len(cleaned) == localNumberLength-1 {
		return "0" + cleaned
	}
	return cleaned
}

// ValidatePhone checks raw against the prefix and length rules of provider.
func ValidatePhone(raw string, provider Provider) Result {
	result := Result{Provider: provider, Field: provider.errorField()}

	if len(raw) == 0 {
		return result.reject(ReasonEmpty, "Phone Number Cannot be empty!")
	}

	number := Normalize(raw)
	result.Normalized = number

	if prefix := provider.prefixRule(); prefix != nil && !prefix.MatchString(number) {
		return result.reject(ReasonPrefix, fmt.Sprintf("Invalid %s Phone Number!", strings.ToUpper(string(provider))))
	}

	if len(number) != localNumberLength {
		return result.reject(ReasonLength, "Invalid Phone Number!")
	}

	result.Valid = true
	return result
}

// ToMSISDN converts a local 07XXXXXXXX number to its international form,
// e.g. 0712345678 -> 254712345678. Numbers already carrying the country
// code are returned as is.
func ToMSISDN(local, countryCode string) (string, error) {
	number := Normalize(local)
	switch {
	case strings.HasPrefix(number, countryCode):
		return number, nil
	case strings.HasPrefix(number, "0") && len(number) == localNumberLength:
		return countryCode + number[1:], nil
	default:
		return "", fmt.Errorf("invalid phone number format: %q", local)
	}
}

func (r Result) reject(reason Reason, message string) Result {
	r.Valid = false
	r.Reason = reason
	r.Message = message
	return r
}

func (p Provider) prefixRule() *regexp.Regexp {
	switch p {
	case ProviderEagleMTN:
		return mtnPrefix
	case ProviderEagleAirtel:
		return airtelPrefix
	default:
		return nil
	}
}

func (p Provider) errorField() string {
	switch p {
	case ProviderEagleMTN:
		return "invalidMtnNum"
	case ProviderEagleAirtel:
		return "invalidAirtelNum"
	default:
		return "invalidMpesaNum"
	}
}
