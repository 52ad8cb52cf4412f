package handlers

import (
	"net/http"

	"github.com/antinvestor/service-checkout/apps/default/service/business"
	"github.com/antinvestor/service-checkout/apps/default/service/models"
	"github.com/antinvestor/service-checkout/apps/default/service/validation"
)

type phoneRequest struct {
	Phone    string `json:"phone"`
	Provider string `json:"provider" validate:"omitempty,oneof=mpesa eagle_mpesa eagle_mtn eagle_airtel"`
}

type phoneResponse struct {
	validation.Result
	MSISDN string `json:"msisdn,omitempty"`
}

// ValidatePhone reports whether a number is acceptable for a provider. A
// rejected number is still a 200, the result carries the reason.
func (cs *CheckoutServer) ValidatePhone(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := readJSON(w, r, &req, false); err != nil {
		cs.writeError(w, r, err)
		return
	}

	provider := validation.Provider(req.Provider)
	if provider == "" {
		provider = validation.ProviderMpesa
	}

	response := phoneResponse{Result: validation.ValidatePhone(req.Phone, provider)}
	if response.Valid && cs.CountryCode != "" {
		msisdn, err := validation.ToMSISDN(response.Normalized, cs.CountryCode)
		if err == nil {
			response.MSISDN = msisdn
		}
	}
	cs.respond(w, r, http.StatusOK, response)
}

// ReceiveNotification accepts payment notifications pushed over HTTP
// instead of the message channel.
func (cs *CheckoutServer) ReceiveNotification(w http.ResponseWriter, r *http.Request) {
	var envelope struct {
		Channel string               `json:"channel"`
		Data    *models.Notification `json:"data" validate:"required"`
	}
	if err := readJSON(w, r, &envelope, false); err != nil {
		cs.writeError(w, r, err)
		return
	}

	logger := cs.Service.L(r.Context()).
		WithField("type", "NotificationHandler").
		WithField("channel", envelope.Channel)

	result, err := cs.Checkout.HandleNotification(r.Context(), envelope.Data)
	if err != nil {
		logger.WithError(err).Warn("could not handle payment notification")
		cs.writeError(w, r, err)
		return
	}

	logger.WithField("sessions", result.Sessions).Info("payment notification received")
	cs.respond(w, r, http.StatusOK, result)
}

func (cs *CheckoutServer) WebRedirect(w http.ResponseWriter, r *http.Request) {
	var req business.RedirectRequest
	if err := readJSON(w, r, &req, false); err != nil {
		cs.writeError(w, r, err)
		return
	}

	redirect, err := business.RedirectForm(req)
	if err != nil {
		cs.writeError(w, r, err)
		return
	}
	cs.respond(w, r, http.StatusOK, redirect)
}
