package router

import (
	"net/http"

	"github.com/antinvestor/service-checkout/apps/default/service/handlers"
	"github.com/gorilla/mux"
)

func NewRouter(cs *handlers.CheckoutServer) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	// Health check endpoint
	router.HandleFunc("/health", handlers.HealthHandler).Methods(http.MethodGet)

	router.HandleFunc("/phone/validate", cs.ValidatePhone).Methods(http.MethodPost)
	router.HandleFunc("/notifications", cs.ReceiveNotification).Methods(http.MethodPost)
	router.HandleFunc("/web/redirect", cs.WebRedirect).Methods(http.MethodPost)

	router.HandleFunc("/sessions", cs.OpenSession).Methods(http.MethodPost)

	sessions := router.PathPrefix("/sessions").Subrouter()
	sessions.HandleFunc("/{id}", cs.GetSession).Methods(http.MethodGet)
	sessions.HandleFunc("/{id}/payments", cs.InitiatePayment).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/payments/check", cs.CheckPayment).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/payments/unpaid", cs.RecordUnpaid).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/cancel", cs.CancelPayment).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/commit", cs.CommitSession).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/temporary-order", cs.CreateTemporaryOrder).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/attempts", cs.ListAttempts).Methods(http.MethodGet)
	sessions.HandleFunc("/{id}/attempts/{attempt}/statuses", cs.ListAttemptStatuses).Methods(http.MethodGet)
	sessions.HandleFunc("/{id}/events", cs.SessionEvents).Methods(http.MethodGet)

	return router
}
