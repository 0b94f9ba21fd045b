package api

import (
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gharti/bike-market/internal/market"
)

// Handler exposes the marketplace over JSON/HTTP. Authentication itself is
// out of scope: the upstream auth layer injects the acting user's id in
// X-User-ID and handlers load the user row to learn the admin flag.
type Handler struct {
	db  *sql.DB
	svc *market.Service
}

func NewHandler(db *sql.DB, svc *market.Service) *Handler {
	return &Handler{db: db, svc: svc}
}

func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	router.HandleFunc("/users", h.CreateUser).Methods(http.MethodPost)
	router.HandleFunc("/users/{id}", h.GetUser).Methods(http.MethodGet)

	router.HandleFunc("/bicycles", h.SubmitListing).Methods(http.MethodPost)
	router.HandleFunc("/bicycles", h.ListBicycles).Methods(http.MethodGet)
	router.HandleFunc("/bicycles/{id}", h.GetBicycle).Methods(http.MethodGet)
	router.HandleFunc("/bicycles/{id}/approve", h.ApproveListing).Methods(http.MethodPatch)
	router.HandleFunc("/bicycles/{id}/withdraw", h.WithdrawListing).Methods(http.MethodPatch)
	router.HandleFunc("/bicycles/{id}/resubmit", h.ResubmitListing).Methods(http.MethodPatch)
	router.HandleFunc("/bicycles/{id}/messages", h.ListThread).Methods(http.MethodGet)
	router.HandleFunc("/bicycles/{id}/messages", h.SendMessage).Methods(http.MethodPost)

	router.HandleFunc("/offers", h.CreateOffer).Methods(http.MethodPost)
	router.HandleFunc("/offers/{id}/accept", h.AcceptOffer).Methods(http.MethodPatch)
	router.HandleFunc("/offers/{id}/reject", h.RejectOffer).Methods(http.MethodPatch)

	router.HandleFunc("/orders", h.CreateOrder).Methods(http.MethodPost)
	router.HandleFunc("/orders", h.ListOrders).Methods(http.MethodGet)
	router.HandleFunc("/orders/{id}", h.GetOrder).Methods(http.MethodGet)
	router.HandleFunc("/orders/{id}/payment-proof", h.SubmitPaymentProof).Methods(http.MethodPost)
	router.HandleFunc("/orders/{id}/confirm-payment", h.AdminConfirmPayment).Methods(http.MethodPatch)
	router.HandleFunc("/orders/{id}/reject-payment", h.AdminRejectPayment).Methods(http.MethodPatch)
	router.HandleFunc("/orders/{id}/approve-sale", h.AdminApproveSale).Methods(http.MethodPatch)
	router.HandleFunc("/orders/{id}/reject-sale", h.AdminRejectSale).Methods(http.MethodPatch)
	router.HandleFunc("/orders/{id}/cancel", h.CancelOrder).Methods(http.MethodPatch)
	router.HandleFunc("/orders/{id}/ship", h.MarkShipped).Methods(http.MethodPatch)
	router.HandleFunc("/orders/{id}/deliver", h.MarkDelivered).Methods(http.MethodPatch)

	router.Use(loggingMiddleware)

	return router
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
