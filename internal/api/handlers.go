/**
 * @description
 * This file contains the HTTP handler functions for the lifecycle-service.
 * Handlers are responsible for parsing incoming requests (webhooks from the
 * WhatsApp Cloud API and Cardcom, kiosk onboarding calls, admin reads),
 * calling the appropriate business logic in the service layer, and writing
 * the HTTP response.
 *
 * Key features:
 * - Security: Validates the HMAC-SHA256 signature of incoming WhatsApp
 *   webhooks and the terminal number of Cardcom callbacks.
 * - Parsing: Decodes payloads into strongly-typed Go structs.
 * - Idempotency: Payment callbacks always return 200 for duplicates so the
 *   provider stops retrying.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: Webhook signature validation.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - github.com/google/uuid: Identifier parsing.
 * - The service's internal packages for business logic and storage.
 */
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/suntouch/lifecycle-service/internal/app"
	"github.com/suntouch/lifecycle-service/internal/catalog"
	"github.com/suntouch/lifecycle-service/internal/domain"
	"github.com/suntouch/lifecycle-service/internal/store"
	"github.com/suntouch/lifecycle-service/pkg/biostar"
	"github.com/suntouch/lifecycle-service/pkg/cardcom"
)

// Handler holds the dependencies that the HTTP handlers interact with.
type Handler struct {
	service  *app.Service
	repo     store.Repository
	checkout *cardcom.Client
	faces    *biostar.Client
	guard    *app.RedisWebhookGuard

	whatsappAppSecret   string
	whatsappVerifyToken string
	cardcomTerminal     string
	publicBaseURL       string

	webhookRateLimit int
}

// HandlerConfig carries the static settings the handlers need.
type HandlerConfig struct {
	WhatsAppAppSecret   string
	WhatsAppVerifyToken string
	CardcomTerminal     string
	PublicBaseURL       string
	WebhookRateLimit    int
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(service *app.Service, repo store.Repository, checkout *cardcom.Client, faces *biostar.Client, guard *app.RedisWebhookGuard, cfg HandlerConfig) *Handler {
	if cfg.WebhookRateLimit <= 0 {
		cfg.WebhookRateLimit = 60
	}
	return &Handler{
		service:             service,
		repo:                repo,
		checkout:            checkout,
		faces:               faces,
		guard:               guard,
		whatsappAppSecret:   cfg.WhatsAppAppSecret,
		whatsappVerifyToken: cfg.WhatsAppVerifyToken,
		cardcomTerminal:     cfg.CardcomTerminal,
		publicBaseURL:       strings.TrimRight(cfg.PublicBaseURL, "/"),
		webhookRateLimit:    cfg.WebhookRateLimit,
	}
}

// --- WhatsApp webhook ---

// whatsappWebhookPayload mirrors the Meta Cloud API webhook envelope, reduced
// to the fields the lifecycle flow needs.
type whatsappWebhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From      string `json:"from"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// handleWhatsAppVerify answers the Meta webhook verification handshake.
func (h *Handler) handleWhatsAppVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == h.whatsappVerifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}
	http.Error(w, "Verification failed", http.StatusForbidden)
}

// handleWhatsAppWebhook processes inbound message notifications from the
// WhatsApp Cloud API and feeds them into the lifecycle engine.
func (h *Handler) handleWhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if !h.isValidSignature(r.Header.Get("X-Hub-Signature-256"), body) {
		log.Printf("WARN: WhatsApp webhook rejected, invalid signature from %s", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var payload whatsappWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("WARN: WhatsApp webhook with malformed body: %v", err)
		// Acknowledge anyway so Meta does not retry an unparseable payload.
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.From == "" {
					continue
				}
				if h.guard != nil {
					count, _, err := h.guard.ConsumeRateLimit(r.Context(), "wa", msg.From, h.webhookRateLimit, time.Minute)
					if err == nil && count > h.webhookRateLimit {
						log.Printf("WARN: rate limit exceeded for phone ending %s, dropping message", lastDigits(msg.From, 4))
						continue
					}
				}

				if _, err := h.service.HandleInboundMessage(r.Context(), msg.From, msg.Text.Body); err != nil {
					log.Printf("ERROR: failed to process inbound message: %v", err)
					// Still ack. The consumer path on RabbitMQ is the retry
					// channel; HTTP retries from Meta would double-send.
				}
			}
		}
	}

	w.WriteHeader(http.StatusOK)
}

// isValidSignature checks the HMAC-SHA256 signature Meta attaches to webhook
// deliveries. An empty configured secret disables the check (local dev).
func (h *Handler) isValidSignature(header string, body []byte) bool {
	if h.whatsappAppSecret == "" {
		log.Printf("WARN: WHATSAPP_APP_SECRET not set, skipping signature validation")
		return true
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.whatsappAppSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// --- Cardcom payment webhook ---

// cardcomWebhookPayload mirrors the Cardcom low-profile transaction callback.
type cardcomWebhookPayload struct {
	TerminalNumber string  `json:"TerminalNumber"`
	LowProfileID   string  `json:"LowProfileId"`
	TranzactionID  int64   `json:"TranzactionId"`
	ResponseCode   int     `json:"ResponseCode"`
	Description    string  `json:"Description"`
	Amount         float64 `json:"Amount"`
	ReturnValue    string  `json:"ReturnValue"`
}

// handleCardcomWebhook processes payment confirmations from Cardcom. It
// always returns 200 for duplicate transactions so the gateway stops
// retrying a charge that has already been credited.
func (h *Handler) handleCardcomWebhook(w http.ResponseWriter, r *http.Request) {
	var payload cardcomWebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if h.cardcomTerminal != "" && payload.TerminalNumber != h.cardcomTerminal {
		log.Printf("WARN: Cardcom webhook for unknown terminal %q rejected", payload.TerminalNumber)
		http.Error(w, "Unknown terminal", http.StatusUnauthorized)
		return
	}

	if payload.ResponseCode != 0 {
		// Declines and cancellations are acknowledged and ignored; the
		// customer stays at payment_pending until a successful charge lands.
		log.Printf("level=info component=api msg=\"ignoring non-success cardcom callback\" response_code=%d description=%q", payload.ResponseCode, payload.Description)
		w.WriteHeader(http.StatusOK)
		return
	}

	customerID, packageID, err := parseReturnValue(payload.ReturnValue)
	if err != nil {
		log.Printf("ERROR: Cardcom callback with unusable ReturnValue %q: %v", payload.ReturnValue, err)
		http.Error(w, "Invalid return value", http.StatusBadRequest)
		return
	}

	transactionID := "cardcom-" + strconv.FormatInt(payload.TranzactionID, 10)
	amount := int64(math.Round(payload.Amount * 100))

	err = h.service.HandlePaymentSuccess(r.Context(), customerID, packageID, transactionID, amount)
	switch {
	case err == nil:
		// Duplicates also land here: the service drops redeliveries silently,
		// and a 200 is what stops the gateway from retrying.
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "processed"})
	case errors.Is(err, store.ErrCustomerNotFound):
		http.Error(w, "Customer not found", http.StatusNotFound)
	case errors.Is(err, catalog.ErrPackageNotFound), errors.Is(err, catalog.ErrInvalidSessionCount):
		http.Error(w, "Unknown package", http.StatusBadRequest)
	default:
		log.Printf("ERROR: failed to process payment webhook: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// parseReturnValue splits the "customerID|packageID" pair the checkout flow
// plants in the Cardcom session.
func parseReturnValue(value string) (uuid.UUID, string, error) {
	parts := strings.SplitN(value, "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return uuid.Nil, "", fmt.Errorf("expected customerID|packageID, got %q", value)
	}
	customerID, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid customer id: %w", err)
	}
	return customerID, parts[1], nil
}

// --- Kiosk catalog and checkout ---

// handleListPackages returns the static package catalog, optionally filtered
// by service type.
func (h *Handler) handleListPackages(w http.ResponseWriter, r *http.Request) {
	if t := r.URL.Query().Get("type"); t != "" {
		respondWithJSON(w, http.StatusOK, catalog.GetPackagesByType(t))
		return
	}
	respondWithJSON(w, http.StatusOK, catalog.AllPackages())
}

// handleGetPackage returns a single package by its identifier.
func (h *Handler) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := catalog.GetPackageByID(chi.URLParam(r, "packageID"))
	if err != nil {
		http.Error(w, "Package not found", http.StatusNotFound)
		return
	}
	respondWithJSON(w, http.StatusOK, pkg)
}

// handleCustomQuote prices a custom tanning package for a requested number
// of sessions without opening a checkout session.
func (h *Handler) handleCustomQuote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sessions int `json:"sessions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	pkg, err := catalog.CustomSessionPackage(req.Sessions)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondWithJSON(w, http.StatusOK, pkg)
}

// handleCreateCheckout opens a hosted Cardcom payment page for a customer
// and package, and returns the redirect URL for the kiosk or WhatsApp link.
func (h *Handler) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerID string `json:"customer_id"`
		PackageID  string `json:"package_id"`
		Sessions   int    `json:"sessions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		http.Error(w, "Invalid customer_id", http.StatusBadRequest)
		return
	}
	customer, err := h.repo.FindCustomerByID(r.Context(), customerID)
	if err != nil {
		if errors.Is(err, store.ErrCustomerNotFound) {
			http.Error(w, "Customer not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	pkg, err := h.resolveCheckoutPackage(req.PackageID, req.Sessions)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session, err := h.checkout.CreateCheckoutSession(r.Context(), cardcom.CheckoutRequest{
		CustomerID:  customer.ID.String(),
		PackageID:   pkg.ID,
		ProductName: pkg.NameHE,
		Amount:      pkg.Price,
		Currency:    pkg.Currency,
		SuccessURL:  h.publicBaseURL + "/checkout/success",
		FailureURL:  h.publicBaseURL + "/checkout/failure",
		WebhookURL:  h.publicBaseURL + "/webhooks/cardcom",
	})
	if err != nil {
		log.Printf("ERROR: failed to create checkout session: %v", err)
		http.Error(w, "Payment provider unavailable", http.StatusBadGateway)
		return
	}

	// Best-effort stage note; the session is already created and the webhook
	// will still land regardless of this write.
	if err := h.service.HandleCheckoutOpened(r.Context(), customer.ID); err != nil {
		log.Printf("WARN: failed to record checkout opening for customer %s: %v", customer.ID, err)
	}

	respondWithJSON(w, http.StatusOK, map[string]string{
		"checkout_url":   session.URL,
		"low_profile_id": session.LowProfileID,
	})
}

// resolveCheckoutPackage maps a checkout request onto a catalog package. The
// custom package requires an explicit session count.
func (h *Handler) resolveCheckoutPackage(packageID string, sessions int) (catalog.Package, error) {
	if packageID == catalog.CustomTanID {
		return catalog.CustomSessionPackage(sessions)
	}
	return catalog.GetPackageByID(packageID)
}

// --- Onboarding callbacks ---

// handleHealthFormComplete records a signed health declaration and moves the
// customer forward in the onboarding flow.
func (h *Handler) handleHealthFormComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerID string `json:"customer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		http.Error(w, "Invalid customer_id", http.StatusBadRequest)
		return
	}

	if err := h.service.HandleHealthFormComplete(r.Context(), customerID); err != nil {
		if errors.Is(err, store.ErrCustomerNotFound) {
			http.Error(w, "Customer not found", http.StatusNotFound)
			return
		}
		log.Printf("ERROR: failed to record health form completion: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// handleFaceCapture enrolls a captured face image with the access-control
// system and records the returned identifier on the customer.
func (h *Handler) handleFaceCapture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerID  string `json:"customer_id"`
		ImageBase64 string `json:"image_base64"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		http.Error(w, "Invalid customer_id", http.StatusBadRequest)
		return
	}
	if req.ImageBase64 == "" {
		http.Error(w, "image_base64 is required", http.StatusBadRequest)
		return
	}

	customer, err := h.repo.FindCustomerByID(r.Context(), customerID)
	if err != nil {
		if errors.Is(err, store.ErrCustomerNotFound) {
			http.Error(w, "Customer not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	faceID, err := h.faces.EnrollFace(r.Context(), biostar.EnrollRequest{
		CustomerID:  customer.ID.String(),
		FullName:    customer.FullName,
		ImageBase64: req.ImageBase64,
	})
	if err != nil {
		log.Printf("ERROR: face enrollment failed for customer %s: %v", customer.ID, err)
		http.Error(w, "Face enrollment failed", http.StatusBadGateway)
		return
	}

	if err := h.service.HandleFaceRegistrationComplete(r.Context(), customerID, faceID); err != nil {
		log.Printf("ERROR: failed to record face enrollment: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"face_recognition_id": faceID})
}

// --- Admin reads ---

// handleListCustomers returns a paginated customer list for the back office.
func (h *Handler) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	opts := domain.CustomerListOptions{
		Stage:  r.URL.Query().Get("stage"),
		Search: r.URL.Query().Get("search"),
		Limit:  parseIntParam(r, "limit", 50),
		Offset: parseIntParam(r, "offset", 0),
	}
	if opts.Stage != "" && !domain.Stage(opts.Stage).Known() {
		http.Error(w, "Unknown stage filter", http.StatusBadRequest)
		return
	}

	customers, err := h.repo.ListCustomers(r.Context(), opts)
	if err != nil {
		log.Printf("ERROR: failed to list customers: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, http.StatusOK, customers)
}

// handleGetCustomer returns a single customer record.
func (h *Handler) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "customerID"))
	if err != nil {
		http.Error(w, "Invalid customer ID", http.StatusBadRequest)
		return
	}

	customer, err := h.repo.FindCustomerByID(r.Context(), customerID)
	if err != nil {
		if errors.Is(err, store.ErrCustomerNotFound) {
			http.Error(w, "Customer not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, http.StatusOK, customer)
}

// handleListCustomerMemberships returns a customer's membership records.
func (h *Handler) handleListCustomerMemberships(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "customerID"))
	if err != nil {
		http.Error(w, "Invalid customer ID", http.StatusBadRequest)
		return
	}

	memberships, err := h.repo.FindMembershipsByCustomer(r.Context(), customerID)
	if err != nil {
		log.Printf("ERROR: failed to list memberships: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, http.StatusOK, memberships)
}

// handleListCustomerTransactions returns a customer's payment history.
func (h *Handler) handleListCustomerTransactions(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "customerID"))
	if err != nil {
		http.Error(w, "Invalid customer ID", http.StatusBadRequest)
		return
	}

	transactions, err := h.repo.FindTransactionsByCustomer(r.Context(), customerID)
	if err != nil {
		log.Printf("ERROR: failed to list transactions: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	respondWithJSON(w, http.StatusOK, transactions)
}

// --- Helpers ---

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func lastDigits(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
