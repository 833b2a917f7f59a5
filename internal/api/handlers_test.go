package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/suntouch/lifecycle-service/internal/app"
	"github.com/suntouch/lifecycle-service/internal/catalog"
	"github.com/suntouch/lifecycle-service/internal/domain"
	"github.com/suntouch/lifecycle-service/internal/store"
	"github.com/suntouch/lifecycle-service/pkg/biostar"
)

// apiRepoStub backs the handler tests with an in-memory customer set.
type apiRepoStub struct {
	store.Repository

	customers map[uuid.UUID]*domain.Customer
	listed    []domain.Customer

	createdTransaction *domain.Transaction
	createdMembership  *domain.Membership
	updates            []store.UpdateCustomerParams
}

func newAPIRepoStub() *apiRepoStub {
	return &apiRepoStub{customers: make(map[uuid.UUID]*domain.Customer)}
}

func (s *apiRepoStub) FindCustomerByID(ctx context.Context, customerID uuid.UUID) (*domain.Customer, error) {
	if c, ok := s.customers[customerID]; ok {
		clone := *c
		return &clone, nil
	}
	return nil, store.ErrCustomerNotFound
}

func (s *apiRepoStub) ListCustomers(ctx context.Context, opts domain.CustomerListOptions) ([]domain.Customer, error) {
	return s.listed, nil
}

func (s *apiRepoStub) UpdateCustomer(ctx context.Context, customerID uuid.UUID, params store.UpdateCustomerParams) error {
	s.updates = append(s.updates, params)
	return nil
}

func (s *apiRepoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.createdTransaction = tx
	return nil
}

func (s *apiRepoStub) FindActiveMembershipByType(ctx context.Context, customerID uuid.UUID, membershipType string) (*domain.Membership, error) {
	return nil, store.ErrMembershipNotFound
}

func (s *apiRepoStub) CreateMembership(ctx context.Context, membership *domain.Membership) error {
	s.createdMembership = membership
	return nil
}

type noopMessenger struct{}

func (noopMessenger) SendTemplate(ctx context.Context, to, templateKey string, params map[string]string) error {
	return nil
}

func newTestHandler(repo *apiRepoStub, cfg HandlerConfig) *Handler {
	svc := app.NewService(repo, noopMessenger{}, nil, nil, "972", 90, app.Links{})
	return NewHandler(svc, repo, nil, nil, nil, cfg)
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWhatsAppVerifyHandshake(t *testing.T) {
	h := newTestHandler(newAPIRepoStub(), HandlerConfig{WhatsAppVerifyToken: "verify-me"})

	req := httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	h.handleWhatsAppVerify(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "12345" {
		t.Fatalf("expected challenge echo, got %q", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec = httptest.NewRecorder()
	h.handleWhatsAppVerify(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad verify token, got %d", rec.Code)
	}
}

func TestWhatsAppWebhookRejectsBadSignature(t *testing.T) {
	h := newTestHandler(newAPIRepoStub(), HandlerConfig{WhatsAppAppSecret: "app-secret"})

	body := []byte(`{"entry":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	h.handleWhatsAppWebhook(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}
}

func TestWhatsAppWebhookAcceptsValidSignature(t *testing.T) {
	h := newTestHandler(newAPIRepoStub(), HandlerConfig{WhatsAppAppSecret: "app-secret"})

	body := []byte(`{"entry":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", signBody("app-secret", body))
	rec := httptest.NewRecorder()
	h.handleWhatsAppWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid signature, got %d", rec.Code)
	}
}

func TestCardcomWebhookRejectsUnknownTerminal(t *testing.T) {
	h := newTestHandler(newAPIRepoStub(), HandlerConfig{CardcomTerminal: "1000"})

	payload := map[string]interface{}{"TerminalNumber": "9999", "ResponseCode": 0}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/cardcom", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleCardcomWebhook(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown terminal, got %d", rec.Code)
	}
}

func TestCardcomWebhookAcksDeclines(t *testing.T) {
	h := newTestHandler(newAPIRepoStub(), HandlerConfig{CardcomTerminal: "1000"})

	payload := map[string]interface{}{"TerminalNumber": "1000", "ResponseCode": 33, "Description": "declined"}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/cardcom", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleCardcomWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected declines to be acked with 200, got %d", rec.Code)
	}
}

func TestCardcomWebhookRejectsBadReturnValue(t *testing.T) {
	h := newTestHandler(newAPIRepoStub(), HandlerConfig{CardcomTerminal: "1000"})

	payload := map[string]interface{}{"TerminalNumber": "1000", "ResponseCode": 0, "ReturnValue": "not-a-pair"}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/cardcom", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleCardcomWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unusable return value, got %d", rec.Code)
	}
}

func TestCardcomWebhookProcessesPayment(t *testing.T) {
	repo := newAPIRepoStub()
	customer := &domain.Customer{ID: uuid.New(), Phone: "972501234567", Stage: domain.StagePaymentPending}
	repo.customers[customer.ID] = customer
	h := newTestHandler(repo, HandlerConfig{CardcomTerminal: "1000"})

	payload := map[string]interface{}{
		"TerminalNumber": "1000",
		"ResponseCode":   0,
		"TranzactionId":  555001,
		"Amount":         299.0,
		"ReturnValue":    customer.ID.String() + "|sunbed-10",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/cardcom", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleCardcomWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if repo.createdTransaction == nil {
		t.Fatal("expected a transaction record")
	}
	if repo.createdTransaction.Amount != 29900 {
		t.Fatalf("expected amount 29900 agorot, got %d", repo.createdTransaction.Amount)
	}
	if repo.createdTransaction.ExternalTransactionID != "cardcom-555001" {
		t.Fatalf("unexpected external id %q", repo.createdTransaction.ExternalTransactionID)
	}
	if repo.createdMembership == nil || repo.createdMembership.Balance != 10 {
		t.Fatalf("expected 10 sessions credited, got %+v", repo.createdMembership)
	}
}

func TestCardcomWebhookRejectsUnevenCustomAmount(t *testing.T) {
	repo := newAPIRepoStub()
	customer := &domain.Customer{ID: uuid.New(), Phone: "972501234567", Stage: domain.StagePaymentPending}
	repo.customers[customer.ID] = customer
	h := newTestHandler(repo, HandlerConfig{CardcomTerminal: "1000"})

	payload := map[string]interface{}{
		"TerminalNumber": "1000",
		"ResponseCode":   0,
		"TranzactionId":  555003,
		"Amount":         460.0,
		"ReturnValue":    customer.ID.String() + "|" + catalog.CustomTanID,
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/cardcom", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleCardcomWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an uneven custom-tan amount, got %d", rec.Code)
	}
	if repo.createdTransaction != nil {
		t.Fatal("expected no transaction for an invalid custom amount")
	}
}

func TestCardcomWebhookUnknownCustomerReturns404(t *testing.T) {
	h := newTestHandler(newAPIRepoStub(), HandlerConfig{CardcomTerminal: "1000"})

	payload := map[string]interface{}{
		"TerminalNumber": "1000",
		"ResponseCode":   0,
		"TranzactionId":  555002,
		"Amount":         299.0,
		"ReturnValue":    uuid.New().String() + "|sunbed-10",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/cardcom", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleCardcomWebhook(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown customer, got %d", rec.Code)
	}
}

func TestParseReturnValue(t *testing.T) {
	customerID := uuid.New()

	gotID, gotPkg, err := parseReturnValue(customerID.String() + "|sunbed-6")
	if err != nil {
		t.Fatalf("parseReturnValue returned error: %v", err)
	}
	if gotID != customerID || gotPkg != "sunbed-6" {
		t.Fatalf("unexpected parse result: %s %s", gotID, gotPkg)
	}

	bad := []string{"", "no-pipe", "not-a-uuid|pkg", customerID.String() + "|"}
	for _, value := range bad {
		if _, _, err := parseReturnValue(value); err == nil {
			t.Fatalf("expected error for %q", value)
		}
	}
}

func TestListPackagesEndpoint(t *testing.T) {
	h := newTestHandler(newAPIRepoStub(), HandlerConfig{})
	router := NewRouter(h, "test-secret")

	req := httptest.NewRequest(http.MethodGet, "/packages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var packages []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &packages); err != nil {
		t.Fatalf("failed to decode packages: %v", err)
	}
	if len(packages) != 7 {
		t.Fatalf("expected 7 catalog packages, got %d", len(packages))
	}
}

func TestGetPackageEndpoint(t *testing.T) {
	h := newTestHandler(newAPIRepoStub(), HandlerConfig{})
	router := NewRouter(h, "test-secret")

	req := httptest.NewRequest(http.MethodGet, "/packages/sunbed-6", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/packages/no-such-package", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown package, got %d", rec.Code)
	}
}

func TestCustomQuoteEndpoint(t *testing.T) {
	h := newTestHandler(newAPIRepoStub(), HandlerConfig{})
	router := NewRouter(h, "test-secret")

	body := bytes.NewBufferString(`{"sessions":8}`)
	req := httptest.NewRequest(http.MethodPost, "/packages/custom-quote", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var pkg map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &pkg); err != nil {
		t.Fatalf("failed to decode quote: %v", err)
	}
	if pkg["price"] != float64(36000) {
		t.Fatalf("expected price 36000, got %v", pkg["price"])
	}

	body = bytes.NewBufferString(`{"sessions":2}`)
	req = httptest.NewRequest(http.MethodPost, "/packages/custom-quote", body)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range sessions, got %d", rec.Code)
	}
}

func TestHealthFormEndpoint(t *testing.T) {
	repo := newAPIRepoStub()
	customer := &domain.Customer{ID: uuid.New(), Phone: "972501234567", Stage: domain.StageHealthFormSent}
	repo.customers[customer.ID] = customer
	h := newTestHandler(repo, HandlerConfig{})
	router := NewRouter(h, "test-secret")

	body := bytes.NewBufferString(`{"customer_id":"` + customer.ID.String() + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/onboarding/health-form", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(repo.updates) != 1 || repo.updates[0].HealthFormSigned == nil {
		t.Fatal("expected the health form flag to be written")
	}
}

func TestFaceCaptureEndpointEnrollsAndActivates(t *testing.T) {
	var enrolled struct {
		User struct {
			UserID string `json:"user_id"`
			Name   string `json:"name"`
			Faces  []struct {
				RawImage string `json:"raw_image"`
			} `json:"credentials_face"`
		} `json:"User"`
	}
	biostarServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&enrolled); err != nil {
			t.Errorf("failed to decode enrollment payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"User":{"user_id":"` + enrolled.User.UserID + `"}}`))
	}))
	defer biostarServer.Close()

	repo := newAPIRepoStub()
	customer := &domain.Customer{
		ID:       uuid.New(),
		Phone:    "972501234567",
		FullName: "Dana",
		Stage:    domain.StageHealthFormCompleted,
	}
	repo.customers[customer.ID] = customer

	svc := app.NewService(repo, noopMessenger{}, nil, nil, "972", 90, app.Links{})
	faces := biostar.NewClient(biostarServer.URL, "session-key")
	h := NewHandler(svc, repo, nil, faces, nil, HandlerConfig{})
	router := NewRouter(h, "test-secret")

	body := bytes.NewBufferString(`{"customer_id":"` + customer.ID.String() + `","image_base64":"aW1n"}`)
	req := httptest.NewRequest(http.MethodPost, "/onboarding/face", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if enrolled.User.UserID != customer.ID.String() {
		t.Fatalf("expected enrollment under the customer id, got %q", enrolled.User.UserID)
	}
	if enrolled.User.Name != "Dana" {
		t.Fatalf("expected enrollment under the customer name, got %q", enrolled.User.Name)
	}
	if len(enrolled.User.Faces) != 1 || enrolled.User.Faces[0].RawImage != "aW1n" {
		t.Fatalf("expected the captured image to be attached, got %+v", enrolled.User.Faces)
	}

	var storedFaceID bool
	for _, params := range repo.updates {
		if params.FaceRecognitionID != nil && *params.FaceRecognitionID == customer.ID.String() {
			storedFaceID = true
		}
	}
	if !storedFaceID {
		t.Fatal("expected the returned biostar user id to be stored on the customer")
	}
}

func TestAdminRoutesRequireJWT(t *testing.T) {
	repo := newAPIRepoStub()
	repo.listed = []domain.Customer{{ID: uuid.New(), Stage: domain.StageActive}}
	h := newTestHandler(repo, HandlerConfig{})
	router := NewRouter(h, "test-secret")

	// No token.
	req := httptest.NewRequest(http.MethodGet, "/admin/customers", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}

	// Token signed with the wrong secret.
	badToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "staff-1"}).SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/admin/customers", nil)
	req.Header.Set("Authorization", "Bearer "+badToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a token with the wrong secret, got %d", rec.Code)
	}

	// Valid token.
	goodToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "staff-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/admin/customers", nil)
	req.Header.Set("Authorization", "Bearer "+goodToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with a valid token, got %d: %s", rec.Code, rec.Body.String())
	}

	var customers []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &customers); err != nil {
		t.Fatalf("failed to decode customers: %v", err)
	}
	if len(customers) != 1 {
		t.Fatalf("expected 1 customer, got %d", len(customers))
	}
}
