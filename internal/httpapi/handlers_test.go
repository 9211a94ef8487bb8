package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kenkotec/backend/internal/cache"
	"kenkotec/backend/internal/domain"
	"kenkotec/backend/internal/service"
	"kenkotec/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopSummaryCache{}, 5, time.Minute)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

// loginAs obtains a bearer token for the given seeded user.
func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("expected access token, got %+v", resp)
	}
	return resp.AccessToken
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "admin", "admin123")
	if token == "" {
		t.Fatal("expected non-empty token")
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	// The loginLimiter allows 5 attempts per minute.
	// Fire 6 requests from the same "IP" (httptest uses RemoteAddr "192.0.2.1:1234").
	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["products"] == nil {
		t.Fatalf("expected products key in response, got %v", body)
	}
}

func TestHandleCreateProduct_RejectsSellerRole(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "vendedor", "seller123")

	payload, _ := json.Marshal(domain.ProductCreateRequest{
		Name:       "Colchão Ortopédico",
		Category:   "Colchões",
		Size:       "Solteiro 0.88",
		Quantity:   3,
		PriceCents: 99000,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	// The seller can reach the route but the service rejects non-admin writes.
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleCheckout_FullPath(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "vendedor", "seller123")

	payload, _ := json.Marshal(domain.CheckoutRequest{
		ClientName:    "Paulo Mendes",
		ClientPhone:   "(11) 98765-4321",
		PaymentMethod: "pix",
		CartItems: []domain.SaleItem{
			{Product: "travesseiro visco", Size: "Padrão", Qty: 2, PriceCents: 15000},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !strings.HasPrefix(resp.Sale.ID, "#") {
		t.Fatalf("expected display sale number, got %q", resp.Sale.ID)
	}
	if resp.Sale.TotalCents != 30000 {
		t.Fatalf("expected total 30000, got %d", resp.Sale.TotalCents)
	}
	if resp.Sale.Seller != "vendedor" {
		t.Fatalf("expected seller from token, got %q", resp.Sale.Seller)
	}

	// The sale should be visible through the sales listing.
	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/sales", nil)
	listReq.Header.Set("Authorization", "Bearer "+token)
	listRec := httptest.NewRecorder()
	handler.ServeHTTP(listRec, listReq)

	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing sales, got %d", listRec.Code)
	}
	if !strings.Contains(listRec.Body.String(), resp.Sale.ID) {
		t.Fatalf("expected sale %s in listing, got %s", resp.Sale.ID, listRec.Body.String())
	}
}

func TestHandleCheckout_EmptyCartReturns400(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "admin", "admin123")

	payload, _ := json.Marshal(domain.CheckoutRequest{
		ClientName: "Sem Carrinho",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleSaleStatus_Patch(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "admin", "admin123")

	checkout, _ := json.Marshal(domain.CheckoutRequest{
		ClientName:    "Rosa Lima",
		PaymentMethod: "cartao",
		CartItems: []domain.SaleItem{
			{Product: "cabeceira estofada", Size: "Queen 1.58", Qty: 1, PriceCents: 89000},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(checkout))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout failed: %d %s", rec.Code, rec.Body.String())
	}

	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode checkout: %v", err)
	}

	// Sale numbers carry a '#', so they must be escaped in the path.
	encodedID := "%23" + strings.TrimPrefix(resp.Sale.ID, "#")
	body, _ := json.Marshal(domain.SaleStatusUpdateRequest{Status: domain.SaleStatusFinalized})
	patch := httptest.NewRequest(http.MethodPatch, "/api/v1/sales/"+encodedID+"/status", bytes.NewReader(body))
	patch.Header.Set("Content-Type", "application/json")
	patch.Header.Set("Authorization", "Bearer "+token)
	patchRec := httptest.NewRecorder()
	handler.ServeHTTP(patchRec, patch)

	if patchRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", patchRec.Code, patchRec.Body.String())
	}
	if !strings.Contains(patchRec.Body.String(), domain.SaleStatusFinalized) {
		t.Fatalf("expected finalized status in response, got %s", patchRec.Body.String())
	}
}

func TestHandleReceipt_HTMLFormat(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "admin", "admin123")

	checkout, _ := json.Marshal(domain.CheckoutRequest{
		ClientName:    "Bruno Costa",
		PaymentMethod: "dinheiro",
		CartItems: []domain.SaleItem{
			{Product: "box baú", Size: "Solteiro 0.88", Qty: 1, PriceCents: 120000},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(checkout))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout failed: %d %s", rec.Code, rec.Body.String())
	}

	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode checkout: %v", err)
	}

	encodedID := "%23" + strings.TrimPrefix(resp.Sale.ID, "#")
	get := httptest.NewRequest(http.MethodGet, "/api/v1/sales/"+encodedID+"/receipt?format=html", nil)
	get.Header.Set("Authorization", "Bearer "+token)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, get)

	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", getRec.Code, getRec.Body.String())
	}
	if ct := getRec.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("expected html content type, got %q", ct)
	}
	if !strings.Contains(getRec.Body.String(), "KENKOTEC") {
		t.Fatalf("expected store header in receipt, got %s", getRec.Body.String())
	}
}

func TestHandleSalesReport_AdminOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	sellerToken := loginAs(t, handler, "vendedor", "seller123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/sales?days=7", nil)
	req.Header.Set("Authorization", "Bearer "+sellerToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for seller, got %d", rec.Code)
	}

	adminToken := loginAs(t, handler, "admin", "admin123")
	adminReq := httptest.NewRequest(http.MethodGet, "/api/v1/reports/sales?days=7", nil)
	adminReq.Header.Set("Authorization", "Bearer "+adminToken)
	adminRec := httptest.NewRecorder()
	handler.ServeHTTP(adminRec, adminReq)

	if adminRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (body: %s)", adminRec.Code, adminRec.Body.String())
	}

	var report domain.SalesReport
	if err := json.NewDecoder(adminRec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Days != 7 || len(report.Daily) != 7 {
		t.Fatalf("expected 7 daily buckets, got days=%d len=%d", report.Days, len(report.Daily))
	}
}

func TestHandleSellers_CreateAndList(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "admin", "admin123")

	payload, _ := json.Marshal(domain.SellerCreateRequest{
		Username: "carla",
		Password: "senha-forte",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/sellers", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	list := httptest.NewRequest(http.MethodGet, "/api/v1/users/sellers", nil)
	list.Header.Set("Authorization", "Bearer "+token)
	listRec := httptest.NewRecorder()
	handler.ServeHTTP(listRec, list)

	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRec.Code)
	}
	if !strings.Contains(listRec.Body.String(), "carla") {
		t.Fatalf("expected new seller in listing, got %s", listRec.Body.String())
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
