package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/LinePilot/internal/models"
)

// fakeCarrier is an httptest-backed carrier API with an OAuth2 token endpoint.
type fakeCarrier struct {
	server      *httptest.Server
	tokenCalls  int32
	planCalls   int32
	tokenStatus atomic.Int32
	planDelay   atomic.Int64

	mu          sync.Mutex
	lastAuth    string
	lastTenant  string
	lastSwapReq map[string]string
}

func newFakeCarrier(t *testing.T) *fakeCarrier {
	t.Helper()
	f := &fakeCarrier{}
	f.tokenStatus.Store(http.StatusOK)
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.tokenCalls, 1)
		if status := int(f.tokenStatus.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/plans", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.planCalls, 1)
		f.record(r)
		if d := time.Duration(f.planDelay.Load()); d > 0 {
			time.Sleep(d)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{
				{"id": "plan-basic", "name": "Basic", "price": 40, "price_type": "monthly"},
				{"id": "plan-unlimited", "name": "Unlimited", "price": 65, "price_type": "monthly"},
			},
		})
	})
	mux.HandleFunc("/v1/devices", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{
				{"id": "iphone-16", "name": "iPhone 16", "brand": "Apple", "price": 799, "price_type": "one_time"},
				{"id": "pixel-9", "name": "Pixel 9", "brand": "Google", "price": 699, "price_type": "one_time"},
			},
		})
	})
	mux.HandleFunc("/v1/devices/iphone-16/protection", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]interface{}{{"id": "protect-basic", "name": "Device Protection", "price": 9}},
		})
	})
	mux.HandleFunc("/v1/coverage/", func(w http.ResponseWriter, r *http.Request) {
		zip := strings.TrimPrefix(r.URL.Path, "/v1/coverage/")
		if zip == "00000" {
			http.Error(w, "unknown zip", http.StatusNotFound)
			return
		}
		if zip == "11111" {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(models.CoverageResult{Covered: true, Networks: []string{"5G"}})
	})
	mux.HandleFunc("/v1/devices/imei/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.DeviceCompatibility{Compatible: true, Make: "Apple", Model: "iPhone 15", ESIMCapable: true})
	})
	mux.HandleFunc("/v1/customers/cust-1/sim-swap", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastSwapReq = body
		f.mu.Unlock()
		json.NewEncoder(w).Encode(models.SIMSwapResult{Status: "PENDING", TransactionID: "tx-9"})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeCarrier) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAuth = r.Header.Get("Authorization")
	f.lastTenant = r.Header.Get(TenantHeader)
}

func (f *fakeCarrier) client(t *testing.T, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithBaseURL(f.server.URL + "/v1/"),
		WithTenantID("tenant-a"),
		WithClientID("linepilot"),
		WithClientSecret("secret"),
		WithTokenURL(f.server.URL + "/oauth/token"),
		WithRateLimit(0),
		WithHTTPClient(f.server.Client()),
	}
	c, err := NewClient(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	t.Setenv("CARRIER_BASE_URL", "")
	if _, err := NewClient(); !errors.Is(err, ErrBaseURLRequired) {
		t.Fatalf("expected ErrBaseURLRequired, got %v", err)
	}
}

func TestNewClientRequiresTokenURLWithClientID(t *testing.T) {
	t.Setenv("CARRIER_TOKEN_URL", "")
	if _, err := NewClient(WithBaseURL("http://localhost"), WithClientID("id")); err == nil {
		t.Fatal("expected error when client id is set without a token URL")
	}
}

func TestClientSendsBearerAndTenant(t *testing.T) {
	f := newFakeCarrier(t)
	c := f.client(t)

	plans, err := c.Plans(context.Background())
	if err != nil {
		t.Fatalf("Plans failed: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(plans))
	}
	if plans[0].Type != models.ItemPlan {
		t.Errorf("expected missing type to default to plan, got %q", plans[0].Type)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastAuth != "Bearer tok-123" {
		t.Errorf("expected bearer token, got %q", f.lastAuth)
	}
	if f.lastTenant != "tenant-a" {
		t.Errorf("expected tenant header, got %q", f.lastTenant)
	}
}

func TestClientReusesToken(t *testing.T) {
	f := newFakeCarrier(t)
	c := f.client(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.CheckCoverage(ctx, "94105"); err != nil {
			t.Fatalf("CheckCoverage failed: %v", err)
		}
	}
	if got := atomic.LoadInt32(&f.tokenCalls); got != 1 {
		t.Errorf("expected one token fetch, got %d", got)
	}
}

func TestCatalogIsCached(t *testing.T) {
	f := newFakeCarrier(t)
	c := f.client(t)
	ctx := context.Background()

	first, _ := c.Plans(ctx)
	first[0].Name = "mutated"
	second, err := c.Plans(ctx)
	if err != nil {
		t.Fatalf("Plans failed: %v", err)
	}
	if got := atomic.LoadInt32(&f.planCalls); got != 1 {
		t.Errorf("expected one upstream call, got %d", got)
	}
	if second[0].Name != "Basic" {
		t.Errorf("cached catalog was mutated through a returned slice: %q", second[0].Name)
	}

	c.InvalidateCatalog()
	if _, err := c.Plans(ctx); err != nil {
		t.Fatalf("Plans failed: %v", err)
	}
	if got := atomic.LoadInt32(&f.planCalls); got != 2 {
		t.Errorf("expected refetch after invalidation, got %d calls", got)
	}
}

func TestConcurrentCatalogFetchesCoalesce(t *testing.T) {
	f := newFakeCarrier(t)
	f.planDelay.Store(int64(100 * time.Millisecond))
	c := f.client(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Plans(context.Background()); err != nil {
				t.Errorf("Plans failed: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&f.planCalls); got != 1 {
		t.Errorf("expected concurrent fetches to share one request, got %d", got)
	}
}

func TestCanceledCallerDoesNotFailSharedFetch(t *testing.T) {
	f := newFakeCarrier(t)
	f.planDelay.Store(int64(200 * time.Millisecond))
	c := f.client(t)

	ctx, cancel := context.WithCancel(context.Background())
	canceledErr := make(chan error, 1)
	go func() {
		_, err := c.Plans(ctx)
		canceledErr <- err
	}()
	sharedErr := make(chan error, 1)
	go func() {
		plans, err := c.Plans(context.Background())
		if err == nil && len(plans) != 2 {
			err = errors.New("unexpected plan count")
		}
		sharedErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-canceledErr; !errors.Is(err, context.Canceled) {
		t.Errorf("expected the canceled caller to see context.Canceled, got %v", err)
	}
	if err := <-sharedErr; err != nil {
		t.Fatalf("waiting caller failed: %v", err)
	}
	if got := atomic.LoadInt32(&f.planCalls); got != 1 {
		t.Errorf("expected one upstream call, got %d", got)
	}
	if _, err := c.Plans(context.Background()); err != nil {
		t.Fatalf("Plans failed: %v", err)
	}
	if got := atomic.LoadInt32(&f.planCalls); got != 1 {
		t.Errorf("expected the shared fetch to fill the cache, got %d calls", got)
	}
}

func TestDevicesFilterAndProtection(t *testing.T) {
	f := newFakeCarrier(t)
	c := f.client(t)
	ctx := context.Background()

	devices, err := c.Devices(ctx, models.DeviceFilter{Brand: "google"})
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "pixel-9" {
		t.Errorf("expected only the Pixel, got %+v", devices)
	}

	prot, err := c.Protection(ctx, "iphone-16")
	if err != nil {
		t.Fatalf("Protection failed: %v", err)
	}
	if len(prot) != 1 || prot[0].Type != models.ItemProtection {
		t.Errorf("unexpected protection catalog %+v", prot)
	}
}

func TestAPIErrorsCarryStatus(t *testing.T) {
	f := newFakeCarrier(t)
	c := f.client(t)

	tests := []struct {
		zip    string
		status int
	}{
		{"00000", http.StatusNotFound},
		{"11111", http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		_, err := c.CheckCoverage(context.Background(), tt.zip)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError for %s, got %v", tt.zip, err)
		}
		if apiErr.HTTPStatus() != tt.status {
			t.Errorf("zip %s: expected status %d, got %d", tt.zip, tt.status, apiErr.HTTPStatus())
		}
		if apiErr.Op != "coverage" {
			t.Errorf("expected op coverage, got %q", apiErr.Op)
		}
	}
}

func TestTokenFailureSurfacesStatus(t *testing.T) {
	f := newFakeCarrier(t)
	f.tokenStatus.Store(http.StatusUnauthorized)
	c := f.client(t)

	_, err := c.Plans(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 from token endpoint, got %d", apiErr.StatusCode)
	}
	if atomic.LoadInt32(&f.planCalls) != 0 {
		t.Error("API should not be called without a token")
	}
}

func TestTransportFailureHasNoStatus(t *testing.T) {
	f := newFakeCarrier(t)
	c := f.client(t, WithClientID(""))
	f.server.Close()

	_, err := c.ValidateIMEI(context.Background(), "356938035643809")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.HTTPStatus() != 0 {
		t.Errorf("expected zero status for transport failure, got %d", apiErr.HTTPStatus())
	}
}

func TestCanceledContextStopsRequest(t *testing.T) {
	f := newFakeCarrier(t)
	c := f.client(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.CheckCoverage(ctx, "94105"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestValidateIMEIAndSwapSIM(t *testing.T) {
	f := newFakeCarrier(t)
	c := f.client(t)
	ctx := context.Background()

	compat, err := c.ValidateIMEI(ctx, "356938035643809")
	if err != nil {
		t.Fatalf("ValidateIMEI failed: %v", err)
	}
	if !compat.Compatible || compat.IMEI != "356938035643809" {
		t.Errorf("unexpected compatibility %+v", compat)
	}

	res, err := c.SwapSIM(ctx, models.SIMSwapRequest{CustomerID: "cust-1", ICCID: "8901260000000000001", SimType: models.SimPSIM})
	if err != nil {
		t.Fatalf("SwapSIM failed: %v", err)
	}
	if res.Status != "PENDING" || res.TransactionID != "tx-9" {
		t.Errorf("unexpected swap result %+v", res)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastSwapReq["iccid"] != "8901260000000000001" || f.lastSwapReq["sim_type"] != "PSIM" {
		t.Errorf("unexpected swap request body %+v", f.lastSwapReq)
	}
}
