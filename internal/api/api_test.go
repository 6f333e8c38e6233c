package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mxwtnb/ampo/internal/amm"
	"github.com/mxwtnb/ampo/internal/api"
	"github.com/mxwtnb/ampo/internal/engine"
	"github.com/mxwtnb/ampo/internal/observability"
	"github.com/mxwtnb/ampo/internal/testutil"
)

func newRouter(t *testing.T) (*gin.Engine, *engine.Engine, *amm.Simulator) {
	t.Helper()
	sim := amm.NewSimulator()
	eng := engine.New(sim, sim, zerolog.Nop(), nil, nil)
	health := observability.NewHealthChecker()
	health.SetReady(true)
	srv := api.NewServer(eng, nil, health, zerolog.Nop(), nil)
	return srv.Router(), eng, sim
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func initPool(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := do(t, r, http.MethodPost, "/v1/pools", map[string]any{
		"id":                testutil.PoolA.Hex(),
		"range_lower":       -600,
		"range_upper":       600,
		"tick_spacing":      60,
		"fee_rate":          3000,
		"payment_is_token0": true,
		"asset0":            testutil.Token0.Hex(),
		"asset1":            testutil.Token1.Hex(),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("initialize pool: status %d body %s", w.Code, w.Body)
	}
	return testutil.PoolA.Hex()
}

// ============================================================================
// Test: health endpoints
// ============================================================================

func TestHealthEndpoints(t *testing.T) {
	r, _, _ := newRouter(t)

	if w := do(t, r, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("healthz status got %d, want 200", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/readyz", nil); w.Code != http.StatusOK {
		t.Errorf("readyz status got %d, want 200", w.Code)
	}
}

// ============================================================================
// Test: pool lifecycle over HTTP
// ============================================================================

func TestInitializeAndGetPool(t *testing.T) {
	r, _, _ := newRouter(t)
	id := initPool(t, r)

	w := do(t, r, http.MethodGet, "/v1/pools/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get pool: status %d body %s", w.Code, w.Body)
	}

	var view struct {
		ID         string `json:"id"`
		RangeLower int32  `json:"range_lower"`
		RangeUpper int32  `json:"range_upper"`
		FeeRate    int64  `json:"fee_rate"`
		Manager    string `json:"manager"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ID != id || view.RangeLower != -600 || view.RangeUpper != 600 || view.FeeRate != 3000 {
		t.Errorf("view got %+v", view)
	}
	if view.Manager != "" {
		t.Errorf("fresh pool manager got %q, want empty", view.Manager)
	}
}

func TestInitialize_DuplicateConflicts(t *testing.T) {
	r, _, _ := newRouter(t)
	initPool(t, r)

	w := do(t, r, http.MethodPost, "/v1/pools", map[string]any{
		"id":           testutil.PoolA.Hex(),
		"range_lower":  -600,
		"range_upper":  600,
		"tick_spacing": 60,
		"asset0":       testutil.Token0.Hex(),
		"asset1":       testutil.Token1.Hex(),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate initialize status got %d, want 409", w.Code)
	}
}

func TestDepositAndGetAccount(t *testing.T) {
	r, _, sim := newRouter(t)
	id := initPool(t, r)
	sim.Fund(testutil.Token0, testutil.Alice, 10_000_000)

	w := do(t, r, http.MethodPost, fmt.Sprintf("/v1/pools/%s/deposit", id), map[string]any{
		"account": testutil.Alice.Hex(),
		"amount":  1_000_000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit: status %d body %s", w.Code, w.Body)
	}

	w = do(t, r, http.MethodGet, fmt.Sprintf("/v1/pools/%s/accounts/%s", id, testutil.Alice.Hex()), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get account: status %d body %s", w.Code, w.Body)
	}
	var view struct {
		Balance int64 `json:"balance"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Balance != 1_000_000 {
		t.Errorf("balance got %d, want 1000000", view.Balance)
	}
}

func TestDeposit_RejectsNonPositiveAmount(t *testing.T) {
	r, _, _ := newRouter(t)
	id := initPool(t, r)

	w := do(t, r, http.MethodPost, fmt.Sprintf("/v1/pools/%s/deposit", id), map[string]any{
		"account": testutil.Alice.Hex(),
		"amount":  -5,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative deposit status got %d, want 400", w.Code)
	}
}

// ============================================================================
// Test: error mapping
// ============================================================================

func TestErrorMapping(t *testing.T) {
	r, _, sim := newRouter(t)
	id := initPool(t, r)
	sim.Fund(testutil.Token0, testutil.Alice, 10_000_000)

	// Unknown pool -> 404.
	w := do(t, r, http.MethodPost, fmt.Sprintf("/v1/pools/%s/deposit", testutil.PoolB.Hex()), map[string]any{
		"account": testutil.Alice.Hex(),
		"amount":  100,
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown pool status got %d, want 404", w.Code)
	}

	// Malformed pool ID -> 400.
	w = do(t, r, http.MethodGet, "/v1/pools/not-a-hash", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad pool id status got %d, want 400", w.Code)
	}

	// Funding rate from a non-manager -> 403.
	w = do(t, r, http.MethodPost, fmt.Sprintf("/v1/pools/%s/funding-rate", id), map[string]any{
		"caller": testutil.Alice.Hex(),
		"rate":   100,
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("non-manager funding rate status got %d, want 403", w.Code)
	}

	// Withdraw past the balance -> 409.
	w = do(t, r, http.MethodPost, fmt.Sprintf("/v1/pools/%s/withdraw", id), map[string]any{
		"account": testutil.Alice.Hex(),
		"amount":  1,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("overdraw status got %d, want 409", w.Code)
	}

	// Event log disabled -> 501.
	w = do(t, r, http.MethodGet, fmt.Sprintf("/v1/pools/%s/events", id), nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("events without log status got %d, want 501", w.Code)
	}
}

// ============================================================================
// Test: bid over HTTP
// ============================================================================

func TestBidInstallsManager(t *testing.T) {
	r, eng, sim := newRouter(t)
	id := initPool(t, r)
	sim.Fund(testutil.Token0, testutil.Alice, 100_000_000)

	w := do(t, r, http.MethodPost, fmt.Sprintf("/v1/pools/%s/deposit", id), map[string]any{
		"account": testutil.Alice.Hex(),
		"amount":  50_000_000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit: status %d body %s", w.Code, w.Body)
	}

	w = do(t, r, http.MethodPost, fmt.Sprintf("/v1/pools/%s/bid", id), map[string]any{
		"bidder": testutil.Alice.Hex(),
		"rent":   100,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("bid: status %d body %s", w.Code, w.Body)
	}

	p, err := eng.Registry().Get(testutil.PoolA)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if p.State.Manager != testutil.Alice || p.State.Rent != 100 {
		t.Errorf("manager/rent got %s/%d, want %s/100", p.State.Manager, p.State.Rent, testutil.Alice)
	}
}
