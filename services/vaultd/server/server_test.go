package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"cdpchain/core/events"
	"cdpchain/crypto"
	"cdpchain/services/vaultd/config"
	"cdpchain/services/vaultd/indexer"
	"cdpchain/services/vaultd/node"
	"cdpchain/services/vaultd/storage"
)

const testSecret = "vaultd-test-secret"

type harness struct {
	srv   *Server
	node  *node.Node
	store *storage.Storage
	alice crypto.Address
	bob   crypto.Address
	admin crypto.Address
}

func testAccount(b byte) crypto.Address {
	return crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{b}, 20))
}

func newHarness(t *testing.T, limit RateLimit) *harness {
	t.Helper()
	alice, bob, admin := testAccount(0xA1), testAccount(0xB2), testAccount(0xC3)
	n, err := node.Build(config.Config{
		Assets: config.AssetConfig{Collateral: "ETH", DebtToken: "CUSD"},
		Genesis: []config.Allocation{
			{Account: alice.String(), Collateral: "10"},
			{Account: bob.String(), Collateral: "10"},
		},
	}, nil, nil)
	require.NoError(t, err)

	store, err := storage.Open(storage.MemoryDSN(strings.ReplaceAll(t.Name(), "/", "_")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv, err := New(Config{
		Auth:        AuthConfig{HMACSecret: testSecret},
		RateLimit:   limit,
		OracleOwner: n.OracleOwner,
		Pair:        storage.PairKey("USD", "ETH"),
	}, Deps{
		Engine: n.Engine,
		Ledger: n.Ledger,
		Bank:   n.Bank,
		Feed:   n.Feed,
		Pauses: n.Pauses,
		Store:  store,
		Bus:    n.Bus,
	})
	require.NoError(t, err)
	return &harness{srv: srv, node: n, store: store, alice: alice, bob: bob, admin: admin}
}

func signToken(t *testing.T, subject crypto.Address, scopes ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": subject.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if len(scopes) > 0 {
		claims["scope"] = strings.Join(scopes, " ")
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func (h *harness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (h *harness) setPrice(t *testing.T, price string) {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/v1/admin/price", signToken(t, h.admin, ScopeAdmin), map[string]string{"price": price})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func units(n string) string {
	return n + "000000000000000000"
}

func TestVaultLifecycle(t *testing.T) {
	h := newHarness(t, RateLimit{})
	h.setPrice(t, "2000")
	token := signToken(t, h.alice)

	rec := h.do(t, http.MethodPost, "/v1/vaults/open", token, map[string]string{"collateral": units("2"), "mint": units("1000")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	opened := decode[vaultResponse](t, rec)
	require.Equal(t, units("2"), opened.Collateral)
	require.Equal(t, units("1000"), opened.Debt)
	require.Equal(t, "400", opened.Ratio)

	rec = h.do(t, http.MethodPost, "/v1/vaults/mint", token, map[string]string{"amount": units("100")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, units("1100"), decode[vaultResponse](t, rec).Debt)

	rec = h.do(t, http.MethodPost, "/v1/token/approve", token, map[string]string{"amount": "max"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/v1/vaults/repay", token, map[string]string{"amount": units("600")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	repaid := decode[struct {
		Released string        `json:"released"`
		Vault    vaultResponse `json:"vault"`
	}](t, rec)
	require.Equal(t, units("500"), repaid.Vault.Debt)
	require.NotEqual(t, "0", repaid.Released)

	rec = h.do(t, http.MethodGet, "/v1/token/"+h.alice.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decode[balanceResponse](t, rec)
	require.Equal(t, units("500"), balance.DebtBalance)
	require.Equal(t, "CUSD", balance.DebtToken)

	rec = h.do(t, http.MethodGet, "/v1/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[statusResponse](t, rec)
	require.Equal(t, units("500"), status.TotalDebt)
	require.Equal(t, 1, status.VaultCount)
	require.True(t, status.PriceFresh)
	require.True(t, strings.HasPrefix(status.PriceDecimal, "2000."), status.PriceDecimal)

	rec = h.do(t, http.MethodGet, "/v1/owners", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	owners := decode[struct {
		Owners []string `json:"owners"`
		Total  int      `json:"total"`
	}](t, rec)
	require.Equal(t, []string{h.alice.String()}, owners.Owners)
	require.Equal(t, 1, owners.Total)
}

func TestLiquidationOverHTTP(t *testing.T) {
	h := newHarness(t, RateLimit{})
	h.setPrice(t, "2000")
	aliceToken := signToken(t, h.alice)
	bobToken := signToken(t, h.bob)

	rec := h.do(t, http.MethodPost, "/v1/vaults/open", aliceToken, map[string]string{"collateral": units("5"), "mint": units("2000")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = h.do(t, http.MethodPost, "/v1/vaults/open", bobToken, map[string]string{"collateral": units("1"), "mint": units("1000")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/v1/vaults/liquidate", aliceToken, map[string]string{"account": h.bob.String(), "debt": units("500")})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	h.setPrice(t, "1200")

	rec = h.do(t, http.MethodGet, "/v1/liquidatable", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{h.bob.String()}, decode[struct {
		Accounts []string `json:"accounts"`
	}](t, rec).Accounts)

	rec = h.do(t, http.MethodGet, "/v1/vaults/"+h.bob.String()+"/profit?debt="+units("500"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEqual(t, "0", decode[map[string]string](t, rec)["profit"])

	rec = h.do(t, http.MethodPost, "/v1/token/approve", aliceToken, map[string]string{"amount": "max"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/v1/vaults/liquidate", aliceToken, map[string]string{"account": h.bob.String(), "debt": units("500")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[liquidationResponse](t, rec)
	require.Equal(t, units("500"), result.DebtCovered)
	require.Equal(t, "437500000000000000", result.CollateralSeized)
	require.False(t, result.Closed)

	rec = h.do(t, http.MethodGet, "/v1/vaults/"+h.bob.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, units("500"), decode[vaultResponse](t, rec).Debt)
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t, RateLimit{})

	rec := h.do(t, http.MethodPost, "/v1/vaults/open", "", map[string]string{"collateral": units("1")})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/vaults/open", "not-a-token", map[string]string{"collateral": units("1")})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": h.alice.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	rec = h.do(t, http.MethodPost, "/v1/vaults/open", forged, map[string]string{"collateral": units("1")})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/admin/price", signToken(t, h.alice), map[string]string{"price": "1"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t, RateLimit{})
	token := signToken(t, h.alice)

	rec := h.do(t, http.MethodPost, "/v1/vaults/open", token, map[string]string{"collateral": units("1"), "mint": units("100")})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, "unset price is stale")

	h.setPrice(t, "2000")

	rec = h.do(t, http.MethodPost, "/v1/vaults/mint", token, map[string]string{"amount": units("100")})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/vaults/open", token, map[string]string{"collateral": "abc"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/vaults/open", token, map[string]any{"collateral": units("1"), "extra": true})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/vaults/open", token, map[string]string{"collateral": units("1"), "mint": units("1500")})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/vaults/claim", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/vaults/nonsense", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	admin := signToken(t, h.admin, ScopeAdmin)
	rec = h.do(t, http.MethodPost, "/v1/admin/pause", admin, map[string]any{"paused": true})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, http.MethodPost, "/v1/vaults/open", token, map[string]string{"collateral": units("1"), "mint": units("100")})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = h.do(t, http.MethodGet, "/v1/status", "", nil)
	require.True(t, decode[statusResponse](t, rec).Paused)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, RateLimit{RequestsPerMinute: 1, Burst: 1})

	rec := h.do(t, http.MethodGet, "/v1/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, http.MethodGet, "/v1/status", "", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = h.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestEventsListing(t *testing.T) {
	h := newHarness(t, RateLimit{})
	ix, err := indexer.New(h.store)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	sub := h.node.Bus.Subscribe(256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ix.Run(ctx, sub)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h.setPrice(t, "2000")
	rec := h.do(t, http.MethodPost, "/v1/vaults/open", signToken(t, h.alice), map[string]string{"collateral": units("1"), "mint": units("100")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		rec := h.do(t, http.MethodGet, "/v1/events?type="+events.TypeVaultOpened, "", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		return len(decode[eventsResponse](t, rec).Events) == 1
	}, 2*time.Second, 20*time.Millisecond)

	rec = h.do(t, http.MethodGet, "/v1/events?account="+h.alice.String()+"&limit=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[eventsResponse](t, rec)
	require.Len(t, page.Events, 1)
	require.NotZero(t, page.Next)
}

func TestEventStream(t *testing.T) {
	h := newHarness(t, RateLimit{})
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/ws?type=" + events.TypePriceUpdated
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return h.node.Bus.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	h.setPrice(t, "1850.5")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt streamedEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, events.TypePriceUpdated, evt.Type)
}
