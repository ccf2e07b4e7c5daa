package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	nativeoracle "cdpchain/native/oracle"
	"cdpchain/services/vaultd/oracle"
)

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// HTTPDoer is the subset of http.Client used by the HTTP adapters.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CoinGecko queries the public simple/price endpoint. The quote asset is the
// collateral (mapped to a CoinGecko id) and the base is the pricing currency.
type CoinGecko struct {
	client   HTTPDoer
	name     string
	endpoint string
	idMap    map[string]string
}

// NewCoinGecko constructs a new adapter. idMap allows the caller to map
// collateral symbols to CoinGecko asset identifiers.
func NewCoinGecko(client HTTPDoer, name, endpoint string, idMap map[string]string) *CoinGecko {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	mapped := make(map[string]string, len(idMap))
	for k, v := range idMap {
		mapped[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return &CoinGecko{client: client, name: name, endpoint: ep, idMap: mapped}
}

func (o *CoinGecko) Name() string { return o.name }

func (o *CoinGecko) assetID(symbol string) string {
	if id, ok := o.idMap[strings.ToUpper(strings.TrimSpace(symbol))]; ok && id != "" {
		return id
	}
	return strings.ToLower(strings.TrimSpace(symbol))
}

// Fetch returns the price of one unit of quote denominated in base.
func (o *CoinGecko) Fetch(ctx context.Context, base, quote string) (oracle.Quote, error) {
	baseSym := strings.ToLower(strings.TrimSpace(base))
	id := o.assetID(quote)
	if id == "" || baseSym == "" {
		return oracle.Quote{}, fmt.Errorf("coingecko: unmapped pair %s/%s", base, quote)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint, nil)
	if err != nil {
		return oracle.Quote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", baseSym)
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	resp, err := o.client.Do(req)
	if err != nil {
		return oracle.Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return oracle.Quote{}, fmt.Errorf("coingecko: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return oracle.Quote{}, fmt.Errorf("coingecko: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return oracle.Quote{}, fmt.Errorf("coingecko: quote missing for %s", id)
	}
	raw, ok := entry[baseSym]
	if !ok || strings.TrimSpace(raw.String()) == "" {
		return oracle.Quote{}, fmt.Errorf("coingecko: empty price")
	}
	rat, ok := new(big.Rat).SetString(raw.String())
	if !ok || rat.Sign() <= 0 {
		return oracle.Quote{}, fmt.Errorf("coingecko: invalid rate %q", raw.String())
	}
	price, err := nativeoracle.FromRat(rat)
	if err != nil {
		return oracle.Quote{}, fmt.Errorf("coingecko: %w", err)
	}
	var ts time.Time
	if rawTs, exists := entry["last_updated_at"]; exists {
		if parsed, err := strconv.ParseInt(rawTs.String(), 10, 64); err == nil && parsed > 0 {
			ts = time.Unix(parsed, 0)
		}
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return oracle.Quote{Price: price, Timestamp: ts}, nil
}
