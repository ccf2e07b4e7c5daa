package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/holiman/uint256"

	"cdpchain/crypto"
	"cdpchain/native/bank"
	nativecommon "cdpchain/native/common"
	nativeoracle "cdpchain/native/oracle"
	"cdpchain/native/token"
	"cdpchain/native/vault"
	"cdpchain/services/vaultd/storage"
)

const maxBodyBytes = 1 << 20

var (
	errRateLimited  = errors.New("rate limit exceeded")
	errInvalidInput = errors.New("invalid request")
)

// Amounts travel as base-unit integer strings so that no precision is lost.

type amountRequest struct {
	Amount string `json:"amount"`
}

type openRequest struct {
	Collateral string `json:"collateral"`
	Mint       string `json:"mint"`
}

type liquidateRequest struct {
	Account string `json:"account"`
	Debt    string `json:"debt"`
}

type ratiosRequest struct {
	Accounts []string `json:"accounts"`
}

type priceRequest struct {
	Price  string `json:"price"`
	Source string `json:"source"`
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type approveRequest struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type vaultResponse struct {
	Account         string `json:"account"`
	Collateral      string `json:"collateral"`
	Debt            string `json:"debt"`
	CollateralValue string `json:"collateralValue"`
	Ratio           string `json:"ratio"`
	Unbounded       bool   `json:"ratioUnbounded,omitempty"`
	Liquidatable    bool   `json:"liquidatable"`
	Parked          string `json:"parked"`
}

type liquidationResponse struct {
	DebtCovered      string `json:"debtCovered"`
	CollateralSeized string `json:"collateralSeized"`
	Refunded         string `json:"refunded"`
	Parked           string `json:"parked"`
	RemainingDebt    string `json:"remainingDebt"`
	Closed           bool   `json:"closed"`
}

type statusResponse struct {
	TotalCollateral   string          `json:"totalCollateral"`
	TotalDebt         string          `json:"totalDebt"`
	TotalLiquidations uint64          `json:"totalLiquidations"`
	TotalParked       string          `json:"totalParked"`
	CollateralValue   string          `json:"collateralValue"`
	Ratio             string          `json:"ratio"`
	Price             string          `json:"price"`
	PriceDecimal      string          `json:"priceDecimal"`
	PriceFresh        bool            `json:"priceFresh"`
	VaultCount        int             `json:"vaultCount"`
	Paused            bool            `json:"paused"`
	PausedModules     []string        `json:"pausedModules"`
	Oracle            *oracleSnapshot `json:"oracle,omitempty"`
}

type oracleSnapshot struct {
	Median     string   `json:"median"`
	Feeders    []string `json:"feeders"`
	ProofID    string   `json:"proofId"`
	ObservedAt int64    `json:"observedAt"`
}

type balanceResponse struct {
	Account         string `json:"account"`
	DebtToken       string `json:"debtToken"`
	DebtBalance     string `json:"debtBalance"`
	EngineAllowance string `json:"engineAllowance"`
	CollateralAsset string `json:"collateralAsset"`
	Collateral      string `json:"collateral"`
}

type eventsResponse struct {
	Events []storage.EventRecord `json:"events"`
	Next   int64                 `json:"next,omitempty"`
}

func vaultView(info vault.VaultInfo) vaultResponse {
	return vaultResponse{
		Account:         info.Account.String(),
		Collateral:      info.Collateral.Dec(),
		Debt:            info.Debt.Dec(),
		CollateralValue: info.CollateralValue.Dec(),
		Ratio:           info.Ratio.Dec(),
		Unbounded:       info.Ratio.Eq(vault.MaxRatio()),
		Liquidatable:    info.Liquidatable,
		Parked:          info.Parked.Dec(),
	}
}

func liquidationView(res vault.LiquidationResult) liquidationResponse {
	return liquidationResponse{
		DebtCovered:      res.DebtCovered.Dec(),
		CollateralSeized: res.CollateralSeized.Dec(),
		Refunded:         res.Refunded.Dec(),
		Parked:           res.Parked.Dec(),
		RemainingDebt:    res.RemainingDebt.Dec(),
		Closed:           res.Closed,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidInput, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", errInvalidInput)
	}
	return nil
}

// parseAmount parses a base-unit integer string. Empty input is zero when
// optional is set.
func parseAmount(field, raw string, optional bool) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if optional {
			return new(uint256.Int), nil
		}
		return nil, fmt.Errorf("%w: %s required", errInvalidInput, field)
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a base-unit integer: %v", errInvalidInput, field, err)
	}
	return value, nil
}

func parseAddress(field, raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %s: %v", errInvalidInput, field, err)
	}
	return addr, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil && strings.TrimSpace(err.Error()) != "" {
		message = strings.TrimSpace(err.Error())
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errInvalidInput),
		errors.Is(err, vault.ErrArithmetic),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrInvalidRecipient),
		errors.Is(err, bank.ErrInvalidAmount),
		errors.Is(err, nativeoracle.ErrInvalidPrice):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrNoVault), errors.Is(err, vault.ErrNothingToClaim):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrInsufficientCollateral),
		errors.Is(err, vault.ErrVaultNotLiquidatable),
		errors.Is(err, vault.ErrAmountTooSmall),
		errors.Is(err, vault.ErrExcessiveRepayment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, vault.ErrTransferFailed),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, bank.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, vault.ErrPriceStale), errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, nativeoracle.ErrNotOwner), errors.Is(err, token.ErrNotOwner):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
