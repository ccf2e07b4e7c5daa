package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"cdpchain/crypto"
	nativeoracle "cdpchain/native/oracle"
	"cdpchain/services/vaultd/storage"
)

const (
	defaultPageSize  = 100
	maxPageSize      = 500
	maxBatchAccounts = 256
	maxScanResults   = 1000
)

func (s *Server) pathAccount(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	account, err := parseAddress("account", chi.URLParam(r, "account"))
	if err != nil {
		s.fail(w, r, err)
		return crypto.Address{}, false
	}
	return account, true
}

func queryInt(r *http.Request, name string, fallback, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, errInvalidInput
	}
	if max > 0 && value > max {
		value = max
	}
	return value, nil
}

func (s *Server) handleVaultInfo(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAccount(w, r)
	if !ok {
		return
	}
	info, err := s.deps.Engine.VaultInfo(account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vaultView(info))
}

func (s *Server) handleRatio(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAccount(w, r)
	if !ok {
		return
	}
	ratio, err := s.deps.Engine.CollateralRatio(account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":      account.String(),
		"ratio":        ratio.Dec(),
		"liquidatable": s.deps.Engine.IsLiquidatable(account),
	})
}

func (s *Server) handleProfit(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAccount(w, r)
	if !ok {
		return
	}
	debt, err := parseAmount("debt", r.URL.Query().Get("debt"), false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	profit := s.deps.Engine.CalculateLiquidationProfit(account, debt)
	writeJSON(w, http.StatusOK, map[string]string{"account": account.String(), "debt": debt.Dec(), "profit": profit.Dec()})
}

func (s *Server) handleBatchRatios(w http.ResponseWriter, r *http.Request) {
	var req ratiosRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(req.Accounts) > maxBatchAccounts {
		writeError(w, http.StatusBadRequest, errInvalidInput)
		return
	}
	accounts := make([]crypto.Address, 0, len(req.Accounts))
	for _, raw := range req.Accounts {
		account, err := parseAddress("accounts", raw)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		accounts = append(accounts, account)
	}
	ratios, err := s.deps.Engine.BatchRatios(accounts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]string, 0, len(ratios))
	for _, ratio := range ratios {
		out = append(out, ratio.Dec())
	}
	writeJSON(w, http.StatusOK, map[string]any{"ratios": out})
}

func (s *Server) handleOwners(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0, 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultPageSize, maxPageSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	owners, total := s.deps.Engine.Owners(offset, limit)
	out := make([]string, 0, len(owners))
	for _, owner := range owners {
		out = append(out, owner.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{"owners": out, "total": total, "offset": offset})
}

func (s *Server) handleLiquidatable(w http.ResponseWriter, r *http.Request) {
	max, err := queryInt(r, "max", defaultPageSize, maxScanResults)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	accounts := s.deps.Engine.LiquidatableVaults(max)
	out := make([]string, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, account.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (s *Server) handleRiskiest(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize, maxPageSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	infos, err := s.deps.Engine.RiskiestVaults(limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]vaultResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, vaultView(info))
	}
	writeJSON(w, http.StatusOK, map[string]any{"vaults": out})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Engine.SystemStatus()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := statusResponse{
		TotalCollateral:   status.TotalCollateral.Dec(),
		TotalDebt:         status.TotalDebt.Dec(),
		TotalLiquidations: status.TotalLiquidations,
		TotalParked:       status.TotalParked.Dec(),
		CollateralValue:   status.CollateralValue.Dec(),
		Ratio:             status.Ratio.Dec(),
		Price:             status.Price.Dec(),
		PriceDecimal:      nativeoracle.FormatDecimal(status.Price),
		PriceFresh:        status.PriceFresh,
		VaultCount:        status.VaultCount,
		Paused:            status.Paused,
		PausedModules:     s.deps.Pauses.Paused(),
	}
	if s.cfg.Pair != "" {
		if snap, err := s.deps.Store.LatestSnapshot(r.Context(), s.cfg.Pair); err == nil {
			resp.Oracle = &oracleSnapshot{
				Median:     snap.Median,
				Feeders:    snap.Feeders,
				ProofID:    snap.ProofID,
				ObservedAt: snap.ObservedAt.Unix(),
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Account:         account.String(),
		DebtToken:       s.deps.Ledger.Symbol(),
		DebtBalance:     s.deps.Ledger.BalanceOf(account).Dec(),
		EngineAllowance: s.deps.Ledger.Allowance(account, s.deps.Engine.ModuleAddress()).Dec(),
		CollateralAsset: s.deps.Bank.Asset(),
		Collateral:      s.deps.Bank.Balance(account).Dec(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize, maxPageSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	before, err := queryInt(r, "before", 0, 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	query := storage.EventQuery{
		Type:     strings.TrimSpace(r.URL.Query().Get("type")),
		Account:  strings.TrimSpace(r.URL.Query().Get("account")),
		BeforeID: int64(before),
		Limit:    limit,
	}
	records, err := s.deps.Store.ListEvents(r.Context(), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := eventsResponse{Events: records}
	if len(records) == limit && limit > 0 {
		resp.Next = records[len(records)-1].Seq
	}
	writeJSON(w, http.StatusOK, resp)
}

// unlimitedAllowance is accepted in place of an amount by the approve route.
const unlimitedAllowance = "max"

func parseAllowance(raw string) (*uint256.Int, error) {
	if strings.EqualFold(strings.TrimSpace(raw), unlimitedAllowance) {
		return new(uint256.Int).SetAllOne(), nil
	}
	return parseAmount("amount", raw, false)
}
