package server

import (
	"net/http"
	"time"

	"cdpchain/native/vault"
)

func (s *Server) principal(w http.ResponseWriter, r *http.Request) (*Principal, bool) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, nil)
		return nil, false
	}
	return principal, true
}

// observeOp records the vault operation and, on success, refreshes totals.
func (s *Server) observeOp(op string, start time.Time, err error) {
	s.vaults.Observe(op, time.Since(start), err)
	if err == nil {
		s.recordTotals()
	}
}

func (s *Server) respondVault(w http.ResponseWriter, r *http.Request, status int, extra map[string]any) {
	principal, _ := PrincipalFromContext(r.Context())
	info, err := s.deps.Engine.VaultInfo(principal.Account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if extra == nil {
		writeJSON(w, status, vaultView(info))
		return
	}
	extra["vault"] = vaultView(info)
	writeJSON(w, status, extra)
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req openRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	collateral, err := parseAmount("collateral", req.Collateral, true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	mint, err := parseAmount("mint", req.Mint, true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	start := time.Now()
	err = s.deps.Engine.OpenOrIncrease(principal.Account, collateral, mint)
	s.observeOp("open", start, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondVault(w, r, http.StatusOK, nil)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	start := time.Now()
	err = s.deps.Engine.MintMore(principal.Account, amount)
	s.observeOp("mint", start, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondVault(w, r, http.StatusOK, nil)
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	start := time.Now()
	released, err := s.deps.Engine.RepayAndWithdraw(principal.Account, amount)
	s.observeOp("repay", start, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondVault(w, r, http.StatusOK, map[string]any{"released": released.Dec()})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	start := time.Now()
	err = s.deps.Engine.RemoveCollateral(principal.Account, amount)
	s.observeOp("remove", start, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondVault(w, r, http.StatusOK, nil)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req liquidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	debt, err := parseAmount("debt", req.Debt, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	start := time.Now()
	result, err := s.deps.Engine.Liquidate(principal.Account, account, debt)
	s.observeOp("liquidate", start, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.vaults.RecordLiquidation(liquidationKind(result))
	s.logger.Info("vault liquidated",
		"request_id", RequestIDFromContext(r.Context()),
		"account", account.String(),
		"liquidator", principal.Account.String(),
		"debt_covered", result.DebtCovered.Dec(),
		"collateral_seized", result.CollateralSeized.Dec())
	writeJSON(w, http.StatusOK, liquidationView(result))
}

func liquidationKind(result vault.LiquidationResult) string {
	if result.Closed {
		return "full"
	}
	return "partial"
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	start := time.Now()
	claimed, err := s.deps.Engine.ClaimParked(principal.Account)
	s.observeOp("claim", start, err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"claimed": claimed.Dec()})
}
