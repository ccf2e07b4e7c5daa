package server

import (
	"fmt"
	"net/http"
	"strings"

	"cdpchain/native/vault"
)

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "admin"
	}
	err := s.deps.Engine.Atomic(func() error {
		return s.deps.Feed.SetDecimal(s.cfg.OracleOwner, req.Price, source)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	price := s.deps.Feed.LatestPrice()
	principal, _ := PrincipalFromContext(r.Context())
	s.logger.Info("price set by administrator", "account", principal.Account.String(), "price", price.Dec(), "source", source)
	s.recordTotals()
	writeJSON(w, http.StatusOK, map[string]any{
		"price":     price.Dec(),
		"source":    s.deps.Feed.Source(),
		"updatedAt": s.deps.Feed.UpdatedAt().Unix(),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	module := strings.TrimSpace(req.Module)
	if module == "" {
		module = vault.ModuleName
	}
	s.deps.Pauses.Set(module, req.Paused)
	if strings.EqualFold(module, vault.ModuleName) {
		s.vaults.SetPause(req.Paused)
	}
	principal, _ := PrincipalFromContext(r.Context())
	s.logger.Warn("module pause toggled", "account", principal.Account.String(), "module", module, "paused", req.Paused)
	writeJSON(w, http.StatusOK, map[string]any{"paused": s.deps.Pauses.Paused()})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	spender := s.deps.Engine.ModuleAddress()
	if strings.TrimSpace(req.Spender) != "" {
		parsed, err := parseAddress("spender", req.Spender)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		spender = parsed
	}
	amount, err := parseAllowance(req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// Ledger writes go through Atomic so they never land inside a vault
	// operation's journal window.
	err = s.deps.Engine.Atomic(func() error {
		if !s.deps.Ledger.Approve(principal.Account, spender, amount) {
			return fmt.Errorf("%w: approval rejected", errInvalidInput)
		}
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     principal.Account.String(),
		"spender":   spender.String(),
		"allowance": s.deps.Ledger.Allowance(principal.Account, spender).Dec(),
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	err = s.deps.Engine.Atomic(func() error {
		return s.deps.Ledger.TransferChecked(principal.Account, to, amount)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"from":    principal.Account.String(),
		"to":      to.String(),
		"amount":  amount.Dec(),
		"balance": s.deps.Ledger.BalanceOf(principal.Account).Dec(),
	})
}
