// Package node assembles the vault engine and its native collaborators from
// service configuration.
package node

import (
	"fmt"
	"log/slog"

	"cdpchain/core/events"
	"cdpchain/crypto"
	"cdpchain/native/bank"
	nativecommon "cdpchain/native/common"
	nativeoracle "cdpchain/native/oracle"
	"cdpchain/native/token"
	"cdpchain/native/vault"
	"cdpchain/observability"
	"cdpchain/services/vaultd/config"
	"cdpchain/storage"
)

// Module names used to derive native module accounts.
const (
	VaultModule  = "vault"
	OracleModule = "oracle"
)

// Node bundles the wired native modules.
type Node struct {
	Engine *vault.Engine
	Ledger *token.Ledger
	Bank   *bank.Bank
	Feed   *nativeoracle.Feed
	Pauses *nativecommon.PauseSet
	Bus    *events.Bus

	OracleOwner crypto.Address
}

// Build wires an engine with a debt ledger, collateral bank, price feed and
// pause set. When db is non-nil the vault store, ledger and bank are restored
// from it and every committed operation is persisted back; genesis
// allocations are only credited into an empty database.
func Build(cfg config.Config, db storage.Database, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	params, err := cfg.Risk.Params()
	if err != nil {
		return nil, fmt.Errorf("risk parameters: %w", err)
	}

	moduleAddr := crypto.ModuleAddress(VaultModule)
	engine := vault.NewEngine(moduleAddr, params)

	ledger := token.NewLedger(cfg.Assets.DebtToken, moduleAddr)
	collateral := bank.New(cfg.Assets.Collateral)
	oracleOwner := crypto.ModuleAddress(OracleModule)
	feed := nativeoracle.NewFeed(oracleOwner)
	pauses := nativecommon.NewPauseSet()
	store := vault.NewMemStore()

	fresh := true
	if db != nil {
		if err := store.Attach(db); err != nil {
			return nil, fmt.Errorf("restore vaults: %w", err)
		}
		if err := ledger.Attach(db); err != nil {
			return nil, fmt.Errorf("restore debt ledger: %w", err)
		}
		found, err := collateral.Attach(db)
		if err != nil {
			return nil, fmt.Errorf("restore collateral bank: %w", err)
		}
		fresh = !found
		if found {
			logger.Info("state restored", "vaults", store.OwnerCount(), "debt_supply", ledger.TotalSupply().Dec())
		}
	}

	if fresh {
		if err := creditGenesis(collateral, cfg.Genesis, logger); err != nil {
			return nil, err
		}
	}

	bus := events.NewBus(observability.Events())
	engine.SetEmitter(bus)
	ledger.SetEmitter(engine.Events())
	collateral.SetEmitter(engine.Events())
	feed.SetEmitter(engine.Events())

	engine.SetStore(store)
	engine.SetLedger(ledger)
	engine.SetBank(collateral)
	engine.SetPriceSource(feed)
	engine.SetPauses(pauses)
	if db != nil {
		engine.SetDatabase(db)
		// Flush genesis credits.
		if err := engine.Atomic(func() error { return nil }); err != nil {
			return nil, fmt.Errorf("persist genesis: %w", err)
		}
	}

	return &Node{
		Engine:      engine,
		Ledger:      ledger,
		Bank:        collateral,
		Feed:        feed,
		Pauses:      pauses,
		Bus:         bus,
		OracleOwner: oracleOwner,
	}, nil
}

func creditGenesis(collateral *bank.Bank, allocs []config.Allocation, logger *slog.Logger) error {
	for _, alloc := range allocs {
		account, err := crypto.DecodeAddress(alloc.Account)
		if err != nil {
			return fmt.Errorf("genesis account %q: %w", alloc.Account, err)
		}
		amount, err := alloc.Amount()
		if err != nil {
			return fmt.Errorf("genesis amount for %s: %w", alloc.Account, err)
		}
		if err := collateral.Credit(account, amount); err != nil {
			return fmt.Errorf("genesis credit for %s: %w", alloc.Account, err)
		}
		logger.Info("genesis collateral credited", "account", account.String(), "amount", amount.Dec())
	}
	return nil
}
