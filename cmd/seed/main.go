// Package main seeds reference data: currencies, exchange rates and
// adjustment reasons. Rows use fixed ids so the command can be rerun.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"stockrecon/internal/config"
	appctx "stockrecon/internal/core/context"
	"stockrecon/internal/core/id"
	"stockrecon/internal/domain/auth"
	"stockrecon/internal/domain/reconciliation"
	"stockrecon/internal/infrastructure/storage/postgres"
	"stockrecon/pkg/logger"
)

var (
	currencyUSD = id.MustParse("0195a1c0-0000-7000-8000-000000000840")
	currencyEUR = id.MustParse("0195a1c0-0000-7000-8000-000000000978")
	currencyJPY = id.MustParse("0195a1c0-0000-7000-8000-000000000392")
)

var currencies = []reconciliation.Currency{
	{ID: currencyUSD, Code: "USD", Symbol: "$", IsDefault: true, DecimalPlaces: 2},
	{ID: currencyEUR, Code: "EUR", Symbol: "€", DecimalPlaces: 2},
	{ID: currencyJPY, Code: "JPY", Symbol: "¥", DecimalPlaces: 0},
}

var rates = []reconciliation.ExchangeRate{
	{FromCurrencyID: currencyEUR, ToCurrencyID: currencyUSD, Rate: decimal.RequireFromString("1.085")},
	{FromCurrencyID: currencyUSD, ToCurrencyID: currencyEUR, Rate: decimal.RequireFromString("0.921659")},
	{FromCurrencyID: currencyJPY, ToCurrencyID: currencyUSD, Rate: decimal.RequireFromString("0.0067")},
	{FromCurrencyID: currencyUSD, ToCurrencyID: currencyJPY, Rate: decimal.RequireFromString("149.25")},
}

var reasons = []reconciliation.AdjustmentReason{
	{ID: id.MustParse("0195a1c0-0001-7000-8000-000000000001"), Name: "Count surplus", AdjustmentType: reconciliation.AdjustmentAdd},
	{ID: id.MustParse("0195a1c0-0001-7000-8000-000000000002"), Name: "Count shortage", AdjustmentType: reconciliation.AdjustmentDeduct},
	{ID: id.MustParse("0195a1c0-0001-7000-8000-000000000003"), Name: "Damaged goods", AdjustmentType: reconciliation.AdjustmentDeduct},
	{ID: id.MustParse("0195a1c0-0001-7000-8000-000000000004"), Name: "Found stock", AdjustmentType: reconciliation.AdjustmentAdd},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: "info", Development: true})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := logger.WithLogger(context.Background(), log)

	poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.ApplicationName = "stockrecon-seed"
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	txm := postgres.NewTxManager(pool)

	if err := txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return seedReferenceData(ctx, txm)
	}); err != nil {
		log.Fatalw("failed to seed reference data", "error", err)
	}
	log.Infow("reference data seeded",
		"currencies", len(currencies), "exchange_rates", len(rates), "adjustment_reasons", len(reasons))

	if cfg.IsDevelopment() {
		if err := printDevToken(cfg); err != nil {
			log.Warnw("failed to issue development token", "error", err)
		}
	}
}

func seedReferenceData(ctx context.Context, txm *postgres.TxManager) error {
	batch := &pgx.Batch{}
	for _, c := range currencies {
		batch.Queue(`
			INSERT INTO cat_currencies (id, code, symbol, is_default, decimal_places)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET code = EXCLUDED.code, symbol = EXCLUDED.symbol, decimal_places = EXCLUDED.decimal_places`,
			c.ID, c.Code, c.Symbol, c.IsDefault, c.DecimalPlaces)
	}
	for _, r := range rates {
		batch.Queue(`
			INSERT INTO cat_exchange_rates (from_currency_id, to_currency_id, rate)
			VALUES ($1, $2, $3)
			ON CONFLICT (from_currency_id, to_currency_id) DO NOTHING`,
			r.FromCurrencyID, r.ToCurrencyID, r.Rate)
	}
	for _, r := range reasons {
		batch.Queue(`
			INSERT INTO cat_adjustment_reasons (id, name, adjustment_type)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING`,
			r.ID, r.Name, r.AdjustmentType)
	}
	return txm.ExecBatch(ctx, batch)
}

// printDevToken issues an admin token so the API can be tried without an
// identity provider.
func printDevToken(cfg *config.Config) error {
	jwtConfig := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtConfig.Issuer = cfg.JWTIssuer
	token, expiresAt, err := auth.NewJWTService(jwtConfig).GenerateAccessToken(appctx.UserContext{
		UserID:      "dev-admin",
		Email:       "admin@stockrecon.local",
		Roles:       []string{"admin"},
		Permissions: []string{auth.PermissionEdit, auth.PermissionApprove},
		IsAdmin:     true,
	})
	if err != nil {
		return err
	}
	fmt.Printf("development token (expires %s):\n%s\n", expiresAt.Format("2006-01-02 15:04"), token)
	return nil
}
