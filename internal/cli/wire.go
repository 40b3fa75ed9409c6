package cli

import (
	"os"

	"burnrate/internal/categories"
	"burnrate/internal/config"
	"burnrate/internal/log"
	"burnrate/internal/monobank"
	"burnrate/internal/ports"
	"burnrate/internal/secrets"
	"burnrate/internal/syncer"
)

// LoadRules reads CATEGORY_RULES_FILE, or the embedded rule set when unset.
// Exits the process on failure.
func LoadRules(logger *log.Logger, cfg *config.Config) *categories.Engine {
	if cfg.CategoryRulesFile == "" {
		return categories.MustLoadEmbedded()
	}
	rules, err := categories.LoadFromFile(cfg.CategoryRulesFile)
	if err != nil {
		logger.Error("Failed to load category rules", log.FieldError, err, "path", cfg.CategoryRulesFile)
		os.Exit(1)
	}
	logger.Info("Category rules loaded", "path", cfg.CategoryRulesFile)
	return rules
}

// InitTokens builds the sealed token store. Exits the process on failure.
func InitTokens(logger *log.Logger, cfg *config.Config, store ports.SettingsStore) *secrets.Tokens {
	sealer, err := secrets.NewSealer(cfg.SecretKey)
	if err != nil {
		logger.Error("Invalid SECRET_KEY", log.FieldError, err)
		os.Exit(1)
	}
	return secrets.NewTokens(store, sealer)
}

// NewSyncer builds the bank sync orchestrator from configuration.
func NewSyncer(logger *log.Logger, cfg *config.Config, client *monobank.Client, tokens *secrets.Tokens, store ports.Store) *syncer.Orchestrator {
	return syncer.New(client, tokens, store, syncer.Config{
		LookbackMonths:    cfg.SyncLookbackMonths,
		RequestInterval:   cfg.SyncRequestInterval,
		RateLimitCooldown: cfg.SyncRateLimitCooldown,
		StaleAfter:        cfg.SyncStaleAfter,
		Location:          cfg.Location(),
	}, logger)
}
