package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/models"
)

// batchRegistrar is implemented by ledgers that can append many rows at once
type batchRegistrar interface {
	RegisterAssets(ctx context.Context, entries []models.AssetEntry) error
}

// registerAll adds every entry to the ledger in the order given, before any
// rendering starts, and reports which entries made it in. Ledger row order
// follows (script index, footage order) regardless of render concurrency.
func (o *Orchestrator) registerAll(ctx context.Context, entries []models.AssetEntry) []bool {
	registered := make([]bool, len(entries))
	if o.ledger == nil || len(entries) == 0 {
		return registered
	}

	if batch, ok := o.ledger.(batchRegistrar); ok {
		if err := batch.RegisterAssets(ctx, entries); err != nil {
			o.logger.Warn("Ledger registration failed, using fallback names", zap.Int("entries", len(entries)), zap.Error(err))
			return registered
		}
		for i := range registered {
			registered[i] = true
		}
		return registered
	}

	for i, entry := range entries {
		if err := o.ledger.RegisterAsset(ctx, entry); err != nil {
			o.logger.Warn("Ledger registration failed, using fallback name",
				zap.String("footage_id", entry.FootageID),
				zap.String("script_id", entry.ScriptID),
				zap.Error(err))
			continue
		}
		registered[i] = true
	}
	return registered
}

// lookupFileName polls the ledger for the name it assigned to a registered
// entry. The poll is bounded; fallback is used when the ledger never fills
// the name in.
func (o *Orchestrator) lookupFileName(ctx context.Context, entry models.AssetEntry, fallback string) string {
	logger := o.logger.With(zap.String("footage_id", entry.FootageID), zap.String("script_id", entry.ScriptID))
	attempts := max(o.cfg.LedgerPollAttempts, 1)
	backoff := config.Duration(o.cfg.LedgerPollBackoff)
	for attempt := 1; attempt <= attempts; attempt++ {
		name, err := o.ledger.LookupFileName(ctx, entry)
		if err != nil {
			logger.Warn("Ledger lookup failed", zap.Int("attempt", attempt), zap.Error(err))
		} else if name = sanitizeName(name); name != "" {
			return name
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return fallback
			case <-time.After(backoff):
			}
		}
	}

	logger.Warn("Ledger name not populated, using fallback name", zap.String("name", fallback), zap.Int("attempts", attempts))
	return fallback
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.TrimSpace(name)))
	if name == "" || name == "." || name == "/" {
		return ""
	}
	if !strings.HasSuffix(strings.ToLower(name), ".mp4") {
		name += ".mp4"
	}
	return name
}
