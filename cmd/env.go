package main

import (
	"context"

	"github.com/quizline/curator/internal/llm"
	"github.com/quizline/curator/internal/store"
	"github.com/quizline/curator/pkg/anthropic"
)

// openStore connects the configured backend. Callers own Close.
func openStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.Driver == "sqlite" {
		return store.NewSQLite(cfg.Store.DatabaseURL)
	}
	return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: int32(cfg.Store.MaxConns),
	})
}

// groupingModel builds the language model used for duplicate grouping.
// Grouping is a judgment call over long batches, so it gets the Sonnet tier.
func groupingModel() llm.LanguageModel {
	return llm.NewAnthropicModel(anthropic.NewClient(cfg.Anthropic.Key), llm.Config{
		Model:             cfg.Anthropic.SonnetModel,
		MaxTokens:         int64(cfg.Anthropic.MaxTokens),
		RequestsPerMinute: cfg.Anthropic.RequestsPerMinute,
		MaxRetries:        cfg.Anthropic.MaxRetries,
	})
}

// generationModel builds the language model used by the generative fallback
// tier. Single short questions are a Haiku job. Returns nil when the
// fallback is disabled.
func generationModel() llm.LanguageModel {
	if !cfg.Anthropic.GenerationFallback {
		return nil
	}
	return llm.NewAnthropicModel(anthropic.NewClient(cfg.Anthropic.Key), llm.Config{
		Model:             cfg.Anthropic.HaikuModel,
		MaxTokens:         int64(cfg.Anthropic.MaxTokens),
		RequestsPerMinute: cfg.Anthropic.RequestsPerMinute,
		MaxRetries:        cfg.Anthropic.MaxRetries,
	})
}
