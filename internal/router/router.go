// Package router selects the provider adapter for a request and delegates
// streaming, embedding and cost calculation to it. The registry is populated
// once at construction and read-only afterwards, so a Router is safe to share
// across concurrent requests.
package router

import (
	"context"
	"log/slog"
	"sort"

	"github.com/chatstack/llm-router/internal/llm"
)

// Request describes one chat streaming call.
type Request struct {
	Provider string            `json:"provider"`
	Model    string            `json:"model,omitempty"`
	Messages []llm.Message     `json:"messages"`
	Options  llm.StreamOptions `json:"options,omitempty"`
}

type Router struct {
	adapters map[string]llm.Adapter
	logger   *slog.Logger
}

func New(logger *slog.Logger, adapters ...llm.Adapter) *Router {
	registry := make(map[string]llm.Adapter, len(adapters))
	for _, a := range adapters {
		registry[a.Name()] = a
	}
	return &Router{adapters: registry, logger: logger}
}

func (r *Router) adapter(provider string) (llm.Adapter, error) {
	a, ok := r.adapters[provider]
	if !ok {
		return nil, &llm.ProviderNotConfiguredError{Provider: provider}
	}
	return a, nil
}

// Stream validates the provider/model pair and opens a vendor stream. Both
// validation failures happen before any network call.
func (r *Router) Stream(ctx context.Context, req Request) (llm.Stream, error) {
	a, err := r.adapter(req.Provider)
	if err != nil {
		return nil, err
	}

	model := req.Options.Model
	if model == "" {
		model = req.Model
	}
	if model != "" && !a.SupportsModel(model) {
		return nil, &llm.ModelNotSupportedError{Provider: req.Provider, Model: model}
	}

	opts := req.Options
	opts.Model = model
	if opts.Logger == nil {
		opts.Logger = r.logger
	}

	r.logger.Debug("routing stream",
		"provider", req.Provider,
		"model", model,
		"messages", len(req.Messages),
	)
	return a.Stream(ctx, req.Messages, opts)
}

// Embed delegates to the named adapter; provider defaults to openai, the only
// adapter implementing embeddings.
func (r *Router) Embed(ctx context.Context, text, provider string) ([]float64, error) {
	if provider == "" {
		provider = "openai"
	}
	a, err := r.adapter(provider)
	if err != nil {
		return nil, err
	}
	return a.Embed(ctx, text)
}

// CalculateCost applies the adapter's linear price table: tokens/1000 times
// cents-per-1K, summed over input and output.
func (r *Router) CalculateCost(provider string, inputTokens, outputTokens int) (float64, error) {
	a, err := r.adapter(provider)
	if err != nil {
		return 0, err
	}
	cost := a.Cost()
	return float64(inputTokens)/1000*cost.Input + float64(outputTokens)/1000*cost.Output, nil
}

func (r *Router) AvailableProviders() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) ProviderModels(provider string) ([]string, error) {
	a, err := r.adapter(provider)
	if err != nil {
		return nil, err
	}
	models := a.Models()
	sort.Strings(models)
	return models, nil
}

// Adapter exposes the registered adapter for introspection endpoints.
func (r *Router) Adapter(provider string) (llm.Adapter, error) {
	return r.adapter(provider)
}
