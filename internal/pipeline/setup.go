package pipeline

import (
	"fmt"

	"github.com/TobiSchelling/rlsnotes/internal/collect"
	"github.com/TobiSchelling/rlsnotes/internal/config"
	"github.com/TobiSchelling/rlsnotes/internal/consolidate"
	"github.com/TobiSchelling/rlsnotes/internal/database"
	"github.com/TobiSchelling/rlsnotes/internal/llm"
	"github.com/TobiSchelling/rlsnotes/internal/render"
)

// FromConfig wires the GitHub source, Shortcut linker and LLM provider
// described by cfg. The provider is not resolved when dryRun is set.
func FromConfig(cfg *config.Config, db *database.DB, o config.Overrides, dryRun bool) (*Pipeline, error) {
	token, err := cfg.GitHubToken()
	if err != nil {
		return nil, err
	}
	source, err := collect.NewGitHubClient(collect.GitHubOptions{
		Token:             token,
		BaseURL:           cfg.GitHub.BaseURL,
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
		Releases:          collect.NewReleaseFeed(cfg.GitHub.WebURL),
	})
	if err != nil {
		return nil, &config.ConfigError{Field: "github.base_url", Msg: err.Error()}
	}

	rules, err := ProductRules(cfg.Render.Products)
	if err != nil {
		return nil, err
	}

	var provider llm.Provider
	if !dryRun {
		provider = llm.CreateProvider(cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.OllamaURL, cfg.LLM.APIKeyEnv)
	}

	linker := collect.NewShortcutWithToken(cfg.ShortcutToken(), "")

	return New(source, linker, provider, db, Options{
		Title:               cfg.Release.Title,
		Outfile:             cfg.Outfile(o),
		Format:              cfg.Format(o),
		Rules:               rules,
		IncludeContributors: cfg.Render.IncludeContributors,
		Consolidate: consolidate.Options{
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
	}), nil
}

// ProductRules converts configured product rules. An empty list yields the
// built-in rules.
func ProductRules(products []config.ProductRule) ([]render.Rule, error) {
	if len(products) == 0 {
		return render.DefaultRules, nil
	}
	rules := make([]render.Rule, 0, len(products))
	for i, pr := range products {
		r, err := render.NewRule(pr.Match, pr.Pattern, pr.Label)
		if err != nil {
			return nil, &config.ConfigError{Field: fmt.Sprintf("render.products[%d]", i), Msg: err.Error()}
		}
		rules = append(rules, r)
	}
	return rules, nil
}
