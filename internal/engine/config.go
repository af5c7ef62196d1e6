package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/tometran/tometran/internal/executor"
	"github.com/tometran/tometran/internal/llm"
	"github.com/tometran/tometran/internal/planner"
	"github.com/tometran/tometran/internal/token"
)

// Config collects every knob of a translation run. Validate rejects bad
// settings before any task is issued; a misconfigured run never reaches the
// network.
type Config struct {
	SourceLang string
	TargetLang string

	// TokenLimit is the model's output token limit; the effective per-task
	// budget is TokenLimit / ExpansionFactor * SafetyMargin.
	TokenLimit      int
	ExpansionFactor float64
	SafetyMargin    float64

	Concurrency    int
	MaxRounds      int
	RequestTimeout time.Duration
	Retry          executor.RetryPolicy

	Prompts  llm.PromptSet
	Glossary map[string]string

	Estimator token.Estimator
	Verbose   bool
}

// DefaultConfig returns production defaults: a 64k output limit with 3x
// target-language expansion headroom and a 90% safety margin, four
// concurrent requests, and three quality-control rounds.
func DefaultConfig() Config {
	return Config{
		SourceLang:      "en",
		TokenLimit:      64000,
		ExpansionFactor: 3.0,
		SafetyMargin:    0.9,
		Concurrency:     4,
		MaxRounds:       3,
		RequestTimeout:  5 * time.Minute,
		Retry:           executor.DefaultRetryPolicy(),
		Prompts:         llm.DefaultPrompts(),
		Estimator:       token.NewHeuristic(),
	}
}

// Validate checks the configuration. Errors here are fatal at startup.
func (c *Config) Validate() error {
	if c.TargetLang == "" {
		return fmt.Errorf("target language required")
	}
	if c.TokenLimit <= 0 {
		return fmt.Errorf("token limit must be positive, got %d", c.TokenLimit)
	}
	if c.ExpansionFactor < 1 {
		return fmt.Errorf("expansion factor must be >= 1, got %g", c.ExpansionFactor)
	}
	if c.SafetyMargin <= 0 || c.SafetyMargin > 1 {
		return fmt.Errorf("safety margin must be in (0, 1], got %g", c.SafetyMargin)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.MaxRounds < 1 {
		return fmt.Errorf("max rounds must be >= 1, got %d", c.MaxRounds)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if b := c.plannerOptions().EffectiveBudget(); b <= 0 {
		return fmt.Errorf("effective token budget is %d; raise the token limit or lower the expansion factor", b)
	}
	for name, tmpl := range map[string]string{
		"batch": c.Prompts.Batch, "split": c.Prompts.Split, "fix": c.Prompts.Fix,
	} {
		if !strings.Contains(tmpl, "{{PAYLOAD}}") {
			return fmt.Errorf("%s prompt template lacks the {{PAYLOAD}} placeholder", name)
		}
	}
	return nil
}

func (c *Config) plannerOptions() planner.Options {
	return planner.Options{
		TokenLimit:      c.TokenLimit,
		ExpansionFactor: c.ExpansionFactor,
		SafetyMargin:    c.SafetyMargin,
		Estimator:       c.Estimator,
	}
}

func (c *Config) executorOptions() executor.Options {
	return executor.Options{
		Concurrency:    c.Concurrency,
		RequestTimeout: c.RequestTimeout,
		Retry:          c.Retry,
		Prompts:        c.Prompts,
		SourceLang:     c.SourceLang,
		TargetLang:     c.TargetLang,
		Glossary:       c.Glossary,
		Verbose:        c.Verbose,
	}
}
