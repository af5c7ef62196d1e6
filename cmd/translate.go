/*
Copyright © 2025 The tometran authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tometran/tometran/internal/document"
	"github.com/tometran/tometran/internal/engine"
	"github.com/tometran/tometran/internal/llm"
	"github.com/tometran/tometran/internal/store"
)

var (
	inputFile  string
	outputFile string
	sourceLang string
	targetLang string

	providerName string
	apiKey       string
	baseURL      string
	modelName    string

	tokenLimit      int
	expansionFactor float64
	safetyMargin    float64
	concurrency     int
	maxRounds       int
	requestTimeout  time.Duration
	maxAttempts     int

	dbPath  string
	noLog   bool
	verbose bool
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a parsed document through an LLM",
	Long: `Translate a parsed document (JSON produced by a format parser)
through an LLM chat-completion service.

Available providers:
  - openai   OpenAI API (or compatible via --base-url)
  - compat   Self-hosted OpenAI-compatible endpoint (Ollama, vLLM, ...)

The document's chapters are batched and split under a token budget,
translated concurrently, repaired over up to --rounds quality-control
rounds, and reassembled with derived chapter titles. Raw LLM exchanges
are persisted to the SQLite log unless --no-log is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if inputFile == outputFile {
			return fmt.Errorf("input file and output file cannot be the same")
		}

		doc, err := document.Load(inputFile)
		if err != nil {
			return err
		}
		if sourceLang != "" {
			doc.SourceLang = sourceLang
		}
		if targetLang != "" {
			doc.TargetLang = targetLang
		}
		if doc.TargetLang == "" {
			return fmt.Errorf("target language required (--target or document target_lang)")
		}

		cfg := engine.DefaultConfig()
		cfg.SourceLang = doc.SourceLang
		cfg.TargetLang = doc.TargetLang
		applyEngineSettings(&cfg)
		cfg.RequestTimeout = requestTimeout
		cfg.Retry.MaxAttempts = maxAttempts
		cfg.Glossary = viper.GetStringMapString("glossary")
		cfg.Verbose = verbose
		applyPromptOverrides(&cfg)

		provider, model, url := providerSettings()
		client, err := buildClient(provider, apiKey, url, model)
		if err != nil {
			return err
		}

		eng, err := engine.New(client, cfg)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "Translating %d unit(s) in %d container(s) from %s to %s...\n",
			doc.UnitCount(), len(doc.Containers), cfg.SourceLang, cfg.TargetLang)

		outcome, err := eng.Translate(context.Background(), doc)
		if err != nil {
			return fmt.Errorf("translation failed: %w", err)
		}

		if err := outcome.Doc.Save(outputFile); err != nil {
			return err
		}

		if !noLog && dbPath != "" {
			if err := persistLog(doc, outcome); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to persist exchange log: %v\n", err)
			}
		}

		fmt.Printf("Successfully translated %s to %s\n", cfg.SourceLang, cfg.TargetLang)
		fmt.Printf("LLM exchanges: %d\n", len(outcome.Log.Entries()))
		if len(outcome.Unresolved) > 0 {
			fmt.Printf("Unresolved units: %d\n", len(outcome.Unresolved))
			for _, u := range outcome.Unresolved {
				fmt.Fprintf(os.Stderr, "  unit %s (%s) in %s left %s\n",
					u.UnitID, u.Class, u.ContainerID, describeLastText(u.LastText))
			}
		}
		return nil
	},
}

func describeLastText(text string) string {
	if text == "" {
		return "untranslated"
	}
	if len(text) > 40 {
		text = text[:37] + "..."
	}
	return fmt.Sprintf("with last text %q", text)
}

// applyEngineSettings resolves the viper-bound engine keys into cfg.
// BindPFlag gives each key flag > config file > flag default precedence,
// so a tometran.yaml value wins over the default but never over an
// explicit flag.
func applyEngineSettings(cfg *engine.Config) {
	cfg.TokenLimit = viper.GetInt("engine.token_limit")
	cfg.ExpansionFactor = viper.GetFloat64("engine.expansion_factor")
	cfg.SafetyMargin = viper.GetFloat64("engine.safety_margin")
	cfg.Concurrency = viper.GetInt("engine.concurrency")
	cfg.MaxRounds = viper.GetInt("engine.rounds")
}

// providerSettings resolves the viper-bound provider keys with the same
// precedence.
func providerSettings() (name, model, baseURL string) {
	return viper.GetString("provider.name"),
		viper.GetString("provider.model"),
		viper.GetString("provider.base_url")
}

// applyPromptOverrides replaces default prompt templates with config-file
// values when present.
func applyPromptOverrides(cfg *engine.Config) {
	if t := viper.GetString("prompts.batch"); t != "" {
		cfg.Prompts.Batch = t
	}
	if t := viper.GetString("prompts.split"); t != "" {
		cfg.Prompts.Split = t
	}
	if t := viper.GetString("prompts.fix"); t != "" {
		cfg.Prompts.Fix = t
	}
}

// buildClient constructs the LLM provider from CLI parameters.
func buildClient(provider, key, url, model string) (llm.Client, error) {
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	switch provider {
	case "openai":
		return llm.NewOpenAIService(key, url, model)
	case "compat":
		if url == "" {
			return nil, fmt.Errorf("--base-url required for the compat provider")
		}
		return llm.NewCompatService(url, key, model), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

func persistLog(doc *document.Document, outcome *engine.Outcome) error {
	db, err := store.New(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	runID, err := db.SaveRun(ctx, doc.Title, doc.SourceLang, doc.TargetLang,
		doc.UnitCount(), len(outcome.Unresolved))
	if err != nil {
		return err
	}
	for _, e := range outcome.Log.Entries() {
		if err := db.SaveExchange(ctx, runID, e.TaskID, e.Variant, e.Attempts, e.Raw, e.Err, e.CompletedAt); err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "Exchange log saved as run %s\n", runID)
	return nil
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input document JSON (required)")
	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output document JSON (required)")
	translateCmd.Flags().StringVarP(&sourceLang, "source", "s", "", "Source language code (overrides document)")
	translateCmd.Flags().StringVarP(&targetLang, "target", "t", "", "Target language code")

	translateCmd.Flags().StringVar(&providerName, "provider", "openai", "LLM provider (openai, compat)")
	translateCmd.Flags().StringVar(&apiKey, "api-key", "", "API key (default $OPENAI_API_KEY)")
	translateCmd.Flags().StringVar(&baseURL, "base-url", "", "API base URL override")
	translateCmd.Flags().StringVar(&modelName, "model", "gpt-4o-mini", "Model name")

	translateCmd.Flags().IntVar(&tokenLimit, "token-limit", 64000, "Model output token limit")
	translateCmd.Flags().Float64Var(&expansionFactor, "expansion-factor", 3.0, "Target-language token expansion factor")
	translateCmd.Flags().Float64Var(&safetyMargin, "safety-margin", 0.9, "Budget safety margin (0..1]")
	translateCmd.Flags().IntVar(&concurrency, "concurrency", 4, "Concurrent in-flight LLM requests")
	translateCmd.Flags().IntVar(&maxRounds, "rounds", 3, "Total quality-control rounds including the initial pass")
	translateCmd.Flags().DurationVar(&requestTimeout, "request-timeout", 5*time.Minute, "Per-request timeout")
	translateCmd.Flags().IntVar(&maxAttempts, "max-retries", 5, "Total attempts per request including the first")

	translateCmd.Flags().StringVar(&dbPath, "db", "./data/tometran.db", "SQLite path for the exchange log")
	translateCmd.Flags().BoolVar(&noLog, "no-log", false, "Do not persist raw LLM exchanges")
	translateCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Per-task progress output")

	viper.BindPFlag("engine.token_limit", translateCmd.Flags().Lookup("token-limit"))
	viper.BindPFlag("engine.expansion_factor", translateCmd.Flags().Lookup("expansion-factor"))
	viper.BindPFlag("engine.safety_margin", translateCmd.Flags().Lookup("safety-margin"))
	viper.BindPFlag("engine.concurrency", translateCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("engine.rounds", translateCmd.Flags().Lookup("rounds"))
	viper.BindPFlag("provider.name", translateCmd.Flags().Lookup("provider"))
	viper.BindPFlag("provider.model", translateCmd.Flags().Lookup("model"))
	viper.BindPFlag("provider.base_url", translateCmd.Flags().Lookup("base-url"))

	translateCmd.MarkFlagRequired("input")
	translateCmd.MarkFlagRequired("output")
}
