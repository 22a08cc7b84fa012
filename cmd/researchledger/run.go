package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/researchledger/internal/config"
	"github.com/TobiSchelling/researchledger/internal/extract"
	"github.com/TobiSchelling/researchledger/internal/fetch"
	"github.com/TobiSchelling/researchledger/internal/llm"
	"github.com/TobiSchelling/researchledger/internal/orchestrator"
	"github.com/TobiSchelling/researchledger/internal/research"
	"github.com/TobiSchelling/researchledger/internal/search"
	"github.com/TobiSchelling/researchledger/internal/store"
)

var (
	autoApprove bool
	stopRule    int
	maxCost     float64
	noCache     bool
	noBatch     bool
	noClarify   bool
	jsonOutput  bool
)

var runCmd = &cobra.Command{
	Use:   "run [question]",
	Short: "Plan, approve and run one research job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		applyRunFlags(cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		var approver orchestrator.Approver = orchestrator.NewTerminalApprover(os.Stdin, os.Stdout)
		if autoApprove {
			approver = orchestrator.AutoApprove
		}

		orch, err := buildOrchestrator(cfg, db, approver)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := orch.Run(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}
		printResult(res)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVarP(&autoApprove, "yes", "y", false, "Approve the first plan without asking")
	runCmd.Flags().IntVar(&stopRule, "stop-rule", 0, "Override the approved plan's target number of evidence rows")
	runCmd.Flags().Float64Var(&maxCost, "max-cost", -1, "Stop once estimated spend reaches this many USD (0 disables)")
	runCmd.Flags().BoolVar(&noCache, "no-cache", false, "Do not mark shared prompt context as cacheable")
	runCmd.Flags().BoolVar(&noBatch, "no-batch", false, "Extract every source in its own call")
	runCmd.Flags().BoolVar(&noClarify, "no-clarify", false, "Skip scope clarification")
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
}

func applyRunFlags(c *config.Config) {
	if stopRule > 0 {
		c.Pipeline.StopRule = stopRule
	}
	if maxCost >= 0 {
		c.Pipeline.MaxCostUSD = maxCost
	}
	if noCache {
		c.Pipeline.UseCache = false
	}
	if noBatch {
		c.Pipeline.UseBatching = false
	}
}

// buildOrchestrator wires providers, the research controller and the job
// store from config.
func buildOrchestrator(c *config.Config, db *store.DB, approver orchestrator.Approver) (*orchestrator.Orchestrator, error) {
	provider := llm.CreateProvider(c.LLM.Provider, c.LLM.Model, c.LLM.OllamaURL, c.LLM.APIKeyEnv)
	if provider == nil {
		return nil, errors.New("no LLM provider available; check the llm section of the config")
	}
	searcher := search.CreateSearcher(c.Search.Provider, c.Search.APIKeyEnv, c.Search.ResultsPerQuery)
	if searcher == nil {
		return nil, errors.New("no search provider available; check the search section of the config")
	}
	fetcher := fetch.NewHTTPFetcher(c.FetchTimeout(), c.Fetch.MaxWords)

	ext := extract.DefaultOptions()
	ext.BatchSize = c.Pipeline.BatchSize
	ext.ShortSourceWords = c.Pipeline.ShortSourceWords
	ext.UseCache = c.Pipeline.UseCache
	ext.UseBatching = c.Pipeline.UseBatching
	ext.Timeout = c.ExtractTimeout()
	ext.MinStatementRunes = c.Pipeline.MinStatementLength

	controller := research.New(searcher, fetcher, provider, research.Options{
		SearchWorkers: c.Search.Workers,
		TopK:          c.Pipeline.TopK,
		ReferenceYear: time.Now().Year(),
		FetchTimeout:  c.FetchTimeout(),
		MaxCostUSD:    c.Pipeline.MaxCostUSD,
		Pricing:       c.LLM.Pricing,
		Extract:       ext,
	})

	return orchestrator.New(provider, approver, controller, orchestratorOptions(c, store.NewRecorder(db))), nil
}

// orchestratorOptions maps config onto the orchestrator. A zero
// pipeline.stop_rule leaves the approved plan's stop rule in force.
func orchestratorOptions(c *config.Config, rec orchestrator.Recorder) orchestrator.Options {
	return orchestrator.Options{
		StopRule:          c.Pipeline.StopRule,
		PlanMaxTokens:     c.LLM.PlanMaxTokens,
		ScopeMaxTokens:    c.LLM.ScopeMaxTokens,
		SkipClarification: noClarify,
		Pricing:           c.LLM.Pricing,
		Recorder:          rec,
	}
}

func printResult(res *orchestrator.Result) {
	fmt.Printf("\nJob %s: %s\n", res.JobID, res.State)
	if res.State == orchestrator.StatePlanRejected {
		fmt.Println("Plan rejected; no research was run.")
	}
	if res.StopReason != "" {
		fmt.Printf("Stopped: %s\n", res.StopReason)
	}
	fmt.Printf("Evidence rows: %d\n", len(res.Rows))
	if res.Stats != (research.Stats{}) {
		fmt.Printf("Pipeline: %s\n", res.Stats.Summary())
	}
	if !res.PlanningCost.Empty() {
		fmt.Printf("\nPlanning cost:\n%s\n", res.PlanningCost)
	}
	if !res.Cost.Empty() {
		fmt.Printf("\nResearch cost:\n%s\n", res.Cost)
	}
	fmt.Printf("\nRun 'researchledger jobs show %s' or 'researchledger serve' to view the ledger.\n", res.JobID)
}

func printJSON(res *orchestrator.Result) error {
	out := map[string]any{
		"job_id":        res.JobID,
		"question":      res.Question,
		"state":         res.State,
		"stop_reason":   res.StopReason,
		"revisions":     res.Revisions,
		"plan":          res.Plan,
		"rows":          res.Rows,
		"stats":         res.Stats,
		"cost":          res.Cost,
		"planning_cost": res.PlanningCost,
	}
	if slices.Contains(res.States, orchestrator.StateSchemaFinalized) {
		out["schema"] = res.Schema
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
