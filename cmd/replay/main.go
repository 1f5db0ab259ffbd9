// Package main replays a recorded price path through the agent engine with
// paper execution and in-memory storage, then prints a summary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-engine/internal/logger"
	"agent-engine/internal/replay"
	"agent-engine/internal/scheduler"
)

func main() {
	scenarioPath := flag.String("scenario", "", "Scenario JSON file (required)")
	slippageBps := flag.Float64("slippage-bps", 0, "Paper execution slippage in basis points")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	verbose := flag.Bool("verbose", false, "Print every cycle")
	logLevel := flag.String("log-level", "warn", "Log level")

	flag.Parse()

	log := logger.NewWithWriter(os.Stderr, *logLevel, "pretty")

	if *scenarioPath == "" {
		log.Fatal().Msg("--scenario is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	sc, err := replay.LoadScenario(*scenarioPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load scenario")
	}

	opts := []replay.Option{replay.WithLogger(log), replay.WithSlippage(*slippageBps)}
	if *verbose && !*outputJSON {
		opts = append(opts, replay.WithCycleHook(printCycle))
	}

	res, err := replay.NewRunner(opts...).Run(ctx, sc)
	if err != nil {
		log.Fatal().Err(err).Msg("replay failed")
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(output))
		return
	}

	fmt.Printf("\n=== Replay Summary ===\n")
	fmt.Printf("Cycles:    %d\n", res.Cycles)
	fmt.Printf("Trades:    %d\n", res.Trades)
	fmt.Printf("Opened:    %d\n", res.Opened)
	fmt.Printf("Closed:    %d\n", res.Closed)
	fmt.Printf("Rejected:  %d\n", res.Rejected)
	fmt.Printf("Failed:    %d\n", res.Failed)
	for _, a := range res.Agents {
		fmt.Printf("\n[%s] %s (%s)\n", a.AgentID, a.Name, a.Strategy)
		fmt.Printf("  Total PnL:      %.4f\n", a.TotalPnl)
		fmt.Printf("  Trades:         %d\n", a.TotalTrades)
		fmt.Printf("  Wins/Losses:    %d/%d (win rate %.1f%%)\n", a.Wins, a.Losses, a.WinRate*100)
		fmt.Printf("  Open positions: %d\n", a.OpenPositions)
	}
}

func printCycle(c scheduler.CycleResult) {
	fmt.Printf("[%s] agents=%d trades=%d opened=%d closed=%d rejected=%d failed=%d\n",
		time.UnixMilli(c.CycleTime).UTC().Format(time.RFC3339),
		c.Evaluated, c.Trades, c.Opened, c.Closed, c.Rejected, c.Failed,
	)
}
