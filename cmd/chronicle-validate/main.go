// Command chronicle-validate checks a serialized evidence graph offline. It
// prints one JSON report to stdout and exits 1 when the graph has integrity
// violations, 2 on usage or read errors.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/OFFIS-RIT/chronicle/pkg/analysis"
	"github.com/OFFIS-RIT/chronicle/pkg/common"
	"github.com/OFFIS-RIT/chronicle/pkg/graph"
	"github.com/OFFIS-RIT/chronicle/pkg/logger"
	"github.com/OFFIS-RIT/chronicle/pkg/logger/console"
)

type report struct {
	Valid      bool              `json:"valid"`
	Canonical  bool              `json:"canonical"`
	Violations []graph.Violation `json:"violations"`
	Summary    *analysis.Summary `json:"summary,omitempty"`
}

func main() {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Output: os.Stderr,
		Prefix: "chronicle-validate",
	}))
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	fs := flag.NewFlagSet("chronicle-validate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	strict := fs.Bool("strict", false, "also fail when the document is not in canonical form")
	analyze := fs.Bool("analyze", false, "run the analysis engines on a valid graph and include a summary")
	window := fs.Int("window", -1, "contradiction window in days, defaults to the config value")
	configPath := fs.String("config", "", "analysis config file (YAML)")
	if err := fs.Parse(args); err != nil {
		logger.Error("Invalid arguments", "err", err)
		return 2
	}
	if fs.NArg() != 1 {
		logger.Error("Usage: chronicle-validate [flags] <graph.json|->")
		return 2
	}

	data, err := readInput(fs.Arg(0), stdin)
	if err != nil {
		logger.Error("Failed to read graph", "err", err)
		return 2
	}

	g, err := graph.Parse(data)
	if errors.Is(err, graph.ErrUnsupportedSchema) {
		g = new(common.EvidenceGraph)
		err = json.Unmarshal(data, g)
	}
	if err != nil {
		logger.Error("Failed to parse graph", "err", err)
		return 2
	}

	out := report{Violations: graph.Validate(g)}
	if out.Violations == nil {
		out.Violations = []graph.Violation{}
	}
	out.Valid = len(out.Violations) == 0
	if canonical, err := graph.Marshal(g); err == nil {
		out.Canonical = bytes.Equal(bytes.TrimSpace(data), canonical)
	}

	if *analyze && out.Valid {
		cfg, err := analysis.LoadConfig(*configPath)
		if err != nil {
			logger.Error("Failed to load analysis config", "err", err)
			return 2
		}
		var windowDays *int
		if *window >= 0 {
			windowDays = window
		}
		res, err := analysis.Analyze(g, cfg, windowDays, nil)
		if err != nil {
			logger.Error("Analysis failed", "err", err)
			return 2
		}
		w := cfg.WindowDays
		if windowDays != nil {
			w = *windowDays
		}
		summary := res.Summarize(cfg, w)
		out.Summary = &summary
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Error("Failed to write report", "err", err)
		return 2
	}

	for _, v := range out.Violations {
		logger.Warn("Integrity violation", "invariant", v.Invariant, "entities", v.EntityIDs, "message", v.Message)
	}
	if !out.Valid || (*strict && !out.Canonical) {
		return 1
	}
	return 0
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
