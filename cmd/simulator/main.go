package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/signalsfoundry/coverage-simulator/core"
	"github.com/signalsfoundry/coverage-simulator/internal/logging"
	"github.com/signalsfoundry/coverage-simulator/kb"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, logging.NewFromEnv()); err != nil {
		fmt.Fprintf(os.Stderr, "simulator: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	scenarioPath string
	patternDir   string
	receiverA    string
	receiverB    string
	jsonOutput   bool
	halfExtent   int
	sensitivity  float64
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.scenarioPath, "scenario", "configs/scenario.yaml", "path to a JSON or YAML scenario file")
	fs.StringVar(&opts.patternDir, "patterns", "", "directory pattern paths are resolved in (default: the scenario's directory)")
	fs.StringVar(&opts.receiverA, "a", "", "first receiver ID; with -b resolves a connection path")
	fs.StringVar(&opts.receiverB, "b", "", "second receiver ID")
	fs.BoolVar(&opts.jsonOutput, "json", false, "print the connectivity result as JSON")
	fs.IntVar(&opts.halfExtent, "half-extent", 0, "override the propagation grid half extent in cells")
	fs.Float64Var(&opts.sensitivity, "sensitivity", 0, "override the receiver sensitivity in dBm")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if (opts.receiverA == "") != (opts.receiverB == "") {
		return opts, errors.New("-a and -b must be given together")
	}
	if opts.jsonOutput && opts.receiverA == "" {
		return opts, errors.New("-json needs -a and -b")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, out io.Writer, log logging.Logger) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	f, err := os.Open(opts.scenarioPath)
	if err != nil {
		return fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()

	doc, err := core.DecodeScenario(f, core.FormatFromPath(opts.scenarioPath))
	if err != nil {
		return err
	}
	if opts.halfExtent > 0 {
		doc.Propagation.HalfExtent = opts.halfExtent
	}
	if opts.sensitivity != 0 {
		doc.Propagation.SensitivityDBm = opts.sensitivity
	}

	patternDir := opts.patternDir
	if patternDir == "" {
		patternDir = filepath.Dir(opts.scenarioPath)
	}

	store := kb.NewKnowledgeBase()
	patterns := core.NewPatternRegistry()
	sc, err := doc.Apply(store, patterns, os.DirFS(patternDir))
	if err != nil {
		return fmt.Errorf("load scenario %s: %w", opts.scenarioPath, err)
	}
	log.Info(ctx, "scenario loaded",
		logging.String("path", opts.scenarioPath),
		logging.Int("transmitters", len(sc.TransmitterIDs)),
		logging.Int("receivers", len(sc.ReceiverIDs)),
		logging.Int("obstacles", len(sc.ObstacleIDs)),
		logging.Int("patterns", len(sc.PatternIDs)),
	)

	prop, err := core.NewPropagator(sc.Propagation)
	if err != nil {
		return err
	}
	svc := core.NewConnectivityService(store, patterns, prop,
		core.WithLogger(log),
		core.WithCache(core.NewCoverageCache(0)),
	)
	defer svc.Close()

	if opts.receiverA != "" {
		res, err := svc.Run(ctx, opts.receiverA, opts.receiverB)
		if err != nil {
			return err
		}
		if opts.jsonOutput {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		fmt.Fprintf(out, "Coverage %s: [%s]\n", res.ReceiverA, strings.Join(res.CoverageA.IDs(), ", "))
		fmt.Fprintf(out, "Coverage %s: [%s]\n", res.ReceiverB, strings.Join(res.CoverageB.IDs(), ", "))
		fmt.Fprintf(out, "Path %s -> %s: %s\n", res.ReceiverA, res.ReceiverB, res.Path)
		return nil
	}

	fmt.Fprintf(out, "Loaded scenario: %d transmitters, %d receivers, %d obstacles, %d patterns\n",
		len(sc.TransmitterIDs), len(sc.ReceiverIDs), len(sc.ObstacleIDs), len(sc.PatternIDs))
	for _, id := range sc.TransmitterIDs {
		mask, err := svc.CoverageMask(ctx, id)
		if err != nil {
			return err
		}
		if mask.Empty() {
			fmt.Fprintf(out, "Transmitter %-12s no coverage\n", id)
			continue
		}
		fmt.Fprintf(out, "Transmitter %-12s mask %dx%d, %d covered cells\n", id, mask.Width(), mask.Height(), mask.CoveredCells())
	}
	for _, id := range sc.ReceiverIDs {
		set, err := svc.CoverageFor(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Coverage %s: [%s]\n", id, strings.Join(set.IDs(), ", "))
	}
	return nil
}
