// cmd/indicatorctl runs indicators offline: it lists the preset catalog,
// computes presets and scripts over a JSON bar file or a stored location,
// and imports bar files into the SQLite store.
//
// Usage:
//
//	indicatorctl presets [-scripts]
//	indicatorctl run -bars=pune.json -indicators="SMA,Hurst Exponent (H)" [-script=mine.star]
//	indicatorctl run -db=data/velocity.db -location=Maharashtra/Pune -indicators=EMA -signal
//	indicatorctl import -db=data/velocity.db -bars=pune.json [-location=Maharashtra/Pune]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"aadhaar-velocity/internal/indicator"
	"aadhaar-velocity/internal/logger"
	"aadhaar-velocity/internal/lorentzian"
	"aadhaar-velocity/internal/model"
	"aadhaar-velocity/internal/script"
	sqlitestore "aadhaar-velocity/internal/store/sqlite"
	"aadhaar-velocity/internal/velocityd"
)

const usage = `usage: indicatorctl <command> [flags]

commands:
  presets   list the preset catalog
  run       compute indicators over a bar file or a stored location
  import    load a bar file into the SQLite store
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "presets":
		err = runPresets(os.Args[2:], os.Stdout)
	case "run":
		err = runCompute(ctx, os.Args[2:], os.Stdout)
	case "import":
		err = runImport(ctx, os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "indicatorctl: %v\n", err)
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func cliLogger(level string) zerolog.Logger {
	return logger.New(os.Stderr, "indicatorctl", level, "console")
}

func runPresets(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("presets", flag.ContinueOnError)
	scripts := fs.Bool("scripts", false, "Print each preset's script text")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *scripts {
		for _, p := range indicator.Catalog() {
			fmt.Fprintf(out, "## %s (%s)\n%s\n\n", p.Name, p.Kind, strings.TrimSpace(p.Script))
		}
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND")
	for _, p := range indicator.Catalog() {
		fmt.Fprintf(tw, "%s\t%s\n", p.Name, p.Kind)
	}
	return tw.Flush()
}

// runOutput is what `run` prints.
type runOutput struct {
	Location string                  `json:"location,omitempty"`
	Bars     int                     `json:"bars"`
	Results  []model.IndicatorResult `json:"results"`
	Signal   []lorentzian.Prediction `json:"signal,omitempty"`
}

func runCompute(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	barsPath := fs.String("bars", "", "JSON bar file ({location, bars} or a bare array)")
	dbPath := fs.String("db", "", "SQLite database to read a stored location from")
	location := fs.String("location", "", "Stored location to compute over (with -db)")
	names := fs.String("indicators", "", "Comma-separated preset or stored definition names")
	scriptPath := fs.String("script", "", "Script file to run as an extra indicator")
	withSignal := fs.Bool("signal", false, "Also run the Lorentzian classifier with default settings")
	maxSteps := fs.Uint64("max-steps", script.DefaultMaxSteps, "Script step budget")
	level := fs.String("log-level", "warn", "Log level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*barsPath == "") == (*dbPath == "") {
		return errors.New("run: exactly one of -bars or -db is required")
	}

	log := cliLogger(*level)
	exec := script.New(script.Config{MaxSteps: *maxSteps}, log)
	engine := indicator.NewEngine(exec, 0)

	var (
		res  runOutput
		defs []model.IndicatorDefinition
		bars []model.Bar
	)
	if *barsPath != "" {
		lb, err := readBarsFile(*barsPath)
		if err != nil {
			return err
		}
		res.Location, bars = lb.Location, lb.Bars
		if !model.SortedByTime(bars) {
			return fmt.Errorf("run: %s: bars are not in time order", *barsPath)
		}
		for _, name := range splitNames(*names) {
			p, ok := indicator.Lookup(name)
			if !ok {
				return fmt.Errorf("run: %w: %q", model.ErrUnknownIndicator, name)
			}
			defs = append(defs, indicator.PresetDefinition(p))
		}
	} else {
		if *location == "" {
			return errors.New("run: -location is required with -db")
		}
		store, err := sqlitestore.New(*dbPath, log)
		if err != nil {
			return err
		}
		defer store.Close()
		backend := velocityd.NewBackend(velocityd.BackendConfig{Store: store, Engine: engine, Compiler: exec, Log: log})
		if defs, err = backend.Resolve(ctx, splitNames(*names)); err != nil {
			return err
		}
		if bars, err = backend.Bars(ctx, *location); err != nil {
			return err
		}
		res.Location = *location
	}

	if *scriptPath != "" {
		src, err := os.ReadFile(*scriptPath)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		name := strings.TrimSuffix(filepath.Base(*scriptPath), filepath.Ext(*scriptPath))
		def := model.IndicatorDefinition{Name: name, Script: string(src)}
		def.Kind = indicator.KindOf(def)
		defs = append(defs, def)
	}
	if len(defs) == 0 && !*withSignal {
		return errors.New("run: nothing to compute; pass -indicators, -script or -signal")
	}
	if err := indicator.ValidateDefinitions(defs); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	results, err := engine.ComputeAll(ctx, defs, bars)
	if err != nil {
		return err
	}
	res.Bars, res.Results = len(bars), results
	if *withSignal {
		if res.Signal, err = lorentzian.Classify(bars, lorentzian.DefaultSettings()); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runImport(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	barsPath := fs.String("bars", "", "JSON bar file ({location, bars} or a bare array)")
	dbPath := fs.String("db", "data/velocity.db", "SQLite database")
	location := fs.String("location", "", "Location to store under; overrides the file's")
	level := fs.String("log-level", "info", "Log level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *barsPath == "" {
		return errors.New("import: -bars is required")
	}

	lb, err := readBarsFile(*barsPath)
	if err != nil {
		return err
	}
	if *location != "" {
		lb.Location = *location
	}
	if lb.Location == "" {
		return errors.New("import: no location in file; pass -location")
	}
	if len(lb.Bars) == 0 {
		return fmt.Errorf("import: %s has no bars", *barsPath)
	}

	if dir := filepath.Dir(*dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("import: %w", err)
		}
	}
	store, err := sqlitestore.New(*dbPath, cliLogger(*level))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveBars(ctx, lb.Location, lb.Bars); err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d bars for %s\n", len(lb.Bars), lb.Location)
	return nil
}

// readBarsFile accepts either {"location": ..., "bars": [...]} or a bare
// array of bars.
func readBarsFile(path string) (model.LocationBars, error) {
	var lb model.LocationBars
	data, err := os.ReadFile(path)
	if err != nil {
		return lb, fmt.Errorf("read bars: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		err = json.Unmarshal(data, &lb.Bars)
	} else {
		err = json.Unmarshal(data, &lb)
	}
	if err != nil {
		return lb, fmt.Errorf("read bars %s: %w", path, err)
	}
	if lb.Bars == nil {
		lb.Bars = []model.Bar{}
	}
	return lb, nil
}

func splitNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
