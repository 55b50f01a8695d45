// ilopt - local-variable optimizer for stack bytecode method bodies
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/ilopt/config"
	"github.com/chazu/ilopt/debuginfo"
	"github.com/chazu/ilopt/hash"
	"github.com/chazu/ilopt/il"
	"github.com/chazu/ilopt/pipeline"
	"github.com/chazu/ilopt/report"
	"github.com/chazu/ilopt/wire"
)

var log = commonlog.GetLogger("ilopt")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ilopt", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Int("v", -1, "Log verbosity (overrides [log] verbosity)")
	configDir := fs.String("config", "", "Directory containing ilopt.toml (default: search upward from .)")
	output := fs.String("o", "", "Write optimized methods to this CBOR file")
	dump := fs.Bool("dump", false, "Print the disassembly of every optimized method")
	debugEvents := fs.Bool("debug-events", false, "Print the debug scope and sequence point events of every optimized method")
	reportPath := fs.String("report", "", "Record results in this SQLite database (overrides [report] path)")
	workers := fs.Int("workers", -1, "Concurrent methods (overrides [batch] workers)")
	timeout := fs.Duration("timeout", -1, "Per-method deadline (overrides [batch] method-timeout)")
	noMinimize := fs.Bool("no-minimize", false, "Linearize without minimizing locals")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: ilopt [options] input.cbor...\n\n")
		fmt.Fprintf(stderr, "Rebuilds every method in the given method sets with a minimal local table.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  ilopt -dump app.cbor               # Show the optimized bodies\n")
		fmt.Fprintf(stderr, "  ilopt -o app.opt.cbor app.cbor     # Write the optimized method set\n")
		fmt.Fprintf(stderr, "  ilopt -report runs.db lib/*.cbor   # Record per-method results\n")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *verbose >= 0 {
		cfg.Log.Verbosity = *verbose
	}
	if *reportPath != "" {
		cfg.Report.Path = *reportPath
	}
	if *workers >= 0 {
		cfg.Batch.Workers = *workers
	}
	if *timeout >= 0 {
		cfg.Batch.MethodTimeout = *timeout
	}
	if *noMinimize {
		cfg.Optimize.Minimize = false
	}
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogPath())

	methods, scopes, err := readInputs(fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	log.Infof("loaded %d methods from %d files", len(methods), fs.NArg())

	batch := cfg.NewBatch()
	batch.Options.Scopes = scopes
	start := time.Now()
	outcomes := batch.Run(ctx, methods)
	summary := pipeline.Summarize(outcomes)

	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", o.Method.FullName(), o.Err)
			continue
		}
		if *dump {
			fmt.Fprintln(stdout, il.Disassemble(o.Result.Body))
		}
		if *debugEvents {
			var rec debuginfo.Recorder
			debuginfo.Replay(o.Result.Output.Events, &rec)
			fmt.Fprintf(stdout, "; %s\n%s\n", o.Method.FullName(), rec.String())
		}
	}

	if *output != "" {
		if err := writeOutput(*output, outcomes, scopes); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	if path := cfg.ReportPath(); path != "" {
		if err := writeReport(path, cfg, outcomes, summary); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	fmt.Fprintf(stderr, "%d methods (%d changed, %d failed), code %d -> %d bytes, locals %d -> %d, %s\n",
		summary.Methods, summary.Changed, summary.Failed,
		summary.BytesIn, summary.BytesOut, summary.LocalsIn, summary.LocalsOut,
		time.Since(start).Round(time.Millisecond))
	if summary.Failed > 0 {
		return 1
	}
	return 0
}

func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func readInputs(paths []string) ([]*il.MethodBody, debuginfo.ScopeMap, error) {
	var methods []*il.MethodBody
	scopes := make(debuginfo.ScopeMap)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		set, err := wire.Unmarshal(data)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		ms, ss, err := wire.Decode(set)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		methods = append(methods, ms...)
		for name, list := range ss {
			scopes[name] = list
		}
	}
	return methods, scopes, nil
}

// writeOutput writes the optimized bodies with the scopes they were emitted
// with. Failed methods are written unchanged so the output stays complete.
func writeOutput(path string, outcomes []pipeline.Outcome, input debuginfo.ScopeMap) error {
	bodies := make([]*il.MethodBody, 0, len(outcomes))
	scopes := make(debuginfo.ScopeMap)
	for _, o := range outcomes {
		name := o.Method.FullName()
		if o.Err != nil {
			log.Warningf("%s: writing the original body", name)
			bodies = append(bodies, o.Method)
			scopes[name] = input[name]
			continue
		}
		bodies = append(bodies, o.Result.Body)
		if s := debuginfo.CollectScopes(o.Result.Output.Events); len(s) > 0 {
			scopes[name] = s
		}
	}
	set, err := wire.Encode(bodies, scopes)
	if err != nil {
		return err
	}
	data, err := wire.Marshal(set)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func writeReport(path string, cfg *config.Config, outcomes []pipeline.Outcome, summary pipeline.Summary) error {
	store, err := report.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.BeginRun(cfg.String())
	if err != nil {
		return err
	}
	for _, o := range outcomes {
		e := report.Entry{
			Method:       o.Method.FullName(),
			InputHash:    hash.Hex(o.Method),
			CodeBefore:   o.Method.CodeSize(),
			LocalsBefore: len(o.Method.Locals),
			Duration:     o.Duration,
		}
		if o.Err != nil {
			e.Error = o.Err.Error()
		} else {
			body := o.Result.Body
			e.OutputHash = hash.Hex(body)
			e.CodeAfter = body.CodeSize()
			e.LocalsAfter = len(body.Locals)
			if st := o.Result.Stats; st != nil {
				e.Pops = st.Pops
				e.Collapsed = st.Collapsed
			}
		}
		if err := store.Record(run.ID, e); err != nil {
			return err
		}
	}
	if err := store.FinishRun(run.ID, summary.Methods, summary.Failed); err != nil {
		return err
	}
	log.Infof("recorded run %s in %s", run.ID, path)
	return nil
}
