// Package generator runs the binding pipeline: extract declarations from the
// header, strip enum and bitflag prefixes, correct integer typedefs, render
// the target language and write the result atomically.
package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/polisai/rtcbind/pkg/config"
	"github.com/polisai/rtcbind/pkg/domain"
	"github.com/polisai/rtcbind/pkg/emit"
	"github.com/polisai/rtcbind/pkg/extract"
	"github.com/polisai/rtcbind/pkg/normalize"
	"github.com/polisai/rtcbind/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Options configure a Generator.
type Options struct {
	Config *config.Config
	// Runner executes the extraction tool; nil runs it as a child process.
	Runner  extract.Runner
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Generator turns a header into a binding file. It is safe for sequential
// reuse; concurrent runs must be serialised by the caller.
type Generator struct {
	cfg        *config.Config
	extractor  *extract.Extractor
	normalizer *normalize.Normalizer
	emitter    emit.Emitter
	logger     *slog.Logger
	metrics    *telemetry.Metrics
}

// Result describes a completed run.
type Result struct {
	RunID    string
	Output   []byte
	Table    *domain.SymbolTable
	Outcomes []domain.RuleOutcome
	// Changed is false when the destination already held identical bytes.
	Changed  bool
	Duration time.Duration
}

// New builds a Generator from configuration.
func New(opts Options) (*Generator, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is required", domain.ErrConfigInvalid)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runner := opts.Runner
	if runner == nil {
		runner = extract.NewProcessRunner(logger)
	}

	extractor, err := extract.New(extract.Options{
		Command:      cfg.Extractor.Command,
		IncludePaths: cfg.Extractor.IncludePaths,
		Defines:      cfg.Extractor.Defines,
		Env:          cfg.Extractor.Env,
		WorkDir:      cfg.Extractor.WorkDir,
		Functions:    cfg.Allowlist.Functions,
		Types:        cfg.Allowlist.Types,
		Vars:         cfg.Allowlist.Vars,
		Closed:       ruleTypes(cfg.Enums),
		Bitmask:      ruleTypes(cfg.Bitflags),
		Runner:       tracingRunner{runner},
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	emitter, err := emit.New(cfg.Target, emit.Options{Package: cfg.Package})
	if err != nil {
		return nil, err
	}

	return &Generator{
		cfg:       cfg,
		extractor: extractor,
		normalizer: normalize.New(normalize.Options{
			Enums:    cfg.Enums,
			Bitflags: cfg.Bitflags,
			Typedefs: cfg.Typedefs,
			Strict:   cfg.Strict,
			Logger:   logger,
		}),
		emitter: emitter,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

func ruleTypes(rules []domain.PrefixRule) []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Type
	}
	return names
}

// tracingRunner hands the current trace context to the extraction tool.
type tracingRunner struct {
	extract.Runner
}

func (r tracingRunner) Run(ctx context.Context, command []string, workDir string, env []string) ([]byte, error) {
	return r.Runner.Run(ctx, command, workDir, telemetry.InjectEnv(ctx, env))
}

// run carries the per-run identity through the stages.
type run struct {
	id     string
	logger *slog.Logger
	table  *domain.SymbolTable
}

// Render runs every stage up to and including emit and returns the binding
// without writing it.
func (g *Generator) Render(ctx context.Context, header string) (*Result, error) {
	r := &run{id: uuid.NewString()}
	r.logger = g.logger.With("run_id", r.id)
	return g.render(ctx, r, header)
}

func (g *Generator) render(ctx context.Context, r *run, header string) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: r.id}

	r.logger.Info("Generating bindings", "header", header, "target", g.emitter.Target(), "library_version", g.cfg.LibraryVersion)

	err := g.stage(ctx, r, domain.StageExtract, func(ctx context.Context) error {
		table, err := g.extractor.Extract(ctx, header)
		r.table = table
		return err
	})
	if err != nil {
		return nil, err
	}

	err = g.stage(ctx, r, domain.StageNormalize, func(context.Context) error {
		outcomes, err := g.normalizer.StripPrefixes(r.table)
		res.Outcomes = append(res.Outcomes, outcomes...)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = g.stage(ctx, r, domain.StageCorrect, func(context.Context) error {
		outcomes, err := g.normalizer.CorrectTypedefs(r.table)
		res.Outcomes = append(res.Outcomes, outcomes...)
		if err != nil {
			return err
		}
		// Corrected typedefs no longer depend on their C definitions, so
		// references are only checked once correction is done.
		return extract.Resolve(r.table)
	})
	g.recordRules(ctx, res.Outcomes)
	if err != nil {
		return nil, err
	}

	err = g.stage(ctx, r, domain.StageEmit, func(context.Context) error {
		out, err := g.emitter.Emit(r.table)
		res.Output = out
		return err
	})
	if err != nil {
		return nil, err
	}

	res.Table = r.table
	res.Duration = time.Since(start)
	return res, nil
}

// Generate renders header and atomically replaces output with the result.
// Nothing is written when any stage fails.
func (g *Generator) Generate(ctx context.Context, header, output string) (*Result, error) {
	r := &run{id: uuid.NewString()}
	r.logger = g.logger.With("run_id", r.id)
	start := time.Now()

	if want := "." + g.emitter.Extension(); filepath.Ext(output) != want {
		r.logger.Warn("Output file extension does not match the target",
			"output", output, "target", g.emitter.Target(), "expected_extension", want)
	}

	res, err := g.render(ctx, r, header)
	if err == nil {
		err = g.stage(ctx, r, domain.StageWrite, func(context.Context) error {
			changed, err := writeIfChanged(output, res.Output)
			res.Changed = changed
			return err
		})
	}
	if err != nil {
		g.finish(r, telemetry.OutcomeFailure, start, nil)
		r.logger.Error("Generation failed", "header", header, "output", output, "error", err)
		return nil, err
	}

	res.Duration = time.Since(start)
	outcome := telemetry.OutcomeSuccess
	if !res.Changed {
		outcome = telemetry.OutcomeUnchanged
	}
	g.finish(r, outcome, start, res.Table)
	r.logger.Info("Bindings written",
		"output", output,
		"changed", res.Changed,
		"declarations", res.Table.Len(),
		"bytes", len(res.Output),
		"duration", res.Duration)
	return res, nil
}

func writeIfChanged(path string, data []byte) (bool, error) {
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// stage runs fn inside a span and records its duration. Errors without a
// stage are attributed to this one.
func (g *Generator) stage(ctx context.Context, r *run, stage domain.Stage, fn func(context.Context) error) error {
	ctx, span := telemetry.StartStage(ctx, stage,
		attribute.String("rtcbind.run_id", r.id),
		attribute.String("rtcbind.target", g.emitter.Target()))
	start := time.Now()

	err := fn(ctx)
	if err != nil {
		if _, ok := domain.StageOf(err); !ok {
			err = &domain.GenerationError{Stage: stage, Err: err}
		}
	}
	duration := time.Since(start)

	telemetry.EndStage(span, err)
	symbols := 0
	if r.table != nil {
		symbols = r.table.Len()
	}
	telemetry.RecordStage(ctx, telemetry.StageMetrics{
		Stage:    stage,
		Target:   g.emitter.Target(),
		Duration: duration,
		Err:      err,
		Symbols:  symbols,
	})
	if g.metrics != nil {
		g.metrics.RecordStage(stage, duration, err)
	}
	r.logger.Debug("Stage finished", "stage", stage, "duration", duration, "ok", err == nil)
	return err
}

func (g *Generator) recordRules(ctx context.Context, outcomes []domain.RuleOutcome) {
	telemetry.RecordRuleOutcomes(ctx, outcomes)
	if g.metrics != nil {
		g.metrics.RecordRuleOutcomes(outcomes)
	}
}

func (g *Generator) finish(r *run, outcome string, start time.Time, table *domain.SymbolTable) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordRun(g.emitter.Target(), outcome, time.Since(start))
	if table != nil {
		g.metrics.SetSymbols(table)
	}
}
