package generator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/polisai/rtcbind/pkg/domain"
	"github.com/polisai/rtcbind/pkg/telemetry"
)

// CheckResult describes a comparison between fresh output and a committed file.
type CheckResult struct {
	RunID string
	// Diff is a unified diff from the committed file to the fresh output,
	// empty when they match.
	Diff string
}

// Check regenerates the binding for header in memory and compares it with the
// file at committed. It returns domain.ErrDrift, together with the diff, when
// they differ. A missing committed file is compared as empty.
func (g *Generator) Check(ctx context.Context, header, committed string) (*CheckResult, error) {
	r := &run{id: uuid.NewString()}
	r.logger = g.logger.With("run_id", r.id)
	start := time.Now()

	res, err := g.render(ctx, r, header)
	if err != nil {
		g.finish(r, telemetry.OutcomeFailure, start, nil)
		r.logger.Error("Check failed", "header", header, "error", err)
		return nil, err
	}

	check := &CheckResult{RunID: r.id}
	err = g.stage(ctx, r, domain.StageCheck, func(context.Context) error {
		existing, err := os.ReadFile(committed)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read %s: %w", committed, err)
		}
		if string(existing) == string(res.Output) {
			return nil
		}
		diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(existing)),
			B:        difflib.SplitLines(string(res.Output)),
			FromFile: committed,
			ToFile:   "generated",
			Context:  3,
		})
		if err != nil {
			return fmt.Errorf("diff %s: %w", committed, err)
		}
		check.Diff = diff
		return nil
	})
	if err != nil {
		g.finish(r, telemetry.OutcomeFailure, start, nil)
		return nil, err
	}

	if check.Diff != "" {
		g.finish(r, telemetry.OutcomeDrift, start, res.Table)
		r.logger.Warn("Committed bindings are out of date", "file", committed)
		return check, &domain.GenerationError{Stage: domain.StageCheck, Symbol: committed, Err: domain.ErrDrift}
	}
	g.finish(r, telemetry.OutcomeUnchanged, start, res.Table)
	r.logger.Info("Committed bindings are up to date", "file", committed)
	return check, nil
}
