// Package extract turns a C header into a symbol table. The header is run
// through an external preprocessor, the output is split into top-level
// declarations, and only allow-listed declarations are parsed and kept.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/polisai/rtcbind/pkg/domain"
)

// Options configure an Extractor.
type Options struct {
	// Command is the preprocessor invocation without include paths, defines
	// or the header, e.g. cc -E -P -dD -x c.
	Command      []string
	IncludePaths []string
	Defines      []string
	Env          []string
	WorkDir      string

	Functions []string
	Types     []string
	Vars      []string

	// Closed and Bitmask name enum types surfaced as closed enums or bitmask types.
	Closed  []string
	Bitmask []string

	Runner Runner
	Logger *slog.Logger
}

// Extractor runs the extraction tool and parses its output.
type Extractor struct {
	opts   Options
	allow  *Allowlist
	styles map[string]domain.EnumStyle
	runner Runner
	logger *slog.Logger
}

// New validates opts and builds an Extractor.
func New(opts Options) (*Extractor, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("%w: extraction command is empty", domain.ErrConfigInvalid)
	}
	allow, err := NewAllowlist(opts.Functions, opts.Types, opts.Vars)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}

	styles := make(map[string]domain.EnumStyle, len(opts.Closed)+len(opts.Bitmask))
	for _, name := range opts.Closed {
		styles[name] = domain.EnumClosed
	}
	for _, name := range opts.Bitmask {
		if _, dup := styles[name]; dup {
			return nil, fmt.Errorf("%w: %s is both a closed enum and a bitmask", domain.ErrConfigInvalid, name)
		}
		styles[name] = domain.EnumBitmask
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := opts.Runner
	if runner == nil {
		runner = NewProcessRunner(logger)
	}

	return &Extractor{opts: opts, allow: allow, styles: styles, runner: runner, logger: logger}, nil
}

// Command returns the full tool invocation for header.
func (e *Extractor) Command(header string) []string {
	cmd := make([]string, 0, len(e.opts.Command)+len(e.opts.IncludePaths)+len(e.opts.Defines)+1)
	cmd = append(cmd, e.opts.Command...)
	for _, dir := range e.opts.IncludePaths {
		cmd = append(cmd, "-I"+dir)
	}
	for _, def := range e.opts.Defines {
		cmd = append(cmd, "-D"+def)
	}
	return append(cmd, header)
}

// Extract preprocesses header and returns its allow-listed declarations.
// Type references are not checked here; see Resolve.
func (e *Extractor) Extract(ctx context.Context, header string) (*domain.SymbolTable, error) {
	if _, err := os.Stat(header); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
	}

	out, err := e.runner.Run(ctx, e.Command(header), e.opts.WorkDir, e.opts.Env)
	if err != nil {
		if errors.Is(err, domain.ErrExtractionFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrExtractionFailed, err)
	}

	table, err := e.Parse(filepath.Base(header), string(out))
	if err != nil {
		return nil, err
	}
	if table.Len() == 0 {
		e.logger.Warn("No allow-listed declarations found", "header", header)
	}
	e.logger.Debug("Extracted declarations",
		"header", header,
		"constants", table.Count(domain.KindConst),
		"enums", table.Count(domain.KindEnum),
		"structs", table.Count(domain.KindStruct),
		"typedefs", table.Count(domain.KindTypedef),
		"functions", table.Count(domain.KindFunction))
	return table, nil
}

// Parse parses already preprocessed text with the extractor's allow-list
// and enum directives.
func (e *Extractor) Parse(header, src string) (*domain.SymbolTable, error) {
	return Parse(header, src, ParseOptions{Allowlist: e.allow, Styles: e.styles, Logger: e.logger})
}

// Resolve fails when an allow-listed declaration references a type that is
// neither a builtin nor itself in the table.
func Resolve(table *domain.SymbolTable) error {
	var errs []error
	for _, u := range table.Unresolved() {
		errs = append(errs, &domain.GenerationError{
			Stage:  domain.StageExtract,
			Symbol: u.Decl,
			Err:    fmt.Errorf("%w: %w: %s", domain.ErrExtractionFailed, domain.ErrUnresolvedType, u.Ref),
		})
	}
	return errors.Join(errs...)
}
