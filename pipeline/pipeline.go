// Package pipeline drives the graph builder, the local minimizer and the
// linearizer over one method, and over many methods concurrently.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/chazu/ilopt/cdfg"
	"github.com/chazu/ilopt/debuginfo"
	"github.com/chazu/ilopt/il"
	"github.com/chazu/ilopt/ilgen"
	"github.com/chazu/ilopt/linearize"
	"github.com/chazu/ilopt/optimize"
)

var ErrVerify = errors.New("emitted body failed verification")

// Options configure one run of the pipeline.
type Options struct {
	Resolver il.TypeResolver         // nil uses il.DefaultResolver
	Scopes   debuginfo.ScopeProvider // nil builds without debug scopes
	Writer   debuginfo.Writer        // receives the debug events of the new body

	ShortenBranches         bool
	EliminateBranchesToNext bool

	// Verify re-checks the stack discipline of the emitted body.
	Verify bool

	// Minimize runs the local minimizer. Without it the graph is linearized
	// unchanged.
	Minimize bool
}

// DefaultOptions minimize, shorten branches and verify.
func DefaultOptions() Options {
	return Options{
		ShortenBranches:         true,
		EliminateBranchesToNext: true,
		Verify:                  true,
		Minimize:                true,
	}
}

// Result is one optimized method.
type Result struct {
	Method *il.MethodBody // input
	Body   *il.MethodBody // output
	Output *ilgen.Output
	Stats  *optimize.Stats // nil when not minimizing
}

// OptimizeMethod runs the whole pipeline over m. m is not modified.
func OptimizeMethod(m *il.MethodBody, opts Options) (*Result, error) {
	var build []cdfg.Option
	if opts.Resolver != nil {
		build = append(build, cdfg.WithResolver(opts.Resolver))
	}
	if opts.Scopes != nil {
		build = append(build, cdfg.WithScopes(opts.Scopes))
	}
	g, err := cdfg.Build(m, build...)
	if err != nil {
		return nil, err
	}

	lopts := linearize.Options{
		Options: ilgen.Options{
			ShortenBranches:         opts.ShortenBranches,
			EliminateBranchesToNext: opts.EliminateBranchesToNext,
		},
		Writer: opts.Writer,
	}

	var res *linearize.Result
	var stats *optimize.Stats
	if opts.Minimize {
		lm := optimize.New(g)
		if res, err = lm.MinimizeLocals(lopts); err != nil {
			return nil, err
		}
		stats = lm.Stats()
	} else if res, err = linearize.NewConverter(g, linearize.Identity{}, lopts).Convert(); err != nil {
		return nil, err
	}

	if opts.Verify {
		depth, err := il.CheckStack(res.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrVerify, err)
		}
		if depth > res.Body.MaxStack {
			return nil, fmt.Errorf("%s: depth %d exceeds max stack %d: %w",
				m.FullName(), depth, res.Body.MaxStack, ErrVerify)
		}
	}
	return &Result{Method: m, Body: res.Body, Output: res.Output, Stats: stats}, nil
}
