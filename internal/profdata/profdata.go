// Package profdata wires the format parsers into a registry and offers
// the profile-set operations the commands are built on.
package profdata

import (
	"context"
	"fmt"

	"github.com/covparse/internal/merge"
	"github.com/covparse/internal/parser"
	"github.com/covparse/internal/parser/indexed"
	"github.com/covparse/internal/parser/rawprof"
	"github.com/covparse/internal/parser/textprof"
	"github.com/covparse/pkg/model"
	"github.com/covparse/pkg/parallel"
	"github.com/covparse/pkg/utils"
)

// NewRegistry builds a registry over all supported profile formats.
// Binary formats register before text because text detection is
// permissive.
func NewRegistry(logger utils.Logger) *parser.Registry {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	r := parser.NewRegistry()
	r.Register("raw", rawprof.NewParser(&rawprof.Options{Logger: logger}))
	r.Register("indexed", indexed.NewParser(&indexed.Options{Logger: logger}))
	r.Register("text", textprof.NewParser(&textprof.Options{Logger: logger}))
	return r
}

// Options configures a profile set loader.
type Options struct {
	// Logger receives decode and merge diagnostics. Defaults to
	// NullLogger.
	Logger utils.Logger
	// MaxWorker bounds the parallel merge worker count. Zero uses the
	// pool default.
	MaxWorker int
}

// Loader parses profile files and merges them into one profile.
type Loader struct {
	opts     *Options
	pool     parallel.PoolConfig
	registry *parser.Registry
	merger   *merge.Merger
}

// NewLoader creates a Loader. A nil opts uses defaults.
func NewLoader(opts *Options) *Loader {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		opts.Logger = &utils.NullLogger{}
	}

	pool := parallel.DefaultPoolConfig()
	mergeOpts := &merge.Options{Logger: opts.Logger}
	if opts.MaxWorker > 0 {
		pool.MaxWorkers = opts.MaxWorker
		mergeOpts.Pool = &pool
	}

	return &Loader{
		opts:     opts,
		pool:     pool,
		registry: NewRegistry(opts.Logger),
		merger:   merge.NewMerger(mergeOpts),
	}
}

// Registry returns the loader's parser registry.
func (l *Loader) Registry() *parser.Registry {
	return l.registry
}

// ParseFiles decodes each path with format auto-detection. Multiple
// paths decode in parallel; results keep input order.
func (l *Loader) ParseFiles(ctx context.Context, paths []string) ([]*model.InstrumentationProfile, error) {
	if len(paths) == 1 {
		p, err := l.registry.ParseFile(ctx, paths[0])
		if err != nil {
			return nil, err
		}
		return []*model.InstrumentationProfile{p}, nil
	}

	pool := parallel.NewWorkerPool[string, *model.InstrumentationProfile](l.pool)
	results := pool.ExecuteFunc(ctx, paths, func(ctx context.Context, path string) (*model.InstrumentationProfile, error) {
		p, err := l.registry.ParseFile(ctx, path)
		if err != nil {
			return nil, err
		}
		l.opts.Logger.Debug("parsed %s: records=%d", path, p.NumRecords())
		return p, nil
	})

	profiles := make([]*model.InstrumentationProfile, len(results))
	for i, res := range results {
		if res.Error != nil {
			return nil, res.Error
		}
		// A cancelled context can leave slots untouched.
		if res.Result == nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("parse aborted: %s", paths[i])
		}
		profiles[i] = res.Result
	}
	return profiles, nil
}

// Load parses every path and merges the results into one profile.
// Multiple inputs merge in parallel.
func (l *Loader) Load(ctx context.Context, paths []string) (*model.InstrumentationProfile, error) {
	profiles, err := l.ParseFiles(ctx, paths)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 1 {
		return profiles[0], nil
	}
	return l.merger.MergeParallel(ctx, profiles)
}
