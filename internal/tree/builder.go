package tree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/netcomp-backend/pkg/errors"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
	"github.com/angelmondragon/netcomp-backend/pkg/redis"
)

const (
	DefaultMaxDepth = 10
	defaultCacheTTL = 30 * time.Second
)

// ChildReader is the slice of the referral graph the builder needs.
type ChildReader interface {
	GetChildren(ctx context.Context, memberID uuid.UUID) ([]uuid.UUID, error)
}

// Downline groups a member's descendants by distance from the root.
type Downline struct {
	RootID   uuid.UUID               `json:"rootId"`
	MaxDepth int                     `json:"maxDepth"`
	Levels   map[int][]uuid.UUID     `json:"levels"`
	Parents  map[uuid.UUID]uuid.UUID `json:"parents"`
}

// Level returns the members discovered at the given distance.
func (d *Downline) Level(n int) []uuid.UUID {
	if d == nil {
		return nil
	}
	return d.Levels[n]
}

// Size counts every member in the downline.
func (d *Downline) Size() int {
	if d == nil {
		return 0
	}
	total := 0
	for _, members := range d.Levels {
		total += len(members)
	}
	return total
}

// Options tunes the builder. Zero values fall back to package defaults.
type Options struct {
	DefaultDepth int
	MaxDepthCap  int
	CacheTTL     time.Duration
}

// Builder materializes downlines breadth-first.
type Builder struct {
	graph ChildReader
	cache redis.CacheStore
	logg  *logger.Logger
	opts  Options
}

// NewBuilder wires a builder; cache may be nil to disable caching.
func NewBuilder(graph ChildReader, cache redis.CacheStore, logg *logger.Logger, opts Options) (*Builder, error) {
	if graph == nil {
		return nil, fmt.Errorf("referral graph required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	if opts.DefaultDepth <= 0 {
		opts.DefaultDepth = DefaultMaxDepth
	}
	if opts.MaxDepthCap <= 0 {
		opts.MaxDepthCap = DefaultMaxDepth
	}
	if opts.DefaultDepth > opts.MaxDepthCap {
		opts.DefaultDepth = opts.MaxDepthCap
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	return &Builder{graph: graph, cache: cache, logg: logg, opts: opts}, nil
}

// EffectiveDepth applies the default and the hard cap to a requested depth.
func (b *Builder) EffectiveDepth(requested int) int {
	if requested <= 0 {
		return b.opts.DefaultDepth
	}
	if requested > b.opts.MaxDepthCap {
		return b.opts.MaxDepthCap
	}
	return requested
}

// BuildLevels returns the root's descendants from level 1 (direct children) up
// to maxDepth. Every member appears at most once, the root never appears.
func (b *Builder) BuildLevels(ctx context.Context, rootID uuid.UUID, maxDepth int) (*Downline, error) {
	if rootID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "root id required")
	}
	depth := b.EffectiveDepth(maxDepth)

	if cached, ok := b.readCache(ctx, rootID, depth); ok {
		return cached, nil
	}

	downline, err := b.build(ctx, rootID, depth)
	if err != nil {
		return nil, err
	}
	b.writeCache(ctx, downline)
	return downline, nil
}

func (b *Builder) build(ctx context.Context, rootID uuid.UUID, depth int) (*Downline, error) {
	downline := &Downline{
		RootID:   rootID,
		MaxDepth: depth,
		Levels:   map[int][]uuid.UUID{},
		Parents:  map[uuid.UUID]uuid.UUID{},
	}
	visited := map[uuid.UUID]struct{}{rootID: {}}
	frontier := []uuid.UUID{rootID}

	for level := 1; level <= depth && len(frontier) > 0; level++ {
		var next []uuid.UUID
		for _, parent := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			children, err := b.graph.GetChildren(ctx, parent)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if _, seen := visited[child]; seen {
					continue
				}
				visited[child] = struct{}{}
				downline.Parents[child] = parent
				next = append(next, child)
			}
		}
		if len(next) > 0 {
			downline.Levels[level] = next
		}
		frontier = next
	}
	return downline, nil
}

func (b *Builder) readCache(ctx context.Context, rootID uuid.UUID, depth int) (*Downline, bool) {
	if b.cache == nil {
		return nil, false
	}
	raw, err := b.cache.Get(ctx, redis.DownlineCacheKey(b.cache, rootID.String(), depth))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			b.logg.Warn(b.logg.WithField(ctx, "error", err.Error()), "downline cache read failed")
		}
		return nil, false
	}
	var downline Downline
	if err := json.Unmarshal([]byte(raw), &downline); err != nil {
		b.logg.Warn(b.logg.WithField(ctx, "error", err.Error()), "downline cache entry unreadable")
		return nil, false
	}
	if downline.Levels == nil {
		downline.Levels = map[int][]uuid.UUID{}
	}
	if downline.Parents == nil {
		downline.Parents = map[uuid.UUID]uuid.UUID{}
	}
	return &downline, true
}

func (b *Builder) writeCache(ctx context.Context, downline *Downline) {
	if b.cache == nil {
		return
	}
	payload, err := json.Marshal(downline)
	if err != nil {
		return
	}
	key := redis.DownlineCacheKey(b.cache, downline.RootID.String(), downline.MaxDepth)
	if err := b.cache.Set(ctx, key, payload, b.opts.CacheTTL); err != nil {
		b.logg.Warn(b.logg.WithField(ctx, "error", err.Error()), "downline cache write failed")
	}
}
