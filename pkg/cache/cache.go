package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/orgs"
)

// KeyPrefix namespaces organization entries in redis
const KeyPrefix = "tenancy:org:"

// EpochKeyPrefix namespaces the per-organization invalidation counters
const EpochKeyPrefix = "tenancy:org-epoch:"

const (
	TierL1 = "l1"
	TierL2 = "l2"
)

// Recorder observes cache lookups
type Recorder interface {
	RecordCacheRequest(tier, result string)
}

// Config holds cache configuration
type Config struct {
	L1Size int           // Max L1 entries (default: 1000)
	TTL    time.Duration // TTL for both tiers (default: 5 minutes)
	// L1TTL caps L1 entry lifetime when redis is configured. Invalidations
	// on other instances only clear redis, so this bounds how long a peer
	// keeps serving a stale copy (default: 10 seconds).
	L1TTL time.Duration
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		L1Size: 1000,
		TTL:    5 * time.Minute,
		L1TTL:  10 * time.Second,
	}
}

// Stats represents cache statistics
type Stats struct {
	L1Hits    int64
	L2Hits    int64
	Misses    int64
	HitRate   float64
	ItemCount int64
}

// errStaleFill aborts a redis fill whose epoch moved
var errStaleFill = errors.New("organization invalidated during load")

var _ orgs.OrganizationCache = (*OrgCache)(nil)

// OrgCache is a two level read-through cache for organizations. L1 is an
// in-process expirable LRU, L2 an optional redis. Redis failures degrade to
// misses.
//
// Every Invalidate advances a per-name epoch, locally and in redis. Fetch
// records the epochs before loading and drops the loaded value if either
// moved, so a load racing an update or delete never repopulates the cache.
type OrgCache struct {
	l1       *lru.LRU[string, *orgs.Organization]
	l2       redis.UniversalClient
	ttl      time.Duration
	recorder Recorder
	logger   *observability.Logger

	// mu orders epoch checks against L1 writes and removals.
	mu     sync.Mutex
	epochs *lru.LRU[string, uint64]
	seq    atomic.Uint64

	l1Hits atomic.Int64
	l2Hits atomic.Int64
	misses atomic.Int64
}

// New creates an OrgCache. client and recorder may be nil.
func New(cfg Config, client redis.UniversalClient, recorder Recorder, logger *observability.Logger) *OrgCache {
	defaults := DefaultConfig()
	if cfg.L1Size <= 0 {
		cfg.L1Size = defaults.L1Size
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.L1TTL <= 0 {
		cfg.L1TTL = defaults.L1TTL
	}
	if logger == nil {
		logger = observability.NewLogger(observability.ErrorLevel, io.Discard)
	}

	l1TTL := cfg.TTL
	if client != nil && cfg.L1TTL < l1TTL {
		l1TTL = cfg.L1TTL
	}

	return &OrgCache{
		l1:       lru.NewLRU[string, *orgs.Organization](cfg.L1Size, nil, l1TTL),
		l2:       client,
		ttl:      cfg.TTL,
		recorder: recorder,
		logger:   logger.WithField("component", "org_cache"),
		epochs:   lru.NewLRU[string, uint64](cfg.L1Size*4, nil, cfg.TTL),
	}
}

// Get returns a copy of the cached organization
func (c *OrgCache) Get(ctx context.Context, name string) (*orgs.Organization, bool) {
	if org, ok := c.l1.Get(name); ok {
		c.l1Hits.Add(1)
		c.record(TierL1, "hit")
		return copyOrg(org), true
	}
	c.record(TierL1, "miss")

	if c.l2 == nil {
		c.misses.Add(1)
		return nil, false
	}

	epoch := c.localEpoch(name)
	data, err := c.l2.Get(ctx, KeyPrefix+name).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("organization", name).Warn("redis cache read failed")
			c.record(TierL2, "error")
		} else {
			c.record(TierL2, "miss")
		}
		c.misses.Add(1)
		return nil, false
	}

	var org orgs.Organization
	if err := json.Unmarshal(data, &org); err != nil {
		c.logger.WithError(err).WithField("organization", name).Warn("discarding corrupt cache entry")
		c.record(TierL2, "error")
		c.misses.Add(1)
		return nil, false
	}

	c.l2Hits.Add(1)
	c.record(TierL2, "hit")
	c.fillL1(&org, epoch)
	return &org, true
}

// Fetch returns the cached organization for name, calling load on a miss.
// A loaded organization is cached only when name was not invalidated while
// load ran. load returning nil means the organization does not exist and
// nothing is cached.
func (c *OrgCache) Fetch(ctx context.Context, name string, load func(ctx context.Context) (*orgs.Organization, error)) (*orgs.Organization, error) {
	if org, ok := c.Get(ctx, name); ok {
		return org, nil
	}

	local := c.localEpoch(name)
	shared, sharedOK := c.sharedEpoch(ctx, name)

	org, err := load(ctx)
	if err != nil || org == nil {
		return org, err
	}

	if c.l2 != nil && sharedOK {
		if !c.fillL2(ctx, org, shared) {
			return org, nil
		}
	}
	c.fillL1(org, local)
	return org, nil
}

// Invalidate drops name from both tiers and advances its epoch so in-flight
// loads do not repopulate it.
func (c *OrgCache) Invalidate(ctx context.Context, name string) {
	c.mu.Lock()
	c.epochs.Add(name, c.seq.Add(1))
	c.l1.Remove(name)
	c.mu.Unlock()

	if c.l2 == nil {
		return
	}
	epochKey := EpochKeyPrefix + name
	_, err := c.l2.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, epochKey)
		pipe.Expire(ctx, epochKey, 2*c.ttl)
		pipe.Del(ctx, KeyPrefix+name)
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("organization", name).Warn("redis cache invalidation failed")
	}
}

// localEpoch returns the epoch for name, assigning a fresh one when none is
// tracked. An evicted epoch therefore never matches a value handed out
// earlier.
func (c *OrgCache) localEpoch(name string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch, ok := c.epochs.Peek(name); ok {
		return epoch
	}
	epoch := c.seq.Add(1)
	c.epochs.Add(name, epoch)
	return epoch
}

// fillL1 stores org when its local epoch is still the one observed before
// the read.
func (c *OrgCache) fillL1(org *orgs.Organization, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.epochs.Peek(org.Name); !ok || current != epoch {
		c.record(TierL1, "stale")
		return
	}
	c.l1.Add(org.Name, copyOrg(org))
}

func (c *OrgCache) sharedEpoch(ctx context.Context, name string) (int64, bool) {
	if c.l2 == nil {
		return 0, false
	}
	epoch, err := c.l2.Get(ctx, EpochKeyPrefix+name).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		c.logger.WithError(err).WithField("organization", name).Warn("redis epoch read failed")
		c.record(TierL2, "error")
		return 0, false
	}
	return epoch, true
}

// fillL2 writes org to redis only if the shared epoch still equals epoch.
// It reports false when an invalidation was observed and the value must not
// be cached anywhere.
func (c *OrgCache) fillL2(ctx context.Context, org *orgs.Organization, epoch int64) bool {
	data, err := json.Marshal(org)
	if err != nil {
		c.logger.WithError(err).WithField("organization", org.Name).Warn("failed to encode cache entry")
		return true
	}

	epochKey := EpochKeyPrefix + org.Name
	err = c.l2.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, epochKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != epoch {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, KeyPrefix+org.Name, data, c.ttl)
			return nil
		})
		return err
	}, epochKey)

	switch {
	case err == nil:
		return true
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		c.record(TierL2, "stale")
		return false
	default:
		c.logger.WithError(err).WithField("organization", org.Name).Warn("redis cache write failed")
		return true
	}
}

// Stats returns cache statistics
func (c *OrgCache) Stats() Stats {
	stats := Stats{
		L1Hits:    c.l1Hits.Load(),
		L2Hits:    c.l2Hits.Load(),
		Misses:    c.misses.Load(),
		ItemCount: int64(c.l1.Len()),
	}
	total := stats.L1Hits + stats.L2Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.L1Hits+stats.L2Hits) / float64(total)
	}
	return stats
}

// Purge empties L1. Redis entries expire on their own.
func (c *OrgCache) Purge() {
	c.l1.Purge()
}

func (c *OrgCache) record(tier, result string) {
	if c.recorder != nil {
		c.recorder.RecordCacheRequest(tier, result)
	}
}

func copyOrg(org *orgs.Organization) *orgs.Organization {
	c := *org
	c.DisplayName = copyString(org.DisplayName)
	c.Description = copyString(org.Description)
	c.WebsiteURL = copyString(org.WebsiteURL)
	c.AvatarURL = copyString(org.AvatarURL)
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
