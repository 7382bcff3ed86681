// Package store implements the multi-tier context store: an in-process hot
// LRU, a redis warm tier with TTL, and a mongo cold tier that is the source
// of truth. It also persists turns, approval records, and channel logs.
package store

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/porterhq/porter/ai/metrics"
	"github.com/porterhq/porter/internal/profile"
	"github.com/porterhq/porter/store/cache"
)

var (
	// ErrNotFound is returned when a session has no context in any tier.
	ErrNotFound = errors.New("store: not found")
	// ErrColdUnavailable signals that the cold tier rejected a write; the
	// caller decides whether the turn degrades to an ephemeral reply.
	ErrColdUnavailable = errors.New("store: cold tier unavailable")
)

const (
	warmTTL         = 24 * time.Hour
	warmOpTimeout   = 10 * time.Second
	coldOpTimeout   = 10 * time.Second
	appendWarmLimit = 100
	hotCapacity     = 256
	hotTTL          = 5 * time.Minute

	collTurns        = "turns"
	collContexts     = "mcp_contexts"
	collAppends      = "mcp_appends"
	collApprovals    = "approvals"
	collChannelConvs = "channel_conversations"
	collChannelErrs  = "channel_errors"
)

const sessionLockStripes = 64

// Store provides access to all persisted objects across the three tiers.
type Store struct {
	profile *profile.Profile
	rdb     *redis.Client
	mongo   *mongo.Client
	db      *mongo.Database

	hot     *cache.LRU[string, *ContextSnapshot]
	metrics *metrics.Exporter

	// Writes for one session are serialised so no partial envelope or
	// out-of-order append is ever visible. Cross-session writes run in
	// parallel.
	sessionLocks [sessionLockStripes]sync.Mutex
}

// New connects both remote tiers and ensures the cold-tier indexes.
func New(ctx context.Context, p *profile.Profile) (*Store, error) {
	opts, err := redis.ParseURL(p.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)

	mc, err := mongo.Connect(options.Client().ApplyURI(p.MongoURI))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}

	s := &Store{
		profile: p,
		rdb:     rdb,
		mongo:   mc,
		db:      mc.Database(p.MongoDB),
		hot:     cache.NewLRU[string, *ContextSnapshot](hotCapacity, hotTTL),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		// Index creation needs a reachable cold tier; the store still
		// works without it, reads just scan.
		slog.Warn("store: ensure indexes failed", "error", err)
	}
	return s, nil
}

// SetMetrics attaches the exporter for tier hit/miss counters.
func (s *Store) SetMetrics(exporter *metrics.Exporter) {
	s.metrics = exporter
}

func (s *Store) recordHit(tier string) {
	if s.metrics != nil {
		s.metrics.RecordCacheHit(tier)
	}
}

func (s *Store) recordMiss(tier string) {
	if s.metrics != nil {
		s.metrics.RecordCacheMiss(tier)
	}
}

// Close releases both remote connections.
func (s *Store) Close(ctx context.Context) error {
	var firstErr error
	if err := s.rdb.Close(); err != nil {
		firstErr = err
	}
	if err := s.mongo.Disconnect(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Ping reports per-tier reachability for the health endpoint.
func (s *Store) Ping(ctx context.Context) map[string]string {
	status := map[string]string{"warm": "ok", "cold": "ok"}

	warmCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.rdb.Ping(warmCtx).Err(); err != nil {
		status["warm"] = err.Error()
	}

	coldCtx, cancel2 := context.WithTimeout(ctx, 2*time.Second)
	defer cancel2()
	if err := s.mongo.Ping(coldCtx, readpref.Primary()); err != nil {
		status["cold"] = err.Error()
	}
	return status
}

func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &s.sessionLocks[h.Sum32()%sessionLockStripes]
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()

	bySession := bson.D{{Key: "session_id", Value: 1}}
	bySessionTime := bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: 1}}

	indexes := map[string][]mongo.IndexModel{
		collContexts: {
			{Keys: bySession, Options: options.Index().SetUnique(true)},
		},
		collAppends: {
			{Keys: bySessionTime},
		},
		collTurns: {
			{Keys: bySessionTime},
		},
		collApprovals: {
			{Keys: bson.D{{Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		collChannelConvs: {
			{Keys: bySessionTime},
		},
	}
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "create indexes for %s", coll)
		}
	}
	return nil
}
