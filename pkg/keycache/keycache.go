// Package keycache keeps the authority's public signing keys in memory.
//
// Lookups that miss trigger at most one outstanding JWKS fetch no matter how
// many callers are waiting; every waiter sees that fetch's result. A minimum
// interval between fetches (the cooldown) stops a burst of tokens with
// unknown kids from hammering the authority.
package keycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/stsession/pkg/eventx"
	"github.com/aussiebroadwan/stsession/pkg/jwtx"
)

const (
	DefaultCooldown     = 500 * time.Millisecond
	DefaultFetchTimeout = 10 * time.Second
)

// Event names emitted through eventx.
const (
	EventFetchStarted   = "key_fetch_started"
	EventFetchCompleted = "key_fetch_completed"
	EventFetchFailed    = "key_fetch_failed"
)

var (
	// ErrKeyNotFound means the key source answered but does not know the kid.
	ErrKeyNotFound = fmt.Errorf("keycache: %w", jwtx.ErrNoKey)

	// ErrFetch wraps transport and decoding failures. It is transient.
	ErrFetch = errors.New("keycache: key fetch failed")

	// ErrEmptyKeySet means the authority answered with no keys at all.
	// Nothing can be verified until it publishes one, so this is not a
	// verdict on any particular token.
	ErrEmptyKeySet = errors.New("keycache: key set is empty")
)

// Fetcher retrieves the current JWKS from the authority.
type Fetcher interface {
	FetchJWKS(ctx context.Context) (jwtx.JWKS, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (jwtx.JWKS, error)

func (f FetcherFunc) FetchJWKS(ctx context.Context) (jwtx.JWKS, error) { return f(ctx) }

type Options struct {
	// Cooldown is the minimum time between fetches.
	Cooldown time.Duration

	// FetchTimeout bounds a single fetch independently of any caller.
	FetchTimeout time.Duration

	// Now overrides the clock.
	Now func() time.Time
}

func (o *Options) normalise() {
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Cache implements jwtx.KeyProvider on top of a Fetcher.
type Cache struct {
	fetcher Fetcher
	opts    Options
	keys    *jwtx.KeySet
	group   singleflight.Group

	mu        sync.Mutex
	lastFetch time.Time

	fetches atomic.Int64
}

var _ jwtx.KeyProvider = (*Cache)(nil)

// New returns an empty cache. Nothing is fetched until the first lookup.
func New(f Fetcher, opts Options) *Cache {
	opts.normalise()
	return &Cache{fetcher: f, opts: opts, keys: jwtx.NewKeySet()}
}

// GetKey returns the key for kid, or the newest key when kid is empty.
func (c *Cache) GetKey(ctx context.Context, kid string) (jwtx.SigningKey, error) {
	if key, err := c.lookup(kid); err == nil {
		return key, nil
	}

	if err := c.fetch(ctx); err != nil {
		return jwtx.SigningKey{}, err
	}

	key, err := c.lookup(kid)
	if err != nil {
		return jwtx.SigningKey{}, c.notFound(kid)
	}
	return key, nil
}

// Latest returns the newest key.
func (c *Cache) Latest(ctx context.Context) (jwtx.SigningKey, error) {
	return c.GetKey(ctx, "")
}

// Refresh refetches the key set unless the last fetch is within the cooldown.
func (c *Cache) Refresh(ctx context.Context) error {
	return c.fetch(ctx)
}

// KeySet exposes the installed keys.
func (c *Cache) KeySet() *jwtx.KeySet { return c.keys }

// Fetches reports how many fetches actually reached the Fetcher.
func (c *Cache) Fetches() int64 { return c.fetches.Load() }

func (c *Cache) lookup(kid string) (jwtx.SigningKey, error) {
	if kid == "" {
		return c.keys.Latest()
	}
	return c.keys.Get(kid)
}

func (c *Cache) notFound(kid string) error {
	if kid == "" {
		return ErrEmptyKeySet
	}
	return fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

func (c *Cache) fresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastFetch.IsZero() && c.opts.Now().Sub(c.lastFetch) < c.opts.Cooldown
}

// fetch joins or starts the single outstanding fetch. The fetch itself runs
// on a context detached from ctx, so a caller giving up only abandons its
// own wait.
func (c *Cache) fetch(ctx context.Context) error {
	ch := c.group.DoChan("jwks", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FetchTimeout)
		defer cancel()
		return nil, c.doFetch(fctx)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (c *Cache) doFetch(ctx context.Context) error {
	// Within the cooldown the installed set is as good as a new one.
	if c.fresh() {
		return nil
	}

	c.fetches.Add(1)
	eventx.Emit(ctx, EventFetchStarted)

	jwks, err := c.fetcher.FetchJWKS(ctx)
	if err == nil {
		// A bad set is rejected whole; the previous one stays installed.
		err = c.keys.ResetFromJWKS(jwks)
	}
	if err != nil {
		eventx.Emit(ctx, EventFetchFailed, "error", err.Error())
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}

	c.mu.Lock()
	c.lastFetch = c.opts.Now()
	c.mu.Unlock()

	eventx.Emit(ctx, EventFetchCompleted, "keys", len(jwks.Keys))
	return nil
}
