// Package fetch pulls documents from the configured sources into the raw
// item store. Fetching is inherently live: it reads the wall clock and the
// network, so it refuses to run under a pinned scope. Each source failure is
// collected rather than aborting the run unless fail-fast is requested.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mrand "math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hardstop-labs/sentinel/pkg/config"
	"github.com/hardstop-labs/sentinel/pkg/contracts"
	"github.com/hardstop-labs/sentinel/pkg/determinism"
	"github.com/hardstop-labs/sentinel/pkg/store"
)

// ErrBadSince reports an unparsable since window.
var ErrBadSince = errors.New("invalid since window")

// Adapter fetches one source. since is zero when no window filter applies.
type Adapter interface {
	Fetch(ctx context.Context, since time.Time) ([]contracts.RawItemCandidate, error)
}

// AdapterFactory builds the adapter for one configured source.
type AdapterFactory func(src config.Source, defaults config.Defaults) (Adapter, error)

// SourceError wraps a per-source fetch failure.
type SourceError struct {
	SourceID string
	Err      error
}

func (e *SourceError) Error() string { return fmt.Sprintf("fetch %s: %v", e.SourceID, e.Err) }
func (e *SourceError) Unwrap() error { return e.Err }

// ParseSince converts a window like "24h", "72h" or "7d" to hours.
func ParseSince(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadSince, s)
	}
	switch unit {
	case 'h':
		return n, nil
	case 'd':
		return n * 24, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrBadSince, s)
}

// Options filters one fetch run.
type Options struct {
	Tier     contracts.Tier
	SourceID string
	MaxItems int // overrides defaults.max_items_per_fetch when > 0
	Since    string
	FailFast bool
}

// Summary is the structural result of one fetch run.
type Summary struct {
	Sources  int               `json:"sources"`
	Fetched  int               `json:"fetched"`
	Inserted int               `json:"inserted"`
	Deduped  int               `json:"deduped"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// Fetcher drives adapters over the source catalog with per-host pacing.
type Fetcher struct {
	Sources    *config.SourcesConfig
	DB         *store.DB
	NewAdapter AdapterFactory
	Log        *slog.Logger

	limiters map[string]*rate.Limiter
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Log != nil {
		return f.Log
	}
	return slog.Default()
}

func (f *Fetcher) factory() AdapterFactory {
	if f.NewAdapter != nil {
		return f.NewAdapter
	}
	return DefaultAdapter
}

// hostOf extracts the rate-limit key from a source URL.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err == nil && u.Host != "" {
		return u.Host
	}
	return strings.SplitN(raw, "/", 2)[0]
}

// limiterFor returns the pacing limiter for one host. The first request on a
// host passes immediately; subsequent ones wait out the minimum interval.
func (f *Fetcher) limiterFor(host string) *rate.Limiter {
	if f.limiters == nil {
		f.limiters = make(map[string]*rate.Limiter)
	}
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	minSeconds := f.Sources.Defaults.RateLimit.PerHostMinSeconds
	var lim *rate.Limiter
	if minSeconds <= 0 {
		lim = rate.NewLimiter(rate.Inf, 1)
	} else {
		lim = rate.NewLimiter(rate.Every(time.Duration(minSeconds)*time.Second), 1)
	}
	f.limiters[host] = lim
	return lim
}

func (f *Fetcher) jitter() time.Duration {
	j := f.Sources.Defaults.RateLimit.JitterSeconds
	if j <= 0 {
		return 0
	}
	return time.Duration(mrand.Int63n(int64(j) * int64(time.Second)))
}

// Run fetches every matching enabled source and persists the candidates.
// The scope must be live; pinned runs replay from the store instead.
func (f *Fetcher) Run(ctx context.Context, opts Options, scope *determinism.Scope) (Summary, error) {
	sum := Summary{Errors: map[string]string{}}
	log := f.logger()

	if _, err := scope.WallTime(); err != nil {
		return sum, err
	}

	sinceHours, err := ParseSince(opts.Since)
	if err != nil {
		return sum, err
	}

	var selected []config.Source
	for _, src := range f.Sources.AllSources() {
		if !src.IsEnabled() {
			continue
		}
		if opts.Tier != "" && src.Tier != opts.Tier {
			continue
		}
		if opts.SourceID != "" && src.ID != opts.SourceID {
			continue
		}
		selected = append(selected, src)
	}
	log.Info("fetch run start", "sources", len(selected), "since_hours", sinceHours)

	for _, src := range selected {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Sources++

		if err := f.fetchOne(ctx, src, sinceHours, opts.MaxItems, scope, &sum); err != nil {
			log.Error("source fetch failed", "source_id", src.ID, "err", err)
			sum.Errors[src.ID] = err.Error()
			if opts.FailFast {
				return sum, &SourceError{SourceID: src.ID, Err: err}
			}
		}
	}

	log.Info("fetch run done",
		"sources", sum.Sources, "fetched", sum.Fetched,
		"inserted", sum.Inserted, "deduped", sum.Deduped, "errors", len(sum.Errors))
	return sum, nil
}

func (f *Fetcher) fetchOne(
	ctx context.Context,
	src config.Source,
	sinceHours, maxItems int,
	scope *determinism.Scope,
	sum *Summary,
) error {
	host := hostOf(src.URL)
	if err := f.limiterFor(host).Wait(ctx); err != nil {
		return err
	}
	if j := f.jitter(); j > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(j):
		}
	}

	adapter, err := f.factory()(src, f.Sources.Defaults)
	if err != nil {
		return err
	}

	now, err := scope.WallTime()
	if err != nil {
		return err
	}
	var since time.Time
	if sinceHours > 0 {
		since = now.Add(-time.Duration(sinceHours) * time.Hour)
	}

	candidates, err := adapter.Fetch(ctx, since)
	if err != nil {
		return err
	}
	limit := maxItems
	if limit <= 0 {
		limit = f.Sources.Defaults.MaxItemsPerFetch
	}
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	f.logger().Info("source fetched", "source_id", src.ID, "tier", string(src.Tier), "items", len(candidates))

	for _, cand := range candidates {
		fetchedAt, err := scope.WallTime()
		if err != nil {
			return err
		}
		_, inserted, err := f.DB.SaveRawItem(ctx, src.ID, src.Tier, cand, fetchedAt, src.EffectiveTrustTier(), scope)
		if err != nil {
			return err
		}
		sum.Fetched++
		if inserted {
			sum.Inserted++
		} else {
			sum.Deduped++
		}
	}
	return nil
}
