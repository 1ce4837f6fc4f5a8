// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package resolve

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/sourcegraph/conc/pool"

	"github.com/tomtom215/cinelog/internal/cache"
	"github.com/tomtom215/cinelog/internal/logging"
	"github.com/tomtom215/cinelog/internal/metrics"
	"github.com/tomtom215/cinelog/internal/models"
)

// cacheKeyPrefix namespaces resolution entries in the shared Badger store.
const cacheKeyPrefix = "resolve:"

// cachedResolution is the persisted form of a successful resolution.
// Resolutions are immutable facts and are never invalidated.
type cachedResolution struct {
	TMDBID    int64    `json:"tmdb_id"`
	IMDbID    string   `json:"imdb_id,omitempty"`
	Title     string   `json:"title"`
	Year      int      `json:"year,omitempty"`
	Directors []string `json:"directors,omitempty"`
	PosterURL string   `json:"poster_url,omitempty"`
}

// Resolver maps raw entries to canonical TMDB identities using three
// strategies in order: trusted TMDB id, IMDb id lookup, title search.
type Resolver struct {
	tmdb    *TMDBClient
	memory  *cache.LRU[cachedResolution]
	db      *badger.DB
	workers int
}

// NewResolver creates a resolver backed by the given TMDB client. db may be
// nil, in which case only the in-memory cache tier is used. workers bounds
// parallelism in ResolveAll.
func NewResolver(tmdb *TMDBClient, db *badger.DB, workers int) *Resolver {
	if workers <= 0 {
		workers = 4
	}
	return &Resolver{
		tmdb:    tmdb,
		memory:  cache.NewLRU[cachedResolution](4096, 0),
		db:      db,
		workers: workers,
	}
}

// ResolveAll resolves entries in parallel, bounded by the worker count.
// The result slice is index-aligned with the input. Individual lookup
// failures mark that entry not_found; only context cancellation aborts
// the whole batch.
func (r *Resolver) ResolveAll(ctx context.Context, entries []models.RawEntry) ([]models.ResolvedEntry, error) {
	results := make([]models.ResolvedEntry, len(entries))

	p := pool.New().WithMaxGoroutines(r.workers).WithContext(ctx)
	for i := range entries {
		i := i
		p.Go(func(c context.Context) error {
			results[i] = r.Resolve(c, entries[i])
			return c.Err()
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Resolve maps a single raw entry to a canonical identity.
func (r *Resolver) Resolve(ctx context.Context, entry models.RawEntry) models.ResolvedEntry {
	start := time.Now()
	resolved, strategy := r.resolve(ctx, entry)
	metrics.RecordResolution(string(resolved.Status), strategy, time.Since(start))

	if resolved.Status != models.StatusResolved {
		logging.Debug().
			Str("title", entry.Title).
			Str("source", string(entry.Source)).
			Str("status", string(resolved.Status)).
			Msg("Entry did not resolve")
	}
	return resolved
}

func (r *Resolver) resolve(ctx context.Context, entry models.RawEntry) (models.ResolvedEntry, string) {
	// Strategy 1: the source already carries a TMDB id. Trust it.
	if entry.TMDBID != nil && *entry.TMDBID > 0 {
		return r.resolveByTMDBID(ctx, entry), "tmdb_id"
	}

	// Strategy 2: IMDb id lookup.
	if entry.IMDbID != "" {
		return r.resolveByIMDbID(ctx, entry), "imdb_id"
	}

	// Strategy 3: normalized title plus year search.
	return r.resolveByTitle(ctx, entry), "title_search"
}

func (r *Resolver) resolveByTMDBID(ctx context.Context, entry models.RawEntry) models.ResolvedEntry {
	key := "tmdb:" + strconv.FormatInt(*entry.TMDBID, 10)
	if hit, ok := r.cacheGet(key); ok {
		return resolvedFrom(entry, hit)
	}

	details, err := r.tmdb.MovieDetails(ctx, *entry.TMDBID)
	if err != nil {
		var nf *notFoundError
		if errors.As(err, &nf) {
			// The id itself came from a source; a vanished TMDB record
			// means this entry cannot be canonicalized.
			return notFound(entry)
		}
		// The id is authoritative even when enrichment fails: resolve
		// with what the source gave us, without directors or poster.
		logging.Warn().Err(err).Int64("tmdb_id", *entry.TMDBID).Msg("TMDB detail fetch failed, resolving without enrichment")
		out := entry.Resolved()
		out.CanonicalTMDBID = *entry.TMDBID
		out.CanonicalIMDbID = entry.IMDbID
		return out
	}

	res := cachedFrom(details)
	r.cachePut(key, res)
	r.indexResolution(entry, res)
	return resolvedFrom(entry, res)
}

func (r *Resolver) resolveByIMDbID(ctx context.Context, entry models.RawEntry) models.ResolvedEntry {
	key := "imdb:" + entry.IMDbID
	if hit, ok := r.cacheGet(key); ok {
		return resolvedFrom(entry, hit)
	}

	match, err := r.tmdb.FindByIMDbID(ctx, entry.IMDbID)
	if err != nil {
		logging.Warn().Err(err).Str("imdb_id", entry.IMDbID).Msg("TMDB find failed")
		return notFound(entry)
	}
	if match == nil {
		return notFound(entry)
	}

	res, err := r.enrich(ctx, match, entry.IMDbID)
	if err != nil {
		return notFound(entry)
	}
	r.cachePut(key, res)
	r.indexResolution(entry, res)
	return resolvedFrom(entry, res)
}

func (r *Resolver) resolveByTitle(ctx context.Context, entry models.RawEntry) models.ResolvedEntry {
	normalized := NormalizeTitle(entry.Title)
	if normalized == "" {
		return notFound(entry)
	}
	key := titleKey(normalized, entry.Year)
	if hit, ok := r.cacheGet(key); ok {
		return resolvedFrom(entry, hit)
	}

	candidates, err := r.tmdb.SearchMovie(ctx, entry.Title, entry.Year)
	if err != nil {
		logging.Warn().Err(err).Str("title", entry.Title).Msg("TMDB search failed")
		return notFound(entry)
	}

	matched, ambiguous := selectCandidate(candidates, normalized, entry.Year)
	if ambiguous {
		return withStatus(entry, models.StatusAmbiguous)
	}
	if matched == nil {
		return notFound(entry)
	}

	res, err := r.enrich(ctx, matched, "")
	if err != nil {
		return notFound(entry)
	}
	r.cachePut(key, res)
	r.indexResolution(entry, res)
	return resolvedFrom(entry, res)
}

// selectCandidate applies the match policy to search results. It returns
// the single matching candidate, or ambiguous=true when multiple
// candidates match with equal confidence.
func selectCandidate(candidates []MovieResult, normalized string, year *int) (*MovieResult, bool) {
	var matches []*MovieResult
	for i := range candidates {
		c := &candidates[i]
		if NormalizeTitle(c.Title) != normalized && NormalizeTitle(c.OriginalTitle) != normalized {
			continue
		}
		if year != nil {
			if c.Year() == *year {
				matches = append(matches, c)
			}
			continue
		}
		matches = append(matches, c)
	}

	switch len(matches) {
	case 0:
		return nil, false
	case 1:
		return matches[0], false
	default:
		return nil, true
	}
}

// enrich fetches full details for a search result. knownIMDbID avoids
// a detail round trip producing an inconsistent external id.
func (r *Resolver) enrich(ctx context.Context, match *MovieResult, knownIMDbID string) (cachedResolution, error) {
	detailKey := "tmdb:" + strconv.FormatInt(match.ID, 10)
	if hit, ok := r.cacheGet(detailKey); ok {
		return hit, nil
	}

	details, err := r.tmdb.MovieDetails(ctx, match.ID)
	if err != nil {
		logging.Warn().Err(err).Int64("tmdb_id", match.ID).Msg("TMDB detail fetch failed")
		return cachedResolution{}, err
	}
	res := cachedFrom(details)
	if res.IMDbID == "" {
		res.IMDbID = knownIMDbID
	}
	r.cachePut(detailKey, res)
	return res, nil
}

// indexResolution stores the resolution under every key a future lookup
// of the same movie could arrive by.
func (r *Resolver) indexResolution(entry models.RawEntry, res cachedResolution) {
	if res.IMDbID != "" {
		r.cachePut("imdb:"+res.IMDbID, res)
	}
	if normalized := NormalizeTitle(entry.Title); normalized != "" {
		r.cachePut(titleKey(normalized, entry.Year), res)
	}
}

func titleKey(normalized string, year *int) string {
	if year == nil {
		return "title:" + normalized + "|"
	}
	return fmt.Sprintf("title:%s|%d", normalized, *year)
}

func (r *Resolver) cacheGet(key string) (cachedResolution, bool) {
	if hit, ok := r.memory.Get(key); ok {
		metrics.CacheHits.WithLabelValues("resolve_memory").Inc()
		return hit, true
	}
	metrics.CacheMisses.WithLabelValues("resolve_memory").Inc()

	if r.db == nil {
		return cachedResolution{}, false
	}

	var res cachedResolution
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cacheKeyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &res)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			logging.Warn().Err(err).Str("key", key).Msg("Resolution cache read failed")
		}
		metrics.CacheMisses.WithLabelValues("resolve_disk").Inc()
		return cachedResolution{}, false
	}

	metrics.CacheHits.WithLabelValues("resolve_disk").Inc()
	r.memory.Add(key, res)
	return res, true
}

func (r *Resolver) cachePut(key string, res cachedResolution) {
	r.memory.Add(key, res)
	metrics.CacheSize.WithLabelValues("resolve_memory").Set(float64(r.memory.Len()))

	if r.db == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cacheKeyPrefix+key), data)
	}); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("Resolution cache write failed")
	}
}

func resolvedFrom(entry models.RawEntry, res cachedResolution) models.ResolvedEntry {
	out := entry.Resolved()
	out.CanonicalTMDBID = res.TMDBID
	out.CanonicalIMDbID = res.IMDbID
	out.Directors = res.Directors
	out.PosterURL = res.PosterURL
	if out.Title == "" {
		out.Title = res.Title
	}
	if out.Year == nil && res.Year > 0 {
		year := res.Year
		out.Year = &year
	}
	return out
}

func cachedFrom(details *MovieDetails) cachedResolution {
	return cachedResolution{
		TMDBID:    details.ID,
		IMDbID:    details.ExternalIDs.IMDbID,
		Title:     details.Title,
		Year:      details.Year(),
		Directors: details.Directors(),
		PosterURL: details.PosterURL(),
	}
}

func notFound(entry models.RawEntry) models.ResolvedEntry {
	return withStatus(entry, models.StatusNotFound)
}

func withStatus(entry models.RawEntry, status models.ResolutionStatus) models.ResolvedEntry {
	out := models.ResolvedEntry{RawEntry: entry}
	out.Status = status
	return out
}
