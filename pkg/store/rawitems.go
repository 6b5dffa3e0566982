package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hardstop-labs/sentinel/pkg/canonicalize"
	"github.com/hardstop-labs/sentinel/pkg/contracts"
	"github.com/hardstop-labs/sentinel/pkg/determinism"
)

// ErrTerminalStatus is returned when a raw item in a terminal state is asked
// to move to a different status.
var ErrTerminalStatus = errors.New("raw item already in terminal status")

// contentHashProjection is the stable candidate projection whose canonical
// JSON is hashed for dedupe.
type contentHashProjection struct {
	CanonicalID    string         `json:"canonical_id"`
	Title          string         `json:"title"`
	URL            string         `json:"url"`
	PublishedAtUTC string         `json:"published_at_utc"`
	Payload        map[string]any `json:"payload"`
}

// ContentHash computes the dedupe hash of a candidate.
func ContentHash(c contracts.RawItemCandidate) (string, error) {
	return canonicalize.Hash(contentHashProjection{
		CanonicalID:    c.CanonicalID,
		Title:          c.Title,
		URL:            c.URL,
		PublishedAtUTC: c.PublishedAtUTC,
		Payload:        c.Payload,
	})
}

// SaveRawItem persists a candidate with deduplication. Matching order:
// (source, canonical id) when the candidate carries one, else
// (source, content hash). On match only the fetch timestamp is updated; on
// insert the item starts in NEW. Returns the row and whether it was
// inserted.
func (d *DB) SaveRawItem(
	ctx context.Context,
	sourceID string,
	tier contracts.Tier,
	candidate contracts.RawItemCandidate,
	fetchedAt time.Time,
	trustTier int,
	scope *determinism.Scope,
) (*contracts.RawItem, bool, error) {
	hash, err := ContentHash(candidate)
	if err != nil {
		return nil, false, fmt.Errorf("%w: content hash: %v", ErrStore, err)
	}

	existing, err := d.findExisting(ctx, sourceID, candidate.CanonicalID, hash)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		_, err := d.sql.ExecContext(ctx,
			`UPDATE raw_items SET fetched_at_utc = ? WHERE raw_id = ?`,
			formatTime(fetchedAt), existing.RawID)
		if err != nil {
			return nil, false, fmt.Errorf("%w: touch raw item: %v", ErrStore, err)
		}
		existing.FetchedAtUTC = fetchedAt.UTC()
		return existing, false, nil
	}

	payloadJSON, err := canonicalize.Marshal(candidate.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("%w: encode payload: %v", ErrStore, err)
	}

	item := &contracts.RawItem{
		RawID:          scope.NewRawID(),
		SourceID:       sourceID,
		Tier:           tier,
		FetchedAtUTC:   fetchedAt.UTC(),
		PublishedAtUTC: candidate.PublishedAtUTC,
		CanonicalID:    candidate.CanonicalID,
		URL:            candidate.URL,
		Title:          candidate.Title,
		Payload:        candidate.Payload,
		ContentHash:    hash,
		Status:         contracts.RawStatusNew,
		TrustTier:      trustTier,
	}

	_, err = d.sql.ExecContext(ctx, `
		INSERT INTO raw_items (
			raw_id, source_id, tier, fetched_at_utc, published_at_utc,
			canonical_id, url, title, raw_payload_json, content_hash,
			status, trust_tier
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		item.RawID, item.SourceID, string(item.Tier), formatTime(item.FetchedAtUTC),
		nullable(item.PublishedAtUTC), item.CanonicalID, nullable(item.URL),
		nullable(item.Title), string(payloadJSON), item.ContentHash,
		string(item.Status), item.TrustTier,
	)
	if err != nil {
		return nil, false, fmt.Errorf("%w: insert raw item: %v", ErrStore, err)
	}

	// A concurrent fetcher may have won the unique index race; the stored
	// row is the arbiter.
	winner, err := d.findExisting(ctx, sourceID, candidate.CanonicalID, hash)
	if err != nil {
		return nil, false, err
	}
	if winner == nil {
		return nil, false, fmt.Errorf("%w: raw item vanished after insert", ErrStore)
	}
	return winner, winner.RawID == item.RawID, nil
}

func (d *DB) findExisting(ctx context.Context, sourceID, canonicalID, hash string) (*contracts.RawItem, error) {
	if canonicalID != "" {
		item, err := scanRawItem(d.sql.QueryRowContext(ctx,
			rawItemSelect+` WHERE source_id = ? AND canonical_id = ?`,
			sourceID, canonicalID))
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
	}
	return scanRawItem(d.sql.QueryRowContext(ctx,
		rawItemSelect+` WHERE source_id = ? AND content_hash = ?`,
		sourceID, hash))
}

// IngestFilter selects NEW rows for a batch. Now anchors the since window
// and must come from the injected clock.
type IngestFilter struct {
	Limit      int
	MinTier    contracts.Tier
	SourceID   string
	SinceHours int
	Now        time.Time
}

// ItemsForIngest returns NEW rows ordered by fetch timestamp ascending.
// The tier filter admits tiers ranking at or above MinTier. The since
// filter is belt and suspenders: fetch time must be in the window AND the
// published time, when present, must be too.
func (d *DB) ItemsForIngest(ctx context.Context, f IngestFilter) ([]*contracts.RawItem, error) {
	var (
		conds = []string{"status = ?"}
		args  = []any{string(contracts.RawStatusNew)}
	)
	if f.SourceID != "" {
		conds = append(conds, "source_id = ?")
		args = append(args, f.SourceID)
	}
	if f.MinTier != "" {
		minRank := f.MinTier.Rank()
		var admitted []string
		for _, t := range []contracts.Tier{contracts.TierGlobal, contracts.TierRegional, contracts.TierLocal} {
			if t.Rank() >= minRank {
				admitted = append(admitted, string(t))
			}
		}
		conds = append(conds, "tier IN ("+placeholders(len(admitted))+")")
		for _, t := range admitted {
			args = append(args, t)
		}
	}
	if f.SinceHours > 0 {
		cutoff := formatTime(f.Now.Add(-time.Duration(f.SinceHours) * time.Hour))
		conds = append(conds, "fetched_at_utc >= ?")
		args = append(args, cutoff)
		conds = append(conds, "(published_at_utc IS NULL OR published_at_utc = '' OR published_at_utc >= ?)")
		args = append(args, cutoff)
	}

	query := rawItemSelect + " WHERE " + strings.Join(conds, " AND ") + " ORDER BY fetched_at_utc ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: items for ingest: %v", ErrStore, err)
	}
	defer func() { _ = rows.Close() }()

	var items []*contracts.RawItem
	for rows.Next() {
		item, err := scanRawItemRows(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: items for ingest: %v", ErrStore, err)
	}
	return items, nil
}

// MarkRawItemStatus transitions a raw item. Re-marking the same status is a
// no-op; moving away from a terminal status is an error.
func (d *DB) MarkRawItemStatus(ctx context.Context, rawID string, status contracts.RawItemStatus, errMsg string) error {
	current, err := d.GetRawItem(ctx, rawID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: raw item %s not found", ErrStore, rawID)
	}
	if current.Status == status {
		return nil
	}
	if current.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalStatus, rawID, current.Status)
	}
	_, err = d.sql.ExecContext(ctx,
		`UPDATE raw_items SET status = ?, error = ? WHERE raw_id = ?`,
		string(status), nullable(errMsg), rawID)
	if err != nil {
		return fmt.Errorf("%w: mark status: %v", ErrStore, err)
	}
	return nil
}

// GetRawItem returns one row or nil.
func (d *DB) GetRawItem(ctx context.Context, rawID string) (*contracts.RawItem, error) {
	return scanRawItem(d.sql.QueryRowContext(ctx, rawItemSelect+` WHERE raw_id = ?`, rawID))
}

const rawItemSelect = `
	SELECT raw_id, source_id, tier, fetched_at_utc, published_at_utc,
	       canonical_id, url, title, raw_payload_json, content_hash,
	       status, error, trust_tier
	FROM raw_items`

type rowScanner interface{ Scan(dest ...any) error }

func scanRawItem(row *sql.Row) (*contracts.RawItem, error) {
	item, err := scanRawItemFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

func scanRawItemRows(rows *sql.Rows) (*contracts.RawItem, error) {
	return scanRawItemFrom(rows)
}

func scanRawItemFrom(s rowScanner) (*contracts.RawItem, error) {
	var (
		item            contracts.RawItem
		tier, status    string
		fetched         string
		published       sql.NullString
		url, title, msg sql.NullString
		payloadJSON     string
		trustTier       sql.NullInt64
	)
	err := s.Scan(&item.RawID, &item.SourceID, &tier, &fetched, &published,
		&item.CanonicalID, &url, &title, &payloadJSON, &item.ContentHash,
		&status, &msg, &trustTier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scan raw item: %v", ErrStore, err)
	}
	item.Tier = contracts.Tier(tier)
	item.Status = contracts.RawItemStatus(status)
	item.PublishedAtUTC = published.String
	item.URL = url.String
	item.Title = title.String
	item.Error = msg.String
	item.TrustTier = int(trustTier.Int64)
	if item.FetchedAtUTC, err = parseTime(fetched); err != nil {
		return nil, fmt.Errorf("%w: bad fetched_at_utc %q: %v", ErrStore, fetched, err)
	}
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &item.Payload); err != nil {
			return nil, fmt.Errorf("%w: decode payload for %s: %v", ErrStore, item.RawID, err)
		}
	}
	return &item, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
