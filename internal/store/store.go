// Package store is the thin persistence repository the core reads and
// writes through for play history, track metadata, the fingerprint
// cache, radio presets, and configuration sections. The core treats the
// schema as opaque; Store owns exactly what's on disk.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hearthcast/engine/internal/errs"
)

// DedupWindow is the play-history duplicate-suppression window: an
// entry with the same (title, artist) inside this window of an existing
// entry is rejected rather than inserted.
const DedupWindow = 300 * time.Second

// MaxPresets bounds the radio preset table.
const MaxPresets = 50

// ErrDuplicatePlay is returned by AppendPlayHistory when an entry with
// the same (title, artist) already exists within DedupWindow.
var ErrDuplicatePlay = errors.New("play history: duplicate within dedup window")

// ErrPresetLimit is returned by UpsertRadioPreset when inserting a new
// preset would exceed MaxPresets.
var ErrPresetLimit = errors.New("radio presets: limit reached")

const schema = `
CREATE TABLE IF NOT EXISTS play_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	artist TEXT NOT NULL,
	played_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_play_history_title_artist ON play_history(title, artist, played_at);

CREATE TABLE IF NOT EXISTS track_metadata (
	hash TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	artist TEXT NOT NULL,
	album TEXT NOT NULL DEFAULT '',
	cover_url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS fingerprints (
	hash TEXT PRIMARY KEY,
	track_hash TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS radio_presets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	band TEXT NOT NULL,
	frequency REAL NOT NULL,
	UNIQUE(band, frequency)
);

CREATE TABLE IF NOT EXISTS config_sections (
	section TEXT PRIMARY KEY,
	body TEXT NOT NULL
);
`

// Store wraps a single sqlite database handle.
type Store struct {
	db *sql.DB
}

// Open creates or opens the sqlite database at path and applies the
// schema (idempotent: CREATE TABLE IF NOT EXISTS throughout).
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, err, "open store %q", path)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.Fatal, err, "migrate store %q", path)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// PlayHistoryEntry is one row of the play history log.
type PlayHistoryEntry struct {
	ID       int64
	Title    string
	Artist   string
	PlayedAt time.Time
}

// AppendPlayHistory inserts a play event, or returns ErrDuplicatePlay if
// the same (title, artist) was already logged within DedupWindow.
func (s *Store) AppendPlayHistory(ctx context.Context, title, artist string, at time.Time) (int64, error) {
	var count int
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM play_history WHERE title = ? AND artist = ? AND played_at > ?`,
		title, artist, at.Add(-DedupWindow).Unix())
	if err := row.Scan(&count); err != nil {
		return 0, errs.Wrap(errs.Fatal, err, "check play history dedup")
	}
	if count > 0 {
		return 0, ErrDuplicatePlay
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO play_history (title, artist, played_at) VALUES (?, ?, ?)`,
		title, artist, at.Unix())
	if err != nil {
		return 0, errs.Wrap(errs.Fatal, err, "insert play history")
	}
	return res.LastInsertId()
}

// RangePlayHistory returns entries with played_at in [from, to], newest
// first.
func (s *Store) RangePlayHistory(ctx context.Context, from, to time.Time) ([]PlayHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, artist, played_at FROM play_history WHERE played_at BETWEEN ? AND ? ORDER BY played_at DESC`,
		from.Unix(), to.Unix())
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, err, "range play history")
	}
	defer rows.Close()

	var out []PlayHistoryEntry
	for rows.Next() {
		var e PlayHistoryEntry
		var playedAt int64
		if err := rows.Scan(&e.ID, &e.Title, &e.Artist, &playedAt); err != nil {
			return nil, errs.Wrap(errs.Fatal, err, "scan play history row")
		}
		e.PlayedAt = time.Unix(playedAt, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// TopPlayed returns the n most-played (title, artist) pairs by count,
// descending.
func (s *Store) TopPlayed(ctx context.Context, n int) ([]PlayHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT MAX(id), title, artist, MAX(played_at) FROM play_history GROUP BY title, artist ORDER BY COUNT(1) DESC LIMIT ?`,
		n)
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, err, "top played")
	}
	defer rows.Close()

	var out []PlayHistoryEntry
	for rows.Next() {
		var e PlayHistoryEntry
		var playedAt int64
		if err := rows.Scan(&e.ID, &e.Title, &e.Artist, &playedAt); err != nil {
			return nil, errs.Wrap(errs.Fatal, err, "scan top played row")
		}
		e.PlayedAt = time.Unix(playedAt, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// TrackMetadata is an opaque title/artist/album/cover-url bag keyed by
// a content hash (e.g. an acoustic fingerprint or file checksum).
type TrackMetadata struct {
	Hash     string
	Title    string
	Artist   string
	Album    string
	CoverURL string
}

// UpsertTrackMetadata inserts or replaces a track's metadata by hash.
func (s *Store) UpsertTrackMetadata(ctx context.Context, m TrackMetadata) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO track_metadata (hash, title, artist, album, cover_url) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET title = excluded.title, artist = excluded.artist,
		 	album = excluded.album, cover_url = excluded.cover_url`,
		m.Hash, m.Title, m.Artist, m.Album, m.CoverURL)
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "upsert track metadata %q", m.Hash)
	}
	return nil
}

// SearchTrackMetadata matches title or artist by substring (case
// sensitivity is left to the sqlite collation in use).
func (s *Store) SearchTrackMetadata(ctx context.Context, query string) ([]TrackMetadata, error) {
	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, title, artist, album, cover_url FROM track_metadata WHERE title LIKE ? OR artist LIKE ?`,
		like, like)
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, err, "search track metadata %q", query)
	}
	defer rows.Close()

	var out []TrackMetadata
	for rows.Next() {
		var m TrackMetadata
		if err := rows.Scan(&m.Hash, &m.Title, &m.Artist, &m.Album, &m.CoverURL); err != nil {
			return nil, errs.Wrap(errs.Fatal, err, "scan track metadata row")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// FingerprintEntry caches a track hash resolution by fingerprint hash.
type FingerprintEntry struct {
	FingerprintHash string
	TrackHash       string
	UpdatedAt       time.Time
}

// UpsertFingerprint inserts or refreshes a fingerprint->track-hash
// mapping.
func (s *Store) UpsertFingerprint(ctx context.Context, fingerprintHash, trackHash string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fingerprints (hash, track_hash, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET track_hash = excluded.track_hash, updated_at = excluded.updated_at`,
		fingerprintHash, trackHash, at.Unix())
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "upsert fingerprint %q", fingerprintHash)
	}
	return nil
}

// FindFingerprint looks up a track hash by fingerprint hash.
func (s *Store) FindFingerprint(ctx context.Context, fingerprintHash string) (FingerprintEntry, error) {
	var e FingerprintEntry
	var updatedAt int64
	row := s.db.QueryRowContext(ctx,
		`SELECT hash, track_hash, updated_at FROM fingerprints WHERE hash = ?`, fingerprintHash)
	if err := row.Scan(&e.FingerprintHash, &e.TrackHash, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FingerprintEntry{}, errs.New(errs.NotFound, "fingerprint %q not cached", fingerprintHash)
		}
		return FingerprintEntry{}, errs.Wrap(errs.Fatal, err, "find fingerprint %q", fingerprintHash)
	}
	e.UpdatedAt = time.Unix(updatedAt, 0)
	return e, nil
}

// DeleteFingerprint removes a cached fingerprint entry; a missing entry
// is a no-op.
func (s *Store) DeleteFingerprint(ctx context.Context, fingerprintHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM fingerprints WHERE hash = ?`, fingerprintHash)
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "delete fingerprint %q", fingerprintHash)
	}
	return nil
}

// RadioPreset is one saved tuner preset, unique by (band, frequency).
type RadioPreset struct {
	ID        int64
	Name      string
	Band      string
	Frequency float64
}

// UpsertRadioPreset inserts a preset, enforcing MaxPresets on genuinely
// new (band, frequency) pairs; re-saving an existing pair under a new
// name is always allowed.
func (s *Store) UpsertRadioPreset(ctx context.Context, p RadioPreset) error {
	var count int
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM radio_presets WHERE band = ? AND frequency = ?`, p.Band, p.Frequency)
	if err := row.Scan(&count); err != nil {
		return errs.Wrap(errs.Fatal, err, "check radio preset count")
	}
	if count == 0 {
		var total int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM radio_presets`).Scan(&total); err != nil {
			return errs.Wrap(errs.Fatal, err, "count radio presets")
		}
		if total >= MaxPresets {
			return ErrPresetLimit
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO radio_presets (name, band, frequency) VALUES (?, ?, ?)
		 ON CONFLICT(band, frequency) DO UPDATE SET name = excluded.name`,
		p.Name, p.Band, p.Frequency)
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "upsert radio preset")
	}
	return nil
}

// ListRadioPresets returns every saved preset.
func (s *Store) ListRadioPresets(ctx context.Context) ([]RadioPreset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, band, frequency FROM radio_presets ORDER BY id`)
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, err, "list radio presets")
	}
	defer rows.Close()

	var out []RadioPreset
	for rows.Next() {
		var p RadioPreset
		if err := rows.Scan(&p.ID, &p.Name, &p.Band, &p.Frequency); err != nil {
			return nil, errs.Wrap(errs.Fatal, err, "scan radio preset row")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveConfigSection persists an opaque configuration section body
// (already-serialized YAML/JSON, the core does not interpret it) under
// a named section key ("audio", "visualizer", "outputs", ...).
func (s *Store) SaveConfigSection(ctx context.Context, section, body string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config_sections (section, body) VALUES (?, ?)
		 ON CONFLICT(section) DO UPDATE SET body = excluded.body`,
		section, body)
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "save config section %q", section)
	}
	return nil
}

// LoadConfigSection returns a previously-saved section body.
func (s *Store) LoadConfigSection(ctx context.Context, section string) (string, error) {
	var body string
	row := s.db.QueryRowContext(ctx, `SELECT body FROM config_sections WHERE section = ?`, section)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errs.New(errs.NotFound, "config section %q not saved", section)
		}
		return "", errs.Wrap(errs.Fatal, err, "load config section %q", section)
	}
	return body, nil
}
