package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store is a thin façade over the relational catalog.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (and creates if needed) the catalog database. Use ":memory:"
// for tests.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("couldn't open catalog database: %v", err)
	}
	// The sqlite driver serializes writes anyway; a single writer connection
	// avoids SQLITE_BUSY under concurrent scraper writes.
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("couldn't apply catalog schema: %v", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ErrNotFound is returned by lookups that miss.
var ErrNotFound = errors.New("not found")

// CreateMedia inserts a media row with its aka titles and registers it in
// the search indices.
func (s *Store) CreateMedia(ctx context.Context, m *Media) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO media (type, title, year, release_date, nudity_status) VALUES (?, ?, ?, ?, ?)`,
		m.Type, m.Title, m.Year, m.ReleaseDate, nonEmpty(m.NudityStatus, "unknown"))
	if err != nil {
		return fmt.Errorf("couldn't insert media: %v", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO media_fts (rowid, title) VALUES (?, ?)`, m.ID, m.Title); err != nil {
		return fmt.Errorf("couldn't index media title: %v", err)
	}
	for i, aka := range m.AkaTitles {
		res, err = tx.ExecContext(ctx, `INSERT INTO aka_titles (media_id, title, ord) VALUES (?, ?, ?)`, m.ID, aka, i)
		if err != nil {
			return fmt.Errorf("couldn't insert aka title: %v", err)
		}
		akaID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO aka_fts (rowid, title) VALUES (?, ?)`, akaID, aka); err != nil {
			return fmt.Errorf("couldn't index aka title: %v", err)
		}
	}
	return tx.Commit()
}

// GetMedia returns the media row with its aka titles.
func (s *Store) GetMedia(ctx context.Context, id int64) (*Media, error) {
	m := Media{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT type, title, year, release_date, last_stream_added, total_streams, nudity_status FROM media WHERE id = ?`, id).
		Scan(&m.Type, &m.Title, &m.Year, &m.ReleaseDate, &m.LastStreamAdded, &m.TotalStreams, &m.NudityStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT title FROM aka_titles WHERE media_id = ? ORDER BY ord`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var aka string
		if err = rows.Scan(&aka); err != nil {
			return nil, err
		}
		m.AkaTitles = append(m.AkaTitles, aka)
	}
	return &m, rows.Err()
}

// SetExternalID maps (media, provider) to the provider's key.
func (s *Store) SetExternalID(ctx context.Context, mediaID int64, provider, externalID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media_external_ids (media_id, provider, external_id) VALUES (?, ?, ?)
		 ON CONFLICT (media_id, provider) DO UPDATE SET external_id = excluded.external_id`,
		mediaID, provider, externalID)
	return err
}

// ResolveExternalID translates an external ID into the internal media ID.
func (s *Store) ResolveExternalID(ctx context.Context, provider, externalID string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT media_id FROM media_external_ids WHERE provider = ? AND external_id = ?`, provider, externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// ExternalIDs batch-translates media IDs to their canonical external IDs
// with a single query.
func (s *Store) ExternalIDs(ctx context.Context, provider string, mediaIDs []int64) (map[int64]string, error) {
	if len(mediaIDs) == 0 {
		return map[int64]string{}, nil
	}
	args := make([]interface{}, 0, len(mediaIDs)+1)
	args = append(args, provider)
	for _, id := range mediaIDs {
		args = append(args, id)
	}
	query := `SELECT media_id, external_id FROM media_external_ids WHERE provider = ? AND media_id IN (?` +
		strings.Repeat(", ?", len(mediaIDs)-1) + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[int64]string, len(mediaIDs))
	for rows.Next() {
		var id int64
		var ext string
		if err = rows.Scan(&id, &ext); err != nil {
			return nil, err
		}
		result[id] = ext
	}
	return result, rows.Err()
}

// SetRating stores the IMDb rating used by the popular/rating sorts.
func (s *Store) SetRating(ctx context.Context, mediaID int64, rating float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media_ratings (media_id, imdb_rating) VALUES (?, ?)
		 ON CONFLICT (media_id) DO UPDATE SET imdb_rating = excluded.imdb_rating`, mediaID, rating)
	return err
}

// AddEpisodeAir registers an episode air date for date-based file matching.
func (s *Store) AddEpisodeAir(ctx context.Context, mediaID int64, airDate string, season, episode int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO episode_calendar (media_id, air_date, season_number, episode_number) VALUES (?, ?, ?, ?)`,
		mediaID, airDate, season, episode)
	return err
}

// EpisodeOn returns the episode that aired on the given date (YYYY-MM-DD).
func (s *Store) EpisodeOn(ctx context.Context, mediaID int64, airDate string) (season, episode int, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT season_number, episode_number FROM episode_calendar WHERE media_id = ? AND air_date = ?`,
		mediaID, airDate).Scan(&season, &episode)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	} else if err != nil {
		return 0, 0, false, err
	}
	return season, episode, true, nil
}

// UpsertStream transactionally writes the abstract stream, its
// specialization, files and links. It is idempotent on the specialization's
// natural key. A blocked stream is never re-enabled (it only gains
// seeders/grabs refreshes).
func (s *Store) UpsertStream(ctx context.Context, rec *Record) (int64, error) {
	if err := validateRecord(rec); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	streamID, found, err := findByNaturalKey(ctx, tx, rec)
	if err != nil {
		return 0, err
	}

	if found {
		if err = refreshStream(ctx, tx, streamID, rec); err != nil {
			return 0, err
		}
	} else {
		if streamID, err = insertStream(ctx, tx, rec); err != nil {
			return 0, err
		}
	}

	if err = upsertFilesAndLinks(ctx, tx, streamID, rec); err != nil {
		return 0, err
	}

	if !found {
		for _, link := range rec.MediaLinks {
			if _, err = tx.ExecContext(ctx,
				`UPDATE media SET total_streams = total_streams + 1, last_stream_added = ? WHERE id = ?`,
				time.Now().UTC(), link.MediaID); err != nil {
				return 0, err
			}
		}
	}

	return streamID, tx.Commit()
}

func validateRecord(rec *Record) error {
	specializations := 0
	if rec.Torrent != nil {
		specializations++
		if !ValidInfoHash(rec.Torrent.InfoHash) {
			return fmt.Errorf("bad info_hash %q: must be lowercase 40-hex", rec.Torrent.InfoHash)
		}
	}
	if rec.Usenet != nil {
		specializations++
		if rec.Usenet.NZBGUID == "" {
			return errors.New("usenet stream requires nzb_guid")
		}
	}
	if rec.Telegram != nil {
		specializations++
		if rec.Telegram.ChatID == 0 || rec.Telegram.MessageID == 0 {
			return errors.New("telegram stream requires chat_id and message_id")
		}
	}
	if rec.HTTP != nil {
		specializations++
		if rec.HTTP.URL == "" {
			return errors.New("http stream requires a URL")
		}
	}
	if rec.Ace != nil {
		specializations++
		if rec.Ace.ContentID == "" && rec.Ace.InfoHash == "" {
			return errors.New("acestream stream requires content_id or info_hash")
		}
	}
	if specializations != 1 {
		return fmt.Errorf("a stream requires exactly one specialization, got %d", specializations)
	}
	if rec.Stream.Name == "" {
		return errors.New("stream requires a name")
	}
	return nil
}

func findByNaturalKey(ctx context.Context, tx *sql.Tx, rec *Record) (int64, bool, error) {
	var row *sql.Row
	switch {
	case rec.Torrent != nil:
		row = tx.QueryRowContext(ctx, `SELECT stream_id FROM torrent_streams WHERE info_hash = ?`, rec.Torrent.InfoHash)
	case rec.Usenet != nil:
		row = tx.QueryRowContext(ctx, `SELECT stream_id FROM usenet_streams WHERE nzb_guid = ?`, rec.Usenet.NZBGUID)
	case rec.Telegram != nil:
		row = tx.QueryRowContext(ctx, `SELECT stream_id FROM telegram_streams WHERE chat_id = ? AND message_id = ?`,
			rec.Telegram.ChatID, rec.Telegram.MessageID)
	case rec.HTTP != nil:
		row = tx.QueryRowContext(ctx, `SELECT stream_id FROM http_streams WHERE url = ?`, rec.HTTP.URL)
	default:
		row = tx.QueryRowContext(ctx, `SELECT stream_id FROM acestream_streams WHERE content_id = ? OR (info_hash != '' AND info_hash = ?)`,
			rec.Ace.ContentID, rec.Ace.InfoHash)
	}
	var id int64
	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func insertStream(ctx context.Context, tx *sql.Tx, rec *Record) (int64, error) {
	st := &rec.Stream
	res, err := tx.ExecContext(ctx, `
		INSERT INTO streams (
			name, source, size, resolution, quality, codec, bit_depth,
			is_proper, is_repack, is_extended, is_dubbed, is_subbed, is_complete, is_remastered, is_upscaled,
			is_active, is_public, uploader_user_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		st.Name, st.Source, st.Size, st.Resolution, st.Quality, st.Codec, st.BitDepth,
		st.IsProper, st.IsRepack, st.IsExtended, st.IsDubbed, st.IsSubbed, st.IsComplete, st.IsRemastered, st.IsUpscaled,
		st.IsPublic, nullIfEmpty(st.UploaderUserID))
	if err != nil {
		return 0, fmt.Errorf("couldn't insert stream: %v", err)
	}
	streamID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for table, values := range map[string][]string{
		"stream_languages":     st.Languages,
		"stream_audio_formats": st.AudioFormats,
		"stream_channels":      st.Channels,
		"stream_hdr_formats":   st.HDRFormats,
	} {
		for _, v := range values {
			if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO `+table+` (stream_id, value) VALUES (?, ?)`, streamID, v); err != nil {
				return 0, err
			}
		}
	}

	switch {
	case rec.Torrent != nil:
		announce, _ := json.Marshal(rec.Torrent.AnnounceList)
		_, err = tx.ExecContext(ctx,
			`INSERT INTO torrent_streams (stream_id, info_hash, announce_list, seeders, torrent_file, trusted_files) VALUES (?, ?, ?, ?, ?, ?)`,
			streamID, rec.Torrent.InfoHash, string(announce), rec.Torrent.Seeders, rec.Torrent.TorrentFile, rec.Torrent.TrustedFiles)
	case rec.Usenet != nil:
		u := rec.Usenet
		_, err = tx.ExecContext(ctx,
			`INSERT INTO usenet_streams (stream_id, nzb_guid, nzb_url, indexer, group_name, poster, posted_at, is_passworded, grabs) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			streamID, u.NZBGUID, u.NZBURL, u.Indexer, u.GroupName, u.Poster, u.PostedAt, u.IsPassworded, u.Grabs)
	case rec.Telegram != nil:
		t := rec.Telegram
		_, err = tx.ExecContext(ctx,
			`INSERT INTO telegram_streams (stream_id, chat_id, message_id, file_unique_id, mime_type, size, caption, backup_chat_id, backup_message_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			streamID, t.ChatID, t.MessageID, t.FileUniqueID, t.MimeType, t.Size, t.Caption, t.BackupChatID, t.BackupMessageID)
	case rec.HTTP != nil:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO http_streams (stream_id, url, extractor) VALUES (?, ?, ?)`, streamID, rec.HTTP.URL, rec.HTTP.Extractor)
	default:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO acestream_streams (stream_id, content_id, info_hash) VALUES (?, ?, ?)`, streamID, rec.Ace.ContentID, rec.Ace.InfoHash)
	}
	if err != nil {
		return 0, fmt.Errorf("couldn't insert stream specialization: %v", err)
	}
	return streamID, nil
}

// refreshStream updates the volatile attributes of an existing stream.
// Blocking state is deliberately left alone: scrapes never re-enable.
func refreshStream(ctx context.Context, tx *sql.Tx, streamID int64, rec *Record) error {
	switch {
	case rec.Torrent != nil:
		if _, err := tx.ExecContext(ctx,
			`UPDATE torrent_streams SET seeders = ? WHERE stream_id = ?`, rec.Torrent.Seeders, streamID); err != nil {
			return err
		}
		if len(rec.Torrent.TorrentFile) > 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE torrent_streams SET torrent_file = ? WHERE stream_id = ? AND torrent_file IS NULL`,
				rec.Torrent.TorrentFile, streamID); err != nil {
				return err
			}
		}
	case rec.Usenet != nil:
		if _, err := tx.ExecContext(ctx,
			`UPDATE usenet_streams SET grabs = ? WHERE stream_id = ?`, rec.Usenet.Grabs, streamID); err != nil {
			return err
		}
	}
	if rec.Stream.Size > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE streams SET size = ? WHERE id = ? AND size = 0`, rec.Stream.Size, streamID); err != nil {
			return err
		}
	}
	return nil
}

func upsertFilesAndLinks(ctx context.Context, tx *sql.Tx, streamID int64, rec *Record) error {
	primaryMedia := int64(0)
	for _, link := range rec.MediaLinks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stream_media_links (stream_id, media_id, is_primary) VALUES (?, ?, ?)
			 ON CONFLICT (stream_id, media_id) DO UPDATE SET is_primary = MAX(is_primary, excluded.is_primary)`,
			streamID, link.MediaID, link.IsPrimary); err != nil {
			return err
		}
		if link.IsPrimary || primaryMedia == 0 {
			primaryMedia = link.MediaID
		}
	}

	for _, f := range rec.Files {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO stream_files (stream_id, file_index, filename, size, file_type) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (stream_id, file_index) DO UPDATE SET filename = excluded.filename, size = excluded.size`,
			streamID, f.FileIndex, f.Filename, f.Size, f.FileType)
		if err != nil {
			return err
		}
		fileID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		// LastInsertId on an upsert that took the UPDATE path is unreliable;
		// look the row up by its unique key instead.
		if err = tx.QueryRowContext(ctx,
			`SELECT id FROM stream_files WHERE stream_id = ? AND file_index = ?`, streamID, f.FileIndex).Scan(&fileID); err != nil {
			return err
		}
		if primaryMedia != 0 && (f.Season > 0 || f.Episode > 0) {
			if _, err = tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO file_media_links (file_id, media_id, season_number, episode_number) VALUES (?, ?, ?, ?)`,
				fileID, primaryMedia, f.Season, f.Episode); err != nil {
				return err
			}
		}
	}
	return nil
}

// BlockStream marks a stream blocked; blocked streams never surface again.
func (s *Store) BlockStream(ctx context.Context, streamID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE streams SET is_blocked = 1 WHERE id = ?`, streamID)
	return err
}

// IncrementPlaybackCount is the anonymous-path playback counter.
func (s *Store) IncrementPlaybackCount(ctx context.Context, streamID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE streams SET playback_count = playback_count + 1 WHERE id = ?`, streamID)
	return err
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
