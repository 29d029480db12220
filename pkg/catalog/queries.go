package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// visibility is the predicate every user-facing stream query carries. The
// caller's user ID lets uploaders see their own private contributions.
const visibility = `s.is_active = 1 AND s.is_blocked = 0 AND (s.is_public = 1 OR s.uploader_user_id = ?)`

const streamColumns = `
	s.id, s.name, s.source, s.size, s.resolution, s.quality, s.codec, s.bit_depth,
	s.is_proper, s.is_repack, s.is_extended, s.is_dubbed, s.is_subbed, s.is_complete,
	s.is_remastered, s.is_upscaled, s.is_active, s.is_blocked, s.is_public,
	COALESCE(s.uploader_user_id, ''), s.playback_count`

func scanStream(scan func(...interface{}) error, row *StreamRow, extra ...interface{}) error {
	dest := []interface{}{
		&row.ID, &row.Name, &row.Source, &row.Size, &row.Resolution, &row.Quality, &row.Codec, &row.BitDepth,
		&row.IsProper, &row.IsRepack, &row.IsExtended, &row.IsDubbed, &row.IsSubbed, &row.IsComplete,
		&row.IsRemastered, &row.IsUpscaled, &row.IsActive, &row.IsBlocked, &row.IsPublic,
		&row.UploaderUserID, &row.PlaybackCount,
	}
	return scan(append(dest, extra...)...)
}

// TorrentStreamsForMedia returns visible torrent streams for the media. For
// series, season/episode select streams that either carry a matching file or
// are complete season packs, in which case file selection happens at
// playback time.
func (s *Store) TorrentStreamsForMedia(ctx context.Context, mediaID int64, userID string, season, episode int) ([]StreamRow, error) {
	var query string
	var args []interface{}
	if season == 0 {
		query = `SELECT ` + streamColumns + `, t.info_hash, t.announce_list, t.seeders, NULL, '', 0
			FROM streams s
			JOIN torrent_streams t ON t.stream_id = s.id
			JOIN stream_media_links l ON l.stream_id = s.id
			WHERE l.media_id = ? AND ` + visibility + `
			ORDER BY s.size DESC, s.id`
		args = []interface{}{mediaID, userID}
	} else {
		query = `SELECT ` + streamColumns + `, t.info_hash, t.announce_list, t.seeders, f.file_index, COALESCE(f.filename, ''), COALESCE(f.size, 0)
			FROM streams s
			JOIN torrent_streams t ON t.stream_id = s.id
			JOIN stream_media_links l ON l.stream_id = s.id
			LEFT JOIN (
				SELECT sf.stream_id, sf.file_index, sf.filename, sf.size
				FROM stream_files sf
				JOIN file_media_links fl ON fl.file_id = sf.id
				WHERE fl.media_id = ? AND fl.season_number = ? AND fl.episode_number = ?
			) f ON f.stream_id = s.id
			WHERE l.media_id = ? AND ` + visibility + ` AND (f.file_index IS NOT NULL OR s.is_complete = 1)
			ORDER BY s.size DESC, s.id`
		args = []interface{}{mediaID, season, episode, mediaID, userID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StreamRow
	for rows.Next() {
		var row StreamRow
		var announce string
		if err = scanStream(rows.Scan, &row, &row.InfoHash, &announce, &row.Seeders, &row.FileIndex, &row.Filename, &row.FileSize); err != nil {
			return nil, err
		}
		if announce != "" {
			if err = json.Unmarshal([]byte(announce), &row.AnnounceList); err != nil {
				return nil, fmt.Errorf("couldn't decode announce list of stream %v: %v", row.ID, err)
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// UsenetStreamsForMedia returns visible Usenet streams for the media.
func (s *Store) UsenetStreamsForMedia(ctx context.Context, mediaID int64, userID string, season, episode int) ([]StreamRow, error) {
	var query string
	var args []interface{}
	if season == 0 {
		query = `SELECT ` + streamColumns + `, u.nzb_guid, u.nzb_url, u.indexer, NULL, '', 0
			FROM streams s
			JOIN usenet_streams u ON u.stream_id = s.id
			JOIN stream_media_links l ON l.stream_id = s.id
			WHERE l.media_id = ? AND ` + visibility + `
			ORDER BY s.size DESC, s.id`
		args = []interface{}{mediaID, userID}
	} else {
		query = `SELECT ` + streamColumns + `, u.nzb_guid, u.nzb_url, u.indexer, f.file_index, COALESCE(f.filename, ''), COALESCE(f.size, 0)
			FROM streams s
			JOIN usenet_streams u ON u.stream_id = s.id
			JOIN stream_media_links l ON l.stream_id = s.id
			LEFT JOIN (
				SELECT sf.stream_id, sf.file_index, sf.filename, sf.size
				FROM stream_files sf
				JOIN file_media_links fl ON fl.file_id = sf.id
				WHERE fl.media_id = ? AND fl.season_number = ? AND fl.episode_number = ?
			) f ON f.stream_id = s.id
			WHERE l.media_id = ? AND ` + visibility + ` AND (f.file_index IS NOT NULL OR s.is_complete = 1)
			ORDER BY s.size DESC, s.id`
		args = []interface{}{mediaID, season, episode, mediaID, userID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StreamRow
	for rows.Next() {
		var row StreamRow
		if err = scanStream(rows.Scan, &row, &row.NZBGUID, &row.NZBURL, &row.Indexer, &row.FileIndex, &row.Filename, &row.FileSize); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// TelegramStreamsForMedia returns visible Telegram streams. Series episodes
// match through file links only; Telegram messages carry single files, so
// there is no season-pack path.
func (s *Store) TelegramStreamsForMedia(ctx context.Context, mediaID int64, userID string, season, episode int) ([]StreamRow, error) {
	query := `SELECT ` + streamColumns + `, t.chat_id, t.message_id, t.file_unique_id, t.mime_type
		FROM streams s
		JOIN telegram_streams t ON t.stream_id = s.id
		JOIN stream_media_links l ON l.stream_id = s.id
		WHERE l.media_id = ? AND ` + visibility
	args := []interface{}{mediaID, userID}
	if season != 0 {
		query += ` AND EXISTS (
			SELECT 1 FROM stream_files sf
			JOIN file_media_links fl ON fl.file_id = sf.id
			WHERE sf.stream_id = s.id AND fl.media_id = ? AND fl.season_number = ? AND fl.episode_number = ?)`
		args = append(args, mediaID, season, episode)
	}
	query += ` ORDER BY s.size DESC, s.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StreamRow
	for rows.Next() {
		var row StreamRow
		if err = scanStream(rows.Scan, &row, &row.ChatID, &row.MessageID, &row.FileUniqueID, &row.MimeType); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// HTTPStreamsForMedia returns visible direct-URL streams.
func (s *Store) HTTPStreamsForMedia(ctx context.Context, mediaID int64, userID string) ([]StreamRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+streamColumns+`, h.url, h.extractor
		FROM streams s
		JOIN http_streams h ON h.stream_id = s.id
		JOIN stream_media_links l ON l.stream_id = s.id
		WHERE l.media_id = ? AND `+visibility+`
		ORDER BY s.id`, mediaID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StreamRow
	for rows.Next() {
		var row StreamRow
		if err = scanStream(rows.Scan, &row, &row.URL, &row.Extractor); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// AceStreamsForMedia returns visible AceStream streams.
func (s *Store) AceStreamsForMedia(ctx context.Context, mediaID int64, userID string) ([]StreamRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+streamColumns+`, a.content_id, a.info_hash
		FROM streams s
		JOIN acestream_streams a ON a.stream_id = s.id
		JOIN stream_media_links l ON l.stream_id = s.id
		WHERE l.media_id = ? AND `+visibility+`
		ORDER BY s.id`, mediaID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StreamRow
	for rows.Next() {
		var row StreamRow
		if err = scanStream(rows.Scan, &row, &row.ContentID, &row.InfoHash); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// StreamByInfoHash is the playback-time lookup. It bypasses the public
// filter (the caller already holds the stream reference) but still refuses
// blocked streams.
func (s *Store) StreamByInfoHash(ctx context.Context, infoHash string) (*StreamRow, error) {
	row := StreamRow{}
	var announce string
	err := scanStream(s.db.QueryRowContext(ctx, `SELECT `+streamColumns+`, t.info_hash, t.announce_list, t.seeders, t.trusted_files
		FROM streams s
		JOIN torrent_streams t ON t.stream_id = s.id
		WHERE t.info_hash = ? AND s.is_blocked = 0`, infoHash).Scan,
		&row, &row.InfoHash, &announce, &row.Seeders, &row.TrustedFiles)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	if announce != "" {
		if err = json.Unmarshal([]byte(announce), &row.AnnounceList); err != nil {
			return nil, fmt.Errorf("couldn't decode announce list of stream %v: %v", row.ID, err)
		}
	}
	return &row, nil
}

// StreamByID is the playback-time lookup for streams referenced by row ID
// (all non-torrent categories). Whichever specialization exists fills its
// fields; the rest stay zero.
func (s *Store) StreamByID(ctx context.Context, id int64) (*StreamRow, error) {
	row := StreamRow{}
	var announce string
	err := scanStream(s.db.QueryRowContext(ctx, `SELECT `+streamColumns+`,
			COALESCE(t.info_hash, ''), COALESCE(t.announce_list, ''), COALESCE(t.seeders, 0), COALESCE(t.trusted_files, 0),
			COALESCE(u.nzb_guid, ''), COALESCE(u.nzb_url, ''), COALESCE(u.indexer, ''),
			COALESCE(tg.chat_id, 0), COALESCE(tg.message_id, 0), COALESCE(tg.file_unique_id, ''), COALESCE(tg.mime_type, ''),
			COALESCE(h.url, ''), COALESCE(h.extractor, ''),
			COALESCE(a.content_id, '')
		FROM streams s
		LEFT JOIN torrent_streams t ON t.stream_id = s.id
		LEFT JOIN usenet_streams u ON u.stream_id = s.id
		LEFT JOIN telegram_streams tg ON tg.stream_id = s.id
		LEFT JOIN http_streams h ON h.stream_id = s.id
		LEFT JOIN acestream_streams a ON a.stream_id = s.id
		WHERE s.id = ? AND s.is_blocked = 0`, id).Scan,
		&row, &row.InfoHash, &announce, &row.Seeders, &row.TrustedFiles,
		&row.NZBGUID, &row.NZBURL, &row.Indexer,
		&row.ChatID, &row.MessageID, &row.FileUniqueID, &row.MimeType,
		&row.URL, &row.Extractor, &row.ContentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	if announce != "" && announce != "[]" {
		if err = json.Unmarshal([]byte(announce), &row.AnnounceList); err != nil {
			return nil, fmt.Errorf("couldn't decode announce list of stream %v: %v", row.ID, err)
		}
	}
	return &row, nil
}

// StreamFiles returns the known files of a stream in file_index order, with
// episode links resolved against the stream's primary media.
func (s *Store) StreamFiles(ctx context.Context, streamID int64) ([]StreamFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sf.id, sf.file_index, sf.filename, sf.size, sf.file_type,
			COALESCE(fl.season_number, 0), COALESCE(fl.episode_number, 0)
		FROM stream_files sf
		LEFT JOIN file_media_links fl ON fl.file_id = sf.id
		WHERE sf.stream_id = ?
		ORDER BY sf.file_index`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []StreamFile
	for rows.Next() {
		var f StreamFile
		if err = rows.Scan(&f.ID, &f.FileIndex, &f.Filename, &f.Size, &f.FileType, &f.Season, &f.Episode); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// BackfillStreamFiles replaces a stream's parsed file metadata with the
// trusted listing observed from a provider at playback time.
func (s *Store) BackfillStreamFiles(ctx context.Context, streamID int64, files []StreamFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var primaryMedia int64
	err = tx.QueryRowContext(ctx,
		`SELECT media_id FROM stream_media_links WHERE stream_id = ? ORDER BY is_primary DESC, media_id LIMIT 1`,
		streamID).Scan(&primaryMedia)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM stream_files WHERE stream_id = ?`, streamID); err != nil {
		return err
	}
	for _, f := range files {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO stream_files (stream_id, file_index, filename, size, file_type) VALUES (?, ?, ?, ?, ?)`,
			streamID, f.FileIndex, f.Filename, f.Size, f.FileType)
		if err != nil {
			return err
		}
		fileID, err := res.LastInsertId()
		if err != nil {
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
	if _, err = tx.ExecContext(ctx, `UPDATE torrent_streams SET trusted_files = 1 WHERE stream_id = ?`, streamID); err != nil {
		return err
	}
	return tx.Commit()
}

// BackfillTelegramFileID stores the lazily resolved Bot API file ID.
func (s *Store) BackfillTelegramFileID(ctx context.Context, chatID, messageID int64, fileUniqueID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE telegram_streams SET file_unique_id = ? WHERE chat_id = ? AND message_id = ? AND file_unique_id = ''`,
		fileUniqueID, chatID, messageID)
	return err
}

// PrimaryMediaForStream resolves a stream back to its primary media.
func (s *Store) PrimaryMediaForStream(ctx context.Context, streamID int64) (int64, error) {
	var mediaID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT media_id FROM stream_media_links WHERE stream_id = ? ORDER BY is_primary DESC, media_id LIMIT 1`,
		streamID).Scan(&mediaID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return mediaID, err
}

// MediaByInfoHashes resolves a batch of info hashes to their primary media,
// preserving the input order and dropping unknown or blocked entries. It
// backs the watchlist catalog synthesis.
func (s *Store) MediaByInfoHashes(ctx context.Context, infoHashes []string) ([]*Media, error) {
	if len(infoHashes) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(infoHashes))
	for i, h := range infoHashes {
		args[i] = h
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.info_hash, l.media_id
		FROM torrent_streams t
		JOIN streams s ON s.id = t.stream_id
		JOIN stream_media_links l ON l.stream_id = t.stream_id
		WHERE t.info_hash IN (?`+strings.Repeat(", ?", len(infoHashes)-1)+`) AND s.is_blocked = 0
		ORDER BY l.is_primary DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byHash := make(map[string]int64, len(infoHashes))
	for rows.Next() {
		var hash string
		var mediaID int64
		if err = rows.Scan(&hash, &mediaID); err != nil {
			return nil, err
		}
		if _, ok := byHash[hash]; !ok {
			byHash[hash] = mediaID
		}
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	var result []*Media
	seen := make(map[int64]bool)
	for _, h := range infoHashes {
		mediaID, ok := byHash[strings.ToLower(h)]
		if !ok || seen[mediaID] {
			continue
		}
		seen[mediaID] = true
		m, err := s.GetMedia(ctx, mediaID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, m)
	}
	return result, nil
}

// SearchMedia runs the fuzzy title search over canonical and aka titles,
// deduplicated with the best rank winning.
func (s *Store) SearchMedia(ctx context.Context, mediaType, query string, limit int) ([]*Media, error) {
	if limit <= 0 {
		limit = 50
	}
	// fts5 treats quotes as syntax; a phrase query keeps user input inert.
	phrase := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
	rows, err := s.db.QueryContext(ctx, `
		SELECT media_id, MIN(r) FROM (
			SELECT media_fts.rowid AS media_id, rank AS r FROM media_fts WHERE media_fts MATCH ?
			UNION ALL
			SELECT a.media_id, rank AS r FROM aka_fts
			JOIN aka_titles a ON a.id = aka_fts.rowid
			WHERE aka_fts MATCH ?
		)
		JOIN media m ON m.id = media_id
		WHERE m.type = ?
		GROUP BY media_id
		ORDER BY MIN(r)
		LIMIT ?`, phrase, phrase, mediaType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		var rank float64
		if err = rows.Scan(&id, &rank); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	result := make([]*Media, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMedia(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, nil
}

// ListMedia returns a catalog page with the requested sort. Media without
// streams never surface. Rows without a value for the sort column go last on
// descending order and first on ascending, so they never bury the page.
func (s *Store) ListMedia(ctx context.Context, mediaType, sort string, asc bool, limit, offset int) ([]*Media, error) {
	if limit <= 0 {
		limit = 25
	}
	dir, nulls := "DESC", "NULLS LAST"
	if asc {
		dir, nulls = "ASC", "NULLS FIRST"
	}
	var order string
	switch sort {
	case SortPopular:
		order = `(SELECT COALESCE(imdb_rating, 0) FROM media_ratings r WHERE r.media_id = m.id) ` + dir + `, m.total_streams ` + dir
	case SortRating:
		order = `(SELECT imdb_rating FROM media_ratings r WHERE r.media_id = m.id) ` + dir + ` ` + nulls
	case SortYear:
		order = `m.year ` + dir + ` ` + nulls
	case SortTitle:
		order = `m.title COLLATE NOCASE ` + dir
	case SortReleaseDate:
		order = `m.release_date ` + dir + ` ` + nulls
	default: // SortLatest
		order = `m.last_stream_added ` + dir + ` ` + nulls
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id FROM media m
		WHERE m.type = ? AND m.total_streams > 0
		ORDER BY `+order+`, m.id
		LIMIT ? OFFSET ?`, mediaType, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	result := make([]*Media, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMedia(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, nil
}

// RecordPlayback upserts the per-user play record and bumps the stream's
// playback counter.
func (s *Store) RecordPlayback(ctx context.Context, userID string, streamID int64, season, episode int, provider string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO playback_tracking (user_id, stream_id, season, episode, first_played_at, last_played_at, play_count, provider)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (user_id, stream_id, season, episode) DO UPDATE SET
			last_played_at = excluded.last_played_at,
			play_count = play_count + 1,
			provider = excluded.provider`,
		userID, streamID, season, episode, now, now, provider); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE streams SET playback_count = playback_count + 1 WHERE id = ?`, streamID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetPlayback returns the play record, or ErrNotFound.
func (s *Store) GetPlayback(ctx context.Context, userID string, streamID int64, season, episode int) (*PlaybackTracking, error) {
	pt := PlaybackTracking{UserID: userID, StreamID: streamID, Season: season, Episode: episode}
	err := s.db.QueryRowContext(ctx, `
		SELECT first_played_at, last_played_at, play_count, provider
		FROM playback_tracking WHERE user_id = ? AND stream_id = ? AND season = ? AND episode = ?`,
		userID, streamID, season, episode).Scan(&pt.FirstPlayedAt, &pt.LastPlayedAt, &pt.PlayCount, &pt.Provider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &pt, nil
}

// UpsertWatchHistory records or refreshes a watch history entry.
func (s *Store) UpsertWatchHistory(ctx context.Context, userID string, mediaID int64, season, episode int, action, source string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watch_history (user_id, media_id, season, episode, watched_at, action, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, media_id, season, episode) DO UPDATE SET
			watched_at = excluded.watched_at, action = excluded.action, source = excluded.source`,
		userID, mediaID, season, episode, time.Now().UTC(), action, source)
	return err
}
