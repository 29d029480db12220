package catalog

// The schema is applied on startup; every statement is idempotent. The FTS5
// tables use the trigram tokenizer so that short fuzzy queries still match,
// mirroring the tsvector+trigram union of the original catalog design.
const schema = `
CREATE TABLE IF NOT EXISTS media (
	id                INTEGER PRIMARY KEY,
	type              TEXT NOT NULL CHECK (type IN ('movie', 'series', 'tv', 'events')),
	title             TEXT NOT NULL,
	year              INTEGER,
	release_date      TIMESTAMP,
	last_stream_added TIMESTAMP,
	total_streams     INTEGER NOT NULL DEFAULT 0,
	nudity_status     TEXT NOT NULL DEFAULT 'unknown'
);

CREATE TABLE IF NOT EXISTS aka_titles (
	id       INTEGER PRIMARY KEY,
	media_id INTEGER NOT NULL REFERENCES media (id) ON DELETE CASCADE,
	title    TEXT NOT NULL,
	ord      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_aka_titles_media ON aka_titles (media_id);

CREATE TABLE IF NOT EXISTS media_external_ids (
	media_id    INTEGER NOT NULL REFERENCES media (id) ON DELETE CASCADE,
	provider    TEXT NOT NULL CHECK (provider IN ('imdb', 'tmdb', 'tvdb', 'mal')),
	external_id TEXT NOT NULL,
	PRIMARY KEY (media_id, provider),
	UNIQUE (provider, external_id)
);

CREATE TABLE IF NOT EXISTS media_ratings (
	media_id    INTEGER PRIMARY KEY REFERENCES media (id) ON DELETE CASCADE,
	imdb_rating REAL
);

CREATE TABLE IF NOT EXISTS episode_calendar (
	media_id       INTEGER NOT NULL REFERENCES media (id) ON DELETE CASCADE,
	air_date       TEXT NOT NULL,
	season_number  INTEGER NOT NULL,
	episode_number INTEGER NOT NULL,
	PRIMARY KEY (media_id, air_date, season_number, episode_number)
);

CREATE TABLE IF NOT EXISTS streams (
	id               INTEGER PRIMARY KEY,
	name             TEXT NOT NULL,
	source           TEXT NOT NULL DEFAULT '',
	size             INTEGER NOT NULL DEFAULT 0,
	resolution       TEXT NOT NULL DEFAULT '',
	quality          TEXT NOT NULL DEFAULT '',
	codec            TEXT NOT NULL DEFAULT '',
	bit_depth        INTEGER NOT NULL DEFAULT 0,
	is_proper        INTEGER NOT NULL DEFAULT 0,
	is_repack        INTEGER NOT NULL DEFAULT 0,
	is_extended      INTEGER NOT NULL DEFAULT 0,
	is_dubbed        INTEGER NOT NULL DEFAULT 0,
	is_subbed        INTEGER NOT NULL DEFAULT 0,
	is_complete      INTEGER NOT NULL DEFAULT 0,
	is_remastered    INTEGER NOT NULL DEFAULT 0,
	is_upscaled      INTEGER NOT NULL DEFAULT 0,
	is_active        INTEGER NOT NULL DEFAULT 1,
	is_blocked       INTEGER NOT NULL DEFAULT 0,
	is_public        INTEGER NOT NULL DEFAULT 1,
	uploader_user_id TEXT,
	playback_count   INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS stream_languages (
	stream_id INTEGER NOT NULL REFERENCES streams (id) ON DELETE CASCADE,
	value     TEXT NOT NULL,
	PRIMARY KEY (stream_id, value)
);
CREATE TABLE IF NOT EXISTS stream_audio_formats (
	stream_id INTEGER NOT NULL REFERENCES streams (id) ON DELETE CASCADE,
	value     TEXT NOT NULL,
	PRIMARY KEY (stream_id, value)
);
CREATE TABLE IF NOT EXISTS stream_channels (
	stream_id INTEGER NOT NULL REFERENCES streams (id) ON DELETE CASCADE,
	value     TEXT NOT NULL,
	PRIMARY KEY (stream_id, value)
);
CREATE TABLE IF NOT EXISTS stream_hdr_formats (
	stream_id INTEGER NOT NULL REFERENCES streams (id) ON DELETE CASCADE,
	value     TEXT NOT NULL,
	PRIMARY KEY (stream_id, value)
);

CREATE TABLE IF NOT EXISTS torrent_streams (
	stream_id     INTEGER PRIMARY KEY REFERENCES streams (id) ON DELETE CASCADE,
	info_hash     TEXT NOT NULL UNIQUE CHECK (info_hash = lower(info_hash) AND length(info_hash) = 40),
	announce_list TEXT NOT NULL DEFAULT '[]',
	seeders       INTEGER NOT NULL DEFAULT 0,
	torrent_file  BLOB,
	trusted_files INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS usenet_streams (
	stream_id     INTEGER PRIMARY KEY REFERENCES streams (id) ON DELETE CASCADE,
	nzb_guid      TEXT NOT NULL UNIQUE,
	nzb_url       TEXT NOT NULL DEFAULT '',
	indexer       TEXT NOT NULL DEFAULT '',
	group_name    TEXT NOT NULL DEFAULT '',
	poster        TEXT NOT NULL DEFAULT '',
	posted_at     TIMESTAMP,
	is_passworded INTEGER NOT NULL DEFAULT 0,
	grabs         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS telegram_streams (
	stream_id         INTEGER PRIMARY KEY REFERENCES streams (id) ON DELETE CASCADE,
	chat_id           INTEGER NOT NULL,
	message_id        INTEGER NOT NULL,
	file_unique_id    TEXT NOT NULL DEFAULT '',
	mime_type         TEXT NOT NULL DEFAULT '',
	size              INTEGER NOT NULL DEFAULT 0,
	caption           TEXT NOT NULL DEFAULT '',
	backup_chat_id    INTEGER NOT NULL DEFAULT 0,
	backup_message_id INTEGER NOT NULL DEFAULT 0,
	UNIQUE (chat_id, message_id)
);

CREATE TABLE IF NOT EXISTS http_streams (
	stream_id INTEGER PRIMARY KEY REFERENCES streams (id) ON DELETE CASCADE,
	url       TEXT NOT NULL,
	extractor TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS acestream_streams (
	stream_id  INTEGER PRIMARY KEY REFERENCES streams (id) ON DELETE CASCADE,
	content_id TEXT NOT NULL DEFAULT '',
	info_hash  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS stream_files (
	id         INTEGER PRIMARY KEY,
	stream_id  INTEGER NOT NULL REFERENCES streams (id) ON DELETE CASCADE,
	file_index INTEGER NOT NULL,
	filename   TEXT NOT NULL,
	size       INTEGER NOT NULL DEFAULT 0,
	file_type  TEXT NOT NULL DEFAULT '',
	UNIQUE (stream_id, file_index)
);

CREATE TABLE IF NOT EXISTS stream_media_links (
	stream_id  INTEGER NOT NULL REFERENCES streams (id) ON DELETE CASCADE,
	media_id   INTEGER NOT NULL REFERENCES media (id) ON DELETE CASCADE,
	is_primary INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (stream_id, media_id)
);
CREATE INDEX IF NOT EXISTS idx_stream_media_links_media ON stream_media_links (media_id);

CREATE TABLE IF NOT EXISTS file_media_links (
	file_id        INTEGER NOT NULL REFERENCES stream_files (id) ON DELETE CASCADE,
	media_id       INTEGER NOT NULL REFERENCES media (id) ON DELETE CASCADE,
	season_number  INTEGER NOT NULL DEFAULT 0,
	episode_number INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (file_id, media_id, season_number, episode_number)
);
CREATE INDEX IF NOT EXISTS idx_file_media_links_media ON file_media_links (media_id, season_number, episode_number);

CREATE TABLE IF NOT EXISTS playback_tracking (
	user_id         TEXT NOT NULL,
	stream_id       INTEGER NOT NULL REFERENCES streams (id) ON DELETE CASCADE,
	season          INTEGER NOT NULL DEFAULT 0,
	episode         INTEGER NOT NULL DEFAULT 0,
	first_played_at TIMESTAMP NOT NULL,
	last_played_at  TIMESTAMP NOT NULL,
	play_count      INTEGER NOT NULL DEFAULT 1,
	provider        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (user_id, stream_id, season, episode)
);

CREATE TABLE IF NOT EXISTS watch_history (
	user_id    TEXT NOT NULL,
	media_id   INTEGER NOT NULL REFERENCES media (id) ON DELETE CASCADE,
	season     INTEGER NOT NULL DEFAULT 0,
	episode    INTEGER NOT NULL DEFAULT 0,
	watched_at TIMESTAMP NOT NULL,
	action     TEXT NOT NULL CHECK (action IN ('WATCHED', 'DOWNLOADED', 'QUEUED')),
	source     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (user_id, media_id, season, episode)
);

CREATE VIRTUAL TABLE IF NOT EXISTS media_fts USING fts5 (title, tokenize = 'trigram');
CREATE VIRTUAL TABLE IF NOT EXISTS aka_fts USING fts5 (title, tokenize = 'trigram');
`
