package store

const schemaVersionsDDL = `
CREATE TABLE IF NOT EXISTS schema_versions (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);`

const sessionsDDL = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_session_id TEXT NOT NULL UNIQUE,
	memory_session_id TEXT UNIQUE,
	project TEXT NOT NULL DEFAULT '',
	user_prompt TEXT NOT NULL DEFAULT '',
	custom_title TEXT,
	started_at_epoch INTEGER NOT NULL,
	completed_at_epoch INTEGER,
	status TEXT NOT NULL DEFAULT 'active',
	worker_port INTEGER NOT NULL DEFAULT 0,
	prompt_counter INTEGER NOT NULL DEFAULT 0,
	CHECK (memory_session_id IS NULL OR memory_session_id <> content_session_id),
	CHECK (status IN ('active', 'completed', 'failed'))
);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project);`

const observationsDDL = `
CREATE TABLE IF NOT EXISTS observations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	memory_session_id TEXT NOT NULL REFERENCES sessions(memory_session_id) ON DELETE CASCADE ON UPDATE CASCADE,
	project TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	subtitle TEXT NOT NULL DEFAULT '',
	facts TEXT NOT NULL DEFAULT '[]',
	narrative TEXT NOT NULL DEFAULT '',
	concepts TEXT NOT NULL DEFAULT '[]',
	files_read TEXT NOT NULL DEFAULT '[]',
	files_modified TEXT NOT NULL DEFAULT '[]',
	prompt_number INTEGER NOT NULL DEFAULT 0,
	discovery_tokens INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL,
	created_at_epoch INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(memory_session_id);
CREATE INDEX IF NOT EXISTS idx_observations_project ON observations(project);
CREATE INDEX IF NOT EXISTS idx_observations_content_hash ON observations(content_hash, created_at_epoch);`

const sessionSummariesDDL = `
CREATE TABLE IF NOT EXISTS session_summaries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	memory_session_id TEXT NOT NULL REFERENCES sessions(memory_session_id) ON DELETE CASCADE ON UPDATE CASCADE,
	project TEXT NOT NULL DEFAULT '',
	request TEXT NOT NULL DEFAULT '',
	investigated TEXT NOT NULL DEFAULT '',
	learned TEXT NOT NULL DEFAULT '',
	completed TEXT NOT NULL DEFAULT '',
	next_steps TEXT NOT NULL DEFAULT '',
	files_read TEXT NOT NULL DEFAULT '[]',
	files_edited TEXT NOT NULL DEFAULT '[]',
	notes TEXT NOT NULL DEFAULT '',
	prompt_number INTEGER NOT NULL DEFAULT 0,
	discovery_tokens INTEGER NOT NULL DEFAULT 0,
	created_at_epoch INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_summaries_session ON session_summaries(memory_session_id);
CREATE INDEX IF NOT EXISTS idx_summaries_project ON session_summaries(project);`

const userPromptsDDL = `
CREATE TABLE IF NOT EXISTS user_prompts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_session_id TEXT NOT NULL REFERENCES sessions(content_session_id) ON DELETE CASCADE ON UPDATE CASCADE,
	prompt_number INTEGER NOT NULL,
	prompt_text TEXT NOT NULL DEFAULT '',
	created_at_epoch INTEGER NOT NULL,
	UNIQUE (content_session_id, prompt_number)
);`

const pendingMessagesDDL = `
CREATE TABLE IF NOT EXISTS pending_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_db_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE ON UPDATE CASCADE,
	content_session_id TEXT NOT NULL,
	message_type TEXT NOT NULL,
	tool_name TEXT NOT NULL DEFAULT '',
	tool_input TEXT,
	tool_response TEXT,
	cwd TEXT NOT NULL DEFAULT '',
	last_assistant_message TEXT NOT NULL DEFAULT '',
	prompt_number INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at_epoch INTEGER NOT NULL,
	started_processing_at_epoch INTEGER,
	completed_at_epoch INTEGER,
	failed_at_epoch INTEGER
);
CREATE INDEX IF NOT EXISTS idx_pending_session_status ON pending_messages(session_db_id, status, id);
CREATE INDEX IF NOT EXISTS idx_pending_status_started ON pending_messages(status, started_processing_at_epoch);`

const pendingMessagesWithCheckDDL = `
CREATE TABLE pending_messages_new (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_db_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE ON UPDATE CASCADE,
	content_session_id TEXT NOT NULL,
	message_type TEXT NOT NULL CHECK (message_type IN ('observation', 'summarize')),
	tool_name TEXT NOT NULL DEFAULT '',
	tool_input TEXT,
	tool_response TEXT,
	cwd TEXT NOT NULL DEFAULT '',
	last_assistant_message TEXT NOT NULL DEFAULT '',
	prompt_number INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'processing', 'processed', 'failed')),
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at_epoch INTEGER NOT NULL,
	started_processing_at_epoch INTEGER,
	completed_at_epoch INTEGER,
	failed_at_epoch INTEGER
);`

const conceptWeightsDDL = `
CREATE TABLE IF NOT EXISTS concept_weights (
	concept TEXT PRIMARY KEY,
	weight REAL NOT NULL DEFAULT 1.0,
	updated_at INTEGER NOT NULL
);`

const observationsFTSDDL = `
CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
	title, subtitle, narrative, content='observations', content_rowid='id'
);
CREATE TRIGGER IF NOT EXISTS observations_fts_ai AFTER INSERT ON observations BEGIN
	INSERT INTO observations_fts(rowid, title, subtitle, narrative) VALUES (new.id, new.title, new.subtitle, new.narrative);
END;
CREATE TRIGGER IF NOT EXISTS observations_fts_ad AFTER DELETE ON observations BEGIN
	INSERT INTO observations_fts(observations_fts, rowid, title, subtitle, narrative) VALUES ('delete', old.id, old.title, old.subtitle, old.narrative);
END;
CREATE TRIGGER IF NOT EXISTS observations_fts_au AFTER UPDATE ON observations BEGIN
	INSERT INTO observations_fts(observations_fts, rowid, title, subtitle, narrative) VALUES ('delete', old.id, old.title, old.subtitle, old.narrative);
	INSERT INTO observations_fts(rowid, title, subtitle, narrative) VALUES (new.id, new.title, new.subtitle, new.narrative);
END;`

const userPromptsFTSDDL = `
CREATE VIRTUAL TABLE IF NOT EXISTS user_prompts_fts USING fts5(
	prompt_text, content='user_prompts', content_rowid='id'
);
CREATE TRIGGER IF NOT EXISTS user_prompts_fts_ai AFTER INSERT ON user_prompts BEGIN
	INSERT INTO user_prompts_fts(rowid, prompt_text) VALUES (new.id, new.prompt_text);
END;
CREATE TRIGGER IF NOT EXISTS user_prompts_fts_ad AFTER DELETE ON user_prompts BEGIN
	INSERT INTO user_prompts_fts(user_prompts_fts, rowid, prompt_text) VALUES ('delete', old.id, old.prompt_text);
END;`
