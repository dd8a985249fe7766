package store

const schemaDDL = `
CREATE TABLE IF NOT EXISTS strand (
	id               TEXT PRIMARY KEY,
	public_key       BLOB NOT NULL,
	scheme           TEXT NOT NULL,
	period_seconds   INTEGER NOT NULL,
	details_json     TEXT NOT NULL,
	genesis_ts       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tixel (
	strand_id        TEXT NOT NULL,
	idx              INTEGER NOT NULL,
	cid              TEXT NOT NULL,
	timestamp        INTEGER NOT NULL,
	payload_blob     BLOB NOT NULL,
	signature_blob   BLOB NOT NULL,
	PRIMARY KEY (strand_id, idx),
	UNIQUE (strand_id, cid)
);

CREATE INDEX IF NOT EXISTS idx_tixel_tip ON tixel (strand_id, idx DESC);
`
