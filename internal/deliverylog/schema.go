package deliverylog

// Schema creates the journal table.
const Schema = `
CREATE TABLE IF NOT EXISTS deliveries (
	id              TEXT PRIMARY KEY,
	timestamp       INTEGER NOT NULL,
	email_from      TEXT NOT NULL,
	email_to        TEXT NOT NULL,
	sms_to          TEXT NOT NULL DEFAULT '',
	sms_from        TEXT NOT NULL DEFAULT '',
	message_length  INTEGER NOT NULL DEFAULT 0,
	segments        INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	provider_sid    TEXT NOT NULL DEFAULT '',
	processing_ms   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_deliveries_timestamp ON deliveries(timestamp);
CREATE INDEX IF NOT EXISTS idx_deliveries_email_from ON deliveries(email_from);
`
