// Package journal persists application events from the bus to PostgreSQL.
//
// The journal is append-only: rows are batched and inserted with
// ON CONFLICT DO NOTHING on message_id, so a replayed event is counted as a
// conflict instead of duplicated.
package journal
