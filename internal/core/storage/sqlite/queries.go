package sqlite

// SQL for the edge ledger. SQLite assigns recorded_seq from the rowid
// autoincrement, which is the monotonic sync cursor unit.

const (
	// querySaveEvent appends one ledger event.
	// ON CONFLICT DO NOTHING returns no rows (sql.ErrNoRows) for an
	// event_id replay; RETURNING hands back the assigned recorded_seq.
	querySaveEvent = `
		INSERT INTO events (
			event_id, livestock_key, kind, occurred_at, recorded_at, payload
		)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING recorded_seq
	`

	// queryHasInduction guards the one-induction-per-animal invariant before
	// the insert. The partial unique index idx_events_one_induction backs the
	// same rule at the schema level.
	queryHasInduction = `
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE livestock_key = ? AND kind = 'induction'
		)
	`

	// queryEventsForLivestock fetches an animal's full history in canonical
	// fold order.
	queryEventsForLivestock = `
		SELECT
			event_id, livestock_key, kind, occurred_at, recorded_at,
			payload, recorded_seq
		FROM events
		WHERE livestock_key = ?
		ORDER BY occurred_at ASC, recorded_seq ASC
	`

	// queryEventsSince fetches one kind's events after a cursor in strict
	// recorded_seq order. The sync client's only read path.
	queryEventsSince = `
		SELECT
			event_id, livestock_key, kind, occurred_at, recorded_at,
			payload, recorded_seq
		FROM events
		WHERE kind = ? AND recorded_seq > ?
		ORDER BY recorded_seq ASC
		LIMIT ?
	`

	// queryUpsertView rewrites the derived row from a fresh replay. The view
	// table carries no information of its own, so a full overwrite is always
	// correct.
	queryUpsertView = `
		INSERT INTO livestock_views (
			livestock_key, batch_name, pen, sex,
			current_lf_id, current_epc, current_weight_kg,
			notes, retired, inducted_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (livestock_key) DO UPDATE SET
			batch_name        = excluded.batch_name,
			pen               = excluded.pen,
			sex               = excluded.sex,
			current_lf_id     = excluded.current_lf_id,
			current_epc       = excluded.current_epc,
			current_weight_kg = excluded.current_weight_kg,
			notes             = excluded.notes,
			retired           = excluded.retired,
			inducted_at       = excluded.inducted_at,
			updated_at        = excluded.updated_at
	`

	queryGetView = `
		SELECT
			livestock_key, batch_name, pen, sex,
			current_lf_id, current_epc, current_weight_kg,
			notes, retired, inducted_at, updated_at
		FROM livestock_views
		WHERE livestock_key = ?
	`

	queryResumePoint = `SELECT acked_seq FROM sync_cursors WHERE kind = ?`

	// queryMarkAcknowledged advances the per-kind watermark. The WHERE clause
	// on the upsert makes regression a no-op rather than an error.
	queryMarkAcknowledged = `
		INSERT INTO sync_cursors (kind, acked_seq, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (kind) DO UPDATE SET
			acked_seq  = excluded.acked_seq,
			updated_at = excluded.updated_at
		WHERE excluded.acked_seq > sync_cursors.acked_seq
	`

	// queryInsertPayload buffers one raw payload, deduplicated by content
	// hash. No rows back means the hash was seen before.
	queryInsertPayload = `
		INSERT INTO payload_buffer (raw, content_hash, status, received_at)
		VALUES (?, ?, 'received', ?)
		ON CONFLICT (content_hash) DO NOTHING
		RETURNING id
	`

	queryPayloadIDByHash = `SELECT id FROM payload_buffer WHERE content_hash = ?`

	queryMarkPayloadProcessed = `
		UPDATE payload_buffer
		SET status = 'processed', batch_name = ?, processed_at = ?
		WHERE id = ?
	`

	queryMarkPayloadError = `
		UPDATE payload_buffer
		SET status = 'error', error = ?, processed_at = ?
		WHERE id = ?
	`

	queryBufferStats = `
		SELECT status, COUNT(*)
		FROM payload_buffer
		GROUP BY status
	`

	// queryResolveBatch creates the named batch if absent. RowsAffected 0
	// means it already existed.
	queryResolveBatch = `
		INSERT INTO batches (name, source_type, notes, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING
	`
)
