package postgres

// SQL for the cloud aggregate store. Parent entities are resolved by
// tenant-scoped natural key, never by foreign id from the wire.

const (
	// queryGuardEvent claims an event_id for a tenant. RowsAffected 0 means
	// the event was applied in an earlier delivery and the whole record is a
	// noop.
	queryGuardEvent = `
		INSERT INTO applied_events (tenant, event_id, applied_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant, event_id) DO NOTHING
	`

	queryPenIDByNumber = `
		SELECT id FROM pens
		WHERE tenant = $1 AND number = $2
	`

	queryInsertPen = `
		INSERT INTO pens (tenant, number, capacity, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id
	`

	// queryRefreshPen picks up a pen location riding along on a later record.
	// An empty location keeps the stored description.
	queryRefreshPen = `
		UPDATE pens SET
			description = COALESCE(NULLIF($2, ''), description),
			updated_at  = $3
		WHERE id = $1
	`

	queryBatchRefByName = `
		SELECT id, pen_id FROM batches
		WHERE tenant = $1 AND name = $2
	`

	queryInsertBatch = `
		INSERT INTO batches (tenant, name, funder, lot, pen_id, notes, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, '', TRUE, $6, $6)
		RETURNING id
	`

	// queryRefreshBatch updates an existing batch's mutable fields from a
	// record. Absent wire fields keep the stored value.
	queryRefreshBatch = `
		UPDATE batches SET
			funder     = COALESCE(NULLIF($2, ''), funder),
			lot        = COALESCE(NULLIF($3, ''), lot),
			pen_id     = COALESCE($4, pen_id),
			updated_at = $5
		WHERE id = $1
	`

	queryCattleIDByKey = `
		SELECT id FROM cattle
		WHERE tenant = $1 AND livestock_key = $2
	`

	queryCattleTagsByKey = `
		SELECT id, lf_tag, uhf_tag FROM cattle
		WHERE tenant = $1 AND livestock_key = $2
	`

	queryInsertCattle = `
		INSERT INTO cattle (
			tenant, livestock_key, sex, weight_kg, status,
			lf_tag, uhf_tag, batch_id, pen_id, notes,
			inducted_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING id
	`

	// queryRefreshCattle re-applies an induction to an existing aggregate.
	// Empty wire fields keep the stored value (NULLIF/COALESCE), so a
	// re-delivered sparse induction never blanks data a richer one wrote.
	queryRefreshCattle = `
		UPDATE cattle SET
			sex        = COALESCE(NULLIF($3, ''), sex),
			lf_tag     = COALESCE(NULLIF($4, ''), lf_tag),
			uhf_tag    = COALESCE(NULLIF($5, ''), uhf_tag),
			batch_id   = $6,
			pen_id     = COALESCE($7, pen_id),
			notes      = COALESCE(NULLIF($8, ''), notes),
			updated_at = $9
		WHERE tenant = $1 AND livestock_key = $2
	`

	// queryUpdateTags overwrites the current tag pair. Absent tags keep the
	// stored value.
	queryUpdateTags = `
		UPDATE cattle SET
			lf_tag     = COALESCE(NULLIF($2, ''), lf_tag),
			uhf_tag    = COALESCE(NULLIF($3, ''), uhf_tag),
			updated_at = $4
		WHERE id = $1
	`

	queryUpdateWeight = `
		UPDATE cattle SET
			weight_kg  = $2,
			updated_at = $3
		WHERE id = $1
	`

	// queryAppendRepairNote folds the repair reason into the aggregate notes.
	queryAppendRepairNote = `
		UPDATE cattle SET
			notes = CASE
				WHEN notes = '' THEN 'repair: ' || $2
				ELSE notes || E'\n' || 'repair: ' || $2
			END,
			updated_at = $3
		WHERE id = $1
	`

	// queryInsertWeightEntry appends to the weight history, deduplicated by
	// (cattle_id, event_id).
	queryInsertWeightEntry = `
		INSERT INTO weight_history (cattle_id, event_id, weight_kg, recorded_at, recorded_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cattle_id, event_id) DO NOTHING
	`

	// queryArchiveTagPair archives the pair being replaced, deduplicated by
	// (cattle_id, event_id).
	queryArchiveTagPair = `
		INSERT INTO tag_pair_history (cattle_id, event_id, lf_tag, uhf_tag, replaced_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cattle_id, event_id) DO NOTHING
	`

	queryInsertAuditEntry = `
		INSERT INTO audit_log (cattle_id, action, detail, actor, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	queryGetCattle = `
		SELECT
			id, tenant, livestock_key, sex, weight_kg, status,
			lf_tag, uhf_tag, batch_id, pen_id, notes,
			inducted_at, created_at, updated_at
		FROM cattle
		WHERE tenant = $1 AND livestock_key = $2
	`

	queryGetWeightHistory = `
		SELECT event_id, weight_kg, recorded_at, recorded_by
		FROM weight_history
		WHERE cattle_id = $1
		ORDER BY recorded_at ASC, id ASC
	`

	queryGetTagPairHistory = `
		SELECT event_id, lf_tag, uhf_tag, replaced_at, reason
		FROM tag_pair_history
		WHERE cattle_id = $1
		ORDER BY replaced_at ASC, id ASC
	`

	queryGetAuditLog = `
		SELECT action, detail, actor, created_at
		FROM audit_log
		WHERE cattle_id = $1
		ORDER BY created_at ASC, id ASC
	`

	queryGetBatch = `
		SELECT id, tenant, name, funder, lot, pen_id, notes, active, created_at, updated_at
		FROM batches
		WHERE tenant = $1 AND name = $2
	`

	queryGetPen = `
		SELECT id, tenant, number, capacity, description, created_at, updated_at
		FROM pens
		WHERE tenant = $1 AND number = $2
	`

	queryTenantForKey = `
		SELECT tenant FROM api_keys
		WHERE key = $1 AND active = TRUE
	`
)
