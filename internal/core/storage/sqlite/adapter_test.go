package sqlite

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	v1 "github.com/herdlinx-lab/herdlinx/internal/api/v1"
	"github.com/herdlinx-lab/herdlinx/internal/core/storage"
)

func TestAdapter_AppendEvent(t *testing.T) {
	occurredAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	t.Run("induction appends and refreshes view", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		event := &v1.Event{
			EventID:      "evt-1",
			LivestockKey: "LS-42",
			Kind:         v1.KindInduction,
			OccurredAt:   occurredAt,
			Payload:      v1.Payload{BatchName: "B1", Pen: "P4", Sex: "F"},
		}

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(queryHasInduction)).
			WithArgs("LS-42").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(regexp.QuoteMeta(querySaveEvent)).
			WithArgs("evt-1", "LS-42", "induction", occurredAt, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"recorded_seq"}).AddRow(int64(7)))
		mock.ExpectQuery(regexp.QuoteMeta(queryEventsForLivestock)).
			WithArgs("LS-42").
			WillReturnRows(sqlmock.NewRows(eventRowColumns()).
				AddRow("evt-1", "LS-42", "induction", occurredAt, occurredAt,
					[]byte(`{"batch_name":"B1","pen":"P4","sex":"F"}`), int64(7)))
		mock.ExpectExec(regexp.QuoteMeta(queryUpsertView)).
			WithArgs("LS-42", "B1", "P4", "F", "", "", nil, "", false, occurredAt, occurredAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := adapter.AppendEvent(context.Background(), event)
		require.NoError(t, err)
		require.Equal(t, int64(7), event.RecordedSeq)
		require.False(t, event.RecordedAt.IsZero())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("event id replay maps to ErrDuplicateEvent", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		event := &v1.Event{
			EventID:      "evt-dup",
			LivestockKey: "LS-42",
			Kind:         v1.KindCheckin,
			OccurredAt:   occurredAt,
			Payload:      v1.Payload{WeightKG: ptrFloat(275)},
		}

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(querySaveEvent)).
			WithArgs("evt-dup", "LS-42", "checkin", occurredAt, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"recorded_seq"}))
		mock.ExpectRollback()

		err := adapter.AppendEvent(context.Background(), event)
		require.ErrorIs(t, err, storage.ErrDuplicateEvent)
		require.Equal(t, int64(0), event.RecordedSeq)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second induction maps to ErrDuplicateInduction", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		event := &v1.Event{
			EventID:      "evt-2",
			LivestockKey: "LS-42",
			Kind:         v1.KindInduction,
			OccurredAt:   occurredAt,
			Payload:      v1.Payload{BatchName: "B2"},
		}

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(queryHasInduction)).
			WithArgs("LS-42").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		err := adapter.AppendEvent(context.Background(), event)
		require.ErrorIs(t, err, storage.ErrDuplicateInduction)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdapter_EventsSince(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	occurredAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryEventsSince)).
		WithArgs("checkin", int64(10), 2).
		WillReturnRows(sqlmock.NewRows(eventRowColumns()).
			AddRow("evt-11", "LS-1", "checkin", occurredAt, occurredAt,
				[]byte(`{"weight_kg":250}`), int64(11)).
			AddRow("evt-12", "LS-2", "checkin", occurredAt.Add(time.Minute), occurredAt.Add(time.Minute),
				[]byte(`{"weight_kg":310.5}`), int64(12)),
		).RowsWillBeClosed()

	events, err := adapter.EventsSince(context.Background(), v1.KindCheckin, 10, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "evt-11", events[0].EventID)
	require.Equal(t, int64(11), events[0].RecordedSeq)
	require.NotNil(t, events[0].Payload.WeightKG)
	require.Equal(t, 250.0, *events[0].Payload.WeightKG)
	require.Equal(t, int64(12), events[1].RecordedSeq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_View(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		inducted := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
		updated := inducted.Add(48 * time.Hour)

		mock.ExpectQuery(regexp.QuoteMeta(queryGetView)).
			WithArgs("LS-42").
			WillReturnRows(sqlmock.NewRows(viewRowColumns()).
				AddRow("LS-42", "B1", "P4", "F", "LF1", "EPC1", 275.0, "", false, inducted, updated))

		view, err := adapter.View(context.Background(), "LS-42")
		require.NoError(t, err)
		require.Equal(t, "LF1", view.CurrentLFID)
		require.NotNil(t, view.CurrentWeightKG)
		require.Equal(t, 275.0, *view.CurrentWeightKG)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing maps to ErrNotFound", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(queryGetView)).
			WithArgs("LS-404").
			WillReturnRows(sqlmock.NewRows(viewRowColumns()))

		_, err := adapter.View(context.Background(), "LS-404")
		require.ErrorIs(t, err, storage.ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unweighed animal has nil weight", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		inducted := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

		mock.ExpectQuery(regexp.QuoteMeta(queryGetView)).
			WithArgs("LS-7").
			WillReturnRows(sqlmock.NewRows(viewRowColumns()).
				AddRow("LS-7", "B1", "", "", "", "", nil, "", false, inducted, inducted))

		view, err := adapter.View(context.Background(), "LS-7")
		require.NoError(t, err)
		require.Nil(t, view.CurrentWeightKG)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdapter_SyncCursor(t *testing.T) {
	t.Run("unsynced kind resumes from zero", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(queryResumePoint)).
			WithArgs("pairing").
			WillReturnRows(sqlmock.NewRows([]string{"acked_seq"}))

		seq, err := adapter.ResumePoint(context.Background(), v1.KindPairing)
		require.NoError(t, err)
		require.Equal(t, int64(0), seq)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mark acknowledged upserts watermark", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta(queryMarkAcknowledged)).
			WithArgs("induction", int64(42), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := adapter.MarkAcknowledged(context.Background(), v1.KindInduction, 42)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdapter_RecordPayload(t *testing.T) {
	t.Run("new payload buffered", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(queryInsertPayload)).
			WithArgs("barn:B1:LF1:EPC1", "hash-1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

		id, err := adapter.RecordPayload(context.Background(), "barn:B1:LF1:EPC1", "hash-1")
		require.NoError(t, err)
		require.Equal(t, int64(3), id)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed payload maps to ErrDuplicatePayload", func(t *testing.T) {
		adapter, mock, db := newMockAdapter(t)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(queryInsertPayload)).
			WithArgs("barn:B1:LF1:EPC1", "hash-1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery(regexp.QuoteMeta(queryPayloadIDByHash)).
			WithArgs("hash-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

		id, err := adapter.RecordPayload(context.Background(), "barn:B1:LF1:EPC1", "hash-1")
		require.ErrorIs(t, err, storage.ErrDuplicatePayload)
		require.Equal(t, int64(3), id)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdapter_ResolveOrCreateBatch(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(queryResolveBatch)).
		WithArgs("B1", "barn", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryResolveBatch)).
		WithArgs("B1", "barn", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := adapter.ResolveOrCreateBatch(context.Background(), "B1", "barn", "")
	require.NoError(t, err)
	require.True(t, created)

	created, err = adapter.ResolveOrCreateBatch(context.Background(), "B1", "barn", "")
	require.NoError(t, err)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	adapter := &Adapter{
		db:                     db,
		stmtEventsForLivestock: mustPrepareStmt(t, db, mock, queryEventsForLivestock),
		stmtEventsSince:        mustPrepareStmt(t, db, mock, queryEventsSince),
		stmtGetView:            mustPrepareStmt(t, db, mock, queryGetView),
		stmtResumePoint:        mustPrepareStmt(t, db, mock, queryResumePoint),
		stmtMarkAcknowledged:   mustPrepareStmt(t, db, mock, queryMarkAcknowledged),
		stmtInsertPayload:      mustPrepareStmt(t, db, mock, queryInsertPayload),
		stmtPayloadIDByHash:    mustPrepareStmt(t, db, mock, queryPayloadIDByHash),
		stmtMarkPayloadDone:    mustPrepareStmt(t, db, mock, queryMarkPayloadProcessed),
		stmtMarkPayloadError:   mustPrepareStmt(t, db, mock, queryMarkPayloadError),
		stmtResolveBatch:       mustPrepareStmt(t, db, mock, queryResolveBatch),
	}

	return adapter, mock, db
}

func mustPrepareStmt(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock, query string) *sql.Stmt {
	t.Helper()

	mock.ExpectPrepare(regexp.QuoteMeta(query))
	stmt, err := db.Prepare(query)
	require.NoError(t, err)

	return stmt
}

func eventRowColumns() []string {
	return []string{
		"event_id",
		"livestock_key",
		"kind",
		"occurred_at",
		"recorded_at",
		"payload",
		"recorded_seq",
	}
}

func viewRowColumns() []string {
	return []string{
		"livestock_key",
		"batch_name",
		"pen",
		"sex",
		"current_lf_id",
		"current_epc",
		"current_weight_kg",
		"notes",
		"retired",
		"inducted_at",
		"updated_at",
	}
}

func ptrFloat(f float64) *float64 { return &f }
