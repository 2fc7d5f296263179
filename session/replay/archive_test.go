package replay

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/browserpilot/engine/session"
)

func setupMockArchive(t *testing.T) (*Archive, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	dialector := postgres.New(postgres.Config{Conn: mockDB})
	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	return &Archive{db: gormDB, logger: zap.NewNop()}, mock
}

func sampleExport() *session.ReplayExport {
	return &session.ReplayExport{
		SessionID: "sess-1",
		State:     session.StateCompleted,
		ActionHistory: []session.ActionHistoryEntry{
			{TaskID: "task-1", Action: session.Action{ID: "a1", Type: session.ActionClick}},
		},
		FinalState: session.BrowserState{URL: "https://example.com/done"},
		Metrics:    session.Metrics{StepsTaken: 3, LLMTokens: 120},
		ExportedAt: time.Now(),
	}
}

func TestArchive_SaveInsertsRow(t *testing.T) {
	archive, mock := setupMockArchive(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "replay_records"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := archive.Save(context.Background(), sampleExport())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchive_CountBySession(t *testing.T) {
	archive, mock := setupMockArchive(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "replay_records" WHERE session_id = \$1`).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := archive.CountBySession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchive_LatestNotFound(t *testing.T) {
	archive, mock := setupMockArchive(t)

	mock.ExpectQuery(`SELECT \* FROM "replay_records" WHERE session_id = \$1`).
		WithArgs("missing", 1).
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := archive.Latest(context.Background(), "missing")
	require.Error(t, err)
	var notFound *ErrNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestArchive_InMemoryRoundTrip(t *testing.T) {
	archive, err := NewArchive(Config{DSN: ":memory:"}, nil)
	require.NoError(t, err)
	defer archive.Close()

	export := sampleExport()
	require.NoError(t, archive.Save(context.Background(), export))

	got, err := archive.Latest(context.Background(), export.SessionID)
	require.NoError(t, err)
	assert.Equal(t, export.SessionID, got.SessionID)
	assert.Equal(t, export.Metrics.StepsTaken, got.Metrics.StepsTaken)

	count, err := archive.CountBySession(context.Background(), export.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	list, err := archive.List(context.Background(), ListOptions{State: string(session.StateCompleted)})
	require.NoError(t, err)
	require.Len(t, list, 1)
}
