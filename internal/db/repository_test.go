package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/repeatd/internal/domain"
	"github.com/mescon/repeatd/internal/testutil"
)

// setupTestDB creates a journal in a temporary directory
func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

// =============================================================================
// Setup tests
// =============================================================================

func TestNewRepository(t *testing.T) {
	repo := setupTestDB(t)
	require.NotNil(t, repo.DB)
	assert.NoError(t, repo.DB.Ping())
}

func TestNewRepository_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "events.db")
	repo, err := NewRepository(path)
	require.NoError(t, err)
	defer repo.Close()
	assert.FileExists(t, path)
}

func TestRepository_WALMode(t *testing.T) {
	repo := setupTestDB(t)

	var journalMode string
	require.NoError(t, repo.DB.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}

func TestRepository_MigrationsAppliedOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	repo, err := NewRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.AppendEvent(testutil.NewJobAddedEvent("http", time.Second)))
	require.NoError(t, repo.GracefulClose())

	// Reopening must not re-run migrations or lose data
	repo, err = NewRepository(path)
	require.NoError(t, err)
	defer repo.Close()

	version, err := repo.currentMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	n, err := repo.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestParseMigrationVersion(t *testing.T) {
	tests := map[string]struct {
		version int
		ok      bool
	}{
		"001_events.sql":  {1, true},
		"012_indexes.sql": {12, true},
		"events.sql":      {0, false},
	}
	for file, want := range tests {
		version, ok := parseMigrationVersion(file)
		if version != want.version || ok != want.ok {
			t.Errorf("parseMigrationVersion(%q) = %d, %v; want %d, %v", file, version, ok, want.version, want.ok)
		}
	}
}

// =============================================================================
// Event tests
// =============================================================================

func TestRepository_AppendAndRecent(t *testing.T) {
	repo := setupTestDB(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, e := range testutil.JobLifecycle("job-1", 3, time.Second, base) {
		require.NoError(t, repo.AppendEvent(e))
	}

	events, err := repo.RecentEvents(10, "")
	require.NoError(t, err)
	require.Len(t, events, 6)

	assert.Equal(t, domain.JobAdded, events[0].EventType)
	assert.Equal(t, domain.JobAborted, events[5].EventType)
	assert.Equal(t, "job-1", events[0].JobID)
	assert.Equal(t, "lifecycle", events[0].JobName)
	assert.True(t, base.Equal(events[0].CreatedAt), "created_at round-trips, got %v", events[0].CreatedAt)

	tick, ok := events[2].ParseTickEventData()
	require.True(t, ok)
	assert.Equal(t, int64(2), tick.Count)
	require.NotNil(t, tick.DeltaMs)
	assert.Equal(t, float64(1000), *tick.DeltaMs)
}

func TestRepository_RecentEvents_LimitKeepsNewest(t *testing.T) {
	repo := setupTestDB(t)
	for i := 1; i <= 5; i++ {
		require.NoError(t, repo.AppendEvent(testutil.NewTickStartedEvent(i, 0, testutil.WithJobID("a"))))
	}

	events, err := repo.RecentEvents(2, "")
	require.NoError(t, err)
	require.Len(t, events, 2)

	first, _ := events[0].ParseTickEventData()
	second, _ := events[1].ParseTickEventData()
	assert.Equal(t, int64(4), first.Count)
	assert.Equal(t, int64(5), second.Count)
}

func TestRepository_RecentEvents_FilterByJob(t *testing.T) {
	repo := setupTestDB(t)
	require.NoError(t, repo.AppendEvent(testutil.NewTickStartedEvent(1, 0, testutil.WithJobID("a"))))
	require.NoError(t, repo.AppendEvent(testutil.NewTickFailedEvent(1, "refused", testutil.WithJobID("b"))))
	require.NoError(t, repo.AppendEvent(testutil.NewTickStartedEvent(2, time.Second, testutil.WithJobID("a"))))

	events, err := repo.RecentEvents(10, "b")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TickFailed, events[0].EventType)
	assert.Equal(t, "refused", events[0].GetStringOr("error", ""))

	events, err = repo.RecentEvents(10, "missing")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRepository_RecentEvents_InvalidLimit(t *testing.T) {
	repo := setupTestDB(t)
	_, err := repo.RecentEvents(0, "")
	assert.Error(t, err)
}

func TestRepository_AppendEvent_NilData(t *testing.T) {
	repo := setupTestDB(t)
	require.NoError(t, repo.AppendEvent(domain.Event{JobID: "x", EventType: domain.AbortRequested}))

	events, err := repo.RecentEvents(1, "x")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].EventData)
	assert.False(t, events[0].CreatedAt.IsZero(), "missing timestamps are filled in")
}

// =============================================================================
// Maintenance tests
// =============================================================================

func TestRepository_PruneEvents(t *testing.T) {
	repo := setupTestDB(t)
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.AppendEvent(testutil.NewTickStartedEvent(1, 0, testutil.WithCreatedAt(now.Add(-48*time.Hour)))))
	require.NoError(t, repo.AppendEvent(testutil.NewTickStartedEvent(2, 0, testutil.WithCreatedAt(now.Add(-time.Hour)))))
	// A non-UTC timestamp is compared by instant, not by wall clock
	tokyo := time.FixedZone("JST", 9*3600)
	require.NoError(t, repo.AppendEvent(testutil.NewTickStartedEvent(3, 0, testutil.WithCreatedAt(now.Add(-30*time.Minute).In(tokyo)))))

	pruned, err := repo.PruneEvents(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	n, err := repo.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRepository_RunMaintenance(t *testing.T) {
	repo := setupTestDB(t)
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.AppendEvent(testutil.NewTickStartedEvent(1, 0, testutil.WithCreatedAt(now.Add(-10*24*time.Hour)))))
	require.NoError(t, repo.AppendEvent(testutil.NewTickStartedEvent(2, 0, testutil.WithCreatedAt(now))))

	// Zero retention keeps everything
	require.NoError(t, repo.RunMaintenance(0, now))
	n, _ := repo.CountEvents()
	assert.Equal(t, int64(2), n)

	require.NoError(t, repo.RunMaintenance(7*24*time.Hour, now))
	n, _ = repo.CountEvents()
	assert.Equal(t, int64(1), n)
}

func TestRepository_Stats(t *testing.T) {
	repo := setupTestDB(t)
	require.NoError(t, repo.AppendEvent(testutil.NewJobAddedEvent("http", time.Second)))

	stats, err := repo.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["events"])
	assert.Equal(t, "wal", stats["journal_mode"])
	assert.Greater(t, stats["size_bytes"].(int64), int64(0))
}
