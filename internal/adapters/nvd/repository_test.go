package nvd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seccorpus/certmap/internal/core/domain"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nvd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func writeFeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCVEFeed(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	path := writeFeed(t, `[
		{
			"cve_id": "CVE-2021-1111",
			"published_date": "2021-05-01",
			"cvss": 7.5,
			"vulnerable_cpes": ["cpe:2.3:a:acme:x:1.0:*:*:*:*:*:*:*"],
			"vulnerable_criteria_configurations": [
				[
					{"vulnerable": true, "criteria": "cpe:2.3:a:acme:x:*:*:*:*:*:*:*:*", "criteria_id": "crit-a",
					 "version_end": {"including": false, "version": "2.0"}}
				]
			]
		},
		{"cve_id": "CVE-2020-0001", "cvss": 2.1, "vulnerable_cpes": []}
	]`)
	require.NoError(t, db.LoadCVEFeed(ctx, path))

	repo := NewCVERepository(db)
	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cves, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, cves, 2)

	// Ordered by id.
	assert.Equal(t, "CVE-2020-0001", cves[0].ID)

	got := cves[1]
	assert.Equal(t, 7.5, got.CVSS)
	assert.Equal(t, []string{"cpe:2.3:a:acme:x:1.0:*:*:*:*:*:*:*"}, got.VulnerableCPEs)
	require.Len(t, got.Configurations, 1)
	require.Len(t, got.Configurations[0].Criteria, 1)
	crit := got.Configurations[0].Criteria[0][0]
	assert.Equal(t, "crit-a", crit.CriteriaID)
	require.NotNil(t, crit.VersionEnd)
	assert.Equal(t, "2.0", crit.VersionEnd.Version)
	assert.False(t, crit.VersionEnd.Including)

	// Reloading upserts instead of duplicating.
	require.NoError(t, db.LoadCVEFeed(ctx, path))
	n, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLoadCPEFeedSkipsMalformed(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	path := writeFeed(t, `[
		{"cpeNameId": "id-1", "cpeName": "cpe:2.3:a:acme:foobar:2.1:*:*:*:*:*:*:*",
		 "titles": [{"title": "Acme FooBar 2.1", "lang": "en"}, {"title": "x", "lang": "ja"}]},
		{"cpeNameId": "id-2", "cpeName": "not-a-cpe"}
	]`)
	require.NoError(t, db.LoadCPEFeed(ctx, path))

	repo := NewCPERepository(db)
	cpes, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, cpes, 1)
	assert.Equal(t, "acme", cpes[0].Vendor)
	assert.Equal(t, "foobar", cpes[0].ItemName)
	assert.Equal(t, "2.1", cpes[0].Version)
	assert.Equal(t, "Acme FooBar 2.1", cpes[0].Title)
}

func TestMatchStringExpand(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	path := writeFeed(t, `[
		{"criteria_id": "crit-a", "matches": [
			{"cpeName": "cpe:2.3:a:acme:x:1.0:*:*:*:*:*:*:*"},
			{"cpeName": "cpe:2.3:a:acme:x:1.1:*:*:*:*:*:*:*"}
		]}
	]`)
	require.NoError(t, db.LoadMatchFeed(ctx, path))

	repo := NewMatchStringRepository(db)
	uris, err := repo.Expand(ctx, "crit-a")
	require.NoError(t, err)
	assert.Len(t, uris, 2)

	_, err = repo.Expand(ctx, "crit-missing")
	var missing *domain.MissingExpansionError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "crit-missing", missing.CriteriaID)
}

func TestSyncStatusBookkeeping(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.LoadMatchFeed(ctx, writeFeed(t, `[]`)))

	// A failed import records the error against the feed.
	err := db.LoadCVEFeed(ctx, filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	statuses, err := db.SyncStatuses()
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byFeed := make(map[string]SyncStatus, len(statuses))
	for _, s := range statuses {
		byFeed[s.Feed] = s
	}
	assert.NotEmpty(t, byFeed[FeedCVE].Error)
	assert.Empty(t, byFeed[FeedMatch].Error)
	assert.False(t, byFeed[FeedMatch].LastSync.IsZero())
}
