package sqlite

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
)

// newTestDB opens a migrated in-memory database for a single test.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	require.NoError(t, MigrateUp(db))
	return db
}

// createTestProject inserts a project and returns it. Tasks and images
// reference projects, so most tests need one.
func createTestProject(t *testing.T, db *sql.DB, id string) *domain.Project {
	t.Helper()

	project, err := domain.NewProject(id, "Test project "+id)
	require.NoError(t, err)

	projects := NewProjectStore(db, nil)
	require.NoError(t, projects.Create(context.Background(), project))
	return project
}
