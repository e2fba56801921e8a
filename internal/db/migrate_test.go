package db

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_SortsAndSkips(t *testing.T) {
	fsys := fstest.MapFS{
		"010_events.sql":   {Data: []byte("CREATE TABLE b ();")},
		"002_schedule.sql": {Data: []byte("CREATE TABLE a ();")},
		"README.md":        {Data: []byte("docs")},
		"notes.sql":        {Data: []byte("-- no version")},
		"abc_bad.sql":      {Data: []byte("-- bad prefix")},
	}

	migrations, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 2, migrations[0].Version)
	assert.Equal(t, "002_schedule.sql", migrations[0].Name)
	assert.Equal(t, "CREATE TABLE a ();", migrations[0].SQL)
	assert.Equal(t, 10, migrations[1].Version)
}

func TestEmbeddedMigrations(t *testing.T) {
	sub, err := fs.Sub(migrationFiles, "migrations")
	require.NoError(t, err)

	migrations, err := LoadMigrations(sub)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Contains(t, migrations[0].SQL, "appointments_no_overlap")
	assert.Contains(t, migrations[0].SQL, "WHERE (status = 'scheduled')")
}
