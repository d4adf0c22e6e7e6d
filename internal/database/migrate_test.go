package database

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZerkerEOD/krakenwifi/internal/db"
)

func TestSourceURL(t *testing.T) {
	url, err := SourceURL("db/migrations")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file:///"))
	assert.True(t, strings.HasSuffix(url, filepath.ToSlash(filepath.Join("db", "migrations"))))
}

func TestRunMigrationsRejectsUnknownDirection(t *testing.T) {
	err := RunMigrations(db.Config{Host: "127.0.0.1", Port: 1, SSLMode: "disable"}, t.TempDir(), Direction("sideways"))
	require.Error(t, err)
}

func TestConfigURL(t *testing.T) {
	cfg := db.Config{Host: "db", Port: 5432, User: "kw", Password: "pw", DBName: "krakenwifi", SSLMode: "disable"}
	assert.Equal(t, "postgres://kw:pw@db:5432/krakenwifi?sslmode=disable", cfg.URL())
	assert.Contains(t, cfg.DSN(), "dbname=krakenwifi")
}
