package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSNDefaults(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User: "campusgate",
		Name: "campusgate",
	})
	require.NoError(t, err)
	require.Equal(t,
		"host=localhost port=5432 user=campusgate dbname=campusgate application_name=campusgate sslmode=disable",
		dsn)
}

func TestBuildPostgresDSNWithOptions(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "user",
		Name:     "db",
		Host:     "db.example.com",
		Port:     6543,
		Password: "pass",
		Options: map[string]string{
			"sslmode":     "require",
			"search_path": "public",
		},
	})
	require.NoError(t, err)
	for _, part := range []string{
		"host=db.example.com", "port=6543", "user=user", "dbname=db",
		"password=pass", "sslmode=require", "search_path=public",
	} {
		require.Contains(t, dsn, part)
	}
}

func TestBuildPostgresDSNRequiresUserAndName(t *testing.T) {
	_, err := buildPostgresDSN(Config{})
	require.Error(t, err)
}

func TestBuildPostgresDSNPassthrough(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{DSN: "host=elsewhere dbname=x"})
	require.NoError(t, err)
	require.Equal(t, "host=elsewhere dbname=x", dsn)
}

func TestBuildMySQLDSNDefaults(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User: "campusgate",
		Name: "campusgate",
	})
	require.NoError(t, err)
	require.Equal(t,
		"campusgate@tcp(127.0.0.1:3306)/campusgate?charset=utf8mb4&loc=Local&parseTime=True",
		dsn)
}

func TestBuildMySQLDSNWithOptions(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:     "user",
		Password: "secret",
		Name:     "db",
		Host:     "db.example.com",
		Port:     3307,
		Options: map[string]string{
			"tls": "skip-verify",
		},
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "user:secret@tcp(db.example.com:3307)/db?")
	for _, part := range []string{"charset=utf8mb4", "loc=Local", "parseTime=True", "tls=skip-verify"} {
		require.Contains(t, dsn, part)
	}
}

func TestBuildMySQLDSNRequiresUserAndName(t *testing.T) {
	_, err := buildMySQLDSN(Config{Host: "localhost"})
	require.Error(t, err)
}

func TestSQLiteDSNForPath(t *testing.T) {
	dsn, err := sqliteDSNForPath("")
	require.NoError(t, err)
	require.Equal(t, "file::memory:?cache=shared&_foreign_keys=1", dsn)

	dsn, err = sqliteDSNForPath(":memory:")
	require.NoError(t, err)
	require.Equal(t, "file::memory:?cache=shared&_foreign_keys=1", dsn)

	dir := t.TempDir()
	dsn, err = sqliteDSNForPath(dir + "/nested/campusgate.sqlite")
	require.NoError(t, err)
	require.Contains(t, dsn, "_journal_mode=WAL")
	require.Contains(t, dsn, "_busy_timeout=5000")
	require.DirExists(t, dir+"/nested")
}
