package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteDSN(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"explicit dsn wins", Config{DSN: "file:custom.db", Path: "./data/campusync.sqlite"}, "file:custom.db"},
		{"file path defers to openSQLite", Config{Path: "./data/campusync.sqlite"}, ""},
		{"empty path is in-memory", Config{}, "file:campusync?mode=memory&cache=shared"},
		{"memory keyword", Config{Path: ":MEMORY:", Name: "device-a"}, "file:device-a?mode=memory&cache=shared"},
		{"name is trimmed", Config{Path: " :memory: ", Name: "  term-2 "}, "file:term-2?mode=memory&cache=shared"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, sqliteDSN(tc.cfg))
		})
	}
}

func TestBuildPostgresDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "campusync", Name: "campusync"})
	require.NoError(t, err)
	require.Equal(t, "host=localhost port=5432 user=campusync dbname=campusync sslmode=disable", dsn)

	dsn, err = buildPostgresDSN(Config{
		User:     "portal",
		Name:     "school_sync",
		Host:     "db.example.edu",
		Port:     5433,
		Password: "s3cret",
		Options: map[string]string{
			"sslmode":     "require",
			"search_path": "offline",
		},
	})
	require.NoError(t, err)
	for _, part := range []string{
		"host=db.example.edu",
		"port=5433",
		"user=portal",
		"dbname=school_sync",
		"password=s3cret",
		"sslmode=require",
		"search_path=offline",
	} {
		require.Contains(t, dsn, part)
	}

	dsn, err = buildPostgresDSN(Config{DSN: "postgres://portal@db.example.edu/school_sync"})
	require.NoError(t, err)
	require.Equal(t, "postgres://portal@db.example.edu/school_sync", dsn)

	_, err = buildPostgresDSN(Config{})
	require.Error(t, err)
	_, err = buildPostgresDSN(Config{User: "portal"})
	require.Error(t, err)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "campusync", Name: "campusync"})
	require.NoError(t, err)
	require.Equal(t, "campusync@tcp(127.0.0.1:3306)/campusync?charset=utf8mb4&loc=Local&parseTime=True", dsn)

	dsn, err = buildMySQLDSN(Config{
		User:     "portal",
		Password: "s3cret",
		Name:     "school_sync",
		Host:     "db.example.edu",
		Port:     3307,
		Options:  map[string]string{"tls": "skip-verify", "charset": "utf8"},
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "portal:s3cret@tcp(db.example.edu:3307)/school_sync?")
	require.Contains(t, dsn, "charset=utf8&")
	require.Contains(t, dsn, "parseTime=True")
	require.Contains(t, dsn, "tls=skip-verify")

	_, err = buildMySQLDSN(Config{Host: "localhost"})
	require.Error(t, err)
}
