package store

import (
	"database/sql/driver"
	"io/fs"
	"testing"

	"github.com/doug-martin/goqu/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextArray(t *testing.T) {
	tests := []struct {
		name  string
		value textArray
		want  string
	}{
		{"nil", nil, "{}"},
		{"empty", textArray{}, "{}"},
		{"plain", textArray{"agile", "patterns"}, "{agile,patterns}"},
		{"needs quoting", textArray{"science fiction", "a,b"}, `{"science fiction","a,b"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := tt.value.Value()
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestInsertBookQuery(t *testing.T) {
	p := &Postgres{builder: newBuilder()}

	query, args, err := p.builder.Insert(tableBooks).
		Rows(goqu.Record{colGenres: textArray{"agile", "design"}}).
		Prepared(true).
		ToSQL()
	require.NoError(t, err)

	assert.Equal(t, `INSERT INTO "books" ("genres") VALUES ($1)`, query)
	require.Len(t, args, 1)
	arg := args[0]
	if valuer, ok := arg.(driver.Valuer); ok {
		arg, err = valuer.Value()
		require.NoError(t, err)
	}
	assert.Equal(t, "{agile,design}", arg)
}

func TestMigrations(t *testing.T) {
	migrations, err := fs.Sub(migrationFS, "migrations")
	require.NoError(t, err)

	names, err := fs.Glob(migrations, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_create_catalog.sql", names[0])

	b, err := fs.ReadFile(migrations, names[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), "---- create above / drop below ----")
}
