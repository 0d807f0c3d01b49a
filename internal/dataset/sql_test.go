package dataset

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSQLRows(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE quotes (sym TEXT, price REAL, volume INTEGER);
		INSERT INTO quotes VALUES ('AAPL', 150, 1200);
		INSERT INTO quotes VALUES ('GOOG', NULL, 300);
	`)
	require.NoError(t, err)

	rows, err := db.Query("SELECT sym, price, volume FROM quotes ORDER BY sym")
	require.NoError(t, err)

	d, err := FromSQLRows(rows)
	require.NoError(t, err)

	assert.Equal(t, []string{"sym", "price", "volume"}, d.Columns)
	require.Equal(t, 2, d.Len())
	assert.Nil(t, d.Rows[1]["price"])

	records := d.Records()
	assert.Equal(t, Record{"sym": "AAPL", "price": "150", "volume": "1200"}, records[0])
	assert.Equal(t, Record{"sym": "GOOG", "price": "0", "volume": "300"}, records[1])
}

func TestFromSQLRows_NoRows(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query("SELECT 1 AS sym WHERE 1 = 0")
	require.NoError(t, err)

	d, err := FromSQLRows(rows)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Len())
	assert.Equal(t, []string{"sym"}, d.Columns)
}
