package schema

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func createTestDB(t *testing.T, ddl ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	for _, stmt := range ddl {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())
	return path
}

func salesDB(t *testing.T) string {
	t.Helper()
	return createTestDB(t,
		`CREATE TABLE customers (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			state TEXT NOT NULL,
			verified BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE products (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT,
			price REAL NOT NULL
		)`,
	)
}

func TestLoad(t *testing.T) {
	catalog, err := Load(salesDB(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"customers", "products"}, catalog.TableNames())
	assert.True(t, catalog.HasTable("customers"))
	assert.False(t, catalog.HasTable("orders"))

	assert.True(t, catalog.HasColumn("customers", "email"))
	assert.True(t, catalog.HasColumn("products", "price"))
	assert.False(t, catalog.HasColumn("customers", "price"))
	assert.False(t, catalog.HasColumn("orders", "id"))
}

func TestLoad_ColumnDescriptors(t *testing.T) {
	catalog, err := Load(salesDB(t))
	require.NoError(t, err)

	var products TableDescriptor
	for _, table := range catalog.Describe() {
		if table.Name == "products" {
			products = table
		}
	}
	require.Equal(t, "products", products.Name)
	require.Len(t, products.Columns, 4)

	byName := make(map[string]ColumnDescriptor)
	for _, col := range products.Columns {
		byName[col.Name] = col
	}
	assert.Equal(t, "REAL", byName["price"].Type)
	assert.False(t, byName["price"].Nullable)
	assert.True(t, byName["category"].Nullable)
	assert.False(t, byName["id"].Nullable, "primary keys are not nullable")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.db"))

	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
}

func TestLoad_EmptyDatabase(t *testing.T) {
	_, err := Load(createTestDB(t))

	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Contains(t, lerr.Error(), "no tables")
}

func TestKnownIdentifier(t *testing.T) {
	catalog, err := Load(salesDB(t))
	require.NoError(t, err)

	assert.True(t, catalog.KnownIdentifier("customers"))
	assert.True(t, catalog.KnownIdentifier("email"))
	assert.True(t, catalog.KnownIdentifier("price"))
	assert.False(t, catalog.KnownIdentifier("sqlite_master"))
	assert.False(t, catalog.KnownIdentifier("password"))
}

func TestFingerprint(t *testing.T) {
	path := salesDB(t)

	first, err := Load(path)
	require.NoError(t, err)
	second, err := Load(path)
	require.NoError(t, err)

	assert.Len(t, first.Fingerprint(), 64)
	assert.Equal(t, first.Fingerprint(), second.Fingerprint(),
		"fingerprint must be stable for an unchanged schema")

	other, err := Load(createTestDB(t, `CREATE TABLE customers (id INTEGER PRIMARY KEY)`))
	require.NoError(t, err)
	assert.NotEqual(t, first.Fingerprint(), other.Fingerprint())
}

func TestPromptDDL(t *testing.T) {
	catalog, err := Load(salesDB(t))
	require.NoError(t, err)

	ddl := catalog.PromptDDL()
	assert.Contains(t, ddl, "CREATE TABLE customers")
	assert.Contains(t, ddl, "CREATE TABLE products")
	assert.Contains(t, ddl, "price REAL NOT NULL")
	assert.Contains(t, ddl, "category TEXT")
}
