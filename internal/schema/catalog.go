// Package schema loads and serves the catalog of queryable tables and
// columns. The catalog is loaded once at startup and is immutable
// afterwards, so it is safe to share across concurrent pipeline runs.
package schema

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/logging"
)

// LoadError indicates the schema source was unreachable or empty.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("schema load failed for %q: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ColumnDescriptor describes a single queryable column.
type ColumnDescriptor struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// TableDescriptor describes a queryable table with its ordered columns.
type TableDescriptor struct {
	Name    string             `json:"name"`
	Columns []ColumnDescriptor `json:"columns"`
}

// Catalog is the read-only set of tables available to the translator and
// the guard.
type Catalog struct {
	tables      []TableDescriptor
	columnsOf   map[string]map[string]bool
	columnNames map[string]bool
	fingerprint string
}

// Load introspects the SQLite database at path and builds the catalog.
// Returns a LoadError if the database is unreachable or contains no tables.
func Load(path string) (*Catalog, error) {
	timer := logging.StartTimer(logging.CategoryCatalog, "Load")
	defer timer.Stop()

	if _, err := os.Stat(path); err != nil {
		logging.CatalogError("database not found at %s: %v", path, err)
		return nil, &LoadError{Source: path, Err: err}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	defer db.Close()

	rows, err := db.Query(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &LoadError{Source: path, Err: err}
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	if len(names) == 0 {
		return nil, &LoadError{Source: path, Err: fmt.Errorf("database contains no tables")}
	}

	cat := &Catalog{
		columnsOf:   make(map[string]map[string]bool),
		columnNames: make(map[string]bool),
	}

	for _, name := range names {
		table, err := describeTable(db, name)
		if err != nil {
			return nil, &LoadError{Source: path, Err: err}
		}
		cat.tables = append(cat.tables, table)

		cols := make(map[string]bool, len(table.Columns))
		for _, c := range table.Columns {
			cols[strings.ToLower(c.Name)] = true
			cat.columnNames[strings.ToLower(c.Name)] = true
		}
		cat.columnsOf[strings.ToLower(name)] = cols
	}

	cat.fingerprint = fingerprintTables(cat.tables)
	logging.Catalog("loaded %d tables from %s (fingerprint %s)", len(cat.tables), path, cat.fingerprint[:12])
	return cat, nil
}

func describeTable(db *sql.DB, name string) (TableDescriptor, error) {
	table := TableDescriptor{Name: name}

	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%q)`, name))
	if err != nil {
		return table, fmt.Errorf("table_info(%s): %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			colName string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return table, fmt.Errorf("table_info(%s): %w", name, err)
		}
		table.Columns = append(table.Columns, ColumnDescriptor{
			Name:     colName,
			Type:     strings.ToUpper(colType),
			Nullable: notNull == 0 && pk == 0,
		})
	}
	return table, rows.Err()
}

func fingerprintTables(tables []TableDescriptor) string {
	h := sha256.New()
	for _, t := range tables {
		fmt.Fprintf(h, "%s(", t.Name)
		for _, c := range t.Columns {
			fmt.Fprintf(h, "%s %s %t,", c.Name, c.Type, c.Nullable)
		}
		fmt.Fprint(h, ")\n")
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Describe returns the ordered table descriptors.
func (c *Catalog) Describe() []TableDescriptor {
	return c.tables
}

// HasTable reports whether the catalog contains the named table.
// Matching is case-insensitive, as in SQLite itself.
func (c *Catalog) HasTable(name string) bool {
	_, ok := c.columnsOf[strings.ToLower(name)]
	return ok
}

// HasColumn reports whether the named table contains the named column.
func (c *Catalog) HasColumn(table, column string) bool {
	cols, ok := c.columnsOf[strings.ToLower(table)]
	if !ok {
		return false
	}
	return cols[strings.ToLower(column)]
}

// KnownIdentifier reports whether name is any catalog table or column.
func (c *Catalog) KnownIdentifier(name string) bool {
	lower := strings.ToLower(name)
	if _, ok := c.columnsOf[lower]; ok {
		return true
	}
	return c.columnNames[lower]
}

// Fingerprint identifies this catalog version; statements certified by the
// guard are stamped with it.
func (c *Catalog) Fingerprint() string {
	return c.fingerprint
}

// PromptDDL renders the catalog as CREATE TABLE text for embedding in the
// translation prompt.
func (c *Catalog) PromptDDL() string {
	var b strings.Builder
	for _, t := range c.tables {
		fmt.Fprintf(&b, "CREATE TABLE %s (\n", t.Name)
		for i, col := range t.Columns {
			fmt.Fprintf(&b, "  %s %s", col.Name, col.Type)
			if !col.Nullable {
				b.WriteString(" NOT NULL")
			}
			if i < len(t.Columns)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString(");\n")
	}
	return b.String()
}

// TableNames returns the sorted table names, mostly for error messages.
func (c *Catalog) TableNames() []string {
	names := make([]string, 0, len(c.tables))
	for _, t := range c.tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}
