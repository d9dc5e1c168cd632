// Package seed builds the sample SQLite database the pipeline is usually
// demoed against: customers, products and purchases with reproducible fake
// data.
package seed

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	_ "modernc.org/sqlite"

	"github.com/Y4ser15/NL-SQL-PDF-report-flow/internal/logging"
)

// Options controls how much data to generate.
type Options struct {
	Customers int
	Products  int
	Purchases int
	Seed      int64
}

// DefaultOptions mirror the original sample dataset sizes.
func DefaultOptions() Options {
	return Options{
		Customers: 50000,
		Products:  5000,
		Purchases: 300000,
		Seed:      42,
	}
}

var usStates = []string{"CA", "TX", "FL", "NY", "PA", "IL", "OH", "GA", "NC", "MI"}

var categories = []string{"Electronics", "Clothing", "Books", "Home", "Sports", "Beauty", "Toys"}

const batchSize = 10000

// Create generates the sample database at path, replacing any existing
// tables. The same seed always produces the same data.
func Create(path string, opts Options) error {
	timer := logging.StartTimer(logging.CategorySeed, "Create")
	defer timer.StopWithInfo()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	faker := gofakeit.New(opts.Seed)

	if err := createTables(db); err != nil {
		return err
	}
	logging.Seed("tables created at %s", path)

	if err := insertCustomers(db, faker, opts.Customers); err != nil {
		return err
	}
	logging.Seed("inserted %d customers", opts.Customers)

	if err := insertProducts(db, faker, opts.Products); err != nil {
		return err
	}
	logging.Seed("inserted %d products", opts.Products)

	if err := insertPurchases(db, faker, opts); err != nil {
		return err
	}
	logging.Seed("inserted %d purchases", opts.Purchases)

	return createIndexes(db)
}

func createTables(db *sql.DB) error {
	statements := []string{
		`DROP TABLE IF EXISTS purchases`,
		`DROP TABLE IF EXISTS products`,
		`DROP TABLE IF EXISTS customers`,
		`CREATE TABLE customers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			state TEXT NOT NULL,
			verified BOOLEAN NOT NULL
		)`,
		`CREATE TABLE products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			category TEXT NOT NULL,
			price REAL NOT NULL
		)`,
		`CREATE TABLE purchases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id INTEGER NOT NULL,
			product_id INTEGER NOT NULL,
			quantity INTEGER NOT NULL,
			purchase_date DATE NOT NULL,
			total_amount REAL NOT NULL,
			FOREIGN KEY (customer_id) REFERENCES customers (id),
			FOREIGN KEY (product_id) REFERENCES products (id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

func createIndexes(db *sql.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_customers_state ON customers(state)`,
		`CREATE INDEX IF NOT EXISTS idx_products_category ON products(category)`,
		`CREATE INDEX IF NOT EXISTS idx_purchases_customer_id ON purchases(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_purchases_date ON purchases(purchase_date)`,
	}
	for _, stmt := range indexes {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create indexes: %w", err)
		}
	}
	return nil
}

func insertCustomers(db *sql.DB, faker *gofakeit.Faker, count int) error {
	used := make(map[string]struct{}, count)

	return batched(db, count,
		`INSERT INTO customers (name, email, state, verified) VALUES (?, ?, ?, ?)`,
		func(i int) []any {
			email := faker.Email()
			if _, dup := used[email]; dup {
				email = fmt.Sprintf("%d.%s", i, email)
			}
			used[email] = struct{}{}
			return []any{
				faker.Name(),
				email,
				faker.RandomString(usStates),
				faker.Bool(),
			}
		})
}

func insertProducts(db *sql.DB, faker *gofakeit.Faker, count int) error {
	return batched(db, count,
		`INSERT INTO products (name, category, price) VALUES (?, ?, ?)`,
		func(i int) []any {
			return []any{
				faker.ProductName(),
				faker.RandomString(categories),
				faker.Price(5.99, 999.99),
			}
		})
}

func insertPurchases(db *sql.DB, faker *gofakeit.Faker, opts Options) error {
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(-2, 0, 0)

	return batched(db, opts.Purchases,
		`INSERT INTO purchases (customer_id, product_id, quantity, purchase_date, total_amount) VALUES (?, ?, ?, ?, ?)`,
		func(i int) []any {
			quantity := faker.Number(1, 5)
			price := faker.Price(5.99, 999.99)
			return []any{
				faker.Number(1, opts.Customers),
				faker.Number(1, opts.Products),
				quantity,
				faker.DateRange(start, end).Format("2006-01-02"),
				float64(quantity) * price,
			}
		})
}

// batched inserts count rows through a prepared statement, committing in
// chunks so large datasets do not hold one giant transaction.
func batched(db *sql.DB, count int, insert string, rowArgs func(i int) []any) error {
	for offset := 0; offset < count; offset += batchSize {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}
		stmt, err := tx.Prepare(insert)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("prepare insert: %w", err)
		}

		limit := offset + batchSize
		if limit > count {
			limit = count
		}
		for i := offset; i < limit; i++ {
			if _, err := stmt.Exec(rowArgs(i)...); err != nil {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("insert row %d: %w", i, err)
			}
		}

		stmt.Close()
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		logging.SeedDebug("committed rows %d..%d", offset, limit)
	}
	return nil
}
