package datarecording

import (
	"database/sql"
	"fmt"
)

// A DataReader reads back what a DataRecorder wrote.
type DataReader interface {
	// ListTables returns the names of the tables in the database.
	ListTables() ([]string, error)

	// Count returns the number of rows of a table.
	Count(tableName string) (int, error)

	// GroupCount counts the rows of a table by the value of a column.
	GroupCount(tableName, column string) (map[string]int, error)

	// Close closes the reader.
	Close() error
}

type sqliteReader struct {
	*sql.DB
}

// NewReader opens a recording. The name includes the file extension.
func NewReader(dbFilename string) (DataReader, error) {
	db, err := sql.Open("sqlite3", "file:"+dbFilename+"?mode=ro")
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open recording %s: %w", dbFilename, err)
	}

	return &sqliteReader{DB: db}, nil
}

// NewReaderWithDB creates a new DataReader with a given database.
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{DB: db}
}

func (r *sqliteReader) ListTables() ([]string, error) {
	rows, err := r.Query(
		"SELECT name FROM sqlite_master WHERE type='table' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string

		err = rows.Scan(&name)
		if err != nil {
			return nil, err
		}

		tables = append(tables, name)
	}

	return tables, rows.Err()
}

func (r *sqliteReader) Count(tableName string) (int, error) {
	var n int

	err := r.QueryRow("SELECT COUNT(*) FROM " + tableName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", tableName, err)
	}

	return n, nil
}

func (r *sqliteReader) GroupCount(
	tableName, column string,
) (map[string]int, error) {
	rows, err := r.Query(fmt.Sprintf(
		"SELECT %s, COUNT(*) FROM %s GROUP BY %s", column, tableName, column))
	if err != nil {
		return nil, fmt.Errorf("group %s by %s: %w", tableName, column, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			key string
			n   int
		)

		err = rows.Scan(&key, &n)
		if err != nil {
			return nil, err
		}

		counts[key] = n
	}

	return counts, rows.Err()
}
