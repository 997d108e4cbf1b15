// Package datarecording stores flat structs into SQLite tables.
package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DataRecorder is a backend that can record and store data. It is safe for
// concurrent use.
type DataRecorder interface {
	// CreateTable creates a new table whose columns are the fields of
	// sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry for a table that already exists.
	InsertData(tableName string, entry any)

	// ListTables returns the names of all tables.
	ListTables() []string

	// Flush writes all the buffered entries into the database.
	Flush()

	// Close flushes and closes the database.
	Close() error
}

const defaultBatchSize = 100000

// New creates a DataRecorder that writes to path.sqlite3. An empty path gets
// a unique name. Buffered entries are flushed when the program exits through
// atexit.
func New(path string) DataRecorder {
	if path == "" {
		path = "vmcore_recording_" + xid.New().String()
	}

	filename := path + ".sqlite3"

	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", filename)

	return NewWithDB(db)
}

// NewWithDB creates a new DataRecorder with a given database.
func NewWithDB(db *sql.DB) DataRecorder {
	r := &sqliteRecorder{
		db:        db,
		batchSize: defaultBatchSize,
		tables:    make(map[string]*table),
	}

	atexit.Register(r.Flush)

	return r
}

type table struct {
	name       string
	structType reflect.Type
	insertSQL  string
	pending    [][]any
}

type sqliteRecorder struct {
	lock      sync.Mutex
	db        *sql.DB
	tables    map[string]*table
	order     []string
	batchSize int
	pending   int
	closed    bool
}

// columnType maps a field kind to the SQLite storage class.
func columnType(kind reflect.Kind) (string, bool) {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64:
		return "INTEGER", true
	case reflect.Float32, reflect.Float64:
		return "REAL", true
	case reflect.String:
		return "TEXT", true
	default:
		return "", false
	}
}

func columns(sampleEntry any) []string {
	if !structs.IsStruct(sampleEntry) {
		panic(fmt.Sprintf("cannot record %T, only structs", sampleEntry))
	}

	cols := []string{}
	for _, field := range structs.Fields(sampleEntry) {
		if !field.IsExported() {
			continue
		}

		kind := field.Kind()

		sqlType, ok := columnType(kind)
		if !ok {
			panic(fmt.Sprintf("field %s of kind %s cannot be recorded",
				field.Name(), kind))
		}

		cols = append(cols, field.Name()+" "+sqlType)
	}

	return cols
}

func (r *sqliteRecorder) CreateTable(tableName string, sampleEntry any) {
	cols := columns(sampleEntry)

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, exists := r.tables[tableName]; exists {
		panic(fmt.Sprintf("table %s already exists", tableName))
	}

	r.mustExec(fmt.Sprintf("CREATE TABLE %s (\n\t%s\n);",
		tableName, strings.Join(cols, ",\n\t")))

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	r.tables[tableName] = &table{
		name:       tableName,
		structType: reflect.TypeOf(sampleEntry),
		insertSQL: fmt.Sprintf("INSERT INTO %s VALUES (%s)",
			tableName, placeholders),
	}
	r.order = append(r.order, tableName)
}

func (r *sqliteRecorder) InsertData(tableName string, entry any) {
	r.lock.Lock()
	defer r.lock.Unlock()

	t, exists := r.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != t.structType {
		panic(fmt.Sprintf("entry of type %T does not fit table %s",
			entry, tableName))
	}

	t.pending = append(t.pending, structs.Values(entry))

	r.pending++
	if r.pending >= r.batchSize {
		r.flush()
	}
}

func (r *sqliteRecorder) ListTables() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	return append([]string(nil), r.order...)
}

func (r *sqliteRecorder) Flush() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.flush()
}

func (r *sqliteRecorder) flush() {
	if r.pending == 0 || r.closed {
		return
	}

	tx, err := r.db.Begin()
	if err != nil {
		panic(err)
	}

	for _, name := range r.order {
		err = r.flushTable(tx, r.tables[name])
		if err != nil {
			_ = tx.Rollback()
			panic(err)
		}
	}

	err = tx.Commit()
	if err != nil {
		panic(err)
	}

	r.pending = 0
}

func (r *sqliteRecorder) flushTable(tx *sql.Tx, t *table) error {
	if len(t.pending) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(t.insertSQL)
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", t.name, err)
	}
	defer stmt.Close()

	for _, values := range t.pending {
		_, err = stmt.Exec(values...)
		if err != nil {
			return fmt.Errorf("insert into %s: %w", t.name, err)
		}
	}

	t.pending = nil

	return nil
}

func (r *sqliteRecorder) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		return nil
	}

	r.flush()
	r.closed = true

	return r.db.Close()
}

func (r *sqliteRecorder) mustExec(query string) {
	_, err := r.db.Exec(query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute: %s\n", query)
		panic(err)
	}
}
