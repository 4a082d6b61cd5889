package mysql

import (
	"context"
	"io"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ruslano69/mysqlwriter/pkg/failure"
)

// readerHandlerPrefix - префикс имени файла для зарегистрированного io.Reader
const readerHandlerPrefix = "Reader::"

// File - CSV файл таблицы. Reader возвращает поток с первой строки (заголовка).
type File interface {
	Name() string
	Header() []string
	Reader() io.Reader
}

// ColumnInfo - строка DESCRIBE
type ColumnInfo struct {
	Field   string `json:"field"`
	Type    string `json:"type"`
	Null    string `json:"null"`
	Key     string `json:"key"`
	Default string `json:"default"`
	Extra   string `json:"extra"`
}

// session - операции Conn, которые использует Writer
type session interface {
	Exec(ctx context.Context, query string) error
	FetchAll(ctx context.Context, query string) ([]map[string]string, error)
	Charset() string
}

// Writer выполняет операции загрузки над одной сессией
type Writer struct {
	conn    session
	builder *QueryBuilder
	logger  zerolog.Logger

	// handlerName генерирует имя Reader:: обработчика для LOAD DATA
	handlerName func() string
}

// NewWriter создает Writer поверх открытой сессии
func NewWriter(conn *Conn, logger zerolog.Logger) *Writer {
	return newWriter(conn, logger)
}

func newWriter(conn session, logger zerolog.Logger) *Writer {
	return &Writer{
		conn:    conn,
		builder: NewQueryBuilder(conn.Charset()),
		logger:  logger,
		handlerName: func() string {
			return "mysqlwriter_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
}

// Builder возвращает builder запросов writer'а
func (w *Writer) Builder() *QueryBuilder {
	return w.builder
}

// Create создает таблицу
func (w *Writer) Create(ctx context.Context, t Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return w.conn.Exec(ctx, w.builder.CreateTable(t))
}

// Drop удаляет таблицу; отсутствие таблицы не ошибка
func (w *Writer) Drop(ctx context.Context, name string) error {
	return w.conn.Exec(ctx, w.builder.DropTable(name))
}

// Truncate очищает таблицу
func (w *Writer) Truncate(ctx context.Context, name string) error {
	return w.conn.Exec(ctx, w.builder.TruncateTable(name))
}

// Write загружает файл в таблицу t через LOAD DATA LOCAL INFILE.
// Предупреждения сервера (усечение, переполнение) логируются и не прерывают загрузку.
func (w *Writer) Write(ctx context.Context, f File, t Table) error {
	handler := w.handlerName()

	stmt, err := w.builder.LoadData(t, f.Header(), readerHandlerPrefix+handler)
	if err != nil {
		return err
	}

	mysql.RegisterReaderHandler(handler, func() io.Reader { return f.Reader() })
	defer mysql.DeregisterReaderHandler(handler)

	w.logger.Info().
		Str("table", t.Name).
		Str("file", f.Name()).
		Int("variables", len(stmt.Variables)).
		Msgf("Loading data into table %q", t.Name)

	return w.conn.Exec(ctx, stmt.SQL)
}

// Upsert переносит данные из временной таблицы в dest и удаляет временную таблицу
func (w *Writer) Upsert(ctx context.Context, staging Table, dest string) error {
	w.logger.Info().Str("table", dest).Msgf("Upserting data into table %q", dest)

	if staging.HasPrimaryKey() {
		if err := w.CheckPrimaryKey(ctx, staging.PrimaryKey, dest); err != nil {
			return err
		}
	}

	if err := w.conn.Exec(ctx, w.builder.Upsert(staging, dest)); err != nil {
		return err
	}

	if err := w.Drop(ctx, staging.Name); err != nil {
		return err
	}

	w.logger.Info().Str("table", dest).Msgf("Upserted data into table %q", dest)
	return nil
}

// CheckPrimaryKey сравнивает primary key из конфигурации с ключом таблицы.
// Порядок колонок не важен.
func (w *Writer) CheckPrimaryKey(ctx context.Context, configured []string, dest string) error {
	actual, err := w.PrimaryKeys(ctx, dest)
	if err != nil {
		return err
	}

	want := slices.Clone(configured)
	sort.Strings(want)
	sort.Strings(actual)

	if !slices.Equal(want, actual) {
		return failure.KeyMismatch(want, actual)
	}
	return nil
}

// PrimaryKeys возвращает колонки primary key таблицы
func (w *Writer) PrimaryKeys(ctx context.Context, name string) ([]string, error) {
	rows, err := w.conn.FetchAll(ctx, w.builder.PrimaryKeys(name))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r["Column_name"])
	}
	return keys, nil
}

// TableExists проверяет наличие таблицы в текущей базе
func (w *Writer) TableExists(ctx context.Context, name string) (bool, error) {
	rows, err := w.conn.FetchAll(ctx, w.builder.TableExists(name))
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	for _, v := range rows[0] {
		n, err := strconv.Atoi(v)
		if err != nil {
			return false, failure.Internal(err, "unexpected table count %q", v)
		}
		return n > 0, nil
	}
	return false, nil
}

// Describe возвращает колонки таблицы
func (w *Writer) Describe(ctx context.Context, name string) ([]ColumnInfo, error) {
	rows, err := w.conn.FetchAll(ctx, w.builder.Describe(name))
	if err != nil {
		return nil, err
	}
	cols := make([]ColumnInfo, len(rows))
	for i, r := range rows {
		cols[i] = ColumnInfo{
			Field:   r["Field"],
			Type:    r["Type"],
			Null:    r["Null"],
			Key:     r["Key"],
			Default: r["Default"],
			Extra:   r["Extra"],
		}
	}
	return cols, nil
}

// ValidateTable проверяет, что все колонки конфигурации есть в таблице
func (w *Writer) ValidateTable(ctx context.Context, t Table) error {
	existing, err := w.Describe(ctx, t.Name)
	if err != nil {
		return err
	}

	fields := make(map[string]bool, len(existing))
	for _, c := range existing {
		fields[strings.ToLower(c.Field)] = true
	}

	var missing []string
	for _, name := range t.ColumnNames() {
		if !fields[strings.ToLower(name)] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return failure.Configf("Columns %s are missing in table '%s'", strings.Join(missing, ", "), t.Name)
	}
	return nil
}

// ShowTables возвращает имена таблиц текущей базы
func (w *Writer) ShowTables(ctx context.Context) ([]string, error) {
	rows, err := w.conn.FetchAll(ctx, w.builder.ShowTables())
	if err != nil {
		return nil, err
	}
	tables := make([]string, 0, len(rows))
	for _, r := range rows {
		for _, v := range r {
			tables = append(tables, v)
		}
	}
	sort.Strings(tables)
	return tables, nil
}

// TestConnection выполняет простой запрос
func (w *Writer) TestConnection(ctx context.Context) error {
	_, err := w.conn.FetchAll(ctx, "SELECT NOW()")
	return err
}
