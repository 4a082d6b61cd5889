package mysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ruslano69/mysqlwriter/pkg/failure"
)

// Параметры разбора файла сервером
const (
	fieldsTerminatedBy = ","
	fieldsEnclosedBy   = `"`
	// dummyVariable принимает значения ignore колонок
	dummyVariable = "@dummy"
	// columnVariablePrefix + индекс колонки в конфигурации
	columnVariablePrefix = "@columnVar_"
)

// QueryBuilder строит текст запросов. Не обращается к БД.
type QueryBuilder struct {
	charset string
}

// NewQueryBuilder создает builder для кодировки сессии
func NewQueryBuilder(charset string) *QueryBuilder {
	return &QueryBuilder{charset: charset}
}

// Charset возвращает кодировку, используемую в DDL и LOAD DATA
func (b *QueryBuilder) Charset() string {
	return b.charset
}

// LoadStatement - запрос LOAD DATA и привязка колонок к переменным сессии
type LoadStatement struct {
	SQL string
	// Variables: DBName колонки -> переменная (@columnVar_N)
	Variables map[string]string
}

// CreateTable строит CREATE [TEMPORARY] TABLE
func (b *QueryBuilder) CreateTable(t Table) string {
	var defs []string

	for _, c := range t.Columns {
		if c.Ignored() {
			continue
		}

		typ := c.Type.SQL()
		if c.Size != "" {
			typ += "(" + c.Size + ")"
		}

		null := "NOT NULL"
		if c.Nullable {
			null = "NULL"
		}

		def := fmt.Sprintf("%s %s %s", QuoteIdentifier(c.DBName), typ, null)
		if c.DefaultValue() != "" && c.Type.AllowsDefault() {
			def += " DEFAULT " + QuoteLiteral(c.DefaultValue())
		}
		defs = append(defs, def)
	}

	if t.HasPrimaryKey() {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoteIdentifiers(t.PrimaryKey), ", ")))
	}

	temporary := ""
	if t.Temporary {
		temporary = "TEMPORARY "
	}

	return fmt.Sprintf("CREATE %sTABLE %s (%s) DEFAULT CHARSET=%s COLLATE %s_unicode_ci",
		temporary,
		QuoteIdentifier(t.Name),
		strings.Join(defs, ", "),
		b.charset,
		b.charset)
}

// DropTable строит DROP TABLE IF EXISTS
func (b *QueryBuilder) DropTable(name string) string {
	return "DROP TABLE IF EXISTS " + QuoteIdentifier(name)
}

// TruncateTable строит TRUNCATE TABLE
func (b *QueryBuilder) TruncateTable(name string) string {
	return "TRUNCATE TABLE " + QuoteIdentifier(name)
}

// LoadData строит LOAD DATA LOCAL INFILE для файла с заголовком header.
//
// Каждое поле заголовка (в порядке файла) отображается в:
//   - @dummy для ignore колонок;
//   - @columnVar_<i> для колонок с NULL/DEFAULT приведением и bit колонок;
//   - имя колонки таблицы для остальных;
//   - само имя из заголовка, если колонка не описана в конфигурации.
func (b *QueryBuilder) LoadData(t Table, header []string, infile string) (LoadStatement, error) {
	stmt := LoadStatement{Variables: make(map[string]string)}

	targets := make([]string, len(header))
	for i, field := range header {
		idx := columnIndexByName(t.Columns, field)
		if idx < 0 {
			targets[i] = QuoteIdentifier(field)
			continue
		}

		c := t.Columns[idx]
		switch {
		case c.Ignored():
			targets[i] = dummyVariable
		case c.needsVariable():
			variable := columnVariablePrefix + strconv.Itoa(idx)
			stmt.Variables[c.DBName] = variable
			targets[i] = variable
		default:
			targets[i] = QuoteIdentifier(c.DBName)
		}
	}

	var sets []string
	for _, c := range t.Columns {
		if !c.needsVariable() {
			continue
		}
		variable, ok := stmt.Variables[c.DBName]
		if !ok {
			return LoadStatement{}, failure.Configf("Column '%s' of table '%s' is missing in the file header", c.Name, t.Name)
		}
		sets = append(sets, setExpression(c, variable))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "LOAD DATA LOCAL INFILE %s INTO TABLE %s CHARACTER SET %s", QuoteLiteral(infile), QuoteIdentifier(t.Name), b.charset)
	fmt.Fprintf(&sb, " FIELDS TERMINATED BY %s OPTIONALLY ENCLOSED BY %s ESCAPED BY ''", QuoteLiteral(fieldsTerminatedBy), QuoteLiteral(fieldsEnclosedBy))
	fmt.Fprintf(&sb, " IGNORE 1 LINES (%s)", strings.Join(targets, ", "))
	if len(sets) > 0 {
		sb.WriteString(" SET ")
		sb.WriteString(strings.Join(sets, ", "))
	}

	stmt.SQL = sb.String()
	return stmt, nil
}

// setExpression - одно выражение SET для колонки, загруженной в переменную
func setExpression(c Column, variable string) string {
	dest := QuoteIdentifier(c.DBName)

	if c.Type == TypeBit {
		cast := fmt.Sprintf("CAST(%s AS SIGNED)", variable)
		if !c.Nullable && c.DefaultValue() == "" {
			return fmt.Sprintf("%s = %s", dest, cast)
		}
		fallback := "NULL"
		if c.DefaultValue() != "" {
			fallback = QuoteLiteral(c.DefaultValue())
		}
		return fmt.Sprintf("%s = IF(%s = '', %s, %s)", dest, variable, fallback, cast)
	}

	return fmt.Sprintf("%s = IF(%s = '', %s, %s)", dest, variable, emptyFallback(c), variable)
}

// emptyFallback - значение, которым заменяется пустое поле
func emptyFallback(c Column) string {
	def := c.DefaultValue()
	switch {
	case c.Type.IsDate():
		if def != "" {
			return QuoteLiteral(def)
		}
		return "NULL"
	case def != "":
		return QuoteLiteral(def)
	case c.Nullable:
		return "NULL"
	default:
		return QuoteLiteral("")
	}
}

func columnIndexByName(columns []Column, name string) int {
	for i, c := range columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Upsert переносит строки временной таблицы в dest.
// С primary key - INSERT ... ON DUPLICATE KEY UPDATE, без него - простое добавление.
func (b *QueryBuilder) Upsert(staging Table, dest string) string {
	columns := staging.ColumnNames()

	sql := fmt.Sprintf("INSERT INTO %s (%s) SELECT * FROM %s",
		QuoteIdentifier(dest),
		strings.Join(quoteIdentifiers(columns), ", "),
		QuoteIdentifier(staging.Name))

	if !staging.HasPrimaryKey() {
		return sql
	}

	keys := make(map[string]bool, len(staging.PrimaryKey))
	for _, k := range staging.PrimaryKey {
		keys[k] = true
	}

	var updateColumns []string
	for _, c := range columns {
		if !keys[c] {
			updateColumns = append(updateColumns, c)
		}
	}
	// Все колонки входят в ключ
	if len(updateColumns) == 0 {
		updateColumns = columns
	}

	updates := make([]string, len(updateColumns))
	for i, c := range updateColumns {
		updates[i] = fmt.Sprintf("%s.%s=%s.%s",
			QuoteIdentifier(dest), QuoteIdentifier(c),
			QuoteIdentifier(staging.Name), QuoteIdentifier(c))
	}

	return sql + " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
}

// PrimaryKeys строит запрос колонок primary key таблицы
func (b *QueryBuilder) PrimaryKeys(name string) string {
	return fmt.Sprintf("SHOW KEYS FROM %s WHERE Key_name = 'PRIMARY'", QuoteIdentifier(name))
}

// TableExists строит запрос наличия таблицы в текущей базе
func (b *QueryBuilder) TableExists(name string) string {
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = " + QuoteLiteral(name)
}

// Describe строит DESCRIBE
func (b *QueryBuilder) Describe(name string) string {
	return "DESCRIBE " + QuoteIdentifier(name)
}

// ShowTables строит SHOW TABLES
func (b *QueryBuilder) ShowTables() string {
	return "SHOW TABLES"
}
