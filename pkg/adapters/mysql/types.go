package mysql

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ruslano69/mysqlwriter/pkg/failure"
)

// MaxIdentifierLength - максимальная длина имени таблицы в MySQL
const MaxIdentifierLength = 64

// stagingInfix отделяет имя таблицы от токена во временном имени
const stagingInfix = "_temp_"

// stagingTokenLength - длина уникального токена временной таблицы
const stagingTokenLength = 13

// ColumnType - тип колонки из конфигурации
type ColumnType int

const (
	TypeInvalid ColumnType = iota
	// TypeIgnore - колонка файла пропускается при загрузке
	TypeIgnore
	TypeInt
	TypeSmallint
	TypeBigint
	TypeDecimal
	TypeFloat
	TypeDouble
	TypeDate
	TypeDatetime
	TypeTimestamp
	TypeChar
	TypeVarchar
	TypeText
	TypeBlob
	// TypeBit - значения "0"/"1" приводятся к целому через CAST
	TypeBit
)

var columnTypeNames = map[ColumnType]string{
	TypeIgnore:    "ignore",
	TypeInt:       "int",
	TypeSmallint:  "smallint",
	TypeBigint:    "bigint",
	TypeDecimal:   "decimal",
	TypeFloat:     "float",
	TypeDouble:    "double",
	TypeDate:      "date",
	TypeDatetime:  "datetime",
	TypeTimestamp: "timestamp",
	TypeChar:      "char",
	TypeVarchar:   "varchar",
	TypeText:      "text",
	TypeBlob:      "blob",
	TypeBit:       "bit",
}

var columnTypeAliases = map[string]ColumnType{
	"integer": TypeInt,
}

// ParseColumnType разбирает тип без учета регистра
func ParseColumnType(s string) (ColumnType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if t, ok := columnTypeAliases[name]; ok {
		return t, nil
	}
	for t, n := range columnTypeNames {
		if n == name {
			return t, nil
		}
	}
	return TypeInvalid, failure.Configf("Unsupported column type '%s'", s)
}

func (t ColumnType) String() string {
	if n, ok := columnTypeNames[t]; ok {
		return n
	}
	return "invalid"
}

// SQL возвращает имя типа для DDL
func (t ColumnType) SQL() string {
	return strings.ToUpper(t.String())
}

// AllowsDefault - false для TEXT/BLOB: сервер не принимает DEFAULT для этих типов
func (t ColumnType) AllowsDefault() bool {
	switch t {
	case TypeText, TypeBlob:
		return false
	case TypeInvalid, TypeIgnore, TypeInt, TypeSmallint, TypeBigint, TypeDecimal,
		TypeFloat, TypeDouble, TypeDate, TypeDatetime, TypeTimestamp, TypeChar,
		TypeVarchar, TypeBit:
		return true
	}
	return true
}

// IsDate - date/datetime: пустое значение без default становится NULL
func (t ColumnType) IsDate() bool {
	switch t {
	case TypeDate, TypeDatetime:
		return true
	case TypeInvalid, TypeIgnore, TypeInt, TypeSmallint, TypeBigint, TypeDecimal,
		TypeFloat, TypeDouble, TypeTimestamp, TypeChar, TypeVarchar, TypeText,
		TypeBlob, TypeBit:
		return false
	}
	return false
}

// Column - описание колонки
type Column struct {
	// Name - имя колонки в заголовке файла
	Name string
	// DBName - имя колонки в таблице
	DBName   string
	Type     ColumnType
	Size     string
	Nullable bool
	// Default - nil если значение по умолчанию не задано
	Default *string
}

// Ignored - колонка не попадает в таблицу
func (c Column) Ignored() bool {
	return c.Type == TypeIgnore
}

// DefaultValue возвращает значение по умолчанию или пустую строку
func (c Column) DefaultValue() string {
	if c.Default == nil {
		return ""
	}
	return *c.Default
}

// hasNullOrDefault - пустое значение нужно заменить на NULL или default
func (c Column) hasNullOrDefault() bool {
	return !c.Ignored() && (c.Default != nil || c.Nullable)
}

// needsVariable - значение загружается в переменную сессии и приводится в SET
func (c Column) needsVariable() bool {
	return c.hasNullOrDefault() || c.Type == TypeBit
}

// Table - описание таблицы
type Table struct {
	Name    string
	Columns []Column
	// PrimaryKey - имена колонок таблицы (DBName)
	PrimaryKey  []string
	Incremental bool
	Temporary   bool
}

// Validate проверяет наличие и уникальность колонок и primary key
func (t Table) Validate() error {
	if t.Name == "" {
		return failure.Configf("Table name is missing.")
	}

	seen := make(map[string]bool, len(t.Columns))
	for i, c := range t.Columns {
		if c.Type == TypeInvalid {
			return failure.Configf("Column %d of table '%s' has no type", i, t.Name)
		}
		if c.Ignored() {
			continue
		}
		if c.DBName == "" {
			return failure.Configf("Column '%s' of table '%s' has no dbName", c.Name, t.Name)
		}
		if seen[c.DBName] {
			return failure.Configf("Duplicate column '%s' in table '%s'", c.DBName, t.Name)
		}
		seen[c.DBName] = true
	}
	if len(seen) == 0 {
		return failure.Configf("Table '%s' has no columns to load", t.Name)
	}

	for _, key := range t.PrimaryKey {
		if !seen[key] {
			return failure.Configf("Primary key column '%s' does not exist in table '%s'", key, t.Name)
		}
	}

	return nil
}

// LoadColumns возвращает колонки, которые попадают в таблицу
func (t Table) LoadColumns() []Column {
	cols := make([]Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !c.Ignored() {
			cols = append(cols, c)
		}
	}
	return cols
}

// ColumnNames возвращает имена колонок таблицы в порядке конфигурации
func (t Table) ColumnNames() []string {
	cols := t.LoadColumns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.DBName
	}
	return names
}

// HasPrimaryKey - таблица объявляет primary key
func (t Table) HasPrimaryKey() bool {
	return len(t.PrimaryKey) > 0
}

// Staging возвращает копию таблицы с временным уникальным именем
func (t Table) Staging() Table {
	s := t
	s.Name = GenerateStagingName(t.Name)
	s.Temporary = true
	s.Columns = append([]Column(nil), t.Columns...)
	s.PrimaryKey = append([]string(nil), t.PrimaryKey...)
	return s
}

// GenerateStagingName строит имя временной таблицы: <name>_temp_<token>.
// Имя обрезается по символам так, чтобы результат не превышал MaxIdentifierLength.
func GenerateStagingName(name string) string {
	suffix := stagingInfix + stagingToken()
	limit := MaxIdentifierLength - utf8.RuneCountInString(suffix)
	if utf8.RuneCountInString(name) > limit {
		name = string([]rune(name)[:limit])
	}
	return name + suffix
}

func stagingToken() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])[:stagingTokenLength]
}
