package mysql

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/mysqlwriter/pkg/failure"
)

func strPtr(s string) *string {
	return &s
}

func TestParseColumnType(t *testing.T) {
	tests := []struct {
		input   string
		want    ColumnType
		wantErr bool
	}{
		{"int", TypeInt, false},
		{"INTEGER", TypeInt, false},
		{"VarChar", TypeVarchar, false},
		{"ignore", TypeIgnore, false},
		{"IGNORE", TypeIgnore, false},
		{"bit", TypeBit, false},
		{" datetime ", TypeDatetime, false},
		{"json", TypeInvalid, true},
		{"", TypeInvalid, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseColumnType(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, failure.KindConfig, failure.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColumnType_SQL(t *testing.T) {
	assert.Equal(t, "VARCHAR", TypeVarchar.SQL())
	assert.Equal(t, "DATETIME", TypeDatetime.SQL())
	assert.False(t, TypeText.AllowsDefault())
	assert.False(t, TypeBlob.AllowsDefault())
	assert.True(t, TypeVarchar.AllowsDefault())
	assert.True(t, TypeDate.IsDate())
	assert.False(t, TypeTimestamp.IsDate())
}

func TestTable_Validate(t *testing.T) {
	tests := []struct {
		name    string
		table   Table
		wantErr string
	}{
		{
			name: "valid",
			table: Table{Name: "t", Columns: []Column{
				{Name: "id", DBName: "id", Type: TypeInt},
				{Name: "skip", Type: TypeIgnore},
			}, PrimaryKey: []string{"id"}},
		},
		{
			name:    "missing name",
			table:   Table{Columns: []Column{{Name: "id", DBName: "id", Type: TypeInt}}},
			wantErr: "Table name",
		},
		{
			name: "duplicate column",
			table: Table{Name: "t", Columns: []Column{
				{Name: "a", DBName: "id", Type: TypeInt},
				{Name: "b", DBName: "id", Type: TypeInt},
			}},
			wantErr: "Duplicate column 'id'",
		},
		{
			name: "primary key on unknown column",
			table: Table{Name: "t", Columns: []Column{
				{Name: "id", DBName: "id", Type: TypeInt},
			}, PrimaryKey: []string{"code"}},
			wantErr: "'code'",
		},
		{
			name:    "no columns",
			table:   Table{Name: "t"},
			wantErr: "Table 't' has no columns to load",
		},
		{
			name: "only ignored columns",
			table: Table{Name: "t", Columns: []Column{
				{Name: "skip", Type: TypeIgnore},
			}},
			wantErr: "Table 't' has no columns to load",
		},
		{
			name: "primary key on ignored column",
			table: Table{Name: "t", Columns: []Column{
				{Name: "id", DBName: "id", Type: TypeInt},
				{Name: "code", DBName: "code", Type: TypeIgnore},
			}, PrimaryKey: []string{"code"}},
			wantErr: "'code'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, failure.KindConfig, failure.KindOf(err))
		})
	}
}

func TestTable_ColumnNames(t *testing.T) {
	table := Table{Name: "t", Columns: []Column{
		{Name: "id", DBName: "id", Type: TypeInt},
		{Name: "skip", DBName: "skip", Type: TypeIgnore},
		{Name: "Name", DBName: "name", Type: TypeVarchar},
	}}

	assert.Equal(t, []string{"id", "name"}, table.ColumnNames())
	assert.Len(t, table.LoadColumns(), 2)
}

func TestGenerateStagingName(t *testing.T) {
	long := strings.Repeat("firstTableWithLongNameRepeated", 4)
	require.Greater(t, len(long), MaxIdentifierLength)

	name := GenerateStagingName(long)
	assert.LessOrEqual(t, utf8.RuneCountInString(name), MaxIdentifierLength)
	assert.Contains(t, name, "temp")
	assert.True(t, strings.HasPrefix(name, "firstTableWithLongName"))

	short := GenerateStagingName("simple")
	assert.True(t, strings.HasPrefix(short, "simple_temp_"))
	assert.Len(t, short, len("simple_temp_")+stagingTokenLength)

	assert.NotEqual(t, GenerateStagingName("simple"), GenerateStagingName("simple"))
}

func TestGenerateStagingName_Multibyte(t *testing.T) {
	name := GenerateStagingName(strings.Repeat("таблица", 20))

	assert.True(t, utf8.ValidString(name))
	assert.LessOrEqual(t, utf8.RuneCountInString(name), MaxIdentifierLength)
	assert.Contains(t, name, "_temp_")
}

func TestTable_Staging(t *testing.T) {
	table := Table{
		Name:        "orders",
		Columns:     []Column{{Name: "id", DBName: "id", Type: TypeInt}},
		PrimaryKey:  []string{"id"},
		Incremental: true,
	}

	staging := table.Staging()

	assert.True(t, staging.Temporary)
	assert.False(t, table.Temporary)
	assert.NotEqual(t, table.Name, staging.Name)
	assert.Equal(t, table.PrimaryKey, staging.PrimaryKey)

	staging.Columns[0].DBName = "changed"
	assert.Equal(t, "id", table.Columns[0].DBName)
}
