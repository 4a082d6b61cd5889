package mysql

import "strings"

// QuoteIdentifier экранирует имя таблицы или колонки обратными кавычками
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteIdentifiers(names []string) []string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdentifier(n)
	}
	return quoted
}

// literalReplacer повторяет экранирование mysql_real_escape_string
var literalReplacer = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	"\x00", `\0`,
	"\n", `\n`,
	"\r", `\r`,
	"\x1a", `\Z`,
)

// QuoteLiteral возвращает строковый литерал в одинарных кавычках
func QuoteLiteral(value string) string {
	return "'" + literalReplacer.Replace(value) + "'"
}
