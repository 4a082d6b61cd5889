/*
Package mysql загружает CSV файлы в таблицы MySQL.

# Последовательность работы

	Connect ──► Conn (одна сессия, SET NAMES, проверки сервера)
	   │
	   ▼
	Writer ──► QueryBuilder (DDL, LOAD DATA, upsert)
	   │
	   ├─ full:        TRUNCATE | CREATE ──► LOAD DATA
	   └─ incremental: CREATE TEMPORARY ──► LOAD DATA ──► проверка PK ──► INSERT ... SELECT ──► DROP

# Загрузка

Данные читает сервер: файл передается через LOAD DATA LOCAL INFILE с
зарегистрированным в драйвере io.Reader (Reader::<name>). Приведение пустых
значений к NULL/DEFAULT и приведение bit колонок выполняются выражениями SET
на стороне сервера, без построчной обработки в процессе.

# Сессия

Временные таблицы, SET NAMES и SHOW WARNINGS привязаны к сессии, поэтому
Conn держит один *sql.Conn, а пул ограничен одним соединением.

# Ошибки

Все ошибки возвращаются как *failure.Error. Ошибки выполнения запроса содержат
текст запроса. Предупреждения сервера только логируются.
*/
package mysql
