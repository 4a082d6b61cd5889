// Package failure описывает классы ошибок writer'а и их отображение в код выхода.
//
// Все ошибки, кроме KindInternal, считаются "пользовательскими": их может
// исправить владелец конфигурации или сервера (неверный ключ, недоступный хост,
// выключенный local_infile и т.д.).
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind - класс ошибки
type Kind int

const (
	// KindInternal - неожиданная ошибка приложения (exit code 2)
	KindInternal Kind = iota
	// KindConfig - неполная или противоречивая конфигурация
	KindConfig
	// KindConnectivity - туннель, TLS, аутентификация, сеть
	KindConnectivity
	// KindCapability - сервер не поддерживает нужный режим работы
	KindCapability
	// KindStatement - ошибка выполнения SQL запроса
	KindStatement
	// KindKeyMismatch - primary key в конфигурации не совпадает с таблицей
	KindKeyMismatch
)

// String возвращает имя класса для логов
func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindConfig:
		return "config"
	case KindConnectivity:
		return "connectivity"
	case KindCapability:
		return "capability"
	case KindStatement:
		return "statement"
	case KindKeyMismatch:
		return "key_mismatch"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Exit codes, ожидаемые вызывающим процессом
const (
	ExitSuccess  = 0
	ExitUser     = 1
	ExitInternal = 2
)

// Error - классифицированная ошибка
type Error struct {
	Kind    Kind
	Message string
	// Query - текст запроса, на котором произошла ошибка (только для KindStatement)
	Query string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserActionable - true если ошибку может исправить пользователь
func (e *Error) UserActionable() bool {
	return e.Kind != KindInternal
}

// Configf создает ошибку конфигурации
func Configf(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

// Capabilityf создает ошибку возможностей сервера
func Capabilityf(format string, args ...any) *Error {
	return &Error{Kind: KindCapability, Message: fmt.Sprintf(format, args...)}
}

// Connectivity оборачивает ошибку подключения
func Connectivity(err error, format string, args ...any) *Error {
	return &Error{Kind: KindConnectivity, Message: fmt.Sprintf(format, args...), Err: err}
}

// Statement оборачивает ошибку выполнения запроса и прикладывает его текст
func Statement(query string, err error) *Error {
	return &Error{Kind: KindStatement, Message: "Query failed", Query: query, Err: err}
}

// Internal оборачивает неожиданную ошибку
func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KeyMismatch создает ошибку несовпадения primary key.
// Оба набора ключей перечисляются явно.
func KeyMismatch(configured, actual []string) *Error {
	return &Error{
		Kind: KindKeyMismatch,
		Message: fmt.Sprintf(
			"Primary key(s) in configuration does NOT match with keys in DB table.\n"+
				"Keys in configuration: %s\n"+
				"Keys in DB table: %s",
			strings.Join(configured, ","),
			strings.Join(actual, ","),
		),
	}
}

// KindOf возвращает класс ошибки; неклассифицированные ошибки считаются внутренними
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsUser - true если в цепочке есть пользовательская ошибка
func IsUser(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.UserActionable()
}

// ExitCode отображает ошибку в код выхода процесса
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case IsUser(err):
		return ExitUser
	default:
		return ExitInternal
	}
}
