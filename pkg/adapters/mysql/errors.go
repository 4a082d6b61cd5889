package mysql

import (
	"crypto/tls"
	"crypto/x509"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/go-sql-driver/mysql"

	"github.com/ruslano69/mysqlwriter/pkg/failure"
)

// Коды ошибок сервера
const (
	errAccessDenied    = 1045
	errUnknownDatabase = 1049
)

// unwrapGeneric снимает обертки *net.OpError без собственной информации
// и возвращает внутреннюю причину.
func unwrapGeneric(err error) error {
	var opErr *net.OpError
	for errors.As(err, &opErr) && opErr.Err != nil {
		err = opErr.Err
	}
	return err
}

// isCertificateError - ошибки проверки сертификата и имени хоста
func isCertificateError(err error) bool {
	var hostErr x509.HostnameError
	var authErr x509.UnknownAuthorityError
	var invalidErr x509.CertificateInvalidError
	var verifyErr *tls.CertificateVerificationError
	return errors.As(err, &hostErr) ||
		errors.As(err, &authErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &verifyErr)
}

// isConnectionLost - ошибка транспорта, а не запроса
func isConnectionLost(err error) bool {
	var netErr net.Error
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &netErr)
}

// classifyConnectError превращает ошибку подключения в failure.KindConnectivity.
// Сообщение содержит user@host:port/db и признак SSL.
func classifyConnectError(err error, ep Endpoint, ssl bool) error {
	cause := unwrapGeneric(err)
	target := ep.describe(ssl)

	if isCertificateError(cause) {
		return failure.Connectivity(cause, "SSL certificate verification failed for %s", target)
	}

	var myErr *mysql.MySQLError
	if errors.As(cause, &myErr) {
		switch myErr.Number {
		case errAccessDenied:
			return failure.Connectivity(cause, "Access denied for %s", target)
		case errUnknownDatabase:
			return failure.Connectivity(cause, "Unknown database for %s", target)
		}
	}

	return failure.Connectivity(cause, "Unable to connect to %s", target)
}

// classifyExecError оборачивает ошибку выполнения запроса.
// Ошибки сервера - failure.KindStatement, обрыв соединения после подключения
// и прочие сбои драйвера - KindInternal. Текст запроса сохраняется во всех случаях.
func classifyExecError(query string, err error) error {
	cause := unwrapGeneric(err)

	var myErr *mysql.MySQLError
	if errors.As(cause, &myErr) {
		return failure.Statement(query, cause)
	}

	var fe *failure.Error
	if errors.As(cause, &fe) {
		return cause
	}

	if isConnectionLost(cause) {
		e := failure.Internal(cause, "Connection lost")
		e.Query = query
		return e
	}

	e := failure.Internal(cause, "Query failed")
	e.Query = query
	return e
}
