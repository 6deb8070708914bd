// Package errors classifies the infrastructure errors the monitor absorbs:
// dependency-source database failures and probe transport failures.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// DatabaseErrorType represents the type of database error.
type DatabaseErrorType int

const (
	// ErrorTypeUnknown represents an unknown database error.
	ErrorTypeUnknown DatabaseErrorType = iota
	// ErrorTypeNotFound represents a record not found error.
	ErrorTypeNotFound
	// ErrorTypeConnectionError represents a database connection error.
	ErrorTypeConnectionError
	// ErrorTypeAccessDenied represents rejected credentials (MySQL 1044, 1045).
	ErrorTypeAccessDenied
	// ErrorTypeSchema represents a missing table or column (MySQL 1146, 1054).
	ErrorTypeSchema
)

// DatabaseError wraps a database error with classification information.
type DatabaseError struct {
	Type         DatabaseErrorType
	OriginalErr  error
	MySQLErrCode uint16
	Message      string
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.MySQLErrCode > 0 {
		return fmt.Sprintf("%s (MySQL error %d): %v", e.Message, e.MySQLErrCode, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// ClassifyDBError classifies an error returned while loading the dependency
// registry from MySQL.
//
//   - ErrRecordNotFound → ErrorTypeNotFound
//   - MySQL 1044/1045 → ErrorTypeAccessDenied
//   - MySQL 1146/1054 → ErrorTypeSchema
//   - dial/refused/reset/timeout → ErrorTypeConnectionError
func ClassifyDBError(err error) *DatabaseError {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DatabaseError{Type: ErrorTypeNotFound, OriginalErr: err, Message: "record not found"}
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return classifyMySQLError(mysqlErr)
	}

	if errors.Is(err, mysql.ErrInvalidConn) || isConnectionError(err.Error()) {
		return &DatabaseError{Type: ErrorTypeConnectionError, OriginalErr: err, Message: "database connection error"}
	}

	return &DatabaseError{Type: ErrorTypeUnknown, OriginalErr: err, Message: "unknown database error"}
}

func classifyMySQLError(err *mysql.MySQLError) *DatabaseError {
	switch err.Number {
	case 1044, 1045: // ER_DBACCESS_DENIED_ERROR, ER_ACCESS_DENIED_ERROR
		return &DatabaseError{Type: ErrorTypeAccessDenied, OriginalErr: err, MySQLErrCode: err.Number, Message: "database access denied"}
	case 1146, 1054: // ER_NO_SUCH_TABLE, ER_BAD_FIELD_ERROR
		return &DatabaseError{Type: ErrorTypeSchema, OriginalErr: err, MySQLErrCode: err.Number, Message: "registry schema mismatch"}
	case 2002, 2003, 2006, 2013: // client-side connection failures
		return &DatabaseError{Type: ErrorTypeConnectionError, OriginalErr: err, MySQLErrCode: err.Number, Message: "database connection error"}
	default:
		return &DatabaseError{Type: ErrorTypeUnknown, OriginalErr: err, MySQLErrCode: err.Number, Message: "MySQL error"}
	}
}

var connectionKeywords = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"connection lost",
	"can't connect",
	"dial tcp",
}

func isConnectionError(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	for _, keyword := range connectionKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// IsNotFoundError checks if the error is a record not found error.
func IsNotFoundError(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Type == ErrorTypeNotFound
}

// IsRegistryUnavailable reports whether err means the registry database
// cannot be used at all, so callers should fall back to another source.
func IsRegistryUnavailable(err error) bool {
	dbErr := ClassifyDBError(err)
	if dbErr == nil {
		return false
	}
	switch dbErr.Type {
	case ErrorTypeConnectionError, ErrorTypeAccessDenied, ErrorTypeSchema:
		return true
	}
	return false
}
