package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// rule maps a driver error code to a classification. An empty message means the driver's
// own message is used.
type rule struct {
	errorType   ErrorType
	recoverable bool
	message     string
}

func (r rule) build(err error, driver, driverMessage string) *AppError {
	message := r.message
	if message == "" {
		message = fmt.Sprintf("%s error: %s", driver, driverMessage)
	}
	return newError(r.errorType, message, err, r.recoverable)
}

var (
	ruleAuth        = rule{ErrorTypePermission, false, "Authentication failed; check the user name and password"}
	ruleNoDatabase  = rule{ErrorTypeValidation, false, "Database does not exist"}
	ruleNoTable     = rule{ErrorTypeSchema, false, "Table does not exist"}
	ruleNoColumn    = rule{ErrorTypeSchema, false, "Column does not exist"}
	ruleSyntax      = rule{ErrorTypeSQL, false, "SQL syntax error"}
	ruleConstraint  = rule{ErrorTypeConstraint, false, ""}
	ruleConflict    = rule{ErrorTypeSQL, true, "Lock or serialization conflict; the statement can be retried"}
	ruleUnavailable = rule{ErrorTypeConnection, true, "Database server unavailable or connection lost"}
)

// postgres SQLSTATE codes, exact match first, then class (first two characters)
var (
	sqlstateRules = map[string]rule{
		"28P01": ruleAuth,
		"28000": ruleAuth,
		"42501": {ErrorTypePermission, false, "Insufficient privilege for this operation"},
		"3D000": ruleNoDatabase,
		"42P01": ruleNoTable,
		"42703": ruleNoColumn,
		"42601": ruleSyntax,
		"40001": ruleConflict,
		"40P01": ruleConflict,
		"55P03": ruleConflict,
		"57014": {ErrorTypeTimeout, false, "Statement canceled by the server"},
		"57P01": ruleUnavailable,
		"57P03": ruleUnavailable,
	}
	sqlstateClassRules = map[string]rule{
		"23": ruleConstraint,
		"08": ruleUnavailable,
	}
)

var mysqlRules = map[uint16]rule{
	1045: ruleAuth,
	1049: ruleNoDatabase,
	1146: ruleNoTable,
	1054: ruleNoColumn,
	1064: ruleSyntax,
	1062: ruleConstraint,
	1451: ruleConstraint,
	1452: ruleConstraint,
	1205: ruleConflict,
	1213: ruleConflict,
	2003: ruleUnavailable,
	2006: ruleUnavailable,
	2013: ruleUnavailable,
}

// ErrorClassifier turns arbitrary errors into AppErrors
type ErrorClassifier struct {
	classifiers []func(error) *AppError
}

func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{
		classifiers: []func(error) *AppError{
			classifyPostgres,
			classifyMySQL,
			classifyDatabaseSQL,
			classifyContext,
			// syscall errnos satisfy net.Error, so paths go first
			classifyPath,
			classifyNetwork,
		},
	}
}

// ClassifyError returns the AppError already in err's chain, or a new one describing err.
// A nil error yields nil.
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := asAppError(err); ok {
		return appErr
	}

	for _, classify := range ec.classifiers {
		if appErr := classify(err); appErr != nil {
			return appErr
		}
	}
	return NewAppError(ErrorTypeUnknown, unexpectedMessage, err)
}

func classifyPostgres(err error) *AppError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}

	r, ok := sqlstateRules[pgErr.Code]
	if !ok && len(pgErr.Code) >= 2 {
		r, ok = sqlstateClassRules[pgErr.Code[:2]]
	}
	if !ok {
		r = rule{errorType: ErrorTypeSQL}
	}

	appErr := r.build(err, "PostgreSQL", pgErr.Message).WithContext("sqlstate", pgErr.Code)
	if pgErr.ConstraintName != "" {
		appErr.WithContext("constraint", pgErr.ConstraintName)
	}
	return appErr
}

func classifyMySQL(err error) *AppError {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return nil
	}

	r, ok := mysqlRules[myErr.Number]
	if !ok {
		r = rule{errorType: ErrorTypeSQL}
	}
	return r.build(err, "MySQL", myErr.Message).WithContext("mysql_error_code", myErr.Number)
}

func classifyDatabaseSQL(err error) *AppError {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return NewAppError(ErrorTypeValidation, "No rows found", err)
	case errors.Is(err, sql.ErrTxDone):
		return NewAppError(ErrorTypeSQL, "Transaction already committed or rolled back", err)
	case errors.Is(err, sql.ErrConnDone):
		return NewRecoverableError(ErrorTypeConnection, "Database connection is closed", err)
	}
	return nil
}

func classifyContext(err error) *AppError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewRecoverableError(ErrorTypeTimeout, "Operation timed out", err)
	case errors.Is(err, context.Canceled):
		return NewAppError(ErrorTypeInterruption, "Operation was canceled", err)
	}
	return nil
}

func classifyPath(err error) *AppError {
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		return nil
	}

	switch {
	case errors.Is(pathErr.Err, syscall.ENOENT):
		return NewAppError(ErrorTypeValidation, "No such file or directory: "+pathErr.Path, err)
	case errors.Is(pathErr.Err, syscall.EACCES):
		return NewAppError(ErrorTypePermission, "Permission denied: "+pathErr.Path, err)
	case errors.Is(pathErr.Err, syscall.ENOSPC):
		return NewAppError(ErrorTypeValidation, "No space left on device", err)
	}
	return nil
}

func classifyNetwork(err error) *AppError {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		op := strings.ToLower(opErr.Op)
		if op == "dial" {
			return NewRecoverableError(ErrorTypeConnection, "Could not connect to the database server", err)
		}
		if op == "read" || op == "write" {
			return NewRecoverableError(ErrorTypeConnection, "Network I/O failed", err)
		}
	}

	var netErr net.Error
	if !errors.As(err, &netErr) {
		return nil
	}
	if netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout, "Network operation timed out", err)
	}
	return NewRecoverableError(ErrorTypeConnection, "Network error", err)
}
