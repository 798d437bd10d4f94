package mysql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"

	"github.com/litesql/tablegate/internal/backend"
	"github.com/litesql/tablegate/internal/dispatch"
)

// Handler answers the commands of one MySQL connection.
type Handler struct {
	dispatch *dispatch.Dispatcher
	database string
}

func (h *Handler) UseDB(dbName string) error {
	slog.Debug("Received: UseDB", "dbname", dbName)
	h.database = dbName
	return nil
}

var (
	commentsRE  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	txControlRE = regexp.MustCompile(`^(BEGIN|START\s+TRANSACTION|COMMIT|ROLLBACK)\b`)
)

func (h *Handler) HandleQuery(query string) (*mysql.Result, error) {
	slog.Debug("Received: Query", "query", query)
	ctx := context.Background()
	cleanQuery := strings.TrimSpace(commentsRE.ReplaceAllString(query, ""))
	upper := strings.TrimSuffix(strings.ToUpper(cleanQuery), ";")

	switch {
	case upper == "" || strings.HasPrefix(upper, "SET "):
		return mysql.NewResultReserveResultset(0), nil
	case txControlRE.MatchString(upper):
		return mysql.NewResultReserveResultset(0), nil
	case strings.HasPrefix(upper, "USE "):
		return nil, h.UseDB(strings.Trim(strings.TrimSpace(cleanQuery[4:]), "`;"))
	case upper == "SELECT CONCAT(@@VERSION, ' ', @@VERSION_COMMENT)":
		return resultset([]string{"concat(@@version, ' ', @@version_comment)"}, [][]any{{"8.4.7 tablegate"}})
	case upper == "SELECT @@SESSION.TRANSACTION_READ_ONLY":
		return resultset([]string{"@@session.transaction_read_only"}, [][]any{{"1"}})
	case upper == "SHOW DATABASES":
		return resultset([]string{"Database"}, [][]any{{h.database}})
	case upper == "SHOW TABLES":
		rows, err := h.dispatch.ListTables(ctx, dispatch.ListTablesRequest{})
		if err != nil {
			return nil, myError(err)
		}
		return rowsResult(rows, false)
	}

	rows, err := h.dispatch.RunSQL(ctx, dispatch.RunSQLRequest{Query: cleanQuery})
	if err != nil {
		slog.Debug("RunSQL error", "error", err)
		return nil, myError(err)
	}
	return rowsResult(rows, false)
}

// HandleFieldList is called for COM_FIELD_LIST packets
// Note that COM_FIELD_LIST has been deprecated since MySQL 5.7.11
// https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_com_field_list.html
func (h *Handler) HandleFieldList(table string, fieldWildcard string) ([]*mysql.Field, error) {
	slog.Debug("Received: FieldList", "table", table, "fieldWildcard", fieldWildcard)
	return nil, mysql.NewError(mysql.ER_UNKNOWN_ERROR, "field list is not supported")
}

// HandleStmtPrepare accepts statements without placeholders only. Values
// are never interpolated into SQL text.
func (h *Handler) HandleStmtPrepare(query string) (int, int, any, error) {
	slog.Debug("Received: StmtPrepare", "query", query)
	if params := strings.Count(query, "?"); params > 0 {
		return 0, 0, nil, mysql.NewError(mysql.ER_UNKNOWN_ERROR, "prepared statements with parameters are not supported")
	}
	return 0, 0, query, nil
}

func (h *Handler) HandleStmtExecute(stmt any, query string, args []any) (*mysql.Result, error) {
	slog.Debug("Received: StmtExecute", "query", query, "args", args)
	rows, err := h.dispatch.RunSQL(context.Background(), dispatch.RunSQLRequest{Query: query})
	if err != nil {
		return nil, myError(err)
	}
	return rowsResult(rows, true)
}

func (h *Handler) HandleStmtClose(stmt any) error {
	slog.Debug("Received: StmtClose")
	return nil
}

func (h *Handler) HandleOtherCommand(cmd byte, data []byte) error {
	slog.Warn("Received: OtherCommand", "cmd", cmd, "data", data)
	return mysql.NewError(
		mysql.ER_UNKNOWN_ERROR,
		fmt.Sprintf("command %d is not supported now", cmd),
	)
}

func myError(err error) error {
	var (
		validationErr *dispatch.ValidationError
		rejectedErr   *dispatch.RejectedError
	)
	switch {
	case errors.As(err, &validationErr):
		return mysql.NewError(mysql.ER_SYNTAX_ERROR, err.Error())
	case errors.As(err, &rejectedErr):
		return mysql.NewError(mysql.ER_SPECIFIC_ACCESS_DENIED_ERROR, err.Error())
	}
	return mysql.NewError(mysql.ER_UNKNOWN_ERROR, err.Error())
}

func resultset(names []string, values [][]any) (*mysql.Result, error) {
	r, err := mysql.BuildSimpleResultset(names, values, false)
	if err != nil {
		return nil, err
	}
	return mysql.NewResult(r), nil
}

// rowsResult sends every column as text since a column may hold values of
// several types.
func rowsResult(rows *backend.Rows, binary bool) (*mysql.Result, error) {
	values := make([][]any, rows.Len())
	for i, row := range rows.Values {
		values[i] = make([]any, len(row))
		for j, v := range row {
			values[i][j] = textValue(v)
		}
	}
	r, err := mysql.BuildSimpleResultset(rows.Columns, values, binary)
	if err != nil {
		slog.Debug("BuildSimpleResultset error", "error", err)
		return nil, err
	}
	return mysql.NewResult(r), nil
}

func textValue(v any) any {
	switch v := v.(type) {
	case bool:
		if v {
			return "1"
		}
		return "0"
	case time.Time:
		return v.Format(time.DateTime)
	default:
		return backend.TextValue(v)
	}
}
