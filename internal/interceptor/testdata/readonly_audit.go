package hooks

import (
	"errors"
	"strings"
)

func Before(operation, table string) error {
	if table == "audit" && operation != "query_table" && operation != "get_stats" {
		return errors.New("audit is read only")
	}
	return nil
}

func After(operation, table string, err error) error {
	if err != nil && operation == "list_tables" && strings.Contains(err.Error(), "get_tables") {
		// tolerate projects without the tables function
		return nil
	}
	return err
}
