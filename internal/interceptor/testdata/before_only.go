package hooks

import "errors"

func Before(operation, table string) error {
	if operation == "delete_rows" {
		return errors.New("deletes are disabled")
	}
	return nil
}
