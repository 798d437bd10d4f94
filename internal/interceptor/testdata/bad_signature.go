package hooks

func Before(operation string) bool {
	return true
}
