package hooks

func Helper() string {
	return "nothing to run"
}
