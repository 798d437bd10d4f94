package main

import "testing"

func TestRunSQLFunction(t *testing.T) {
	type testCase struct {
		driver   string
		function string
		explicit bool
		want     string
	}

	tt := map[string]testCase{
		"postgres default":     {driver: "postgres", function: "execute_sql", want: "execute_sql"},
		"sqlite default":       {driver: "sqlite", function: "execute_sql", want: ""},
		"sqlite3 default":      {driver: "sqlite3", function: "execute_sql", want: ""},
		"sqlite explicit":      {driver: "sqlite", function: "execute_sql", explicit: true, want: "execute_sql"},
		"postgres direct mode": {driver: "postgres", function: "", explicit: true, want: ""},
	}

	for name, tc := range tt {
		t.Run(name, func(t *testing.T) {
			if got := runSQLFunction(tc.driver, tc.function, tc.explicit); got != tc.want {
				t.Errorf("want %q, got %q", tc.want, got)
			}
		})
	}
}
