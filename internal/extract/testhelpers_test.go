package extract

import "testing"

func declByName(t *testing.T, res Result, name string) Declaration {
	t.Helper()
	for _, d := range res.Declarations {
		if d.Record.Name == name {
			return d
		}
	}
	t.Fatalf("declaration %q not found; got %v", name, res.Names())
	return Declaration{}
}

func assertNames(t *testing.T, res Result, want ...string) {
	t.Helper()
	got := res.Names()
	if len(got) != len(want) {
		t.Fatalf("expected declarations %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected declarations %v, got %v", want, got)
		}
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
