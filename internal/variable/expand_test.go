package variable

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExpandPrecedence(t *testing.T) {
	store := NewStore([]string{"CC=cc-override"})
	root := NewRootScope(store, "/root")
	root.SetEager("CC", "gcc")
	child := root.Child("/root/sub")
	root.SetLazy("FLAGS", "-O2")

	t.Setenv("YMAKE_TEST_ENV_ONLY", "from-env")

	cases := []struct {
		name string
		line string
		want string
	}{
		{"override beats scope", "$(CC)", "cc-override"},
		{"ancestor scope lookup", "$(FLAGS)", "-O2"},
		{"dollar form", "prefix-$FLAGS$-suffix", "prefix--O2-suffix"},
		{"falls through to environment", "$(YMAKE_TEST_ENV_ONLY)", "from-env"},
		{"undefined expands empty", "[$(NOPE)]", "[]"},
		{"escaped dollar", "$$(CC)", "$(CC)"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _, err := Expand(child, tc.line, 0)
			if err != nil {
				t.Fatalf("Expand(%q): %v", tc.line, err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Expand(%q) mismatch (-want +got):\n%s", tc.line, diff)
			}
		})
	}
}

func TestExpandUndefinedDiagnostic(t *testing.T) {
	root := NewRootScope(nil, "/root")
	_, undefined, err := Expand(root, "$(MISSING) and $(ALSO_MISSING)", 0)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := []string{"MISSING", "ALSO_MISSING"}
	if diff := cmp.Diff(want, undefined); diff != "" {
		t.Errorf("undefined names mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandTooDeep(t *testing.T) {
	root := NewRootScope(nil, "/root")
	root.SetLazy("A", "$(B)")
	root.SetLazy("B", "$(A)")

	_, _, err := Expand(root, "$(A)", 0)
	if err == nil {
		t.Fatal("expected VariableExpansionTooDeep error, got nil")
	}
}
