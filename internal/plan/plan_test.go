package plan

import (
	"testing"

	"ymake/internal/variable"
)

func TestBuildStripsCombinedSigils(t *testing.T) {
	scope := variable.NewRootScope(nil, "/root")
	scope.SetEager("BIN", "app")

	cmds, err := Build(scope, []RawLine{
		{Text: "@-echo $(BIN)"},
		{Text: "-@rm -f $(BIN)"},
		{Text: "plain"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(cmds) != 3 {
		t.Fatalf("got %d commands, want 3", len(cmds))
	}

	c := cmds[0]
	if !c.Silent || !c.IgnoreErrors || c.Text != "echo app" {
		t.Errorf("cmds[0] = %+v, want Silent+IgnoreErrors text %q", c, "echo app")
	}
	c = cmds[1]
	if !c.Silent || !c.IgnoreErrors || c.Text != "rm -f app" {
		t.Errorf("cmds[1] = %+v, want Silent+IgnoreErrors text %q", c, "rm -f app")
	}
	c = cmds[2]
	if c.Silent || c.IgnoreErrors || c.Text != "plain" {
		t.Errorf("cmds[2] = %+v, want no modifiers, text %q", c, "plain")
	}
}
