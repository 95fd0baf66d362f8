package relay

import (
	"context"
	"strings"
	"testing"

	"github.com/jholhewres/relaybot/pkg/relaybot/state"
)

func runCommand(t *testing.T, c *Commands, body string) CommandResult {
	t.Helper()
	res, err := c.Handle(context.Background(), text(body))
	if err != nil {
		t.Fatalf("Handle(%q): %v", body, err)
	}
	return res
}

func TestCommandsBranchLifecycle(t *testing.T) {
	store := state.NewMemoryStore()
	c := NewCommands(store, "main")
	ctx := context.Background()

	res := runCommand(t, c, "/structure")
	if !res.Handled || !strings.Contains(res.Response, "No branches yet") {
		t.Fatalf("empty structure = %+v", res)
	}

	res = runCommand(t, c, "/new_branch core --description \"Core platform work\"")
	if !strings.HasPrefix(res.Response, "✅") {
		t.Fatalf("new_branch core = %q", res.Response)
	}
	res = runCommand(t, c, "/new_branch api --parent core")
	if !strings.HasPrefix(res.Response, "✅") {
		t.Fatalf("new_branch api = %q", res.Response)
	}

	sc, _ := store.Get(ctx, "telegram:42")
	if sc.CurrentBranch != "api" {
		t.Errorf("current branch = %q, want api", sc.CurrentBranch)
	}
	list, _ := store.Branches(ctx, "telegram:42")
	if len(list) != 2 || list[0].Description != "Core platform work" || list[1].CreatedBy != "7" {
		t.Errorf("branches = %+v", list)
	}

	for body, want := range map[string]string{
		"/new_branch core":              "already exists",
		"/new_branch x --parent nope":   "not found",
		"/new_branch bad/id":            "Invalid branch id",
		"/new_branch":                   "Usage",
		"/new_branch y --parent":        "needs a value",
		"/switch":                       "Usage",
		"/switch no/pe":                 "Invalid branch id",
		"/new_branch a b":               "unexpected argument",
		"/new_branch z --parent=bad id": "unexpected argument",
	} {
		if res := runCommand(t, c, body); !strings.Contains(res.Response, want) {
			t.Errorf("%q -> %q, want it to contain %q", body, res.Response, want)
		}
	}

	res = runCommand(t, c, "/switch Release-2")
	if res.Response != "Switched to branch release-2" {
		t.Errorf("switch = %q", res.Response)
	}
	sc, _ = store.Get(ctx, "telegram:42")
	if sc.CurrentBranch != "release-2" {
		t.Errorf("current branch = %q", sc.CurrentBranch)
	}

	res = runCommand(t, c, "/structure@relay_bot")
	want := "Branch structure:\n\n" +
		"• core (core)\n" +
		"  • api (api)\n" +
		"• release-2 (release-2) ← current"
	if res.Response != want {
		t.Errorf("structure =\n%s\nwant\n%s", res.Response, want)
	}
}

func TestCommandsBranchIDsIgnoreCase(t *testing.T) {
	store := state.NewMemoryStore()
	c := NewCommands(store, "main")
	ctx := context.Background()

	if res := runCommand(t, c, "/new_branch Release"); !strings.HasPrefix(res.Response, "✅") {
		t.Fatalf("new_branch Release = %q", res.Response)
	}
	if res := runCommand(t, c, "/new_branch release"); !strings.Contains(res.Response, "already exists") {
		t.Errorf("new_branch release = %q, want already exists", res.Response)
	}
	if res := runCommand(t, c, "/new_branch hotfix --parent RELEASE"); !strings.HasPrefix(res.Response, "✅") {
		t.Errorf("new_branch with upper-case parent = %q", res.Response)
	}
	runCommand(t, c, "/switch Release")

	list, _ := store.Branches(ctx, "telegram:42")
	if len(list) != 2 || list[0].ID != "release" || list[0].Name != "Release" {
		t.Errorf("branches = %+v", list)
	}
	sc, _ := store.Get(ctx, "telegram:42")
	if sc.CurrentBranch != "release" {
		t.Errorf("current branch = %q, want release", sc.CurrentBranch)
	}
}

func TestCommandsUnknownFallsThrough(t *testing.T) {
	c := NewCommands(state.NewMemoryStore(), "")
	for _, body := range []string{"/unknown", "hello", "/"} {
		if res := runCommand(t, c, body); res.Handled {
			t.Errorf("%q should not be handled", body)
		}
	}
	if res := runCommand(t, c, "/HELP"); !res.Handled || !strings.Contains(res.Response, "/switch") {
		t.Errorf("/HELP = %+v", res)
	}
	if res := runCommand(t, c, "/start"); !strings.Contains(res.Response, "Ann") {
		t.Errorf("/start = %q", res.Response)
	}
}

func TestDispatchCommandBeforeFilter(t *testing.T) {
	comp, s := &fakeCompleter{reply: "llm"}, &fakeSender{}
	d := newTestDispatcher(comp, s, state.NewMemoryStore())

	if err := d.Dispatch(context.Background(), text("/switch dev")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(comp.calls) != 0 || len(s.sent) != 1 || s.sent[0].msg.Content != "Switched to branch dev" {
		t.Fatalf("calls=%d sent=%+v", len(comp.calls), s.sent)
	}

	if err := d.Dispatch(context.Background(), text("/ask what now")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(comp.calls) != 1 || !strings.Contains(comp.calls[0].system, "dev branch") {
		t.Errorf("unknown command should reach the completion on branch dev: %+v", comp.calls)
	}
}

func TestSplitArgs(t *testing.T) {
	got := splitArgs(`/new_branch x --description "two words"  --parent p`)
	want := []string{"/new_branch", "x", "--description", "two words", "--parent", "p"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("splitArgs = %q", got)
	}
}
