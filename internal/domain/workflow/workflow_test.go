package workflow

import "testing"

func TestValidateID(t *testing.T) {
	valid := []string{"unread-inbox", "a", "triage-2"}
	for _, id := range valid {
		if err := ValidateID(id); err != nil {
			t.Fatalf("expected %q to be valid: %v", id, err)
		}
	}
	invalid := []string{"", "Unread", "unread_inbox", "-lead", "trail-", "double--dash"}
	for _, id := range invalid {
		if err := ValidateID(id); err == nil {
			t.Fatalf("expected %q to be rejected", id)
		}
	}
}

func TestLabelFallsBackToID(t *testing.T) {
	def := Definition{ID: "triage"}
	if def.Label() != "triage" {
		t.Fatalf("unexpected label %q", def.Label())
	}
	def.DisplayName = "Triage"
	if def.Label() != "Triage" {
		t.Fatalf("unexpected label %q", def.Label())
	}
}

func TestDefaultsAreValid(t *testing.T) {
	defaults := Defaults()
	if len(defaults) == 0 {
		t.Fatal("expected built-in definitions")
	}
	for id, def := range defaults {
		if def.ID != id {
			t.Fatalf("definition keyed %q carries id %q", id, def.ID)
		}
		if err := def.Validate(); err != nil {
			t.Fatalf("default %q invalid: %v", id, err)
		}
	}
}

func TestParseActionKind(t *testing.T) {
	kind, ok := ParseActionKind(" Archive ")
	if !ok || kind != ActionArchive {
		t.Fatalf("unexpected parse result %q %v", kind, ok)
	}
	if _, ok := ParseActionKind("forward"); ok {
		t.Fatal("expected unknown kind to be rejected")
	}
}

func TestAdvances(t *testing.T) {
	cases := map[ActionKind]bool{
		ActionView:    false,
		ActionReply:   true,
		ActionArchive: true,
		ActionSkip:    true,
		ActionQuit:    false,
	}
	for kind, want := range cases {
		if kind.Advances() != want {
			t.Fatalf("%s advances = %v, want %v", kind, kind.Advances(), want)
		}
	}
}

func TestProgressAt(t *testing.T) {
	cases := []struct {
		cursor, total int
		want          Progress
	}{
		{0, 3, Progress{1, 3, 2}},
		{2, 3, Progress{3, 3, 0}},
		{3, 3, Progress{3, 3, 0}},
		{0, 0, Progress{}},
	}
	for _, tc := range cases {
		if got := ProgressAt(tc.cursor, tc.total); got != tc.want {
			t.Fatalf("ProgressAt(%d,%d) = %+v, want %+v", tc.cursor, tc.total, got, tc.want)
		}
	}
}

func TestReplyBody(t *testing.T) {
	req := ActionRequest{Kind: ActionReply, Payload: map[string]any{"body": "thanks"}}
	body, ok := req.ReplyBody()
	if !ok || body != "thanks" {
		t.Fatalf("unexpected body %q %v", body, ok)
	}
	if _, ok := (ActionRequest{Kind: ActionReply, Payload: map[string]any{"body": "  "}}).ReplyBody(); ok {
		t.Fatal("expected blank body to be rejected")
	}
}
