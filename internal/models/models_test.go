package models

import "testing"

func TestBlockText(t *testing.T) {
	b := Block{Content: "c", Question: "q", Title: "t"}
	if got := b.Text(false); got != "c" {
		t.Errorf("Text(false) = %q, want %q", got, "c")
	}
	if got := b.Text(true); got != "c" {
		t.Errorf("Text(true) = %q, want %q", got, "c")
	}

	b = Block{Question: "q", Title: "t"}
	if got := b.Text(true); got != "q" {
		t.Errorf("Text(true) without content = %q, want %q", got, "q")
	}
	// Later blocks never fall back to the legacy aliases.
	if got := b.Text(false); got != "" {
		t.Errorf("Text(false) without content = %q, want empty", got)
	}

	b = Block{Title: "t"}
	if got := b.Text(true); got != "t" {
		t.Errorf("Text(true) with title only = %q, want %q", got, "t")
	}
}

func TestBlockMatchOption(t *testing.T) {
	b := Block{NextOptions: map[string]string{"Sim": "B", "Não": "C"}}

	cases := []struct {
		input  string
		target string
		ok     bool
	}{
		{"sim", "B", true},
		{" Sim ", "B", true},
		{"SIM", "B", true},
		{"simm", "", false},
		{"si", "", false},
		{"não", "C", true},
		{"", "", false},
	}
	for _, c := range cases {
		target, ok := b.MatchOption(c.input)
		if ok != c.ok || target != c.target {
			t.Errorf("MatchOption(%q) = (%q, %v), want (%q, %v)", c.input, target, ok, c.target, c.ok)
		}
	}
}

func TestFlowRunnable(t *testing.T) {
	f := Flow{IsActive: true, FlowData: FlowData{Blocks: []Block{{ID: "A"}}}}
	if !f.Runnable() {
		t.Error("active flow with blocks should be runnable")
	}
	f.IsActive = false
	if f.Runnable() {
		t.Error("inactive flow should not be runnable")
	}
	f = Flow{IsActive: true}
	if f.Runnable() {
		t.Error("active flow without blocks should not be runnable")
	}
}

func TestFlowValidate(t *testing.T) {
	f := Flow{FlowData: FlowData{Blocks: []Block{{ID: "A"}, {ID: "B"}}}}
	if err := f.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	f = Flow{FlowData: FlowData{Blocks: []Block{{ID: "A"}, {ID: "A"}}}}
	if err := f.Validate(); err != ErrDuplicateBlockID {
		t.Errorf("expected ErrDuplicateBlockID, got %v", err)
	}
	f = Flow{FlowData: FlowData{Blocks: []Block{{}}}}
	if err := f.Validate(); err != ErrEmptyBlockID {
		t.Errorf("expected ErrEmptyBlockID, got %v", err)
	}
}

func TestBlockTypeIsInteractive(t *testing.T) {
	if BlockTypeMessage.IsInteractive() {
		t.Error("message blocks should not be interactive")
	}
	if !BlockTypeQuestion.IsInteractive() {
		t.Error("question blocks should be interactive")
	}
	if !BlockTypeYesNo.IsInteractive() {
		t.Error("yes_no blocks should be interactive")
	}
	if BlockType("whatever").IsInteractive() {
		t.Error("unknown block types should not be interactive")
	}
}
