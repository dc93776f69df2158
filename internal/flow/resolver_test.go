package flow

import (
	"testing"

	"github.com/conversia/conversia/internal/models"
)

func TestResolveEntryBlock(t *testing.T) {
	blocks := []models.Block{
		{ID: "B", Type: models.BlockTypeQuestion, NextOptions: map[string]string{"Red": "C"}},
		{ID: "A", Type: models.BlockTypeMessage, Next: "B"},
		{ID: "C", Type: models.BlockTypeMessage},
	}
	entry := ResolveEntryBlock(blocks)
	if entry == nil || entry.ID != "A" {
		t.Fatalf("expected entry A, got %+v", entry)
	}

	// Determinism: repeated calls return the same block.
	for i := 0; i < 5; i++ {
		if e := ResolveEntryBlock(blocks); e == nil || e.ID != "A" {
			t.Fatalf("entry resolution not deterministic, got %+v", e)
		}
	}
}

func TestResolveEntryBlockAllReferenced(t *testing.T) {
	// A cycle leaves no zero-in-degree block; fall back to input order.
	blocks := []models.Block{
		{ID: "X", Type: models.BlockTypeMessage, Next: "Y"},
		{ID: "Y", Type: models.BlockTypeMessage, Next: "X"},
	}
	entry := ResolveEntryBlock(blocks)
	if entry == nil || entry.ID != "X" {
		t.Fatalf("expected fallback to first block X, got %+v", entry)
	}
}

func TestResolveEntryBlockCountsAllEdgeKinds(t *testing.T) {
	blocks := []models.Block{
		{ID: "yes", Type: models.BlockTypeMessage},
		{ID: "no", Type: models.BlockTypeMessage},
		{ID: "ask", Type: models.BlockTypeYesNo, NextYes: "yes", NextNo: "no"},
	}
	entry := ResolveEntryBlock(blocks)
	if entry == nil || entry.ID != "ask" {
		t.Fatalf("expected entry ask, got %+v", entry)
	}
}

func TestResolveEntryBlockEmpty(t *testing.T) {
	if entry := ResolveEntryBlock(nil); entry != nil {
		t.Errorf("expected nil for empty flow, got %+v", entry)
	}
}

func TestResolveBlock(t *testing.T) {
	blocks := []models.Block{{ID: "A"}, {ID: "B"}}
	if b := ResolveBlock(blocks, "B"); b == nil || b.ID != "B" {
		t.Errorf("expected block B, got %+v", b)
	}
	if b := ResolveBlock(blocks, "Z"); b != nil {
		t.Errorf("expected nil for unknown id, got %+v", b)
	}
	if b := ResolveBlock(blocks, ""); b != nil {
		t.Errorf("expected nil for empty id, got %+v", b)
	}
}
