// Package flow implements the flow execution engine: entry-block
// resolution, the per-conversation state machine and the auto-forward
// runner that plays chained announcement blocks.
package flow

import (
	"github.com/conversia/conversia/internal/models"
)

// ResolveEntryBlock computes the entry block of a flow: the first block,
// in input order, that no successor field references. If every block has
// an incoming edge (e.g. a single cyclic component) the first block in
// input order is used. Deterministic for a given input order.
func ResolveEntryBlock(blocks []models.Block) *models.Block {
	if len(blocks) == 0 {
		return nil
	}

	inDegree := make(map[string]int, len(blocks))
	for i := range blocks {
		b := &blocks[i]
		for _, ref := range successorIDs(b) {
			inDegree[ref]++
		}
	}

	for i := range blocks {
		if inDegree[blocks[i].ID] == 0 {
			return &blocks[i]
		}
	}
	return &blocks[0]
}

// ResolveBlock looks a block up by exact id match. Returns nil when the
// id is absent; callers must treat that as stale conversation state.
func ResolveBlock(blocks []models.Block, id string) *models.Block {
	if id == "" {
		return nil
	}
	for i := range blocks {
		if blocks[i].ID == id {
			return &blocks[i]
		}
	}
	return nil
}

// successorIDs collects every non-empty outgoing reference of a block.
func successorIDs(b *models.Block) []string {
	refs := make([]string, 0, 3+len(b.NextOptions))
	for _, id := range []string{b.Next, b.NextYes, b.NextNo} {
		if id != "" {
			refs = append(refs, id)
		}
	}
	for _, id := range b.NextOptions {
		if id != "" {
			refs = append(refs, id)
		}
	}
	return refs
}
