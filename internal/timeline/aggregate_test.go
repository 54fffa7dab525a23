package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roomline/internal/ir"
)

func edit(id ir.EventID, sender ir.UserID, ts ir.Timestamp, seq int64) *record {
	return &record{
		eventID: id, sender: sender, ts: ts, seq: seq, kind: recordRelation,
		relation: &relation{typ: ir.RelationEdit, target: "$1", newContent: &ir.MessageContent{Body: string(id)}},
	}
}

func TestWinningEdit(t *testing.T) {
	g := &aggregation{edits: []*record{
		edit("$a", alice, 10, 1),
		edit("$b", alice, 20, 2),
		edit("$c", alice, 20, 3),
		edit("$d", bob, 99, 4),
	}}
	assert.Equal(t, ir.EventID("$c"), g.winningEdit(alice).eventID, "ties break by seq")
	assert.Equal(t, ir.EventID("$d"), g.winningEdit(bob).eventID)

	var none *aggregation
	assert.Nil(t, none.winningEdit(alice))
}

func newTestAggregator(maxPending int, items ...ir.ItemKey) *aggregator {
	have := make(map[ir.ItemKey]bool)
	for _, k := range items {
		have[k] = true
	}
	return newAggregator(maxPending,
		func(k ir.ItemKey) bool { return have[k] },
		func(id ir.EventID) ir.ItemKey { return ir.KeyForEvent(id) },
	)
}

func reaction(id, target ir.EventID, sender ir.UserID, key string) *record {
	return &record{
		eventID: id, sender: sender, kind: recordRelation,
		relation: &relation{typ: ir.RelationReaction, target: target, key: key},
	}
}

func TestAggregator_RelateAndRedact(t *testing.T) {
	a := newTestAggregator(0, "$1")

	eff, key := a.apply(reaction("$r", "$1", bob, "+1"))
	assert.Equal(t, effectUpdatesTarget, eff)
	assert.Equal(t, ir.ItemKey("$1"), key)

	eff, _ = a.apply(reaction("$r", "$1", bob, "+1"))
	assert.Equal(t, effectIgnored, eff, "duplicates are ignored")

	eff, key = a.redact("$r", redaction{})
	assert.Equal(t, effectUpdatesTarget, eff)
	assert.Equal(t, ir.ItemKey("$1"), key)
	assert.Empty(t, a.get("$1").reactionGroups())

	eff, _ = a.apply(reaction("$r", "$1", bob, "+1"))
	assert.Equal(t, effectIgnored, eff, "a redacted relation never comes back")
}

func TestAggregator_PendingAndEviction(t *testing.T) {
	a := newTestAggregator(2)

	for _, target := range []ir.EventID{"$a", "$b", "$c"} {
		eff, _ := a.apply(reaction("$r"+target, target, bob, "+1"))
		assert.Equal(t, effectIgnored, eff)
	}
	assert.Equal(t, 2, a.pendingCount())
	assert.Equal(t, 1, a.evicted)
	assert.Nil(t, a.get("$a"))
	_, indexed := a.relations["$r$a"]
	assert.False(t, indexed, "evicted relations leave the index")
}

func TestAggregator_Rekey(t *testing.T) {
	a := newTestAggregator(0)
	a.tombstone(ir.KeyForTxn("t1"), redaction{reason: "x"})
	a.apply(reaction("$r", "$1", bob, "+1"))

	a.rekey(ir.KeyForTxn("t1"), "$1")
	g := a.get("$1")
	require.NotNil(t, g)
	assert.Equal(t, "x", g.tombstone.reason)
	assert.Len(t, g.reactions, 1)
	assert.Nil(t, a.get(ir.KeyForTxn("t1")))
}
