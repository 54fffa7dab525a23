package ir

import (
	"encoding/json"
	"fmt"
)

// DiffKind names an incremental projection operation.
type DiffKind string

const (
	DiffPushBack  DiffKind = "push_back"
	DiffPushFront DiffKind = "push_front"
	DiffInsert    DiffKind = "insert"
	DiffSet       DiffKind = "set"
	DiffRemove    DiffKind = "remove"
	DiffClear     DiffKind = "clear"
	DiffReset     DiffKind = "reset"
)

// DiffOp is one operation of a diff batch.
// Applying a batch in order to a mirror of the previous projection yields
// the new projection.
type DiffOp struct {
	Kind  DiffKind
	Index int            // insert, set, remove
	Item  TimelineItem   // push_back, push_front, insert, set
	Items []TimelineItem // reset
}

// PushBack appends an item.
func PushBack(item TimelineItem) DiffOp { return DiffOp{Kind: DiffPushBack, Item: item} }

// PushFront prepends an item.
func PushFront(item TimelineItem) DiffOp { return DiffOp{Kind: DiffPushFront, Item: item} }

// Insert places an item at index.
func Insert(index int, item TimelineItem) DiffOp {
	return DiffOp{Kind: DiffInsert, Index: index, Item: item}
}

// Set replaces the item at index.
func Set(index int, item TimelineItem) DiffOp {
	return DiffOp{Kind: DiffSet, Index: index, Item: item}
}

// Remove drops the item at index.
func Remove(index int) DiffOp { return DiffOp{Kind: DiffRemove, Index: index} }

// Clear empties the projection.
func Clear() DiffOp { return DiffOp{Kind: DiffClear} }

// Reset replaces the whole projection.
func Reset(items []TimelineItem) DiffOp {
	cp := make([]TimelineItem, len(items))
	copy(cp, items)
	return DiffOp{Kind: DiffReset, Items: cp}
}

// Summary renders the op as "kind" or "kind index", the form used by
// scenario expectations.
func (op DiffOp) Summary() string {
	switch op.Kind {
	case DiffInsert, DiffSet, DiffRemove:
		return fmt.Sprintf("%s %d", op.Kind, op.Index)
	default:
		return string(op.Kind)
	}
}

// String includes the affected item.
func (op DiffOp) String() string {
	switch op.Kind {
	case DiffPushBack, DiffPushFront, DiffInsert, DiffSet:
		return op.Summary() + " " + op.Item.String()
	case DiffReset:
		return fmt.Sprintf("reset %d", len(op.Items))
	default:
		return op.Summary()
	}
}

// MarshalJSON renders only the fields meaningful for the op kind.
func (op DiffOp) MarshalJSON() ([]byte, error) {
	out := map[string]any{"op": op.Kind}
	switch op.Kind {
	case DiffPushBack, DiffPushFront:
		out["item"] = op.Item
	case DiffInsert, DiffSet:
		out["index"] = op.Index
		out["item"] = op.Item
	case DiffRemove:
		out["index"] = op.Index
	case DiffReset:
		out["items"] = op.Items
	}
	return json.Marshal(out)
}

// Summaries renders every op of a batch with Summary.
func Summaries(ops []DiffOp) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Summary()
	}
	return out
}

// ApplyDiff applies ops in order to a copy of items and returns the result.
// It is the reference mirror a subscriber maintains.
func ApplyDiff(items []TimelineItem, ops []DiffOp) ([]TimelineItem, error) {
	out := make([]TimelineItem, len(items))
	copy(out, items)

	for i, op := range ops {
		switch op.Kind {
		case DiffPushBack:
			out = append(out, op.Item)
		case DiffPushFront:
			out = append([]TimelineItem{op.Item}, out...)
		case DiffInsert:
			if op.Index < 0 || op.Index > len(out) {
				return nil, fmt.Errorf("op %d: insert index %d out of range [0,%d]", i, op.Index, len(out))
			}
			out = append(out, TimelineItem{})
			copy(out[op.Index+1:], out[op.Index:])
			out[op.Index] = op.Item
		case DiffSet:
			if op.Index < 0 || op.Index >= len(out) {
				return nil, fmt.Errorf("op %d: set index %d out of range [0,%d)", i, op.Index, len(out))
			}
			out[op.Index] = op.Item
		case DiffRemove:
			if op.Index < 0 || op.Index >= len(out) {
				return nil, fmt.Errorf("op %d: remove index %d out of range [0,%d)", i, op.Index, len(out))
			}
			out = append(out[:op.Index], out[op.Index+1:]...)
		case DiffClear:
			out = out[:0]
		case DiffReset:
			out = make([]TimelineItem, len(op.Items))
			copy(out, op.Items)
		default:
			return nil, fmt.Errorf("op %d: unknown diff kind %q", i, op.Kind)
		}
	}

	return out, nil
}
