package domain

import "time"

// Reconciliation is the outcome of applying an approved amendment to the
// current item set.
type Reconciliation struct {
	Items  ItemList
	Deltas []StockDelta

	Added    int
	Modified int
	Removed  int
}

// ReconcileAmendment matches the approved proposal against the current lines.
//
// Each proposal line not flagged IsNew takes the first unused current line of
// the same dish (product, spice, price) and inherits its version; its stock
// movement is the quantity difference. Unmatched lines are new: unversioned
// ones are stamped with round and created at now, and their full quantity is
// consumed. Current lines left in the pool were removed this round: they are
// refunded and kept as Cancelled with their original version. Active lines
// with a non-positive quantity in the proposal count as removals, and so does
// a proposal tombstone that claims an active line.
func ReconcileAmendment(current, proposal ItemList, round int, now time.Time) Reconciliation {
	pool := current.Clone()
	used := make([]bool, len(pool))
	consumed := make(map[string]int)

	var rec Reconciliation
	items := make(ItemList, 0, len(proposal)+len(pool))

	for _, in := range proposal.Clone() {
		if !in.Cancelled() && in.Quantity <= 0 {
			continue
		}

		idx := -1
		if !in.IsNew {
			idx = matchPool(pool, used, in)
		}

		if idx >= 0 {
			used[idx] = true
			matched := pool[idx]
			in.AmendmentVersion = matched.AmendmentVersion
			if in.Created.IsZero() {
				in.Created = matched.Created
			}
			switch {
			case in.Cancelled() && !matched.Cancelled():
				in.Quantity = matched.Quantity
				consumed[in.ProductID] -= matched.Quantity
				rec.Removed++
			case !in.Cancelled():
				if delta := in.Quantity - matched.Quantity; delta != 0 {
					consumed[in.ProductID] += delta
					rec.Modified++
				}
			}
		} else if !in.Cancelled() {
			if !in.HasVersion() {
				in = in.WithVersion(round)
				in.Created = now
			}
			if in.Created.IsZero() {
				in.Created = now
			}
			consumed[in.ProductID] += in.Quantity
			rec.Added++
		}

		in.IsNew = false
		items = append(items, in)
	}

	for idx, left := range pool {
		if used[idx] {
			continue
		}
		left.IsNew = false
		if !left.Cancelled() {
			consumed[left.ProductID] -= left.Quantity
			left.ItemStatus = ItemStatusCancelled
			rec.Removed++
		}
		items = append(items, left)
	}

	rec.Items = items
	rec.Deltas = collectDeltas(consumed)
	return rec
}

// matchPool finds the first unused pool line for in. Active lines only match
// active lines. A tombstone prefers an existing tombstone and otherwise
// claims an active line of the same dish, same round first, as its removal.
func matchPool(pool ItemList, used []bool, in OrderItem) int {
	for i, candidate := range pool {
		if used[i] || candidate.Cancelled() != in.Cancelled() {
			continue
		}
		if SameLine(candidate, in) {
			return i
		}
	}
	if !in.Cancelled() {
		return -1
	}

	fallback := -1
	for i, candidate := range pool {
		if used[i] || candidate.Cancelled() || !SameLine(candidate, in) {
			continue
		}
		if !in.HasVersion() || sameVersion(candidate, in) {
			return i
		}
		if fallback < 0 {
			fallback = i
		}
	}
	return fallback
}
