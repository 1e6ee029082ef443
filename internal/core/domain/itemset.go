package domain

// DetectCancellations merges the lines a device removed back into incoming
// as tombstones. An existing active line survives when incoming still holds
// the same dish in the same amendment round; otherwise it is cancelled with
// its original version so it stays in the round it was ordered in.
// An incoming line without a version comes from a client that does not track
// rounds and matches any round. Existing tombstones are always carried
// forward. Tombstones already present in incoming are not duplicated, so
// repeated diffs are stable.
func DetectCancellations(existing, incoming ItemList) ItemList {
	merged := incoming.Clone()
	if merged == nil {
		merged = ItemList{}
	}

	for _, old := range existing.Clone() {
		old.IsNew = false
		if !old.Cancelled() {
			if stillPresent(incoming, old) {
				continue
			}
			old.ItemStatus = ItemStatusCancelled
		}
		if !containsTombstone(merged, old) {
			merged = append(merged, old)
		}
	}
	return merged
}

func stillPresent(incoming ItemList, old OrderItem) bool {
	for _, item := range incoming {
		if SameLine(item, old) && (!item.HasVersion() || sameVersion(item, old)) {
			return true
		}
	}
	return false
}

func containsTombstone(list ItemList, tomb OrderItem) bool {
	for _, item := range list {
		if item.Cancelled() && SameLine(item, tomb) && sameVersion(item, tomb) && item.Quantity == tomb.Quantity {
			return true
		}
	}
	return false
}
