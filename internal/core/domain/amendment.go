package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type AmendmentOpKind string

const (
	AmendmentOpAdd    AmendmentOpKind = "add"
	AmendmentOpDelete AmendmentOpKind = "delete"
	AmendmentOpUpdate AmendmentOpKind = "update"
)

// AmendmentOp is one change in a proposal awaiting kitchen approval.
type AmendmentOp struct {
	Op   AmendmentOpKind `json:"op"`
	Item OrderItem       `json:"item"`
}

func DecodeAmendmentOps(raw string) ([]AmendmentOp, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var ops []AmendmentOp
	if err := json.Unmarshal([]byte(raw), &ops); err != nil {
		return nil, fmt.Errorf("decode pending amendments: %w", err)
	}
	return ops, nil
}

func EncodeAmendmentOps(ops []AmendmentOp) (string, error) {
	if len(ops) == 0 {
		return "", nil
	}
	b, err := json.Marshal(ops)
	if err != nil {
		return "", fmt.Errorf("encode pending amendments: %w", err)
	}
	return string(b), nil
}

// SameOps compares two proposals by their serialized form.
func SameOps(a, b []AmendmentOp) bool {
	x, errA := EncodeAmendmentOps(a)
	y, errB := EncodeAmendmentOps(b)
	return errA == nil && errB == nil && x == y
}

// ApplyAmendmentOps builds the proposed item list from the current lines.
// Added lines are flagged IsNew so they never merge into an existing row.
// Delete and update target the first active line of the same dish, and the
// same round when the op carries a version.
func ApplyAmendmentOps(current ItemList, ops []AmendmentOp) ItemList {
	proposal := current.Clone()
	if proposal == nil {
		proposal = ItemList{}
	}

	for _, op := range ops {
		switch op.Op {
		case AmendmentOpAdd:
			item := op.Item
			item.IsNew = true
			item.ItemStatus = ItemStatusActive
			proposal = append(proposal, item)
		case AmendmentOpDelete:
			if idx := findActive(proposal, op.Item); idx >= 0 {
				proposal = append(proposal[:idx], proposal[idx+1:]...)
			}
		case AmendmentOpUpdate:
			if idx := findActive(proposal, op.Item); idx >= 0 {
				proposal[idx].Quantity = op.Item.Quantity
			}
		}
	}
	return proposal
}

func findActive(list ItemList, target OrderItem) int {
	for i, item := range list {
		if item.Cancelled() || !SameLine(item, target) {
			continue
		}
		if target.HasVersion() && !sameVersion(item, target) {
			continue
		}
		return i
	}
	return -1
}
