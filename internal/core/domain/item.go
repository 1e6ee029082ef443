package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ItemStatus string

const (
	ItemStatusActive    ItemStatus = "Active"
	ItemStatusCancelled ItemStatus = "Cancelled"
)

// itemListSchemaVersion is the envelope version written by EncodeItems.
const itemListSchemaVersion = 1

var ErrUnsupportedItemSchema = errors.New("unsupported item list schema")

// OrderItem is one line of an order. A line is identified by product, unit
// price and spice level; AmendmentVersion records the round that introduced
// it and is nil until stamped.
type OrderItem struct {
	ProductID        string          `json:"productId"`
	Name             string          `json:"name,omitempty"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	SpiceLevel       string          `json:"spiceLevel,omitempty"`
	AmendmentVersion *int            `json:"amendmentVersion,omitempty"`
	ItemStatus       ItemStatus      `json:"itemStatus,omitempty"`
	Created          time.Time       `json:"created,omitzero"`

	// IsNew marks a row added in the current UI session. It must never be
	// persisted.
	IsNew bool `json:"isNew,omitempty"`
}

func (i *OrderItem) UnmarshalJSON(data []byte) error {
	type plain OrderItem
	var aux struct {
		plain
		LegacySpice string `json:"spice_level"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*i = OrderItem(aux.plain)
	if i.SpiceLevel == "" {
		i.SpiceLevel = aux.LegacySpice
	}
	if i.ItemStatus == "" {
		i.ItemStatus = ItemStatusActive
	}
	return nil
}

func (i OrderItem) Cancelled() bool {
	return i.ItemStatus == ItemStatusCancelled
}

// Version returns the amendment round, 0 when unset.
func (i OrderItem) Version() int {
	if i.AmendmentVersion == nil {
		return 0
	}
	return *i.AmendmentVersion
}

func (i OrderItem) HasVersion() bool {
	return i.AmendmentVersion != nil
}

// WithVersion returns a copy of i tagged with round v.
func (i OrderItem) WithVersion(v int) OrderItem {
	i.AmendmentVersion = &v
	return i
}

// NormalizedSpice folds case and whitespace so legacy spellings compare equal.
func (i OrderItem) NormalizedSpice() string {
	return strings.ToLower(strings.TrimSpace(i.SpiceLevel))
}

// SameLine reports whether a and b describe the same dish: product, unit
// price and spice level. The amendment version is not considered.
func SameLine(a, b OrderItem) bool {
	return a.ProductID == b.ProductID &&
		a.UnitPrice.Equal(b.UnitPrice) &&
		a.NormalizedSpice() == b.NormalizedSpice()
}

func sameVersion(a, b OrderItem) bool {
	if a.HasVersion() != b.HasVersion() {
		return false
	}
	return a.Version() == b.Version()
}

// ItemList is the ordered line-item state of an order.
type ItemList []OrderItem

func (l ItemList) Clone() ItemList {
	if l == nil {
		return nil
	}
	out := make(ItemList, len(l))
	for i, item := range l {
		if item.AmendmentVersion != nil {
			item = item.WithVersion(*item.AmendmentVersion)
		}
		out[i] = item
	}
	return out
}

// Persistable returns a copy with the transient IsNew flag cleared.
func (l ItemList) Persistable() ItemList {
	out := l.Clone()
	for i := range out {
		out[i].IsNew = false
		if out[i].ItemStatus == "" {
			out[i].ItemStatus = ItemStatusActive
		}
	}
	return out
}

// StampUnversioned tags every unversioned line with round v. Lines without a
// creation time get now.
func (l ItemList) StampUnversioned(v int, now time.Time) ItemList {
	out := l.Clone()
	for i := range out {
		if !out[i].HasVersion() {
			out[i] = out[i].WithVersion(v)
		}
		if out[i].Created.IsZero() {
			out[i].Created = now
		}
	}
	return out
}

// ActiveQuantities sums active quantities per product.
func (l ItemList) ActiveQuantities() map[string]int {
	qty := make(map[string]int)
	for _, item := range l {
		if item.Cancelled() {
			continue
		}
		qty[item.ProductID] += item.Quantity
	}
	return qty
}

func (l ItemList) TotalActive() int {
	total := 0
	for _, item := range l {
		if !item.Cancelled() {
			total += item.Quantity
		}
	}
	return total
}

// SameLines reports whether both lists hold the same lines in the same order,
// ignoring creation times and versions missing on either side.
func (l ItemList) SameLines(other ItemList) bool {
	if len(l) != len(other) {
		return false
	}
	for i := range l {
		a, b := l[i], other[i]
		if !SameLine(a, b) || a.Quantity != b.Quantity || a.Cancelled() != b.Cancelled() {
			return false
		}
		if a.HasVersion() && b.HasVersion() && a.Version() != b.Version() {
			return false
		}
	}
	return true
}

type itemEnvelope struct {
	V     int      `json:"v"`
	Items ItemList `json:"items"`
}

// EncodeItems serializes l in the versioned envelope used for storage.
func EncodeItems(l ItemList) (string, error) {
	items := l.Persistable()
	if items == nil {
		items = ItemList{}
	}
	b, err := json.Marshal(itemEnvelope{V: itemListSchemaVersion, Items: items})
	if err != nil {
		return "", fmt.Errorf("encode items: %w", err)
	}
	return string(b), nil
}

// DecodeItems reads either the versioned envelope or a bare legacy array.
func DecodeItems(raw string) (ItemList, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return ItemList{}, nil
	}

	if strings.HasPrefix(raw, "[") {
		var items ItemList
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("decode legacy items: %w", err)
		}
		return items, nil
	}

	var env itemEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if env.V > itemListSchemaVersion {
		return nil, fmt.Errorf("%w: v%d", ErrUnsupportedItemSchema, env.V)
	}
	if env.Items == nil {
		env.Items = ItemList{}
	}
	return env.Items, nil
}

// StockDelta is a signed stock movement for one product. Positive Consumed
// takes stock, negative gives it back.
type StockDelta struct {
	ProductID string
	Consumed  int
}

// SumConsumed totals the signed consumption across deltas.
func SumConsumed(deltas []StockDelta) int {
	total := 0
	for _, d := range deltas {
		total += d.Consumed
	}
	return total
}

// collectDeltas drops zero movements and orders by product for stable writes.
func collectDeltas(consumed map[string]int) []StockDelta {
	deltas := make([]StockDelta, 0, len(consumed))
	for product, n := range consumed {
		if n == 0 {
			continue
		}
		deltas = append(deltas, StockDelta{ProductID: product, Consumed: n})
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].ProductID < deltas[j].ProductID })
	return deltas
}

// QuantityDeltas returns the stock movement needed to go from holding before
// to holding after.
func QuantityDeltas(before, after map[string]int) []StockDelta {
	consumed := make(map[string]int, len(after))
	for product, n := range after {
		consumed[product] += n
	}
	for product, n := range before {
		consumed[product] -= n
	}
	return collectDeltas(consumed)
}
