// Package calculator computes how a shared table's cost divides between its
// participants. Everything here is pure: callers pass a snapshot and get
// numbers back.
//
// Amounts are handled in integer cents. Tax and tip are prorated by each
// participant's assigned subtotal using the largest-remainder method, with the
// unassigned remainder treated as one more bucket, so the parts always add up
// to the table total to the cent.
package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tbourn/splitbuddy/internal/domain"
)

// Item is one priced line. AssignedTo is empty for unassigned items.
type Item struct {
	UnitPrice  float64
	Quantity   int
	AssignedTo string
}

// Input is a snapshot of a table.
type Input struct {
	Tax          float64
	Tip          float64
	Items        []Item
	Participants []string
}

// Share is one bucket of the split.
type Share struct {
	Base      float64 `json:"base"`
	Surcharge float64 `json:"surcharge"`
	Share     float64 `json:"share"`

	BaseCents      int64 `json:"base_cents"`
	SurchargeCents int64 `json:"surcharge_cents"`
	ShareCents     int64 `json:"share_cents"`
}

// Shares is the result of ComputeShares.
//
// Σ PerParticipant[p].Share + Unassigned.Share + UnallocatedSurcharge == Total
// holds exactly. UnallocatedSurcharge is non-zero only when the subtotal is
// zero, in which case there is nothing to prorate by.
type Shares struct {
	Subtotal             float64          `json:"subtotal"`
	Tax                  float64          `json:"tax"`
	Tip                  float64          `json:"tip"`
	Total                float64          `json:"total"`
	PerParticipant       map[string]Share `json:"per_participant"`
	Unassigned           Share            `json:"unassigned"`
	UnallocatedSurcharge float64          `json:"unallocated_surcharge"`
}

// FromTable builds an Input from persisted rows.
func FromTable(t domain.Table, items []domain.TableItem, participants []domain.TableParticipant) Input {
	in := Input{Tax: t.TaxAmount, Tip: t.TipAmount}
	for _, it := range items {
		var to string
		if it.AssignedTo != nil {
			to = *it.AssignedTo
		}
		in.Items = append(in.Items, Item{UnitPrice: it.UnitPrice, Quantity: it.Quantity, AssignedTo: to})
	}
	for _, p := range participants {
		in.Participants = append(in.Participants, p.UserID)
	}
	return in
}

// LineCents is the cost of an item in cents. The unit price is rounded before
// multiplying so 4.99 x 2 is exactly 9.98.
func LineCents(unitPrice float64, quantity int) int64 {
	return Cents(unitPrice) * int64(quantity)
}

// SubtotalCents sums every item's line cost.
func SubtotalCents(items []Item) int64 {
	var sum int64
	for _, it := range items {
		sum += LineCents(it.UnitPrice, it.Quantity)
	}
	return sum
}

// TableTotal is the derived total of a table: items plus tax plus tip.
func TableTotal(items []Item, tax, tip float64) float64 {
	return Amount(SubtotalCents(items) + Cents(tax) + Cents(tip))
}

type bucket struct {
	id         string
	unassigned bool
	base       int64
	surcharge  int64
	rem        decimal.Decimal
}

// ComputeShares splits a table between its participants.
func ComputeShares(in Input) Shares {
	taxC, tipC := Cents(in.Tax), Cents(in.Tip)
	surcharge := taxC + tipC

	members := make(map[string]*bucket, len(in.Participants))
	buckets := make([]*bucket, 0, len(in.Participants)+1)
	for _, p := range in.Participants {
		if _, dup := members[p]; dup {
			continue
		}
		b := &bucket{id: p}
		members[p] = b
		buckets = append(buckets, b)
	}
	rest := &bucket{unassigned: true}
	buckets = append(buckets, rest)

	var subtotal int64
	for _, it := range in.Items {
		line := LineCents(it.UnitPrice, it.Quantity)
		subtotal += line
		if b, ok := members[it.AssignedTo]; ok && it.AssignedTo != "" {
			b.base += line
		} else {
			// Assignments to non-members cannot be prorated; they stay visible
			// as unassigned cost.
			rest.base += line
		}
	}

	out := Shares{
		Subtotal:       Amount(subtotal),
		Tax:            Amount(taxC),
		Tip:            Amount(tipC),
		Total:          Amount(subtotal + surcharge),
		PerParticipant: make(map[string]Share, len(members)),
	}

	if subtotal == 0 {
		for id := range members {
			out.PerParticipant[id] = Share{}
		}
		out.UnallocatedSurcharge = Amount(surcharge)
		return out
	}

	allocate(buckets, surcharge, subtotal)

	for _, b := range buckets {
		s := Share{
			BaseCents:      b.base,
			SurchargeCents: b.surcharge,
			ShareCents:     b.base + b.surcharge,
		}
		s.Base, s.Surcharge, s.Share = Amount(s.BaseCents), Amount(s.SurchargeCents), Amount(s.ShareCents)
		if b.unassigned {
			out.Unassigned = s
		} else {
			out.PerParticipant[b.id] = s
		}
	}
	return out
}

// allocate distributes surcharge across buckets proportionally to base using
// the largest-remainder method. Ties go to the larger base, then to the lower
// participant id, with the unassigned bucket last.
func allocate(buckets []*bucket, surcharge, subtotal int64) {
	if surcharge == 0 {
		return
	}
	total := decimal.NewFromInt(surcharge)
	div := decimal.NewFromInt(subtotal)

	var given int64
	for _, b := range buckets {
		q, r := decimal.NewFromInt(b.base).Mul(total).QuoRem(div, 0)
		b.surcharge = q.IntPart()
		b.rem = r
		given += b.surcharge
	}

	order := make([]*bucket, len(buckets))
	copy(order, buckets)
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if c := a.rem.Cmp(b.rem); c != 0 {
			return c > 0
		}
		if a.base != b.base {
			return a.base > b.base
		}
		if a.unassigned != b.unassigned {
			return !a.unassigned
		}
		return a.id < b.id
	})
	for i := 0; given < surcharge; i++ {
		order[i%len(order)].surcharge++
		given++
	}
}
