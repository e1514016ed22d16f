package domain

import (
	"time"

	"github.com/sebastianliew/leaftolifecrm-sub004/internal/xid"
)

// DrawVolume deducts a volume sale from the ledger and returns the ID of the
// container it drew from. Selection order: the oldest open container that
// still has volume left, then a sealed container (opened on the spot), and
// finally the most recently opened container, which is allowed to go
// negative. Overselling is intentional and recorded, never rejected.
//
// The whole quantity is drawn from a single container; a draw larger than the
// container's remaining volume sends it oversold rather than spilling into
// the next one.
func (l *ContainerLedger) DrawVolume(capacity float64, qty float64, ref string, actor string, at time.Time) string {
	var target *Container

	for i := range l.Partial {
		if l.Partial[i].Remaining > 0 {
			target = &l.Partial[i]
			break
		}
	}

	if target == nil && l.Full > 0 {
		l.Full--
		l.Partial = append(l.Partial, Container{
			ID:        xid.New("btl"),
			Capacity:  capacity,
			Remaining: capacity,
			Status:    ContainerStatusPartial,
			OpenedAt:  at,
		})
		target = &l.Partial[len(l.Partial)-1]
	}

	if target == nil {
		if len(l.Partial) > 0 {
			target = &l.Partial[len(l.Partial)-1]
		} else {
			// Nothing was ever opened and no sealed stock exists. Track the
			// oversell against a synthetic container so the history survives.
			l.Partial = append(l.Partial, Container{
				ID:       xid.New("btl"),
				Capacity: capacity,
				Status:   ContainerStatusOversold,
				OpenedAt: at,
			})
			target = &l.Partial[len(l.Partial)-1]
		}
	}

	target.Remaining -= qty
	target.SaleHistory = append(target.SaleHistory, ContainerSale{
		TransactionRef: ref,
		QuantitySold:   qty,
		SoldAt:         at,
		SoldBy:         actor,
	})
	target.Status = containerStatus(target.Remaining)

	return target.ID
}

// RestoreVolume credits qty back to a container during reversal. It prefers
// the container recorded on the original movement; if that container is gone
// it falls back to the most recently opened one, and as a last resort opens a
// fresh entry so the restored volume is not lost. The restore is appended to
// the sale history as a negative deduction.
func (l *ContainerLedger) RestoreVolume(capacity float64, qty float64, containerID string, ref string, actor string, at time.Time) string {
	var target *Container

	if containerID != "" {
		for i := range l.Partial {
			if l.Partial[i].ID == containerID {
				target = &l.Partial[i]
				break
			}
		}
	}
	if target == nil {
		for i := len(l.Partial) - 1; i >= 0; i-- {
			target = &l.Partial[i]
			break
		}
	}
	if target == nil {
		l.Partial = append(l.Partial, Container{
			ID:       xid.New("btl"),
			Capacity: capacity,
			Status:   ContainerStatusEmpty,
			OpenedAt: at,
		})
		target = &l.Partial[len(l.Partial)-1]
	}

	target.Remaining += qty
	target.SaleHistory = append(target.SaleHistory, ContainerSale{
		TransactionRef: ref,
		QuantitySold:   -qty,
		SoldAt:         at,
		SoldBy:         actor,
	})
	target.Status = containerStatus(target.Remaining)

	return target.ID
}

func containerStatus(remaining float64) string {
	switch {
	case remaining < 0:
		return ContainerStatusOversold
	case remaining == 0:
		return ContainerStatusEmpty
	default:
		return ContainerStatusPartial
	}
}

// Clone returns a deep copy so callers can hand ledgers across store
// boundaries without aliasing the persisted slices.
func (l ContainerLedger) Clone() ContainerLedger {
	dup := ContainerLedger{Full: l.Full}
	if len(l.Partial) == 0 {
		return dup
	}
	dup.Partial = make([]Container, len(l.Partial))
	for i, c := range l.Partial {
		copied := c
		copied.SaleHistory = make([]ContainerSale, len(c.SaleHistory))
		copy(copied.SaleHistory, c.SaleHistory)
		dup.Partial[i] = copied
	}
	return dup
}
