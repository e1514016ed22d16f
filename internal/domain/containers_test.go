package domain

import (
	"testing"
	"time"
)

func TestDrawVolumeOpensSealedContainerWhenNoPartialExists(t *testing.T) {
	ledger := ContainerLedger{Full: 5}
	at := time.Now().UTC()

	id := ledger.DrawVolume(50, 10, "TX-1", "pharmacist", at)

	if ledger.Full != 4 {
		t.Fatalf("expected 4 sealed containers, got %d", ledger.Full)
	}
	if len(ledger.Partial) != 1 {
		t.Fatalf("expected 1 open container, got %d", len(ledger.Partial))
	}
	open := ledger.Partial[0]
	if open.ID != id {
		t.Fatalf("returned container id %s does not match ledger entry %s", id, open.ID)
	}
	if open.Remaining != 40 {
		t.Fatalf("expected remaining 40, got %v", open.Remaining)
	}
	if open.Status != ContainerStatusPartial {
		t.Fatalf("expected status partial, got %s", open.Status)
	}
	if len(open.SaleHistory) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(open.SaleHistory))
	}
}

func TestDrawVolumePrefersOpenContainerOverSealed(t *testing.T) {
	ledger := ContainerLedger{Full: 5}
	at := time.Now().UTC()

	ledger.DrawVolume(50, 10, "TX-1", "pharmacist", at)
	ledger.DrawVolume(50, 25, "TX-2", "pharmacist", at)
	ledger.DrawVolume(50, 10, "TX-3", "pharmacist", at)

	if ledger.Full != 4 {
		t.Fatalf("expected sealed pool untouched at 4, got %d", ledger.Full)
	}
	if len(ledger.Partial) != 1 {
		t.Fatalf("expected all draws from one open container, got %d", len(ledger.Partial))
	}
	open := ledger.Partial[0]
	if open.Remaining != 5 {
		t.Fatalf("expected remaining 5, got %v", open.Remaining)
	}
	if len(open.SaleHistory) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(open.SaleHistory))
	}
}

func TestDrawVolumeExhaustedContainerStaysInLedger(t *testing.T) {
	ledger := ContainerLedger{Full: 1}
	at := time.Now().UTC()

	ledger.DrawVolume(30, 30, "TX-1", "pharmacist", at)

	if len(ledger.Partial) != 1 {
		t.Fatalf("expected emptied container to remain, got %d entries", len(ledger.Partial))
	}
	if ledger.Partial[0].Status != ContainerStatusEmpty {
		t.Fatalf("expected status empty, got %s", ledger.Partial[0].Status)
	}

	// Next draw opens nothing and goes oversold on the last known container.
	ledger.DrawVolume(30, 5, "TX-2", "pharmacist", at)
	if ledger.Partial[0].Remaining != -5 {
		t.Fatalf("expected remaining -5, got %v", ledger.Partial[0].Remaining)
	}
	if ledger.Partial[0].Status != ContainerStatusOversold {
		t.Fatalf("expected status oversold, got %s", ledger.Partial[0].Status)
	}
}

func TestDrawVolumeWithNoContainersAtAllCreatesSyntheticEntry(t *testing.T) {
	ledger := ContainerLedger{}
	at := time.Now().UTC()

	id := ledger.DrawVolume(50, 20, "TX-1", "pharmacist", at)

	if len(ledger.Partial) != 1 {
		t.Fatalf("expected synthetic container entry, got %d", len(ledger.Partial))
	}
	if ledger.Partial[0].ID != id {
		t.Fatalf("expected returned id to match ledger entry")
	}
	if ledger.Partial[0].Remaining != -20 {
		t.Fatalf("expected remaining -20, got %v", ledger.Partial[0].Remaining)
	}
	if ledger.Partial[0].Status != ContainerStatusOversold {
		t.Fatalf("expected status oversold, got %s", ledger.Partial[0].Status)
	}
}

func TestDrawLargerThanRemainingStaysOnOneContainer(t *testing.T) {
	ledger := ContainerLedger{Full: 2}
	at := time.Now().UTC()

	ledger.DrawVolume(50, 45, "TX-1", "pharmacist", at)
	ledger.DrawVolume(50, 20, "TX-2", "pharmacist", at)

	if ledger.Full != 1 {
		t.Fatalf("expected 1 sealed container left, got %d", ledger.Full)
	}
	if len(ledger.Partial) != 1 {
		t.Fatalf("oversized draw must not spill into a second container")
	}
	if ledger.Partial[0].Remaining != -15 {
		t.Fatalf("expected remaining -15, got %v", ledger.Partial[0].Remaining)
	}
}

func TestRestoreVolumeTargetsRecordedContainer(t *testing.T) {
	ledger := ContainerLedger{Full: 2}
	at := time.Now().UTC()

	drawn := ledger.DrawVolume(50, 10, "TX-1", "pharmacist", at)
	before := ledger.Partial[0].Remaining

	restored := ledger.RestoreVolume(50, 10, drawn, "CANCEL-TX-1", "admin", at)

	if restored != drawn {
		t.Fatalf("expected restore into container %s, got %s", drawn, restored)
	}
	if ledger.Partial[0].Remaining != before+10 {
		t.Fatalf("expected remaining %v, got %v", before+10, ledger.Partial[0].Remaining)
	}
	history := ledger.Partial[0].SaleHistory
	if len(history) != 2 {
		t.Fatalf("expected restore appended to history, got %d entries", len(history))
	}
	if history[1].QuantitySold != -10 {
		t.Fatalf("expected restore recorded as negative deduction, got %v", history[1].QuantitySold)
	}
}

func TestRestoreVolumeFallsBackToLastOpenedContainer(t *testing.T) {
	ledger := ContainerLedger{Full: 2}
	at := time.Now().UTC()

	ledger.DrawVolume(50, 50, "TX-1", "pharmacist", at)
	ledger.DrawVolume(50, 10, "TX-2", "pharmacist", at)

	restored := ledger.RestoreVolume(50, 10, "btl-missing", "CANCEL-TX-2", "admin", at)

	last := ledger.Partial[len(ledger.Partial)-1]
	if restored != last.ID {
		t.Fatalf("expected fallback to most recently opened container")
	}
	if last.Remaining != 50 {
		t.Fatalf("expected remaining 50 after restore, got %v", last.Remaining)
	}
}

func TestRestoreVolumeOnEmptyLedgerCreatesEntry(t *testing.T) {
	ledger := ContainerLedger{}
	at := time.Now().UTC()

	id := ledger.RestoreVolume(50, 10, "", "CANCEL-TX-1", "admin", at)

	if len(ledger.Partial) != 1 {
		t.Fatalf("expected restore to create a container entry")
	}
	if ledger.Partial[0].ID != id || ledger.Partial[0].Remaining != 10 {
		t.Fatalf("unexpected restored container state: %+v", ledger.Partial[0])
	}
}

func TestCloneDoesNotAliasHistory(t *testing.T) {
	ledger := ContainerLedger{Full: 1}
	at := time.Now().UTC()
	ledger.DrawVolume(50, 10, "TX-1", "pharmacist", at)

	dup := ledger.Clone()
	dup.Partial[0].SaleHistory[0].QuantitySold = 999
	dup.Partial[0].Remaining = 0

	if ledger.Partial[0].SaleHistory[0].QuantitySold == 999 {
		t.Fatalf("clone shares sale history with original")
	}
	if ledger.Partial[0].Remaining == 0 {
		t.Fatalf("clone shares container state with original")
	}
}
