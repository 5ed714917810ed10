package storage

import (
	"errors"
	"testing"
	"time"
)

func TestRecordAndGetTransfer(t *testing.T) {
	store := newTestStore(t)

	remote := "192.168.1.30"
	id := mustRecordTransfer(t, store, Transfer{
		Direction:  DirectionReceive,
		Filename:   "notes.txt",
		Size:       42,
		Checksum:   "abc123",
		RemoteAddr: &remote,
		StartedAt:  1_000,
		FinishedAt: 2_000,
	})
	if id == "" {
		t.Fatalf("expected generated transfer id")
	}

	got, err := store.GetTransfer(id)
	if err != nil {
		t.Fatalf("GetTransfer failed: %v", err)
	}
	if got.Status != StatusComplete {
		t.Fatalf("expected default status complete, got %q", got.Status)
	}
	if got.RemoteAddr == nil || *got.RemoteAddr != remote {
		t.Fatalf("unexpected remote addr %v", got.RemoteAddr)
	}
	if got.Error != nil {
		t.Fatalf("expected nil error text, got %q", *got.Error)
	}
	if got.StartedAt != 1_000 || got.FinishedAt != 2_000 {
		t.Fatalf("unexpected timestamps %+v", got)
	}
}

func TestGetTransferNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetTransfer("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordTransferValidatesInput(t *testing.T) {
	store := newTestStore(t)

	cases := map[string]Transfer{
		"missing filename":  {Direction: DirectionSend},
		"invalid direction": {Direction: "sideways", Filename: "a.txt"},
		"invalid status":    {Direction: DirectionSend, Filename: "a.txt", Status: "pending"},
	}
	for name, transfer := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := store.RecordTransfer(transfer); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestListTransfersNewestFirstWithFilters(t *testing.T) {
	store := newTestStore(t)

	reason := "payload too large"
	mustRecordTransfer(t, store, Transfer{Direction: DirectionReceive, Filename: "a.bin", FinishedAt: 1_000})
	mustRecordTransfer(t, store, Transfer{Direction: DirectionSend, Filename: "a.bin", FinishedAt: 2_000})
	mustRecordTransfer(t, store, Transfer{
		Direction:  DirectionReceive,
		Filename:   "huge.iso",
		Status:     StatusRejected,
		Error:      &reason,
		FinishedAt: 3_000,
	})

	all, err := store.ListTransfers(TransferFilter{})
	if err != nil {
		t.Fatalf("ListTransfers failed: %v", err)
	}
	if len(all) != 3 || all[0].Filename != "huge.iso" || all[2].FinishedAt != 1_000 {
		t.Fatalf("unexpected ordering: %+v", all)
	}

	received, err := store.ListTransfers(TransferFilter{Direction: DirectionReceive})
	if err != nil {
		t.Fatalf("ListTransfers by direction failed: %v", err)
	}
	if len(received) != 2 {
		t.Fatalf("expected 2 received transfers, got %d", len(received))
	}

	rejected, err := store.ListTransfers(TransferFilter{Status: StatusRejected})
	if err != nil {
		t.Fatalf("ListTransfers by status failed: %v", err)
	}
	if len(rejected) != 1 || rejected[0].Error == nil || *rejected[0].Error != reason {
		t.Fatalf("unexpected rejected transfers %+v", rejected)
	}

	byName, err := store.ListTransfers(TransferFilter{Filename: "a.bin", Limit: 1})
	if err != nil {
		t.Fatalf("ListTransfers by filename failed: %v", err)
	}
	if len(byName) != 1 || byName[0].Direction != DirectionSend {
		t.Fatalf("expected newest a.bin transfer only, got %+v", byName)
	}

	if _, err := store.ListTransfers(TransferFilter{Status: "bogus"}); err == nil {
		t.Fatalf("expected invalid status filter to fail")
	}
}

func TestPruneTransfersRemovesOldRows(t *testing.T) {
	store := newTestStore(t)

	old := time.Now().Add(-48 * time.Hour).UnixMilli()
	recent := time.Now().UnixMilli()
	mustRecordTransfer(t, store, Transfer{Direction: DirectionReceive, Filename: "old.txt", FinishedAt: old})
	mustRecordTransfer(t, store, Transfer{Direction: DirectionReceive, Filename: "new.txt", FinishedAt: recent})

	pruned, err := store.PruneTransfers(time.Now().Add(-24 * time.Hour).UnixMilli())
	if err != nil {
		t.Fatalf("PruneTransfers failed: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned row, got %d", pruned)
	}

	if _, err := store.PruneTransfers(0); err == nil {
		t.Fatalf("expected zero cutoff to be rejected")
	}
}

func TestMaintainAppliesRetention(t *testing.T) {
	store := newTestStore(t)
	store.SetHistoryRetention(time.Hour)

	mustRecordTransfer(t, store, Transfer{
		Direction:  DirectionSend,
		Filename:   "stale.txt",
		FinishedAt: time.Now().Add(-2 * time.Hour).UnixMilli(),
	})
	mustRecordTransfer(t, store, Transfer{Direction: DirectionSend, Filename: "fresh.txt"})

	store.maintain()

	remaining, err := store.ListTransfers(TransferFilter{})
	if err != nil {
		t.Fatalf("ListTransfers failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Filename != "fresh.txt" {
		t.Fatalf("expected only fresh.txt to remain, got %+v", remaining)
	}
}
