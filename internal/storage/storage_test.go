package storage

import (
	"context"
	"testing"
	"time"
)

func TestMemorySubmissionGuard(t *testing.T) {
	guard := NewMemorySubmissionGuard(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	guard.now = func() time.Time { return now }
	ctx := context.Background()

	if _, ok, _ := guard.Lookup(ctx, "k"); ok {
		t.Fatalf("empty guard should not find keys")
	}
	sub := Submission{WalletID: "w", ChainID: "1", TxHash: "0xabc"}
	if ok, err := guard.Record(ctx, "k", sub); err != nil || !ok {
		t.Fatalf("first record should win: %v %v", ok, err)
	}
	if ok, _ := guard.Record(ctx, "k", Submission{TxHash: "0xdef"}); ok {
		t.Fatalf("second record must not overwrite")
	}
	got, ok, _ := guard.Lookup(ctx, " k ")
	if !ok || got != sub {
		t.Fatalf("unexpected lookup %+v %v", got, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := guard.Lookup(ctx, "k"); ok {
		t.Fatalf("expired keys should disappear")
	}
}

func TestNewActivityAssignsIdentity(t *testing.T) {
	a := NewActivity(ActivityWalletCreated, "w-1")
	b := NewActivity(ActivityWalletCreated, "w-1")
	if a.ID == "" || a.ID == b.ID || a.CreatedAt == 0 {
		t.Fatalf("activities need unique ids: %+v %+v", a, b)
	}
}
