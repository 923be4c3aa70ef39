package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	xerrors "ParaWallet-Chain/internal/errors"
	"ParaWallet-Chain/internal/storage"
)

func newTestConfig(t *testing.T) (Config, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return Config{Address: mr.Addr(), Prefix: "test"}, mr
}

func TestActivityRepositoryCapsList(t *testing.T) {
	cfg, mr := newTestConfig(t)
	ctx := context.Background()

	repo, err := NewActivityRepository(ctx, cfg, 3)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	defer repo.Close()

	for i := 0; i < 5; i++ {
		record := storage.NewActivity(storage.ActivityMessageSigned, "w-1")
		record.Detail = string(rune('a' + i))
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	all, err := repo.ListLatest(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Detail != "e" || all[2].Detail != "c" {
		t.Fatalf("unexpected records %+v", all)
	}

	_, _ = mr.Lpush("test:activity", "not-json")
	two, _ := repo.ListLatest(ctx, 2)
	if len(two) != 1 {
		t.Fatalf("corrupt entries should be skipped, got %+v", two)
	}
}

func TestSubmissionGuardRecordsOnce(t *testing.T) {
	cfg, mr := newTestConfig(t)
	ctx := context.Background()

	guard, err := NewSubmissionGuard(ctx, cfg, time.Minute)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	defer guard.Close()

	sub := storage.Submission{WalletID: "w-1", ChainID: "137", TxHash: "0xabc", Digest: "0x01"}
	ok, err := guard.Record(ctx, "order-7", sub)
	if err != nil || !ok {
		t.Fatalf("first record should win: %v %v", ok, err)
	}
	if ok, _ := guard.Record(ctx, "order-7", storage.Submission{TxHash: "0xdef"}); ok {
		t.Fatalf("second record must not overwrite")
	}

	got, found, err := guard.Lookup(ctx, "order-7")
	if err != nil || !found || got != sub {
		t.Fatalf("lookup: %+v %v %v", got, found, err)
	}
	if ttl := mr.TTL("test:submission:order-7"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, found, _ := guard.Lookup(ctx, "order-7"); found {
		t.Fatalf("expired key should be gone")
	}
}

func TestConnectFailures(t *testing.T) {
	ctx := context.Background()
	if _, err := NewSubmissionGuard(ctx, Config{}, 0); !xerrors.HasCode(err, xerrors.CodeStorageFailure) {
		t.Fatalf("empty address should fail with STORAGE_FAILURE, got %v", err)
	}

	cfg, mr := newTestConfig(t)
	mr.Close()
	if _, err := NewActivityRepository(ctx, cfg, 0); err == nil {
		t.Fatalf("closed server should fail")
	}
}
