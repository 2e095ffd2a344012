package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.sqlite")
	s, err := Open(path, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{At: base, Command: "launch", Region: "us-east-1", Unit: "devenv-alice", Action: "create", Outcome: "succeeded", Status: "SUCCEEDED", Elapsed: 3 * time.Minute, Outputs: map[string]string{"InstanceId": "i-1"}},
		{At: base.Add(time.Hour), Command: "launch", Region: "us-east-1", Unit: "devenv-bob", Action: "create", Outcome: "failed", Reason: "quota"},
		{At: base.Add(2 * time.Hour), Command: "launch", Region: "us-east-1", Unit: "devenv-alice", Action: "update", NoOp: true, Outcome: "succeeded"},
	}
	for _, e := range entries {
		if _, err := s.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	all, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len=%d", len(all))
	}
	if all[0].Action != "update" || !all[0].NoOp {
		t.Fatalf("expected newest first, got %+v", all[0])
	}

	alice, err := s.List(ctx, Filter{Unit: "devenv-alice", Limit: 1})
	if err != nil {
		t.Fatalf("list alice: %v", err)
	}
	if len(alice) != 1 || alice[0].Unit != "devenv-alice" {
		t.Fatalf("alice=%+v", alice)
	}
	first := all[2]
	if first.Outputs["InstanceId"] != "i-1" || first.Elapsed != 3*time.Minute || !first.At.Equal(base) {
		t.Fatalf("round trip lost data: %+v", first)
	}
}

func TestOpenReadOnlyRequiresFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.sqlite")
	if _, err := Open(path, true); err == nil {
		t.Fatalf("expected error for missing read-only ledger")
	}
	s, err := Open(path, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Close()
	ro, err := Open(path, true)
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer ro.Close()
	if _, err := ro.Record(context.Background(), Entry{Unit: "x"}); err == nil {
		t.Fatalf("expected read-only record to fail")
	}
}
