package statedb

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *StateDB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), FileName)
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", FileName)

	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db1.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := db1.SaveDecision(&DecisionRow{
		WindowID: "@1", Session: "work", Window: 2, Rule: "path", Color: "purple",
		Hex: "#ce93d8", Title: "POLARIS: /pkg", AppliedAt: time.Now(),
	}); err != nil {
		t.Fatalf("SaveDecision: %v", err)
	}
	db1.Close()

	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	defer db2.Close()
	if err := db2.Migrate(); err != nil {
		t.Fatalf("Migrate again: %v", err)
	}
	rows, err := db2.LoadDecisions()
	if err != nil {
		t.Fatalf("LoadDecisions: %v", err)
	}
	if len(rows) != 1 || rows[0].Title != "POLARIS: /pkg" || rows[0].Window != 2 {
		t.Fatalf("unexpected rows after reopen: %+v", rows)
	}
	v, err := db2.GetMeta("schema_version")
	if err != nil || v != "1" {
		t.Fatalf("schema_version = %q, %v", v, err)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	db := newTestDB(t)

	v, err := db.GetMeta("tmux_server")
	if err != nil || v != "" {
		t.Fatalf("unset key = %q, %v", v, err)
	}
	for _, want := range []string{"100-1760000000", "200-1760000500"} {
		if err := db.SetMeta("tmux_server", want); err != nil {
			t.Fatalf("SetMeta: %v", err)
		}
		got, err := db.GetMeta("tmux_server")
		if err != nil || got != want {
			t.Fatalf("GetMeta = %q, %v; want %q", got, err, want)
		}
	}
}

func TestSaveDecisionReplaces(t *testing.T) {
	db := newTestDB(t)

	for _, title := range []string{"zsh /tmp", "LNAV: app.log"} {
		if err := db.SaveDecision(&DecisionRow{WindowID: "@3", Session: "s", Rule: "r", Color: "c", Hex: "#000000", Title: title, AppliedAt: time.Now()}); err != nil {
			t.Fatalf("SaveDecision: %v", err)
		}
	}
	rows, err := db.LoadDecisions()
	if err != nil {
		t.Fatalf("LoadDecisions: %v", err)
	}
	if len(rows) != 1 || rows[0].Title != "LNAV: app.log" {
		t.Fatalf("expected one replaced row, got %+v", rows)
	}
}

func TestPruneDecisions(t *testing.T) {
	db := newTestDB(t)
	for _, id := range []string{"@1", "@2", "@3"} {
		if err := db.SaveDecision(&DecisionRow{WindowID: id, Session: "s", Rule: "r", Color: "c", Hex: "#000000", Title: id, AppliedAt: time.Now()}); err != nil {
			t.Fatalf("SaveDecision: %v", err)
		}
	}

	n, err := db.PruneDecisions([]string{"@2"})
	if err != nil {
		t.Fatalf("PruneDecisions: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d rows, want 2", n)
	}
	rows, _ := db.LoadDecisions()
	if len(rows) != 1 || rows[0].WindowID != "@2" {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	if _, err := db.PruneDecisions(nil); err != nil {
		t.Fatalf("PruneDecisions(nil): %v", err)
	}
	rows, _ = db.LoadDecisions()
	if len(rows) != 0 {
		t.Fatalf("expected empty table, got %d rows", len(rows))
	}
}

func TestWaitHistory(t *testing.T) {
	db := newTestDB(t)
	start := time.Now().Truncate(time.Second)

	for i, outcome := range []string{"matched", "timed_out", "matched"} {
		w := &WaitRow{
			Target: "%1", Label: "build", Pattern: "READY", Outcome: outcome,
			Occurrences: i, Required: 2, Polls: i + 1,
			Elapsed: time.Duration(i) * 1500 * time.Millisecond, StartedAt: start,
		}
		if err := db.RecordWait(w); err != nil {
			t.Fatalf("RecordWait: %v", err)
		}
		if w.ID == 0 {
			t.Fatal("RecordWait did not set ID")
		}
	}

	waits, err := db.RecentWaits(2)
	if err != nil {
		t.Fatalf("RecentWaits: %v", err)
	}
	if len(waits) != 2 {
		t.Fatalf("got %d waits, want 2", len(waits))
	}
	if waits[0].Elapsed != 3*time.Second || waits[0].Polls != 3 {
		t.Errorf("newest wait = %+v", waits[0])
	}
	if waits[1].Outcome != "timed_out" {
		t.Errorf("second wait outcome = %q", waits[1].Outcome)
	}
	if !waits[0].StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", waits[0].StartedAt, start)
	}

	if err := db.TrimWaits(1); err != nil {
		t.Fatalf("TrimWaits: %v", err)
	}
	waits, _ = db.RecentWaits(10)
	if len(waits) != 1 || waits[0].Polls != 3 {
		t.Fatalf("after trim: %+v", waits)
	}
}

func TestElectPrimary(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), FileName)
	open := func(pid int) *StateDB {
		db, err := Open(dbPath)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := db.Migrate(); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		db.pid = pid
		t.Cleanup(func() { db.Close() })
		return db
	}
	a, b := open(1001), open(1002)

	for _, db := range []*StateDB{a, b} {
		if err := db.RegisterDaemon(); err != nil {
			t.Fatalf("RegisterDaemon: %v", err)
		}
	}

	won, err := a.ElectPrimary(30 * time.Second)
	if err != nil || !won {
		t.Fatalf("a.ElectPrimary = %v, %v; want true", won, err)
	}
	won, err = b.ElectPrimary(30 * time.Second)
	if err != nil || won {
		t.Fatalf("b.ElectPrimary = %v, %v; want false", won, err)
	}
	won, _ = a.ElectPrimary(30 * time.Second)
	if !won {
		t.Fatal("primary must keep its role on re-election")
	}

	if err := a.ResignPrimary(); err != nil {
		t.Fatalf("ResignPrimary: %v", err)
	}
	won, _ = b.ElectPrimary(30 * time.Second)
	if !won {
		t.Fatal("b should take over after a resigns")
	}

	if err := b.UnregisterDaemon(); err != nil {
		t.Fatalf("UnregisterDaemon: %v", err)
	}
	won, _ = a.ElectPrimary(30 * time.Second)
	if !won {
		t.Fatal("a should take over after b unregisters")
	}
}

func TestElectPrimary_StaleHeartbeat(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.db.Exec(`INSERT INTO daemon_heartbeats (pid, started, heartbeat, is_primary) VALUES (1, 0, 0, 1)`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := db.RegisterDaemon(); err != nil {
		t.Fatalf("RegisterDaemon: %v", err)
	}
	won, err := db.ElectPrimary(time.Minute)
	if err != nil || !won {
		t.Fatalf("ElectPrimary over stale primary = %v, %v", won, err)
	}
	if err := db.CleanDeadDaemons(time.Minute); err != nil {
		t.Fatalf("CleanDeadDaemons: %v", err)
	}
	var n int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM daemon_heartbeats").Scan(&n); err != nil || n != 1 {
		t.Fatalf("heartbeats after clean = %d, %v", n, err)
	}
}

func TestConcurrentWrites(t *testing.T) {
	db := newTestDB(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := &WaitRow{Target: "%1", Pattern: "x", Outcome: "matched", StartedAt: time.Now()}
			if err := db.RecordWait(w); err != nil {
				t.Errorf("RecordWait %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	waits, err := db.RecentWaits(100)
	if err != nil {
		t.Fatalf("RecentWaits: %v", err)
	}
	if len(waits) != 8 {
		t.Fatalf("got %d waits, want 8", len(waits))
	}
}
