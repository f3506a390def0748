package ingest

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/nextlevelbuilder/savecast/internal/client"
	"github.com/nextlevelbuilder/savecast/internal/credential"
	"github.com/nextlevelbuilder/savecast/internal/watcher"
	"github.com/nextlevelbuilder/savecast/pkg/protocol"
)

// contentParser hashes by file content so tests control novelty via writes.
type contentParser struct{}

func (contentParser) Parse(path string) (string, []protocol.Country, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	return string(data), []protocol.Country{{Tag: "USA"}}, nil
}

type fakeRelay struct {
	mu    sync.Mutex
	sent  []protocol.Snapshot
	fail  error
}

func (f *fakeRelay) Ingest(_ context.Context, _ string, snap protocol.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, snap)
	return nil
}

func (f *fakeRelay) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixture struct {
	loop  *Loop
	relay *fakeRelay
	creds *credential.Store
	cell  *watcher.Cell
	dir   string
}

func newFixture(t *testing.T, paired bool) *fixture {
	t.Helper()
	keyring.MockInit()
	dir := t.TempDir()
	creds := credential.NewStore(filepath.Join(dir, "credential.bin"))
	if paired {
		if err := creds.Save(&credential.Credential{ChannelID: "44444444", IngestToken: "tok-1"}); err != nil {
			t.Fatal(err)
		}
	}
	relay := &fakeRelay{}
	cell := &watcher.Cell{}
	loop := New(Config{
		Credentials: creds,
		Cell:        cell,
		Relay:       relay,
		Parser:      contentParser{},
		WatchDir:    dir,
		Interval:    time.Millisecond,
	})
	return &fixture{loop: loop, relay: relay, creds: creds, cell: cell, dir: dir}
}

func (f *fixture) writeSave(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	f.cell.Set(path)
	return path
}

func TestStepWithoutCredentialPolls(t *testing.T) {
	f := newFixture(t, false)
	f.writeSave(t, "game.v3", "a")

	wait := f.loop.step(context.Background())
	if f.loop.State() != WaitingForCredential {
		t.Errorf("state = %v", f.loop.State())
	}
	if wait != f.loop.pollEvery {
		t.Errorf("wait = %v", wait)
	}
	if f.relay.sentCount() != 0 {
		t.Error("sent without a credential")
	}
}

func TestStepWithoutCandidatePolls(t *testing.T) {
	f := newFixture(t, true)

	f.loop.step(context.Background())
	if f.loop.State() != WaitingForCandidate {
		t.Errorf("state = %v", f.loop.State())
	}
	if f.relay.sentCount() != 0 {
		t.Error("sent without a candidate")
	}
}

func TestNeverSendsEarly(t *testing.T) {
	f := newFixture(t, true)
	f.writeSave(t, "game.v3", "a")
	f.loop.interval = time.Hour
	f.loop.lastAccepted = time.Now()

	wait := f.loop.step(context.Background())
	if f.loop.State() != WaitingForInterval {
		t.Errorf("state = %v", f.loop.State())
	}
	if wait > f.loop.maxWait {
		t.Errorf("wait %v exceeds cap %v", wait, f.loop.maxWait)
	}
	if f.relay.sentCount() != 0 {
		t.Error("sent before the interval elapsed")
	}
}

func TestSendRecordsAcceptanceAndClearsCandidate(t *testing.T) {
	f := newFixture(t, true)
	f.writeSave(t, "game.v3", "save one")

	f.loop.step(context.Background())
	if got := f.relay.sentCount(); got != 1 {
		t.Fatalf("sent %d snapshots", got)
	}
	snap := f.relay.sent[0]
	if snap.ChannelID != "44444444" || snap.Seq != 1 || snap.SaveHash != "save one" {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.Countries) != 1 {
		t.Errorf("countries = %+v", snap.Countries)
	}
	if _, pending := f.cell.Peek(); pending {
		t.Error("candidate survived an accepted send")
	}
	if f.loop.lastHash != "save one" {
		t.Errorf("lastHash = %q", f.loop.lastHash)
	}
}

func TestSameHashSkipsWithoutSending(t *testing.T) {
	f := newFixture(t, true)
	f.writeSave(t, "game.v3", "save one")
	f.loop.step(context.Background())

	time.Sleep(2 * time.Millisecond)
	f.cell.Set(filepath.Join(f.dir, "game.v3"))
	wait := f.loop.step(context.Background())

	if f.relay.sentCount() != 1 {
		t.Errorf("resent an unchanged autosave, total %d", f.relay.sentCount())
	}
	if wait != f.loop.duplicateWait {
		t.Errorf("wait = %v", wait)
	}
	if _, pending := f.cell.Peek(); pending {
		t.Error("duplicate candidate not cleared")
	}
}

func TestGenericFailureKeepsEverything(t *testing.T) {
	f := newFixture(t, true)
	f.writeSave(t, "game.v3", "save one")
	f.relay.fail = &client.APIError{Status: http.StatusTooManyRequests, Body: protocol.ErrorBody{Error: protocol.ErrCodeTooSoon}}

	wait := f.loop.step(context.Background())
	if wait != f.loop.failureBackoff {
		t.Errorf("wait = %v", wait)
	}
	if _, pending := f.cell.Peek(); !pending {
		t.Error("failed send must leave the candidate pending")
	}
	if f.loop.lastHash != "" {
		t.Error("failed send advanced the accepted hash")
	}

	// Retry succeeds with the next sequence number; the failed attempt
	// leaves a gap.
	f.relay.fail = nil
	f.loop.step(context.Background())
	if got := f.relay.sent[0].Seq; got != 2 {
		t.Errorf("retry seq = %d, want 2", got)
	}
}

func TestAuthFailureWipesCredential(t *testing.T) {
	f := newFixture(t, true)
	f.writeSave(t, "game.v3", "save one")
	f.relay.fail = &client.APIError{Status: http.StatusUnauthorized, Body: protocol.ErrorBody{Error: protocol.ErrCodeInvalidIngestToken}}

	f.loop.step(context.Background())
	if f.loop.State() != WaitingForCredential {
		t.Errorf("state = %v", f.loop.State())
	}
	if f.creds.Load() != nil {
		t.Error("credential survived a 401")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	f := newFixture(t, false)
	f.loop.pollEvery = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.loop.Run(ctx)
		close(done)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}
