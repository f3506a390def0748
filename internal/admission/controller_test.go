package admission

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/savecast/internal/store/memory"
	"github.com/nextlevelbuilder/savecast/pkg/protocol"
)

type capturePublisher struct {
	mu        sync.Mutex
	published []protocol.Snapshot
	fail      error
}

func (p *capturePublisher) Publish(_ context.Context, _ string, _ []byte, snap protocol.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.published = append(p.published, snap)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type fixture struct {
	ctrl *Controller
	pub  *capturePublisher
	now  time.Time
	mu   sync.Mutex
}

func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()
	kv := memory.New(memory.TTLs{
		PairingCode: time.Hour, IngestToken: time.Hour, ChannelMeta: time.Hour,
		LastSnap: time.Hour, Bootstrap: time.Hour, Active: time.Hour,
	})
	if err := kv.PutIngestToken(context.Background(), "tok-42", "42", time.Hour); err != nil {
		t.Fatal(err)
	}
	f := &fixture{pub: &capturePublisher{}, now: time.UnixMilli(0)}
	f.ctrl = New(kv, f.pub, interval).WithClock(func() time.Time {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.now
	})
	return f
}

func (f *fixture) setNow(ms int64) {
	f.mu.Lock()
	f.now = time.UnixMilli(ms)
	f.mu.Unlock()
}

func snap(seq int64, hash string) protocol.Snapshot {
	return protocol.Snapshot{ChannelID: "42", SaveHash: hash, Seq: seq,
		Countries: []protocol.Country{{Tag: "PRU"}}}
}

// Fresh channel, 5 minute interval: accept, duplicate-hash reject, early
// resend reject with retry hint, accept once the interval elapses.
func TestAdmit_PacingSequence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 300000*time.Millisecond)

	// seq=1, h1 at t=0 -> accepted.
	f.setNow(0)
	rej, err := f.ctrl.Admit(ctx, "tok-42", snap(1, "h1"))
	if err != nil || rej != nil {
		t.Fatalf("first accept: rej=%+v err=%v", rej, err)
	}

	// seq=2, h1 at t=60000 -> needs_new_autosave.
	f.setNow(60000)
	rej, err = f.ctrl.Admit(ctx, "tok-42", snap(2, "h1"))
	if err != nil || rej == nil || rej.Code != protocol.ErrCodeNeedsNewAutosave {
		t.Fatalf("duplicate hash: rej=%+v err=%v", rej, err)
	}

	// seq=3, h2 at t=120000 -> too_soon with retryInMs=180000.
	f.setNow(120000)
	rej, err = f.ctrl.Admit(ctx, "tok-42", snap(3, "h2"))
	if err != nil || rej == nil || rej.Code != protocol.ErrCodeTooSoon {
		t.Fatalf("early resend: rej=%+v err=%v", rej, err)
	}
	if rej.RetryInMs != 180000 {
		t.Errorf("retryInMs = %d, want 180000", rej.RetryInMs)
	}
	if rej.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d", rej.Status)
	}

	// seq=3, h2 at t=300001 -> accepted.
	f.setNow(300001)
	rej, err = f.ctrl.Admit(ctx, "tok-42", snap(3, "h2"))
	if err != nil || rej != nil {
		t.Fatalf("accept after interval: rej=%+v err=%v", rej, err)
	}

	if f.pub.count() != 2 {
		t.Errorf("published %d snapshots, want 2", f.pub.count())
	}
}

func TestAdmit_TokenGates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)

	rej, _ := f.ctrl.Admit(ctx, "", snap(1, "h1"))
	if rej == nil || rej.Code != protocol.ErrCodeMissingIngestToken || rej.Status != http.StatusUnauthorized {
		t.Errorf("missing token: %+v", rej)
	}

	rej, _ = f.ctrl.Admit(ctx, "tok-unknown", snap(1, "h1"))
	if rej == nil || rej.Code != protocol.ErrCodeInvalidIngestToken {
		t.Errorf("unknown token: %+v", rej)
	}

	other := snap(1, "h1")
	other.ChannelID = "43"
	rej, _ = f.ctrl.Admit(ctx, "tok-42", other)
	if rej == nil || rej.Code != protocol.ErrCodeChannelMismatch || rej.Status != http.StatusBadRequest {
		t.Errorf("channel mismatch: %+v", rej)
	}
}

// Idempotence: re-submitting the exact same snapshot after acceptance fails
// with stale_sequence — never a double broadcast.
func TestAdmit_ResubmitIsStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)

	f.setNow(0)
	if rej, err := f.ctrl.Admit(ctx, "tok-42", snap(1, "h1")); rej != nil || err != nil {
		t.Fatalf("first: rej=%+v err=%v", rej, err)
	}
	f.setNow(90000)
	rej, _ := f.ctrl.Admit(ctx, "tok-42", snap(1, "h1"))
	if rej == nil || rej.Code != protocol.ErrCodeStaleSequence {
		t.Fatalf("resubmit: %+v", rej)
	}
	if rej.LastSeq != 1 {
		t.Errorf("lastSeq = %d, want 1", rej.LastSeq)
	}
	if f.pub.count() != 1 {
		t.Errorf("published %d, want 1", f.pub.count())
	}
}

func TestAdmit_SequenceNeverDecreases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Millisecond)

	var lastAccepted int64
	hashes := 0
	for i, s := range []protocol.Snapshot{snap(1, "h1"), snap(5, "h2"), snap(3, "h3"), snap(6, "h4")} {
		f.setNow(int64(i+1) * 10000)
		rej, err := f.ctrl.Admit(ctx, "tok-42", s)
		if err != nil {
			t.Fatal(err)
		}
		if rej == nil {
			if s.Seq <= lastAccepted {
				t.Fatalf("accepted non-increasing seq %d after %d", s.Seq, lastAccepted)
			}
			lastAccepted = s.Seq
			hashes++
		}
	}
	if lastAccepted != 6 || hashes != 3 {
		t.Errorf("lastAccepted=%d accepted=%d, want 6/3", lastAccepted, hashes)
	}
}

func TestAdmit_PayloadTooLarge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Millisecond)

	big := snap(1, "h1")
	big.Countries = make([]protocol.Country, protocol.MaxCountries)
	for i := range big.Countries {
		big.Countries[i] = protocol.Country{Tag: fmt.Sprintf("C%02d", i%100), Market: strings.Repeat("m", 40)}
	}

	rej, err := f.ctrl.Admit(ctx, "tok-42", big)
	if err != nil {
		t.Fatal(err)
	}
	if rej == nil || rej.Code != protocol.ErrCodePayloadTooLarge || rej.Status != http.StatusRequestEntityTooLarge {
		t.Fatalf("rej = %+v", rej)
	}
	// The oversized attempt must not have advanced channel state.
	f.setNow(10)
	if rej, _ := f.ctrl.Admit(ctx, "tok-42", snap(1, "h1")); rej != nil {
		t.Fatalf("state advanced by rejected payload: %+v", rej)
	}
}

// Two concurrent submissions with valid-looking state may both pass the gates
// against the same meta; the CAS must let only one through.
func TestAdmit_ConcurrentSubmissionsSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Millisecond)
	f.setNow(5000)

	const workers = 8
	var wg sync.WaitGroup
	accepted := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Same seq from every worker: a duplicated client.
			rej, err := f.ctrl.Admit(ctx, "tok-42", snap(1, "h1"))
			if err != nil {
				t.Errorf("admit error: %v", err)
				return
			}
			if rej == nil {
				accepted <- 1
			}
		}()
	}
	wg.Wait()
	close(accepted)

	n := 0
	for range accepted {
		n++
	}
	if n != 1 {
		t.Fatalf("%d submissions accepted, want exactly 1", n)
	}
	if f.pub.count() != 1 {
		t.Fatalf("published %d, want 1", f.pub.count())
	}
}

// Publish failure surfaces as an error but acceptance is not rolled back: the
// next identical submission is stale, not re-admitted.
func TestAdmit_PublishFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Millisecond)
	f.pub.fail = fmt.Errorf("upstream 500")

	f.setNow(5000)
	rej, err := f.ctrl.Admit(ctx, "tok-42", snap(1, "h1"))
	if rej != nil {
		t.Fatalf("gate rejection: %+v", rej)
	}
	if err == nil {
		t.Fatal("expected publish error")
	}

	f.pub.fail = nil
	f.setNow(10000)
	rej, err = f.ctrl.Admit(ctx, "tok-42", snap(1, "h1"))
	if err != nil {
		t.Fatal(err)
	}
	if rej == nil || rej.Code != protocol.ErrCodeStaleSequence {
		t.Fatalf("state was rolled back: %+v", rej)
	}
}
