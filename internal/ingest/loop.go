// Package ingest runs the client pacing loop: it turns watcher candidates
// into paced snapshot submissions. One loop, one send in flight, every wait
// capped so cancellation lands within seconds.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/savecast/internal/client"
	"github.com/nextlevelbuilder/savecast/internal/credential"
	"github.com/nextlevelbuilder/savecast/internal/saveparse"
	"github.com/nextlevelbuilder/savecast/internal/status"
	"github.com/nextlevelbuilder/savecast/internal/watcher"
	"github.com/nextlevelbuilder/savecast/pkg/protocol"
)

// State names the loop's current phase.
type State int

const (
	WaitingForCredential State = iota
	WaitingForCandidate
	WaitingForInterval
	Sending
)

func (s State) String() string {
	switch s {
	case WaitingForCandidate:
		return "waiting_for_candidate"
	case WaitingForInterval:
		return "waiting_for_interval"
	case Sending:
		return "sending"
	default:
		return "waiting_for_credential"
	}
}

// Relay is the outbound submission surface. *client.Client satisfies it.
type Relay interface {
	Ingest(ctx context.Context, token string, snap protocol.Snapshot) error
}

// Config wires a Loop. Zero Interval and SaveExt pick up the defaults.
type Config struct {
	Credentials *credential.Store
	Cell        *watcher.Cell
	Relay       Relay
	Parser      saveparse.Parser
	Status      status.Sink
	WatchDir    string
	SaveExt     string
	Interval    time.Duration
}

const (
	defaultInterval = 5 * time.Minute
	defaultSaveExt  = ".v3"
)

// Loop is the pacing state machine. Run it once; it owns the send path.
type Loop struct {
	creds    *credential.Store
	cell     *watcher.Cell
	relay    Relay
	parser   saveparse.Parser
	sink     status.Sink
	watchDir string
	saveExt  string
	interval time.Duration

	// wait tunables, shortened in tests
	pollEvery      time.Duration
	maxWait        time.Duration
	scanBackoff    time.Duration
	duplicateWait  time.Duration
	failureBackoff time.Duration

	now func() time.Time

	mu           sync.Mutex
	state        State
	lastAccepted time.Time
	lastHash     string
}

func New(cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.SaveExt == "" {
		cfg.SaveExt = defaultSaveExt
	}
	if cfg.Status == nil {
		cfg.Status = nopSink{}
	}
	return &Loop{
		creds:          cfg.Credentials,
		cell:           cfg.Cell,
		relay:          cfg.Relay,
		parser:         cfg.Parser,
		sink:           cfg.Status,
		watchDir:       cfg.WatchDir,
		saveExt:        cfg.SaveExt,
		interval:       cfg.Interval,
		pollEvery:      2 * time.Second,
		maxWait:        30 * time.Second,
		scanBackoff:    5 * time.Second,
		duplicateWait:  5 * time.Second,
		failureBackoff: 10 * time.Second,
		now:            time.Now,
	}
}

// State reports the loop's current phase.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	changed := l.state != s
	l.state = s
	l.mu.Unlock()
	if changed {
		slog.Debug("pacing state", "state", s.String())
	}
}

// Run drives the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	for {
		wait := l.step(ctx)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// step performs one evaluation and returns how long to wait before the next.
func (l *Loop) step(ctx context.Context) time.Duration {
	cred := l.creds.Load()
	if cred == nil || !cred.Valid() {
		l.setState(WaitingForCredential)
		return l.pollEvery
	}

	if _, pending := l.cell.Peek(); !pending {
		l.setState(WaitingForCandidate)
		return l.pollEvery
	}

	if due := l.lastAccepted.Add(l.interval); l.now().Before(due) {
		l.setState(WaitingForInterval)
		return min(due.Sub(l.now()), l.maxWait)
	}

	// The directory is the source of truth, not the notification path.
	path, ok := watcher.LatestSave(l.watchDir, l.saveExt)
	if !ok {
		return l.scanBackoff
	}

	hash, countries, err := l.parser.Parse(path)
	if err != nil {
		l.sink.Post(status.Warning, fmt.Sprintf("parse %s: %v", path, err))
		return l.failureBackoff
	}
	if hash == l.lastHash {
		l.cell.Clear()
		return l.duplicateWait
	}

	l.setState(Sending)
	seq, err := l.creds.BumpSeq(cred)
	if err != nil {
		l.sink.Post(status.Error, fmt.Sprintf("persist sequence: %v", err))
		return l.failureBackoff
	}
	snap := protocol.Snapshot{
		ChannelID: cred.ChannelID,
		SaveHash:  hash,
		Seq:       seq,
		Countries: countries,
		UpdatedAt: l.now().UTC(),
	}

	if err := l.relay.Ingest(ctx, cred.IngestToken, snap); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Auth() {
			l.creds.Clear()
			l.setState(WaitingForCredential)
			l.sink.Post(status.Error, "ingest credential rejected, pair again")
			return l.pollEvery
		}
		// Server stays authoritative for ordering; a stale rejection is
		// just a failed attempt here.
		l.sink.Post(status.Warning, fmt.Sprintf("submit seq %d: %v", seq, err))
		return l.failureBackoff
	}

	l.mu.Lock()
	l.lastAccepted = l.now()
	l.lastHash = hash
	l.mu.Unlock()
	l.cell.Clear()
	l.setState(WaitingForCandidate)
	l.sink.Post(status.Info, fmt.Sprintf("snapshot %d accepted (%d countries)", seq, len(countries)))
	return l.pollEvery
}

// sleep waits d unless ctx ends first. Returns false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type nopSink struct{}

func (nopSink) Post(status.Level, string) {}
