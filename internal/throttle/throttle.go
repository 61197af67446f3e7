package throttle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Throttle enforces a persistent per-symbol cooldown between admitted
// signals. State survives restarts via a JSON file mapping symbol to the
// last emission timestamp; every update rewrites the file atomically.
type Throttle struct {
	mu     sync.Mutex
	path   string
	last   map[string]time.Time
	loaded bool
	now    func() time.Time
	log    zerolog.Logger
}

func New(path string, logger zerolog.Logger) *Throttle {
	return &Throttle{
		path: path,
		last: make(map[string]time.Time),
		now:  time.Now,
		log:  logger.With().Str("component", "throttle").Logger(),
	}
}

// Allow reports whether symbol may emit a signal now. On success the
// cooldown clock restarts and the new state is persisted before returning.
func (t *Throttle) Allow(symbol string, cooldown time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadLocked()

	now := t.now().UTC()
	if last, ok := t.last[symbol]; ok {
		next := last.Add(cooldown)
		if now.Before(next) {
			t.log.Debug().
				Str("symbol", symbol).
				Time("blocked_until", next).
				Msg("signal throttled")
			return false
		}
	}

	t.last[symbol] = now
	t.persistLocked()
	t.log.Debug().
		Str("symbol", symbol).
		Dur("cooldown", cooldown).
		Msg("signal allowed, cooldown restarted")
	return true
}

// Snapshot returns a copy of the current cooldown map.
func (t *Throttle) Snapshot() map[string]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadLocked()
	out := make(map[string]time.Time, len(t.last))
	for k, v := range t.last {
		out[k] = v
	}
	return out
}

func (t *Throttle) loadLocked() {
	if t.loaded {
		return
	}
	t.loaded = true
	data, err := os.ReadFile(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			t.log.Warn().Err(err).Msg("throttle state could not be loaded")
		}
		return
	}
	raw := make(map[string]string)
	if err := json.Unmarshal(data, &raw); err != nil {
		t.log.Warn().Err(err).Msg("throttle state could not be parsed")
		return
	}
	for sym, ts := range raw {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			t.log.Warn().Str("symbol", sym).Str("ts", ts).Msg("skipping unparsable throttle entry")
			continue
		}
		t.last[sym] = parsed
	}
}

// persistLocked writes the state to a temp file in the same directory and
// renames it over the target so readers never observe a partial file.
func (t *Throttle) persistLocked() {
	raw := make(map[string]string, len(t.last))
	for sym, ts := range t.last {
		raw[sym] = ts.UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		t.log.Warn().Err(err).Msg("throttle state could not be encoded")
		return
	}

	dir := filepath.Dir(t.path)
	tmp, err := os.CreateTemp(dir, ".throttle-*")
	if err != nil {
		t.log.Warn().Err(err).Msg("throttle state could not be saved")
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		t.log.Warn().Err(err).Msg("throttle state write failed")
		return
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		t.log.Warn().Err(err).Msg("throttle state sync failed")
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		t.log.Warn().Err(err).Msg("throttle state close failed")
		return
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		os.Remove(tmpName)
		t.log.Warn().Err(err).Msg("throttle state rename failed")
	}
}
