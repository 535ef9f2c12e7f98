// Package epoch derives and tracks the per-epoch challenge: a SHA-256
// digest of the parent block hash and the epoch number, active for one
// fixed-duration window at a time.
package epoch

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"spacetime.dev/node/chain"
)

// Config recognizes the epoch duration the Manager enforces.
type Config struct {
	EpochDurationSeconds int64
}

// Manager tracks the current epoch, its derived challenge, and when it
// started. All mutation happens under Advance, which is exclusive.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	epoch     int64
	challenge chain.Hash
	startTime int64
}

// New constructs a Manager at genesis: epoch 0, challenge derived from the
// network id, started at the genesis timestamp.
func New(cfg Config, networkID string, genesisTimestamp int64) *Manager {
	challenge := sha256.Sum256([]byte(networkID))
	return &Manager{
		cfg:       cfg,
		epoch:     0,
		challenge: chain.Hash(challenge),
		startTime: genesisTimestamp,
	}
}

// Derive computes the deterministic challenge for (epoch, parentHash)
// independent of any Manager instance.
func Derive(epoch int64, parentHash chain.Hash) chain.Hash {
	buf := make([]byte, 0, chain.HashSize+8)
	buf = append(buf, parentHash[:]...)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(epoch))
	buf = append(buf, tmp[:]...)
	return sha256.Sum256(buf)
}

// Validate reports whether challenge is the one derived from (epoch,
// parentHash).
func Validate(challenge chain.Hash, epoch int64, parentHash chain.Hash) bool {
	return challenge == Derive(epoch, parentHash)
}

// Current returns a consistent snapshot of the epoch, challenge, and start
// time as observed by any concurrent caller.
func (m *Manager) Current() (epoch int64, challenge chain.Hash, startTime int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch, m.challenge, m.startTime
}

// Advance atomically increments the epoch, recomputes the challenge from
// parentHash, and resets the start time to now.
func (m *Manager) Advance(parentHash chain.Hash, now int64) (epoch int64, challenge chain.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.challenge = Derive(m.epoch, parentHash)
	m.startTime = now
	return m.epoch, m.challenge
}

// IsExpired reports whether now has reached or passed the end of the
// current epoch window.
func (m *Manager) IsExpired(now int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return now >= m.startTime+m.cfg.EpochDurationSeconds
}
