package identity

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"
	mrand "math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/logging"
	"github.com/google/uuid"
)

// IDGenerator produces canonical v4 UUID strings.
//
// Randomness comes from crypto/rand. If the secure source fails the
// generator switches to a ChaCha8 stream seeded from the clock and pid,
// logs one warning and reports Weak() == true from then on.
type IDGenerator struct {
	secure io.Reader
	logger logging.Logger

	mu       sync.Mutex
	fallback *mrand.ChaCha8
	weak     atomic.Bool
	warnOnce sync.Once
}

// NewIDGenerator returns a generator backed by crypto/rand.
func NewIDGenerator(logger logging.Logger) *IDGenerator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &IDGenerator{secure: rand.Reader, logger: logger}
}

// New returns a fresh identifier in 8-4-4-4-12 form.
func (g *IDGenerator) New() string {
	if !g.weak.Load() {
		id, err := uuid.NewRandomFromReader(g.secure)
		if err == nil {
			return id.String()
		}
		g.warnOnce.Do(func() {
			g.logger.Warn(context.Background(), "secure random source unavailable, using weak id generator", "error", err)
		})
		g.weak.Store(true)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fallback == nil {
		g.fallback = mrand.NewChaCha8(weakSeed())
	}
	id, err := uuid.NewRandomFromReader(g.fallback)
	if err != nil {
		// ChaCha8.Read never fails.
		panic(err)
	}
	return id.String()
}

// Weak reports whether ids are being produced by the non-cryptographic
// fallback.
func (g *IDGenerator) Weak() bool {
	return g.weak.Load()
}

func weakSeed() [32]byte {
	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[0:], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint64(seed[8:], uint64(os.Getpid()))
	binary.LittleEndian.PutUint64(seed[16:], mrand.Uint64())
	binary.LittleEndian.PutUint64(seed[24:], mrand.Uint64())
	return seed
}

var defaultGenerator = NewIDGenerator(nil)

// GenerateID returns a new identifier from the process-wide generator.
func GenerateID() string {
	return defaultGenerator.New()
}

// ValidID reports whether s is a canonical 36-character UUID.
func ValidID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
