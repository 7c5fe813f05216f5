// Package rng provides the random sources behind every outcome decision
//
// Business code depends on the Source interface only. Production wiring uses
// Crypto (crypto/rand); replays, simulations and tests use Seeded, a ChaCha20
// keystream keyed by a 64-bit seed, which is reproducible and of the same
// statistical quality.
package rng

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20"
)

// Source produces uniform draws in [0, 1)
type Source interface {
	Float64() float64
}

const floatBits = 53

func toFloat(b []byte) float64 {
	return float64(binary.LittleEndian.Uint64(b)>>(64-floatBits)) / float64(uint64(1)<<floatBits)
}

// Crypto draws from the operating system CSPRNG
type Crypto struct {
	entropy io.Reader
	mu      sync.Mutex
	samples int64
}

// NewCrypto creates a source backed by crypto/rand
func NewCrypto() *Crypto {
	return &Crypto{entropy: rand.Reader}
}

// Float64 returns a uniform value in [0, 1) with 53 bits of precision
func (c *Crypto) Float64() float64 {
	var buf [8]byte
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.ReadFull(c.entropy, buf[:]); err != nil {
		// crypto/rand only fails when the kernel entropy source is gone
		panic(fmt.Sprintf("rng: entropy source failed: %v", err))
	}
	c.samples++
	return toFloat(buf[:])
}

// Samples returns how many draws this source has produced
func (c *Crypto) Samples() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samples
}

// Seeded is a deterministic ChaCha20 keystream source
type Seeded struct {
	mu      sync.Mutex
	cipher  *chacha20.Cipher
	samples int64
}

// NewSeeded creates a reproducible source; equal seeds yield equal sequences
func NewSeeded(seed uint64) *Seeded {
	var raw [8]byte
	binary.LittleEndian.PutUint64(raw[:], seed)
	key := sha256.Sum256(raw[:])
	nonce := make([]byte, chacha20.NonceSize)
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce)
	if err != nil {
		// key and nonce sizes are fixed above
		panic(err)
	}
	return &Seeded{cipher: c}
}

// Float64 returns the next value of the keystream in [0, 1)
func (s *Seeded) Float64() float64 {
	var buf [8]byte
	s.mu.Lock()
	s.cipher.XORKeyStream(buf[:], buf[:])
	s.samples++
	s.mu.Unlock()
	return toFloat(buf[:])
}

// DrawSeeded returns the first draw of a freshly seeded source
func DrawSeeded(seed uint64) float64 {
	return NewSeeded(seed).Float64()
}

// IntN returns a uniform integer in [0, n); n must be positive
func IntN(src Source, n int) int {
	if n <= 0 {
		return 0
	}
	v := int(src.Float64() * float64(n))
	if v >= n {
		v = n - 1
	}
	return v
}

var (
	ErrEmptyWeights    = errors.New("weights cannot be empty")
	ErrNegativeWeight  = errors.New("weights cannot be negative")
	ErrZeroTotalWeight = errors.New("total weight must be positive")
)

// SelectWeighted selects an index with probability proportional to its weight
func SelectWeighted(src Source, weights []float64) (int, error) {
	if len(weights) == 0 {
		return 0, ErrEmptyWeights
	}

	var total float64
	for _, w := range weights {
		if w < 0 {
			return 0, ErrNegativeWeight
		}
		total += w
	}
	if total <= 0 {
		return 0, ErrZeroTotalWeight
	}

	target := src.Float64() * total
	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if target < cumulative {
			return i, nil
		}
	}

	// float rounding can leave target == total; pick the last positive weight
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return i, nil
		}
	}
	return len(weights) - 1, nil
}

// HealthResult contains RNG health check results
type HealthResult struct {
	Healthy         bool      `json:"healthy"`
	Timestamp       time.Time `json:"timestamp"`
	SampleSize      int       `json:"sample_size"`
	ChiSquare       float64   `json:"chi_square"`
	ChiSquarePassed bool      `json:"chi_square_passed"`
}

// HealthCheck draws a sample and runs a chi-square uniformity test over 100 bins
func HealthCheck(src Source) *HealthResult {
	const sampleSize = 1000
	const bins = 100

	samples := make([]int, sampleSize)
	for i := range samples {
		samples[i] = IntN(src, bins)
	}
	chiSquare, passed := chiSquareTest(samples, bins)

	return &HealthResult{
		Healthy:         passed,
		Timestamp:       time.Now().UTC(),
		SampleSize:      sampleSize,
		ChiSquare:       chiSquare,
		ChiSquarePassed: passed,
	}
}

// chiSquareTest performs a basic chi-square test for uniformity
func chiSquareTest(samples []int, bins int) (float64, bool) {
	counts := make([]int, bins)
	for _, sample := range samples {
		counts[sample%bins]++
	}

	expected := float64(len(samples)) / float64(bins)

	var chiSquare float64
	for _, count := range counts {
		diff := float64(count) - expected
		chiSquare += (diff * diff) / expected
	}

	// 99 degrees of freedom at 99% confidence
	criticalValue := 134.6
	if bins != 100 {
		criticalValue = float64(bins-1) + 2.576*math.Sqrt(2.0*float64(bins-1))
	}

	return chiSquare, chiSquare < criticalValue
}
