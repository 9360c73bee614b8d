package ids

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

const (
	suffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// MinSuffixLen is the shortest random suffix a ReadableGenerator accepts.
	MinSuffixLen = 6
)

// ReadableGenerator builds human-readable identifiers of the form
// PREFIX-<base36 unix nanos>-<random suffix>.
type ReadableGenerator struct {
	prefix    string
	suffixLen int
	now       func() time.Time
	random    io.Reader
}

// ReadableOption configures a ReadableGenerator.
type ReadableOption func(*ReadableGenerator)

// WithSuffixLen sets the random suffix length. Values below MinSuffixLen are ignored.
func WithSuffixLen(n int) ReadableOption {
	return func(g *ReadableGenerator) {
		if n >= MinSuffixLen {
			g.suffixLen = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) ReadableOption {
	return func(g *ReadableGenerator) {
		if fn != nil {
			g.now = fn
		}
	}
}

// WithRandom overrides the entropy source (crypto/rand by default).
func WithRandom(r io.Reader) ReadableOption {
	return func(g *ReadableGenerator) {
		if r != nil {
			g.random = r
		}
	}
}

// NewReadableGenerator constructs a generator for the given prefix.
func NewReadableGenerator(prefix string, opts ...ReadableOption) *ReadableGenerator {
	g := &ReadableGenerator{
		prefix:    strings.ToUpper(strings.TrimSpace(prefix)),
		suffixLen: 8,
		now:       time.Now,
		random:    rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next returns a new identifier.
func (g *ReadableGenerator) Next() (string, error) {
	suffix, err := g.suffix()
	if err != nil {
		return "", fmt.Errorf("ids: random suffix: %w", err)
	}
	stamp := strings.ToUpper(strconv.FormatInt(g.now().UTC().UnixNano(), 36))
	if g.prefix == "" {
		return stamp + "-" + suffix, nil
	}
	return g.prefix + "-" + stamp + "-" + suffix, nil
}

func (g *ReadableGenerator) suffix() (string, error) {
	max := big.NewInt(int64(len(suffixAlphabet)))
	var b strings.Builder
	b.Grow(g.suffixLen)
	for i := 0; i < g.suffixLen; i++ {
		n, err := rand.Int(g.random, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(suffixAlphabet[n.Int64()])
	}
	return b.String(), nil
}
