// Package generator produces the synthetic payment stream the radar scores.
//
// Each call draws one transaction from a seeded pseudo-random stream. About
// 7% of calls get a fraud-like profile injected (inflated amount, new
// device, risky IP, younger account). No label is attached: downstream
// scoring has to infer risk from the feature values alone.
package generator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/mbd888/fraudradar/internal/transactions"
	"github.com/shopspring/decimal"
)

// DefaultSeed keeps the demo stream reproducible across restarts.
const DefaultSeed = 13

const (
	amountMin, amountMax, amountMode = 5.0, 600.0, 45.0
	ageMin, ageMax, ageMode          = 0.0, 3650.0, 400.0

	newDeviceProb = 0.18
	fraudProb     = 0.07
	maxUserID     = 5000
)

// Generator draws synthetic transactions. Safe for concurrent use, though
// the simulation loop is its only caller.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithSeed seeds the random stream.
func WithSeed(seed uint64) Option {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// New creates a generator seeded with DefaultSeed unless overridden.
func New(opts ...Option) *Generator {
	g := &Generator{
		rng: rand.New(rand.NewPCG(DefaultSeed, DefaultSeed)),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next returns a new unscored, unpersisted transaction.
func (g *Generator) Next() *transactions.Transaction {
	g.mu.Lock()
	defer g.mu.Unlock()

	amount := round(g.triangular(amountMin, amountMax, amountMode), 2)
	isNewDevice := g.rng.Float64() < newDeviceProb
	ipRisk := round(g.rng.Float64(), 3)
	accountAge := round(g.triangular(ageMin, ageMax, ageMode), 1)

	if g.rng.Float64() < fraudProb {
		amount *= g.uniform(3, 9)
		isNewDevice = true
		ipRisk = math.Max(ipRisk, g.uniform(0.7, 0.99))
		accountAge = math.Max(0, accountAge-g.uniform(100, 400))
	}

	return &transactions.Transaction{
		UserID:         fmt.Sprintf("user_%d", 1+g.rng.IntN(maxUserID)),
		Country:        g.choice(transactions.Countries),
		Amount:         amount,
		PaymentMethod:  g.choice(transactions.PaymentMethods),
		Device:         g.choice(transactions.Devices),
		IPRisk:         ipRisk,
		AccountAgeDays: accountAge,
		IsNewDevice:    isNewDevice,
		Timestamp:      transactions.EpochSeconds(g.now()),
	}
}

// triangular samples the triangular distribution on [lo, hi] with the given
// mode by inverse transform.
func (g *Generator) triangular(lo, hi, mode float64) float64 {
	u := g.rng.Float64()
	c := (mode - lo) / (hi - lo)
	if u > c {
		u, c = 1.0-u, 1.0-c
		lo, hi = hi, lo
	}
	return lo + (hi-lo)*math.Sqrt(u*c)
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*g.rng.Float64()
}

func (g *Generator) choice(options []string) string {
	return options[g.rng.IntN(len(options))]
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
