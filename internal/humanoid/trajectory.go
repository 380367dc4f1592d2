package humanoid

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
)

// maxPathSteps caps the pointerMove records of one approach path.
const maxPathSteps = 60

// PathConfig tunes the approach path synthesized before a click.
type PathConfig struct {
	// FittsA and FittsB are the Fitts's law intercept and slope in milliseconds.
	FittsA float64
	FittsB float64
	// PerlinAmplitude is the peak drift in pixels applied inside the path.
	PerlinAmplitude float64
	// Seed makes paths reproducible. Zero seeds from the clock.
	Seed int64
}

// DefaultPathConfig returns a moderately quick, slightly unsteady hand.
func DefaultPathConfig() PathConfig {
	return PathConfig{FittsA: 100, FittsB: 120, PerlinAmplitude: 1.5}
}

// Waypoint is one pointerMove record. Duration is the time in milliseconds the remote end
// spends moving from the previous waypoint.
type Waypoint struct {
	X, Y     int
	Duration int
}

// PathPlanner generates curved, eased pointer paths.
type PathPlanner struct {
	cfg PathConfig

	mu     sync.Mutex
	rng    *rand.Rand
	noiseX *perlin.Perlin
	noiseY *perlin.Perlin
}

// NewPathPlanner creates a planner.
func NewPathPlanner(cfg PathConfig) *PathPlanner {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	// Standard Perlin parameters.
	alpha, beta, n := 2.0, 2.0, int32(3)
	return &PathPlanner{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		noiseX: perlin.NewPerlin(alpha, beta, n, seed),
		noiseY: perlin.NewPerlin(alpha, beta, n, seed+1),
	}
}

// MovementTime applies Fitts's law to a movement of distance pixels towards a 30px target.
func (p *PathPlanner) MovementTime(distance float64) time.Duration {
	const targetWidth = 30.0
	id := math.Log2(1.0 + distance/targetWidth)
	mt := p.cfg.FittsA + p.cfg.FittsB*id
	if mt < 0 {
		mt = 0
	}
	return time.Duration(mt * float64(time.Millisecond))
}

// Plan returns the waypoints from start to end. The last waypoint is always exactly end.
func (p *PathPlanner) Plan(start, end Vector2D) []Waypoint {
	ex, ey := end.Round()
	dist := start.Dist(end)
	if dist < 1.0 {
		return []Waypoint{{X: ex, Y: ey}}
	}

	total := int(p.MovementTime(dist) / time.Millisecond)
	steps := total / FrameInterval
	if steps < 2 {
		steps = 2
	}
	if steps > maxPathSteps {
		steps = maxPathSteps
	}
	perStep := total / steps

	p.mu.Lock()
	defer p.mu.Unlock()

	// Control points bend the path sideways by up to a tenth of its length.
	dir := end.Sub(start).Normalize()
	side := dir.Perp()
	c1 := start.Add(dir.Mul(dist / 3)).Add(side.Mul(p.rng.NormFloat64() * dist * 0.1))
	c2 := start.Add(dir.Mul(dist * 2 / 3)).Add(side.Mul(p.rng.NormFloat64() * dist * 0.05))

	path := make([]Waypoint, steps)
	for i := 1; i <= steps; i++ {
		t := easeInOutCubic(float64(i) / float64(steps))
		point := cubicBezier(start, c1, c2, end, t)
		if i < steps {
			elapsed := float64(i*perStep) / 1000
			point = point.Add(Vector2D{
				X: p.noiseX.Noise1D(elapsed*0.8) * p.cfg.PerlinAmplitude,
				Y: p.noiseY.Noise1D(elapsed*0.8) * p.cfg.PerlinAmplitude,
			})
		}
		x, y := point.Round()
		path[i-1] = Waypoint{X: x, Y: y, Duration: perStep}
	}
	path[steps-1].X, path[steps-1].Y = ex, ey
	return path
}

// easeInOutCubic accelerates then decelerates along the path.
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

func cubicBezier(a, b, c, d Vector2D, t float64) Vector2D {
	omt := 1.0 - t
	return a.Mul(omt * omt * omt).
		Add(b.Mul(3 * omt * omt * t)).
		Add(c.Mul(3 * omt * t * t)).
		Add(d.Mul(t * t * t))
}
