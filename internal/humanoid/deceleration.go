// File: internal/humanoid/deceleration.go
package humanoid

import "math"

// Fling physics modelled on the Android OverScroller spline: an initial velocity
// yields a total distance and duration, and a precomputed spline maps normalized
// time to normalized position so that per-frame deltas decay to zero.
const (
	// FrameInterval is the fixed simulation step in milliseconds (60fps).
	FrameInterval = 16

	inflexion      = 0.35
	startTension   = 0.5
	endTension     = 1.0
	splineSamples  = 100
	splineEpsilon  = 1e-5
	physicalCoeff  = 1000.0
	p1             = startTension * inflexion
	p2             = 1.0 - endTension*(1.0-inflexion)
)

// decelerationRate is the empirical exponent k = ln(0.78)/ln(0.9).
var decelerationRate = math.Log(0.78) / math.Log(0.9)

// SplineDeceleration yields per-frame scroll deltas for one fling gesture.
// A value is consumed frame by frame and must not be shared across gestures.
type SplineDeceleration struct {
	initialVelocity float64
	direction       float64
	distance        float64
	duration        int

	elapsed          int
	previousPosition int
	currentPosition  int
	currentVelocity  float64

	splinePosition [splineSamples + 1]float64
	splineTime     [splineSamples + 1]float64
}

// NewSplineDeceleration prepares a fling for the signed initial velocity (pixels per second).
// The sign selects the direction of the produced deltas.
func NewSplineDeceleration(initialVelocity float64) *SplineDeceleration {
	d := &SplineDeceleration{
		initialVelocity: initialVelocity,
		currentVelocity: initialVelocity,
		direction:       1,
	}
	if initialVelocity < 0 {
		d.direction = -1
	}
	d.duration = splineDuration(initialVelocity)
	d.distance = splineDistance(initialVelocity)
	d.buildTables()
	return d
}

// splineDeceleration returns ln(inflexion*|v|/coeff); -Inf for a zero velocity.
func splineDeceleration(velocity float64) float64 {
	return math.Log(inflexion * math.Abs(velocity) / physicalCoeff)
}

func splineDistance(velocity float64) float64 {
	l := splineDeceleration(velocity)
	return physicalCoeff * math.Exp(decelerationRate/(decelerationRate-1.0)*l)
}

func splineDuration(velocity float64) int {
	l := splineDeceleration(velocity)
	return int(1000.0 * math.Exp(l/(decelerationRate-1.0)))
}

// Distance is the absolute number of pixels the whole gesture travels.
func (d *SplineDeceleration) Distance() float64 { return d.distance }

// Duration is the gesture length in milliseconds.
func (d *SplineDeceleration) Duration() int { return d.duration }

// CurrentVelocity is the interpolated velocity at the last advanced frame.
func (d *SplineDeceleration) CurrentVelocity() float64 { return d.currentVelocity }

// CurrentPosition is the signed pixel offset reached at the last advanced frame.
func (d *SplineDeceleration) CurrentPosition() int { return d.currentPosition }

// Done reports whether the gesture has run past its duration.
func (d *SplineDeceleration) Done() bool { return d.elapsed > d.duration }

// Next advances one frame and returns the signed pixel delta since the previous frame.
// Once elapsed time exceeds the duration every call returns 0.
func (d *SplineDeceleration) Next() int {
	d.elapsed += FrameInterval
	if d.elapsed > d.duration {
		d.currentVelocity = 0
		return 0
	}

	t := float64(d.elapsed) / float64(d.duration)
	coef := d.interpolatePosition(t)
	d.currentVelocity = d.direction * d.interpolateVelocity(t)
	d.currentPosition = int(d.direction * coef * d.distance)

	delta := d.currentPosition - d.previousPosition
	d.previousPosition = d.currentPosition
	return delta
}

// Deltas drains the gesture, returning every nonzero delta in order.
// A zero delta mid-gesture ends the sequence, matching the frame loop contract.
func (d *SplineDeceleration) Deltas() []int {
	var out []int
	for {
		delta := d.Next()
		if delta == 0 {
			return out
		}
		out = append(out, delta)
	}
}

func (d *SplineDeceleration) buildTables() {
	for i := 0; i < splineSamples; i++ {
		alpha := float64(i) / splineSamples

		// Invert x(t) to find the spline parameter for this time sample.
		xMin, xMax := 0.0, 1.0
		var x, coef float64
		for {
			x = (xMin + xMax) / 2.0
			coef = 3.0 * x * (1.0 - x)
			tx := coef*((1.0-x)*p1+x*p2) + x*x*x
			if math.Abs(tx-alpha) < splineEpsilon {
				break
			}
			if tx > alpha {
				xMax = x
			} else {
				xMin = x
			}
		}
		d.splinePosition[i] = coef*((1.0-x)*startTension+x) + x*x*x

		yMin, yMax := 0.0, 1.0
		var y float64
		for {
			y = (yMin + yMax) / 2.0
			coef = 3.0 * y * (1.0 - y)
			dy := coef*((1.0-y)*startTension+y) + y*y*y
			if math.Abs(dy-alpha) < splineEpsilon {
				break
			}
			if dy > alpha {
				yMax = y
			} else {
				yMin = y
			}
		}
		d.splineTime[i] = coef*((1.0-y)*p1+y*p2) + y*y*y
	}
	d.splinePosition[splineSamples] = 1.0
	d.splineTime[splineSamples] = 1.0
}

func (d *SplineDeceleration) interpolatePosition(t float64) float64 {
	index := int(splineSamples * t)
	if index >= splineSamples {
		return 1.0
	}
	tInf := float64(index) / splineSamples
	tSup := float64(index+1) / splineSamples
	dInf := d.splinePosition[index]
	dSup := d.splinePosition[index+1]
	velocityCoef := (dSup - dInf) / (tSup - tInf)
	return dInf + (t-tInf)*velocityCoef
}

func (d *SplineDeceleration) interpolateVelocity(t float64) float64 {
	index := int(splineSamples * t)
	if index >= splineSamples {
		return 0.0
	}
	tInf := float64(index) / splineSamples
	tSup := float64(index+1) / splineSamples
	dInf := d.splinePosition[index]
	dSup := d.splinePosition[index+1]
	velocityCoef := (dSup - dInf) / (tSup - tInf)
	return velocityCoef * d.distance / float64(d.duration) * 1000.0
}
