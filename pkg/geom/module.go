package geom

import (
	"fmt"
	"math"
)

// Vector is a position or velocity. Components are float32 because that is
// what travels over the wire; arithmetic is done in float64.
type Vector struct {
	X float32
	Y float32
	Z float32
}

func NewVector(x, y, z float32) Vector {
	return Vector{X: x, Y: y, Z: z}
}

func (v Vector) Add(o Vector) Vector {
	return Vector{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vector) Sub(o Vector) Vector {
	return Vector{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vector) Scale(f float64) Vector {
	return Vector{
		float32(float64(v.X) * f),
		float32(float64(v.Y) * f),
		float32(float64(v.Z) * f),
	}
}

func (v Vector) Length() float64 {
	x, y, z := float64(v.X), float64(v.Y), float64(v.Z)
	return math.Sqrt(x*x + y*y + z*z)
}

// Distance is the Euclidean distance between two points.
func (v Vector) Distance(o Vector) float64 {
	return v.Sub(o).Length()
}

// Lerp returns the point a fraction t of the way from v to o. t is clamped
// to [0, 1] and t == 1 yields o exactly.
func (v Vector) Lerp(o Vector, t float64) Vector {
	if t <= 0 {
		return v
	}
	if t >= 1 {
		return o
	}

	return Vector{
		lerp(v.X, o.X, t),
		lerp(v.Y, o.Y, t),
		lerp(v.Z, o.Z, t),
	}
}

func lerp(a, b float32, t float64) float32 {
	return float32(float64(a) + (float64(b)-float64(a))*t)
}

func (v Vector) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}
