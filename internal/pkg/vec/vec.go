// Package vec implements the small amount of 3-vector math the presence core needs:
// camera positions, look directions and the follow controller's easing.
package vec

import "math"

// Vec3 is a 3-component vector. It encodes to JSON as a three-element array, matching the
// [x, y, z] tuples exchanged by viewer clients.
type Vec3 [3]float64

// Zero is the origin.
var Zero = Vec3{}

// Forward is the default look direction of a fresh camera.
var Forward = Vec3{0, 0, -1}

func (v Vec3) X() float64 { return v[0] }
func (v Vec3) Y() float64 { return v[1] }
func (v Vec3) Z() float64 { return v[2] }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// Dot returns the dot product.
func (v Vec3) Dot(o Vec3) float64 { return v[0]*o[0] + v[1]*o[1] + v[2]*o[2] }

// LenSq returns the squared length.
func (v Vec3) LenSq() float64 { return v.Dot(v) }

// Len returns the Euclidean length.
func (v Vec3) Len() float64 { return math.Sqrt(v.LenSq()) }

// DistSq returns the squared distance between v and o.
func (v Vec3) DistSq(o Vec3) float64 { return v.Sub(o).LenSq() }

// Dist returns the distance between v and o.
func (v Vec3) Dist(o Vec3) float64 { return math.Sqrt(v.DistSq(o)) }

// Normalize returns v scaled to unit length. The zero vector has no direction and is
// returned unchanged.
func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}

// Lerp moves v toward o by fraction t (0 keeps v, 1 yields o).
func (v Vec3) Lerp(o Vec3, t float64) Vec3 {
	return v.Add(o.Sub(v).Scale(t))
}

// Cross returns the cross product v × o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v[1]*o[2] - v[2]*o[1],
		v[2]*o[0] - v[0]*o[2],
		v[0]*o[1] - v[1]*o[0],
	}
}

// Perpendicular returns a unit vector orthogonal to v.
func (v Vec3) Perpendicular() Vec3 {
	axis := Vec3{1, 0, 0}
	if math.Abs(v.Normalize().X()) > 0.9 {
		axis = Vec3{0, 1, 0}
	}
	return v.Cross(axis).Normalize()
}

// Slerp turns unit vector v toward unit vector o by fraction t of the angle between them,
// keeping unit length. Opposite vectors turn about an arbitrary perpendicular axis.
func (v Vec3) Slerp(o Vec3, t float64) Vec3 {
	dot := math.Max(-1, math.Min(1, v.Dot(o)))

	perp := o.Sub(v.Scale(dot))
	if perp.LenSq() < 1e-12 {
		if dot > 0 {
			return o
		}
		perp = v.Perpendicular()
	}
	perp = perp.Normalize()

	angle := math.Acos(dot) * t
	return v.Scale(math.Cos(angle)).Add(perp.Scale(math.Sin(angle)))
}

// IsFinite reports whether every component is a finite number.
func (v Vec3) IsFinite() bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
