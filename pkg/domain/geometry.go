package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// GeometryKind tags the coordinate structure of a geometry payload.
type GeometryKind string

// Supported geometry kinds. Raster and 3D payloads are out of scope.
const (
	GeometryPoint           GeometryKind = "point"
	GeometryMultiPoint      GeometryKind = "multipoint"
	GeometryLineString      GeometryKind = "linestring"
	GeometryMultiLineString GeometryKind = "multilinestring"
	GeometryPolygon         GeometryKind = "polygon"
	GeometryMultiPolygon    GeometryKind = "multipolygon"
)

// coordinateDepth is the expected array nesting of each kind: a point is one
// position, a polygon is rings of positions, and so on.
var coordinateDepth = map[GeometryKind]int{
	GeometryPoint:           1,
	GeometryMultiPoint:      2,
	GeometryLineString:      2,
	GeometryMultiLineString: 3,
	GeometryPolygon:         3,
	GeometryMultiPolygon:    4,
}

// Geometry is an opaque structured geometry payload: a kind tag plus raw
// coordinate JSON. Coordinates are WGS84 positions; the core only inspects
// them for structural validation, equality, and bounding boxes.
type Geometry struct {
	Kind        GeometryKind    `json:"kind"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// NewPoint builds a point geometry from x/y, mostly for tests and fixtures.
func NewPoint(x, y float64) Geometry {
	raw, _ := json.Marshal([]float64{x, y})
	return Geometry{Kind: GeometryPoint, Coordinates: raw}
}

// IsZero reports whether the geometry carries no payload at all.
func (g Geometry) IsZero() bool { return g.Kind == "" && len(g.Coordinates) == 0 }

// Clone returns a deep copy of the geometry.
func (g Geometry) Clone() Geometry {
	cp := g
	if g.Coordinates != nil {
		cp.Coordinates = append(json.RawMessage(nil), g.Coordinates...)
	}
	return cp
}

// Validate checks the payload structurally: known kind, well-formed
// coordinate JSON, nesting consistent with the kind, and at least one
// position with two finite ordinates.
func (g Geometry) Validate() error {
	depth, ok := coordinateDepth[g.Kind]
	if !ok {
		return InvalidGeometryError{Reason: fmt.Sprintf("unknown geometry kind %q", g.Kind)}
	}
	if len(g.Coordinates) == 0 {
		return InvalidGeometryError{Reason: "empty coordinates"}
	}
	var decoded any
	if err := json.Unmarshal(g.Coordinates, &decoded); err != nil {
		return InvalidGeometryError{Reason: "coordinates are not valid JSON"}
	}
	positions, maxDepth, err := collectPositions(decoded, 1)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return InvalidGeometryError{Reason: "no coordinate positions"}
	}
	if maxDepth != depth {
		return InvalidGeometryError{Reason: fmt.Sprintf("%s requires nesting depth %d, got %d", g.Kind, depth, maxDepth)}
	}
	return nil
}

// Equal reports payload equality: same kind and structurally identical
// coordinates. Formatting differences in the raw JSON do not matter.
func (g Geometry) Equal(other Geometry) bool {
	if g.Kind != other.Kind {
		return false
	}
	if bytes.Equal(g.Coordinates, other.Coordinates) {
		return true
	}
	var a, b any
	if err := json.Unmarshal(g.Coordinates, &a); err != nil {
		return false
	}
	if err := json.Unmarshal(other.Coordinates, &b); err != nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// BBox is an axis-aligned bounding box in coordinate order x/y.
type BBox struct {
	MinX, MinY, MaxX, MaxY float64
}

// Intersects reports whether two boxes overlap or touch.
func (b BBox) Intersects(o BBox) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

// BoundingBox computes the envelope of all positions in the payload. It is
// the coarse heuristic used when comparing divergent geometries; no finer
// geometric diff is attempted.
func (g Geometry) BoundingBox() (BBox, error) {
	var decoded any
	if err := json.Unmarshal(g.Coordinates, &decoded); err != nil {
		return BBox{}, InvalidGeometryError{Reason: "coordinates are not valid JSON"}
	}
	positions, _, err := collectPositions(decoded, 1)
	if err != nil {
		return BBox{}, err
	}
	if len(positions) == 0 {
		return BBox{}, InvalidGeometryError{Reason: "no coordinate positions"}
	}
	box := BBox{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, p := range positions {
		box.MinX = math.Min(box.MinX, p[0])
		box.MaxX = math.Max(box.MaxX, p[0])
		box.MinY = math.Min(box.MinY, p[1])
		box.MaxY = math.Max(box.MaxY, p[1])
	}
	return box, nil
}

// collectPositions walks arbitrarily nested coordinate arrays, returning every
// [x y] position and the nesting depth at which positions sit.
func collectPositions(node any, depth int) ([][2]float64, int, error) {
	arr, ok := node.([]any)
	if !ok {
		return nil, 0, InvalidGeometryError{Reason: "coordinates must be an array"}
	}
	if len(arr) == 0 {
		return nil, 0, InvalidGeometryError{Reason: "empty coordinate array"}
	}
	if _, leaf := arr[0].(float64); leaf {
		if len(arr) < 2 {
			return nil, 0, InvalidGeometryError{Reason: "position needs at least two ordinates"}
		}
		pos := [2]float64{}
		for i := 0; i < 2; i++ {
			f, ok := arr[i].(float64)
			if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, 0, InvalidGeometryError{Reason: "ordinates must be finite numbers"}
			}
			pos[i] = f
		}
		return [][2]float64{pos}, depth, nil
	}
	var all [][2]float64
	maxDepth := 0
	for _, child := range arr {
		positions, d, err := collectPositions(child, depth+1)
		if err != nil {
			return nil, 0, err
		}
		if d > maxDepth {
			maxDepth = d
		}
		all = append(all, positions...)
	}
	return all, maxDepth, nil
}

// Properties is the structured attribute mapping of a feature version. The
// concrete value encoding is the storage collaborator's concern; the core
// only clones and compares it.
type Properties map[string]any

// Clone returns a deep copy via a JSON round trip, which also normalises
// value types so that stored and reloaded properties compare equal.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		cp := make(Properties, len(p))
		for k, v := range p {
			cp[k] = v
		}
		return cp
	}
	var cp Properties
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil
	}
	return cp
}

// Equal compares two property mappings structurally after JSON
// normalisation, so int/float encodings of the same value compare equal.
func (p Properties) Equal(other Properties) bool {
	if len(p) == 0 && len(other) == 0 {
		return true
	}
	return reflect.DeepEqual(p.Clone(), other.Clone())
}

// Validate rejects property mappings that cannot round-trip through the
// structured-document column encoding.
func (p Properties) Validate() error {
	if p == nil {
		return nil
	}
	if _, err := json.Marshal(p); err != nil {
		return InvalidPropertiesError{Reason: "properties are not JSON-encodable"}
	}
	return nil
}
