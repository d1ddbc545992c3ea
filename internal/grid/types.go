package grid

import (
	"math"
	"time"
)

// Vector2 is a point or offset in pixel space.
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns v + o.
func (v Vector2) Add(o Vector2) Vector2 { return Vector2{X: v.X + o.X, Y: v.Y + o.Y} }

// Sub returns v - o.
func (v Vector2) Sub(o Vector2) Vector2 { return Vector2{X: v.X - o.X, Y: v.Y - o.Y} }

// Scale returns v * s.
func (v Vector2) Scale(s float64) Vector2 { return Vector2{X: v.X * s, Y: v.Y * s} }

// Len returns the Euclidean length of v.
func (v Vector2) Len() float64 { return math.Hypot(v.X, v.Y) }

// Dist returns the Euclidean distance between v and o.
func (v Vector2) Dist(o Vector2) float64 { return math.Hypot(v.X-o.X, v.Y-o.Y) }

// GridDot is one expected reference point of the pattern.
type GridDot struct {
	ID                string  `json:"id"`
	ExpectedPosition  Vector2 `json:"expected_position"`
	ExpectedIntensity float64 `json:"expected_intensity"` // [0,1]
	Enabled           bool    `json:"enabled"`
}

// GridPattern is the ordered set of expected dots. It is owned by the
// calibration UI and is read-only to the detector during a frame.
type GridPattern struct {
	Dots []GridDot `json:"dots"`
}

// Len returns the number of dots in the pattern, enabled or not.
func (p GridPattern) Len() int { return len(p.Dots) }

// EnabledDots returns the enabled dots in pattern order.
func (p GridPattern) EnabledDots() []GridDot {
	out := make([]GridDot, 0, len(p.Dots))
	for _, d := range p.Dots {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Lookup returns the dot with the given id.
func (p GridPattern) Lookup(id string) (GridDot, bool) {
	for _, d := range p.Dots {
		if d.ID == id {
			return d, true
		}
	}
	return GridDot{}, false
}

// DetectedDot is a dot candidate found in the current frame. The matcher
// fills the correspondence fields in place; nothing survives the frame.
type DetectedDot struct {
	Position   Vector2 `json:"position"`
	Intensity  float64 `json:"intensity"` // mean brightness, [0,1]
	Size       float64 `json:"size"`      // equivalent diameter in pixels
	Confidence float64 `json:"confidence"`
	Matched    bool    `json:"matched"`

	ID               string   `json:"id,omitempty"`
	ExpectedPosition *Vector2 `json:"expected_position,omitempty"`
	Displacement     *Vector2 `json:"displacement,omitempty"`
}

// ClearMatch removes correspondence fields written by a previous match.
func (d *DetectedDot) ClearMatch() {
	d.Matched = false
	d.ID = ""
	d.ExpectedPosition = nil
	d.Displacement = nil
}

// GridAlignment maps grid-pattern space into camera space:
// camera = R(rotation)·diag(scale)·grid + translation.
// It is replaced wholesale on every accepted calibration, never mutated.
type GridAlignment struct {
	Rotation          float64       `json:"rotation"` // radians
	Scale             Vector2       `json:"scale"`
	Translation       Vector2       `json:"translation"`
	Confidence        float64       `json:"confidence"`
	Score             float64       `json:"score"`
	CalibrationMatrix [3][3]float64 `json:"calibration_matrix"`
}

// IdentityAlignment is the transform used before the first calibration succeeds.
func IdentityAlignment() GridAlignment {
	return NewAlignment(0, Vector2{X: 1, Y: 1}, Vector2{})
}

// NewAlignment builds an alignment and its homogeneous matrix. Confidence
// and score are left at zero for the calibrator to fill in.
func NewAlignment(rotation float64, scale, translation Vector2) GridAlignment {
	c, s := math.Cos(rotation), math.Sin(rotation)
	return GridAlignment{
		Rotation:    rotation,
		Scale:       scale,
		Translation: translation,
		CalibrationMatrix: [3][3]float64{
			{c * scale.X, -s * scale.Y, translation.X},
			{s * scale.X, c * scale.Y, translation.Y},
			{0, 0, 1},
		},
	}
}

// Apply projects a grid-space point into camera space.
func (a GridAlignment) Apply(p Vector2) Vector2 {
	m := a.CalibrationMatrix
	return Vector2{
		X: m[0][0]*p.X + m[0][1]*p.Y + m[0][2],
		Y: m[1][0]*p.X + m[1][1]*p.Y + m[1][2],
	}
}

// DisturbanceType names the kind of deviation a disturbance records.
type DisturbanceType string

const (
	DotOcclusion    DisturbanceType = "DOT_OCCLUSION"
	DotDisplacement DisturbanceType = "DOT_DISPLACEMENT"
	DotBrightening  DisturbanceType = "DOT_BRIGHTENING"
	DotDimming      DisturbanceType = "DOT_DIMMING"
)

// BoundingBox is an axis-aligned box in camera space.
type BoundingBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// BoundingBoxOf returns the smallest box containing all points.
func BoundingBoxOf(points ...Vector2) BoundingBox {
	if len(points) == 0 {
		return BoundingBox{}
	}
	b := BoundingBox{MinX: points[0].X, MinY: points[0].Y, MaxX: points[0].X, MaxY: points[0].Y}
	for _, p := range points[1:] {
		b.MinX = math.Min(b.MinX, p.X)
		b.MinY = math.Min(b.MinY, p.Y)
		b.MaxX = math.Max(b.MaxX, p.X)
		b.MaxY = math.Max(b.MaxY, p.Y)
	}
	return b
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() float64 { return b.MaxX - b.MinX }

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() float64 { return b.MaxY - b.MinY }

// DisturbanceMetadata carries the evidence behind a disturbance.
type DisturbanceMetadata struct {
	OriginalPositions   []Vector2   `json:"original_positions"`
	CurrentPositions    []Vector2   `json:"current_positions"`
	OriginalIntensities []float64   `json:"original_intensities"`
	CurrentIntensities  []float64   `json:"current_intensities"`
	VelocityVector      *Vector2    `json:"velocity_vector,omitempty"`
	BoundingBox         BoundingBox `json:"bounding_box"`
	Classification      string      `json:"classification"`
}

// GridDisturbance is one classified deviation between the pattern and the frame.
type GridDisturbance struct {
	ID           string              `json:"id"`
	Timestamp    time.Time           `json:"timestamp"`
	FrameNumber  int64               `json:"frame_number"`
	AffectedDots []string            `json:"affected_dots"`
	Type         DisturbanceType     `json:"disturbance_type"`
	Intensity    float64             `json:"intensity"` // severity, [0,1]
	Position     Vector2             `json:"position"`
	Size         Vector2             `json:"size"`
	Duration     time.Duration       `json:"duration"`
	Confidence   float64             `json:"confidence"`
	Metadata     DisturbanceMetadata `json:"metadata"`
}

// CameraFrame is a raw 8-bit grayscale frame from the capture collaborator.
type CameraFrame struct {
	Width     int
	Height    int
	Pix       []uint8 // row-major, len = Width*Height
	Timestamp time.Time
}

// Valid reports whether the frame has a pixel buffer matching its dimensions.
func (f CameraFrame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height
}

// ProcessedFrame is the immutable result of one ProcessFrame call.
type ProcessedFrame struct {
	FrameNumber  int64
	Original     CameraFrame
	DetectedDots []DetectedDot
	// Candidates holds the classifier output before validation; the temporal
	// stage consults it on later frames.
	Candidates   []GridDisturbance
	Disturbances []GridDisturbance
	Alignment    *GridAlignment // nil until the first calibration succeeds
	Timestamp    time.Time

	ProcessingTime  time.Duration
	ForegroundRatio float64
}
