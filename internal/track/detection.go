package track

import (
	"fmt"
	"math"

	"github.com/banshee-data/sentry.report/internal/geom"
)

// Detection is a single classified object reported by an upstream detector
// for one frame.
type Detection struct {
	Rect       geom.Rect `json:"bbox"`
	ClassID    int       `json:"class_id"`
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	FrameID    int64     `json:"frame_id"`
}

// NewDetection builds a Detection and validates it. The bounding box must
// be finite with x2 > x1 and y2 > y1, and confidence must be in [0, 1].
func NewDetection(rect geom.Rect, classID int, className string, confidence float64, frameID int64) (Detection, error) {
	d := Detection{
		Rect:       rect,
		ClassID:    classID,
		ClassName:  className,
		Confidence: confidence,
		FrameID:    frameID,
	}
	if err := d.Validate(); err != nil {
		return Detection{}, err
	}
	return d, nil
}

// Validate checks the detection's geometric and confidence invariants.
func (d Detection) Validate() error {
	for _, v := range []float64{d.Rect.X1, d.Rect.Y1, d.Rect.X2, d.Rect.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("detection bbox has non-finite coordinate: %+v", d.Rect)
		}
	}
	if d.Rect.X2 <= d.Rect.X1 || d.Rect.Y2 <= d.Rect.Y1 {
		return fmt.Errorf("detection bbox is not ordered: %+v", d.Rect)
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("detection confidence %v outside [0,1]", d.Confidence)
	}
	return nil
}

// Centroid returns the integer midpoint of the detection box.
func (d Detection) Centroid() geom.Point {
	return d.Rect.Centroid()
}
