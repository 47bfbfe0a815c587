package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strings"

	"plenario/internal/command"
	"plenario/internal/runner"
)

// Detection is one region reported by the detector. Box is
// [x_min, y_min, x_max, y_max] in image pixels.
type Detection struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

type Detector interface {
	Detect(ctx context.Context, imagePath string) ([]Detection, error)
}

// CommandDetector runs Argv with the image path appended and decodes a JSON
// array of detections from stdout.
type CommandDetector struct {
	Argv   []string
	Runner command.Runner
}

func (d *CommandDetector) Detect(ctx context.Context, imagePath string) ([]Detection, error) {
	if len(d.Argv) == 0 {
		return nil, errors.New("detector command not configured")
	}
	r := d.Runner
	if r == nil {
		r = command.Exec{}
	}
	args := append(append([]string(nil), d.Argv[1:]...), imagePath)
	out, err := r.Run(ctx, d.Argv[0], args...)
	if err != nil {
		return nil, err
	}

	var dets []Detection
	if err := json.Unmarshal(out, &dets); err != nil {
		return nil, runner.Permanent(fmt.Errorf("decode detections: %w", err))
	}
	return dets, nil
}

// Zone is a region selected for cropping. Index is the 1-based position of
// the detection in the detector output.
type Zone struct {
	Index int
	Label string
	Rect  image.Rectangle
}

// SelectZones keeps detections whose label contains label
// (case-insensitive), extends each box downwards by marginBottom of its
// height and clamps it to bounds.
func SelectZones(dets []Detection, label string, marginBottom float64, bounds image.Rectangle) []Zone {
	want := strings.ToLower(label)
	var out []Zone
	for i, d := range dets {
		lbl := strings.ToLower(d.Label)
		if !strings.Contains(lbl, want) {
			continue
		}
		x0, y0, x1, y1 := int(d.Box[0]), int(d.Box[1]), int(d.Box[2]), int(d.Box[3])
		y1 = min(y1+int(float64(y1-y0)*marginBottom), bounds.Max.Y)

		r := image.Rect(x0, y0, x1, y1).Intersect(bounds)
		if r.Empty() {
			continue
		}
		out = append(out, Zone{Index: i + 1, Label: lbl, Rect: r})
	}
	return out
}
