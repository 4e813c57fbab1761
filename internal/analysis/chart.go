package analysis

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"

	"github.com/mathprep/aptitude/internal/model"
)

const (
	chartSize   = 600
	chartMargin = 80
)

var chartCategories = []string{"Arithmetic", "Algebra", "Geometry"}

// RenderStudentChart draws a closed three-axis radar polygon of the
// student's raw subject scores and saves it as
// {staticDir}/{name}_radar_chart.png, overwriting any prior chart.
//
// Raw scores are plotted deliberately: because totals can differ per
// subject, charts of students with different totals are not visually
// comparable. Switching to percentages would change the contract and is a
// pending product decision.
func (e *Engine) RenderStudentChart(name string, record model.StudentRecord) (string, error) {
	scores := make([]float64, 0, len(chartCategories)+1)
	maxScore := 1.0
	for _, topic := range model.Topics() {
		s := float64(record.Mark(topic).Score)
		scores = append(scores, s)
		maxScore = math.Max(maxScore, s)
	}
	// Repeat the first point so the polygon closes.
	scores = append(scores, scores[0])

	n := len(chartCategories)
	angles := make([]float64, 0, n+1)
	for i := 0; i < n; i++ {
		angles = append(angles, 2*math.Pi*float64(i)/float64(n)-math.Pi/2)
	}
	angles = append(angles, angles[0])

	center := float64(chartSize) / 2
	scale := (center - chartMargin) / maxScore
	point := func(angle, score float64) (float64, float64) {
		return center + math.Cos(angle)*score*scale, center + math.Sin(angle)*score*scale
	}

	dc := gg.NewContext(chartSize, chartSize)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	// Concentric reference rings and spokes.
	dc.SetRGBA(0, 0, 0, 0.25)
	dc.SetLineWidth(1)
	for _, frac := range []float64{0.25, 0.5, 0.75, 1} {
		for i := 0; i <= n; i++ {
			x, y := point(angles[i], maxScore*frac)
			if i == 0 {
				dc.MoveTo(x, y)
			} else {
				dc.LineTo(x, y)
			}
		}
		dc.Stroke()
	}
	for i := 0; i < n; i++ {
		x, y := point(angles[i], maxScore)
		dc.MoveTo(center, center)
		dc.LineTo(x, y)
		dc.Stroke()
	}

	// Axis labels just past the outer ring.
	dc.SetRGB(0, 0, 0)
	for i, category := range chartCategories {
		x, y := point(angles[i], maxScore*1.15)
		dc.DrawStringAnchored(category, x, y, 0.5, 0.5)
	}
	dc.DrawStringAnchored(fmt.Sprintf("Performance of %s", name), center, chartMargin/3, 0.5, 0.5)

	// The score polygon, filled then outlined.
	for i := range scores {
		x, y := point(angles[i], scores[i])
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
	dc.ClosePath()
	dc.SetRGBA(0, 0, 1, 0.25)
	dc.FillPreserve()
	dc.SetRGBA(0, 0, 1, 1)
	dc.SetLineWidth(2)
	dc.Stroke()

	if err := os.MkdirAll(e.staticDir, 0o755); err != nil {
		return "", fmt.Errorf("create static dir: %w", err)
	}
	path := filepath.Join(e.staticDir, chartFileName(name))
	if err := dc.SavePNG(path); err != nil {
		return "", fmt.Errorf("save chart: %w", err)
	}
	return path, nil
}

// chartFileName keeps the {name}_radar_chart.png convention while making
// sure a name can't escape the static dir.
func chartFileName(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, name)
	return safe + "_radar_chart.png"
}
