package api

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/lightpos/internal/db"
	"github.com/banshee-data/lightpos/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// foundCentroids drops rows where no bright pixel was seen; their (0,0)
// would otherwise pull the track to the corner.
func foundCentroids(recs []db.CentroidRecord) []db.CentroidRecord {
	found := make([]db.CentroidRecord, 0, len(recs))
	for _, rec := range recs {
		if rec.Found {
			found = append(found, rec)
		}
	}
	return found
}

// showCentroidChart renders the recent centroid track as a scatter in image
// coordinates. Colour encodes the age of each sample.
func (s *Server) showCentroidChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	recs, ok := s.recentCentroids(w, r)
	if !ok {
		return
	}
	found := foundCentroids(recs)

	maxX, maxY := 1, 1
	if out, ok := s.latest.Get(); ok && out.Input != nil {
		maxX, maxY = out.Input.Width-1, out.Input.Height-1
	}
	data := make([]opts.ScatterData, 0, len(found))
	for i, rec := range found {
		if rec.X > maxX {
			maxX = rec.X
		}
		if rec.Y > maxY {
			maxY = rec.Y
		}
		data = append(data, opts.ScatterData{Value: []interface{}{rec.X, rec.Y, i}})
	}
	maxAge := len(found) - 1
	if maxAge < 1 {
		maxAge = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Light position", Theme: "dark", Width: "900px", Height: "700px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Centroid track", Subtitle: fmt.Sprintf("run=%s samples=%d of %d", s.runID, len(found), len(recs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: maxX, Name: "x (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: maxY, Name: "y (px)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxAge),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#3e4989", "#26828e", "#35b779", "#b5de2b", "#fde725"}},
		}),
	)
	scatter.AddSeries("centroid", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// showCentroidPlot renders centroid x and y against sample index as a PNG.
func (s *Server) showCentroidPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	recs, ok := s.recentCentroids(w, r)
	if !ok {
		return
	}

	p, err := centroidPlot(s.runID, foundCentroids(recs))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func centroidPlot(runID string, recs []db.CentroidRecord) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Centroid position (run %s)", runID)
	p.X.Label.Text = "Sample"
	p.Y.Label.Text = "Pixel"

	xPts := make(plotter.XYs, len(recs))
	yPts := make(plotter.XYs, len(recs))
	for i, rec := range recs {
		xPts[i] = plotter.XY{X: float64(i), Y: float64(rec.X)}
		yPts[i] = plotter.XY{X: float64(i), Y: float64(rec.Y)}
	}
	if len(recs) == 0 {
		return p, nil
	}

	xLine, err := plotter.NewLine(xPts)
	if err != nil {
		return nil, err
	}
	xLine.Color = color.RGBA{R: 220, G: 50, B: 47, A: 255}
	xLine.Width = vg.Points(1)

	yLine, err := plotter.NewLine(yPts)
	if err != nil {
		return nil, err
	}
	yLine.Color = color.RGBA{R: 38, G: 139, B: 210, A: 255}
	yLine.Width = vg.Points(1)

	p.Add(xLine, yLine)
	p.Legend.Add("x", xLine)
	p.Legend.Add("y", yLine)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}
