// Command orrery-plot renders the sampled heliocentric orbit of every orrery
// body into an image. The output format follows the file extension (png, svg,
// pdf, ...).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/signalsfoundry/astrogator/internal/ephem"
	"github.com/signalsfoundry/astrogator/internal/logging"
	"github.com/signalsfoundry/astrogator/internal/orbit"
	"github.com/signalsfoundry/astrogator/kb"
	"github.com/signalsfoundry/astrogator/model"
)

const au = 149597870.7

func main() {
	kernelDir := flag.String("kernels", "kernels", "Directory of ephemeris kernels")
	start := flag.String("start", "2026-02-02T12:00:00", "UTC start of every sampled orbit")
	points := flag.Int("points", orbit.DefaultPathPoints, "Samples per orbit")
	out := flag.String("out", "orrery.png", "Output image; format follows the extension")
	size := flag.Float64("size", 8, "Image width and height in inches")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	g := ephem.New(ephem.WithLogger(log))
	defer g.Close()
	if _, err := g.Load(ctx, *kernelDir); err != nil {
		log.Error(ctx, "cannot load kernels", logging.Err(err))
		os.Exit(1)
	}

	unavailable, err := renderOrrery(ctx, g, *start, *points, *out, vg.Length(*size)*vg.Inch)
	if err != nil {
		log.Error(ctx, "render failed", logging.Err(err))
		os.Exit(1)
	}
	for _, name := range unavailable {
		log.Warn(ctx, "orbit unavailable", logging.String("body", name))
	}
	log.Info(ctx, "orrery written", logging.String("path", *out))
}

// pathGateway is what renderOrrery needs from *ephem.Gateway.
type pathGateway interface {
	orbit.PositionSource
	UTCToTime(ctx context.Context, text string) (model.TimePoint, error)
	Catalog() *kb.KnowledgeBase
}

// renderOrrery samples each orrery body from startUTC and saves the ecliptic
// x-y projection, in AU, to path. Bodies whose orbit cannot be sampled are
// left out and returned.
func renderOrrery(ctx context.Context, g pathGateway, startUTC string, points int, path string, size vg.Length) ([]string, error) {
	start, err := g.UTCToTime(ctx, startUTC)
	if err != nil {
		return nil, fmt.Errorf("start time: %w", err)
	}
	catalog := g.Catalog()
	sampler := orbit.NewSampler(g, catalog)

	p := plot.New()
	p.Title.Text = "Orrery from " + startUTC
	p.X.Label.Text = "x (AU, ECLIPJ2000)"
	p.Y.Label.Text = "y (AU, ECLIPJ2000)"
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	sun, err := plotter.NewScatter(plotter.XYs{{X: 0, Y: 0}})
	if err != nil {
		return nil, err
	}
	sun.GlyphStyle = draw.GlyphStyle{Color: plotutil.Color(1), Radius: vg.Points(4), Shape: draw.CircleGlyph{}}
	p.Add(sun)
	p.Legend.Add("SUN", sun)

	var unavailable []string
	for i, b := range catalog.OrreryBodies() {
		samples, err := sampler.SamplePath(ctx, catalog.OrreryName(b.Name), start, points)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			unavailable = append(unavailable, b.Name)
			continue
		}
		xys := make(plotter.XYs, len(samples))
		for j, s := range samples {
			xys[j].X, xys[j].Y = s.X/au, s.Y/au
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name, err)
		}
		line.Color = plotutil.Color(i + 2)
		line.Dashes = plotutil.Dashes(0)
		p.Add(line)
		p.Legend.Add(b.Name, line)
	}

	if err := p.Save(size, size, path); err != nil {
		return unavailable, fmt.Errorf("save %s: %w", path, err)
	}
	return unavailable, nil
}
