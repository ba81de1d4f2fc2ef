package ephem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/signalsfoundry/astrogator/internal/ephem/kernel"
	"github.com/signalsfoundry/astrogator/internal/logging"
	"go.opentelemetry.io/otel/attribute"
)

// loadOrder furnishes text kernels before trajectories so that element-set
// epochs can be converted with the leapseconds table.
var loadOrder = map[kernel.Kind]int{
	kernel.KindLeapSeconds: 0,
	kernel.KindConstants:   1,
	kernel.KindFrames:      2,
	kernel.KindSPK:         3,
	kernel.KindVSOP87:      4,
	kernel.KindTLE:         5,
}

// LoadReport summarizes one Load call.
type LoadReport struct {
	Dir     string
	Loaded  []string
	Skipped []string // already loaded by an earlier call
	Ignored []string // not kernel files
	Failed  []string

	errs *multierror.Error
}

// Err returns the per-file failures, or nil.
func (r LoadReport) Err() error {
	return r.errs.ErrorOrNil()
}

// Load furnishes every recognized kernel file in dir. A file that fails to
// load is logged and recorded in the report; the rest of the batch still
// loads. Calling Load again skips files that are already loaded.
func (g *Gateway) Load(ctx context.Context, dir string) (LoadReport, error) {
	log := logging.FromContext(ctx, g.log)
	report := LoadReport{Dir: dir}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn(ctx, "kernel directory unavailable; ephemeris queries will fail",
			logging.String("dir", dir), logging.Err(err))
		return report, fmt.Errorf("%w: %s: %v", ErrKernelDirUnavailable, dir, err)
	}

	type candidate struct {
		path string
		kind kernel.Kind
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		kind := kernel.KindOf(path)
		if kind == kernel.KindUnknown {
			report.Ignored = append(report.Ignored, e.Name())
			continue
		}
		files = append(files, candidate{path: path, kind: kind})
	}
	sort.SliceStable(files, func(i, j int) bool {
		return loadOrder[files[i].kind] < loadOrder[files[j].kind]
	})

	var loadedTotal int
	err = g.exclusive(ctx, "load", func(p *kernel.Pool) error {
		for _, f := range files {
			name := filepath.Base(f.path)
			if p.IsLoaded(f.path) {
				report.Skipped = append(report.Skipped, name)
				continue
			}
			p.Furnish(f.path)
			if p.Failed() {
				short, long := p.Message()
				p.Reset()
				report.Failed = append(report.Failed, name)
				report.errs = multierror.Append(report.errs, &LibraryError{Op: "load", Code: short, Detail: long})
				log.Warn(ctx, "kernel failed to load",
					logging.String("file", name),
					logging.String("kind", f.kind.String()),
					logging.String("code", short),
					logging.String("detail", long))
				continue
			}
			report.Loaded = append(report.Loaded, name)
			log.Debug(ctx, "kernel loaded", logging.String("file", name), logging.String("kind", f.kind.String()))
		}
		loadedTotal = len(p.Loaded())
		return nil
	}, attribute.String("ephem.dir", dir))
	if err != nil {
		return report, err
	}

	g.metrics.SetKernelsLoaded(loadedTotal)
	log.Info(ctx, "kernels loaded",
		logging.String("dir", dir),
		logging.Int("loaded", len(report.Loaded)),
		logging.Int("skipped", len(report.Skipped)),
		logging.Int("failed", len(report.Failed)),
		logging.Int("ignored", len(report.Ignored)))
	return report, nil
}

// SegmentSummary describes the coverage of one trajectory segment.
type SegmentSummary struct {
	Source     string
	Kind       string
	Target     int
	TargetName string
	Center     int
	CenterName string
	Frame      int
	StartUTC   string
	EndUTC     string
}

// Inventory lists loaded kernels and trajectory segments.
type Inventory struct {
	Kernels  []string
	Segments []SegmentSummary
}

// Inventory reports what the library currently holds. Coverage bounds are
// formatted as UTC when a leapseconds kernel is loaded and left empty
// otherwise.
func (g *Gateway) Inventory(ctx context.Context) (Inventory, error) {
	var inv Inventory
	err := g.exclusive(ctx, "inventory", func(p *kernel.Pool) error {
		inv.Kernels = p.Loaded()
		for _, s := range p.Segments() {
			sum := SegmentSummary{
				Source:     filepath.Base(s.Source),
				Kind:       s.Kind.String(),
				Target:     s.Target,
				TargetName: p.BodyName(s.Target),
				Center:     s.Center,
				CenterName: p.BodyName(s.Center),
				Frame:      s.Frame,
			}
			sum.StartUTC = p.ETToUTC(s.Start)
			sum.EndUTC = p.ETToUTC(s.End)
			if p.Failed() {
				p.Reset()
				sum.StartUTC, sum.EndUTC = "", ""
			}
			inv.Segments = append(inv.Segments, sum)
		}
		return nil
	})
	return inv, err
}
