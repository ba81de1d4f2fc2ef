// Command kernel-inspect loads a kernel directory and prints what was
// furnished, what failed, and the coverage of every trajectory segment.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/signalsfoundry/astrogator/internal/ephem"
	"github.com/signalsfoundry/astrogator/internal/logging"
)

func main() {
	kernelDir := flag.String("kernels", "kernels", "Directory of ephemeris kernels")
	flag.Parse()

	log := logging.New(logging.Config{Level: "warn", Format: "text", Output: os.Stderr})
	ctx := context.Background()

	g := ephem.New(ephem.WithLogger(log))
	defer g.Close()

	if err := inspect(ctx, g, *kernelDir, os.Stdout); err != nil {
		log.Error(ctx, "inspect failed", logging.Err(err))
		os.Exit(1)
	}
}

// inspect loads dir into g and writes a load report and segment table to w.
// Per-file load failures are reported, not returned.
func inspect(ctx context.Context, g *ephem.Gateway, dir string, w io.Writer) error {
	report, err := g.Load(ctx, dir)
	if err != nil {
		return err
	}
	inv, err := g.Inventory(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "kernel directory %s\n", report.Dir)
	fmt.Fprintf(w, "  loaded:  %d\n", len(report.Loaded))
	fmt.Fprintf(w, "  ignored: %d\n", len(report.Ignored))
	fmt.Fprintf(w, "  failed:  %d\n", len(report.Failed))
	if lerr := report.Err(); lerr != nil {
		fmt.Fprintf(w, "%v\n", lerr)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tKIND\tTARGET\tCENTER\tFRAME\tSTART (UTC)\tEND (UTC)")
	for _, s := range inv.Segments {
		fmt.Fprintf(tw, "%s\t%s\t%s (%d)\t%s (%d)\t%d\t%s\t%s\n",
			s.Source, s.Kind, s.TargetName, s.Target, s.CenterName, s.Center, s.Frame, s.StartUTC, s.EndUTC)
	}
	return tw.Flush()
}
