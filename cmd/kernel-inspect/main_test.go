package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/astrogator/internal/ephem"
	"github.com/signalsfoundry/astrogator/internal/ephem/kerneltest"
)

func TestInspectListsSegments(t *testing.T) {
	files := kerneltest.WriteSolarSystem(t)
	kerneltest.WriteFile(t, files.Dir, "broken.bsp", "not a DAF file")

	g := ephem.New()
	t.Cleanup(func() { _ = g.Close() })

	var out bytes.Buffer
	if err := inspect(context.Background(), g, files.Dir, &out); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	text := out.String()
	for _, want := range []string{"loaded:  2", "failed:  1", "SOURCE", "EARTH (399)", "2023-"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
	if got := strings.Count(text, filepath.Base(files.SPK)); got != len(kerneltest.SolarSystem) {
		t.Fatalf("segment rows = %d, want %d:\n%s", got, len(kerneltest.SolarSystem), text)
	}
}

func TestInspectMissingDirectory(t *testing.T) {
	g := ephem.New()
	t.Cleanup(func() { _ = g.Close() })
	err := inspect(context.Background(), g, filepath.Join(t.TempDir(), "nope"), &bytes.Buffer{})
	if !errors.Is(err, ephem.ErrKernelDirUnavailable) {
		t.Fatalf("inspect error = %v, want ErrKernelDirUnavailable", err)
	}
}
