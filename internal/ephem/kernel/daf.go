package kernel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

const (
	dafRecordBytes = 1024
	dafMaxRecords  = 1 << 20
)

type dafSummary struct {
	dc   []float64
	ic   []int32
	name string
}

// dafFile reads a NAIF double-precision array file.
type dafFile struct {
	r     io.ReaderAt
	order binary.ByteOrder
	nd    int
	ni    int
	ifn   string

	summaries []dafSummary
}

func openDAF(r io.ReaderAt) (*dafFile, error) {
	rec := make([]byte, dafRecordBytes)
	if _, err := r.ReadAt(rec, 0); err != nil {
		return nil, fmt.Errorf("read file record: %w", err)
	}
	idword := string(rec[0:8])
	if !strings.HasPrefix(idword, "DAF/") && !strings.HasPrefix(idword, "NAIF/DAF") {
		return nil, fmt.Errorf("not a DAF file (id word %q)", strings.TrimSpace(idword))
	}

	d := &dafFile{r: r}
	switch fmtWord := strings.TrimSpace(string(rec[88:96])); fmtWord {
	case "LTL-IEEE":
		d.order = binary.LittleEndian
	case "BIG-IEEE":
		d.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("unsupported binary format %q", fmtWord)
	}
	d.nd = int(d.order.Uint32(rec[8:12]))
	d.ni = int(d.order.Uint32(rec[12:16]))
	d.ifn = strings.TrimSpace(string(rec[16:76]))
	fward := int(d.order.Uint32(rec[76:80]))
	if d.nd < 2 || d.ni < 6 || d.nd+d.ni > 125 {
		return nil, fmt.Errorf("unsupported summary format ND=%d NI=%d", d.nd, d.ni)
	}

	ss := d.nd + (d.ni+1)/2
	next := fward
	for visited := 0; next != 0; visited++ {
		if visited > dafMaxRecords {
			return nil, errors.New("summary record chain does not terminate")
		}
		srec, err := d.record(next)
		if err != nil {
			return nil, err
		}
		nrec, err := d.record(next + 1)
		if err != nil {
			return nil, err
		}
		nsum := int(d.float(srec, 2))
		if nsum < 0 || 3+nsum*ss > dafRecordBytes/8 {
			return nil, fmt.Errorf("bad summary count %d in record %d", nsum, next)
		}
		for i := 0; i < nsum; i++ {
			off := (3 + i*ss) * 8
			s := dafSummary{dc: make([]float64, d.nd), ic: make([]int32, d.ni)}
			for j := 0; j < d.nd; j++ {
				s.dc[j] = math.Float64frombits(d.order.Uint64(srec[off+j*8:]))
			}
			ioff := off + d.nd*8
			for j := 0; j < d.ni; j++ {
				s.ic[j] = int32(d.order.Uint32(srec[ioff+j*4:]))
			}
			s.name = strings.TrimSpace(string(nrec[i*ss*8 : (i+1)*ss*8]))
			d.summaries = append(d.summaries, s)
		}
		next = int(d.float(srec, 0))
	}
	return d, nil
}

func (d *dafFile) record(n int) ([]byte, error) {
	if n < 1 {
		return nil, fmt.Errorf("bad record number %d", n)
	}
	buf := make([]byte, dafRecordBytes)
	if _, err := d.r.ReadAt(buf, int64(n-1)*dafRecordBytes); err != nil {
		return nil, fmt.Errorf("read record %d: %w", n, err)
	}
	return buf, nil
}

func (d *dafFile) float(rec []byte, word int) float64 {
	return math.Float64frombits(d.order.Uint64(rec[word*8:]))
}

// doubles reads the words at 1-based addresses [start, end].
func (d *dafFile) doubles(start, end int) ([]float64, error) {
	if start < 1 || end < start {
		return nil, fmt.Errorf("bad address range [%d, %d]", start, end)
	}
	n := end - start + 1
	buf := make([]byte, n*8)
	if _, err := d.r.ReadAt(buf, int64(start-1)*8); err != nil {
		return nil, fmt.Errorf("read words [%d, %d]: %w", start, end, err)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(d.order.Uint64(buf[i*8:]))
	}
	return out, nil
}

// loadSPK opens an SPK file and registers its type 2 and 3 segments.
func (p *Pool) loadSPK(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return withCode(CodeFileRead, err)
	}
	d, err := openDAF(f)
	if err != nil {
		f.Close()
		return err
	}
	if d.nd != 2 || d.ni != 6 {
		f.Close()
		return fmt.Errorf("not an SPK file (ND=%d NI=%d)", d.nd, d.ni)
	}

	var segs []segment
	for _, s := range d.summaries {
		seg, err := newChebSegment(d, path, s)
		if err != nil {
			f.Close()
			return err
		}
		if seg != nil {
			segs = append(segs, seg)
		}
	}
	p.segments = append(p.segments, segs...)
	p.closers = append(p.closers, f)
	return nil
}
