package telemetry

import (
	"context"
	"encoding/csv"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/phaser-robotics/xerocore/logging"
	"github.com/phaser-robotics/xerocore/utils"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// queueSize is how many finished plots may wait for the writer before new ones are dropped.
const queueSize = 64

// fileWriter buffers plots in a Recorder. Ended plots are queued and written to files by a
// background worker, so EndPlot never waits on the disk.
type fileWriter struct {
	*Recorder
	dir     string
	ext     string
	logger  logging.Logger
	write   func(path string, plot *Plot) error
	queue   chan *Plot
	workers utils.StoppableWorkers

	mu      sync.Mutex
	closed  bool
	dropped int
	counts  map[string]int
	errs    error
}

func newFileWriter(
	dir, ext string,
	logger logging.Logger,
	write func(path string, plot *Plot) error,
) (*fileWriter, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "creating telemetry directory %q", dir)
	}
	fw := &fileWriter{
		Recorder: NewRecorder(),
		dir:      dir,
		ext:      ext,
		logger:   logger,
		write:    write,
		queue:    make(chan *Plot, queueSize),
		counts:   map[string]int{},
	}
	fw.Recorder.onEnd = fw.enqueue
	fw.workers = utils.NewStoppableWorkers(fw.drain)
	return fw, nil
}

// enqueue hands p to the writer. A full queue or a closed writer drops the plot.
func (fw *fileWriter) enqueue(p *Plot) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if !fw.closed {
		select {
		case fw.queue <- p:
			return nil
		default:
		}
	}
	fw.dropped++
	fw.logger.Warnw("dropped telemetry", "plot", p.Name, "closed", fw.closed)
	return errors.Errorf("dropped plot %q", p.Name)
}

// drain writes queued plots until the queue is closed.
func (fw *fileWriter) drain(context.Context) {
	for p := range fw.queue {
		//nolint:errcheck
		fw.flush(p)
	}
}

// path returns a unique file name for the nth plot with this name.
func (fw *fileWriter) path(name string) string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.counts[name]++
	base := unsafeFileChars.ReplaceAllString(name, "_")
	return filepath.Join(fw.dir, fmt.Sprintf("%s-%d.%s", base, fw.counts[name], fw.ext))
}

func (fw *fileWriter) flush(p *Plot) error {
	path := fw.path(p.Name)
	if err := fw.write(path, p); err != nil {
		fw.logger.Warnw("failed to write telemetry", "plot", p.Name, "path", path, "error", err)
		fw.mu.Lock()
		fw.errs = multierr.Append(fw.errs, err)
		fw.mu.Unlock()
		return err
	}
	fw.logger.Debugw("wrote telemetry", "plot", p.Name, "path", path, "rows", len(p.Rows))
	return nil
}

// Close waits for every queued plot to be written and returns the write errors along with a
// count of dropped plots. Plots ended after Close are dropped.
func (fw *fileWriter) Close() error {
	fw.mu.Lock()
	if !fw.closed {
		fw.closed = true
		close(fw.queue)
	}
	fw.mu.Unlock()
	fw.workers.Stop()

	fw.mu.Lock()
	defer fw.mu.Unlock()
	err := fw.errs
	if fw.dropped > 0 {
		err = multierr.Append(err, errors.Errorf("dropped %d plots", fw.dropped))
	}
	return err
}

// CSVWriter writes each plot to its own CSV file in a directory when the plot ends.
type CSVWriter struct {
	*fileWriter
}

// NewCSVWriter returns a sink writing into dir, creating it if needed.
func NewCSVWriter(dir string, logger logging.Logger) (*CSVWriter, error) {
	fw, err := newFileWriter(dir, "csv", logger, writeCSV)
	if err != nil {
		return nil, err
	}
	return &CSVWriter{fw}, nil
}

func writeCSV(path string, p *Plot) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	w := csv.NewWriter(f)
	if err := w.Write(p.Columns); err != nil {
		return err
	}
	record := make([]string, len(p.Columns))
	for _, row := range p.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = strconv.FormatFloat(row[i], 'g', -1, 64)
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// PNGWriter renders each plot as a line chart when it ends. The first column is the X axis and
// every other column is a series.
type PNGWriter struct {
	*fileWriter
}

// NewPNGWriter returns a sink rendering into dir, creating it if needed.
func NewPNGWriter(dir string, logger logging.Logger) (*PNGWriter, error) {
	fw, err := newFileWriter(dir, "png", logger, writePNG)
	if err != nil {
		return nil, err
	}
	return &PNGWriter{fw}, nil
}

func writePNG(path string, p *Plot) error {
	if len(p.Columns) < 2 {
		return errors.Errorf("plot %q needs at least two columns to chart", p.Name)
	}
	if len(p.Rows) == 0 {
		return errors.Errorf("plot %q has no rows", p.Name)
	}

	chart := plot.New()
	chart.Title.Text = p.Name
	chart.X.Label.Text = p.Columns[0]
	chart.Legend.Top = true

	xs := p.Column(p.Columns[0])
	for i, name := range p.Columns[1:] {
		ys := p.Column(name)
		pts := make(plotter.XYs, 0, len(ys))
		for j := range ys {
			if j < len(xs) {
				pts = append(pts, plotter.XY{X: xs[j], Y: ys[j]})
			}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return errors.Wrapf(err, "charting column %q", name)
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = seriesColor(i)
		chart.Add(line)
		chart.Legend.Add(name, line)
	}
	return chart.Save(10*vg.Inch, 6*vg.Inch, path)
}

func seriesColor(i int) color.Color {
	return plotutil.Color(i)
}
