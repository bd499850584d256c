package telemetry

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/phaser-robotics/xerocore/logging"
)

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	id := rec.StartPlot("drive", []string{"time", "pos"})
	rec.AddRow(id, 0, 0)
	rec.AddRow(id, 0.02, 1.5)
	rec.AddRow("unknown", 1, 2)
	rec.EndPlot(id)
	rec.AddRow(id, 0.04, 3)
	rec.EndPlot(id)

	plot, ok := rec.Latest("drive")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, plot.Ended, test.ShouldBeTrue)
	test.That(t, plot.Rows, test.ShouldResemble, [][]float64{{0, 0}, {0.02, 1.5}})
	test.That(t, plot.Column("pos"), test.ShouldResemble, []float64{0, 1.5})
	test.That(t, plot.Column("nope"), test.ShouldBeNil)

	second := rec.StartPlot("drive", []string{"time"})
	test.That(t, second, test.ShouldNotEqual, id)
	latest, _ := rec.Latest("drive")
	test.That(t, latest.ID, test.ShouldEqual, second)
	test.That(t, rec.Plots(), test.ShouldHaveLength, 2)

	_, ok = rec.Latest("path")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestTeeAndDiscard(t *testing.T) {
	a := NewRecorder()
	b := NewRecorder()
	sink := Tee(a, Discard{}, b)
	id := sink.StartPlot("lift", []string{"time", "height"})
	sink.AddRow(id, 1, 2)
	sink.EndPlot(id)

	for _, rec := range []*Recorder{a, b} {
		plot, ok := rec.Latest("lift")
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, plot.Ended, test.ShouldBeTrue)
		test.That(t, plot.Rows, test.ShouldResemble, [][]float64{{1, 2}})
	}
}

func TestCSVWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")
	w, err := NewCSVWriter(dir, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	for i := 0; i < 2; i++ {
		id := w.StartPlot("tankdrive distance", []string{"time", "pos"})
		w.AddRow(id, 0, 0)
		w.AddRow(id, 0.02, 0.25)
		w.EndPlot(id)
	}
	test.That(t, CloseAll(w), test.ShouldBeNil)

	//nolint:gosec
	f, err := os.Open(filepath.Join(dir, "tankdrive_distance-2.csv"))
	test.That(t, err, test.ShouldBeNil)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, records, test.ShouldResemble, [][]string{{"time", "pos"}, {"0", "0"}, {"0.02", "0.25"}})
}

func TestPNGWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewPNGWriter(dir, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	id := w.StartPlot("path", []string{"time", "ltpos", "lapos"})
	for i := 0; i < 10; i++ {
		w.AddRow(id, float64(i)*0.02, float64(i), float64(i)*0.9)
	}
	w.EndPlot(id)

	// A plot without rows cannot be charted; the error is kept for Close.
	empty := w.StartPlot("empty", []string{"time", "x"})
	w.EndPlot(empty)
	err = w.Close()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no rows")

	info, err := os.Stat(filepath.Join(dir, "path-1.png"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
}

// blockingWriter returns a file writer whose writes wait for release.
func blockingWriter(t *testing.T) (*fileWriter, chan struct{}, chan string) {
	t.Helper()
	release := make(chan struct{})
	written := make(chan string, 2*queueSize)
	fw, err := newFileWriter(t.TempDir(), "txt", logging.NewTestLogger(t), func(path string, p *Plot) error {
		<-release
		written <- p.Name
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	return fw, release, written
}

func TestEndPlotDoesNotWaitForWrite(t *testing.T) {
	fw, release, written := blockingWriter(t)

	id := fw.StartPlot("drive", []string{"time", "pos"})
	fw.AddRow(id, 0, 0)
	ended := make(chan struct{})
	go func() {
		fw.EndPlot(id)
		close(ended)
	}()
	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("EndPlot waited for the write")
	}
	test.That(t, len(written), test.ShouldEqual, 0)

	close(release)
	test.That(t, fw.Close(), test.ShouldBeNil)
	test.That(t, <-written, test.ShouldEqual, "drive")

	// Plots ended after Close are dropped.
	late := fw.StartPlot("late", []string{"time"})
	fw.EndPlot(late)
	err := fw.Close()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "dropped 1 plots")
}

func TestFullQueueDropsPlots(t *testing.T) {
	fw, release, written := blockingWriter(t)

	total := queueSize + 10
	for i := 0; i < total; i++ {
		fw.EndPlot(fw.StartPlot("drive", []string{"time"}))
	}
	close(release)
	err := fw.Close()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "dropped")

	// The worker holds at most one plot while the queue is full.
	test.That(t, len(written), test.ShouldBeGreaterThanOrEqualTo, queueSize)
	test.That(t, len(written), test.ShouldBeLessThanOrEqualTo, queueSize+1)
}
