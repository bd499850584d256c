// Package telemetry collects per-tick diagnostic rows from actions. Sinks are best effort: a
// failing sink logs and carries on, and never affects control.
package telemetry

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// PlotID identifies one started plot.
type PlotID string

// Sink receives plots made of named numeric columns.
type Sink interface {
	StartPlot(name string, columns []string) PlotID
	AddRow(id PlotID, values ...float64)
	EndPlot(id PlotID)
}

// Plot is a finished or in-progress set of rows.
type Plot struct {
	ID      PlotID
	Name    string
	Columns []string
	Rows    [][]float64
	Ended   bool
}

// Column returns the values of the named column, or nil if there is no such column.
func (p *Plot) Column(name string) []float64 {
	idx := -1
	for i, col := range p.Columns {
		if col == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	values := make([]float64, 0, len(p.Rows))
	for _, row := range p.Rows {
		if idx < len(row) {
			values = append(values, row[idx])
		}
	}
	return values
}

func newPlotID() PlotID {
	return PlotID(uuid.NewString())
}

// Recorder keeps every plot in memory.
type Recorder struct {
	mu    sync.Mutex
	plots []*Plot
	byID  map[PlotID]*Plot
	// onEnd is called with a copy of each plot when it ends.
	onEnd func(*Plot) error
}

// NewRecorder returns an empty in-memory sink.
func NewRecorder() *Recorder {
	return &Recorder{byID: map[PlotID]*Plot{}}
}

// StartPlot begins a new plot.
func (r *Recorder) StartPlot(name string, columns []string) PlotID {
	r.mu.Lock()
	defer r.mu.Unlock()
	plot := &Plot{ID: newPlotID(), Name: name, Columns: append([]string(nil), columns...)}
	r.plots = append(r.plots, plot)
	r.byID[plot.ID] = plot
	return plot.ID
}

// AddRow appends a row to a started plot. Rows for unknown or ended plots are dropped.
func (r *Recorder) AddRow(id PlotID, values ...float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	plot, ok := r.byID[id]
	if !ok || plot.Ended {
		return
	}
	plot.Rows = append(plot.Rows, append([]float64(nil), values...))
}

// EndPlot closes a plot. Ending a plot twice is a no-op.
func (r *Recorder) EndPlot(id PlotID) {
	r.mu.Lock()
	plot, ok := r.byID[id]
	if !ok || plot.Ended {
		r.mu.Unlock()
		return
	}
	plot.Ended = true
	finished := *plot
	onEnd := r.onEnd
	r.mu.Unlock()

	if onEnd != nil {
		//nolint:errcheck
		onEnd(&finished)
	}
}

// Plots returns every plot in start order.
func (r *Recorder) Plots() []*Plot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Plot(nil), r.plots...)
}

// Latest returns the most recently started plot with the given name.
func (r *Recorder) Latest(name string) (*Plot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.plots) - 1; i >= 0; i-- {
		if r.plots[i].Name == name {
			return r.plots[i], true
		}
	}
	return nil, false
}

// Discard is a sink that drops everything.
type Discard struct{}

// StartPlot returns an empty id.
func (Discard) StartPlot(string, []string) PlotID { return "" }

// AddRow does nothing.
func (Discard) AddRow(PlotID, ...float64) {}

// EndPlot does nothing.
func (Discard) EndPlot(PlotID) {}

// tee fans plots out to several sinks.
type tee struct {
	mu    sync.Mutex
	sinks []Sink
	ids   map[PlotID][]PlotID
}

// Tee returns a sink that forwards to every sink in sinks.
func Tee(sinks ...Sink) Sink {
	return &tee{sinks: sinks, ids: map[PlotID][]PlotID{}}
}

func (t *tee) StartPlot(name string, columns []string) PlotID {
	id := newPlotID()
	inner := make([]PlotID, 0, len(t.sinks))
	for _, sink := range t.sinks {
		inner = append(inner, sink.StartPlot(name, columns))
	}
	t.mu.Lock()
	t.ids[id] = inner
	t.mu.Unlock()
	return id
}

func (t *tee) lookup(id PlotID) []PlotID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ids[id]
}

func (t *tee) AddRow(id PlotID, values ...float64) {
	for i, inner := range t.lookup(id) {
		t.sinks[i].AddRow(inner, values...)
	}
}

func (t *tee) EndPlot(id PlotID) {
	for i, inner := range t.lookup(id) {
		t.sinks[i].EndPlot(inner)
	}
	t.mu.Lock()
	delete(t.ids, id)
	t.mu.Unlock()
}

// Closer is implemented by sinks that write finished plots in the background.
type Closer interface {
	Close() error
}

// CloseAll closes every sink that implements Closer.
func CloseAll(sinks ...Sink) error {
	var err error
	for _, sink := range sinks {
		if c, ok := sink.(Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}
