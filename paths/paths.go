// Package paths loads and stores precomputed drive trajectories.
package paths

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/phaser-robotics/xerocore/config"
)

const (
	leftSuffix  = ".left.pf1.csv"
	rightSuffix = ".right.pf1.csv"
)

// Segment is one time step of one side of a trajectory. Heading is in degrees.
type Segment struct {
	Position     float64
	Velocity     float64
	Acceleration float64
	Heading      float64
}

// Path is a named trajectory with one segment per tick for each side.
type Path struct {
	Name  string
	Left  []Segment
	Right []Segment
}

// Len returns the number of steps in the path.
func (p *Path) Len() int {
	return len(p.Left)
}

// Validate ensures both sides are non-empty and the same length.
func (p *Path) Validate() error {
	if len(p.Left) == 0 {
		return errors.Errorf("path %q is empty", p.Name)
	}
	if len(p.Left) != len(p.Right) {
		return errors.Errorf("path %q has %d left and %d right segments", p.Name, len(p.Left), len(p.Right))
	}
	return nil
}

// Manager holds the trajectories available to path-follow actions.
type Manager struct {
	dir string

	mu    sync.RWMutex
	paths map[string]*Path
}

// NewManager returns a store that loads trajectory files from dir.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir, paths: map[string]*Path{}}
}

// Load reads the pair of files for name. The generator's left and right files are swapped: the
// left file drives the right side and the right file drives the left side.
func (m *Manager) Load(name string) error {
	fromLeftFile, err := readSegments(filepath.Join(m.dir, name+leftSuffix))
	if err != nil {
		return err
	}
	fromRightFile, err := readSegments(filepath.Join(m.dir, name+rightSuffix))
	if err != nil {
		return err
	}
	return m.Add(&Path{Name: name, Left: fromRightFile, Right: fromLeftFile})
}

// LoadAll loads every complete pair of trajectory files in the directory and returns the names
// loaded.
func (m *Manager) LoadAll() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(m.dir, "*"+leftSuffix))
	if err != nil {
		return nil, errors.Wrap(err, "listing trajectories")
	}
	names := make([]string, 0, len(matches))
	for _, match := range matches {
		name := strings.TrimSuffix(filepath.Base(match), leftSuffix)
		if err := m.Load(name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Add stores a path, replacing any path with the same name.
func (m *Manager) Add(p *Path) error {
	if err := p.Validate(); err != nil {
		return config.NewInvalidValueError(p.Name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths[p.Name] = p
	return nil
}

// Has reports whether a path is loaded.
func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.paths[name]
	return ok
}

// Path returns a loaded path. An unknown name is a configuration error.
func (m *Manager) Path(name string) (*Path, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.paths[name]
	if !ok {
		return nil, config.NewUnknownNameError("trajectory", name)
	}
	return p, nil
}

// Names returns the loaded path names in order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.paths))
	for name := range m.paths {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

func readSegments(filename string) ([]Segment, error) {
	//nolint:gosec
	f, err := os.Open(filename)
	if err != nil {
		return nil, config.NewInvalidValueError(filename, err)
	}
	//nolint:errcheck
	defer f.Close()

	segments, err := ParseSegments(f)
	if err != nil {
		return nil, config.NewInvalidValueError(filename, err)
	}
	return segments, nil
}

// ParseSegments reads a CSV trajectory with a header row. The position, velocity, acceleration
// and heading columns are required; any other columns are ignored.
func ParseSegments(r io.Reader) ([]Segment, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "reading header")
	}

	index := map[string]int{}
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	cols := make([]int, 0, 4)
	for _, name := range []string{"position", "velocity", "acceleration", "heading"} {
		i, ok := index[name]
		if !ok {
			return nil, errors.Errorf("missing column %q", name)
		}
		cols = append(cols, i)
	}

	var segments []Segment
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading line %d", line)
		}
		values := make([]float64, len(cols))
		for i, col := range cols {
			values[i], err = cast.ToFloat64E(strings.TrimSpace(record[col]))
			if err != nil {
				return nil, errors.Wrapf(err, "line %d column %q", line, header[col])
			}
		}
		segments = append(segments, Segment{
			Position:     values[0],
			Velocity:     values[1],
			Acceleration: values[2],
			Heading:      values[3],
		})
	}
	return segments, nil
}
