// Package tracker implements sinks for scalar training metrics and
// saved evaluation trajectories
package tracker

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/samuelfneumann/goppo/trajectory"
)

// A Sink records one map of named scalars per training step
type Sink interface {
	Log(step int, scalars map[string]float64) error
	Close() error
}

// Console is a Sink that prints scalars to standard error
type Console struct {
	logger *log.Logger
}

const (
	stepColour  = "\033[1;34m" // Bold blue
	keyColour   = "\033[0;36m" // Cyan
	resetColour = "\033[0m"
)

// NewConsole creates and returns a new Console sink
func NewConsole() *Console {
	return &Console{
		logger: log.New(os.Stderr, "", log.Ltime),
	}
}

// Log prints scalars in sorted key order under a step header
func (c *Console) Log(step int, scalars map[string]float64) error {
	keys := make([]string, 0, len(scalars))
	for key := range scalars {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	c.logger.Printf("%vstep %v%v", stepColour, step, resetColour)
	for _, key := range keys {
		c.logger.Printf("\t%v%v%v: %v", keyColour, key, resetColour,
			scalars[key])
	}
	return nil
}

// Close implements Sink. It is a no-op for a Console sink.
func (c *Console) Close() error { return nil }

// JSONLines is a Sink that appends one JSON object per logging call
// to a file
type JSONLines struct {
	file *os.File
	enc  *json.Encoder
}

// jsonRecord is the on-disk form of one logging call
type jsonRecord struct {
	Step    int                `json:"step"`
	Scalars map[string]float64 `json:"scalars"`
}

// NewJSONLines creates and returns a new JSONLines sink writing to
// filename, creating the file if needed and appending otherwise
func NewJSONLines(filename string) (*JSONLines, error) {
	file, err := os.OpenFile(filename,
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("newjsonlines: could not open %v: %v",
			filename, err)
	}

	return &JSONLines{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Log appends one line holding step and scalars
func (j *JSONLines) Log(step int, scalars map[string]float64) error {
	err := j.enc.Encode(jsonRecord{Step: step, Scalars: scalars})
	if err != nil {
		return fmt.Errorf("log: could not encode record: %v", err)
	}
	return nil
}

// Close closes the underlying file
func (j *JSONLines) Close() error {
	return j.file.Close()
}

// Multi is a Sink that fans each call out to several sinks
type Multi struct {
	sinks []Sink
}

// NewMulti creates and returns a new Multi sink over sinks
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Log logs the scalars to every sink, stopping on the first error
func (m *Multi) Log(step int, scalars map[string]float64) error {
	for _, sink := range m.sinks {
		if err := sink.Log(step, scalars); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink, returning the first error seen
func (m *Multi) Close() error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// TrajectorySaver persists evaluation trajectories to a directory,
// one gob file per saved trajectory
type TrajectorySaver struct {
	dir   string
	count int
}

// NewTrajectorySaver creates and returns a new TrajectorySaver
// writing under dir
func NewTrajectorySaver(dir string) (*TrajectorySaver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("newtrajectorysaver: could not create "+
			"%v: %v", dir, err)
	}
	return &TrajectorySaver{dir: dir}, nil
}

// Save writes traj, collected at training step step, to a new file
func (t *TrajectorySaver) Save(step int,
	traj *trajectory.Trajectory) error {
	filename := filepath.Join(t.dir,
		fmt.Sprintf("traj_%d_%d.gob", step, t.count))

	if err := traj.WriteTo(filename); err != nil {
		return fmt.Errorf("save: %v", err)
	}
	t.count++
	return nil
}
