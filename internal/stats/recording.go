package stats

import (
	"path/filepath"
)

type RoundRecord struct {
	Round     int   `json:"round"`
	Activated []int `json:"activated"`
}

type FrameRecord struct {
	Frame   int           `json:"frame"`
	Inputs  []float64     `json:"inputs"`
	Outputs []float64     `json:"outputs"`
	Rounds  []RoundRecord `json:"rounds"`
}

type RowRecord struct {
	Row     int           `json:"row"`
	Name    string        `json:"name,omitempty"`
	Frames  []FrameRecord `json:"frames"`
	Fitness float64       `json:"fitness"`
}

// Recording is a full trace of one net read over the data rows.
type Recording struct {
	NetID        string      `json:"net_id"`
	MaxRounds    int         `json:"max_rounds"`
	TotalFitness float64     `json:"total_fitness"`
	Rows         []RowRecord `json:"rows"`
}

// Recorder collects cascade rounds, frame inputs/outputs and row fitness as
// a scape reports them. It copies every slice it is handed.
type Recorder struct {
	rowNames []string
	rows     []RowRecord
	pending  []RoundRecord
}

func NewRecorder(rowNames []string) *Recorder {
	return &Recorder{rowNames: append([]string(nil), rowNames...)}
}

func (r *Recorder) RecordRound(round int, activated []int) {
	r.pending = append(r.pending, RoundRecord{
		Round:     round,
		Activated: append([]int(nil), activated...),
	})
}

func (r *Recorder) RecordFrame(row, frame int, inputs, outputs []float64) {
	current := r.row(row)
	current.Frames = append(current.Frames, FrameRecord{
		Frame:   frame,
		Inputs:  append([]float64(nil), inputs...),
		Outputs: append([]float64(nil), outputs...),
		Rounds:  r.pending,
	})
	r.pending = nil
}

func (r *Recorder) RecordRow(row int, fitness float64) {
	r.row(row).Fitness = fitness
}

func (r *Recorder) row(row int) *RowRecord {
	if n := len(r.rows); n > 0 && r.rows[n-1].Row == row {
		return &r.rows[n-1]
	}
	name := ""
	if row >= 0 && row < len(r.rowNames) {
		name = r.rowNames[row]
	}
	r.rows = append(r.rows, RowRecord{Row: row, Name: name})
	return &r.rows[len(r.rows)-1]
}

func (r *Recorder) Recording(netID string, maxRounds int) Recording {
	rec := Recording{NetID: netID, MaxRounds: maxRounds, Rows: r.rows}
	for _, row := range r.rows {
		rec.TotalFitness += row.Fitness
	}
	return rec
}

func WriteRecording(runDir string, rec Recording) error {
	return writeJSON(filepath.Join(runDir, "recording.json"), rec)
}

func ReadRecording(baseDir, runID string) (Recording, bool, error) {
	var rec Recording
	ok, err := readJSON(filepath.Join(baseDir, runID, "recording.json"), &rec)
	return rec, ok, err
}
