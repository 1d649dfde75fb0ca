package scape

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var ErrInvalidCollection = errors.New("invalid data collection")

// Column describes one group of input cells. A frame is FrameLength
// consecutive points; frame f starts at point f*ShiftLength.
type Column struct {
	Name        string `json:"name" yaml:"name"`
	FrameLength int    `json:"frame_length" yaml:"frame_length"`
	ShiftLength int    `json:"shift_length" yaml:"shift_length"`
}

// Row holds one data set per column, read in series during a cycle.
type Row struct {
	Name string      `json:"name" yaml:"name"`
	Sets [][]float64 `json:"sets" yaml:"sets"`
}

type Collection struct {
	Name       string   `json:"name" yaml:"name"`
	FrameCount int      `json:"frame_count" yaml:"frame_count"`
	Columns    []Column `json:"columns" yaml:"columns"`
	Rows       []Row    `json:"rows" yaml:"rows"`
}

// SetLength is the number of points every data set of column c must hold:
// one frame beyond FrameCount so expressions can look at the next frame.
func (c Collection) SetLength(column int) int {
	col := c.Columns[column]
	return c.FrameCount*col.ShiftLength + col.FrameLength
}

// InputWidth is the number of input cells fed from data columns.
func (c Collection) InputWidth() int {
	width := 0
	for _, col := range c.Columns {
		width += col.FrameLength
	}
	return width
}

func (c Collection) DataPoint(row, column, frame, sub int) float64 {
	return c.Rows[row].Sets[column][sub+frame*c.Columns[column].ShiftLength]
}

// Window returns the points of one frame without copying.
func (c Collection) Window(row, column, frame int) []float64 {
	col := c.Columns[column]
	start := frame * col.ShiftLength
	return c.Rows[row].Sets[column][start : start+col.FrameLength]
}

func (c Collection) Validate() error {
	if c.FrameCount < 1 {
		return fmt.Errorf("%w: frame count must be >= 1", ErrInvalidCollection)
	}
	if len(c.Columns) == 0 {
		return fmt.Errorf("%w: at least one column is required", ErrInvalidCollection)
	}
	if len(c.Rows) == 0 {
		return fmt.Errorf("%w: at least one row is required", ErrInvalidCollection)
	}
	seen := make(map[string]struct{}, len(c.Columns))
	for i, col := range c.Columns {
		name := strings.TrimSpace(col.Name)
		if name == "" {
			return fmt.Errorf("%w: column %d name is required", ErrInvalidCollection, i)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("%w: duplicate column %s", ErrInvalidCollection, name)
		}
		seen[name] = struct{}{}
		if col.FrameLength < 1 {
			return fmt.Errorf("%w: column %s frame length must be >= 1", ErrInvalidCollection, name)
		}
		if col.ShiftLength < 0 {
			return fmt.Errorf("%w: column %s shift length must be >= 0", ErrInvalidCollection, name)
		}
	}
	for r, row := range c.Rows {
		if len(row.Sets) != len(c.Columns) {
			return fmt.Errorf("%w: row %d has %d sets, want %d", ErrInvalidCollection, r, len(row.Sets), len(c.Columns))
		}
		for i, set := range row.Sets {
			if want := c.SetLength(i); len(set) != want {
				return fmt.Errorf("%w: row %d column %s has %d points, want %d",
					ErrInvalidCollection, r, c.Columns[i].Name, len(set), want)
			}
		}
	}
	return nil
}

// LoadColumnCSV reads one float series per CSV record. Blank fields are
// skipped; a non-numeric first record is treated as a header.
func LoadColumnCSV(path string) ([][]float64, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("column csv path is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open column csv %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var series [][]float64
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read column csv row %d: %w", line+1, err)
		}
		line++

		values := make([]float64, 0, len(record))
		header := false
		for _, field := range record {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				if line == 1 {
					header = true
					break
				}
				return nil, fmt.Errorf("parse column csv row %d: %w", line, err)
			}
			values = append(values, v)
		}
		if header || len(values) == 0 {
			continue
		}
		series = append(series, values)
	}

	if len(series) == 0 {
		return nil, fmt.Errorf("column csv %s has no data rows", path)
	}
	return series, nil
}
