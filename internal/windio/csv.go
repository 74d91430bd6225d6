// Package windio reads wind samples from long-format CSV:
//
//	sample,altitude,u,v
//	2019-01-01T00:00,10,3.1,-0.4
//	2019-01-01T00:00,100,6.2,-0.9
//
// One row per sample and altitude; u is the eastward and v the northward
// wind component.
package windio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/windprofile/internal/preprocess"
)

// ErrMalformed is returned for a bad header or row.
var ErrMalformed = errors.New("malformed wind CSV")

var header = []string{"sample", "altitude", "u", "v"}

type level struct {
	alt, u, v float64
}

// ReadFile opens path and reads it with Read.
func ReadFile(path string) ([]preprocess.WindSample, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open wind CSV: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses the CSV. Samples are returned in order of first appearance,
// each with its levels sorted by altitude.
func Read(r io.Reader) ([]preprocess.WindSample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	first, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !validHeader(first) {
		return nil, fmt.Errorf("%w: invalid header, expected: %s", ErrMalformed, strings.Join(header, ","))
	}

	var order []string
	levels := map[string][]level{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		line, _ := reader.FieldPos(0)
		if len(record) != len(header) {
			return nil, fmt.Errorf("%w: invalid record at line %d: expected %d fields, got %d",
				ErrMalformed, line, len(header), len(record))
		}

		id := strings.TrimSpace(record[0])
		if id == "" {
			return nil, fmt.Errorf("%w: invalid record at line %d: empty sample id", ErrMalformed, line)
		}
		var vals [3]float64
		for j, name := range header[1:] {
			f, err := strconv.ParseFloat(strings.TrimSpace(record[j+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid %s at line %d: %v", ErrMalformed, name, line, err)
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("%w: non-finite %s at line %d", ErrMalformed, name, line)
			}
			vals[j] = f
		}

		if _, seen := levels[id]; !seen {
			order = append(order, id)
		}
		levels[id] = append(levels[id], level{alt: vals[0], u: vals[1], v: vals[2]})
	}

	if len(order) == 0 {
		return nil, fmt.Errorf("%w: no data rows", ErrMalformed)
	}

	samples := make([]preprocess.WindSample, 0, len(order))
	for _, id := range order {
		ls := levels[id]
		sort.SliceStable(ls, func(a, b int) bool { return ls[a].alt < ls[b].alt })
		s := preprocess.WindSample{
			ID:        id,
			Altitudes: make([]float64, len(ls)),
			East:      make([]float64, len(ls)),
			North:     make([]float64, len(ls)),
		}
		for i, l := range ls {
			if i > 0 && l.alt == ls[i-1].alt {
				return nil, fmt.Errorf("%w: sample %q has altitude %g twice", ErrMalformed, id, l.alt)
			}
			s.Altitudes[i], s.East[i], s.North[i] = l.alt, l.u, l.v
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func validHeader(record []string) bool {
	if len(record) != len(header) {
		return false
	}
	for i, h := range header {
		if strings.ToLower(strings.TrimSpace(record[i])) != h {
			return false
		}
	}
	return true
}
