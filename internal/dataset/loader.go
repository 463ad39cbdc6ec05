package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ColumnNamesFile lists the CSV columns in file order.
const ColumnNamesFile = "column_names.json"

// Raw sensor conversion constants.
const (
	standardGravity = 9.80665
	maxRawValue     = 32768.0
	accRange        = 2 // ±8g
	gyroRangeDPS    = 250.0
)

var featureColumns = [Features]string{"acc_x", "acc_y", "acc_z", "gyro_x", "gyro_y", "gyro_z"}

// ErrMissingColumn is returned when column_names.json lacks a feature column.
var ErrMissingColumn = errors.New("dataset: missing column")

// Options controls how a dataset directory is turned into sequences.
type Options struct {
	// SequenceLength is the number of rows per sequence.
	SequenceLength int

	// Shuffle permutes the sequences once after loading.
	Shuffle bool

	// Seed seeds the shuffle.
	Seed uint64
}

// AccToMS2 converts a raw accelerometer reading to m/s².
func AccToMS2(raw float64) float64 {
	return math.Pow(2, accRange+1) * (standardGravity / maxRawValue) * raw
}

// GyroToRadS converts a raw gyroscope reading to rad/s.
func GyroToRadS(raw float64) float64 {
	return gyroRangeDPS * (math.Pi / 180.0) / maxRawValue * raw
}

// Load reads every <label>*.csv file in dir and cuts it into sequences.
//
// Rows where all accelerometer axes or all gyroscope axes are zero are
// dropped. Rows of one label are concatenated across files, cropped to a
// multiple of the sequence length and split.
func Load(dir string, opts Options) (*Source, error) {
	if opts.SequenceLength <= 0 {
		return nil, fmt.Errorf("dataset: sequence length must be positive, got %d", opts.SequenceLength)
	}

	index, width, err := readColumns(filepath.Join(dir, ColumnNamesFile))
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading dataset dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".csv") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		seqs   []Sequence
		labels []int
	)
	for _, label := range Labels {
		prefix := strconv.Itoa(label)
		var rows [][Features]float64
		for _, name := range names {
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			fileRows, err := readRows(filepath.Join(dir, name), index, width)
			if err != nil {
				return nil, err
			}
			rows = append(rows, fileRows...)
		}

		n := len(rows) - len(rows)%opts.SequenceLength
		for i := 0; i < n; i += opts.SequenceLength {
			seqs = append(seqs, Sequence(rows[i:i+opts.SequenceLength:i+opts.SequenceLength]))
			labels = append(labels, label)
		}
	}

	src, err := NewSource(seqs, labels)
	if err != nil {
		return nil, fmt.Errorf("%w in %s", err, dir)
	}
	if opts.Shuffle {
		src.Shuffle(rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)))
	}
	return src, nil
}

func readColumns(path string) ([Features]int, int, error) {
	var index [Features]int

	data, err := os.ReadFile(path)
	if err != nil {
		return index, 0, fmt.Errorf("reading column names: %w", err)
	}
	var columns []string
	if err := json.Unmarshal(data, &columns); err != nil {
		return index, 0, fmt.Errorf("parsing column names: %w", err)
	}

	for i, want := range featureColumns {
		pos := -1
		for j, c := range columns {
			if c == want {
				pos = j
				break
			}
		}
		if pos < 0 {
			return index, 0, fmt.Errorf("%w: %s", ErrMissingColumn, want)
		}
		index[i] = pos
	}
	return index, len(columns), nil
}

func readRows(path string, index [Features]int, width int) ([][Features]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = ';'
	r.FieldsPerRecord = width

	var rows [][Features]float64
	for line := 1; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		var raw [Features]float64
		for i, col := range index {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d column %s: %w", path, line, featureColumns[i], err)
			}
			raw[i] = v
		}

		if (raw[0] == 0 && raw[1] == 0 && raw[2] == 0) || (raw[3] == 0 && raw[4] == 0 && raw[5] == 0) {
			continue
		}

		var row [Features]float64
		for i := range 3 {
			row[i] = float64(float32(AccToMS2(raw[i])))
			row[i+3] = float64(float32(GyroToRadS(raw[i+3])))
		}
		rows = append(rows, row)
	}
	return rows, nil
}
