// Package dataset serves recorded IMU sequences as the sensor's measurement
// source.
package dataset

import (
	"errors"
	"math/rand/v2"
)

// Features is the number of values per row: acc_x, acc_y, acc_z, gyro_x,
// gyro_y, gyro_z.
const Features = 6

// Sequence is one measurement window, oldest row first.
type Sequence [][Features]float64

// Quality labels as encoded in the dataset file names.
const (
	LabelGood         = 0
	LabelAcceptable   = 1
	LabelUnacceptable = 2
	LabelBad          = 3
)

// Labels lists the known labels in file-prefix order.
var Labels = []int{LabelGood, LabelAcceptable, LabelUnacceptable, LabelBad}

// ErrEmpty is returned when no sequence could be built.
var ErrEmpty = errors.New("dataset: no sequences")

// Source hands out sequences cyclically. It is consumed by the sampling loop
// only and is not safe for concurrent use.
type Source struct {
	sequences []Sequence
	labels    []int
	next      int
}

// NewSource wraps already-built sequences. labels may be nil; otherwise it
// must be parallel to seqs.
func NewSource(seqs []Sequence, labels []int) (*Source, error) {
	if len(seqs) == 0 {
		return nil, ErrEmpty
	}
	if labels != nil && len(labels) != len(seqs) {
		return nil, errors.New("dataset: labels and sequences differ in length")
	}
	return &Source{sequences: seqs, labels: labels}, nil
}

// Next returns the next sequence, wrapping to the first after the last.
func (s *Source) Next() Sequence {
	if s.next >= len(s.sequences) {
		s.next = 0
	}
	seq := s.sequences[s.next]
	s.next++
	return seq
}

// LastLabel returns the true label of the sequence most recently returned by
// Next, or -1 when unknown.
func (s *Source) LastLabel() int {
	if s.next == 0 {
		return -1
	}
	return s.Label(s.next - 1)
}

// Label returns the true label of sequence i, or -1 when unknown.
func (s *Source) Label(i int) int {
	if s.labels == nil || i < 0 || i >= len(s.labels) {
		return -1
	}
	return s.labels[i]
}

// Len returns the number of sequences.
func (s *Source) Len() int { return len(s.sequences) }

// Reset restarts from the first sequence.
func (s *Source) Reset() { s.next = 0 }

// Shuffle permutes sequences and labels together.
func (s *Source) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(s.sequences), func(i, j int) {
		s.sequences[i], s.sequences[j] = s.sequences[j], s.sequences[i]
		if s.labels != nil {
			s.labels[i], s.labels[j] = s.labels[j], s.labels[i]
		}
	})
	s.next = 0
}
