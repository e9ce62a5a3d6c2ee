package schedule

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/samogod/trainconf/pkg/schema"
)

// Func maps a global training step to a learning rate.
type Func func(step int) float64

type Schedule struct {
	segments []schema.Segment
	// ends[i] is the first global step after segment i.
	ends []int
}

type Point struct {
	Step         int     `json:"step"`
	LearningRate float64 `json:"learning_rate"`
	Segment      int     `json:"segment"`
	Scheduler    string  `json:"scheduler"`
}

var ErrEmptySchedule = errors.New("learning rate schedule has no segments")

func New(opt schema.OptimizerSpec) (*Schedule, error) {
	if len(opt.LearningRate) == 0 {
		return nil, ErrEmptySchedule
	}

	s := &Schedule{
		segments: opt.LearningRate,
		ends:     make([]int, len(opt.LearningRate)),
	}
	offset := 0
	for i, seg := range opt.LearningRate {
		if seg.Steps() <= 0 {
			return nil, fmt.Errorf("segment %d has non-positive duration %d", i, seg.Steps())
		}
		offset += seg.Steps()
		s.ends[i] = offset
	}
	return s, nil
}

// Resolve returns the schedule as a pure step -> rate function.
func Resolve(opt schema.OptimizerSpec) (Func, error) {
	s, err := New(opt)
	if err != nil {
		return nil, err
	}
	return s.At, nil
}

// At evaluates the schedule. Segment i owns steps [ends[i-1], ends[i]).
// Steps past the last segment hold its end rate and negative steps are
// treated as step 0.
func (s *Schedule) At(step int) float64 {
	if step < 0 {
		step = 0
	}
	i := s.locate(step)
	if i == len(s.segments) {
		return s.segments[i-1].EndRate()
	}
	return Rate(s.segments[i], step-s.start(i))
}

func (s *Schedule) locate(step int) int {
	return sort.Search(len(s.ends), func(i int) bool { return step < s.ends[i] })
}

func (s *Schedule) start(i int) int {
	if i == 0 {
		return 0
	}
	return s.ends[i-1]
}

func (s *Schedule) Total() int {
	return s.ends[len(s.ends)-1]
}

// Boundaries returns the global step at which each segment begins.
func (s *Schedule) Boundaries() []int {
	out := make([]int, len(s.segments))
	for i := range s.segments {
		out[i] = s.start(i)
	}
	return out
}

// Span describes one segment placed on the global step axis.
type Span struct {
	Index       int     `json:"segment"`
	Start       int     `json:"start"`
	Steps       int     `json:"steps"`
	Scheduler   string  `json:"scheduler"`
	InitialRate float64 `json:"initial_learning_rate"`
	EndRate     float64 `json:"end_learning_rate"`
}

func (s *Schedule) Spans() []Span {
	spans := make([]Span, len(s.segments))
	for i, seg := range s.segments {
		spans[i] = Span{
			Index:       i,
			Start:       s.start(i),
			Steps:       seg.Steps(),
			Scheduler:   string(seg.Kind()),
			InitialRate: seg.InitialRate(),
			EndRate:     seg.EndRate(),
		}
	}
	return spans
}

func (s *Schedule) Segments() int {
	return len(s.segments)
}

// Sample evaluates the schedule every stride steps from 0 through Total,
// always including every segment boundary and the final step.
func (s *Schedule) Sample(stride int) []Point {
	if stride <= 0 {
		stride = 1
	}
	steps := make(map[int]bool)
	for step := 0; step <= s.Total(); step += stride {
		steps[step] = true
	}
	for _, b := range s.Boundaries() {
		steps[b] = true
	}
	steps[s.Total()] = true

	ordered := make([]int, 0, len(steps))
	for step := range steps {
		ordered = append(ordered, step)
	}
	sort.Ints(ordered)

	points := make([]Point, 0, len(ordered))
	for _, step := range ordered {
		i := s.locate(step)
		if i == len(s.segments) {
			i--
		}
		points = append(points, Point{
			Step:         step,
			LearningRate: s.At(step),
			Segment:      i,
			Scheduler:    string(s.segments[i].Kind()),
		})
	}
	return points
}

// Rate evaluates one segment at a step local to it. t is clamped to
// [0, Steps()], so Rate(seg, seg.Steps()) is the segment's end rate.
func Rate(seg schema.Segment, t int) float64 {
	total := seg.Steps()
	if t < 0 {
		t = 0
	}
	if t > total {
		t = total
	}
	initial, end := seg.InitialRate(), seg.EndRate()
	if total == 0 {
		return end
	}
	progress := float64(t) / float64(total)

	switch seg.Kind() {
	case schema.Linear:
		return initial + (end-initial)*progress
	case schema.CosineDecay:
		return end + 0.5*(initial-end)*(1+math.Cos(math.Pi*progress))
	default:
		return initial
	}
}
