package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/samogod/trainconf/pkg/schema"
)

var DebugLog func(string, ...interface{})

const FilePattern = "*.h5"

type Options struct {
	NumTasks   int
	TaskID     int
	NumSystems int
}

// Plan is the set of HDF5 files one task streams, in read order.
type Plan struct {
	TaskID             int
	NumTasks           int
	PerSystemBatchSize int
	NumWorkers         int
	Shuffled           bool
	Seed               int64
	AllFiles           []string
	Files              []string
	Features           Features
}

func normalize(opts Options) Options {
	if opts.NumTasks <= 0 {
		opts.NumTasks = 1
	}
	if opts.NumSystems <= 0 {
		opts.NumSystems = 1
	}
	return opts
}

func NewPlan(spec schema.DataInputSpec, opts Options) (*Plan, error) {
	opts = normalize(opts)

	if opts.TaskID < 0 || opts.TaskID >= opts.NumTasks {
		return nil, fmt.Errorf("task id %d out of range for %d tasks", opts.TaskID, opts.NumTasks)
	}
	if spec.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size should be a positive number, but got value %d", spec.BatchSize)
	}
	if spec.BatchSize%opts.NumSystems != 0 {
		return nil, fmt.Errorf("global batch size %d is not divisible by %d systems", spec.BatchSize, opts.NumSystems)
	}

	files, err := discover(spec.DataDir)
	if err != nil {
		return nil, err
	}

	features, err := ResolveFeatures(spec)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		TaskID:             opts.TaskID,
		NumTasks:           opts.NumTasks,
		PerSystemBatchSize: spec.BatchSize / opts.NumSystems,
		NumWorkers:         spec.NumWorkers,
		AllFiles:           files,
		Files:              shard(files, opts.TaskID, opts.NumTasks),
		Features:           features,
	}

	if spec.Shuffle {
		plan.Shuffled = true
		if spec.ShuffleSeed != nil {
			plan.Seed = int64(*spec.ShuffleSeed)
		}
		rng := rand.New(rand.NewSource(plan.Seed))
		rng.Shuffle(len(plan.Files), func(i, j int) {
			plan.Files[i], plan.Files[j] = plan.Files[j], plan.Files[i]
		})
	}

	if DebugLog != nil {
		DebugLog("task %d/%d streams %d of %d files", opts.TaskID, opts.NumTasks, len(plan.Files), len(files))
	}

	return plan, nil
}

func discover(dirs []string) ([]string, error) {
	var files []string
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("the path %s does not exist or is not a directory", dir)
		}
		matches, err := filepath.Glob(filepath.Join(dir, FilePattern))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", dir, err)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s dataset files found", FilePattern)
	}
	sort.Strings(files)
	return files, nil
}

// shard returns files[task::numTasks].
func shard(files []string, task, numTasks int) []string {
	var out []string
	for i := task; i < len(files); i += numTasks {
		out = append(out, files[i])
	}
	return out
}

// WorkerFiles splits the task's files into numWorkers contiguous chunks
// and returns the chunk for worker. Earlier workers take one extra file
// when the split is uneven. The split counts whole files, not examples.
func (p *Plan) WorkerFiles(worker, numWorkers int) ([]string, error) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if worker < 0 || worker >= numWorkers {
		return nil, fmt.Errorf("worker id %d out of range for %d workers", worker, numWorkers)
	}
	n := len(p.Files)
	base, extra := n/numWorkers, n%numWorkers
	start := worker*base + min(worker, extra)
	size := base
	if worker < extra {
		size++
	}
	return p.Files[start : start+size], nil
}
