package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samogod/trainconf/pkg/config"
	"github.com/samogod/trainconf/pkg/dataset"
	"github.com/samogod/trainconf/pkg/elastic"
	"github.com/samogod/trainconf/pkg/schedule"
	"github.com/samogod/trainconf/pkg/schema"
)

type ScheduleOptions struct {
	Path       string
	Stride     int
	OutputFile string
	Index      bool
}

type ExportResult struct {
	Name     string
	File     string
	Schedule *schedule.Schedule
	Points   []schedule.Point
	Indexed  int
}

// Stride picks a sampling stride that keeps a curve of total steps near
// samples points.
func Stride(total, samples int) int {
	if samples <= 0 || total <= samples {
		return 1
	}
	return (total + samples - 1) / samples
}

func loadSchedule(path string) (*schedule.Schedule, error) {
	cfg, err := schema.LoadFile(path)
	if err != nil {
		return nil, err
	}
	sched, err := schedule.New(cfg.Optimizer)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schedule: %w", err)
	}
	return sched, nil
}

// RateAt returns the learning rate the document at path prescribes for
// one global step.
func (o *Orchestrator) RateAt(path string, step int) (float64, error) {
	cfg, err := schema.LoadFile(path)
	if err != nil {
		return 0, err
	}
	rate, err := schedule.Resolve(cfg.Optimizer)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve schedule: %w", err)
	}
	return rate(step), nil
}

// ScheduleCurve samples the learning-rate schedule of the document at
// path. A non-positive stride derives one from schedule_samples.
func (o *Orchestrator) ScheduleCurve(path string, stride int) (*schedule.Schedule, []schedule.Point, error) {
	sched, err := loadSchedule(path)
	if err != nil {
		return nil, nil, err
	}
	if stride <= 0 {
		stride = Stride(sched.Total(), o.config.DefaultSettings.ScheduleSamples)
	}
	if DebugLog != nil {
		DebugLog("sampling %d steps across %d segments with stride %d", sched.Total(), sched.Segments(), stride)
	}
	return sched, sched.Sample(stride), nil
}

// ExportSchedule writes the sampled curve as JSON lines and, when asked,
// indexes it into Elasticsearch.
func (o *Orchestrator) ExportSchedule(ctx context.Context, options ScheduleOptions) (*ExportResult, error) {
	sched, points, err := o.ScheduleCurve(options.Path, options.Stride)
	if err != nil {
		return nil, err
	}

	result := &ExportResult{
		Name:     ConfigName(options.Path),
		File:     options.OutputFile,
		Schedule: sched,
		Points:   points,
	}

	if result.File == "" {
		dir := config.GetExportDir()
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create export directory: %w", err)
		}
		result.File = filepath.Join(dir, result.Name+".jsonl")
	}

	if err := writePoints(result.File, result.Name, points); err != nil {
		return nil, err
	}
	o.logger.Infof("Wrote %d schedule points to %s", len(points), result.File)

	if !options.Index {
		return result, nil
	}

	es := o.config.Elastic
	if !es.Enabled {
		return result, fmt.Errorf("elastic is not enabled in settings")
	}

	client, err := elastic.New(elastic.Config{
		URL:      es.URL,
		Username: es.Username,
		Password: es.Password,
		Index:    es.Index,
	}, o.session.Transport)
	if err != nil {
		return result, err
	}

	n, err := client.IndexSchedule(ctx, result.Name, points)
	result.Indexed = n
	if err != nil {
		return result, fmt.Errorf("failed to index schedule: %w", err)
	}
	o.logger.Infof("Indexed %d schedule points into %s", n, client.Index())

	return result, nil
}

func writePoints(filename, name string, points []schedule.Point) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	for _, p := range points {
		if err := enc.Encode(elastic.SchedulePoint{Config: name, Point: p}); err != nil {
			return fmt.Errorf("failed to write to file: %w", err)
		}
	}
	return w.Flush()
}

// ShardPlan builds the dataset plan for one task of the named input
// section, using the task and system counts from settings.
func (o *Orchestrator) ShardPlan(path, section string, taskID int) (*dataset.Plan, error) {
	cfg, err := schema.LoadFile(path)
	if err != nil {
		return nil, err
	}

	var spec schema.DataInputSpec
	switch section {
	case "", schema.TrainInputKey:
		spec = cfg.TrainInput
	case schema.EvalInputKey:
		spec = cfg.EvalInput
	default:
		return nil, fmt.Errorf("unknown input section %q, expected %s or %s", section, schema.TrainInputKey, schema.EvalInputKey)
	}

	return dataset.NewPlan(spec, dataset.Options{
		NumTasks:   o.config.Dataset.NumTasks,
		TaskID:     taskID,
		NumSystems: o.config.Dataset.NumSystems,
	})
}
