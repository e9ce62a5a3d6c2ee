package schema

import (
	"fmt"
	"math"
	"strings"
)

// Check is one advisory validation pass. Checks never reject a
// configuration; they only report ConfigWarnings.
type Check struct {
	Name string
	Run  func(cfg *TrainingConfig) []ConfigWarning
}

var checks = []Check{
	{Name: "schedule-continuity", Run: checkScheduleContinuity},
	{Name: "schedule-coverage", Run: checkScheduleCoverage},
	{Name: "run-intervals", Run: checkRunIntervals},
	{Name: "data-loader", Run: checkDataLoader},
	{Name: "unused-fields", Run: checkUnusedFields},
}

func CheckNames() []string {
	names := make([]string, len(checks))
	for i, c := range checks {
		names[i] = c.Name
	}
	return names
}

func LookupCheck(name string) (Check, bool) {
	name = strings.TrimSpace(strings.ToLower(name))
	for _, c := range checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// Validate runs every check and returns the collected warnings.
func Validate(cfg *TrainingConfig) []ConfigWarning {
	var warnings []ConfigWarning
	for _, c := range checks {
		warnings = append(warnings, c.Run(cfg)...)
	}
	return warnings
}

// ValidateWith runs only the named checks, in registry order.
func ValidateWith(cfg *TrainingConfig, names ...string) ([]ConfigWarning, error) {
	if len(names) == 0 {
		return Validate(cfg), nil
	}
	selected := make(map[string]bool, len(names))
	for _, name := range names {
		c, ok := LookupCheck(name)
		if !ok {
			return nil, fmt.Errorf("unknown check: %s", name)
		}
		selected[c.Name] = true
	}

	var warnings []ConfigWarning
	for _, c := range checks {
		if selected[c.Name] {
			warnings = append(warnings, c.Run(cfg)...)
		}
	}
	return warnings, nil
}

func ratesMatch(a, b float64) bool {
	return math.Abs(a-b) <= 1e-12+1e-9*math.Max(math.Abs(a), math.Abs(b))
}

func checkScheduleContinuity(cfg *TrainingConfig) []ConfigWarning {
	var warnings []ConfigWarning
	segs := cfg.Optimizer.LearningRate
	for i := 1; i < len(segs); i++ {
		prev, next := segs[i-1].EndRate(), segs[i].InitialRate()
		if ratesMatch(prev, next) {
			continue
		}
		warnings = append(warnings, ConfigWarning{
			Check: "schedule-continuity",
			Path:  indexPath("optimizer.learning_rate", i),
			Msg:   fmt.Sprintf("segment starts at %g but previous segment ends at %g", next, prev),
		})
	}
	return warnings
}

func checkScheduleCoverage(cfg *TrainingConfig) []ConfigWarning {
	total := cfg.Optimizer.TotalSteps()
	maxSteps := cfg.RunConfig.MaxSteps
	switch {
	case total > maxSteps:
		return []ConfigWarning{{
			Check: "schedule-coverage",
			Path:  "optimizer.learning_rate",
			Msg:   fmt.Sprintf("schedule spans %d steps, beyond runconfig.max_steps %d; the tail is never reached", total, maxSteps),
		}}
	case total < maxSteps:
		return []ConfigWarning{{
			Check: "schedule-coverage",
			Path:  "optimizer.learning_rate",
			Msg:   fmt.Sprintf("schedule spans %d steps, short of runconfig.max_steps %d; final rate held for the last %d steps", total, maxSteps, maxSteps-total),
		}}
	}
	return nil
}

func checkRunIntervals(cfg *TrainingConfig) []ConfigWarning {
	rc := cfg.RunConfig
	var warnings []ConfigWarning

	intervals := []struct {
		key   string
		value int
	}{
		{"log_steps", rc.LogSteps},
		{"checkpoint_steps", rc.CheckpointSteps},
		{"eval_frequency", rc.EvalFrequency},
	}
	for _, iv := range intervals {
		if iv.value > rc.MaxSteps {
			warnings = append(warnings, ConfigWarning{
				Check: "run-intervals",
				Path:  joinPath(RunConfigKey, iv.key),
				Msg:   fmt.Sprintf("interval %d exceeds max_steps %d and never fires", iv.value, rc.MaxSteps),
			})
		}
	}

	if rc.CheckpointSteps > 0 && rc.CheckpointSteps <= rc.MaxSteps && rc.MaxSteps%rc.CheckpointSteps != 0 {
		warnings = append(warnings, ConfigWarning{
			Check: "run-intervals",
			Path:  "runconfig.checkpoint_steps",
			Msg:   fmt.Sprintf("max_steps %d is not a multiple of checkpoint_steps %d; the final step is not checkpointed", rc.MaxSteps, rc.CheckpointSteps),
		})
	}
	return warnings
}

func checkDataLoader(cfg *TrainingConfig) []ConfigWarning {
	var warnings []ConfigWarning
	inputs := []struct {
		key  string
		spec DataInputSpec
	}{
		{TrainInputKey, cfg.TrainInput},
		{EvalInputKey, cfg.EvalInput},
	}
	for _, in := range inputs {
		add := func(field, msg string) {
			warnings = append(warnings, ConfigWarning{Check: "data-loader", Path: joinPath(in.key, field), Msg: msg})
		}
		spec := in.spec
		if spec.NumWorkers == 0 && spec.PrefetchFactor != nil {
			add("prefetch_factor", "has no effect with num_workers 0")
		}
		if spec.NumWorkers == 0 && spec.PersistentWorkers {
			add("persistent_workers", "has no effect with num_workers 0")
		}
		if spec.Shuffle && spec.ShuffleSeed == nil {
			add("shuffle_seed", "shuffle is enabled without a seed; file order is not reproducible across runs")
		}
		if spec.UseVSL && spec.FeaturesList != nil {
			add("features_list", "ignored because use_vsl fixes the feature set")
		}
	}
	return warnings
}

func checkUnusedFields(cfg *TrainingConfig) []ConfigWarning {
	var warnings []ConfigWarning
	add := func(section string, extra Extras) {
		for _, k := range extra.keys() {
			warnings = append(warnings, ConfigWarning{
				Check: "unused-fields",
				Path:  joinPath(section, k),
				Msg:   "not recognized; kept as-is",
			})
		}
	}

	add("", cfg.Extra)
	add(TrainInputKey, cfg.TrainInput.Extra)
	add(EvalInputKey, cfg.EvalInput.Extra)
	add(ModelKey, cfg.Model.Extra)
	inits := []struct {
		key string
		ini *Initializer
	}{
		{"initializer", cfg.Model.Initializer},
		{"embedding_initializer", cfg.Model.EmbeddingInitializer},
		{"output_layer_initializer", cfg.Model.OutputLayerInitializer},
	}
	for _, in := range inits {
		if in.ini != nil {
			add(joinPath(ModelKey, in.key), in.ini.Extra)
		}
	}
	add(OptimizerKey, cfg.Optimizer.Extra)
	for i, seg := range cfg.Optimizer.LearningRate {
		add(indexPath("optimizer.learning_rate", i), segmentExtras(seg))
	}
	add(RunConfigKey, cfg.RunConfig.Extra)

	if cfg.Model.RotaryDim != 0 && cfg.Model.PositionEmbeddingType != RotaryEmbedding {
		warnings = append(warnings, ConfigWarning{
			Check: "unused-fields",
			Path:  "model.rotary_dim",
			Msg:   fmt.Sprintf("ignored with position_embedding_type %q", cfg.Model.PositionEmbeddingType),
		})
	}
	return warnings
}

func segmentExtras(seg Segment) Extras {
	switch s := seg.(type) {
	case LinearSegment:
		return s.Extra
	case CosineDecaySegment:
		return s.Extra
	case ConstantSegment:
		return s.Extra
	}
	return nil
}
