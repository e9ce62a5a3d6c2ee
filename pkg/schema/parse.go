package schema

import "fmt"

// Parse builds a TrainingConfig from an already decoded document tree.
// The first problem found aborts parsing and is returned as a
// *ConfigError; no partially valid configuration is ever returned.
func Parse(tree map[string]interface{}) (*TrainingConfig, error) {
	p := &parser{}
	root := p.section("", tree)

	for _, key := range RequiredSections {
		if !root.has(key) {
			root.missing(key)
			return nil, p.err
		}
	}

	cfg := &TrainingConfig{}
	cfg.TrainInput = parseDataInput(root.child(TrainInputKey, true))
	cfg.EvalInput = parseDataInput(root.child(EvalInputKey, true))
	cfg.Model = parseModel(root.child(ModelKey, true))
	cfg.RunConfig = parseRunConfig(root.child(RunConfigKey, true))
	cfg.Optimizer = parseOptimizer(root.child(OptimizerKey, true), cfg.RunConfig.MaxSteps)
	cfg.Extra = root.extras()

	if p.failed() {
		return nil, p.err
	}
	return cfg, nil
}

func parseDataInput(s *section) DataInputSpec {
	if s == nil {
		return DataInputSpec{}
	}
	spec := DataInputSpec{
		DataProcessor:     s.enum("data_processor", DataProcessors, ""),
		DataDir:           s.stringList("data_dir", true, true),
		BatchSize:         s.requiredInt("batch_size"),
		Shuffle:           s.optBool("shuffle", false),
		ShuffleSeed:       s.optIntPtr("shuffle_seed"),
		NumWorkers:        s.optInt("num_workers", 0),
		PrefetchFactor:    s.optIntPtr("prefetch_factor"),
		PersistentWorkers: s.optBool("persistent_workers", false),
		DropLast:          s.optBool("drop_last", true),
		UseVSL:            s.optBool("use_vsl", false),
		FeaturesList:      s.stringList("features_list", false, false),
	}
	_, spec.DataDirScalar = s.m["data_dir"].(string)
	s.positive("batch_size", spec.BatchSize)
	s.nonNegative("num_workers", spec.NumWorkers)
	if spec.PrefetchFactor != nil {
		s.positive("prefetch_factor", *spec.PrefetchFactor)
	}
	for i, dir := range spec.DataDir {
		if dir == "" && !s.p.failed() {
			s.p.fail(ConstraintViolation, indexPath(s.at("data_dir"), i), "must not be empty")
		}
	}
	spec.Extra = s.extras()
	return spec
}

func parseModel(s *section) ModelSpec {
	if s == nil {
		return ModelSpec{}
	}
	m := ModelSpec{
		VocabSize:             s.requiredInt("vocab_size"),
		HiddenSize:            s.requiredInt("hidden_size"),
		NumHiddenLayers:       s.requiredInt("num_hidden_layers"),
		NumHeads:              s.requiredInt("num_heads"),
		FilterSize:            s.requiredInt("filter_size"),
		MaxPositionEmbeddings: s.optIntPtr("max_position_embeddings"),
		Nonlinearity:          s.enum("nonlinearity", Nonlinearities, "gelu"),
		NormType:              s.enum("norm_type", NormTypes, "layernorm"),
		LayerNormEpsilon:      s.optFloat("layer_norm_epsilon", 1e-5),
		PositionEmbeddingType: s.enum("position_embedding_type", PositionEmbeddingTypes, "learned"),
		RotaryDim:             s.optInt("rotary_dim", 0),
		DropoutRate:           s.optFloat("dropout_rate", 0),
		AttentionDropoutRate:  s.optFloat("attention_dropout_rate", 0),
		EmbeddingDropoutRate:  s.optFloat("embedding_dropout_rate", 0),
		ShareEmbeddingWeights: s.optBool("share_embedding_weights", true),
		UseBiasInOutput:       s.optBool("use_bias_in_output", false),
	}
	m.Initializer = parseInitializer(s.child("initializer", false))
	m.EmbeddingInitializer = parseInitializer(s.child("embedding_initializer", false))
	m.OutputLayerInitializer = parseInitializer(s.child("output_layer_initializer", false))

	s.positive("vocab_size", m.VocabSize)
	s.positive("hidden_size", m.HiddenSize)
	s.positive("num_hidden_layers", m.NumHiddenLayers)
	s.positive("num_heads", m.NumHeads)
	s.positive("filter_size", m.FilterSize)
	if m.MaxPositionEmbeddings != nil {
		s.positive("max_position_embeddings", *m.MaxPositionEmbeddings)
	}
	if !s.p.failed() && m.LayerNormEpsilon <= 0 {
		s.p.fail(ConstraintViolation, s.at("layer_norm_epsilon"), "must be greater than 0, got %g", m.LayerNormEpsilon)
	}
	s.rate("dropout_rate", m.DropoutRate)
	s.rate("attention_dropout_rate", m.AttentionDropoutRate)
	s.rate("embedding_dropout_rate", m.EmbeddingDropoutRate)

	if !s.p.failed() && m.HiddenSize%m.NumHeads != 0 {
		s.p.fail(ConstraintViolation, s.at("num_heads"),
			"hidden_size %d is not divisible by num_heads %d", m.HiddenSize, m.NumHeads)
	}
	if s.has("rotary_dim") {
		s.positive("rotary_dim", m.RotaryDim)
	}
	if !s.p.failed() && m.PositionEmbeddingType == RotaryEmbedding {
		switch {
		case !s.has("rotary_dim"):
			s.p.fail(MissingField, s.at("rotary_dim"), "required when position_embedding_type is rotary")
		case m.HeadDim()%m.RotaryDim != 0:
			s.p.fail(ConstraintViolation, s.at("rotary_dim"),
				"rotary_dim %d does not divide hidden_size/num_heads = %d", m.RotaryDim, m.HeadDim())
		}
	}

	m.Extra = s.extras()
	return m
}

func parseInitializer(s *section) *Initializer {
	if s == nil || s.p.failed() {
		return nil
	}
	ini := &Initializer{
		Name: s.enum("name", InitializerNames, ""),
		Mean: s.optFloat("mean", 0),
		Std:  s.optFloatPtr("std"),
		A:    s.optFloatPtr("a"),
		B:    s.optFloatPtr("b"),
		Val:  s.optFloatPtr("val"),
	}
	if !s.p.failed() && ini.Std != nil && *ini.Std < 0 {
		s.p.fail(ConstraintViolation, s.at("std"), "must not be negative, got %g", *ini.Std)
	}
	if !s.p.failed() && ini.A != nil && ini.B != nil && *ini.A > *ini.B {
		s.p.fail(ConstraintViolation, s.at("a"), "lower bound %g exceeds upper bound %g", *ini.A, *ini.B)
	}
	ini.Extra = s.extras()
	return ini
}

func parseOptimizer(s *section, maxSteps int) OptimizerSpec {
	if s == nil {
		return OptimizerSpec{}
	}
	o := OptimizerSpec{
		OptimizerType:    s.enum("optimizer_type", OptimizerTypes, ""),
		LearningRate:     parseSchedule(s, "learning_rate", maxSteps),
		Betas:            s.floatList("betas"),
		Eps:              s.optFloatPtr("eps"),
		WeightDecay:      s.optFloat("weight_decay", 0),
		MaxGradientNorm:  s.optFloatPtr("max_gradient_norm"),
		Momentum:         s.optFloatPtr("momentum"),
		LossScaling:      parseLossScaling(s, "loss_scaling_factor"),
		InitialLossScale: s.optFloatPtr("initial_loss_scale"),
	}

	if !s.p.failed() && o.Betas != nil {
		if len(o.Betas) != 2 {
			s.p.fail(ConstraintViolation, s.at("betas"), "expected exactly 2 values, got %d", len(o.Betas))
		}
		for i, b := range o.Betas {
			if !s.p.failed() && (b < 0 || b >= 1) {
				s.p.fail(ConstraintViolation, indexPath(s.at("betas"), i), "must be within [0, 1), got %g", b)
			}
		}
	}
	positiveFloat(s, "eps", o.Eps)
	positiveFloat(s, "max_gradient_norm", o.MaxGradientNorm)
	positiveFloat(s, "initial_loss_scale", o.InitialLossScale)
	if !s.p.failed() && o.WeightDecay < 0 {
		s.p.fail(ConstraintViolation, s.at("weight_decay"), "must not be negative, got %g", o.WeightDecay)
	}
	if !s.p.failed() && o.Momentum != nil && (*o.Momentum < 0 || *o.Momentum >= 1) {
		s.p.fail(ConstraintViolation, s.at("momentum"), "must be within [0, 1), got %g", *o.Momentum)
	}

	o.Extra = s.extras()
	return o
}

func positiveFloat(s *section, key string, f *float64) {
	if !s.p.failed() && f != nil && *f <= 0 {
		s.p.fail(ConstraintViolation, s.at(key), "must be greater than 0, got %g", *f)
	}
}

func parseLossScaling(s *section, key string) *LossScaling {
	if s.p.failed() {
		return nil
	}
	v, ok := s.lookup(key)
	if !ok {
		return nil
	}
	if str, ok := v.(string); ok {
		if _, ok := matchEnum(str, []string{DynamicLossScaling}); ok {
			return &LossScaling{Dynamic: true}
		}
		s.p.fail(UnknownEnumValue, s.at(key), "%q is neither %q nor a number", str, DynamicLossScaling)
		return nil
	}
	f, ok := asFloat(v)
	if !ok {
		s.mismatch(key, v, "number or \"dynamic\"")
		return nil
	}
	if f <= 0 {
		s.p.fail(ConstraintViolation, s.at(key), "must be greater than 0, got %g", f)
		return nil
	}
	return &LossScaling{Factor: f}
}

// parseSchedule accepts a bare rate, a single segment mapping, or a list of
// segment mappings. A bare rate holds for the whole run.
func parseSchedule(s *section, key string, maxSteps int) []Segment {
	if s.p.failed() {
		return nil
	}
	v, ok := s.lookup(key)
	if !ok {
		s.missing(key)
		return nil
	}
	if rate, ok := asFloat(v); ok {
		if rate < 0 {
			s.p.fail(ConstraintViolation, s.at(key), "must not be negative, got %g", rate)
			return nil
		}
		return []Segment{ConstantSegment{LearningRate: rate, TotalIters: maxSteps}}
	}

	var items []interface{}
	switch t := v.(type) {
	case []interface{}:
		items = t
	default:
		if _, ok := asMap(v); !ok {
			s.mismatch(key, v, "number, segment mapping or list of segments")
			return nil
		}
		items = []interface{}{v}
	}
	if len(items) == 0 {
		s.p.fail(ConstraintViolation, s.at(key), "schedule must contain at least one segment")
		return nil
	}

	segments := make([]Segment, 0, len(items))
	for i, item := range items {
		itemPath := indexPath(s.at(key), i)
		m, ok := asMap(item)
		if !ok {
			s.p.fail(TypeMismatch, itemPath, "expected segment mapping, got %s", describe(item))
			return nil
		}
		seg := parseSegment(s.p.section(itemPath, m))
		if s.p.failed() {
			return nil
		}
		segments = append(segments, seg)
	}
	return segments
}

var durationKeys = []string{"total_iters", "steps", "decay_steps"}

func parseSegment(s *section) Segment {
	kind := SchedulerKind(s.enum("scheduler", SchedulerKinds, ""))
	steps := segmentSteps(s)

	switch kind {
	case Linear, CosineDecay:
		initial := s.requiredFloat("initial_learning_rate")
		end := s.requiredFloat("end_learning_rate")
		nonNegativeRate(s, "initial_learning_rate", initial)
		nonNegativeRate(s, "end_learning_rate", end)
		extra := s.extras()
		if kind == Linear {
			return LinearSegment{InitialLearningRate: initial, EndLearningRate: end, TotalIters: steps, Extra: extra}
		}
		return CosineDecaySegment{InitialLearningRate: initial, EndLearningRate: end, TotalIters: steps, Extra: extra}
	case Constant:
		rate := s.requiredFloat("learning_rate")
		nonNegativeRate(s, "learning_rate", rate)
		return ConstantSegment{LearningRate: rate, TotalIters: steps, Extra: s.extras()}
	}
	return nil
}

func segmentSteps(s *section) int {
	if s.p.failed() {
		return 0
	}
	var found []string
	for _, key := range durationKeys {
		if s.has(key) {
			found = append(found, key)
		}
	}
	switch len(found) {
	case 0:
		s.used[durationKeys[0]] = true
		s.missing(durationKeys[0])
		return 0
	case 1:
	default:
		s.p.fail(ConstraintViolation, s.at(found[1]), "duration given twice (%s and %s)", found[0], found[1])
		return 0
	}
	n := s.requiredInt(found[0])
	s.positive(found[0], n)
	return n
}

func nonNegativeRate(s *section, key string, f float64) {
	if !s.p.failed() && f < 0 {
		s.p.fail(ConstraintViolation, s.at(key), "must not be negative, got %g", f)
	}
}

func (c *TrainingConfig) String() string {
	return fmt.Sprintf("%s model: %d layers, hidden %d, %d heads; %s for %d steps",
		c.TrainInput.DataProcessor, c.Model.NumHiddenLayers, c.Model.HiddenSize,
		c.Model.NumHeads, c.Optimizer.OptimizerType, c.RunConfig.MaxSteps)
}

func parseRunConfig(s *section) RunConfig {
	if s == nil {
		return RunConfig{}
	}
	rc := RunConfig{
		MaxSteps:        s.requiredInt("max_steps"),
		LogSteps:        s.optInt("log_steps", 0),
		CheckpointSteps: s.optInt("checkpoint_steps", 0),
		EvalFrequency:   s.optInt("eval_frequency", 0),
		Seed:            s.optIntPtr("seed"),
		ModelDir:        s.optString("model_dir", DefaultModelDir),
	}
	s.positive("max_steps", rc.MaxSteps)
	s.nonNegative("log_steps", rc.LogSteps)
	s.nonNegative("checkpoint_steps", rc.CheckpointSteps)
	s.nonNegative("eval_frequency", rc.EvalFrequency)
	rc.Extra = s.extras()
	return rc
}
