package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tree renders the configuration back into the generic document form
// accepted by Parse. Parse(c.Tree()) yields a configuration equal to c.
func (c *TrainingConfig) Tree() map[string]interface{} {
	tree := withExtras(c.Extra)
	tree[TrainInputKey] = c.TrainInput.tree()
	tree[EvalInputKey] = c.EvalInput.tree()
	tree[ModelKey] = c.Model.tree()
	tree[OptimizerKey] = c.Optimizer.tree()
	tree[RunConfigKey] = c.RunConfig.tree()
	return tree
}

// Marshal renders the configuration as a YAML document.
func Marshal(c *TrainingConfig) ([]byte, error) {
	data, err := yaml.Marshal(yamlValue(c.Tree()))
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// yamlFloat is a float64 that keeps a decimal point when written, so an
// integral value such as 1.0 reads back as a float and not an int.
type yamlFloat float64

func (f yamlFloat) MarshalYAML() (interface{}, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v, nil
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: s}, nil
}

func yamlValue(v interface{}) interface{} {
	switch t := v.(type) {
	case float64:
		return yamlFloat(t)
	case float32:
		return yamlFloat(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = yamlValue(val)
		}
		return out
	case Extras:
		return yamlValue(map[string]interface{}(t))
	case map[interface{}]interface{}:
		out := make(map[interface{}]interface{}, len(t))
		for k, val := range t {
			out[k] = yamlValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = yamlValue(val)
		}
		return out
	}
	return v
}

func withExtras(extra Extras) map[string]interface{} {
	out := make(map[string]interface{}, len(extra)+8)
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func stringsTree(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func (d DataInputSpec) tree() map[string]interface{} {
	t := withExtras(d.Extra)
	t["data_processor"] = d.DataProcessor
	if d.DataDirScalar && len(d.DataDir) == 1 {
		t["data_dir"] = d.DataDir[0]
	} else {
		t["data_dir"] = stringsTree(d.DataDir)
	}
	t["batch_size"] = d.BatchSize
	t["shuffle"] = d.Shuffle
	t["num_workers"] = d.NumWorkers
	t["persistent_workers"] = d.PersistentWorkers
	t["drop_last"] = d.DropLast
	t["use_vsl"] = d.UseVSL
	if d.ShuffleSeed != nil {
		t["shuffle_seed"] = *d.ShuffleSeed
	}
	if d.PrefetchFactor != nil {
		t["prefetch_factor"] = *d.PrefetchFactor
	}
	if d.FeaturesList != nil {
		t["features_list"] = stringsTree(d.FeaturesList)
	}
	return t
}

func (m ModelSpec) tree() map[string]interface{} {
	t := withExtras(m.Extra)
	t["vocab_size"] = m.VocabSize
	t["hidden_size"] = m.HiddenSize
	t["num_hidden_layers"] = m.NumHiddenLayers
	t["num_heads"] = m.NumHeads
	t["filter_size"] = m.FilterSize
	t["nonlinearity"] = m.Nonlinearity
	t["norm_type"] = m.NormType
	t["layer_norm_epsilon"] = m.LayerNormEpsilon
	t["position_embedding_type"] = m.PositionEmbeddingType
	t["dropout_rate"] = m.DropoutRate
	t["attention_dropout_rate"] = m.AttentionDropoutRate
	t["embedding_dropout_rate"] = m.EmbeddingDropoutRate
	t["share_embedding_weights"] = m.ShareEmbeddingWeights
	t["use_bias_in_output"] = m.UseBiasInOutput
	if m.MaxPositionEmbeddings != nil {
		t["max_position_embeddings"] = *m.MaxPositionEmbeddings
	}
	if m.RotaryDim != 0 {
		t["rotary_dim"] = m.RotaryDim
	}
	if m.Initializer != nil {
		t["initializer"] = m.Initializer.tree()
	}
	if m.EmbeddingInitializer != nil {
		t["embedding_initializer"] = m.EmbeddingInitializer.tree()
	}
	if m.OutputLayerInitializer != nil {
		t["output_layer_initializer"] = m.OutputLayerInitializer.tree()
	}
	return t
}

func (i *Initializer) tree() map[string]interface{} {
	t := withExtras(i.Extra)
	t["name"] = i.Name
	t["mean"] = i.Mean
	putFloat(t, "std", i.Std)
	putFloat(t, "a", i.A)
	putFloat(t, "b", i.B)
	putFloat(t, "val", i.Val)
	return t
}

func putFloat(t map[string]interface{}, key string, f *float64) {
	if f != nil {
		t[key] = *f
	}
}

func (o OptimizerSpec) tree() map[string]interface{} {
	t := withExtras(o.Extra)
	t["optimizer_type"] = o.OptimizerType
	t["weight_decay"] = o.WeightDecay

	segments := make([]interface{}, len(o.LearningRate))
	for i, seg := range o.LearningRate {
		segments[i] = segmentTree(seg)
	}
	t["learning_rate"] = segments

	if o.Betas != nil {
		betas := make([]interface{}, len(o.Betas))
		for i, b := range o.Betas {
			betas[i] = b
		}
		t["betas"] = betas
	}
	putFloat(t, "eps", o.Eps)
	putFloat(t, "max_gradient_norm", o.MaxGradientNorm)
	putFloat(t, "momentum", o.Momentum)
	putFloat(t, "initial_loss_scale", o.InitialLossScale)
	if o.LossScaling != nil {
		if o.LossScaling.Dynamic {
			t["loss_scaling_factor"] = DynamicLossScaling
		} else {
			t["loss_scaling_factor"] = o.LossScaling.Factor
		}
	}
	return t
}

func segmentTree(seg Segment) map[string]interface{} {
	var t map[string]interface{}
	switch s := seg.(type) {
	case LinearSegment:
		t = withExtras(s.Extra)
		t["initial_learning_rate"] = s.InitialLearningRate
		t["end_learning_rate"] = s.EndLearningRate
	case CosineDecaySegment:
		t = withExtras(s.Extra)
		t["initial_learning_rate"] = s.InitialLearningRate
		t["end_learning_rate"] = s.EndLearningRate
	case ConstantSegment:
		t = withExtras(s.Extra)
		t["learning_rate"] = s.LearningRate
	default:
		t = make(map[string]interface{})
	}
	t["scheduler"] = string(seg.Kind())
	t["total_iters"] = seg.Steps()
	return t
}

func (r RunConfig) tree() map[string]interface{} {
	t := withExtras(r.Extra)
	t["max_steps"] = r.MaxSteps
	t["log_steps"] = r.LogSteps
	t["checkpoint_steps"] = r.CheckpointSteps
	t["eval_frequency"] = r.EvalFrequency
	t["model_dir"] = r.ModelDir
	if r.Seed != nil {
		t["seed"] = *r.Seed
	}
	return t
}
