package schema

import (
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const rotaryFixture = "testdata/gpt_2_7b_rotary.yaml"

func loadTree(t *testing.T) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(rotaryFixture)
	require.NoError(t, err)

	var tree map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &tree))
	return tree
}

func sub(t *testing.T, tree map[string]interface{}, key string) map[string]interface{} {
	t.Helper()
	m, ok := tree[key].(map[string]interface{})
	require.True(t, ok, "%s is not a mapping", key)
	return m
}

func requireConfigError(t *testing.T, err error, kind ErrorKind, path string) {
	t.Helper()
	require.Error(t, err)
	var ce *ConfigError
	require.True(t, errors.As(err, &ce), "not a ConfigError: %v", err)
	assert.Equal(t, kind, ce.Kind, ce.Error())
	assert.Equal(t, path, ce.Path, ce.Error())
}

func TestLoadFileRotaryFixture(t *testing.T) {
	cfg, err := LoadFile(rotaryFixture)
	require.NoError(t, err)

	assert.Equal(t, "GptHDF5MapDataProcessor", cfg.TrainInput.DataProcessor)
	assert.Equal(t, []string{"./data/pile/train_shard_0", "./data/pile/train_shard_1"}, cfg.TrainInput.DataDir)
	assert.Equal(t, []string{"./data/pile/val"}, cfg.EvalInput.DataDir)
	assert.False(t, cfg.TrainInput.DataDirScalar)
	assert.True(t, cfg.EvalInput.DataDirScalar)
	require.NotNil(t, cfg.TrainInput.ShuffleSeed)
	assert.Equal(t, 1337, *cfg.TrainInput.ShuffleSeed)
	assert.True(t, cfg.TrainInput.DropLast)

	assert.Equal(t, 80, cfg.Model.HeadDim())
	assert.Equal(t, 80, cfg.Model.RotaryDim)
	require.NotNil(t, cfg.Model.Initializer)
	assert.Equal(t, "truncated_normal", cfg.Model.Initializer.Name)

	assert.Equal(t, "AdamW", cfg.Optimizer.OptimizerType)
	assert.Equal(t, []float64{0.9, 0.95}, cfg.Optimizer.Betas)
	require.NotNil(t, cfg.Optimizer.LossScaling)
	assert.True(t, cfg.Optimizer.LossScaling.Dynamic)

	require.Len(t, cfg.Optimizer.LearningRate, 2)
	assert.Equal(t, LinearSegment{InitialLearningRate: 0, EndLearningRate: 6.6e-05, TotalIters: 41373}, cfg.Optimizer.LearningRate[0])
	assert.Equal(t, CosineDecaySegment{InitialLearningRate: 6.6e-05, EndLearningRate: 6.6e-06, TotalIters: 4890748}, cfg.Optimizer.LearningRate[1])
	assert.Equal(t, 4932121, cfg.Optimizer.TotalSteps())

	assert.Equal(t, "./model_dir/gpt_2_7b", cfg.RunConfig.ModelDir)
	assert.Nil(t, cfg.Extra)
	assert.Empty(t, Validate(cfg))
}

func TestParseRotaryDim(t *testing.T) {
	tests := []struct {
		name      string
		rotaryDim interface{}
		wantErr   bool
		kind      ErrorKind
	}{
		{name: "equal to head dim", rotaryDim: 80},
		{name: "divides head dim", rotaryDim: 40},
		{name: "does not divide", rotaryDim: 79, wantErr: true, kind: ConstraintViolation},
		{name: "not positive", rotaryDim: 0, wantErr: true, kind: ConstraintViolation},
		{name: "absent", rotaryDim: nil, wantErr: true, kind: MissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := loadTree(t)
			model := sub(t, tree, ModelKey)
			model["hidden_size"] = 2560
			model["num_heads"] = 32
			if tt.rotaryDim == nil {
				delete(model, "rotary_dim")
			} else {
				model["rotary_dim"] = tt.rotaryDim
			}

			cfg, err := Parse(tree)
			if tt.wantErr {
				requireConfigError(t, err, tt.kind, "model.rotary_dim")
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rotaryDim, cfg.Model.RotaryDim)
		})
	}
}

func TestParseMissingSection(t *testing.T) {
	for _, key := range RequiredSections {
		t.Run(key, func(t *testing.T) {
			tree := loadTree(t)
			delete(tree, key)

			cfg, err := Parse(tree)
			requireConfigError(t, err, MissingField, key)
			assert.Nil(t, cfg)
			assert.True(t, IsKind(err, MissingField))
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, tree map[string]interface{})
		kind   ErrorKind
		path   string
	}{
		{
			name: "string batch size",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, TrainInputKey)["batch_size"] = "528"
			},
			kind: TypeMismatch,
			path: "train_input.batch_size",
		},
		{
			name: "zero batch size",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, EvalInputKey)["batch_size"] = 0
			},
			kind: ConstraintViolation,
			path: "eval_input.batch_size",
		},
		{
			name: "data_dir is a number",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, TrainInputKey)["data_dir"] = 5
			},
			kind: TypeMismatch,
			path: "train_input.data_dir",
		},
		{
			name: "empty data_dir entry",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, TrainInputKey)["data_dir"] = []interface{}{"./a", ""}
			},
			kind: ConstraintViolation,
			path: "train_input.data_dir[1]",
		},
		{
			name: "unknown data processor",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, TrainInputKey)["data_processor"] = "ParquetDataProcessor"
			},
			kind: UnknownEnumValue,
			path: "train_input.data_processor",
		},
		{
			name: "section is not a mapping",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				tree[ModelKey] = 3
			},
			kind: TypeMismatch,
			path: "model",
		},
		{
			name: "unknown nonlinearity",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, ModelKey)["nonlinearity"] = "mish"
			},
			kind: UnknownEnumValue,
			path: "model.nonlinearity",
		},
		{
			name: "heads do not divide hidden size",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, ModelKey)["num_heads"] = 30
			},
			kind: ConstraintViolation,
			path: "model.num_heads",
		},
		{
			name: "dropout above one",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, ModelKey)["dropout_rate"] = 1.5
			},
			kind: ConstraintViolation,
			path: "model.dropout_rate",
		},
		{
			name: "truncated normal bounds reversed",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				ini := sub(t, sub(t, tree, ModelKey), "initializer")
				ini["a"] = 0.5
			},
			kind: ConstraintViolation,
			path: "model.initializer.a",
		},
		{
			name: "one beta",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, OptimizerKey)["betas"] = []interface{}{0.9}
			},
			kind: ConstraintViolation,
			path: "optimizer.betas",
		},
		{
			name: "beta of one",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, OptimizerKey)["betas"] = []interface{}{0.9, 1.0}
			},
			kind: ConstraintViolation,
			path: "optimizer.betas[1]",
		},
		{
			name: "bad loss scaling keyword",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, OptimizerKey)["loss_scaling_factor"] = "auto"
			},
			kind: UnknownEnumValue,
			path: "optimizer.loss_scaling_factor",
		},
		{
			name: "empty schedule",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, OptimizerKey)["learning_rate"] = []interface{}{}
			},
			kind: ConstraintViolation,
			path: "optimizer.learning_rate",
		},
		{
			name: "unknown scheduler",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, OptimizerKey)["learning_rate"] = []interface{}{
					map[string]interface{}{"scheduler": "Exponential", "initial_learning_rate": 1e-4, "end_learning_rate": 1e-5, "total_iters": 10},
				}
			},
			kind: UnknownEnumValue,
			path: "optimizer.learning_rate[0].scheduler",
		},
		{
			name: "segment without duration",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				lr := sub(t, tree, OptimizerKey)["learning_rate"].([]interface{})
				delete(lr[1].(map[string]interface{}), "total_iters")
			},
			kind: MissingField,
			path: "optimizer.learning_rate[1].total_iters",
		},
		{
			name: "segment with two durations",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				lr := sub(t, tree, OptimizerKey)["learning_rate"].([]interface{})
				lr[0].(map[string]interface{})["decay_steps"] = 41373
			},
			kind: ConstraintViolation,
			path: "optimizer.learning_rate[0].decay_steps",
		},
		{
			name: "fractional duration",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				lr := sub(t, tree, OptimizerKey)["learning_rate"].([]interface{})
				lr[0].(map[string]interface{})["total_iters"] = 10.5
			},
			kind: TypeMismatch,
			path: "optimizer.learning_rate[0].total_iters",
		},
		{
			name: "segment is not a mapping",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, OptimizerKey)["learning_rate"] = []interface{}{1e-4}
			},
			kind: TypeMismatch,
			path: "optimizer.learning_rate[0]",
		},
		{
			name: "negative rate",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				lr := sub(t, tree, OptimizerKey)["learning_rate"].([]interface{})
				lr[1].(map[string]interface{})["end_learning_rate"] = -1e-6
			},
			kind: ConstraintViolation,
			path: "optimizer.learning_rate[1].end_learning_rate",
		},
		{
			name: "nan dropout",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, ModelKey)["dropout_rate"] = math.NaN()
			},
			kind: ConstraintViolation,
			path: "model.dropout_rate",
		},
		{
			name: "nan layer norm epsilon",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, ModelKey)["layer_norm_epsilon"] = math.NaN()
			},
			kind: ConstraintViolation,
			path: "model.layer_norm_epsilon",
		},
		{
			name: "nan weight decay",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, OptimizerKey)["weight_decay"] = math.NaN()
			},
			kind: ConstraintViolation,
			path: "optimizer.weight_decay",
		},
		{
			name: "infinite end rate",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				lr := sub(t, tree, OptimizerKey)["learning_rate"].([]interface{})
				lr[1].(map[string]interface{})["end_learning_rate"] = math.Inf(1)
			},
			kind: ConstraintViolation,
			path: "optimizer.learning_rate[1].end_learning_rate",
		},
		{
			name: "infinite bare rate",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, OptimizerKey)["learning_rate"] = math.Inf(1)
			},
			kind: ConstraintViolation,
			path: "optimizer.learning_rate",
		},
		{
			name: "nan beta",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, OptimizerKey)["betas"] = []interface{}{0.9, math.NaN()}
			},
			kind: ConstraintViolation,
			path: "optimizer.betas[1]",
		},
		{
			name: "infinite loss scale",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, OptimizerKey)["loss_scaling_factor"] = math.Inf(1)
			},
			kind: ConstraintViolation,
			path: "optimizer.loss_scaling_factor",
		},
		{
			name: "nan initializer std",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, sub(t, tree, ModelKey), "initializer")["std"] = math.NaN()
			},
			kind: ConstraintViolation,
			path: "model.initializer.std",
		},
		{
			name: "zero max steps",
			mutate: func(t *testing.T, tree map[string]interface{}) {
				sub(t, tree, RunConfigKey)["max_steps"] = 0
			},
			kind: ConstraintViolation,
			path: "runconfig.max_steps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := loadTree(t)
			tt.mutate(t, tree)

			cfg, err := Parse(tree)
			requireConfigError(t, err, tt.kind, tt.path)
			assert.Nil(t, cfg)
		})
	}
}

func TestParseScheduleForms(t *testing.T) {
	t.Run("bare rate holds for the run", func(t *testing.T) {
		tree := loadTree(t)
		sub(t, tree, OptimizerKey)["learning_rate"] = 2e-4

		cfg, err := Parse(tree)
		require.NoError(t, err)
		assert.Equal(t, []Segment{ConstantSegment{LearningRate: 2e-4, TotalIters: 4932121}}, cfg.Optimizer.LearningRate)
	})

	t.Run("single mapping", func(t *testing.T) {
		tree := loadTree(t)
		sub(t, tree, OptimizerKey)["learning_rate"] = map[string]interface{}{
			"scheduler":             "cosinedecay",
			"initial_learning_rate": 1e-4,
			"end_learning_rate":     1e-5,
			"decay_steps":           1000,
		}

		cfg, err := Parse(tree)
		require.NoError(t, err)
		assert.Equal(t, []Segment{CosineDecaySegment{InitialLearningRate: 1e-4, EndLearningRate: 1e-5, TotalIters: 1000}}, cfg.Optimizer.LearningRate)
	})

	t.Run("constant segment with steps alias", func(t *testing.T) {
		tree := loadTree(t)
		sub(t, tree, OptimizerKey)["learning_rate"] = []interface{}{
			map[string]interface{}{"scheduler": "Constant", "learning_rate": 3e-4, "steps": 500},
		}

		cfg, err := Parse(tree)
		require.NoError(t, err)
		assert.Equal(t, []Segment{ConstantSegment{LearningRate: 3e-4, TotalIters: 500}}, cfg.Optimizer.LearningRate)
	})
}

func TestParseDefaults(t *testing.T) {
	doc := `
train_input:
  data_processor: gpthdf5mapdataprocessor
  data_dir: ./train
  batch_size: 8
  shuffle_seed: null
eval_input:
  data_processor: DummyDataProcessor
  data_dir: ./eval
  batch_size: 8
model:
  vocab_size: 100
  hidden_size: 64
  num_hidden_layers: 2
  num_heads: 4
  filter_size: 256
optimizer:
  optimizer_type: adamw
  learning_rate: 0.001
runconfig:
  max_steps: 10
`
	cfg, err := ParseDocument([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "GptHDF5MapDataProcessor", cfg.TrainInput.DataProcessor)
	assert.Nil(t, cfg.TrainInput.ShuffleSeed)
	assert.False(t, cfg.TrainInput.Shuffle)
	assert.True(t, cfg.TrainInput.DropLast)
	assert.Zero(t, cfg.TrainInput.NumWorkers)

	assert.Equal(t, "gelu", cfg.Model.Nonlinearity)
	assert.Equal(t, "layernorm", cfg.Model.NormType)
	assert.Equal(t, "learned", cfg.Model.PositionEmbeddingType)
	assert.Equal(t, 1e-5, cfg.Model.LayerNormEpsilon)
	assert.True(t, cfg.Model.ShareEmbeddingWeights)
	assert.Nil(t, cfg.Model.Initializer)

	assert.Equal(t, "AdamW", cfg.Optimizer.OptimizerType)
	assert.Nil(t, cfg.Optimizer.Betas)
	assert.Equal(t, DefaultModelDir, cfg.RunConfig.ModelDir)
	assert.Equal(t, "GptHDF5MapDataProcessor model: 2 layers, hidden 64, 4 heads; AdamW for 10 steps", cfg.String())
}

func TestParseDocumentNotMapping(t *testing.T) {
	_, err := ParseDocument([]byte("- train_input\n- model\n"))
	requireConfigError(t, err, TypeMismatch, "")
}

func TestParseDocumentRejectsNonFinite(t *testing.T) {
	data, err := os.ReadFile(rotaryFixture)
	require.NoError(t, err)

	tests := []struct {
		old, new string
		path     string
	}{
		{"  dropout_rate: 0.0", "  dropout_rate: .nan", "model.dropout_rate"},
		{"layer_norm_epsilon: 1.0e-5", "layer_norm_epsilon: .NaN", "model.layer_norm_epsilon"},
		{"weight_decay: 0.1", "weight_decay: -.inf", "optimizer.weight_decay"},
		{"end_learning_rate: 6.6e-06", "end_learning_rate: .inf", "optimizer.learning_rate[1].end_learning_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			doc := strings.Replace(string(data), tt.old, tt.new, 1)
			require.NotEqual(t, string(data), doc)

			cfg, err := ParseDocument([]byte(doc))
			requireConfigError(t, err, ConstraintViolation, tt.path)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), "must be a finite number")
		})
	}
}

func TestRoundTrip(t *testing.T) {
	tree := loadTree(t)
	tree["experiment"] = "rotary-ablation"
	sub(t, tree, ModelKey)["use_flash_attention"] = true
	lr := sub(t, tree, OptimizerKey)["learning_rate"].([]interface{})
	lr[0].(map[string]interface{})["note"] = "warmup"
	sub(t, tree, OptimizerKey)["grad_accum_scale"] = 1.0
	tree["targets"] = map[string]interface{}{"loss": 2.0, "tokens": 300000000000.0, "stages": []interface{}{1.0, 2}}

	cfg, err := Parse(tree)
	require.NoError(t, err)

	t.Run("tree", func(t *testing.T) {
		again, err := Parse(cfg.Tree())
		require.NoError(t, err)
		if diff := cmp.Diff(cfg, again); diff != "" {
			t.Errorf("Parse(Tree()) mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		data, err := Marshal(cfg)
		require.NoError(t, err)
		assert.Contains(t, string(data), "grad_accum_scale: 1.0")
		assert.Contains(t, string(data), "data_dir: ./data/pile/val")

		again, err := ParseDocument(data)
		require.NoError(t, err)
		if diff := cmp.Diff(cfg, again); diff != "" {
			t.Errorf("ParseDocument(Marshal()) mismatch (-want +got):\n%s", diff)
		}
	})
}
