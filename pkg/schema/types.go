package schema

// Top-level section keys. All of them are required.
const (
	TrainInputKey = "train_input"
	EvalInputKey  = "eval_input"
	ModelKey      = "model"
	OptimizerKey  = "optimizer"
	RunConfigKey  = "runconfig"
)

var RequiredSections = []string{TrainInputKey, EvalInputKey, ModelKey, OptimizerKey, RunConfigKey}

var (
	DataProcessors = []string{
		"GptHDF5DataProcessor",
		"GptHDF5MapDataProcessor",
		"HDF5IterableDataProcessor",
		"BertSumCSVDataProcessor",
		"BertCSVDataProcessor",
		"MultimodalSimpleHDF5MapDataProcessor",
		"LlavaHDF5MapDataProcessor",
		"DummyDataProcessor",
	}

	Nonlinearities = []string{"gelu", "relu", "silu", "swiglu", "geglu", "reglu", "gelu_new", "tanh", "sigmoid"}

	NormTypes = []string{"layernorm", "rmsnorm", "batchnorm"}

	PositionEmbeddingTypes = []string{"absolute", "learned", "fixed", "rotary", "alibi", "relative"}

	InitializerNames = []string{
		"normal", "truncated_normal", "uniform",
		"xavier_normal", "xavier_uniform",
		"kaiming_normal", "kaiming_uniform",
		"zeros", "ones", "constant",
	}

	OptimizerTypes = []string{"AdamW", "Adam", "SGD", "Lamb", "Adafactor", "RMSprop", "Adagrad", "Adamax"}

	SchedulerKinds = []string{string(Linear), string(CosineDecay), string(Constant)}
)

const RotaryEmbedding = "rotary"

// TrainingConfig is a fully validated training document. It is never
// mutated after Parse returns it.
type TrainingConfig struct {
	TrainInput DataInputSpec
	EvalInput  DataInputSpec
	Model      ModelSpec
	Optimizer  OptimizerSpec
	RunConfig  RunConfig
	Extra      Extras
}

type DataInputSpec struct {
	DataProcessor     string
	// DataDir order is significant: files are sharded in this order.
	DataDir           []string
	// DataDirScalar records that data_dir was written as a single string
	// rather than a list.
	DataDirScalar     bool
	BatchSize         int
	Shuffle           bool
	ShuffleSeed       *int
	NumWorkers        int
	PrefetchFactor    *int
	PersistentWorkers bool
	DropLast          bool
	UseVSL            bool
	FeaturesList      []string
	Extra             Extras
}

type ModelSpec struct {
	VocabSize             int
	HiddenSize            int
	NumHiddenLayers       int
	NumHeads              int
	FilterSize            int
	MaxPositionEmbeddings *int
	Nonlinearity          string
	NormType              string
	LayerNormEpsilon      float64
	PositionEmbeddingType string
	// RotaryDim is zero when absent.
	RotaryDim              int
	DropoutRate            float64
	AttentionDropoutRate   float64
	EmbeddingDropoutRate   float64
	ShareEmbeddingWeights  bool
	UseBiasInOutput        bool
	Initializer            *Initializer
	EmbeddingInitializer   *Initializer
	OutputLayerInitializer *Initializer
	Extra                  Extras
}

// HeadDim is the per-head width, hidden_size / num_heads.
func (m ModelSpec) HeadDim() int {
	if m.NumHeads == 0 {
		return 0
	}
	return m.HiddenSize / m.NumHeads
}

type Initializer struct {
	Name  string
	Mean  float64
	Std   *float64
	A     *float64
	B     *float64
	Val   *float64
	Extra Extras
}

type OptimizerSpec struct {
	OptimizerType    string
	LearningRate     []Segment
	Betas            []float64
	Eps              *float64
	WeightDecay      float64
	MaxGradientNorm  *float64
	Momentum         *float64
	LossScaling      *LossScaling
	InitialLossScale *float64
	Extra            Extras
}

// LossScaling is either dynamic or a fixed positive factor.
type LossScaling struct {
	Dynamic bool
	Factor  float64
}

const DynamicLossScaling = "dynamic"

type SchedulerKind string

const (
	Linear      SchedulerKind = "Linear"
	CosineDecay SchedulerKind = "CosineDecay"
	Constant    SchedulerKind = "Constant"
)

// Segment is one span of a learning-rate schedule. The concrete types are
// LinearSegment, CosineDecaySegment and ConstantSegment.
type Segment interface {
	Kind() SchedulerKind
	Steps() int
	InitialRate() float64
	EndRate() float64
}

type LinearSegment struct {
	InitialLearningRate float64
	EndLearningRate     float64
	TotalIters          int
	Extra               Extras
}

func (s LinearSegment) Kind() SchedulerKind { return Linear }
func (s LinearSegment) Steps() int { return s.TotalIters }
func (s LinearSegment) InitialRate() float64 { return s.InitialLearningRate }
func (s LinearSegment) EndRate() float64 { return s.EndLearningRate }

type CosineDecaySegment struct {
	InitialLearningRate float64
	EndLearningRate     float64
	TotalIters          int
	Extra               Extras
}

func (s CosineDecaySegment) Kind() SchedulerKind { return CosineDecay }
func (s CosineDecaySegment) Steps() int { return s.TotalIters }
func (s CosineDecaySegment) InitialRate() float64 { return s.InitialLearningRate }
func (s CosineDecaySegment) EndRate() float64 { return s.EndLearningRate }

type ConstantSegment struct {
	LearningRate float64
	TotalIters   int
	Extra        Extras
}

func (s ConstantSegment) Kind() SchedulerKind { return Constant }
func (s ConstantSegment) Steps() int { return s.TotalIters }
func (s ConstantSegment) InitialRate() float64 { return s.LearningRate }
func (s ConstantSegment) EndRate() float64 { return s.LearningRate }

// TotalSteps is the summed duration of all schedule segments.
func (o OptimizerSpec) TotalSteps() int {
	total := 0
	for _, seg := range o.LearningRate {
		total += seg.Steps()
	}
	return total
}

type RunConfig struct {
	MaxSteps        int
	LogSteps        int
	CheckpointSteps int
	EvalFrequency   int
	Seed            *int
	ModelDir        string
	Extra           Extras
}

const DefaultModelDir = "./model_dir"
