package workflow

import (
	"encoding/json"
	"fmt"

	"worldsmith/internal/config"
	"worldsmith/internal/pipeline"
)

// Stage keys identify which pipeline stage a state executes.
const (
	StagePanorama  = "panorama"
	StageDecompose = "decompose"
	StageCompose   = "compose"
	StageRegister  = "register"
)

// State names used by the default definition.
const (
	StateGeneratePanorama = "GeneratePanorama"
	StateDecomposeLayers  = "DecomposeLayers"
	StateComposeWorld     = "ComposeWorld"
	StateRegisterWorld    = "RegisterWorld"
)

// Worker classes advertised by the definition document. The local engine
// runs every state on the host it lives on; the classes describe the
// capacity a hosted scheduler would provision per state.
const (
	WorkerClassGPULarge  = "gpu-large"
	WorkerClassGPUXLarge = "gpu-xlarge"
	WorkerClassCPUSmall  = "cpu-small"
)

const registerTimeoutSeconds = 300

// RetryPolicy bounds how often a failing state is re-executed. MaxAttempts
// counts total executions, so a value of 1 disables retries.
type RetryPolicy struct {
	MaxAttempts     int
	IntervalSeconds int
	BackoffRate     float64
}

// State is one task in a workflow definition.
type State struct {
	Name           string
	Stage          string
	WorkerClass    string
	VolumeGiB      int
	TimeoutSeconds int
	Retry          RetryPolicy
}

// Definition is an ordered chain of states ending in world registration.
type Definition struct {
	Comment string
	States  []State
}

// DefaultDefinition builds the four-state chain the daemon executes.
// Engine timeouts and the retry policy come from configuration; the
// terminal registration state is lightweight and needs no GPU volume.
func DefaultDefinition(cfg *config.Config) Definition {
	retry := RetryPolicy{
		MaxAttempts:     cfg.Workflow.RetryMaxAttempts,
		IntervalSeconds: cfg.Workflow.RetryIntervalSeconds,
		BackoffRate:     cfg.Workflow.RetryBackoffRate,
	}
	return Definition{
		Comment: "Turns a text prompt into a registered explorable world",
		States: []State{
			{
				Name:           StateGeneratePanorama,
				Stage:          StagePanorama,
				WorkerClass:    WorkerClassGPULarge,
				VolumeGiB:      50,
				TimeoutSeconds: cfg.Engine.PanoramaTimeout,
				Retry:          retry,
			},
			{
				Name:           StateDecomposeLayers,
				Stage:          StageDecompose,
				WorkerClass:    WorkerClassGPULarge,
				VolumeGiB:      50,
				TimeoutSeconds: cfg.Engine.DecomposeTimeout,
				Retry:          retry,
			},
			{
				Name:           StateComposeWorld,
				Stage:          StageCompose,
				WorkerClass:    WorkerClassGPUXLarge,
				VolumeGiB:      100,
				TimeoutSeconds: cfg.Engine.ComposeTimeout,
				Retry:          retry,
			},
			{
				Name:           StateRegisterWorld,
				Stage:          StageRegister,
				WorkerClass:    WorkerClassCPUSmall,
				TimeoutSeconds: registerTimeoutSeconds,
				Retry:          retry,
			},
		},
	}
}

// Document renders the definition as a state-machine JSON document for
// inspection and export.
func (d Definition) Document() ([]byte, error) {
	type retrySpec struct {
		ErrorEquals     []string `json:"ErrorEquals"`
		IntervalSeconds int      `json:"IntervalSeconds"`
		MaxAttempts     int      `json:"MaxAttempts"`
		BackoffRate     float64  `json:"BackoffRate,omitempty"`
	}
	type taskSpec struct {
		Type           string      `json:"Type"`
		Resource       string      `json:"Resource"`
		WorkerClass    string      `json:"WorkerClass,omitempty"`
		VolumeGiB      int         `json:"VolumeGiB,omitempty"`
		TimeoutSeconds int         `json:"TimeoutSeconds,omitempty"`
		Retry          []retrySpec `json:"Retry,omitempty"`
		Next           string      `json:"Next,omitempty"`
		End            bool        `json:"End,omitempty"`
	}

	if len(d.States) == 0 {
		return nil, fmt.Errorf("definition has no states")
	}

	states := make(map[string]taskSpec, len(d.States))
	for i, st := range d.States {
		spec := taskSpec{
			Type:           "Task",
			Resource:       "worldsmith://stage/" + st.Stage,
			WorkerClass:    st.WorkerClass,
			VolumeGiB:      st.VolumeGiB,
			TimeoutSeconds: st.TimeoutSeconds,
		}
		if st.Retry.MaxAttempts > 1 {
			spec.Retry = []retrySpec{{
				ErrorEquals:     []string{"States.ALL"},
				IntervalSeconds: st.Retry.IntervalSeconds,
				MaxAttempts:     st.Retry.MaxAttempts,
				BackoffRate:     st.Retry.BackoffRate,
			}}
		}
		if i == len(d.States)-1 {
			spec.End = true
		} else {
			spec.Next = d.States[i+1].Name
		}
		states[st.Name] = spec
	}

	doc := struct {
		Comment string              `json:"Comment,omitempty"`
		StartAt string              `json:"StartAt"`
		States  map[string]taskSpec `json:"States"`
	}{
		Comment: d.Comment,
		StartAt: d.States[0].Name,
		States:  states,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Transition describes the run-status movement one stage performs: the run
// enters Processing while the stage works and lands on Done when it ends.
type Transition struct {
	Stage      string
	Processing pipeline.Status
	Done       pipeline.Status
}

// Transitions returns the status chain in execution order. Each stage's
// Done status is the next stage's Processing status, so a run's status
// always names the stage that owns it next.
func Transitions() []Transition {
	return []Transition{
		{Stage: StagePanorama, Processing: pipeline.StatusGenerating, Done: pipeline.StatusDecomposing},
		{Stage: StageDecompose, Processing: pipeline.StatusDecomposing, Done: pipeline.StatusComposing},
		{Stage: StageCompose, Processing: pipeline.StatusComposing, Done: pipeline.StatusRegistering},
		{Stage: StageRegister, Processing: pipeline.StatusRegistering, Done: pipeline.StatusCompleted},
	}
}

// TransitionFor resolves the transition for a stage key.
func TransitionFor(stage string) (Transition, bool) {
	for _, tr := range Transitions() {
		if tr.Stage == stage {
			return tr, true
		}
	}
	return Transition{}, false
}
