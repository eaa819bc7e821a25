package plan

import "fmt"

// Level is the granularity at which a subgraph is planned.
type Level int

const (
	LevelAssembly Level = iota
	LevelStep
	LevelNode
	LevelPipeline

	levelCount = int(LevelPipeline) + 1
)

var levelNames = [levelCount]string{"Assembly", "Step", "Node", "Pipeline"}

// Levels returns every level, parents first.
func Levels() []Level {
	return []Level{LevelAssembly, LevelStep, LevelNode, LevelPipeline}
}

// Parent returns the enclosing level. Assembly has none.
func (l Level) Parent() (Level, bool) {
	if l <= LevelAssembly || int(l) >= levelCount {
		return 0, false
	}
	return l - 1, true
}

func (l Level) String() string {
	if l < 0 || int(l) >= levelCount {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// Mode selects how the rules of a phase are dispatched.
type Mode int

const (
	ModeMutate Mode = iota
	ModePartition
)

func (m Mode) String() string {
	switch m {
	case ModeMutate:
		return "Mutate"
	case ModePartition:
		return "Partition"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Action is what the executor does when it reaches a phase.
type Action int

const (
	ActionRule Action = iota
	ActionResolve
)

func (a Action) String() string {
	switch a {
	case ActionRule:
		return "Rule"
	case ActionResolve:
		return "Resolve"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Phase is one step of the fixed planning pipeline.
//
// Declaration order is execution order. The ordinal is externally visible
// (trace file names) and must never change for an existing phase.
type Phase int

const (
	// PhaseNone is the zero value; a rule bound to it is rejected.
	PhaseNone Phase = iota

	PhasePreBalanceAssembly
	PhaseBalanceAssembly
	PhasePostBalanceAssembly
	PhasePreResolveAssembly
	PhaseResolveAssembly
	PhasePostResolveAssembly
	PhasePartitionSteps
	PhasePostSteps
	PhasePartitionNodes
	PhasePostNodes
	PhasePartitionPipelines
	PhasePostPipelines

	phaseCount = int(PhasePostPipelines)
)

type phaseInfo struct {
	name   string
	level  Level
	mode   Mode
	action Action
}

// phaseTable is indexed by Ordinal().
var phaseTable = [phaseCount]phaseInfo{
	{"PreBalanceAssembly", LevelAssembly, ModeMutate, ActionRule},
	{"BalanceAssembly", LevelAssembly, ModeMutate, ActionRule},
	{"PostBalanceAssembly", LevelAssembly, ModeMutate, ActionRule},
	{"PreResolveAssembly", LevelAssembly, ModeMutate, ActionRule},
	{"ResolveAssembly", LevelAssembly, ModeMutate, ActionResolve},
	{"PostResolveAssembly", LevelAssembly, ModeMutate, ActionRule},
	{"PartitionSteps", LevelStep, ModePartition, ActionRule},
	{"PostSteps", LevelStep, ModeMutate, ActionRule},
	{"PartitionNodes", LevelNode, ModePartition, ActionRule},
	{"PostNodes", LevelNode, ModeMutate, ActionRule},
	{"PartitionPipelines", LevelPipeline, ModePartition, ActionRule},
	{"PostPipelines", LevelPipeline, ModeMutate, ActionRule},
}

var orderedPhases = [phaseCount]Phase{
	PhasePreBalanceAssembly,
	PhaseBalanceAssembly,
	PhasePostBalanceAssembly,
	PhasePreResolveAssembly,
	PhaseResolveAssembly,
	PhasePostResolveAssembly,
	PhasePartitionSteps,
	PhasePostSteps,
	PhasePartitionNodes,
	PhasePostNodes,
	PhasePartitionPipelines,
	PhasePostPipelines,
}

// Phases returns the fixed, ordered phase sequence.
func Phases() []Phase {
	out := make([]Phase, phaseCount)
	copy(out, orderedPhases[:])
	return out
}

// Valid reports whether p is one of the planning phases.
func (p Phase) Valid() bool {
	return p > PhaseNone && int(p) <= phaseCount
}

// Ordinal is the zero-based execution position of the phase.
func (p Phase) Ordinal() int { return int(p) - 1 }

func (p Phase) info() phaseInfo {
	if !p.Valid() {
		panic(fmt.Sprintf("plan: invalid phase %d", int(p)))
	}
	return phaseTable[p.Ordinal()]
}

// Level returns the process level the phase operates on.
func (p Phase) Level() Level { return p.info().level }

// Mode returns the dispatch mode of the phase.
func (p Phase) Mode() Mode { return p.info().mode }

// Action returns the action kind of the phase.
func (p Phase) Action() Action { return p.info().action }

func (p Phase) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseTable[p.Ordinal()].name
}

// ParsePhase resolves a phase by name.
func ParsePhase(name string) (Phase, error) {
	for _, p := range orderedPhases {
		if p.String() == name {
			return p, nil
		}
	}
	return PhaseNone, fmt.Errorf("unknown phase %q", name)
}
