package types

// Phase is one of the ordered project lifecycle stages.
type Phase string

const (
	PhaseInitiation Phase = "initiation"
	PhasePlanning   Phase = "planning"
	PhaseDesign     Phase = "design"
	PhaseExecution  Phase = "execution"
	PhaseMonitoring Phase = "monitoring"
	PhaseClosure    Phase = "closure"

	// DefaultPhase is used when a session is started without an explicit phase.
	DefaultPhase = PhasePlanning
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{
	PhaseInitiation,
	PhasePlanning,
	PhaseDesign,
	PhaseExecution,
	PhaseMonitoring,
	PhaseClosure,
}

// Index returns the position of p in the lifecycle, or -1 if p is not a known phase.
func (p Phase) Index() int {
	for i, phase := range Phases {
		if phase == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

func (p Phase) String() string {
	return string(p)
}
