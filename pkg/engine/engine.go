// Package engine describes the numerical power-system engine the simulation
// orchestrator drives. Power flow, DAE integration, linearization and the
// network model itself live behind these interfaces.
package engine

// DerivativeFunc evaluates dx/dt at time t for state x and bus voltages v
type DerivativeFunc func(t float64, x []float64, v []complex128) []float64

// Catalog resolves network templates by name
type Catalog interface {
	Networks() []string
	Load(name string) (*ModelData, error)
}

// Factory builds a System from adapted model data. Options carry opaque
// model settings such as PLL parameters.
type Factory interface {
	Build(model *ModelData, options map[string]any) (System, error)
}

// FactoryFunc adapts a function to the Factory interface
type FactoryFunc func(model *ModelData, options map[string]any) (System, error)

func (f FactoryFunc) Build(model *ModelData, options map[string]any) (System, error) {
	return f(model, options)
}

// System is a built power-system model
type System interface {
	// PowerFlow solves the steady state. Non-convergence wraps ErrPowerFlow.
	PowerFlow() error
	// InitDynamic derives the initial dynamic state from the power flow.
	// It may be called again after control inputs change.
	InitDynamic() error
	InitialState() (x0 []float64, v0 []complex128)

	StateDerivatives(t float64, x []float64, v []complex128) []float64
	SolveAlgebraic(t float64, x []float64) []complex128
	NewIntegrator(f DerivativeFunc, t0 float64, x0 []float64, tEnd, maxStep float64) (Integrator, error)

	NumBuses() int
	Loads() LoadGroup
	Generators() GeneratorGroup
	Lines() LineGroup
	Transformers() TransformerGroup

	// FaultAdmittance reads the diagonal entry of the reduced admittance
	// modification at bus.
	FaultAdmittance(bus int) (complex128, error)
	SetFaultAdmittance(bus int, y complex128) error

	// LoadFlowAdmittance returns the load-flow bus admittance matrix, or
	// false when the engine does not expose one.
	LoadFlowAdmittance() ([][]complex128, bool)
	// PowerInjections returns the bus injections found by the power flow
	PowerInjections() []complex128

	Linearize() (Linearization, error)
}

// Integrator advances the DAE one step at a time
type Integrator interface {
	T() float64
	TEnd() float64
	Dt() float64
	X() []float64
	V() []complex128
	Step() error
}

// LoadGroup is the dynamic load group
type LoadGroup interface {
	Len() int
	Setpoints(index int) (g, b float64, err error)
	SetSetpoints(index int, g, b float64) error
	Current(x []float64, v []complex128) []complex128
	ActivePower(x []float64, v []complex128) []float64
	ReactivePower(x []float64, v []complex128) []float64
}

// GeneratorGroup is the synchronous machine group
type GeneratorGroup interface {
	Len() int
	// StateBlock returns the offset and length of unit i's states in x
	StateBlock(index int) (start, size int, err error)
	MechanicalPower(index int) (float64, error)
	SetMechanicalPower(index int, p float64) error
	Speed(x []float64, v []complex128) []float64
	Current(x []float64, v []complex128) []complex128
}

// LineGroup is the transmission line group
type LineGroup interface {
	Len() int
	Names() []string
	// Disconnect and Reconnect wrap ErrLineNotFound for unknown names
	Disconnect(name string) error
	Reconnect(name string) error
	Flows(x []float64, v []complex128) []LineFlow
}

// LineFlow is the power flow through one line, seen from both ends
type LineFlow struct {
	PFrom float64
	QFrom float64
	PTo   float64
	QTo   float64
}

// TransformerGroup is the tap-changing transformer group
type TransformerGroup interface {
	Len() int
	RatioFrom(index int) (float64, error)
	SetRatioFrom(index int, ratio float64) error
	CurrentFrom(x []float64, v []complex128) []complex128
	CurrentTo(x []float64, v []complex128) []complex128
}

// Linearization is a small-signal model around the current operating point
type Linearization interface {
	Linearize() error
	EigenvalueDecomposition() error
	Eigenvalues() []complex128
	// RightEigenvectors is indexed [state][mode]
	RightEigenvectors() [][]complex128
	ModeIndices(categories []string, dampingThreshold float64) ([]int, error)
}

// Mode categories understood by ModeIndices
const (
	ModeElectromechanical = "em"
)
