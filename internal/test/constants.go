package test

// DefaultNamespace is the default namespace used in tests.
const DefaultNamespace = "test"

// Fixture node names, one per Role, used across unit and integration tests.
const (
	Host1Name      = "h1"
	Host2Name      = "h2"
	SwitchName     = "sw1"
	ControllerName = "ctrl1"
)

// DefaultTestImage is the image used for fixture nodes that don't care
// which image they run, keeping test StatefulSets cheap to schedule.
const DefaultTestImage = "nicolaka/netshoot"

// DefaultTestLabelSelector matches the label every fixture pod carries,
// mirroring topology.DefaultLabelKey/DefaultLabelValue.
const DefaultTestLabelSelector = "app=k8s-node"
