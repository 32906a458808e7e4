package migrate

// Kind identifies a migratable resource kind. The string value doubles as
// the key in session items and ID maps.
type Kind string

const (
	KindDataset    Kind = "dataset"
	KindExample    Kind = "example"
	KindExperiment Kind = "experiment"
	KindRun        Kind = "run"
	KindFeedback   Kind = "feedback"
	KindQueue      Kind = "queue"
	KindPrompt     Kind = "prompt"
	KindRule       Kind = "rule"
	KindChart      Kind = "chart"

	// Auxiliary maps populated alongside the main kinds.
	KindProject Kind = "project"
	KindSection Kind = "section"
	KindTrace   Kind = "trace"
)

// Kinds lists the user-selectable kinds in migration phase order.
var Kinds = []Kind{
	KindDataset, KindExperiment, KindRun, KindFeedback,
	KindPrompt, KindQueue, KindRule, KindChart,
}
