package task

// Contracts consumed by the pipeline from its external collaborators.
// The core drives these; it does not implement them.

// MessageParser parses the task's message window into parts, text
// parts, headers, and MIME address lists.
type MessageParser interface {
	Parse(t *Task) error
}

// ScriptHost invokes registered scripted pre- and post-filters with
// the task as argument. Script errors are logged by the pipeline and
// never fail the task.
type ScriptHost interface {
	CallPreFilters(t *Task) error
	CallPostFilters(t *Task) error
}

// RulesEngine evaluates symbols and rules against the parsed message,
// attaching Symbols to the task's metric results.
type RulesEngine interface {
	ProcessSymbols(t *Task) error
}

// Classifier is the statistical subsystem. It receives the stage bit
// under which it runs, so pre/main/post sub-stage identity remains
// observable to the implementation.
type Classifier interface {
	Classify(t *Task, stage Stage) error
}

// CompositeEngine folds composite symbols over the metric results.
type CompositeEngine interface {
	MakeComposites(t *Task)
}

// Learner feeds the message to the statistical subsystem's learning
// path and checks autolearn eligibility.
type Learner interface {
	Learn(t *Task, spam bool, classifier string, stage Stage) error
	CheckAutolearn(t *Task)
}

// Session is the external cooperative event coordinator. The pipeline
// consults it after each stage: a non-zero pending count suspends the
// task until the session calls Fin again.
type Session interface {
	EventsPending() int
}

// ReplyWriter produces the wire reply for a finished task.
type ReplyWriter interface {
	WriteReply(t *Task)
}

// ScriptFunc is a registered scripted log callback. Its return value
// is appended to the audit log line.
type ScriptFunc func(t *Task) (string, error)

// Hooks binds a task to its collaborators. Unset hooks are skipped by
// the stages that would invoke them.
type Hooks struct {
	Parser     MessageParser
	Scripts    ScriptHost
	Rules      RulesEngine
	Classifier Classifier
	Composites CompositeEngine
	Learner    Learner
	Session    Session
	Reply      ReplyWriter

	// FinCallback, when set, replaces Reply for finished tasks.
	FinCallback func(t *Task)

	// LogScripts is the scripted callback registry consulted by the
	// log formatter.
	LogScripts map[string]ScriptFunc
}
