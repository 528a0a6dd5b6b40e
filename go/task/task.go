// Package task implements the per-message scanning task: its state,
// its processing pipeline, and its lifecycle.
//
// A Task is created by the listener for each inbound message, loaded
// by the message package, driven to completion by Process/Fin under
// the session's event loop, and freed after the reply is written.
package task

import (
	"encoding/json"
	"net/netip"
	"strings"
	"time"

	"github.com/mailsift/mailsift/go/config"
	"github.com/mailsift/mailsift/go/mempool"
	"github.com/mailsift/mailsift/go/metrics"
	log "github.com/sirupsen/logrus"
)

// Flag is one bit of the task's flag set.
type Flag uint32

const (
	// FlagMIME marks MIME message input.
	FlagMIME Flag = 1 << iota
	// FlagJSON requests JSON output for the reply.
	FlagJSON
	// FlagSkip marks a task whose scan was skipped.
	FlagSkip
	// FlagEmpty marks a zero-length message.
	FlagEmpty
	// FlagHasControl marks a message carrying a control-chunk prefix.
	FlagHasControl
	// FlagFile marks a message backed by a mapped file or shm region.
	FlagFile
	// FlagNoLog suppresses the per-task audit log line.
	FlagNoLog
	// FlagPassAll keeps all filters running after a verdict.
	FlagPassAll
	// FlagProcessing is set only within a single Process call.
	FlagProcessing
	FlagLearnSpam
	FlagLearnHam
	FlagLearnAuto
)

// Task is a single in-flight message scan.
type Task struct {
	Cfg   *config.Config
	Hooks Hooks

	MessageID string
	QueueID   string
	User      string
	DeliverTo string
	Subject   string

	Flags           Flag
	ProcessedStages Stage
	PreResult       PreResult

	// Msg is the message byte window. It borrows either the inline
	// input or a mapped region owned by the task pool, and remains
	// valid from a successful load until the pool is destroyed.
	Msg []byte
	// MessageLen is the declared message length when a control chunk
	// precedes the message bytes.
	MessageLen uint64
	// Digest is a keyed hash of the loaded message window.
	Digest uint64

	Results map[string]*MetricResult

	// Header maps are keyed by lowercased names; use the accessor
	// methods for case-insensitive reads and writes.
	RawHeaders     map[string]string
	RequestHeaders map[string]string
	ReplyHeaders   map[string]string

	Parts     []*MimePart
	TextParts []*TextPart
	Received  []*ReceivedHeader

	FromEnvelope *EmailAddress
	RcptEnvelope []*EmailAddress
	FromMime     []Mailbox
	RcptMime     []Mailbox

	FromAddr   netip.Addr
	ClientAddr netip.Addr

	// TimeReal and TimeVirtual are the monotonic-real and CPU clocks
	// captured at construction; TV is the wall timestamp.
	TimeReal    float64
	TimeVirtual float64
	TV          time.Time

	DNSRequests uint32

	// Classifier names the classifier a learn request targets.
	Classifier string

	// Settings is the task's merged control-chunk settings document.
	Settings json.RawMessage

	// Checkpoint is stashed by stage handlers that resume after
	// asynchronous events; the pipeline clears it on forward progress.
	Checkpoint interface{}

	Err *Error

	Pool *mempool.Pool

	timeout *time.Timer
	freed   bool
}

// New creates a task against the shared configuration. One config
// reference is retained until the task is freed.
func New(cfg *config.Config, hooks Hooks) *Task {
	var t = &Task{
		Cfg:       cfg,
		Hooks:     hooks,
		MessageID: "undef",
		QueueID:   "undef",
		Flags:     FlagMIME | FlagJSON,
		PreResult: PreResult{Action: ActionMax},

		Results:        make(map[string]*MetricResult),
		RawHeaders:     make(map[string]string),
		RequestHeaders: make(map[string]string),
		ReplyHeaders:   make(map[string]string),

		TimeReal:    ticks(),
		TimeVirtual: virtualTicks(),
		TV:          time.Now(),

		Pool: mempool.New(),
	}

	if cfg != nil {
		cfg.Retain()
		if cfg.CheckAllFilters {
			t.Flags |= FlagPassAll
		}
	}
	return t
}

// Free releases the task: envelope address references, the config
// reference, and finally the pool with its registered destructors.
func (t *Task) Free() {
	if t == nil || t.freed {
		return
	}
	t.freed = true

	log.WithFields(t.LogFields()).Debug("freeing task")

	for _, addr := range t.RcptEnvelope {
		addr.Unref()
	}
	if t.FromEnvelope != nil {
		t.FromEnvelope.Unref()
	}
	if t.timeout != nil {
		t.timeout.Stop()
	}
	if t.Cfg != nil {
		t.Cfg.Release()
	}
	t.Pool.Destroy()
}

// LogFields returns the structured fields identifying this task.
func (t *Task) LogFields() log.Fields {
	return log.Fields{"task": t.MessageID, "qid": t.QueueID}
}

// IsProcessed reports whether the terminal stage bit is set.
func (t *Task) IsProcessed() bool { return t.ProcessedStages&StageDone != 0 }

// IsSkipped reports whether the scan was skipped.
func (t *Task) IsSkipped() bool { return t.Flags&FlagSkip != 0 }

// IsEmpty reports whether the message has no body.
func (t *Task) IsEmpty() bool { return t.Flags&FlagEmpty != 0 }

// Sender returns the envelope sender address, if any.
func (t *Task) Sender() *EmailAddress { return t.FromEnvelope }

// SetSender replaces the envelope sender, adjusting references.
func (t *Task) SetSender(addr *EmailAddress) {
	if t.FromEnvelope != nil {
		t.FromEnvelope.Unref()
	}
	t.FromEnvelope = addr
}

// AddRecipient appends an envelope recipient. The task takes over the
// caller's reference.
func (t *Task) AddRecipient(addr *EmailAddress) {
	t.RcptEnvelope = append(t.RcptEnvelope, addr)
}

// MarkLearn flags the task for learning as spam or ham with the named
// classifier.
func (t *Task) MarkLearn(spam bool, classifier string) {
	if spam {
		t.Flags |= FlagLearnSpam
	} else {
		t.Flags |= FlagLearnHam
	}
	t.Classifier = classifier
}

// RecordDNSRequest accounts one DNS request made for this task.
func (t *Task) RecordDNSRequest() {
	t.DNSRequests++
	metrics.DNSRequests.Inc()
}

// Result returns the default metric result, creating it on first use.
func (t *Task) Result() *MetricResult {
	var mres, ok = t.Results[DefaultMetric]
	if !ok {
		mres = NewMetricResult()
		t.Results[DefaultMetric] = mres
	}
	return mres
}

// Action returns the default metric's decided action, or ActionNoAction
// when no result exists yet.
func (t *Task) Action() Action {
	if mres, ok := t.Results[DefaultMetric]; ok {
		return mres.Action
	}
	return ActionNoAction
}

// SetRequestHeader records a request header under its folded name.
func (t *Task) SetRequestHeader(name, value string) {
	t.RequestHeaders[strings.ToLower(name)] = value
}

// RequestHeader looks up a request header case-insensitively.
func (t *Task) RequestHeader(name string) (string, bool) {
	var v, ok = t.RequestHeaders[strings.ToLower(name)]
	return v, ok
}

// SetReplyHeader records a reply header under its folded name.
func (t *Task) SetReplyHeader(name, value string) {
	t.ReplyHeaders[strings.ToLower(name)] = value
}

// SetRawHeader records a parsed message header under its folded name.
func (t *Task) SetRawHeader(name, value string) {
	t.RawHeaders[strings.ToLower(name)] = value
}

// RawHeader looks up a parsed message header case-insensitively.
func (t *Task) RawHeader(name string) (string, bool) {
	var v, ok = t.RawHeaders[strings.ToLower(name)]
	return v, ok
}

// SetTimeout arms the task's timeout timer. On fire the task is
// marked terminal and fin runs, draining the reply. In-flight async
// callbacks must tolerate a terminal task and return without further
// mutation.
func (t *Task) SetTimeout(d time.Duration, fin func(*Task) bool) {
	if t.timeout != nil {
		t.timeout.Stop()
	}
	t.timeout = time.AfterFunc(d, func() {
		log.WithFields(t.LogFields()).Warn("task timed out")
		t.ProcessedStages |= StageDone
		fin(t)
	})
	t.Pool.AddDestructor(func() { t.timeout.Stop() })
}

// reply hands the finished task to the caller-supplied finalize
// callback, or to the protocol writer.
func (t *Task) reply() {
	metrics.TasksCompleted.WithLabelValues(t.Action().String()).Inc()

	if t.Hooks.FinCallback != nil {
		t.Hooks.FinCallback(t)
		return
	}
	if t.Hooks.Reply != nil {
		t.Hooks.Reply.WriteReply(t)
	}
}

// Fin is the session finalizer. It returns true when the session
// should terminate the task: either the task is already terminal, or
// processing finished or failed within this call. A false return
// yields back to the event loop for one more iteration.
func (t *Task) Fin() bool {
	if t.IsProcessed() {
		t.reply()
		return true
	}

	if _, err := t.Process(StagesAll); err != nil {
		t.reply()
		return true
	}

	if t.IsProcessed() {
		t.reply()
		return true
	}
	return false
}
