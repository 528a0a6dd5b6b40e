// Package protocol holds the core-facing pieces of the wire protocol
// layer: control-chunk handling and the default reply writer. Request
// parsing and reply encoding beyond this live with the listener.
package protocol

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/mailsift/mailsift/go/task"
	log "github.com/sirupsen/logrus"
)

// controlDoc is the subset of control-chunk keys applied directly to
// task state. The full document is merged into the task settings.
type controlDoc struct {
	From      string   `json:"from"`
	Rcpt      []string `json:"rcpt"`
	User      string   `json:"user"`
	DeliverTo string   `json:"deliver_to"`
	Subject   string   `json:"subject"`
	PassAll   bool     `json:"pass_all"`
	NoLog     bool     `json:"no_log"`
}

// HandleControl merges a control-chunk configuration document into
// the task. Known keys update task state; the whole document is
// merge-patched into the task's settings object.
func HandleControl(t *task.Task, chunk []byte) error {
	var doc controlDoc
	if err := json.Unmarshal(chunk, &doc); err != nil {
		return fmt.Errorf("parsing control chunk: %w", err)
	}

	if doc.From != "" {
		t.SetSender(task.NewEmailAddress(doc.From))
	}
	for _, rcpt := range doc.Rcpt {
		t.AddRecipient(task.NewEmailAddress(rcpt))
	}
	if doc.User != "" {
		t.User = doc.User
	}
	if doc.DeliverTo != "" {
		t.DeliverTo = doc.DeliverTo
	}
	if doc.Subject != "" {
		t.Subject = doc.Subject
	}
	if doc.PassAll {
		t.Flags |= task.FlagPassAll
	}
	if doc.NoLog {
		t.Flags |= task.FlagNoLog
	}

	if t.Settings == nil {
		t.Settings = append(json.RawMessage(nil), chunk...)
	} else {
		var merged, err = jsonpatch.MergePatch(t.Settings, chunk)
		if err != nil {
			return fmt.Errorf("merging control chunk into settings: %w", err)
		}
		t.Settings = merged
	}

	log.WithFields(t.LogFields()).Debug("applied control chunk")
	return nil
}
