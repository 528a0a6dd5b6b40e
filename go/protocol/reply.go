package protocol

import (
	"encoding/json"
	"io"

	"github.com/mailsift/mailsift/go/logfmt"
	"github.com/mailsift/mailsift/go/task"
	log "github.com/sirupsen/logrus"
)

// Writer is the default reply writer. It emits the task's audit log
// line and, when an output stream is attached, a JSON reply summary.
type Writer struct {
	Out io.Writer
}

var _ task.ReplyWriter = &Writer{}

type symbolReply struct {
	Score   float64  `json:"score"`
	Options []string `json:"options,omitempty"`
}

type reply struct {
	MessageID string `json:"message-id"`
	IsSkipped bool   `json:"is_skipped,omitempty"`

	Error string `json:"error,omitempty"`
	Kind  string `json:"error_kind,omitempty"`

	Action        string                 `json:"action,omitempty"`
	Score         float64                `json:"score"`
	RequiredScore float64                `json:"required_score"`
	Symbols       map[string]symbolReply `json:"symbols,omitempty"`
}

// WriteReply finalizes the task: one audit log record, then either an
// error reply carrying the task error's kind and message, or the
// normal result reply.
func (w *Writer) WriteReply(t *task.Task) {
	logfmt.Write(t)

	if w.Out == nil {
		return
	}

	var r = reply{MessageID: t.MessageID, IsSkipped: t.IsSkipped()}

	if t.Err != nil {
		r.Error = t.Err.Message
		r.Kind = t.Err.Kind.String()
	} else if mres, ok := t.Results[task.DefaultMetric]; ok {
		r.Action = mres.Action.String()
		r.Score = mres.Score
		r.RequiredScore = mres.ActionsLimits[task.ActionReject]
		r.Symbols = make(map[string]symbolReply, len(mres.Symbols))
		for name, sym := range mres.Symbols {
			r.Symbols[name] = symbolReply{Score: sym.Score, Options: sym.Options}
		}
	}

	if err := json.NewEncoder(w.Out).Encode(&r); err != nil {
		log.WithFields(t.LogFields()).WithError(err).Error("failed to write reply")
	}
}
