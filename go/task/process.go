package task

import (
	"github.com/mailsift/mailsift/go/metrics"
	log "github.com/sirupsen/logrus"
)

// Process drives the pipeline over the requested stage mask. It
// returns pending=true when the current stage registered asynchronous
// events with the session: the stage bit stays unset, and a later
// call re-enters the same stage. A non-nil error marks the task
// terminal.
//
// Nested calls from within a stage handler return immediately with no
// stage progress.
func (t *Task) Process(requested Stage) (pending bool, err error) {
	if t.Flags&FlagProcessing != 0 {
		return false, nil
	}

	for {
		if t.IsProcessed() {
			return false, nil
		}

		if t.PreResult.Action != ActionMax {
			// A pre-filter forced a verdict: skip everything else.
			t.ProcessedStages |= StageDone
			log.WithFields(t.LogFields()).Infof(
				"skip filters, as pre-filter returned %s action", t.PreResult.Action)
			return false, nil
		}

		t.Flags |= FlagProcessing
		var st = t.selectStage(requested)
		err = t.runStage(st)

		if t.IsSkipped() {
			t.ProcessedStages |= StageDone
		}
		t.Flags &^= FlagProcessing

		if err != nil {
			t.ProcessedStages |= StageDone
			log.WithFields(t.LogFields()).WithField("stage", st).
				WithError(err).Debug("task processing failed")
			return false, err
		}
		if t.IsProcessed() {
			log.WithFields(t.LogFields()).Debug("task is processed")
			return false, nil
		}

		if t.Hooks.Session != nil && t.Hooks.Session.EventsPending() != 0 {
			// The stage is incomplete until its events drain.
			log.WithFields(t.LogFields()).WithField("stage", st).
				Debug("need more work on stage")
			return true, nil
		}

		log.WithFields(t.LogFields()).WithField("stage", st).Debug("completed stage")
		t.ProcessedStages |= st
		metrics.StagesCompleted.WithLabelValues(st.String()).Inc()
		t.Checkpoint = nil
	}
}

func (t *Task) runStage(st Stage) error {
	switch st {
	case StageReadMessage:
		if t.Hooks.Parser == nil {
			return nil
		}
		if err := t.Hooks.Parser.Parse(t); err != nil {
			var e = WrapError(ParseError, err)
			if t.Err == nil {
				t.Err = e
			}
			return e
		}

	case StagePreFilters:
		if t.Hooks.Scripts != nil {
			if err := t.Hooks.Scripts.CallPreFilters(t); err != nil {
				log.WithFields(t.LogFields()).WithError(err).Error("pre-filter error")
			}
		}

	case StageFilters:
		if t.Hooks.Rules == nil {
			return nil
		}
		if err := t.Hooks.Rules.ProcessSymbols(t); err != nil {
			var e = WrapError(InternalError, err)
			if t.Err == nil {
				t.Err = e
			}
			return e
		}

	case StageClassifiersPre, StageClassifiers, StageClassifiersPost:
		if t.IsEmpty() || t.Hooks.Classifier == nil {
			return nil
		}
		if err := t.Hooks.Classifier.Classify(t, st); err != nil {
			log.WithFields(t.LogFields()).WithError(err).Error("classify error")
		}

	case StageComposites:
		if t.Hooks.Composites != nil {
			t.Hooks.Composites.MakeComposites(t)
		}

	case StagePostFilters:
		if t.Hooks.Scripts != nil {
			if err := t.Hooks.Scripts.CallPostFilters(t); err != nil {
				log.WithFields(t.LogFields()).WithError(err).Error("post-filter error")
			}
		}
		if t.Flags&FlagLearnAuto != 0 && !t.IsEmpty() && t.Hooks.Learner != nil {
			t.Hooks.Learner.CheckAutolearn(t)
		}

	case StageLearnPre, StageLearn, StageLearnPost:
		if t.Flags&(FlagLearnSpam|FlagLearnHam) == 0 || t.Hooks.Learner == nil {
			return nil
		}
		if t.Err != nil {
			return nil
		}
		var spam = t.Flags&FlagLearnSpam != 0
		if err := t.Hooks.Learner.Learn(t, spam, t.Classifier, st); err != nil {
			if t.Flags&FlagLearnAuto == 0 {
				t.Err = WrapError(LearnError, err)
			}
			log.WithFields(t.LogFields()).WithError(err).Error("learn error")
			t.ProcessedStages |= StageDone
		}

	case StageDone:
		t.ProcessedStages |= StageDone
	}

	return nil
}
