package logfmt

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mailsift/mailsift/go/task"
	log "github.com/sirupsen/logrus"
)

// maxLogElts bounds list renderings: at most this many elements are
// printed, with "..." appended on truncation.
const maxLogElts = 7

// Write renders the configured log format against the finalized task
// and emits exactly one info-level record. Emission is suppressed when
// the no-log flag is set or no format is configured.
func Write(t *task.Task) {
	if t.Cfg == nil || t.Cfg.LogFormat == "" || t.Flags&task.FlagNoLog != 0 {
		return
	}

	var f, err = Cached(t.Cfg.LogFormat)
	if err != nil {
		log.WithFields(t.LogFields()).WithError(err).Error("invalid log format")
		return
	}

	log.Info(f.Render(t))
}

// Render evaluates the format against a task.
func (f Format) Render(t *task.Task) string {
	var buf strings.Builder

	for _, it := range f {
		switch it.Type {
		case ItemString:
			buf.WriteString(it.Data)

		case ItemScript:
			var fn = t.Hooks.LogScripts[it.Data]
			if fn == nil {
				log.WithFields(t.LogFields()).WithField("script", it.Data).
					Error("unknown log script")
				continue
			}
			var s, err = fn(t)
			if err != nil {
				log.WithFields(t.LogFields()).WithError(err).
					Error("call to log function failed")
				continue
			}
			buf.WriteString(s)

		default:
			if it.Flags&FlagCondition != 0 && !checkCondition(t, it.Type) {
				continue
			}
			writeVariable(&buf, t, it)
		}
	}
	return buf.String()
}

// checkCondition reports whether the item's source is present and
// non-sentinel. Unlisted types are unconditionally true.
func checkCondition(t *task.Task, typ ItemType) bool {
	switch typ {
	case ItemMID:
		return t.MessageID != "" && t.MessageID != "undef"
	case ItemQID:
		return t.QueueID != "" && t.QueueID != "undef"
	case ItemUser:
		return t.User != ""
	case ItemIP:
		return t.FromAddr.IsValid()
	case ItemSMTPRcpt, ItemSMTPRcpts:
		return len(t.RcptEnvelope) > 0
	case ItemMIMERcpt, ItemMIMERcpts:
		return len(t.RcptMime) > 0
	case ItemSMTPFrom:
		return t.FromEnvelope != nil
	case ItemMIMEFrom:
		return len(t.FromMime) > 0
	}
	return true
}

func writeVariable(buf *strings.Builder, t *task.Task, it Item) {
	var value string

	switch it.Type {
	case ItemMID:
		value = orUndef(t.MessageID)
	case ItemQID:
		value = orUndef(t.QueueID)
	case ItemUser:
		value = orUndef(t.User)
	case ItemIP:
		if t.FromAddr.IsValid() {
			value = t.FromAddr.String()
		} else {
			value = "undef"
		}
	case ItemLen:
		value = strconv.Itoa(len(t.Msg))
	case ItemDNSReq:
		value = strconv.FormatUint(uint64(t.DNSRequests), 10)
	case ItemTimeReal:
		value = formatElapsed(t.TimeReal, task.Ticks(), clockRes(t))
	case ItemTimeVirtual:
		value = formatElapsed(t.TimeVirtual, task.VirtualTicks(), clockRes(t))
	case ItemSMTPFrom:
		if t.FromEnvelope != nil {
			value = t.FromEnvelope.Addr
		}
	case ItemMIMEFrom:
		value = renderMailboxes(t.FromMime, 1)
	case ItemSMTPRcpt:
		value = renderAddrs(t.RcptEnvelope, 1)
	case ItemSMTPRcpts:
		value = renderAddrs(t.RcptEnvelope, 0)
	case ItemMIMERcpt:
		value = renderMailboxes(t.RcptMime, 1)
	case ItemMIMERcpts:
		value = renderMailboxes(t.RcptMime, 0)
	default:
		value = metricVariable(t, it)
	}

	if value == "" {
		return
	}
	writeVar(buf, value, it)
}

// writeVar emits the resolved value, substituting it for each "$" of
// the item's content template when one is present.
func writeVar(buf *strings.Builder, value string, it Item) {
	if !it.HasData {
		buf.WriteString(value)
		return
	}
	for i := 0; i < len(it.Data); i++ {
		if it.Data[i] == '$' {
			buf.WriteString(value)
		} else {
			buf.WriteByte(it.Data[i])
		}
	}
}

func metricVariable(t *task.Task, it Item) string {
	var mres = t.Results[task.DefaultMetric]

	switch it.Type {
	case ItemIsSpam:
		switch {
		case t.IsSkipped():
			return "S"
		case mres != nil && mres.Action == task.ActionReject:
			return "T"
		default:
			return "F"
		}
	case ItemAction:
		if mres != nil {
			return mres.Action.String()
		}
	case ItemScores:
		if mres != nil {
			return fmt.Sprintf("%.2f/%.2f",
				mres.Score, mres.ActionsLimits[task.ActionReject])
		}
	case ItemSymbols:
		if mres != nil {
			return renderSymbols(mres, it.Flags)
		}
	}
	return ""
}

// renderSymbols emits the comma-joined symbol names sorted by |score|
// descending, ties broken by name ascending.
func renderSymbols(mres *task.MetricResult, flags Flag) string {
	var sorted = make([]*task.Symbol, 0, len(mres.Symbols))
	for _, sym := range mres.Symbols {
		sorted = append(sorted, sym)
	}
	sort.Slice(sorted, func(i, j int) bool {
		var wi, wj = math.Abs(sorted[i].Score), math.Abs(sorted[j].Score)
		if wi == wj {
			return sorted[i].Name < sorted[j].Name
		}
		return wi > wj
	})

	var buf strings.Builder
	for i, sym := range sorted {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(sym.Name)

		if flags&FlagSymbolsScores != 0 {
			fmt.Fprintf(&buf, "(%.2f)", sym.Score)
		}
		if flags&FlagSymbolsParams != 0 {
			buf.WriteByte('{')
			for j, opt := range sym.Options {
				if j >= maxLogElts {
					buf.WriteString("...;")
					break
				}
				buf.WriteString(opt)
				buf.WriteByte(';')
			}
			buf.WriteByte('}')
		}
	}
	return buf.String()
}

func renderAddrs(addrs []*task.EmailAddress, limit int) string {
	var out = make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Addr)
	}
	return renderList(out, limit)
}

func renderMailboxes(mbs []task.Mailbox, limit int) string {
	var out = make([]string, 0, len(mbs))
	for _, mb := range mbs {
		out = append(out, mb.Addr)
	}
	return renderList(out, limit)
}

// renderList joins up to limit elements (all of them when limit is
// zero), printing at most maxLogElts and appending "..." when the cap
// truncates the list.
func renderList(elts []string, limit int) string {
	if limit <= 0 || limit > len(elts) {
		limit = len(elts)
	}

	var truncated = limit > maxLogElts
	if truncated {
		limit = maxLogElts
	}

	var buf strings.Builder
	for i := 0; i < limit; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(elts[i])
	}
	if truncated {
		buf.WriteString(",...")
	}
	return buf.String()
}

func orUndef(s string) string {
	if s == "" {
		return "undef"
	}
	return s
}

func clockRes(t *task.Task) int {
	if t.Cfg == nil {
		return 3
	}
	return t.Cfg.ClockRes
}

func formatElapsed(start, now float64, res int) string {
	if res < 0 {
		res = 0
	}
	var elapsed = now - start
	if elapsed < 0 {
		elapsed = 0
	}
	return strconv.FormatFloat(elapsed, 'f', res, 64)
}
