package task

import "strings"

// recipientVar is the pool variable caching the principal recipient.
const recipientVar = "recipient"

// PrincipalRecipient selects the single canonical recipient of the
// message: a previously cached value, then deliver-to, then the first
// envelope recipient, then the first MIME recipient. The value is
// lowercased, copied into the pool, and cached; consecutive calls
// return the identical string.
func (t *Task) PrincipalRecipient() string {
	if v := t.Pool.GetVariable(recipientVar); v != nil {
		return v.(string)
	}

	if t.DeliverTo != "" {
		return t.cachePrincipalRecipient(t.DeliverTo)
	}
	if len(t.RcptEnvelope) > 0 && t.RcptEnvelope[0].Addr != "" {
		return t.cachePrincipalRecipient(t.RcptEnvelope[0].Addr)
	}
	if len(t.RcptMime) > 0 && t.RcptMime[0].Addr != "" {
		return t.cachePrincipalRecipient(t.RcptMime[0].Addr)
	}
	return ""
}

func (t *Task) cachePrincipalRecipient(rcpt string) string {
	var lower = strings.ToLower(rcpt)
	var buf = t.Pool.Alloc(len(lower))
	copy(buf, lower)

	var lc = string(buf)
	t.Pool.SetVariable(recipientVar, lc)
	return lc
}
