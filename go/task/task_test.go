package task

import (
	"testing"

	"github.com/mailsift/mailsift/go/config"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	var cfg = config.New()
	var tk = New(cfg, Hooks{})

	require.Equal(t, "undef", tk.MessageID)
	require.Equal(t, "undef", tk.QueueID)
	require.Equal(t, FlagMIME|FlagJSON, tk.Flags)
	require.Equal(t, ActionMax, tk.PreResult.Action)
	require.Zero(t, tk.ProcessedStages)
	require.False(t, tk.TV.IsZero())

	// The task retains one config reference until freed.
	require.Equal(t, int32(2), cfg.Refs())
	tk.Free()
	require.Equal(t, int32(1), cfg.Refs())
}

func TestNewPassAllFromConfig(t *testing.T) {
	var cfg = config.New()
	cfg.CheckAllFilters = true

	var tk = New(cfg, Hooks{})
	defer tk.Free()

	require.NotZero(t, tk.Flags&FlagPassAll)
}

func TestFreeReleasesAddresses(t *testing.T) {
	var tk = New(nil, Hooks{})

	var from = NewEmailAddress("sender@example.com").Ref()
	tk.SetSender(from)

	var rcpt = NewEmailAddress("rcpt@example.com").Ref()
	tk.AddRecipient(rcpt)

	require.Equal(t, int32(2), from.Refs())
	require.Equal(t, int32(2), rcpt.Refs())

	tk.Free()
	require.Equal(t, int32(1), from.Refs())
	require.Equal(t, int32(1), rcpt.Refs())

	// Free is idempotent.
	tk.Free()
	require.Equal(t, int32(1), from.Refs())
}

func TestFreeRunsPoolDestructors(t *testing.T) {
	var tk = New(nil, Hooks{})

	var order []string
	tk.Pool.AddDestructor(func() { order = append(order, "first") })
	tk.Pool.AddDestructor(func() { order = append(order, "second") })

	tk.Free()
	require.Equal(t, []string{"second", "first"}, order)
}

func TestRequestHeadersAreCaseInsensitive(t *testing.T) {
	var tk = New(nil, Hooks{})
	defer tk.Free()

	tk.SetRequestHeader("Shm-Offset", "16")

	var v, ok = tk.RequestHeader("shm-offset")
	require.True(t, ok)
	require.Equal(t, "16", v)

	v, ok = tk.RequestHeader("SHM-OFFSET")
	require.True(t, ok)
	require.Equal(t, "16", v)

	_, ok = tk.RequestHeader("file")
	require.False(t, ok)
}

func TestResultAndAction(t *testing.T) {
	var tk = New(nil, Hooks{})
	defer tk.Free()

	require.Equal(t, ActionNoAction, tk.Action())

	var mres = tk.Result()
	require.Same(t, mres, tk.Result())

	mres.AddSymbol("TEST_SYM", 2.5, "opt1")
	mres.AddSymbol("OTHER_SYM", 1.0)
	require.InDelta(t, 3.5, mres.Score, 1e-9)

	// Re-adding a symbol replaces its score contribution.
	mres.AddSymbol("TEST_SYM", 1.5)
	require.InDelta(t, 2.5, mres.Score, 1e-9)

	mres.Action = ActionReject
	require.Equal(t, ActionReject, tk.Action())
}

func TestMarkLearn(t *testing.T) {
	var tk = New(nil, Hooks{})
	defer tk.Free()

	tk.MarkLearn(true, "bayes")
	require.NotZero(t, tk.Flags&FlagLearnSpam)
	require.Zero(t, tk.Flags&FlagLearnHam)
	require.Equal(t, "bayes", tk.Classifier)

	tk.MarkLearn(false, "bayes")
	require.NotZero(t, tk.Flags&FlagLearnHam)
}

func TestEmailAddressParsing(t *testing.T) {
	var a = NewEmailAddress("User@Example.COM")
	require.Equal(t, "User", a.User)
	require.Equal(t, "Example.COM", a.Domain)
	require.Equal(t, int32(1), a.Refs())

	var b = NewEmailAddress("not-an-address")
	require.Empty(t, b.User)
	require.Empty(t, b.Domain)
}
