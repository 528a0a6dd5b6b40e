package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrincipalRecipientPrecedence(t *testing.T) {
	// No recipient data at all.
	var tk = New(nil, Hooks{})
	require.Empty(t, tk.PrincipalRecipient())
	tk.Free()

	// MIME recipients are the last resort.
	tk = New(nil, Hooks{})
	tk.RcptMime = []Mailbox{{Addr: "Mime@Example.com"}}
	require.Equal(t, "mime@example.com", tk.PrincipalRecipient())
	tk.Free()

	// Envelope recipients win over MIME.
	tk = New(nil, Hooks{})
	tk.RcptMime = []Mailbox{{Addr: "mime@example.com"}}
	tk.AddRecipient(NewEmailAddress("Envelope@Example.com"))
	require.Equal(t, "envelope@example.com", tk.PrincipalRecipient())
	tk.Free()

	// deliver-to wins over everything.
	tk = New(nil, Hooks{})
	tk.AddRecipient(NewEmailAddress("envelope@example.com"))
	tk.DeliverTo = "Deliver@Example.com"
	require.Equal(t, "deliver@example.com", tk.PrincipalRecipient())
	tk.Free()
}

func TestPrincipalRecipientIsCached(t *testing.T) {
	var tk = New(nil, Hooks{})
	defer tk.Free()

	tk.DeliverTo = "User@Example.com"

	var first = tk.PrincipalRecipient()
	require.Equal(t, "user@example.com", first)

	// A later, higher-precedence change does not evict the cache, and
	// consecutive calls return the identical value.
	tk.DeliverTo = "other@example.com"
	var second = tk.PrincipalRecipient()
	require.Equal(t, first, second)
	require.Equal(t, first, tk.Pool.GetVariable("recipient"))
}
