package message

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mailsift/mailsift/go/task"
	"github.com/stretchr/testify/require"
)

func TestLoadInline(t *testing.T) {
	var tk = task.New(nil, task.Hooks{})
	defer tk.Free()

	require.NoError(t, Load(tk, nil, []byte("From: a@b\r\n\r\nbody")))
	require.Equal(t, []byte("From: a@b\r\n\r\nbody"), tk.Msg)
	require.Zero(t, tk.Flags&task.FlagEmpty)
	require.Zero(t, tk.Flags&task.FlagFile)
	require.NotZero(t, tk.Digest)
}

func TestLoadInlineEmpty(t *testing.T) {
	var tk = task.New(nil, task.Hooks{})
	defer tk.Free()

	require.NoError(t, Load(tk, nil, nil))
	require.Empty(t, tk.Msg)
	require.NotZero(t, tk.Flags&task.FlagEmpty)

	// The empty task still processes to terminal.
	var _, err = tk.Process(task.StagesAll)
	require.NoError(t, err)
	require.True(t, tk.IsProcessed())
}

func TestLoadFile(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "x.eml")
	require.NoError(t, os.WriteFile(path, []byte("Subject: hi\r\n\r\nC"), 0o644))

	var tk = task.New(nil, task.Hooks{})
	require.NoError(t, Load(tk, map[string]string{"File": path}, nil))

	require.Equal(t, []byte("Subject: hi\r\n\r\nC"), tk.Msg)
	require.NotZero(t, tk.Flags&task.FlagFile)

	// Freeing the task releases the mapping.
	tk.Free()
}

func TestLoadFileQuotedAndEscaped(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "with space.eml")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	// The header value is URL-encoded and quoted.
	var encoded = fmt.Sprintf("%q", filepath.Join(dir, "with%20space.eml"))

	var tk = task.New(nil, task.Hooks{})
	defer tk.Free()

	require.NoError(t, Load(tk, map[string]string{"path": encoded}, nil))
	require.Equal(t, []byte("hello"), tk.Msg)
}

func TestLoadFileErrors(t *testing.T) {
	var tk = task.New(nil, task.Hooks{})
	defer tk.Free()

	var err = Load(tk, map[string]string{"file": "/nonexistent/mail.eml"}, nil)
	require.Error(t, err)
	require.NotNil(t, tk.Err)
	require.Equal(t, task.ProtocolError, tk.Err.Kind)
}

func TestLoadShm(t *testing.T) {
	if _, err := os.Stat(shmDir); err != nil {
		t.Skipf("no %s: %v", shmDir, err)
	}

	var name = fmt.Sprintf("mailsift-test-%d", os.Getpid())
	var full = filepath.Join(shmDir, name)
	if err := os.WriteFile(full, []byte("0123456789"), 0o600); err != nil {
		t.Skipf("cannot create shm segment: %v", err)
	}
	defer os.Remove(full)

	// Whole segment.
	var tk = task.New(nil, task.Hooks{})
	require.NoError(t, Load(tk, map[string]string{"shm": "/" + name}, nil))
	require.Equal(t, []byte("0123456789"), tk.Msg)
	require.NotZero(t, tk.Flags&task.FlagFile)
	tk.Free()

	// Offset and length window.
	tk = task.New(nil, task.Hooks{})
	require.NoError(t, Load(tk, map[string]string{
		"shm":        "/" + name,
		"shm-offset": "2",
		"shm-length": "5",
	}, nil))
	require.Equal(t, []byte("23456"), tk.Msg)
	tk.Free()

	// Out-of-range offset fails with a protocol error.
	tk = task.New(nil, task.Hooks{})
	var err = Load(tk, map[string]string{
		"shm":        "/" + name,
		"shm-offset": "100",
	}, nil)
	require.Error(t, err)
	require.Equal(t, task.ProtocolError, tk.Err.Kind)
	tk.Free()

	// Out-of-range length fails too.
	tk = task.New(nil, task.Hooks{})
	err = Load(tk, map[string]string{
		"shm":        "/" + name,
		"shm-length": "100",
	}, nil)
	require.Error(t, err)
	require.Equal(t, task.ProtocolError, tk.Err.Kind)
	tk.Free()

	// A missing segment is a protocol error.
	tk = task.New(nil, task.Hooks{})
	err = Load(tk, map[string]string{"shm": "/mailsift-test-missing"}, nil)
	require.Error(t, err)
	require.Equal(t, task.ProtocolError, tk.Err.Kind)
	tk.Free()
}

func TestLoadControlChunk(t *testing.T) {
	var control = `{"user":"joe","pass_all":true}`
	var body = "Subject: x\r\n\r\nbody"

	var tk = task.New(nil, task.Hooks{})
	defer tk.Free()

	tk.Flags |= task.FlagHasControl
	tk.MessageLen = uint64(len(body))

	require.NoError(t, Load(tk, nil, []byte(control+body)))
	require.Equal(t, []byte(body), tk.Msg)
	require.Equal(t, "joe", tk.User)
	require.NotZero(t, tk.Flags&task.FlagPassAll)
	require.JSONEq(t, control, string(tk.Settings))
}

func TestLoadControlChunkInvalidLength(t *testing.T) {
	var tk = task.New(nil, task.Hooks{})
	defer tk.Free()

	tk.Flags |= task.FlagHasControl
	tk.MessageLen = 100

	var err = Load(tk, nil, []byte("short"))
	require.Error(t, err)
	require.NotNil(t, tk.Err)
	require.Equal(t, task.ProtocolError, tk.Err.Kind)
	require.EqualError(t, tk.Err, "Invalid length")
}

func TestLoadControlChunkParseFailureIsNonFatal(t *testing.T) {
	var body = "body"

	var tk = task.New(nil, task.Hooks{})
	defer tk.Free()

	tk.Flags |= task.FlagHasControl
	tk.MessageLen = uint64(len(body))

	require.NoError(t, Load(tk, nil, []byte("{garbage"+body)))
	require.Equal(t, []byte(body), tk.Msg)
	require.Nil(t, tk.Err)
}

func TestNormalizePath(t *testing.T) {
	require.Equal(t, "/tmp/x.eml", normalizePath("/tmp/x.eml"))
	require.Equal(t, "/tmp/x.eml", normalizePath(`"/tmp/x.eml"`))
	require.Equal(t, "/tmp/a b.eml", normalizePath("/tmp/a%20b.eml"))
	require.Equal(t, "/tmp/100%", normalizePath("/tmp/100%"))
	require.Equal(t, `"`, normalizePath(`"`))
}
