// Package message resolves a task's message bytes from one of three
// physical sources: an inline buffer, a filesystem path, or a POSIX
// shared-memory segment. Mapped regions are registered on the task
// pool for unmapping; their lifetime outlives the parse and ends only
// when the task is freed.
package message

import (
	"path"
	"strconv"
	"strings"

	"github.com/mailsift/mailsift/go/metrics"
	"github.com/mailsift/mailsift/go/protocol"
	"github.com/mailsift/mailsift/go/task"
	"github.com/minio/highwayhash"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// shmDir is where Linux exposes POSIX shared-memory objects.
const shmDir = "/dev/shm"

// digestKey keys the message digest hash. It is fixed so digests are
// comparable across workers.
var digestKey = []byte("mailsift-task-digest-v1-00000000")

// Load resolves the message bytes for the task, checking request
// headers in shm → file/path → inline precedence. It must be called
// at most once per task. On failure the task error slot is set and
// the task must not be advanced further.
func Load(t *task.Task, headers map[string]string, inline []byte) error {
	for name, value := range headers {
		t.SetRequestHeader(name, value)
	}

	if tok, ok := t.RequestHeader("shm"); ok {
		return loadShm(t, tok)
	}

	var tok, ok = t.RequestHeader("file")
	if !ok {
		tok, ok = t.RequestHeader("path")
	}
	if ok {
		return loadFile(t, tok)
	}

	return loadInline(t, inline)
}

func loadShm(t *task.Task, tok string) error {
	var fp = normalizePath(tok)

	var fd, err = unix.Open(path.Join(shmDir, strings.TrimPrefix(fp, "/")), unix.O_RDONLY, 0o600)
	if err != nil {
		return fail(t, task.NewErrorf(task.ProtocolError,
			"cannot open shm segment (%s): %s", fp, err))
	}

	var st unix.Stat_t
	if err = unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return fail(t, task.NewErrorf(task.ProtocolError,
			"cannot stat shm segment (%s): %s", fp, err))
	}

	m, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		return fail(t, task.NewErrorf(task.ProtocolError,
			"cannot mmap shm segment (%s): %s", fp, err))
	}

	var size = uint64(st.Size)
	var offset, length = uint64(0), size

	if v, ok := t.RequestHeader("shm-offset"); ok {
		offset, _ = strconv.ParseUint(v, 10, 64)
		if offset > size {
			unix.Munmap(m)
			return fail(t, task.NewErrorf(task.ProtocolError,
				"invalid offset %d (%d available) for shm segment %s", offset, size, fp))
		}
	}
	if v, ok := t.RequestHeader("shm-length"); ok {
		length, _ = strconv.ParseUint(v, 10, 64)
		if length > size {
			unix.Munmap(m)
			return fail(t, task.NewErrorf(task.ProtocolError,
				"invalid length %d (%d available) for shm segment %s", length, size, fp))
		}
	}

	t.Pool.AddDestructor(func() { unix.Munmap(m) })

	var end = offset + length
	if end > size {
		end = size
	}
	t.Msg = m[offset:end]
	t.Flags |= task.FlagFile

	log.WithFields(t.LogFields()).WithFields(log.Fields{
		"shm":    fp,
		"size":   length,
		"offset": offset,
	}).Info("loaded message from shared memory")

	return finishLoad(t)
}

func loadFile(t *task.Task, tok string) error {
	var fp = normalizePath(tok)

	var st unix.Stat_t
	if err := unix.Stat(fp, &st); err != nil {
		return fail(t, task.NewErrorf(task.ProtocolError,
			"invalid file (%s): %s", fp, err))
	}

	var fd, err = unix.Open(fp, unix.O_RDONLY, 0)
	if err != nil {
		return fail(t, task.NewErrorf(task.ProtocolError,
			"cannot open file (%s): %s", fp, err))
	}

	m, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		return fail(t, task.NewErrorf(task.ProtocolError,
			"cannot mmap file (%s): %s", fp, err))
	}

	t.Pool.AddDestructor(func() { unix.Munmap(m) })

	t.Msg = m
	t.Flags |= task.FlagFile

	log.WithFields(t.LogFields()).WithField("file", fp).Info("loaded message from file")

	return finishLoad(t)
}

func loadInline(t *task.Task, inline []byte) error {
	t.Msg = inline

	log.WithFields(t.LogFields()).WithField("len", len(inline)).Debug("got inline input")

	if len(t.Msg) == 0 {
		t.Flags |= task.FlagEmpty
	}

	if t.Flags&task.FlagHasControl != 0 {
		// A control chunk of known length precedes the message bytes.
		if uint64(len(t.Msg)) < t.MessageLen {
			log.WithFields(t.LogFields()).WithFields(log.Fields{
				"declared": t.MessageLen,
				"total":    len(t.Msg),
			}).Warn("message has invalid message length")
			return fail(t, task.NewError(task.ProtocolError, "Invalid length"))
		}

		var controlLen = uint64(len(t.Msg)) - t.MessageLen
		if controlLen > 0 {
			if err := protocol.HandleControl(t, t.Msg[:controlLen]); err != nil {
				log.WithFields(t.LogFields()).WithError(err).
					Warn("processing of control chunk failed")
			}
			t.Msg = t.Msg[controlLen:]
		}
	}

	return finishLoad(t)
}

func finishLoad(t *task.Task) error {
	if len(t.Msg) > 0 {
		t.Digest = highwayhash.Sum64(t.Msg, digestKey)
		metrics.MessageBytes.Add(float64(len(t.Msg)))
	}
	return nil
}

func fail(t *task.Task, e *task.Error) error {
	t.Err = e
	return e
}

// normalizePath copies the header value into a PATH_MAX-bounded
// buffer (longer values are silently truncated by the copy), decodes
// URL escapes, and strips surrounding double quotes.
func normalizePath(tok string) string {
	if len(tok) > unix.PathMax-1 {
		tok = tok[:unix.PathMax-1]
	}

	var fp = decodeURL(tok)

	if len(fp) > 2 && fp[0] == '"' && fp[len(fp)-1] == '"' {
		fp = fp[1 : len(fp)-1]
	}
	return fp
}

// decodeURL resolves %XX escapes into a new string, passing malformed
// escapes through untouched.
func decodeURL(s string) string {
	if !strings.ContainsRune(s, '%') {
		return s
	}

	var out = make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if hi, lo := unhex(s[i+1]), unhex(s[i+2]); hi >= 0 && lo >= 0 {
				out = append(out, byte(hi<<4|lo))
				i += 2
				continue
			}
		}
		out = append(out, s[i])
	}
	return string(out)
}

func unhex(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}
