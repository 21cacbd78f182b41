// Package console implements the kernel's byte sink/source collaborator —
// an unbuffered put_byte writer paired with a blocking get_byte reader.
// On real hardware this would be a UART; hosted, it wraps any io.Reader
// and io.Writer (stdin/stdout by default, a net.Conn for telnet-style
// access, or an in-memory pipe in tests).
package console

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// Console is safe for concurrent use: writes from the boot banner
// and reads from the shell's input loop never need to interleave byte by
// byte, but PutByte/PutString take a lock anyway to keep output lines from
// tearing when both run concurrently.
type Console struct {
	mu  sync.Mutex
	w   io.Writer
	r   *bufio.Reader
}

// New wraps w for output and r for blocking input.
func New(w io.Writer, r io.Reader) *Console {
	return &Console{w: w, r: bufio.NewReader(r)}
}

// PutByte writes a single byte to the sink.
func (c *Console) PutByte(b byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.w.Write([]byte{b})
}

// PutString writes s to the sink unbuffered (one Write call).
func (c *Console) PutString(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.w, s)
}

// Printf formats and writes to the sink.
func (c *Console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

// PutDecimal writes v in base-10 ASCII.
func (c *Console) PutDecimal(v uint32) {
	c.PutString(strconv.FormatUint(uint64(v), 10))
}

// PutHex writes v in lowercase hex, 0x-prefixed.
func (c *Console) PutHex(v uint32) {
	c.PutString("0x" + strconv.FormatUint(uint64(v), 16))
}

// GetByte blocks until one byte is available, or returns an error once the
// underlying reader is exhausted or closed (EOF on stdin, connection drop).
func (c *Console) GetByte() (byte, error) {
	return c.r.ReadByte()
}

// Writer exposes the console as a plain io.Writer for collaborators that
// only need PrintStatus-style dumps (memory.Allocator, processmgr.Manager,
// processmgr.Scheduler all accept this shape).
func (c *Console) Writer() io.Writer { return writerFunc(c.PutString) }

type writerFunc func(string)

func (f writerFunc) Write(p []byte) (int, error) {
	f(string(p))
	return len(p), nil
}
