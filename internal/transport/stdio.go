package transport

import (
	"io"
	"os"
)

// stdioRWC reads from an io.Pipe fed by os.Stdin and writes to os.Stdout.
//
// The io.Pipe indirection (rather than wrapping os.Stdin directly) mirrors
// the teacher's internal/lspserver stdioRWC: closing os.Stdin from another
// goroutine does not reliably unblock a concurrent read on every platform,
// but closing the pipe writer does.
type stdioRWC struct {
	pr *io.PipeReader
	pw *io.PipeWriter
}

func (s *stdioRWC) Read(p []byte) (int, error)  { return s.pr.Read(p) }
func (s *stdioRWC) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (s *stdioRWC) Close() error {
	_ = s.pw.Close()
	return s.pr.Close()
}

// Stdio returns an io.ReadWriteCloser bridging the process's stdin/stdout,
// for use as the client-facing transport (spec.md §6).
func Stdio() io.ReadWriteCloser {
	pr, pw := io.Pipe()
	go func() { _, _ = io.Copy(pw, os.Stdin) }()
	return &stdioRWC{pr: pr, pw: pw}
}
