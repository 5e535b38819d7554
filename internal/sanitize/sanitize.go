// Package sanitize turns raw terminal captures into readable text.
//
// Input is treated as opaque bytes and processed one line at a time. Control
// sequences are recognized by a small tokenizer instead of regular
// expressions:
//
//	BEL          0x07
//	CSI          ESC '[' params final, final in 0x40..0x7E
//	OSC (title)  ESC ']' payload BEL
//	two-byte     ESC followed by 0x40..0x5A, 0x5C or 0x5F
//
// A CSI or OSC sequence without its terminator on the same line is kept
// verbatim. After stripping, trailing whitespace and carriage returns before
// a line feed collapse into that line feed, and any other whitespace run
// containing a carriage return is replaced through its last carriage return
// by a single line feed.
package sanitize

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"shlog/internal/fsys"
)

const (
	bel = 0x07
	esc = 0x1b
	cr  = '\r'
	lf  = '\n'
)

// Line returns the sanitized form of one line, including its line feed if any.
func Line(line []byte) []byte {
	return normalizeEOL(stripControls(line))
}

// Copy sanitizes r into w line by line.
func Copy(w io.Writer, r io.Reader) error {
	br := bufio.NewReaderSize(r, 64*1024)
	bw := bufio.NewWriterSize(w, 64*1024)
	for {
		line, err := br.ReadBytes(lf)
		if len(line) > 0 {
			if _, werr := bw.Write(Line(line)); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

// File writes the sanitized form of rawPath to sanitizedPath unless
// sanitizedPath already exists, in which case it is trusted as is. It reports
// whether a new file was written.
func File(files fsys.FS, rawPath, sanitizedPath string) (bool, error) {
	if _, err := files.Stat(sanitizedPath); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", sanitizedPath, err)
	}

	in, err := files.Open(rawPath)
	if err != nil {
		return false, fmt.Errorf("open raw log: %w", err)
	}
	defer in.Close()

	err = fsys.WriteFileAtomic(files, sanitizedPath, func(w io.Writer) error {
		return Copy(w, in)
	})
	if err != nil {
		return false, fmt.Errorf("sanitize %s: %w", rawPath, err)
	}
	return true, nil
}

// --- tokenizer ---

func stripControls(line []byte) []byte {
	out := make([]byte, 0, len(line))
	for i := 0; i < len(line); {
		switch line[i] {
		case bel:
			i++
			continue
		case esc:
			if n := escapeLen(line[i:]); n > 0 {
				i += n
				continue
			}
		}
		out = append(out, line[i])
		i++
	}
	return out
}

// escapeLen returns the length of the control sequence starting at b[0],
// which is ESC, or 0 when no complete sequence starts there.
func escapeLen(b []byte) int {
	if len(b) < 2 {
		return 0
	}
	switch c := b[1]; {
	case c == '[':
		for j := 2; j < len(b) && b[j] != lf; j++ {
			if b[j] >= 0x40 && b[j] <= 0x7e {
				return j + 1
			}
		}
		return 0
	case c == ']':
		for j := 2; j < len(b) && b[j] != lf; j++ {
			if b[j] == bel {
				return j + 1
			}
		}
		return 0
	case c >= 0x40 && c <= 0x5a, c == 0x5c, c == 0x5f:
		return 2
	}
	return 0
}

// --- line endings ---

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

func normalizeEOL(line []byte) []byte {
	hasLF := len(line) > 0 && line[len(line)-1] == lf
	body := line
	if hasLF {
		end := len(line) - 1
		for end > 0 && isSpace(line[end-1]) {
			end--
		}
		body = line[:end]
	}

	out := make([]byte, 0, len(line))
	for i := 0; i < len(body); {
		if !isSpace(body[i]) {
			out = append(out, body[i])
			i++
			continue
		}
		j := i
		lastCR := -1
		for j < len(body) && isSpace(body[j]) {
			if body[j] == cr {
				lastCR = j
			}
			j++
		}
		if lastCR < 0 {
			out = append(out, body[i:j]...)
		} else {
			out = append(out, lf)
			out = append(out, body[lastCR+1:j]...)
		}
		i = j
	}
	if hasLF {
		out = append(out, lf)
	}
	return out
}
