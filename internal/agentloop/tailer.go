package agentloop

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Tailer reads newly appended lines from a growing log file, remembering
// its read offset across calls. It does not follow rotation/truncation
// beyond noticing the file shrank and restarting from the top, which is
// the simplest correct behavior for a polling tailer.
type Tailer struct {
	path   string
	offset int64
}

// NewTailer opens path for tailing, starting at its current end so only
// lines written after the agent starts are read.
func NewTailer(path string) (*Tailer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("agentloop: open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("agentloop: stat %s: %w", path, err)
	}
	return &Tailer{path: path, offset: info.Size()}, nil
}

// ReadNewLines returns any complete lines appended since the last call.
func (t *Tailer) ReadNewLines() ([]string, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("agentloop: open %s: %w", t.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < t.offset {
		t.offset = 0 // file truncated or rotated; restart from the top
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, err
	}

	var lines []string
	r := bufio.NewReader(f)
	read := t.offset
	for {
		line, err := r.ReadString('\n')
		if err == nil {
			lines = append(lines, strings.TrimSuffix(line, "\n"))
			read += int64(len(line))
			continue
		}
		if errors.Is(err, io.EOF) {
			// A trailing line with no newline yet is incomplete; leave it
			// unread so the next poll picks it up whole.
			break
		}
		return nil, err
	}
	t.offset = read
	return lines, nil
}
