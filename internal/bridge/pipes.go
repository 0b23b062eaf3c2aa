package bridge

import (
	"fmt"
	"os"
)

// pipes holds both ends of the worker's stdin, stdout and stderr.
// Child ends are handed to the process and closed in the parent right after
// launch; parent ends are closed when the invocation is over.
type pipes struct {
	stdinR, stdinW   *os.File
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
}

func openPipes() (*pipes, error) {
	p := &pipes{}
	var err error

	if p.stdinR, p.stdinW, err = os.Pipe(); err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	if p.stdoutR, p.stdoutW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if p.stderrR, p.stderrW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	return p, nil
}

func (p *pipes) closeChildEnds() {
	closeFiles(p.stdinR, p.stdoutW, p.stderrW)
}

// closeParentEnds unblocks any pending read or write on our side.
func (p *pipes) closeParentEnds() {
	closeFiles(p.stdinW, p.stdoutR, p.stderrR)
}

func (p *pipes) closeAll() {
	p.closeChildEnds()
	p.closeParentEnds()
}

// closeFiles ignores nil files and double closes.
func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
