package device

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

const maxEventLine = 1 << 20

// readEvents parses a text/event-stream body. Data lines of one event are
// joined with newlines and delivered when the blank separator line arrives.
// Event names, ids and retry hints are ignored.
func readEvents(r io.Reader, onMessage func(data []byte)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxEventLine)

	var data bytes.Buffer
	pending := false

	for scanner.Scan() {
		line := scanner.Bytes()

		if len(line) == 0 {
			if pending {
				onMessage(bytes.Clone(data.Bytes()))
			}
			data.Reset()
			pending = false
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value, found := bytes.Cut(line, []byte(":"))
		if found && len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		if string(field) != "data" {
			continue
		}
		if pending {
			data.WriteByte('\n')
		}
		data.Write(value)
		pending = true
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("event stream: %w", err)
	}
	return nil
}
