package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// EncodePayload serializes p as one JSON document followed by a newline and writes it to w.
// HTML characters are not escaped so the worker sees the message as typed.
func EncodePayload(w io.Writer, p *Payload) error {
	if p == nil {
		return fmt.Errorf("payload is nil")
	}

	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(p); err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	return nil
}
