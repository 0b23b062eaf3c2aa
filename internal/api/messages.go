package api

import (
	"errors"

	"github.com/mattjoyce/askbridge/internal/bridge"
)

// Response texts returned to the client.
const (
	MsgNoMessage   = "Error: No message received."
	MsgNoResponse  = "Error: No response from worker"
	MsgSpawnFailed = "Error: Failed to spawn worker process."
	MsgTimeout     = "Error: Worker process timeout."

	debugInfoSeparator = "\n\nDebug info:\n"
)

// ResponseText maps an invocation outcome onto the text sent back in
// AskResponse.
func ResponseText(res *bridge.Result, err error) string {
	if err != nil {
		var spawnErr *bridge.SpawnError
		var timeoutErr *bridge.TimeoutError
		switch {
		case errors.As(err, &spawnErr):
			return MsgSpawnFailed
		case errors.As(err, &timeoutErr):
			return MsgTimeout
		default:
			return "Error: " + err.Error()
		}
	}
	if res == nil {
		return MsgNoResponse
	}

	switch res.Kind {
	case bridge.KindWorkerFailure:
		return res.Stderr
	case bridge.KindEmpty:
		if res.Stderr != "" {
			return MsgNoResponse + debugInfoSeparator + res.Stderr
		}
		return MsgNoResponse
	default:
		return res.Answer()
	}
}
