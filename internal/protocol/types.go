// Package protocol defines the JSON document askbridge writes to a worker's stdin.
package protocol

// Payload is the single document sent to a worker per invocation.
// Workers read it from stdin until EOF and answer in plain text on stdout.
type Payload struct {
	Message string `json:"message"`
}
