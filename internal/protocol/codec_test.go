package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload *Payload
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name:    "plain message",
			payload: &Payload{Message: "What is the capital of France?"},
			checkFn: func(t *testing.T, output string) {
				if output != "{\"message\":\"What is the capital of France?\"}\n" {
					t.Errorf("unexpected encoding: %q", output)
				}
			},
		},
		{
			name:    "quotes and shell metacharacters survive",
			payload: &Payload{Message: `say "hi" && rm -rf / ; $(whoami)`},
			checkFn: func(t *testing.T, output string) {
				var got Payload
				if err := json.Unmarshal([]byte(output), &got); err != nil {
					t.Fatalf("output is not valid JSON: %v", err)
				}
				if got.Message != `say "hi" && rm -rf / ; $(whoami)` {
					t.Errorf("message mangled: %q", got.Message)
				}
			},
		},
		{
			name:    "html is not escaped",
			payload: &Payload{Message: "<b>bold</b> & more"},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, "<b>bold</b> & more") {
					t.Errorf("expected raw html characters, got %q", output)
				}
			},
		},
		{
			name:    "empty message still encodes",
			payload: &Payload{},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"message":""`) {
					t.Errorf("missing message field: %q", output)
				}
			},
		},
		{
			name:    "nil payload",
			payload: nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodePayload(&buf, tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodePayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestEncodePayload_WriteError(t *testing.T) {
	err := EncodePayload(failingWriter{}, &Payload{Message: "hi"})
	if err == nil {
		t.Fatal("expected error from failing writer")
	}
	if !strings.Contains(err.Error(), "broken pipe") {
		t.Errorf("expected wrapped write error, got %v", err)
	}
}
