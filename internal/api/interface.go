package api

import (
	"context"

	"github.com/mattjoyce/askbridge/internal/bridge"
	"github.com/mattjoyce/askbridge/internal/ledger"
)

//go:generate mockgen -destination=mocks/mock_api.go -package=mocks github.com/mattjoyce/askbridge/internal/api Executor,Recorder

// Executor runs one worker invocation per call.
type Executor interface {
	Execute(ctx context.Context, message string) (*bridge.Result, error)
}

// Recorder persists invocation metadata.
type Recorder interface {
	Record(ctx context.Context, e ledger.Entry) error
}
