package api

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks github.com/mattjoyce/crewgate/internal/api JobService,ToolService

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mattjoyce/crewgate/internal/jobs"
	"github.com/mattjoyce/crewgate/internal/tools"
)

// JobService is the job registry as the API sees it.
type JobService interface {
	Get(id string) (jobs.Info, error)
	Wait(ctx context.Context, id string, timeout time.Duration) (*jobs.WaitResult, error)
	Kill(id string) (jobs.Info, error)
	List(filter jobs.Filter, limit int) []jobs.Info
	Len() int
}

// ToolService runs named tools.
type ToolService interface {
	List() []tools.Tool
	Call(ctx context.Context, tool string, args json.RawMessage) (*tools.Result, error)
}
