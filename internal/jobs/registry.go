// Package jobs assembles the job kinds every isolated context understands.
package jobs

import (
	"github.com/GriffinCanCode/booster/internal/jobs/poll"
	"github.com/GriffinCanCode/booster/internal/jobs/socketrelay"
	"github.com/GriffinCanCode/booster/internal/worker"
)

// NewRegistry returns a registry holding socket-relay and poll-client.
func NewRegistry() *worker.Registry {
	reg := worker.NewRegistry()
	if err := socketrelay.Register(reg); err != nil {
		panic(err)
	}
	if err := poll.Register(reg); err != nil {
		panic(err)
	}
	return reg
}
