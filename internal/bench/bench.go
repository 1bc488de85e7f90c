// Package bench defines benchmarks: named collections of tasks with their
// graders and metrics.
package bench

import (
	"github.com/trailbench/trailbench/internal/grader"
	"github.com/trailbench/trailbench/internal/metric"
	"github.com/trailbench/trailbench/internal/task"
)

// Metadata identifies a benchmark.
type Metadata struct {
	ID          string
	Name        string
	Description string
	Version     string
}

// Benchmark supplies the tasks to evaluate and how to grade them.
type Benchmark interface {
	Metadata() Metadata

	// LoadTasks returns the benchmark's tasks in evaluation order.
	LoadTasks() ([]*task.Task, error)

	// Containerfile is the default image definition for tasks that do not
	// carry their own. It may contain the agent install placeholder.
	Containerfile() string

	Graders() grader.Registry
	OutcomeMetrics() metric.OutcomeRegistry
	TrajectoryMetrics() metric.TrajectoryRegistry
}

// DefaultContainerfile is used when a benchmark does not provide one. The
// placeholder is replaced with the agent's install block at build time.
const DefaultContainerfile = `FROM ubuntu:24.04

RUN apt-get update && apt-get install -y --no-install-recommends \
    ca-certificates curl git python3 \
    && rm -rf /var/lib/apt/lists/*

{agent_install}

WORKDIR /workspace
COPY . /workspace
`
