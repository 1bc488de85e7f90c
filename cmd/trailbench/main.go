// Command trailbench evaluates autonomous coding agents against benchmark
// tasks in isolated containers.
package main

import "github.com/trailbench/trailbench/internal/cli"

func main() {
	cli.Execute()
}
