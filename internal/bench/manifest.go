package bench

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/trailbench/trailbench/internal/grader"
	"github.com/trailbench/trailbench/internal/metric"
	"github.com/trailbench/trailbench/internal/protocol"
	"github.com/trailbench/trailbench/internal/task"
)

// builtinTrajectoryMetrics maps manifest names to the builtin metrics.
var builtinTrajectoryMetrics = map[string]metric.TrajectoryMetric{
	"turns":           metric.Turns,
	"tool_calls":      metric.ToolCalls,
	"approx_tokens":   metric.ApproxTokens,
	"files_read":      metric.FilesRead,
	"files_edited":    metric.FilesEdited,
	"tool_kind_stats": metric.ToolKindStats,
}

type manifest struct {
	ID            string         `yaml:"id"`
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	Version       string         `yaml:"version"`
	Containerfile string         `yaml:"containerfile"`
	Tasks         []manifestTask `yaml:"tasks"`

	Graders []struct {
		ID        string   `yaml:"id"`
		Command   []string `yaml:"command"`
		Cwd       string   `yaml:"cwd"`
		Toolchain string   `yaml:"toolchain"`
	} `yaml:"graders"`

	PassAt []struct {
		ID     string `yaml:"id"`
		Grader string `yaml:"grader"`
		K      int    `yaml:"k"`
	} `yaml:"pass_at"`

	TrajectoryMetrics []string `yaml:"trajectory_metrics"`
}

type manifestTask struct {
	ID            string            `yaml:"id"`
	Name          string            `yaml:"name"`
	Description   string            `yaml:"description"`
	Root          string            `yaml:"root"`
	Prompt        string            `yaml:"prompt"`
	Containerfile string            `yaml:"containerfile"`
	Workdir       string            `yaml:"workdir"`
	Env           map[string]string `yaml:"env"`
}

// ManifestBenchmark is a benchmark declared in a YAML manifest: text prompts,
// command graders, and the builtin metrics.
type ManifestBenchmark struct {
	metadata          Metadata
	containerfile     string
	tasks             []*task.Task
	graders           grader.Registry
	outcomeMetrics    metric.OutcomeRegistry
	trajectoryMetrics metric.TrajectoryRegistry
}

// LoadManifest reads a benchmark manifest. Task root paths are resolved
// relative to the manifest's directory.
func LoadManifest(path string) (*ManifestBenchmark, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return parseManifest(data, filepath.Dir(path))
}

func parseManifest(data []byte, baseDir string) (*ManifestBenchmark, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("manifest is missing an id")
	}
	if len(m.Tasks) == 0 {
		return nil, fmt.Errorf("manifest %s declares no tasks", m.ID)
	}

	b := &ManifestBenchmark{
		metadata: Metadata{
			ID:          m.ID,
			Name:        m.Name,
			Description: m.Description,
			Version:     m.Version,
		},
		containerfile: m.Containerfile,
	}
	if b.containerfile == "" {
		b.containerfile = DefaultContainerfile
	}

	for _, mt := range m.Tasks {
		if mt.ID == "" {
			return nil, fmt.Errorf("manifest %s has a task without an id", m.ID)
		}
		if mt.Prompt == "" {
			return nil, fmt.Errorf("task %s has no prompt", mt.ID)
		}
		root := mt.Root
		if root != "" && !filepath.IsAbs(root) {
			root = filepath.Join(baseDir, root)
		}
		b.tasks = append(b.tasks, &task.Task{
			Metadata: task.Metadata{
				ID:          mt.ID,
				Name:        mt.Name,
				Description: mt.Description,
			},
			RootPath:         root,
			Prompt:           task.Static(protocol.Text(mt.Prompt)),
			Containerfile:    mt.Containerfile,
			ContainerWorkdir: mt.Workdir,
			ContainerEnv:     mt.Env,
		})
	}

	for _, g := range m.Graders {
		if g.ID == "" || len(g.Command) == 0 {
			return nil, fmt.Errorf("manifest %s has a grader without id or command", m.ID)
		}
		b.graders = b.graders.With(g.ID, &grader.Command{Cmd: g.Command, Cwd: g.Cwd, Toolchain: g.Toolchain})
	}

	for _, p := range m.PassAt {
		if _, ok := b.graders.Get(p.Grader); !ok {
			return nil, fmt.Errorf("pass_at metric %s references unknown grader %s", p.ID, p.Grader)
		}
		k := p.K
		if k <= 0 {
			k = 1
		}
		id := p.ID
		if id == "" {
			id = fmt.Sprintf("pass@%d", k)
		}
		b.outcomeMetrics = b.outcomeMetrics.With(id, metric.NewPassAtK(p.Grader, k))
	}

	for _, name := range m.TrajectoryMetrics {
		builtin, ok := builtinTrajectoryMetrics[name]
		if !ok {
			return nil, fmt.Errorf("unknown trajectory metric %q", name)
		}
		b.trajectoryMetrics = b.trajectoryMetrics.With(name, builtin)
	}

	return b, nil
}

func (b *ManifestBenchmark) Metadata() Metadata                           { return b.metadata }
func (b *ManifestBenchmark) LoadTasks() ([]*task.Task, error)             { return b.tasks, nil }
func (b *ManifestBenchmark) Containerfile() string                        { return b.containerfile }
func (b *ManifestBenchmark) Graders() grader.Registry                     { return b.graders }
func (b *ManifestBenchmark) OutcomeMetrics() metric.OutcomeRegistry       { return b.outcomeMetrics }
func (b *ManifestBenchmark) TrajectoryMetrics() metric.TrajectoryRegistry { return b.trajectoryMetrics }
