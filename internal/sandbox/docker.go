package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/trailbench/trailbench/internal/agent"
)

// DockerBuilder builds container sandboxes against the local Docker daemon.
type DockerBuilder struct {
	cli        *client.Client
	keepImages bool
	logger     *slog.Logger
}

// NewDockerBuilder creates a builder and verifies the daemon is accessible.
func NewDockerBuilder(keepImages bool, logger *slog.Logger) (*DockerBuilder, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	// Fail fast if the daemon is unreachable.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker daemon not accessible (is Docker running?): %w", err)
	}

	return &DockerBuilder{cli: cli, keepImages: keepImages, logger: logger}, nil
}

// Close closes the underlying Docker client.
func (b *DockerBuilder) Close() error {
	return b.cli.Close()
}

// Build builds an image from the containerfile and returns a sandbox backed
// by it. The container itself is not started until Run.
func (b *DockerBuilder) Build(ctx context.Context, containerfile string, opts BuildOptions) (Sandbox, error) {
	tag := opts.Tag
	temporary := tag == ""
	if temporary {
		tag = "trailbench-tmp-" + uuid.NewString()[:8]
	}
	tag = strings.ToLower(tag)

	buildContext, err := tarBuildContext(opts.ContextDir, containerfile)
	if err != nil {
		return nil, &Fault{Op: "build", Err: err}
	}

	buildArgs := make(map[string]*string, len(opts.BuildArgs))
	for key, value := range opts.BuildArgs {
		v := value
		buildArgs[key] = &v
	}

	resp, err := b.cli.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: "Containerfile",
		BuildArgs:  buildArgs,
		Remove:     true,
	})
	if err != nil {
		return nil, &Fault{Op: "build", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := drainBuildOutput(resp.Body); err != nil {
		return nil, &Fault{Op: "build", Err: err}
	}

	return &DockerSandbox{
		cli:           b.cli,
		imageTag:      tag,
		temporary:     temporary && !b.keepImages,
		containerName: "trailbench-" + uuid.NewString()[:8],
		logger:        b.logger,
	}, nil
}

// drainBuildOutput consumes the daemon's build event stream and surfaces the
// first build error.
func drainBuildOutput(body io.Reader) error {
	type buildEvent struct {
		Stream string `json:"stream"`
		Error  string `json:"error"`
	}

	decoder := json.NewDecoder(body)
	for {
		var event buildEvent
		if err := decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading build output: %w", err)
		}
		if event.Error != "" {
			return fmt.Errorf("image build failed: %s", event.Error)
		}
	}
}

// tarBuildContext packs the context directory plus the containerfile into a
// tar stream for the daemon.
func tarBuildContext(contextDir, containerfile string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if contextDir != "" {
		root, err := filepath.Abs(contextDir)
		if err != nil {
			return nil, fmt.Errorf("resolving context dir: %w", err)
		}
		err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if rel == "." || rel == "Containerfile" {
				return nil
			}
			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			header.Name = filepath.ToSlash(rel)
			if err := tw.WriteHeader(header); err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			_, err = io.Copy(tw, f)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("packing build context: %w", err)
		}
	}

	content := []byte(containerfile)
	if err := tw.WriteHeader(&tar.Header{Name: "Containerfile", Mode: 0644, Size: int64(len(content))}); err != nil {
		return nil, err
	}
	if _, err := tw.Write(content); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// DockerSandbox is a Sandbox backed by one Docker container.
type DockerSandbox struct {
	cli           *client.Client
	imageTag      string
	temporary     bool
	containerName string
	containerID   string
	logger        *slog.Logger
}

// Run starts the container, executes fn, and tears everything down on every
// exit path, including the image when it was temporary.
func (s *DockerSandbox) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	created, err := s.cli.ContainerCreate(ctx, &container.Config{
		Image: s.imageTag,
		Cmd:   []string{"sleep", "infinity"},
	}, nil, nil, nil, s.containerName)
	if err != nil {
		return &Fault{Op: "create", Err: err}
	}
	s.containerID = created.ID

	defer func() {
		// Teardown uses a background context so cancellation cannot leak
		// containers.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.logger.Debug("removing sandbox container", "container", s.containerName)
		if err := s.cli.ContainerRemove(cleanupCtx, s.containerID, container.RemoveOptions{Force: true}); err != nil {
			s.logger.Warn("failed to remove sandbox container", "container", s.containerName, "error", err)
		}
		if s.temporary {
			if _, err := s.cli.ImageRemove(cleanupCtx, s.imageTag, image.RemoveOptions{}); err != nil {
				s.logger.Warn("failed to remove sandbox image", "image", s.imageTag, "error", err)
			}
		}
	}()

	if err := s.cli.ContainerStart(ctx, s.containerID, container.StartOptions{}); err != nil {
		return &Fault{Op: "start", Err: err}
	}

	return fn(ctx)
}

// execOptions configures one in-container command execution.
type execOptions struct {
	cwd   string
	env   map[string]string
	stdin string
	hasIn bool
}

// exec runs a command in the container and returns its combined output.
func (s *DockerSandbox) exec(ctx context.Context, cmd []string, opts execOptions) (CommandResult, error) {
	execResp, err := s.cli.ContainerExecCreate(ctx, s.containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdin:  opts.hasIn,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   opts.cwd,
		Env:          envList(opts.env),
	})
	if err != nil {
		return CommandResult{}, fmt.Errorf("creating exec: %w", err)
	}

	attachResp, err := s.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return CommandResult{}, fmt.Errorf("attaching to exec: %w", err)
	}
	defer attachResp.Close()

	if opts.hasIn {
		if _, err := io.WriteString(attachResp.Conn, opts.stdin); err != nil {
			return CommandResult{}, fmt.Errorf("writing exec stdin: %w", err)
		}
		if err := attachResp.CloseWrite(); err != nil {
			return CommandResult{}, fmt.Errorf("closing exec stdin: %w", err)
		}
	}

	// stdcopy blocks until EOF and ignores context cancellation, so run it
	// in a goroutine and close the connection if the context fires.
	var output bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&output, &output, attachResp.Reader)
		copyDone <- copyErr
	}()

	select {
	case copyErr := <-copyDone:
		if copyErr != nil {
			return CommandResult{}, fmt.Errorf("reading exec output: %w", copyErr)
		}
	case <-ctx.Done():
		attachResp.Close()
		<-copyDone
		return CommandResult{ExitCode: -1, Output: output.String(), Truncated: true}, ctx.Err()
	}

	exitCode, err := s.execExitCode(execResp.ID)
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{ExitCode: exitCode, Output: output.String()}, nil
}

// execExitCode polls until the exec finishes and returns its exit code.
func (s *DockerSandbox) execExitCode(execID string) (int, error) {
	inspectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		inspect, err := s.cli.ContainerExecInspect(inspectCtx, execID)
		if err != nil {
			return 0, fmt.Errorf("inspecting exec: %w", err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-inspectCtx.Done():
			return 0, fmt.Errorf("timeout waiting for exec exit code")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// ReadFile returns the full content of a file.
func (s *DockerSandbox) ReadFile(ctx context.Context, path string) (string, error) {
	result, err := s.exec(ctx, []string{"cat", path}, execOptions{})
	if err != nil {
		return "", &Fault{Op: "read_file", Err: err}
	}
	if result.ExitCode != 0 {
		return "", &Fault{Op: "read_file", Err: fmt.Errorf("reading %s: %s", path, strings.TrimSpace(result.Output))}
	}
	return result.Output, nil
}

// ReadFileRange returns a line window of a file.
func (s *DockerSandbox) ReadFileRange(ctx context.Context, path string, line, limit int) (string, error) {
	content, err := s.ReadFile(ctx, path)
	if err != nil {
		return "", err
	}
	return SliceLines(content, line, limit), nil
}

// WriteFile replaces a file's content via tee.
func (s *DockerSandbox) WriteFile(ctx context.Context, path, content string) error {
	result, err := s.exec(ctx, []string{"tee", path}, execOptions{stdin: content, hasIn: true})
	if err != nil {
		return &Fault{Op: "write_file", Err: err}
	}
	if result.ExitCode != 0 {
		return &Fault{Op: "write_file", Err: fmt.Errorf("writing %s: %s", path, strings.TrimSpace(result.Output))}
	}
	return nil
}

// Exists reports whether a path exists in the sandbox.
func (s *DockerSandbox) Exists(ctx context.Context, path string) (bool, error) {
	result, err := s.exec(ctx, []string{"test", "-e", path}, execOptions{})
	if err != nil {
		return false, &Fault{Op: "exists", Err: err}
	}
	return result.ExitCode == 0, nil
}

// UploadFile copies a local file into the sandbox.
func (s *DockerSandbox) UploadFile(ctx context.Context, localPath, remotePath string) error {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return &Fault{Op: "upload_file", Err: err}
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	header := &tar.Header{
		Name: filepath.Base(remotePath),
		Mode: 0644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(header); err != nil {
		return &Fault{Op: "upload_file", Err: err}
	}
	if _, err := tw.Write(content); err != nil {
		return &Fault{Op: "upload_file", Err: err}
	}
	if err := tw.Close(); err != nil {
		return &Fault{Op: "upload_file", Err: err}
	}

	dir := filepath.ToSlash(filepath.Dir(remotePath))
	if result, err := s.exec(ctx, []string{"mkdir", "-p", dir}, execOptions{}); err != nil || result.ExitCode != 0 {
		return &Fault{Op: "upload_file", Err: fmt.Errorf("creating %s", dir)}
	}
	if err := s.cli.CopyToContainer(ctx, s.containerID, dir, &buf, container.CopyToContainerOptions{}); err != nil {
		return &Fault{Op: "upload_file", Err: err}
	}
	return nil
}

// DownloadFile copies a sandbox file to the host.
func (s *DockerSandbox) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	reader, _, err := s.cli.CopyFromContainer(ctx, s.containerID, remotePath)
	if err != nil {
		return &Fault{Op: "download_file", Err: err}
	}
	defer func() { _ = reader.Close() }()

	tr := tar.NewReader(reader)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &Fault{Op: "download_file", Err: err}
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
			return &Fault{Op: "download_file", Err: err}
		}
		f, err := os.Create(localPath)
		if err != nil {
			return &Fault{Op: "download_file", Err: err}
		}
		if _, err := io.Copy(f, tr); err != nil {
			_ = f.Close()
			return &Fault{Op: "download_file", Err: err}
		}
		if err := f.Close(); err != nil {
			return &Fault{Op: "download_file", Err: err}
		}
	}
}

// Terminal prepares a command; it starts on Wait or Stream.
func (s *DockerSandbox) Terminal(cmd []string, opts TerminalOptions) Terminal {
	return &dockerTerminal{sandbox: s, cmd: cmd, opts: opts}
}

// dockerTerminal is one command execution in the sandbox.
type dockerTerminal struct {
	sandbox *DockerSandbox
	cmd     []string
	opts    TerminalOptions

	mu     sync.Mutex
	closer func()
}

func (t *dockerTerminal) setCloser(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closer = fn
}

// Wait runs the command to completion and returns its result.
func (t *dockerTerminal) Wait(ctx context.Context) (CommandResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.setCloser(cancel)

	result, err := t.sandbox.exec(runCtx, t.cmd, execOptions{cwd: t.opts.Cwd, env: t.opts.Env})
	if err != nil {
		return result, &Fault{Op: "terminal", Err: err}
	}
	return result, nil
}

// Kill terminates the running command.
func (t *dockerTerminal) Kill() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closer != nil {
		t.closer()
	}
	return nil
}

// Stream starts the command and yields combined output chunks.
func (t *dockerTerminal) Stream(ctx context.Context) (<-chan string, error) {
	execResp, err := t.sandbox.cli.ContainerExecCreate(ctx, t.sandbox.containerID, container.ExecOptions{
		Cmd:          t.cmd,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   t.opts.Cwd,
		Env:          envList(t.opts.Env),
	})
	if err != nil {
		return nil, &Fault{Op: "terminal", Err: err}
	}
	attachResp, err := t.sandbox.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, &Fault{Op: "terminal", Err: err}
	}
	t.setCloser(attachResp.Close)

	pr, pw := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(pw, pw, attachResp.Reader)
		_ = pw.CloseWithError(copyErr)
		attachResp.Close()
	}()

	chunks := make(chan string)
	go func() {
		defer close(chunks)
		buf := make([]byte, 4096)
		for {
			n, readErr := pr.Read(buf)
			if n > 0 {
				select {
				case chunks <- string(buf[:n]):
				case <-ctx.Done():
					_ = pr.Close()
					return
				}
			}
			if readErr != nil {
				return
			}
		}
	}()
	return chunks, nil
}

// LaunchSession starts the agent process in the container and dials a session
// connection over its stdio.
func (s *DockerSandbox) LaunchSession(ctx context.Context, client *agent.Client, dialer agent.Dialer, cmd []string, opts SessionOptions) (agent.Connection, error) {
	execResp, err := s.cli.ContainerExecCreate(ctx, s.containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdin:  true,
		AttachStdout: true,
		WorkingDir:   opts.Cwd,
		Env:          envList(opts.Env),
	})
	if err != nil {
		return nil, &Fault{Op: "launch_session", Err: err}
	}

	attachResp, err := s.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, &Fault{Op: "launch_session", Err: err}
	}

	// With a non-TTY exec the reader is stdcopy-framed; demux it into a
	// plain byte stream for the dialer.
	pr, pw := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(pw, io.Discard, attachResp.Reader)
		_ = pw.CloseWithError(copyErr)
	}()

	conn, err := dialer.Dial(ctx, client, &execStdin{conn: attachResp.Conn, closeWrite: attachResp.CloseWrite}, pr)
	if err != nil {
		attachResp.Close()
		return nil, &Fault{Op: "launch_session", Err: err}
	}
	return conn, nil
}

// execStdin adapts a hijacked exec connection to the agent process's stdin.
type execStdin struct {
	conn       net.Conn
	closeWrite func() error
}

func (w *execStdin) Write(p []byte) (int, error) {
	return w.conn.Write(p)
}

func (w *execStdin) Close() error {
	return w.closeWrite()
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	list := make([]string, 0, len(env))
	for key, value := range env {
		list = append(list, key+"="+value)
	}
	return list
}
