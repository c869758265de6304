package agent

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// dockerShortIDLength trims a container ID to its conventional display
// length in log lines.
const dockerShortIDLength = 12

// DockerImageHandler builds a TaskHandler that runs image as a
// container, appending argv (the task's fixed prefix from
// computation.DockerImage) before the task's own Args payload, and
// blocks until the container exits. It is the Docker-backed counterpart
// to an in-process Func handler, adapted from the teacher's
// executeDockerContainer to run under a caller-supplied context instead
// of context.Background so the agent's Terminate RPC can cancel it.
func DockerImageHandler(image string, argv ...string) TaskHandler {
	return func(ctx context.Context, args, kwargs []byte) ([]byte, error) {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("docker client: %w", err)
		}
		defer cli.Close()

		reader, err := cli.ImagePull(ctx, image, types.ImagePullOptions{})
		if err != nil {
			return nil, fmt.Errorf("pull %s: %w", image, err)
		}
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()

		cmd := append(append([]string(nil), argv...), string(args))
		resp, err := cli.ContainerCreate(ctx, &container.Config{Image: image, Cmd: cmd}, nil, nil, nil, "")
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", image, err)
		}

		if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
			return nil, fmt.Errorf("start %s: %w", resp.ID[:dockerShortIDLength], err)
		}

		statusCh, errCh := cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
		select {
		case err := <-errCh:
			return nil, fmt.Errorf("wait %s: %w", resp.ID[:dockerShortIDLength], err)
		case status := <-statusCh:
			if status.StatusCode != 0 {
				return nil, fmt.Errorf("container %s exited %d", resp.ID[:dockerShortIDLength], status.StatusCode)
			}
			return nil, nil
		}
	}
}
