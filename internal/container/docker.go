package container

import (
	"context"
	"io"
	"io/ioutil"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	log "github.com/sirupsen/logrus"
	"strconv"

	"github.com/cumulusfn/cumulus/internal/config"
)

type DockerFactory struct {
	cli *client.Client
	ctx context.Context
}

func InitDockerContainerFactory() *DockerFactory {
	ctx := context.Background()
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		panic(err)
	}

	dockerFact := &DockerFactory{cli, ctx}
	cf = dockerFact
	return dockerFact
}

func (cf *DockerFactory) Create(image string, opts *ContainerOptions) (ContainerID, error) {
	if !cf.HasImage(image) {
		if err := cf.PullImage(image); err != nil {
			log.Warnf("Could not pull image %s: %v", image, err)
			// we do not return here, as a stale copy of the image
			// could still be available locally
		}
	}

	contResources := container.Resources{Memory: opts.MemoryMB * 1048576} // convert to bytes
	if opts.CPUQuota > 0.0 {
		contResources.CPUPeriod = 50000 // 50ms
		contResources.CPUQuota = (int64)(50000.0 * opts.CPUQuota)
	}

	resp, err := cf.cli.ContainerCreate(cf.ctx, &container.Config{
		Image: image,
		Cmd:   opts.Cmd,
		Env:   opts.Env,
		Tty:   false,
	}, &container.HostConfig{
		Resources:      contResources,
		ReadonlyRootfs: false,
		CapDrop:        []string{"ALL"},
	}, nil, nil, opts.Name)
	if err != nil {
		return "", err
	}

	return resp.ID, nil
}

func (cf *DockerFactory) CopyToContainer(contID ContainerID, content io.Reader, destPath string) error {
	return cf.cli.CopyToContainer(cf.ctx, contID, destPath, content, types.CopyToContainerOptions{})
}

func (cf *DockerFactory) Start(contID ContainerID) error {
	return cf.cli.ContainerStart(cf.ctx, contID, types.ContainerStartOptions{})
}

// Stop halts the container process but keeps the container around, so that a
// later Resume skips image pull, creation and code copy.
func (cf *DockerFactory) Stop(contID ContainerID) error {
	timeout := 5 * time.Second
	return cf.cli.ContainerStop(cf.ctx, contID, &timeout)
}

func (cf *DockerFactory) Resume(contID ContainerID) error {
	return cf.cli.ContainerStart(cf.ctx, contID, types.ContainerStartOptions{})
}

func (cf *DockerFactory) Destroy(contID ContainerID) error {
	// force set to true causes running container to be killed (and then
	// removed)
	return cf.cli.ContainerRemove(cf.ctx, contID, types.ContainerRemoveOptions{Force: true})
}

var mutex = sync.Mutex{}
var refreshedImages = map[string]bool{}

func (cf *DockerFactory) HasImage(image string) bool {
	mutex.Lock()
	list, err := cf.cli.ImageList(context.TODO(), types.ImageListOptions{})
	mutex.Unlock()
	if err != nil {
		log.Errorf("image list error: %v", err)
		return false
	}
	for _, summary := range list {
		if len(summary.RepoTags) > 0 && strings.HasPrefix(summary.RepoTags[0], image) {
			// We have the image, but we may need to refresh it
			if config.GetBool(config.FACTORY_REFRESH_IMAGES, false) {
				if refreshed, ok := refreshedImages[image]; !ok || !refreshed {
					return false
				}
			}
			return true
		}
	}
	return false
}

func (cf *DockerFactory) PullImage(image string) error {
	log.Infof("Pulling image: %s", image)
	pullResp, err := cf.cli.ImagePull(cf.ctx, image, types.ImagePullOptions{})
	if err != nil {
		return err
	}
	defer pullResp.Close()
	// This seems to be necessary to wait for the image to be pulled:
	io.Copy(ioutil.Discard, pullResp)
	log.Infof("Pulled image: %s", image)
	mutex.Lock()
	refreshedImages[image] = true
	mutex.Unlock()
	return nil
}

func (cf *DockerFactory) GetIPAddress(contID ContainerID) (string, error) {
	contJson, err := cf.cli.ContainerInspect(cf.ctx, contID)
	if err != nil {
		return "", err
	}
	return contJson.NetworkSettings.IPAddress, nil
}

func (cf *DockerFactory) GetMemoryMB(contID ContainerID) (int64, error) {
	contJson, err := cf.cli.ContainerInspect(cf.ctx, contID)
	if err != nil {
		return -1, err
	}
	return contJson.HostConfig.Memory / 1048576, nil
}

func (cf *DockerFactory) GetLog(contID ContainerID) (string, error) {
	logsReader, err := cf.cli.ContainerLogs(cf.ctx, contID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "32",
	})
	if err != nil {
		return "", err
	}
	defer logsReader.Close()
	logs, err := io.ReadAll(logsReader)
	if err != nil {
		return "", err
	}
	return string(logs), nil
}

// Events watches the docker event stream for unexpected container exits.
func (cf *DockerFactory) Events(ctx context.Context) (<-chan ContainerEvent, <-chan error) {
	out := make(chan ContainerEvent, 64)
	errOut := make(chan error, 1)

	args := filters.NewArgs()
	args.Add("type", "container")
	args.Add("event", "die")
	args.Add("event", "oom")
	msgCh, errCh := cf.cli.Events(ctx, types.EventsOptions{Filters: args})

	go func() {
		defer close(out)
		for {
			select {
			case msg := <-msgCh:
				out <- ContainerEvent{
					ID:       msg.Actor.ID,
					Type:     msg.Action,
					ExitCode: exitCodeOf(msg),
				}
			case err := <-errCh:
				if err != nil {
					errOut <- err
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errOut
}

func exitCodeOf(msg events.Message) int {
	code, ok := msg.Actor.Attributes["exitCode"]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0
	}
	return n
}
