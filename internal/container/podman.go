package container

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"io"

	"github.com/containers/podman/v4/libpod/define"
	"github.com/containers/podman/v4/pkg/bindings"
	"github.com/containers/podman/v4/pkg/bindings/containers"
	"github.com/containers/podman/v4/pkg/bindings/images"
	"github.com/containers/podman/v4/pkg/bindings/system"
	"github.com/containers/podman/v4/pkg/domain/entities"
	"github.com/containers/podman/v4/pkg/specgen"
	log "github.com/sirupsen/logrus"

	"github.com/cumulusfn/cumulus/internal/config"
)

type PodmanFactory struct {
	ctx context.Context
}

func InitPodmanContainerFactory() *PodmanFactory {
	socket := config.GetString(config.PODMAN_SOCKET, "unix:///run/podman/podman.sock")
	ctx, err := bindings.NewConnection(context.Background(), socket)
	if err != nil {
		panic(err)
	}

	podmanFact := &PodmanFactory{ctx}
	cf = podmanFact
	return podmanFact
}

func (cf *PodmanFactory) Create(image string, opts *ContainerOptions) (ContainerID, error) {
	if !cf.HasImage(image) {
		if err := cf.PullImage(image); err != nil {
			log.Warnf("Could not pull image %s: %v", image, err)
			// we do not return here, as a stale copy of the image
			// could still be available locally
		}
	}

	s := specgen.NewSpecGenerator(image, false)
	s.Image = image
	s.Name = opts.Name
	s.Command = opts.Cmd
	s.EnvMerge = opts.Env
	s.Terminal = false
	// TODO: enforce memory and CPU limits through the spec generator
	r, err := containers.CreateWithSpec(cf.ctx, s, new(containers.CreateOptions))
	return r.ID, err
}

// Podman API does not support container file copy: this function shells out
// to the podman CLI instead.
func (cf *PodmanFactory) CopyToContainer(contID ContainerID, content io.Reader, destPath string) error {
	tmpFile, err := os.CreateTemp("", "codetar-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmpFile.Name())

	if _, err = io.Copy(tmpFile, content); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	return exec.Command("podman", "cp", tmpFile.Name(), contID+":"+destPath).Run()
}

func (cf *PodmanFactory) Start(contID ContainerID) error {
	err := containers.Start(cf.ctx, contID, nil)
	if err != nil {
		log.Errorf("The container %s could not be started: %v", contID, err)
		return err
	}
	running := define.ContainerStateRunning
	_, err = containers.Wait(cf.ctx, contID, new(containers.WaitOptions).WithCondition([]define.ContainerStatus{running}))
	return err
}

func (cf *PodmanFactory) Stop(contID ContainerID) error {
	return containers.Stop(cf.ctx, contID, new(containers.StopOptions).WithTimeout(5))
}

func (cf *PodmanFactory) Resume(contID ContainerID) error {
	return cf.Start(contID)
}

func (cf *PodmanFactory) Destroy(contID ContainerID) error {
	// force set to true causes running container to be killed (and then removed)
	err := containers.Stop(cf.ctx, contID, new(containers.StopOptions).WithTimeout(0))
	if err != nil {
		log.Errorf("The container %s could not be stopped: %v", contID, err)
		return err
	}
	_, err = containers.Remove(cf.ctx, contID, new(containers.RemoveOptions))
	return err
}

func (cf *PodmanFactory) HasImage(image string) bool {
	cmd := fmt.Sprintf("podman images %s | grep -vF REPOSITORY", image)
	_, err := exec.Command("bash", "-c", cmd).Output()
	if err != nil {
		return false
	}

	// We have the image, but we may need to refresh it
	if config.GetBool(config.FACTORY_REFRESH_IMAGES, false) {
		if refreshed, ok := refreshedImages[image]; !ok || !refreshed {
			return false
		}
	}
	return true
}

func (cf *PodmanFactory) PullImage(image string) error {
	log.Infof("Pulling image: %s", image)
	_, err := images.Pull(cf.ctx, image, new(images.PullOptions))
	if err != nil {
		return err
	}
	mutex.Lock()
	refreshedImages[image] = true
	mutex.Unlock()
	return nil
}

func (cf *PodmanFactory) GetIPAddress(contID ContainerID) (string, error) {
	contJson, err := containers.Inspect(cf.ctx, contID, new(containers.InspectOptions))
	if err != nil {
		return "", err
	}
	return contJson.NetworkSettings.IPAddress, nil
}

func (cf *PodmanFactory) GetMemoryMB(contID ContainerID) (int64, error) {
	contJson, err := containers.Inspect(cf.ctx, contID, new(containers.InspectOptions))
	if err != nil {
		return -1, err
	}
	return contJson.HostConfig.Memory / 1048576, nil
}

func (cf *PodmanFactory) GetLog(contID ContainerID) (string, error) {
	stdout := make(chan string, 64)
	stderr := make(chan string, 64)
	var sb strings.Builder
	done := make(chan struct{})
	go func() {
		for line := range stdout {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		close(done)
	}()
	go func() {
		for range stderr {
		}
	}()

	tail := "32"
	yes := true
	err := containers.Logs(cf.ctx, contID, &containers.LogOptions{
		Stdout: &yes,
		Stderr: &yes,
		Tail:   &tail,
	}, stdout, stderr)
	close(stdout)
	close(stderr)
	<-done
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Events watches the podman event stream for unexpected container exits.
func (cf *PodmanFactory) Events(ctx context.Context) (<-chan ContainerEvent, <-chan error) {
	out := make(chan ContainerEvent, 64)
	errOut := make(chan error, 1)

	eventCh := make(chan entities.Event, 64)
	cancelCh := make(chan bool, 1)
	opts := new(system.EventsOptions).WithFilters(map[string][]string{
		"type":  {"container"},
		"event": {"die", "oom"},
	})

	go func() {
		if err := system.Events(cf.ctx, eventCh, cancelCh, opts); err != nil {
			errOut <- err
		}
	}()

	go func() {
		defer close(out)
		for {
			select {
			case msg := <-eventCh:
				out <- ContainerEvent{
					ID:       msg.Actor.ID,
					Type:     msg.Action,
					ExitCode: exitCodeOf(msg.Message),
				}
			case <-ctx.Done():
				cancelCh <- true
				return
			}
		}
	}()

	return out, errOut
}
