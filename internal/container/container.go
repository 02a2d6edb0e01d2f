package container

import (
	"bytes"
	"context"
	"encoding/base64"
)

// NewContainer creates a new container with the function code artifact copied
// in. The container is not started: the caller registers its runtime channel
// first, so the in-container client never polls an unknown mailbox.
func NewContainer(image, codeTar string, opts *ContainerOptions) (ContainerID, error) {
	contID, err := cf.Create(image, opts)
	if err != nil {
		return "", err
	}

	if codeTar != "" {
		decodedCode, _ := base64.StdEncoding.DecodeString(codeTar)
		err = cf.CopyToContainer(contID, bytes.NewReader(decodedCode), "/app/")
		if err != nil {
			cf.Destroy(contID)
			return "", err
		}
	}

	return contID, nil
}

func Start(id ContainerID) error {
	return cf.Start(id)
}

// Stop pauses a container, retaining its filesystem for a fast resume.
func Stop(id ContainerID) error {
	return cf.Stop(id)
}

// Resume restarts a previously stopped container.
func Resume(id ContainerID) error {
	return cf.Resume(id)
}

func Destroy(id ContainerID) error {
	return cf.Destroy(id)
}

func GetMemoryMB(id ContainerID) (int64, error) {
	return cf.GetMemoryMB(id)
}

func GetLog(id ContainerID) (string, error) {
	return cf.GetLog(id)
}

// Events exposes the active factory's exit-event stream.
func Events(ctx context.Context) (<-chan ContainerEvent, <-chan error) {
	return cf.Events(ctx)
}
