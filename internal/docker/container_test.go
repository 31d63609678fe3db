package docker

import (
	"context"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/wsgi-image/internal/docker/dockertest"
	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

func TestContainerToInfo(t *testing.T) {
	c := container.Summary{
		ID:    "abc123",
		Names: []string{"/wsgi-image-app"},
		State: "running",
		Labels: map[string]string{
			LabelManagedBy: ManagedByValue,
			LabelImage:     "app:latest",
		},
	}

	info := containerToInfo(c)
	assert.Equal(t, "abc123", info.ID)
	assert.Equal(t, "wsgi-image-app", info.Name, "leading slash should be stripped")
	assert.Equal(t, "app:latest", info.Image)
	assert.Equal(t, "running", info.Status)
	assert.Equal(t, c.Labels, info.Labels)
}

func TestContainerToInfo_NoName(t *testing.T) {
	info := containerToInfo(container.Summary{ID: "abc123", State: "exited"})
	assert.Empty(t, info.Name)
	assert.Empty(t, info.Image)
}

const testImageID = "sha256:3f1b2c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f1a2b"

func TestStartService_PublishesOnRequestedHost(t *testing.T) {
	tests := []struct {
		name   string
		hostIP string
		want   string
	}{
		{name: "default loopback", hostIP: "", want: "127.0.0.1"},
		{name: "ipv6 loopback", hostIP: "::1", want: "::1"},
		{name: "other loopback address", hostIP: "127.0.0.2", want: "127.0.0.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := dockertest.NewFake()
			fake.AddImage(testImageID, nil, nil)
			cli := NewClientFromAPI(fake)

			id, err := StartService(context.Background(), cli, ServiceRequest{
				Image:         testImageID,
				ContainerPort: 8000,
				HostIP:        tt.hostIP,
				HostPort:      49200,
			})
			require.NoError(t, err)
			assert.Equal(t, []string{id}, fake.Started)

			require.Len(t, fake.Created, 1)
			bindings := fake.Created[0].HostConfig.PortBindings[nat.Port("8000/tcp")]
			require.Len(t, bindings, 1)
			assert.Equal(t, tt.want, bindings[0].HostIP)
			assert.Equal(t, "49200", bindings[0].HostPort)
		})
	}
}

func TestStartService_LabelsContainerWithImage(t *testing.T) {
	fake := dockertest.NewFake()
	fake.AddImage(testImageID, nil, nil)

	_, err := StartService(context.Background(), NewClientFromAPI(fake), ServiceRequest{
		Image:         testImageID,
		ContainerPort: 8000,
		HostPort:      8000,
	})
	require.NoError(t, err)

	require.Len(t, fake.Created, 1)
	labels := fake.Created[0].Config.Labels
	assert.Equal(t, ManagedByValue, labels[LabelManagedBy])
	assert.Equal(t, testImageID, labels[LabelImage])
}

func TestStartService_ImageNotFound(t *testing.T) {
	fake := dockertest.NewFake()

	_, err := StartService(context.Background(), NewClientFromAPI(fake), ServiceRequest{
		Image:         "missing:latest",
		ContainerPort: 8000,
		HostPort:      8000,
	})
	require.Error(t, err)
	assert.Equal(t, model.ExitImageNotFound, exitCodeOf(t, err))
	assert.Empty(t, fake.Started)
}
