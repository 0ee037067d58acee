package kube

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/clientcmd/api"
)

// writeKubeconfig writes config to a temp file and points KUBECONFIG at it.
func writeKubeconfig(t *testing.T, config api.Config) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kubeconfig")
	require.NoError(t, clientcmd.WriteToFile(config, path))
	t.Setenv("KUBECONFIG", path)
	return path
}

func twoContextConfig() api.Config {
	return api.Config{
		CurrentContext: "kind-dev",
		Contexts: map[string]*api.Context{
			"kind-dev":  {Cluster: "dev", Namespace: "streaming"},
			"kind-prod": {Cluster: "prod"},
		},
		Clusters: map[string]*api.Cluster{
			"dev":  {Server: "https://127.0.0.1:6443"},
			"prod": {Server: "https://127.0.0.1:7443"},
		},
	}
}

func TestGetCurrentKubeContext(t *testing.T) {
	tests := []struct {
		name        string
		config      api.Config
		wantContext string
		wantErr     bool
	}{
		{
			name:        "current context set",
			config:      twoContextConfig(),
			wantContext: "kind-dev",
		},
		{
			name: "current context not set",
			config: api.Config{
				Contexts: map[string]*api.Context{"another-context": {Cluster: "another-cluster"}},
				Clusters: map[string]*api.Cluster{"another-cluster": {Server: "https://localhost:8081"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeKubeconfig(t, tt.config)

			gotContext, err := GetCurrentKubeContext()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantContext, gotContext)
		})
	}
}

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		name      string
		context   string
		namespace string
		want      string
	}{
		{name: "current context and its namespace", want: "kind-dev/streaming"},
		{name: "namespace flag wins", namespace: "analytics", want: "kind-dev/analytics"},
		{name: "explicit context without namespace", context: "kind-prod", want: "kind-prod/default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeKubeconfig(t, twoContextConfig())

			got, err := ResolveTarget(tt.context, tt.namespace)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewClients(t *testing.T) {
	writeKubeconfig(t, twoContextConfig())

	original := NewK8sClientsetFromConfig
	defer func() { NewK8sClientsetFromConfig = original }()
	var gotHost string
	NewK8sClientsetFromConfig = func(c *rest.Config) (kubernetes.Interface, error) {
		gotHost = c.Host
		return fake.NewSimpleClientset(), nil
	}

	clients, err := NewClients("", "")
	require.NoError(t, err)
	assert.Equal(t, "https://127.0.0.1:6443", gotHost)
	assert.Equal(t, "kind-dev", clients.Context)
	assert.Equal(t, "streaming", clients.Namespace)
	assert.Equal(t, "kind-dev/streaming", clients.Target())
	assert.Equal(t, requestTimeout, clients.RESTConfig.Timeout)
	assert.NotNil(t, clients.Mapper)

	_, err = NewClients("missing-context", "")
	assert.Error(t, err)
}
