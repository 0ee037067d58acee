package kube

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	_ "k8s.io/client-go/plugin/pkg/client/auth" // Important for various auth providers
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"
)

// Overridable for tests.
var (
	NewK8sClientsetFromConfig = func(c *rest.Config) (kubernetes.Interface, error) {
		return kubernetes.NewForConfig(c)
	}
	NewDynamicClientFromConfig = func(c *rest.Config) (dynamic.Interface, error) {
		return dynamic.NewForConfig(c)
	}
	K8sNewNonInteractiveDeferredLoadingClientConfig = clientcmd.NewNonInteractiveDeferredLoadingClientConfig
)

// requestTimeout bounds individual API requests. Exec streams are bounded by
// their context instead.
const requestTimeout = 30 * time.Second

// Clients bundles the client-go clients a Cluster needs.
type Clients struct {
	Core       kubernetes.Interface
	Dynamic    dynamic.Interface
	Mapper     meta.ResettableRESTMapper
	RESTConfig *rest.Config
	// Context and Namespace as resolved from kubeconfig.
	Context   string
	Namespace string
}

// NewClients loads kubeconfig for kubeContext (empty selects the current
// context) and builds the clients. The namespace falls back to the
// context's namespace, then "default".
func NewClients(kubeContext, namespace string) (*Clients, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	configOverrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	if namespace != "" {
		configOverrides.Context.Namespace = namespace
	}
	kubeConfig := K8sNewNonInteractiveDeferredLoadingClientConfig(loadingRules, configOverrides)

	restConfig, err := kubeConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get REST config for context %q: %w", kubeContext, err)
	}
	restConfig.Timeout = requestTimeout

	resolvedNamespace, _, err := kubeConfig.Namespace()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve namespace for context %q: %w", kubeContext, err)
	}

	resolvedContext := kubeContext
	if resolvedContext == "" {
		raw, err := kubeConfig.RawConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to read kubeconfig: %w", err)
		}
		resolvedContext = raw.CurrentContext
	}

	core, err := NewK8sClientsetFromConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset for context %q: %w", kubeContext, err)
	}
	dyn, err := NewDynamicClientFromConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client for context %q: %w", kubeContext, err)
	}

	cachedDiscovery := memory.NewMemCacheClient(core.Discovery())
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(cachedDiscovery)

	return &Clients{
		Core:       core,
		Dynamic:    dyn,
		Mapper:     mapper,
		RESTConfig: restConfig,
		Context:    resolvedContext,
		Namespace:  resolvedNamespace,
	}, nil
}

// Target is the identity used for locking and history: "context/namespace".
func (c *Clients) Target() string {
	return TargetID(c.Context, c.Namespace)
}

// TargetID formats a target identity.
func TargetID(kubeContext, namespace string) string {
	return kubeContext + "/" + namespace
}
