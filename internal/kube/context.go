package kube

import (
	"fmt"

	"k8s.io/client-go/tools/clientcmd"
)

// GetCurrentKubeContext retrieves the name of the currently active Kubernetes context
var GetCurrentKubeContext = func() (string, error) {
	pathOptions := clientcmd.NewDefaultPathOptions()
	if pathOptions == nil {
		return "", fmt.Errorf("failed to get default kubeconfig path options")
	}
	config, err := pathOptions.GetStartingConfig()
	if err != nil {
		return "", fmt.Errorf("failed to get starting kubeconfig: %w", err)
	}
	if config.CurrentContext == "" {
		return "", fmt.Errorf("current kubeconfig context is not set")
	}
	return config.CurrentContext, nil
}

// ResolveTarget returns the target identity for kubeContext and namespace
// without building any client. Empty values are filled from kubeconfig.
// Commands that must not touch the cluster, like plan and status, use it.
func ResolveTarget(kubeContext, namespace string) (string, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	configOverrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	if namespace != "" {
		configOverrides.Context.Namespace = namespace
	}
	kubeConfig := K8sNewNonInteractiveDeferredLoadingClientConfig(loadingRules, configOverrides)

	if kubeContext == "" {
		current, err := GetCurrentKubeContext()
		if err != nil {
			return "", err
		}
		kubeContext = current
	}
	resolvedNamespace, _, err := kubeConfig.Namespace()
	if err != nil {
		return "", fmt.Errorf("failed to resolve namespace for context %q: %w", kubeContext, err)
	}
	return TargetID(kubeContext, resolvedNamespace), nil
}
