package kubernetes

import (
	"fmt"
	"os"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client represents a kubernetes client
type Client struct {
	Clientset *kubernetes.Clientset
}

// NewClient creates a new Kubernetes client. Inside a cluster it uses the
// service-account config; otherwise it falls back to the kubectl proxy
// address from K8S_PROXY_URL (default http://localhost:8001).
func NewClient() (*Client, error) {
	config, err := GetConfig()
	if err != nil {
		return nil, err
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %v", err)
	}

	return &Client{Clientset: clientset}, nil
}

// GetConfig resolves a REST config for the current environment
func GetConfig() (*rest.Config, error) {
	// In-cluster config wins when available
	if config, err := rest.InClusterConfig(); err == nil {
		return config, nil
	}

	// Explicit kubeconfig next
	if kubeconfig := os.Getenv("KUBECONFIG"); kubeconfig != "" {
		config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig %s: %v", kubeconfig, err)
		}
		return config, nil
	}

	// Fall back to kubectl proxy
	proxyURL := os.Getenv("K8S_PROXY_URL")
	if proxyURL == "" {
		proxyURL = "http://localhost:8001"
	}

	return &rest.Config{
		Host: proxyURL,
		// No authentication needed when using kubectl proxy
		TLSClientConfig: rest.TLSClientConfig{
			Insecure: true,
		},
	}, nil
}
