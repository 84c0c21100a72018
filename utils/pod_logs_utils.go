package utils

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sitepress-engine/lib/kubernetes"
	"github.com/sitepress-engine/models"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// TailBuildLogs streams the build containers' output into the sink once the
// job's pod appears. Best effort: any failure here is logged and swallowed,
// log streaming must never fail a build.
func TailBuildLogs(ctx context.Context, k8sClient *kubernetes.Client, namespace, jobName string, sink models.LogSink) {
	podName, err := waitForJobPod(ctx, k8sClient, namespace, jobName)
	if err != nil {
		log.Printf("Warning: no pod found for job %s: %v", jobName, err)
		return
	}

	// Init containers run in order, then the uploader
	for _, container := range []string{CloneContainerName, BuildContainerName, UploadContainerName} {
		if err := streamContainerLogs(ctx, k8sClient, namespace, podName, container, sink); err != nil {
			log.Printf("Warning: log stream for %s/%s ended: %v", podName, container, err)
		}
	}
}

// GetJobPodLogs returns the tail of the build container's logs for failure
// reporting
func GetJobPodLogs(ctx context.Context, k8sClient *kubernetes.Client, namespace, jobName string, tailLines int64) string {
	pods, err := k8sClient.Clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("job-name=%s", jobName),
	})
	if err != nil || len(pods.Items) == 0 {
		return "No pod logs available"
	}

	req := k8sClient.Clientset.CoreV1().Pods(namespace).GetLogs(pods.Items[0].Name, &corev1.PodLogOptions{
		Container: BuildContainerName,
		TailLines: int64Ptr(tailLines),
	})

	stream, err := req.Stream(ctx)
	if err != nil {
		return fmt.Sprintf("Error getting logs: %v", err)
	}
	defer stream.Close()

	buffer := make([]byte, 4096)
	n, _ := stream.Read(buffer)
	return string(buffer[:n])
}

func waitForJobPod(ctx context.Context, k8sClient *kubernetes.Client, namespace, jobName string) (string, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		pods, err := k8sClient.Clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
			LabelSelector: fmt.Sprintf("job-name=%s", jobName),
		})
		if err == nil && len(pods.Items) > 0 {
			return pods.Items[0].Name, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func streamContainerLogs(ctx context.Context, k8sClient *kubernetes.Client, namespace, podName, container string, sink models.LogSink) error {
	req := k8sClient.Clientset.CoreV1().Pods(namespace).GetLogs(podName, &corev1.PodLogOptions{
		Container: container,
		Follow:    true,
	})

	stream, err := req.Stream(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	for scanner.Scan() {
		if sink != nil {
			sink("info", scanner.Text())
		}
	}
	return scanner.Err()
}
