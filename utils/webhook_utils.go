package utils

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// SendWebhookNotification posts a build lifecycle event to a webhook URL.
// Best effort: failures are logged and never fail the build.
func SendWebhookNotification(webhookURL string, deploymentID string, status string, errorMessage string) {
	// If no webhook URL is configured, do nothing
	if webhookURL == "" {
		return
	}

	payload := map[string]interface{}{
		"deploymentId": deploymentID,
		"status":       status,
		"timestamp":    time.Now().Format(time.RFC3339),
	}
	if errorMessage != "" {
		payload["error"] = errorMessage
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshaling webhook payload: %v", err)
		return
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewBuffer(jsonPayload))
	if err != nil {
		log.Printf("Error calling webhook: %v", err)
		return
	}
	defer resp.Body.Close()

	log.Printf("Webhook notification sent to %s, status: %s, deployment: %s",
		webhookURL, status, deploymentID)
}
