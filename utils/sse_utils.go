package utils

import (
	"encoding/json"
	"fmt"
	"io"
)

// Helper functions for SSE formatting
func WriteSSEJSON(w io.Writer, payload interface{}) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(w, "data: {\"message\": \"Error creating message\"}\n\n")
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}

func WriteSSEEvent(w io.Writer, event string, payload interface{}) {
	fmt.Fprintf(w, "event: %s\n", event)
	WriteSSEJSON(w, payload)
}
