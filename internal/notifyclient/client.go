// Package notifyclient is the HTTP client the storage collaborator uses to
// hand the relay its storage-mutation events via POST /notify.
package notifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fileferry/fileferry/pkg/protocol"
)

// Notify posts one storage-mutation event to the relay at serverURL.
// token, when non-empty, is sent as a bearer token. Uses a 5 second timeout.
func Notify(ctx context.Context, serverURL, token string, kind protocol.Kind, ev protocol.StorageEvent) error {
	url := strings.TrimRight(serverURL, "/") + "/notify"
	if !strings.HasPrefix(url, "http") {
		url = "http://" + url
	}

	body, err := json.Marshal(struct {
		Event    string `json:"event"`
		FileID   string `json:"fileId"`
		Filename string `json:"filename"`
		Owner    string `json:"owner,omitempty"`
	}{
		Event:    string(kind),
		FileID:   ev.FileID,
		Filename: ev.Filename,
		Owner:    ev.Owner,
	})
	if err != nil {
		return fmt.Errorf("marshal notify body: %w", err)
	}

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
