// Package registry talks to a remote mount-point registry service.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	requestTimeout = 10 * time.Second

	// the registry reports a duplicate id with this numeric code.
	duplicateKeyCode = 11000
)

// ErrIDConflict is returned when the registry already holds an entry
// with the same id.
type ErrIDConflict struct {
	ID string
}

// Error implements the error interface.
func (e ErrIDConflict) Error() string {
	return fmt.Sprintf("id '%s' already exists in the registry", e.ID)
}

// Client performs JSON requests against the registry and keepalive
// endpoints. Failures are non-fatal for the caller unless they signal
// a duplicate id.
type Client struct {
	Log *slog.Logger

	http *http.Client
}

// Initialize initializes a Client.
func (c *Client) Initialize() {
	if c.Log == nil {
		c.Log = slog.Default()
	}
	c.http = &http.Client{Timeout: requestTimeout}
}

func (c *Client) do(method string, url string, body any) (map[string]any, error) {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	buf, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, nil
	}

	var decoded map[string]any
	err = json.Unmarshal(buf, &decoded)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	return decoded, nil
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(url string, body any) (map[string]any, error) {
	return c.do(http.MethodPost, url, body)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(url string, body any) (map[string]any, error) {
	return c.do(http.MethodPut, url, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(url string) error {
	_, err := c.do(http.MethodDelete, url, map[string]any{})
	return err
}

// Register announces a mount point. The entry id is the last path
// segment of the RTSP URL. It returns the opaque registry entry id.
func (c *Client) Register(baseURL string, rtspURL string) (string, error) {
	id := rtspURL
	if i := strings.LastIndexByte(rtspURL, '/'); i >= 0 {
		id = rtspURL[i+1:]
	}

	res, err := c.Post(baseURL, map[string]any{
		"uri": rtspURL,
		"id":  id,
	})
	if err != nil {
		return "", err
	}

	if code, ok := res["code"].(float64); ok && int(code) == duplicateKeyCode {
		return "", ErrIDConflict{ID: id}
	}

	entryID, _ := res["_id"].(string)
	return entryID, nil
}

// Unregister removes a mount point entry. Best effort.
func (c *Client) Unregister(baseURL string, entryID string) {
	err := c.Delete(baseURL + "/" + entryID)
	if err != nil {
		c.Log.Error("registry unregister failed", "err", err)
	}
}

// Keepalive posts a liveness report.
func (c *Client) Keepalive(url string, pid string, dly int) error {
	_, err := c.Post(url, map[string]any{
		"pid": pid,
		"dly": dly,
	})
	return err
}

// RemovePid removes the process entry from the keepalive service.
// Best effort, called once at shutdown.
func (c *Client) RemovePid(url string, pid string) {
	err := c.Delete(url + "/" + pid)
	if err != nil {
		c.Log.Error("keepalive pid removal failed", "err", err)
	}
}
