package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// maxUploadSize mirrors the backend's multipart limit.
const maxUploadSize = 25 << 20

// UploadFile posts a local file to a room's upload endpoint and returns the
// URL the backend assigned. The caller then sends that URL as a file message.
func (c *Client) UploadFile(ctx context.Context, roomID, localPath string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", errors.New("cannot upload a directory")
	}
	if info.Size() > maxUploadSize {
		return "", fmt.Errorf("file exceeds upload limit (%d bytes)", int64(maxUploadSize))
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		part, err := writer.CreateFormFile("file", filepath.Base(localPath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	endpoint := c.baseURL + "/chatRoom/" + roomID + "/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload failed with %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	// The endpoint answers with either a bare URL string or a JSON object
	// carrying a fileUrl field, depending on backend version.
	var parsed struct {
		FileURL string `json:"fileUrl"`
		URL     string `json:"url"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil {
		if parsed.FileURL != "" {
			return parsed.FileURL, nil
		}
		if parsed.URL != "" {
			return parsed.URL, nil
		}
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil && asString != "" {
		return asString, nil
	}
	url := strings.TrimSpace(string(data))
	if url == "" {
		return "", errors.New("upload response missing file URL")
	}
	return url, nil
}
