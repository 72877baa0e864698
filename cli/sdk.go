package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// coordinatorURL is set by the root command's --url flag.
var coordinatorURL = "http://localhost:8080"

const requestTimeout = 30 * time.Second

func SetCoordinatorURL(url string) {
	coordinatorURL = url
}

func getJSON(path string, out any) error {
	client := http.Client{Timeout: requestTimeout}

	res, err := client.Get(coordinatorURL + path)
	if err != nil {
		return fmt.Errorf("failed to reach coordinator: %w", err)
	}
	defer res.Body.Close()

	return decodeResponse(res, out)
}

func postJSON(path string, body, out any) error {
	client := http.Client{Timeout: requestTimeout}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	res, err := client.Post(coordinatorURL+path, "application/json", reader)
	if err != nil {
		return fmt.Errorf("failed to reach coordinator: %w", err)
	}
	defer res.Body.Close()

	return decodeResponse(res, out)
}

func decodeResponse(res *http.Response, out any) error {
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}

	if res.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("coordinator returned %d: %s", res.StatusCode, apiErr.Error)
		}

		return fmt.Errorf("coordinator returned %d", res.StatusCode)
	}

	if out == nil {
		return nil
	}

	return json.Unmarshal(data, out)
}
