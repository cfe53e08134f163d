package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// apiResponse mirrors the server's response envelope.
type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	TaskID  string          `json:"task_id"`
}

// client is a thin docstream API client.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient() *client {
	return &client{
		base:  apiBase,
		token: apiToken,
		http:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *client) do(method, path string, body io.Reader, contentType string) (*apiResponse, error) {
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = out.Message
		}
		return &out, fmt.Errorf("%s: %s", resp.Status, msg)
	}
	return &out, nil
}

// upload sends a PDF as multipart form data, with a progress bar on the read.
func (c *client) upload(path string) (*apiResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}

	bar := progressbar.DefaultBytes(info.Size(), "reading "+filepath.Base(path))
	if _, err := io.Copy(io.MultiWriter(part, bar), f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	return c.do(http.MethodPost, "/api/v1/tasks/", &buf, mw.FormDataContentType())
}

// printData prints either raw JSON or an indented rendering.
func printData(raw json.RawMessage) {
	if outputJSON {
		fmt.Println(string(raw))
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(pretty.String())
}

func successf(format string, args ...interface{}) {
	color.New(color.FgGreen).Printf("✓ "+format+"\n", args...)
}

func errorf(format string, args ...interface{}) {
	color.New(color.FgRed).Printf("✗ "+format+"\n", args...)
}

func infof(format string, args ...interface{}) {
	color.New(color.FgCyan).Printf("ℹ "+format+"\n", args...)
}
