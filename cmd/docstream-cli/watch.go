package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
)

// streamEvent mirrors the server's event JSON.
type streamEvent struct {
	TaskID    string          `json:"task_id"`
	Seq       uint64          `json:"seq"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// watchTask consumes the SSE stream for one task and prints each event,
// exiting when the terminal completion or error event arrives.
func watchTask(c *client, taskID string) error {
	req, err := http.NewRequest(http.MethodGet, c.base+"/api/v1/tasks/"+url.PathEscape(taskID)+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	// No client timeout: the stream lives until the task finishes.
	stream := &http.Client{}
	resp, err := stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream request failed: %s", resp.Status)
	}

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	spin.Suffix = " waiting for events..."
	spin.Start()
	defer spin.Stop()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var evt streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			continue
		}

		spin.Stop()
		printEvent(evt)

		switch evt.Kind {
		case "completion":
			successf("task %s completed", taskID)
			return nil
		case "error":
			errorf("task %s failed", taskID)
			return fmt.Errorf("task failed")
		}
		spin.Start()
	}
	return scanner.Err()
}

func printEvent(evt streamEvent) {
	if outputJSON {
		data, _ := json.Marshal(evt)
		fmt.Println(string(data))
		return
	}

	kindColor := color.New(color.FgBlue)
	switch evt.Kind {
	case "progress":
		kindColor = color.New(color.FgCyan)
	case "completion":
		kindColor = color.New(color.FgGreen)
	case "error":
		kindColor = color.New(color.FgRed)
	}

	kindColor.Printf("[%3d] %-10s ", evt.Seq, evt.Kind)

	var payload map[string]interface{}
	if err := json.Unmarshal(evt.Payload, &payload); err == nil {
		if msg, ok := payload["message"].(string); ok && msg != "" {
			fmt.Print(msg)
		}
		if p, ok := payload["progress"].(float64); ok {
			fmt.Printf(" (%d%%)", int(p))
		}
		if errMsg, ok := payload["error"].(string); ok && errMsg != "" {
			fmt.Print(errMsg)
		}
	}
	fmt.Println()
}
