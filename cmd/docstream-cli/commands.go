package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func newUploadCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "upload <file.pdf>",
		Short: "Upload a PDF and create an extraction task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			resp, err := c.upload(args[0])
			if err != nil {
				errorf("upload failed: %v", err)
				return err
			}
			successf("task created: %s", resp.TaskID)
			if outputJSON {
				printData(resp.Data)
			}
			if watch {
				return watchTask(c, resp.TaskID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow the task's event stream after upload")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			resp, err := c.do(http.MethodGet, "/api/v1/tasks/", nil, "")
			if err != nil {
				return err
			}
			if outputJSON {
				printData(resp.Data)
				return nil
			}

			var list []struct {
				ID       string `json:"id"`
				Filename string `json:"filename"`
				Status   string `json:"status"`
				Created  string `json:"created_at"`
			}
			if err := json.Unmarshal(resp.Data, &list); err != nil {
				return err
			}
			for _, t := range list {
				fmt.Printf("%s  %-10s  %s  (%s)\n", t.ID, t.Status, t.Filename, t.Created)
			}
			return nil
		},
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a task record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			resp, err := c.do(http.MethodGet, "/api/v1/tasks/"+url.PathEscape(args[0])+"/", nil, "")
			if err != nil {
				return err
			}
			printData(resp.Data)
			return nil
		},
	}
}

func newDataCmd() *cobra.Command {
	var dataType string

	cmd := &cobra.Command{
		Use:   "data <task-id>",
		Short: "Fetch decoded artifact data for a completed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			path := "/api/v1/tasks/" + url.PathEscape(args[0]) + "/data?type=" + url.QueryEscape(dataType)
			resp, err := c.do(http.MethodGet, path, nil, "")
			if err != nil {
				return err
			}
			printData(resp.Data)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataType, "type", "t", "odds_path", "data type: odds_path or explanations")
	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Follow a task's event stream until it reaches a terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchTask(newClient(), args[0])
		},
	}
}
