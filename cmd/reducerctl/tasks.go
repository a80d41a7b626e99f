package main

import (
	"net/url"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect reduction tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reduction tasks",
	RunE:  runTasksList,
}

var tasksGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show one reduction task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksGet,
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel an in-flight reduction task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksCancel,
}

var (
	taskFilterGroup   string
	taskFilterContent string
	taskFilterStatus  string
)

func init() {
	tasksListCmd.Flags().StringVar(&taskFilterGroup, "group", "", "Filter by selection group ID")
	tasksListCmd.Flags().StringVar(&taskFilterContent, "content", "", "Filter by content item ID")
	tasksListCmd.Flags().StringVar(&taskFilterStatus, "status", "", "Filter by task status")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksGetCmd)
	tasksCmd.AddCommand(tasksCancelCmd)
}

func runTasksList(cmd *cobra.Command, args []string) error {
	client := newClient()

	query := url.Values{}
	if taskFilterGroup != "" {
		query.Set("groupId", taskFilterGroup)
	}
	if taskFilterContent != "" {
		query.Set("contentItemId", taskFilterContent)
	}
	if taskFilterStatus != "" {
		query.Set("status", taskFilterStatus)
	}
	path := apiBase + "/tasks"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp map[string]any
	if err := client.getJSON(path, &resp); err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(resp)
	}

	tasks, _ := resp["tasks"].([]any)
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		task, ok := t.(map[string]any)
		if !ok {
			continue
		}
		rows = append(rows, []string{
			str(task, "id"),
			str(task, "selectionGroupId"),
			str(task, "status"),
			str(task, "outcomeCode"),
			str(task, "createdAt"),
		})
	}
	printTable([]string{"ID", "Group", "Status", "Outcome", "Created"}, rows)
	return nil
}

func runTasksCancel(cmd *cobra.Command, args []string) error {
	client := newClient()

	var resp map[string]any
	if err := client.postJSON(apiBase+"/tasks/"+args[0]+":cancel", map[string]any{}, &resp); err != nil {
		return err
	}
	if outputFmt == "table" {
		outputFmt = "yaml"
	}
	return printOutput(resp)
}

func runTasksGet(cmd *cobra.Command, args []string) error {
	client := newClient()

	var resp map[string]any
	if err := client.getJSON(apiBase+"/tasks/"+args[0], &resp); err != nil {
		return err
	}
	if outputFmt == "table" {
		outputFmt = "yaml"
	}
	return printOutput(resp)
}
