package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var publicationsCmd = &cobra.Command{
	Use:     "publications",
	Aliases: []string{"pubs"},
	Short:   "Drive go-live publications",
}

var publicationsRequestCmd = &cobra.Command{
	Use:   "request <content-id>",
	Short: "Request go-live for a content item's master document",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublicationsRequest,
}

var publicationsGetCmd = &cobra.Command{
	Use:   "get <request-id>",
	Short: "Show a publication request and its per-group tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublicationsGet,
}

var publicationsCancelCmd = &cobra.Command{
	Use:   "cancel <request-id>",
	Short: "Cancel a pending publication request",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublicationsCancel,
}

func init() {
	publicationsCmd.AddCommand(publicationsRequestCmd)
	publicationsCmd.AddCommand(publicationsGetCmd)
	publicationsCmd.AddCommand(publicationsCancelCmd)
}

func runPublicationsRequest(cmd *cobra.Command, args []string) error {
	client := newClient()

	var resp map[string]any
	err := client.postJSON(apiBase+"/publications", map[string]any{
		"contentItemId": args[0],
	}, &resp)
	if err != nil {
		return err
	}

	req, _ := resp["request"].(map[string]any)
	taskIDs, _ := resp["taskIds"].([]any)
	fmt.Printf("Publication %s requested, %d reduction task(s) started.\n", str(req, "id"), len(taskIDs))
	return nil
}

func runPublicationsGet(cmd *cobra.Command, args []string) error {
	client := newClient()

	var resp map[string]any
	if err := client.getJSON(apiBase+"/publications/"+args[0], &resp); err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(resp)
	}

	req, _ := resp["request"].(map[string]any)
	fmt.Printf("Publication %s: %s\n", str(req, "id"), str(req, "status"))
	if msg := str(req, "statusMessage"); msg != "" {
		fmt.Println(msg)
	}
	fmt.Println()

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
		})
	}
	printTable([]string{"Task", "Group", "Status", "Outcome"}, rows)
	return nil
}

func runPublicationsCancel(cmd *cobra.Command, args []string) error {
	client := newClient()

	var resp map[string]any
	err := client.postJSON(apiBase+"/publications/"+args[0]+":cancel", map[string]any{}, &resp)
	if err != nil {
		return err
	}
	fmt.Printf("Publication %s canceled.\n", str(resp, "id"))
	return nil
}
