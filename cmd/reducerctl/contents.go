package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var contentsCmd = &cobra.Command{
	Use:   "contents",
	Short: "Inspect registered content items",
}

var contentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List content items",
	RunE:  runContentsList,
}

var contentsGetCmd = &cobra.Command{
	Use:   "get <content-id>",
	Short: "Show one content item",
	Args:  cobra.ExactArgs(1),
	RunE:  runContentsGet,
}

var contentsHierarchyCmd = &cobra.Command{
	Use:   "hierarchy <content-id>",
	Short: "Show the dimension hierarchy of a content item",
	Args:  cobra.ExactArgs(1),
	RunE:  runContentsHierarchy,
}

var contentsStatusCmd = &cobra.Command{
	Use:   "status <content-id>",
	Short: "Show the go-live publication status of a content item",
	Args:  cobra.ExactArgs(1),
	RunE:  runContentsStatus,
}

func init() {
	contentsCmd.AddCommand(contentsListCmd)
	contentsCmd.AddCommand(contentsGetCmd)
	contentsCmd.AddCommand(contentsHierarchyCmd)
	contentsCmd.AddCommand(contentsStatusCmd)
}

func runContentsList(cmd *cobra.Command, args []string) error {
	client := newClient()

	var resp map[string]any
	if err := client.getJSON(apiBase+"/contents", &resp); err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(resp)
	}

	contents, _ := resp["contents"].([]any)
	rows := make([][]string, 0, len(contents))
	for _, c := range contents {
		item, ok := c.(map[string]any)
		if !ok {
			continue
		}
		rows = append(rows, []string{
			str(item, "id"),
			str(item, "name"),
			str(item, "clientId"),
			truncate(str(item, "masterPath"), 48),
		})
	}
	printTable([]string{"ID", "Name", "Client", "Master"}, rows)
	return nil
}

func runContentsGet(cmd *cobra.Command, args []string) error {
	client := newClient()

	var resp map[string]any
	if err := client.getJSON(apiBase+"/contents/"+args[0], &resp); err != nil {
		return err
	}
	if outputFmt == "table" {
		outputFmt = "yaml"
	}
	return printOutput(resp)
}

func runContentsHierarchy(cmd *cobra.Command, args []string) error {
	client := newClient()

	var resp map[string]any
	if err := client.getJSON(apiBase+"/contents/"+args[0]+"/hierarchy", &resp); err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(resp)
	}

	fields, _ := resp["fields"].([]any)
	var rows [][]string
	for _, f := range fields {
		field, ok := f.(map[string]any)
		if !ok {
			continue
		}
		values, _ := field["values"].([]any)
		for _, v := range values {
			value, ok := v.(map[string]any)
			if !ok {
				continue
			}
			rows = append(rows, []string{
				str(field, "fieldName"),
				str(value, "valueId"),
				str(value, "value"),
			})
		}
	}
	printTable([]string{"Field", "Value ID", "Value"}, rows)
	return nil
}

func runContentsStatus(cmd *cobra.Command, args []string) error {
	client := newClient()

	var resp map[string]any
	if err := client.getJSON(apiBase+"/contents/"+args[0]+"/status", &resp); err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(resp)
	}

	if active, ok := resp["active"].(map[string]any); ok {
		fmt.Printf("Active publication: %s (%s)\n\n", str(active, "id"), str(active, "status"))
	} else {
		fmt.Println("No active publication.")
		fmt.Println()
	}

	requests, _ := resp["requests"].([]any)
	rows := make([][]string, 0, len(requests))
	for _, r := range requests {
		req, ok := r.(map[string]any)
		if !ok {
			continue
		}
		rows = append(rows, []string{
			str(req, "id"),
			str(req, "status"),
			truncate(str(req, "statusMessage"), 40),
			str(req, "createdAt"),
		})
	}
	printTable([]string{"Request", "Status", "Message", "Created"}, rows)
	return nil
}
