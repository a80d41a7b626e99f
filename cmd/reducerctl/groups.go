package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage selection groups",
}

var groupsListCmd = &cobra.Command{
	Use:   "list <content-id>",
	Short: "List selection groups of a content item",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupsList,
}

var groupsGetCmd = &cobra.Command{
	Use:   "get <group-id>",
	Short: "Show one selection group",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupsGet,
}

var groupsCreateCmd = &cobra.Command{
	Use:   "create <content-id> <name>",
	Short: "Create a selection group",
	Args:  cobra.ExactArgs(2),
	RunE:  runGroupsCreate,
}

var groupsDeleteCmd = &cobra.Command{
	Use:   "delete <group-id>",
	Short: "Delete a selection group",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupsDelete,
}

var groupsSelectCmd = &cobra.Command{
	Use:   "select <group-id> [value-id...]",
	Short: "Replace the group's selection and start a reduction",
	Long: `Replace the group's selected hierarchy values. With value IDs, a
reduction task is started and its ID printed. With no value IDs, the group is
set to the empty selection immediately. With --to-master, the group is
promoted back to the full master document.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGroupsSelect,
}

var groupsCancelCmd = &cobra.Command{
	Use:   "cancel <group-id>",
	Short: "Cancel the group's in-flight reduction task",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupsCancel,
}

var (
	groupCreateMaster bool
	selectToMaster    bool
)

func init() {
	groupsCreateCmd.Flags().BoolVar(&groupCreateMaster, "master", false, "Create a master group that always serves the full document")
	groupsSelectCmd.Flags().BoolVar(&selectToMaster, "to-master", false, "Promote the group back to the full master document")

	groupsCmd.AddCommand(groupsListCmd)
	groupsCmd.AddCommand(groupsGetCmd)
	groupsCmd.AddCommand(groupsCreateCmd)
	groupsCmd.AddCommand(groupsDeleteCmd)
	groupsCmd.AddCommand(groupsSelectCmd)
	groupsCmd.AddCommand(groupsCancelCmd)
}

func runGroupsList(cmd *cobra.Command, args []string) error {
	client := newClient()

	var resp map[string]any
	if err := client.getJSON(apiBase+"/groups?contentItemId="+args[0], &resp); err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(resp)
	}

	groups, _ := resp["groups"].([]any)
	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			continue
		}
		master := ""
		if b, _ := group["isMaster"].(bool); b {
			master = "yes"
		}
		suspended := ""
		if b, _ := group["isSuspended"].(bool); b {
			suspended = "yes"
		}
		selected, _ := group["selectedValueIds"].([]any)
		rows = append(rows, []string{
			str(group, "id"),
			str(group, "name"),
			master,
			suspended,
			fmt.Sprintf("%d", len(selected)),
		})
	}
	printTable([]string{"ID", "Name", "Master", "Suspended", "Selected"}, rows)
	return nil
}

func runGroupsGet(cmd *cobra.Command, args []string) error {
	client := newClient()

	var resp map[string]any
	if err := client.getJSON(apiBase+"/groups/"+args[0], &resp); err != nil {
		return err
	}
	if outputFmt == "table" {
		outputFmt = "yaml"
	}
	return printOutput(resp)
}

func runGroupsCreate(cmd *cobra.Command, args []string) error {
	client := newClient()

	var resp map[string]any
	err := client.postJSON(apiBase+"/groups", map[string]any{
		"contentItemId": args[0],
		"name":          args[1],
		"isMaster":      groupCreateMaster,
	}, &resp)
	if err != nil {
		return err
	}

	fmt.Printf("Group %s created.\n", str(resp, "id"))
	return nil
}

func runGroupsDelete(cmd *cobra.Command, args []string) error {
	client := newClient()

	if err := client.delete(apiBase + "/groups/" + args[0]); err != nil {
		return err
	}
	fmt.Printf("Group %s deleted.\n", args[0])
	return nil
}

func runGroupsSelect(cmd *cobra.Command, args []string) error {
	groupID := args[0]
	valueIDs := args[1:]

	if selectToMaster && len(valueIDs) > 0 {
		return fmt.Errorf("--to-master cannot be combined with value IDs")
	}

	client := newClient()

	var resp map[string]any
	err := client.putJSON(apiBase+"/groups/"+groupID+"/selections", map[string]any{
		"toMaster": selectToMaster,
		"valueIds": valueIDs,
	}, &resp)
	if err != nil {
		return err
	}

	task, ok := resp["task"].(map[string]any)
	if !ok {
		fmt.Printf("Selection of group %s applied, no reduction needed.\n", groupID)
		return nil
	}
	fmt.Printf("Reduction task %s started (status %s).\n", str(task, "id"), str(task, "status"))
	return nil
}

func runGroupsCancel(cmd *cobra.Command, args []string) error {
	client := newClient()

	var resp map[string]any
	err := client.postJSON(apiBase+"/groups/"+args[0]+"/selections:cancel", map[string]any{}, &resp)
	if err != nil {
		return err
	}
	fmt.Printf("Task %s canceled.\n", str(resp, "id"))
	return nil
}
