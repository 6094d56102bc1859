package main

import (
	"context"
	"fmt"
	"time"

	"github.com/atomix/catalog/pkg/transport"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [addr]",
	Short: "Print a member's consensus status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr := args[0]
	client, err := transport.Dial(addr)
	if err != nil {
		return fmt.Errorf("catalogd: dial %s: %w", addr, err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("catalogd: status: %w", err)
	}

	fmt.Printf("id:            %s\n", resp.ID)
	fmt.Printf("role:          %s\n", resp.Role)
	fmt.Printf("term:          %d\n", resp.Term)
	fmt.Printf("leader:        %s\n", resp.Leader)
	fmt.Printf("commit_index:  %d\n", resp.CommitIndex)
	fmt.Printf("last_applied:  %d\n", resp.LastApplied)
	fmt.Printf("global_index:  %d\n", resp.GlobalIndex)
	fmt.Printf("members:       %d\n", resp.Members)
	return nil
}
