package main

import (
	"context"
	"fmt"
	"time"

	"github.com/atomix/catalog/pkg/consensus"
	"github.com/atomix/catalog/pkg/transport"
	"github.com/atomix/catalog/pkg/types"
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Add a member to a running cluster by contacting its leader",
	Long: `join proposes a membership change against an already-running cluster.
A fresh member always joins as Reserve and is promoted by the leader's
rebalancer once it catches up (§9 decisions). --stateful asks for
Passive, but the leader records every joining member as Reserve.`,
	RunE: runJoin,
}

func init() {
	joinCmd.Flags().String("leader", "", "Address of any current cluster member (required)")
	joinCmd.Flags().String("member-id", "", "This member's id (required)")
	joinCmd.Flags().String("server-addr", "", "This member's peer RPC address (required)")
	joinCmd.Flags().String("client-addr", "", "This member's client-facing address")
	joinCmd.Flags().Bool("stateful", false, "Ask to join as Passive (log-replicating); the leader still records the member as Reserve")
	_ = joinCmd.MarkFlagRequired("leader")
	_ = joinCmd.MarkFlagRequired("member-id")
	_ = joinCmd.MarkFlagRequired("server-addr")
}

func runJoin(cmd *cobra.Command, args []string) error {
	leaderAddr, _ := cmd.Flags().GetString("leader")
	memberID, _ := cmd.Flags().GetString("member-id")
	serverAddr, _ := cmd.Flags().GetString("server-addr")
	clientAddr, _ := cmd.Flags().GetString("client-addr")
	stateful, _ := cmd.Flags().GetBool("stateful")
	memberType := joinMemberType(stateful)

	client, err := transport.Dial(leaderAddr)
	if err != nil {
		return fmt.Errorf("catalogd: dial %s: %w", leaderAddr, err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := client.SendConfigure(ctx, consensus.ConfigureRequest{
		Join: &types.Member{
			ID:            memberID,
			Type:          memberType,
			ServerAddress: serverAddr,
			ClientAddress: clientAddr,
		},
	})
	if err != nil {
		return fmt.Errorf("catalogd: configure: %w", err)
	}
	if resp.Status != consensus.StatusOK {
		return fmt.Errorf("catalogd: join rejected: %v", resp.Error)
	}
	fmt.Printf("member %s joined as %s\n", memberID, types.MemberReserve)
	return nil
}

// joinMemberType picks the member type the join request carries: Reserve
// by default, or Passive when --stateful is set. The leader's ProposeJoin
// records every joining member as Reserve whichever type is sent.
func joinMemberType(stateful bool) types.MemberType {
	if stateful {
		return types.MemberPassive
	}
	return types.MemberReserve
}
