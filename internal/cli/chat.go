package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/messenger-client/internal/model"
)

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return id, nil
}

func newConversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List your conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			res, err := e.engine.Conversations(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(res.Data) == 0 {
				fmt.Fprintln(out, "no conversations")
				return nil
			}
			me, now := e.engine.Session().UserID(), time.Now()
			for _, c := range res.Data {
				fmt.Fprintln(out, formatConversation(c, me, now))
			}
			return nil
		},
	}
}

func newMessagesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "messages <conversation-id>",
		Short: "Show messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "conversation id")
			if err != nil {
				return err
			}
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			res, err := e.engine.Messages(cmd.Context(), id)
			if err != nil {
				return err
			}
			msgs := res.Data
			if limit > 0 && len(msgs) > limit {
				msgs = msgs[len(msgs)-limit:]
			}
			me, now := e.engine.Session().UserID(), time.Now()
			for _, m := range msgs {
				fmt.Fprintln(cmd.OutOrStdout(), formatMessage(m, me, now))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 30, "show only the last n messages (0 for all)")
	return cmd
}

func newSendCmd() *cobra.Command {
	var replyTo int64
	cmd := &cobra.Command{
		Use:   "send <conversation-id> <text...>",
		Short: "Send a text message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "conversation id")
			if err != nil {
				return err
			}
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			msg := model.OutgoingMessage{ConversationID: id, Content: strings.Join(args[1:], " ")}
			if replyTo > 0 {
				msg.ParentID = &replyTo
			}
			sent, err := e.engine.SendMessage(cmd.Context(), msg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent #%d\n", sent.ID)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&replyTo, "reply", "r", 0, "id of the message to reply to")
	return cmd
}

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation-id>",
		Short: "Mark a conversation as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "conversation id")
			if err != nil {
				return err
			}
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			if _, err := e.engine.Messages(cmd.Context(), id); err != nil {
				return err
			}
			n, err := e.engine.MarkConversationRead(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %d message(s) read\n", n)
			return nil
		},
	}
}

func newOnlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "online",
		Short: "List online users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			res, err := e.engine.OnlineUsers(cmd.Context())
			if err != nil {
				return err
			}
			if len(res.Data) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nobody online")
				return nil
			}
			for _, u := range res.Data {
				fmt.Fprintln(cmd.OutOrStdout(), formatUser(u))
			}
			return nil
		},
	}
}
