package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/syncer"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and print new messages as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			if !e.engine.Session().IsAuthenticated() {
				return fmt.Errorf("not logged in")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			updates, unsubscribe := e.engine.Updates()
			defer unsubscribe()

			done := make(chan error, 1)
			go func() { done <- e.engine.Run(ctx) }()

			w := newWatcher(e.engine, cmd.OutOrStdout())
			w.prime(ctx)
			for {
				select {
				case <-ctx.Done():
					return <-done
				case err := <-done:
					return err
				case u := <-updates:
					w.handle(ctx, u)
				}
			}
		},
	}
}

// watcher печатает сообщения с id больше последнего показанного в беседе.
type watcher struct {
	engine *syncer.Engine
	out    io.Writer
	last   map[int64]int64
}

func newWatcher(engine *syncer.Engine, out io.Writer) *watcher {
	return &watcher{engine: engine, out: out, last: make(map[int64]int64)}
}

func (w *watcher) prime(ctx context.Context) {
	res, err := w.engine.Conversations(ctx)
	if err != nil {
		fmt.Fprintf(w.out, "! %v\n", err)
		return
	}
	for _, c := range res.Data {
		msgs, err := w.engine.Messages(ctx, c.ID)
		if err != nil {
			continue
		}
		w.last[c.ID] = maxID(msgs.Data)
	}
}

func (w *watcher) handle(ctx context.Context, u syncer.Update) {
	switch u.Type {
	case syncer.UpdateState:
		fmt.Fprintf(w.out, "* %s\n", u.State)
	case syncer.UpdateSession:
		if !w.engine.Session().IsAuthenticated() {
			fmt.Fprintln(w.out, "* logged out")
		}
	case syncer.UpdateNotice:
		if u.Notice != nil {
			fmt.Fprintf(w.out, "! %s: %s\n", u.Notice.Op, u.Notice.Message)
		}
	case syncer.UpdateTyping:
		for _, user := range w.engine.TypingUsers(u.ConversationID) {
			fmt.Fprintf(w.out, "  #%d %s is typing...\n", u.ConversationID, user.Username)
		}
	case syncer.UpdateCache:
		if u.ConversationID != 0 {
			w.printNew(ctx, u.ConversationID)
		}
	}
}

func (w *watcher) printNew(ctx context.Context, conversationID int64) {
	res, err := w.engine.Messages(ctx, conversationID)
	if err != nil {
		return
	}
	me, now := w.engine.Session().UserID(), time.Now()
	last := w.last[conversationID]
	for _, m := range res.Data {
		if m.ID > last {
			fmt.Fprintf(w.out, "#%d %s\n", conversationID, formatMessage(m, me, now))
		}
	}
	if id := maxID(res.Data); id > last {
		w.last[conversationID] = id
	}
}

func maxID(msgs []*model.Message) int64 {
	var id int64
	for _, m := range msgs {
		if m.ID > id {
			id = m.ID
		}
	}
	return id
}
