package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/heritage-client/internal/session"
	appsync "github.com/nhle/heritage-client/internal/sync"
)

var (
	listUnread bool
	listPage   int
	listLimit  int
)

// notificationsCmd groups the one-shot notification commands.
var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"n"},
	Short:   "Read and manage notifications",
	Long: `Read and manage notifications.

Available subcommands:
  count    - Print the number of unread notifications
  list     - List one page of notifications, newest first
  read     - Mark one notification as read
  read-all - Mark every notification as read`,
}

var notificationsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of unread notifications",
	Args:  cobra.NoArgs,
	RunE:  runNotificationsCount,
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications, newest first",
	Args:  cobra.NoArgs,
	RunE:  runNotificationsList,
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotificationsRead,
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification as read",
	Args:  cobra.NoArgs,
	RunE:  runNotificationsReadAll,
}

// watchCmd polls the unread count in the foreground and prints changes.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the unread count whenever it changes",
	Long: `Poll the unread notification count and print it whenever it changes,
backing off while the server is unreachable. Stops on Ctrl+C or when the
session ends.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	notificationsListCmd.Flags().BoolVar(&listUnread, "unread", false, "Only unread notifications")
	notificationsListCmd.Flags().IntVar(&listPage, "page", 1, "Page number, starting at 1")
	notificationsListCmd.Flags().IntVar(&listLimit, "limit", 0, "Page size (default from config)")

	notificationsCmd.AddCommand(
		notificationsCountCmd,
		notificationsListCmd,
		notificationsReadCmd,
		notificationsReadAllCmd,
	)
}

// withSession opens a runtime with a restored session and runs fn.
func withSession(cmd *cobra.Command, fn func(rt *runtime) error) error {
	rt, err := openRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.requireSession(cmd.Context()); err != nil {
		return err
	}
	return fn(rt)
}

func runNotificationsCount(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(rt *runtime) error {
		n, err := rt.poller.FetchUnreadCount(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	})
}

func runNotificationsList(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(rt *runtime) error {
		items, err := rt.poller.FetchFeed(cmd.Context(), appsync.FeedQuery{
			UnreadOnly: listUnread,
			Page:       listPage,
			PageSize:   listLimit,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, "No notifications")
			return nil
		}
		for _, n := range items {
			marker := " "
			if !n.Read {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %-8s %-13s %s", marker, n.ID, "["+string(n.Type)+"]", n.Message)
			if !n.CreatedAt.IsZero() {
				fmt.Fprintf(out, "  (%s)", n.CreatedAt.Local().Format(time.DateTime))
			}
			fmt.Fprintln(out)
		}
		return nil
	})
}

func runNotificationsRead(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(rt *runtime) error {
		if err := rt.poller.MarkRead(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Marked %s as read\n", args[0])
		return nil
	})
}

func runNotificationsReadAll(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(rt *runtime) error {
		if err := rt.poller.MarkAllRead(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All notifications marked as read")
		return nil
	})
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := openRuntime(true)
	if err != nil {
		return err
	}
	defer rt.Close()

	var mu sync.Mutex
	counts := make(chan int, 1)
	unsub := rt.poller.Subscribe(func(n int) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case <-counts:
		default:
		}
		counts <- n
	})
	defer unsub()

	ended := make(chan struct{})
	var endOnce sync.Once
	stopWatch := rt.session.Subscribe(func(s session.Snapshot) {
		if s.State == session.StateAnonymous {
			endOnce.Do(func() { close(ended) })
		}
	})
	defer stopWatch()

	if err := rt.requireSession(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching notifications for %s (Ctrl+C to stop)\n", rt.session.Snapshot().User.DisplayName())
	last := -1
	show := func(n int) {
		if n != last {
			last = n
			fmt.Fprintf(out, "%s  %d unread\n", time.Now().Format(time.TimeOnly), n)
		}
	}
	if n, err := rt.poller.FetchUnreadCount(ctx); err == nil {
		show(n)
	}
	for {
		select {
		case n := <-counts:
			show(n)
		case <-ended:
			return fmt.Errorf("session ended: run 'heritage login' to sign in again")
		case <-ctx.Done():
			logger.Debug("watch stopped", zap.Int("failures", rt.poller.Failures()))
			return nil
		}
	}
}
