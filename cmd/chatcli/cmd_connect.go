package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"mentorchat/internal/chat"
	"mentorchat/internal/chatclient"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Chat live with a peer",
	Long: `Open a live session with --peer. Cached history is printed first, then
every line typed on stdin is sent as a message. Ctrl-D or Ctrl-C quits.`,
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().String("self", "", "Your own identity, used to recognise echoes of your messages")
	connectCmd.Flags().String("peer", "", "Identity of the chat partner")
	connectCmd.Flags().String("cache", ":memory:", "Path of the local message cache")
	connectCmd.Flags().Bool("json-frames", false, "Send JSON frames with a client message id")
	connectCmd.Flags().Bool("no-echo", false, "Server runs with relay.echo_to_sender off")
	_ = connectCmd.MarkFlagRequired("self")
	_ = connectCmd.MarkFlagRequired("peer")
}

func wsURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func printMessage(self string, m chatclient.CachedMessage, pending bool) {
	who := m.SenderID
	if who == self {
		who = "me"
	}
	if pending {
		fmt.Printf("[pending] %s: %s\n", who, m.Text)
		return
	}
	fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), who, m.Text)
}

func runConnect(cmd *cobra.Command, args []string) error {
	token, err := tokenFlag(cmd)
	if err != nil {
		return err
	}
	server, _ := cmd.Flags().GetString("server")
	self, _ := cmd.Flags().GetString("self")
	peer, _ := cmd.Flags().GetString("peer")
	cachePath, _ := cmd.Flags().GetString("cache")
	jsonFrames, _ := cmd.Flags().GetBool("json-frames")
	noEcho, _ := cmd.Flags().GetBool("no-echo")

	logger := newLogger(cmd)
	defer logger.Sync()

	endpoint, err := wsURL(server)
	if err != nil {
		return fmt.Errorf("invalid --server: %w", err)
	}

	cache, err := chatclient.OpenCache(cachePath)
	if err != nil {
		return err
	}
	defer cache.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cached, err := cache.Tail(ctx, peer)
	if err != nil {
		return err
	}
	for _, m := range cached {
		printMessage(self, m, false)
	}

	format := chat.FrameText
	if jsonFrames {
		format = chat.FrameJSON
	}
	conn, err := chatclient.Dial(ctx, chatclient.DialOptions{
		ServerURL:   endpoint,
		Token:       token,
		Self:        self,
		Peer:        peer,
		FrameFormat: format,
		NoEcho:      noEcho,
		Cache:       cache,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer conn.Close()
	fmt.Fprintf(os.Stderr, "connected to %s as %s, chatting with %s\n", server, self, peer)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case batch, ok := <-conn.Updates():
			if !ok {
				if err := conn.Err(); err != nil {
					return fmt.Errorf("connection closed: %w", err)
				}
				fmt.Fprintln(os.Stderr, "connection closed by server")
				return nil
			}
			for _, m := range batch {
				printMessage(self, m, false)
			}

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			p, err := conn.Send(line)
			if err != nil {
				return err
			}
			printMessage(self, chatclient.CachedMessage{SenderID: self, Text: p.Text}, true)
		}
	}
}
