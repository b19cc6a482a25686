package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mentorchat/internal/chat"
	"mentorchat/internal/db"
	"mentorchat/internal/logging"
)

type options struct {
	wsURL    string
	dsn      string
	secret   string
	claim    string
	pairs    int
	msgCount int
	interval time.Duration
	timeout  time.Duration
}

type stats struct {
	sent     atomic.Int64
	received atomic.Int64
	failed   atomic.Int64
}

func main() {
	var opts options
	flag.StringVar(&opts.wsURL, "ws", "ws://localhost:8080/ws", "relay websocket endpoint")
	flag.StringVar(&opts.dsn, "dsn", os.Getenv("MENTORCHAT_DATABASE_DSN"), "postgres DSN used to seed accepted conversations")
	flag.StringVar(&opts.secret, "secret", os.Getenv("MENTORCHAT_AUTH_JWT_SECRET"), "HMAC secret shared with the server")
	flag.StringVar(&opts.claim, "claim", "_id", "identity claim")
	flag.IntVar(&opts.pairs, "pairs", 50, "number of user pairs")
	flag.IntVar(&opts.msgCount, "messages", 20, "messages sent per user")
	flag.DurationVar(&opts.interval, "interval", 10*time.Millisecond, "pause between sends")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "how long to wait for deliveries")
	flag.Parse()

	logger, err := logging.NewLogger("info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(context.Background(), opts, logger); err != nil {
		logger.Fatal("load test failed", zap.Error(err))
	}
}

func run(ctx context.Context, opts options, logger *zap.Logger) error {
	if opts.dsn == "" || opts.secret == "" {
		return errors.New("-dsn and -secret are required")
	}
	database, err := db.NewDatabase(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer database.Close()
	if err := database.AutoMigrate(ctx); err != nil {
		return err
	}
	conversations := chat.NewConversationRepository(database.Conn)

	logger.Info("starting load test", zap.Int("users", opts.pairs*2), zap.Int("messages_per_user", opts.msgCount))
	start := time.Now()
	var st stats
	var wg sync.WaitGroup

	// pairs: u_0_a talks to u_0_b, u_1_a to u_1_b ...
	for i := 0; i < opts.pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(ctx, opts, conversations, pairID, &st, logger); err != nil {
				st.failed.Add(1)
				logger.Warn("pair failed", zap.Int("pair", pairID), zap.Error(err))
			}
		}(i)
	}
	wg.Wait()

	expected := int64(opts.pairs * opts.msgCount * 2 * 2)
	logger.Info("load test complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("sent", st.sent.Load()),
		zap.Int64("received", st.received.Load()),
		zap.Int64("expected_received", expected),
		zap.Int64("failed_pairs", st.failed.Load()),
	)
	return nil
}

func ensureConversation(ctx context.Context, repo *chat.ConversationRepository, a, b string) error {
	if _, err := repo.Resolve(ctx, a, b); err == nil {
		return nil
	} else if !errors.Is(err, chat.ErrConversationNotFound) {
		return err
	}
	_, err := repo.Create(ctx, a, b, chat.StatusAccepted)
	return err
}

func mintToken(opts options, identity string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		opts.claim: identity,
		"exp":      time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(opts.secret))
}

func runPair(ctx context.Context, opts options, repo *chat.ConversationRepository, pairID int, st *stats, logger *zap.Logger) error {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	if err := ensureConversation(ctx, repo, userA, userB); err != nil {
		return fmt.Errorf("seed conversation: %w", err)
	}

	connA, err := dial(opts, userA, userB)
	if err != nil {
		return err
	}
	defer connA.Close()
	connB, err := dial(opts, userB, userA)
	if err != nil {
		return err
	}
	defer connB.Close()

	// with echo on, every socket sees both users' messages
	want := int64(opts.msgCount * 2)
	var wg sync.WaitGroup
	wg.Add(4)
	go drain(&wg, connA, want, opts.timeout, st)
	go drain(&wg, connB, want, opts.timeout, st)
	go spamChat(&wg, connA, userA, opts, st, logger)
	go spamChat(&wg, connB, userB, opts, st, logger)
	wg.Wait()
	return nil
}

func dial(opts options, self, peer string) (*websocket.Conn, error) {
	token, err := mintToken(opts, self)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(opts.wsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("authToken", token)
	q.Set("peerIdentity", peer)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("ws connect %s: %w", self, err)
	}
	// the backlog batch arrives first
	conn.SetReadDeadline(time.Now().Add(opts.timeout))
	if _, _, err := conn.ReadMessage(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("backlog %s: %w", self, err)
	}
	return conn, nil
}

func drain(wg *sync.WaitGroup, conn *websocket.Conn, want int64, timeout time.Duration, st *stats) {
	defer wg.Done()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var got int64
	for got < want {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var batch []chat.Record
		if json.Unmarshal(data, &batch) != nil {
			continue
		}
		got += int64(len(batch))
		st.received.Add(int64(len(batch)))
	}
}

func spamChat(wg *sync.WaitGroup, conn *websocket.Conn, user string, opts options, st *stats, logger *zap.Logger) {
	defer wg.Done()
	for i := 0; i < opts.msgCount; i++ {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("LoadTest Msg %d from %s", i, user))); err != nil {
			logger.Warn("send failed", zap.String("user", user), zap.Error(err))
			return
		}
		st.sent.Add(1)
		time.Sleep(opts.interval)
	}
}
