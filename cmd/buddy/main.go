package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/api"
	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/auth"
	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/buddytest"
	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/chat"
	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/config"
	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/logger"
	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/model"
	"github.com/DaiAnhBui/PRJ-Buddy-App/internal/socket"
)

func main() {
	logger.SetPrefix("buddy")
	dev := flag.Bool("dev", false, "start with an in-process backend (no deployed backend required)")
	flag.Parse()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *dev {
		token, cleanup, err := startDevBackend(cfg)
		if err != nil {
			logger.Errorf("dev backend: %v", err)
			os.Exit(1)
		}
		defer cleanup()
		cfg.Token = token
	}

	token, err := cfg.BearerToken()
	if err != nil || token == "" {
		logger.Errorf("no bearer token configured (BUDDY_TOKEN or BUDDY_TOKEN_FILE): %v", err)
		os.Exit(1)
	}
	identity, err := auth.IdentityFromToken(token)
	if err != nil {
		logger.Errorf("identity: %v", err)
		os.Exit(1)
	}

	backend := api.NewClient(cfg.APIURL, auth.StaticToken(token), cfg.HTTPTimeout)
	userID, err := backend.ResolveUserID(ctx, identity.Username)
	if err != nil {
		logger.Errorf("resolve user id: %v", err)
		os.Exit(1)
	}
	logger.Infof("signed in as %s (%s)", identity.Username, userID)

	conn := socket.New(cfg.SocketURL, cfg.ReconnectMinDelay, cfg.ReconnectMaxDelay)
	conn.OnConnected(func() { fmt.Println("* channel connected") })
	conn.Connect(ctx)
	defer conn.Close()
	conn.Setup(userID)

	go func() {
		for err := range conn.Errors() {
			fmt.Printf("! error occurred: %v\n", err)
		}
	}()

	core := chat.New(backend, conn, chat.Options{
		TypingStopDelay: cfg.TypingStopDelay,
		Notice:          func(text string) { fmt.Println("!", text) },
		OnRefresh:       func() { fmt.Println("* chat list changed, run /chats to refresh") },
	})

	runLoop(ctx, core, backend, identity.Username)
}

// runLoop is a line-oriented surface over the messaging core.
func runLoop(ctx context.Context, core *chat.Client, backend *api.Client, username string) {
	fmt.Println("commands: /chats, /open <n>, /log, /notifications, /read <n>, /quit; anything else sends")
	var chats []model.Chat

	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "/quit":
			return
		case line == "/chats":
			var err error
			chats, err = backend.Chats(ctx)
			if err != nil {
				fmt.Println("! failed to load the chats")
				continue
			}
			for i, c := range chats {
				fmt.Printf("%2d. %s\n", i+1, c.DisplayName(username))
			}
		case strings.HasPrefix(line, "/open "):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/open ")))
			if err != nil || n < 1 || n > len(chats) {
				fmt.Println("! /open wants a chat number from /chats")
				continue
			}
			core.Open(ctx, chats[n-1])
			fmt.Printf("* opened %s\n", chats[n-1].DisplayName(username))
		case line == "/log":
			if core.Loading() {
				fmt.Println("* loading...")
			}
			for _, m := range core.Messages() {
				fmt.Printf("%s: %s\n", m.Sender.Name, m.Content)
			}
			if core.RemoteTyping() {
				fmt.Println("* typing...")
			}
		case line == "/notifications":
			notifs := core.Notifications()
			if len(notifs) == 0 {
				fmt.Println("no new messages")
			}
			for i, n := range notifs {
				if n.Chat.IsGroupChat {
					fmt.Printf("%2d. new message in %s\n", i+1, n.Chat.ChatName)
				} else {
					fmt.Printf("%2d. new message from %s\n", i+1, n.Sender.Name)
				}
			}
		case strings.HasPrefix(line, "/read "):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/read ")))
			notifs := core.Notifications()
			if err != nil || n < 1 || n > len(notifs) {
				fmt.Println("! /read wants a notification number")
				continue
			}
			if core.OpenNotification(ctx, notifs[n-1].ID) {
				fmt.Printf("* opened %s\n", notifs[n-1].Chat.DisplayName(username))
			}
		case line == "":
			continue
		default:
			core.Keystroke()
			if _, err := core.Send(ctx, line); err == chat.ErrNoOpenChat {
				fmt.Println("! open a chat first (/chats, /open <n>)")
			}
		}
	}
}

// startDevBackend runs the in-process backend on a loopback port, seeds two
// users and their chats, and points the config at it.
func startDevBackend(cfg *config.Config) (token string, cleanup func(), err error) {
	srv := buddytest.New()
	alice := srv.AddUser("Alice", "alice")
	bob := srv.AddUser("Bob", "bob")
	dm := srv.AddDirectChat(alice, bob)
	srv.AddGroupChat("buddies", alice, bob)
	srv.SeedMessage(dm.ID, bob, "hey!")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}
	httpSrv := &http.Server{Handler: srv.Handler()}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Errorf("dev backend serve: %v", err)
		}
	}()

	addr := ln.Addr().String()
	cfg.APIURL = "http://" + addr
	cfg.SocketURL = "ws://" + addr + "/ws"
	logger.Infof("dev backend on %s (users: alice, bob)", addr)

	return buddytest.DevToken("alice", "Alice"), func() { httpSrv.Close() }, nil
}
