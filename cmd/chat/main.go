package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/pkg/sys"

	"main/internal/chat"
	"main/internal/history"
	"main/internal/netmon"
	"main/internal/ops"
	"main/pkg/conn"
	"main/pkg/realtime"
)

func main() {
	if err := run(); err != nil {
		log.Printf("chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	endpointFlag := flag.String("endpoint", "", "relay endpoint (ws:// or wss://)")
	tokenFlag := flag.String("token", "", "bearer token for the handshake")
	userFlag := flag.String("user", "", "user id to chat as")
	roomFlag := flag.String("room", "room:lobby", "room topic to join")
	configPath := flag.String("config", "", "path to JSON config")
	pyroscopeAddr := flag.String("pyroscope", "", "pyroscope server address (empty=disable)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "chat/client",
			ServerAddress:   *pyroscopeAddr,
			Tags: map[string]string{
				"env": "local",
			},
			Logger: emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	loaded, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	endpoint := *endpointFlag
	if endpoint == "" {
		endpoint = loaded.Endpoint.URL
	}
	if endpoint == "" {
		endpoint = "ws://127.0.0.1:8737/ws"
	}
	token := *tokenFlag
	if token == "" {
		token = loaded.Endpoint.Token
	}
	user := *userFlag
	if user == "" {
		user = loaded.Session.UserID
	}
	if user == "" {
		return errors.New("missing user; use -user")
	}
	room := strings.TrimSpace(*roomFlag)
	if room == "" {
		return errors.New("missing room; use -room")
	}
	if !strings.Contains(endpoint, "?") {
		endpoint += "?user=" + url.QueryEscape(user)
	}

	var creds realtime.CredentialProvider
	if token != "" {
		creds = realtime.StaticToken(token)
	}
	var dialOpts []realtime.DialOption
	if loaded.Endpoint.HandshakeTimeout > 0 {
		dialOpts = append(dialOpts, realtime.WithHandshakeTimeout(loaded.Endpoint.HandshakeTimeout))
	}
	if loaded.Endpoint.ReadWait > 0 {
		dialOpts = append(dialOpts, realtime.WithReadWait(loaded.Endpoint.ReadWait))
	}
	if loaded.Endpoint.WriteWait > 0 {
		dialOpts = append(dialOpts, realtime.WithWriteWait(loaded.Endpoint.WriteWait))
	}

	store, closeStore, err := openStore(loaded.Postgres)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	sessionCfg := loaded.Session
	sessionCfg.UserID = user
	sessionCfg.Dialer = realtime.NewDialer(endpoint, creds, dialOpts...)
	sessionCfg.Store = store
	if loaded.Probe != nil {
		monitor := netmon.New()
		sessionCfg.Monitor = monitor
		prober := &netmon.Prober{
			Monitor:       monitor,
			Addr:          loaded.Probe.Addr,
			Interval:      loaded.Probe.Interval,
			Timeout:       loaded.Probe.Timeout,
			FailThreshold: loaded.Probe.FailThreshold,
		}
		go func() {
			_ = prober.Run(ctx)
		}()
	}

	session, err := chat.NewSession(sessionCfg)
	if err != nil {
		return err
	}
	defer session.Close()

	sub, err := session.Subscribe(room)
	if err != nil {
		return err
	}
	if err := session.Connect(ctx); err != nil {
		return err
	}

	go renderEvents(ctx, session)
	go renderRoom(ctx, session, sub)

	fmt.Printf("joined %s as %s (/quit to exit)\n", room, user)
	return readLines(ctx, session, sub, room)
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return ops.Loaded{}, nil
	}
	return ops.Load(path)
}

func openStore(opt *conn.Option) (chat.Store, func(), error) {
	if opt == nil {
		return history.NewMemoryStore(), nil, nil
	}
	client, err := conn.New(*opt)
	if err != nil {
		return nil, nil, err
	}
	store, err := history.NewPostgresStore(client)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return store, func() { client.Close() }, nil
}

// readLines pumps stdin into the session until EOF, /quit, a signal or
// shutdown.
func readLines(ctx context.Context, session *chat.Session, sub *chat.Subscription, room string) error {
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
		case <-sys.Shutdown():
			return nil
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if !handleLine(session, sub, room, line) {
				return nil
			}
		}
	}
}

func handleLine(session *chat.Session, sub *chat.Subscription, room, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	switch {
	case line == "/quit":
		return false
	case line == "/stats":
		printStats(session, sub)
	case line == "/typing":
		session.TypingPulse(room)
	case strings.HasPrefix(line, "/history"):
		printHistory(session, room, strings.TrimSpace(strings.TrimPrefix(line, "/history")))
	case strings.HasPrefix(line, "/retry "):
		if _, err := session.Retry(strings.TrimSpace(strings.TrimPrefix(line, "/retry "))); err != nil {
			log.Printf("retry failed: %v", err)
		}
	case strings.HasPrefix(line, "/discard "):
		if _, err := session.Discard(strings.TrimSpace(strings.TrimPrefix(line, "/discard "))); err != nil {
			log.Printf("discard failed: %v", err)
		}
	case strings.HasPrefix(line, "/location "):
		fields := strings.Fields(strings.TrimPrefix(line, "/location "))
		if len(fields) != 2 {
			log.Printf("usage: /location <lat> <lng>")
			return true
		}
		if _, err := session.SendLocation(room, fields[0], fields[1]); err != nil {
			log.Printf("send location failed: %v", err)
		}
	default:
		if _, err := session.Send(room, line); err != nil {
			log.Printf("send failed: %v", err)
		}
	}
	return true
}

func printStats(session *chat.Session, sub *chat.Subscription) {
	snapshot := session.Stats()
	transport := session.TransportStats()
	fmt.Printf("sent=%d received=%d failed=%d dups=%d receipts=%d reconnects=%d pending=%d\n",
		snapshot.MessagesSent, snapshot.MessagesReceived, snapshot.MessagesFailed,
		snapshot.DuplicateDrops, snapshot.ReceiptsApplied, snapshot.Reconnects,
		session.PendingCount())
	fmt.Printf("frames_in=%d frames_out=%d frames_dropped=%d room_dropped=%d send_avg=%s delivery_avg=%s\n",
		transport.FramesIn, transport.FramesOut, transport.FramesDropped,
		sub.Dropped(), snapshot.SendLatency.Avg, snapshot.DeliveryLatency.Avg)
}

func printHistory(session *chat.Session, room, arg string) {
	limit := 20
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			log.Printf("usage: /history [count]")
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := session.History(ctx, room, chat.Range{Limit: limit})
	if err != nil {
		log.Printf("history failed: %v", err)
		return
	}
	for _, msg := range msgs {
		fmt.Printf("%s %s: %s [%s]\n",
			msg.CreatedAt.Format("15:04:05"), msg.SenderID, renderBody(msg), msg.State)
	}
}

// renderEvents prints link transitions and delivery-state ticks.
func renderEvents(ctx context.Context, session *chat.Session) {
	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			switch event := ev.(type) {
			case chat.LinkEvent:
				fmt.Printf("* link %s -> %s\n", event.From, event.To)
			case chat.MessageStateChanged:
				fmt.Printf("* message %s: %s\n", shortID(event.Message.ID), event.Message.State)
			case chat.AuthExpired:
				fmt.Printf("* credential rejected, restart with a fresh token\n")
			}
		}
	}
}

// renderRoom prints the room stream and acknowledges what it shows:
// a rendered message counts as read.
func renderRoom(ctx context.Context, session *chat.Session, sub *chat.Subscription) {
	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			switch event := ev.(type) {
			case chat.MessageReceived:
				fmt.Printf("%s: %s\n", event.Message.SenderID, renderBody(event.Message))
				if err := session.MarkRead(event.Message.Topic, event.Message.ID); err != nil {
					log.Printf("mark read failed: %v", err)
				}
			case chat.TypingStarted:
				fmt.Printf("* %s is typing\n", event.UserID)
			case chat.TypingStopped:
				fmt.Printf("* %s stopped typing\n", event.UserID)
			}
		}
	}
}

func renderBody(msg chat.Message) string {
	if msg.Kind == chat.KindLocation {
		return "location " + chat.DecimalString(msg.Lat) + "," + chat.DecimalString(msg.Lng)
	}
	return msg.Content
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
