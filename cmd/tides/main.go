package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/arbadacarbaYK/tides/internal/config"
	"github.com/arbadacarbaYK/tides/internal/crypto"
	"github.com/arbadacarbaYK/tides/internal/messaging"
	internalnostr "github.com/arbadacarbaYK/tides/internal/nostr"
	"github.com/arbadacarbaYK/tides/internal/ops"
	"github.com/arbadacarbaYK/tides/internal/store"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		handleInit()
		return
	}

	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
		active      = flag.Bool("active", false, "Treat the conversation as actively open (wider relay fanout)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("tides %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	if *configPath == "" || flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, flag.Arg(0), flag.Args()[1:], *active); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("tides - Nostr direct message client")
	fmt.Println()
	fmt.Println("Usage: tides --config <path> <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init                          Generate example configuration")
	fmt.Println("  contacts                      List conversation partners")
	fmt.Println("  fetch <peer>                  Backfill and print a conversation")
	fmt.Println("  send <peer> <message>         Send a direct message")
	fmt.Println("  group <channel-id>            Print a public channel")
	fmt.Println("  group-send <channel-id> <message>")
	fmt.Println("                                Post to a public channel")
	fmt.Println("  listen <peer>                 Follow a conversation live")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --active                      Wider relay fanout for fetch")
	fmt.Println("  --version                     Show version information")
}

type app struct {
	client  *internalnostr.Client
	service *messaging.Service
	router  *messaging.Router
	cache   *store.EventCache
	kv      store.KV
	log     *ops.Logger
	cancel  context.CancelFunc
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(log)

	kv, err := store.NewKV(&cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	cache, err := store.NewEventCache()
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("failed to initialize event cache: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	client := internalnostr.New(appCtx, &cfg.Relays, log)
	discovery := internalnostr.NewDiscovery(client, kv, &cfg.Discovery, log)

	service, err := messaging.NewService(cfg, client, discovery, cache, kv, log)
	if err != nil {
		cancel()
		client.Close()
		cache.Close()
		kv.Close()
		return nil, err
	}

	return &app{
		client:  client,
		service: service,
		router:  messaging.NewRouter(service, log),
		cache:   cache,
		kv:      kv,
		log:     log,
		cancel:  cancel,
	}, nil
}

func (a *app) close() {
	a.router.Close()
	a.cancel()
	a.client.Close()
	a.cache.Close()
	if err := a.kv.Close(); err != nil {
		a.log.Warn("failed to close store", "error", err)
	}
}

func run(cfg *config.Config, command string, args []string, active bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if !a.client.EnsureConnection(ctx) {
		return fmt.Errorf("could not connect to any relay")
	}

	switch command {
	case "contacts":
		return a.runContacts(ctx)
	case "fetch":
		if len(args) < 1 {
			return fmt.Errorf("usage: fetch <peer>")
		}
		return a.runFetch(ctx, args[0], active)
	case "send":
		if len(args) < 2 {
			return fmt.Errorf("usage: send <peer> <message>")
		}
		return a.runSend(ctx, args[0], strings.Join(args[1:], " "))
	case "group":
		if len(args) < 1 {
			return fmt.Errorf("usage: group <channel-id>")
		}
		return a.runGroup(ctx, args[0])
	case "group-send":
		if len(args) < 2 {
			return fmt.Errorf("usage: group-send <channel-id> <message>")
		}
		return a.runGroupSend(ctx, args[0], strings.Join(args[1:], " "))
	case "listen":
		if len(args) < 1 {
			return fmt.Errorf("usage: listen <peer>")
		}
		return a.runListen(ctx, args[0])
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func (a *app) runContacts(ctx context.Context) error {
	contacts, err := a.service.HydrateContacts(ctx)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		fmt.Println("No contacts found.")
		return nil
	}
	for _, contact := range contacts {
		label := contact.Name
		if label == "" {
			label = shortKey(contact.Pubkey)
		}
		if contact.LastMessage > 0 {
			fmt.Printf("%-30s %s  last message %s\n", label, encodeNpub(contact.Pubkey),
				contact.LastMessage.Time().Format(time.RFC3339))
		} else {
			fmt.Printf("%-30s %s\n", label, encodeNpub(contact.Pubkey))
		}
	}
	return nil
}

func (a *app) runFetch(ctx context.Context, peerArg string, active bool) error {
	peer, err := decodePubkey(peerArg)
	if err != nil {
		return err
	}
	messages, err := a.service.FetchMessages(ctx, peer, active)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		fmt.Println("No messages found.")
		return nil
	}
	printThread(a.service.Self(), messages)
	return nil
}

func (a *app) runSend(ctx context.Context, peerArg, text string) error {
	peer, err := decodePubkey(peerArg)
	if err != nil {
		return err
	}
	msg, err := a.service.SendMessage(ctx, peer, text)
	if err != nil {
		return err
	}
	fmt.Printf("Sent (kind %d): %s\n", msg.Kind, msg.ID)
	return nil
}

func (a *app) runGroup(ctx context.Context, channelID string) error {
	messages, err := a.service.FetchGroupMessages(ctx, channelID)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		fmt.Println("No messages found.")
		return nil
	}
	printThread(a.service.Self(), messages)
	return nil
}

func (a *app) runGroupSend(ctx context.Context, channelID, text string) error {
	msg, err := a.service.SendGroupMessage(ctx, channelID, text)
	if err != nil {
		return err
	}
	fmt.Printf("Posted: %s\n", msg.ID)
	return nil
}

func (a *app) runListen(ctx context.Context, peerArg string) error {
	peer, err := decodePubkey(peerArg)
	if err != nil {
		return err
	}

	// Show recent history first, then follow.
	messages, err := a.service.FetchMessages(ctx, peer, true)
	if err != nil {
		return err
	}
	printThread(a.service.Self(), messages)

	a.router.SetHandler(func(conversation string, msg *crypto.Decrypted) {
		printMessage(a.service.Self(), msg)
	})
	if err := a.router.Watch(ctx, peer); err != nil {
		return err
	}

	fmt.Println("Listening... press Ctrl+C to stop.")
	<-ctx.Done()
	return nil
}

func printThread(self string, messages []*crypto.Decrypted) {
	for _, msg := range messages {
		printMessage(self, msg)
	}
}

func printMessage(self string, msg *crypto.Decrypted) {
	who := shortKey(msg.Author)
	if msg.Author == self {
		who = "me"
	}
	fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Time().Format("2006-01-02 15:04"), who, msg.Content)
}

// decodePubkey accepts an npub or a raw hex pubkey.
func decodePubkey(arg string) (string, error) {
	if strings.HasPrefix(arg, "npub1") {
		prefix, value, err := nip19.Decode(arg)
		if err != nil {
			return "", fmt.Errorf("failed to decode npub: %w", err)
		}
		if prefix != "npub" {
			return "", fmt.Errorf("expected npub, got %s", prefix)
		}
		return value.(string), nil
	}
	if len(arg) != 64 {
		return "", fmt.Errorf("expected npub or 64-char hex pubkey")
	}
	return strings.ToLower(arg), nil
}

func encodeNpub(pubkey string) string {
	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil {
		return pubkey
	}
	return npub
}

func shortKey(pubkey string) string {
	if len(pubkey) <= 16 {
		return pubkey
	}
	return pubkey[:8] + ".." + pubkey[len(pubkey)-4:]
}

func handleInit() {
	exampleConfig, err := config.GetExampleConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading example config: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(exampleConfig))
}
