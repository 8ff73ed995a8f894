package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/matheus3301/fieldchat/internal/client"
	"github.com/matheus3301/fieldchat/internal/config"
	"github.com/matheus3301/fieldchat/internal/session"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "init" {
		cmdInit(sessionName, args[1:])
		return
	}

	socketPath := session.SocketPath(sessionName)
	c, err := client.New(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		cmdWatch(c, args[1:], *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var resp *structpb.Struct
	switch args[0] {
	case "status":
		resp, err = c.Status(ctx)
	case "chats":
		resp, err = cmdChats(ctx, c, args[1:])
	case "open":
		resp, err = cmdOpen(ctx, c, args[1:])
	case "messages":
		resp, err = cmdMessages(ctx, c, args[1:])
	case "more":
		resp, err = c.LoadMore(ctx)
	case "send":
		resp, err = cmdSend(ctx, c, args[1:])
	case "typing":
		if len(args) != 3 {
			usageError("usage: fieldchatctl typing <user> start|stop")
		}
		resp, err = c.Typing(ctx, args[1], args[2])
	case "delete":
		if len(args) != 2 {
			usageError("usage: fieldchatctl delete <messageId>")
		}
		resp, err = c.DeleteMessage(ctx, args[1])
	case "search":
		resp, err = cmdSearch(ctx, c, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fatal(err)
	}

	if *jsonFlag {
		outputJSON(resp)
		return
	}
	printHuman(args[0], resp)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: fieldchatctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  init [--server url] [--user id] [--token t] Write session config")
	fmt.Fprintln(os.Stderr, "  status                          Show connection status")
	fmt.Fprintln(os.Stderr, "  chats [--cache] [--limit n]     List chats")
	fmt.Fprintln(os.Stderr, "  open <chatId>                   Open a conversation")
	fmt.Fprintln(os.Stderr, "  open --user <userId>            Find or create a conversation")
	fmt.Fprintln(os.Stderr, "  messages [--chat id] [--limit n] List messages")
	fmt.Fprintln(os.Stderr, "  more                            Load older messages")
	fmt.Fprintln(os.Stderr, "  send [--new] <user> <text>      Send a message")
	fmt.Fprintln(os.Stderr, "  typing <user> start|stop        Send a typing signal")
	fmt.Fprintln(os.Stderr, "  delete <messageId>              Delete a message")
	fmt.Fprintln(os.Stderr, "  search [--chat id] <query>      Search cached messages")
	fmt.Fprintln(os.Stderr, "  watch [namespace]               Stream daemon events")
}

// cmdInit writes the given settings into the session's session.toml.
func cmdInit(sessionName string, args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	server := fs.String("server", "", "chat server URL")
	user := fs.String("user", "", "user id to connect as")
	token := fs.String("token", "", "bearer token")
	logLevel := fs.String("log-level", "", "daemon log level")
	_ = fs.Parse(args)

	if *user != "" {
		if err := session.ValidateIdentity(*user); err != nil {
			fatal(err)
		}
	}
	path := session.SessionConfigPath(sessionName)
	cfg, err := config.Update(path, &config.Config{
		ServerURL: *server,
		UserID:    *user,
		Token:     *token,
		LogLevel:  *logLevel,
	})
	if err != nil {
		fatal(fmt.Errorf("write config: %w", err))
	}
	fmt.Printf("Wrote %s\n", path)
	fmt.Printf("Server: %s\n", cfg.ServerURL)
	fmt.Printf("User:   %s\n", cfg.UserID)
}

func cmdChats(ctx context.Context, c *client.Client, args []string) (*structpb.Struct, error) {
	fs := flag.NewFlagSet("chats", flag.ExitOnError)
	cache := fs.Bool("cache", false, "read from the local cache")
	limit := fs.Int("limit", 50, "maximum chats")
	_ = fs.Parse(args)

	source := ""
	if *cache {
		source = "cache"
	}
	return c.ListChats(ctx, source, *limit)
}

func cmdOpen(ctx context.Context, c *client.Client, args []string) (*structpb.Struct, error) {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	user := fs.String("user", "", "counterpart user id")
	_ = fs.Parse(args)

	chatID := fs.Arg(0)
	if chatID == "" && *user == "" {
		usageError("usage: fieldchatctl open <chatId> | open --user <userId>")
	}
	return c.OpenConversation(ctx, chatID, *user)
}

func cmdMessages(ctx context.Context, c *client.Client, args []string) (*structpb.Struct, error) {
	fs := flag.NewFlagSet("messages", flag.ExitOnError)
	chatID := fs.String("chat", "", "chat id (default: open conversation)")
	limit := fs.Int("limit", 50, "maximum messages from the cache")
	before := fs.Int64("before", 0, "cache only: messages before this unix ms")
	_ = fs.Parse(args)
	return c.ListMessages(ctx, *chatID, *before, *limit)
}

func cmdSend(ctx context.Context, c *client.Client, args []string) (*structpb.Struct, error) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	newChat := fs.Bool("new", false, "start a new chat with the user")
	_ = fs.Parse(args)

	if fs.NArg() < 2 {
		usageError("usage: fieldchatctl send [--new] <user> <text>")
	}
	return c.SendMessage(ctx, fs.Arg(0), strings.Join(fs.Args()[1:], " "), *newChat)
}

func cmdSearch(ctx context.Context, c *client.Client, args []string) (*structpb.Struct, error) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	chatID := fs.String("chat", "", "restrict to one chat")
	limit := fs.Int("limit", 50, "maximum results")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		usageError("usage: fieldchatctl search [--chat id] <query>")
	}
	return c.SearchMessages(ctx, strings.Join(fs.Args(), " "), *chatID, *limit)
}

func cmdWatch(c *client.Client, args []string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	namespace := ""
	if len(args) > 0 {
		namespace = args[0]
	}
	stream, err := c.Watch(ctx, namespace)
	if err != nil {
		fatal(err)
	}
	for {
		env, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return
		}
		if err != nil {
			fatal(err)
		}
		if jsonOut {
			outputJSON(env)
			continue
		}
		f := env.GetFields()
		at := time.UnixMilli(int64(f["occurred_at_unix_ms"].GetNumberValue()))
		payload, _ := protojson.Marshal(f["payload"].GetStructValue())
		fmt.Printf("%s %-26s %s\n", at.Format("15:04:05.000"), f["kind"].GetStringValue(), payload)
	}
}

func printHuman(cmd string, resp *structpb.Struct) {
	f := resp.GetFields()
	switch cmd {
	case "status":
		fmt.Printf("Session: %s\n", f["session"].GetStringValue())
		fmt.Printf("User:    %s\n", f["user_id"].GetStringValue())
		fmt.Printf("Status:  %s\n", f["status"].GetStringValue())
		fmt.Printf("Open:    %s\n", f["open_conversation"].GetStringValue())
		fmt.Printf("Cached:  %.0f chats, %.0f messages\n", f["chat_count"].GetNumberValue(), f["message_count"].GetNumberValue())
		fmt.Printf("Uptime:  %.0fms\n", f["uptime_ms"].GetNumberValue())
	case "chats":
		chats := f["chats"].GetListValue().GetValues()
		if len(chats) == 0 {
			fmt.Println("No chats.")
			return
		}
		for _, v := range chats {
			ch := v.GetStructValue().GetFields()
			last := ch["last_message"].GetStructValue().GetFields()
			fmt.Printf("%-26s %-20s %3.0f  %s\n",
				ch["id"].GetStringValue(),
				ch["counterpart_name"].GetStringValue(),
				ch["unread_count"].GetNumberValue(),
				last["content"].GetStringValue(),
			)
		}
	case "messages":
		msgs := f["messages"].GetListValue().GetValues()
		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return
		}
		for _, v := range msgs {
			printMessage(v.GetStructValue())
		}
		if typing := f["typing"].GetStringValue(); typing != "" {
			fmt.Printf("%s is typing...\n", typing)
		}
	case "search":
		results := f["results"].GetListValue().GetValues()
		if len(results) == 0 {
			fmt.Println("No results.")
			return
		}
		for _, v := range results {
			r := v.GetStructValue().GetFields()
			m := r["message"].GetStructValue().GetFields()
			fmt.Printf("[%s] %s: %s\n", m["chat_id"].GetStringValue(), m["sender_name"].GetStringValue(), r["snippet"].GetStringValue())
		}
	case "more":
		if f["requested"].GetBoolValue() {
			fmt.Println("Requested older messages.")
		} else {
			fmt.Println("Nothing to load.")
		}
	default:
		if f["deferred"].GetBoolValue() {
			fmt.Println("Accepted; will be sent on reconnect.")
			return
		}
		fmt.Println("OK")
	}
}

func printMessage(s *structpb.Struct) {
	m := s.GetFields()
	at := time.UnixMilli(int64(m["created_at_ms"].GetNumberValue()))
	fmt.Printf("%s %-12s %s (%s)\n",
		at.Format("2006-01-02 15:04"),
		m["sender_name"].GetStringValue(),
		m["content"].GetStringValue(),
		m["status"].GetStringValue(),
	)
}

func outputJSON(m *structpb.Struct) {
	out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
		return
	}
	fmt.Println(string(out))
}

func usageError(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
