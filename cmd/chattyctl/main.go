package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matheus3301/chatty/internal/api"
	"github.com/matheus3301/chatty/internal/config"
	"github.com/matheus3301/chatty/internal/session"
	"golang.org/x/term"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	client := api.NewClient(cfg.APIBaseURL(), func() string {
		return session.LoadToken(sessionName)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "login":
		cmdLogin(ctx, client, sessionName, args[1:])
	case "logout":
		cmdLogout(ctx, client, sessionName)
	case "whoami":
		cmdWhoami(ctx, client, *jsonFlag)
	case "users":
		cmdUsers(ctx, client, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chattyctl messages <user-id>")
			os.Exit(1)
		}
		cmdMessages(ctx, client, args[1], *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: chattyctl send <user-id> <text>")
			os.Exit(1)
		}
		cmdSend(ctx, client, args[1], strings.Join(args[2:], " "))
	case "send-image":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: chattyctl send-image <user-id> <path>")
			os.Exit(1)
		}
		cmdSendImage(ctx, client, args[1], args[2])
	case "set-avatar":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: chattyctl set-avatar <path>")
			os.Exit(1)
		}
		cmdSetAvatar(ctx, client, args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chattyctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login <email>             Log in and store the token")
	fmt.Fprintln(os.Stderr, "  logout                    Log out and clear the token")
	fmt.Fprintln(os.Stderr, "  whoami                    Show the authenticated identity")
	fmt.Fprintln(os.Stderr, "  users                     List the contact roster")
	fmt.Fprintln(os.Stderr, "  messages <user-id>        Show the conversation with a user")
	fmt.Fprintln(os.Stderr, "  send <user-id> <text>     Send a text message")
	fmt.Fprintln(os.Stderr, "  send-image <user-id> <path>  Send an image")
	fmt.Fprintln(os.Stderr, "  set-avatar <path>         Upload a new profile picture")
}

func cmdLogin(ctx context.Context, client *api.Client, sessionName string, args []string) {
	var email string
	if len(args) > 0 {
		email = args[0]
	} else {
		fmt.Print("Email: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		email = strings.TrimSpace(line)
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	res, err := client.Login(ctx, email, string(password))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := session.SaveToken(sessionName, res.Token); err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot store token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Logged in as %s <%s>\n", res.User.Name, res.User.Email)
}

func cmdLogout(ctx context.Context, client *api.Client, sessionName string) {
	if err := client.Logout(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: backend logout failed: %v\n", err)
	}
	if err := session.ClearToken(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Logged out.")
}

func cmdWhoami(ctx context.Context, client *api.Client, jsonOut bool) {
	user, err := client.CheckAuth(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(user)
		return
	}
	fmt.Printf("ID:    %s\n", user.ID)
	fmt.Printf("Name:  %s\n", user.Name)
	fmt.Printf("Email: %s\n", user.Email)
}

func cmdUsers(ctx context.Context, client *api.Client, jsonOut bool) {
	users, err := client.Users(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(users)
		return
	}
	for _, u := range users {
		fmt.Printf("%s  %s <%s>\n", u.ID, u.Name, u.Email)
	}
}

func cmdMessages(ctx context.Context, client *api.Client, partnerID string, jsonOut bool) {
	msgs, err := client.Messages(ctx, partnerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		body := m.Text
		if m.ImageURL != "" {
			body = strings.TrimSpace(body + " [image] " + m.ImageURL)
		}
		fmt.Printf("%s  %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04"), m.SenderID, body)
	}
}

func cmdSend(ctx context.Context, client *api.Client, partnerID, text string) {
	msg, err := client.SendMessage(ctx, partnerID, text, nil, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sent %s\n", msg.ID)
}

func cmdSendImage(ctx context.Context, client *api.Client, partnerID, path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = f.Close() }()

	msg, err := client.SendMessage(ctx, partnerID, "", f, filepath.Base(path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sent %s\n", msg.ID)
}

func cmdSetAvatar(ctx context.Context, client *api.Client, path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = f.Close() }()

	user, err := client.UpdateProfile(ctx, f, filepath.Base(path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Profile updated for %s\n", user.Name)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
