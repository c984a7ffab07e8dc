// Package main provides a simple CLI client for the chat hub WebSocket.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jrluiz96/roboteasy/internal/domain"
	"github.com/jrluiz96/roboteasy/internal/identity"
	"github.com/jrluiz96/roboteasy/internal/protocol"
)

// Client represents a WebSocket client.
type Client struct {
	conn *websocket.Conn
	// conversationID is the target of plain text input.
	conversationID int64
	done           chan struct{}
}

// NewClient creates a new client and connects to the server.
func NewClient(addr string, query url.Values) (*Client, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	u.RawQuery = query.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// Send writes one operation.
func (c *Client) Send(req protocol.Request) error {
	req.RequestID = fmt.Sprintf("req_%d", time.Now().UnixNano())
	return c.conn.WriteJSON(req)
}

// ReadMessages reads and prints frames from the server.
func (c *Client) ReadMessages() {
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if ce, ok := err.(*websocket.CloseError); ok {
					log.Printf("Connection closed: %d %s", ce.Code, ce.Text)
				} else {
					log.Printf("Read error: %v", err)
				}
				os.Exit(1)
			}

			var frame protocol.Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				log.Printf("Unmarshal error: %v", err)
				continue
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, frame.Data, "", "  "); err != nil {
				pretty.Write(frame.Data)
			}
			fmt.Printf("\n[%s]\n%s\n> ", frame.Event, pretty.String())
		}
	}
}

// handleCommand runs a slash command. It returns false on /quit.
func (c *Client) handleCommand(input string) (bool, error) {
	fields := strings.Fields(input)
	arg := func(i int) (int64, error) {
		if len(fields) <= i {
			if c.conversationID > 0 {
				return c.conversationID, nil
			}
			return 0, fmt.Errorf("%s needs a conversation id", fields[0])
		}
		return strconv.ParseInt(fields[i], 10, 64)
	}

	switch fields[0] {
	case "/quit":
		return false, nil
	case "/join":
		id, err := arg(1)
		if err != nil {
			return true, err
		}
		c.conversationID = id
		return true, c.Send(protocol.Request{Type: protocol.OpJoinConversation, ConversationID: id})
	case "/leave":
		id, err := arg(1)
		if err != nil {
			return true, err
		}
		return true, c.Send(protocol.Request{Type: protocol.OpLeaveConversation, ConversationID: id})
	case "/typing":
		id, err := arg(1)
		if err != nil {
			return true, err
		}
		return true, c.Send(protocol.Request{Type: protocol.OpTyping, ConversationID: id})
	case "/stop":
		id, err := arg(1)
		if err != nil {
			return true, err
		}
		return true, c.Send(protocol.Request{Type: protocol.OpStopTyping, ConversationID: id})
	case "/read":
		if len(fields) < 2 {
			return true, fmt.Errorf("usage: /read <lastMessageId>")
		}
		last, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return true, err
		}
		return true, c.Send(protocol.Request{Type: protocol.OpMarkAsRead, ConversationID: c.conversationID, LastMessageID: &last})
	default:
		return true, fmt.Errorf("unknown command %s", fields[0])
	}
}

// startChat opens or resumes a conversation through the REST API.
func startChat(apiAddr, name, email, clientToken string) (*domain.ChatStartResponse, error) {
	req := domain.ChatStartRequest{Name: name, ClientToken: clientToken}
	if email != "" {
		req.Email = &email
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(strings.TrimSuffix(apiAddr, "/")+"/api/v1/open/chat/start", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chat start failed: %s", resp.Status)
	}
	var out domain.ChatStartResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080/hubs/chat", "WebSocket server address")
	apiAddr := flag.String("api", "http://localhost:8080", "REST API base address")
	accessToken := flag.String("token", "", "Attendant access token")
	clientToken := flag.String("client-token", "", "Client token")
	monitor := flag.Bool("monitor", false, "Connect as a monitor (attendants only)")
	mint := flag.Int64("mint", 0, "Mint an attendant token for this user id with -secret")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HMAC secret used by -mint")
	issuerName := flag.String("issuer", identity.DefaultIssuer, "Token issuer used by -mint")
	start := flag.String("start", "", "Start a chat as a client with this name")
	email := flag.String("email", "", "Client email used by -start")
	flag.Parse()

	log.SetFlags(log.Ltime)

	query := url.Values{}
	var conversationID int64

	switch {
	case *mint > 0:
		if *secret == "" {
			log.Fatalf("-mint needs -secret or JWT_SECRET")
		}
		token, err := identity.NewIssuer(*secret, *issuerName, 0).IssueAttendantToken(*mint, 12*time.Hour)
		if err != nil {
			log.Fatalf("Failed to mint token: %v", err)
		}
		fmt.Printf("Attendant token for user %d:\n%s\n", *mint, token)
		query.Set("access_token", token)
	case *start != "":
		resp, err := startChat(*apiAddr, *start, *email, *clientToken)
		if err != nil {
			log.Fatalf("Failed to start chat: %v", err)
		}
		fmt.Printf("Conversation %d (new=%v), %d previous messages\n", resp.ConversationID, resp.IsNewConversation, len(resp.Messages))
		fmt.Printf("Client token: %s\n", resp.ClientToken)
		query.Set("client_token", resp.ClientToken)
		conversationID = resp.ConversationID
	case *accessToken != "":
		query.Set("access_token", *accessToken)
	case *clientToken != "":
		query.Set("client_token", *clientToken)
	default:
		log.Fatalf("one of -token, -client-token, -mint or -start is required")
	}
	if *monitor {
		query.Set("monitor", "true")
	}

	fmt.Printf("Connecting to %s...\n", *addr)

	client, err := NewClient(*addr, query)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()
	client.conversationID = conversationID

	fmt.Println("Connected.")
	fmt.Println("\nType a message and press Enter to send it to the current conversation.")
	fmt.Println("Commands: /join <id>, /leave [id], /typing [id], /stop [id], /read <lastMessageId>, /quit")
	fmt.Println()

	// Start reading messages in background
	go client.ReadMessages()

	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// Read user input
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		default:
			if !scanner.Scan() {
				return
			}

			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}

			if strings.HasPrefix(input, "/") {
				more, err := client.handleCommand(input)
				if err != nil {
					log.Printf("Command error: %v", err)
				}
				if !more {
					fmt.Println("Bye!")
					return
				}
				continue
			}

			if client.conversationID == 0 {
				log.Printf("No conversation selected, use /join <id>")
				continue
			}
			if err := client.Send(protocol.Request{
				Type:           protocol.OpSendMessage,
				ConversationID: client.conversationID,
				Content:        input,
			}); err != nil {
				log.Printf("Send error: %v", err)
			}
		}
	}
}
