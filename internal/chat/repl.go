package chat

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"AgentChat/internal/permission"
	"AgentChat/internal/state"
)

// Run starts the interactive loop.
func (c *Client) Run() error {
	fmt.Println("=== AgentChat ===")
	fmt.Printf("Endpoint: %s\n", c.cfg.Endpoint)
	fmt.Println("Type /help for commands, /quit to exit")
	fmt.Println()

	if sessions := c.store.Snapshot(); len(sessions) > 0 {
		c.current = sessions[len(sessions)-1].ID
		fmt.Printf("Resumed session: %s\n", sessionLabel(sessions[len(sessions)-1]))
	} else {
		sess := c.NewSession("default")
		fmt.Printf("Started session: %s\n", sessionLabel(sess))
	}

	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()

	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := c.handleCommand(input)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				c.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		if c.current == "" {
			fmt.Println("No current session; use /new <name>")
			continue
		}

		sent, err := c.SendPrompt(ctx, c.current, input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		if !sent {
			fmt.Println("(not delivered: session is not connected, use /connect)")
		}
	}

	fmt.Println("Goodbye!")
	return nil
}

// handleCommand handles special commands
func (c *Client) handleCommand(cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		name := "session"
		if len(parts) > 1 {
			name = strings.Join(parts[1:], " ")
		}
		sess := c.NewSession(name)
		fmt.Printf("Started session: %s\n", sessionLabel(sess))
		return false, nil

	case "/connect":
		if c.current == "" {
			return false, fmt.Errorf("no current session")
		}
		return false, c.Connect(c.current)

	case "/disconnect":
		if c.current == "" {
			return false, fmt.Errorf("no current session")
		}
		c.Disconnect(c.current)
		return false, nil

	case "/sessions":
		for i, sess := range c.store.Snapshot() {
			marker := " "
			if sess.ID == c.current {
				marker = "*"
			}
			fmt.Printf("%s %d. %s [%s]\n", marker, i+1, sessionLabel(sess), sess.Status)
		}
		return false, nil

	case "/switch":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /switch <number>")
		}
		sessions := c.store.Snapshot()
		var idx int
		if _, err := fmt.Sscanf(parts[1], "%d", &idx); err != nil || idx < 1 || idx > len(sessions) {
			return false, fmt.Errorf("unknown session: %s", parts[1])
		}
		c.current = sessions[idx-1].ID
		fmt.Printf("Switched to %s\n", sessionLabel(sessions[idx-1]))
		return false, nil

	case "/rename":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /rename <name>")
		}
		if c.current == "" {
			return false, fmt.Errorf("no current session")
		}
		c.Rename(c.current, strings.Join(parts[1:], " "))
		return false, nil

	case "/remove":
		if c.current == "" {
			return false, fmt.Errorf("no current session")
		}
		c.RemoveSession(c.current)
		fmt.Println("Session removed")
		return false, nil

	case "/show":
		if c.current == "" {
			return false, fmt.Errorf("no current session")
		}
		sess, ok := c.store.Get(c.current)
		if !ok {
			return false, fmt.Errorf("session gone")
		}
		printTranscript(sess)
		return false, nil

	case "/cancel":
		if c.current == "" {
			return false, fmt.Errorf("no current session")
		}
		c.Cancel(c.current)
		return false, nil

	case "/allow":
		return false, c.ResolveDisplayed(permission.Allow)

	case "/deny":
		return false, c.ResolveDisplayed(permission.Deny)

	case "/help":
		fmt.Println("Available commands:")
		fmt.Println("  /new <name>       - Start a new session")
		fmt.Println("  /connect          - Connect the current session")
		fmt.Println("  /disconnect       - Disconnect the current session")
		fmt.Println("  /sessions         - List sessions")
		fmt.Println("  /switch <number>  - Switch current session")
		fmt.Println("  /rename <name>    - Rename the current session")
		fmt.Println("  /remove           - Remove the current session")
		fmt.Println("  /show             - Print the current transcript")
		fmt.Println("  /cancel           - Cancel the in-flight turn")
		fmt.Println("  /allow, /deny     - Answer the pending permission request")
		fmt.Println("  /quit, /exit      - Exit")
		return false, nil

	default:
		return false, nil
	}
}

func sessionLabel(sess state.Session) string {
	if sess.Name != "" {
		return sess.Name
	}
	return sess.ID
}

func printTranscript(sess state.Session) {
	if sess.AgentInfo != nil {
		fmt.Printf("-- %s (%s %s) --\n", sessionLabel(sess), sess.AgentInfo.Name, sess.AgentInfo.Version)
	} else {
		fmt.Printf("-- %s --\n", sessionLabel(sess))
	}
	for _, msg := range sess.Messages {
		switch {
		case msg.IsThinking:
			fmt.Println("Agent: (thinking...)")
		case msg.Role == state.RoleTool && msg.ToolCall != nil:
			status := ""
			if msg.ToolResult != nil {
				status = string(msg.ToolResult.Status)
			}
			fmt.Printf("Tool: %s [%s]\n", msg.ToolCall.Title, status)
		case msg.Role == state.RoleUser:
			fmt.Printf("You: %s\n", msg.Content)
		case msg.Role == state.RoleSystem:
			fmt.Printf("** %s\n", msg.Content)
		default:
			fmt.Printf("Agent: %s\n", msg.Content)
		}
	}
}
