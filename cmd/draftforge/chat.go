package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var chatServer string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat client against a running server",
	Long: `Connect to a DraftForge server and chat interactively. Progress events
are printed as they stream in; the session is carried across turns so
follow-up requests see the conversation history.

Commands inside the chat: /new (fresh session), /sessions (list), /quit.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatServer, "server", "http://127.0.0.1:8000", "Server base URL")
}

type chatClient struct {
	baseURL   string
	http      *http.Client
	sessionID string
}

func (c *chatClient) checkConnection() error {
	resp, err := c.http.Get(c.baseURL + "/")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server responded with status %d", resp.StatusCode)
	}
	return nil
}

func (c *chatClient) startRun(input string) (runID string, err error) {
	payload := map[string]any{"user_message": input}
	if c.sessionID != "" {
		payload["session_id"] = c.sessionID
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Post(c.baseURL+"/api/patent/run", "application/json", bytes.NewReader(blob))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("start run: status %d", resp.StatusCode)
	}
	var out struct {
		RunID     string `json:"run_id"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	c.sessionID = out.SessionID
	return out.RunID, nil
}

// stream consumes the run's SSE stream, printing thoughts as they arrive and
// returning once the done sentinel is seen.
func (c *chatClient) stream(runID string) error {
	resp, err := c.http.Get(c.baseURL + "/api/patent/stream?run_id=" + url.QueryEscape(runID))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream: status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if done := c.render(event, data); done {
				return nil
			}
		}
	}
	return scanner.Err()
}

func (c *chatClient) render(event, data string) (done bool) {
	switch event {
	case "thoughts":
		var ev struct {
			Content     string `json:"content"`
			ThoughtType string `json:"thought_type"`
		}
		if json.Unmarshal([]byte(data), &ev) == nil && ev.Content != "" {
			fmt.Printf("  [%s] %s\n", ev.ThoughtType, strings.TrimSpace(ev.Content))
		}
	case "final":
		var ev struct {
			Response string `json:"response"`
		}
		if json.Unmarshal([]byte(data), &ev) == nil {
			fmt.Printf("\n%s\n", ev.Response)
		}
	case "error":
		var ev struct {
			Error   string `json:"error"`
			Context string `json:"context"`
		}
		if json.Unmarshal([]byte(data), &ev) == nil {
			fmt.Printf("\nerror (%s): %s\n", ev.Context, ev.Error)
		}
	case "done":
		return true
	}
	return false
}

func (c *chatClient) listSessions() error {
	resp, err := c.http.Get(c.baseURL + "/api/sessions")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var out struct {
		Total    int `json:"total_sessions"`
		Sessions []struct {
			SessionID string    `json:"session_id"`
			UpdatedAt time.Time `json:"updated_at"`
			Messages  int       `json:"messages"`
		} `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	fmt.Printf("%d session(s)\n", out.Total)
	for _, s := range out.Sessions {
		marker := " "
		if s.SessionID == c.sessionID {
			marker = "*"
		}
		fmt.Printf("%s %s  %d message(s)  updated %s\n",
			marker, s.SessionID, s.Messages, s.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func runChat(_ *cobra.Command, _ []string) error {
	client := &chatClient{
		baseURL: strings.TrimRight(chatServer, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
	if err := client.checkConnection(); err != nil {
		return fmt.Errorf("cannot reach server at %s: %w", client.baseURL, err)
	}

	fmt.Printf("Connected to %s. Type /quit to exit.\n", client.baseURL)
	stdin := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !stdin.Scan() {
			return stdin.Err()
		}
		input := strings.TrimSpace(stdin.Text())
		switch {
		case input == "":
			continue
		case input == "/quit" || input == "/exit":
			return nil
		case input == "/new":
			client.sessionID = ""
			fmt.Println("Started a fresh session.")
			continue
		case input == "/sessions":
			if err := client.listSessions(); err != nil {
				fmt.Printf("error: %v\n", err)
			}
			continue
		}

		runID, err := client.startRun(input)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		if err := client.stream(runID); err != nil {
			fmt.Printf("stream error: %v\n", err)
		}
	}
}
