package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

type ipcRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ipcResponse struct {
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
	ID    string `json:"id,omitempty"`
	Tasks []task `json:"tasks,omitempty"`
}

type task struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Schedule   string `json:"schedule"`
	Status     string `json:"status"`
	LastStatus string `json:"last_status"`
}

type workItem struct {
	Project   string   `json:"project,omitempty"`
	Schedule  string   `json:"schedule"`
	Documents []string `json:"documents,omitempty"`
}

func sendIPC(natsURL, reqType string, payload any) (*ipcResponse, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(ipcRequest{Type: reqType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := conn.Request("tasks.ipc", data, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ipc request: %w", err)
	}

	var resp ipcResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  rcpipe create --name "..." --cron "..." --schedule "<reporting schedule name>" [--project "..."] [--docs "a.pdf,b.pdf"]`)
	fmt.Fprintln(os.Stderr, "  rcpipe list")
	fmt.Fprintln(os.Stderr, `  rcpipe delete --id "..."`)
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	rest := os.Args[2:]

	switch command {
	case "create":
		args := parseArgs(rest)
		if args["name"] == "" || args["cron"] == "" || args["schedule"] == "" {
			fatal("--name, --cron, and --schedule are required")
		}
		item := workItem{
			Project:  args["project"],
			Schedule: args["schedule"],
		}
		if args["docs"] != "" {
			item.Documents = splitList(args["docs"])
		}
		resp, err := sendIPC(natsURL, "create", map[string]any{
			"name":     args["name"],
			"schedule": cronSpec(args["cron"]),
			"item":     item,
		})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		fmt.Printf("Task created: %s\n", resp.ID)

	case "list":
		resp, err := sendIPC(natsURL, "list", map[string]any{})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		if len(resp.Tasks) == 0 {
			fmt.Println("No tasks found.")
		} else {
			for _, t := range resp.Tasks {
				fmt.Printf("  %s  %s  %s  [%s]\n", t.ID, t.Status, t.Name, t.Schedule)
			}
		}

	case "delete":
		args := parseArgs(rest)
		if args["id"] == "" {
			fatal("--id is required")
		}
		resp, err := sendIPC(natsURL, "delete", map[string]string{
			"id": args["id"],
		})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		fmt.Println("Task deleted.")

	default:
		fatal("unknown command: %s", command)
	}
}

func cronSpec(expr string) string {
	spec, _ := json.Marshal(map[string]string{"kind": "cron", "cron_expr": expr})
	return string(spec)
}

func splitList(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}
