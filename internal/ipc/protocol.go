package ipc

import (
	"encoding/json"

	"github.com/highbeam/changeguard/internal/store"
)

// Commands understood by the daemon.
const (
	CmdPing   = "ping"
	CmdStatus = "status"
	CmdStop   = "stop"
	CmdInvoke = "invoke"
)

// Request is a JSON message sent from client to server, one per line.
type Request struct {
	Command string          `json:"command"`
	Tool    string          `json:"tool,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Response is a JSON message sent from server to client.
type Response struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// StatusData is returned by the "status" command.
type StatusData struct {
	Uptime string      `json:"uptime"`
	PID    int         `json:"pid"`
	Tools  []string    `json:"tools"`
	Store  store.Stats `json:"store"`
}
