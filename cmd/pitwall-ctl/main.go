package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// pitwall-ctl - Command-line IPC Client
// ============================================================================
// Drives the pitwall console daemon over its IPC socket.
//
// Usage:
//   pitwall-ctl power on
//   pitwall-ctl estop on
//   pitwall-ctl gear 2
//   pitwall-ctl tune DANGER_CM 45
//   pitwall-ctl status
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/pitwall.sock)
// ============================================================================

// Envelope is the line format the daemon accepts (duplicated from the main
// package so this binary stays standalone).
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	State  json.RawMessage `json:"state,omitempty"`
}

// switchCommands are "<name> on|off" commands and the action each sends.
var switchCommands = map[string]string{
	"power":     "system_active",
	"estop":     "emergency_stop",
	"auto":      "auto_mode",
	"autopilot": "autopilot",
	"throttle":  "throttle",
	"brake":     "brake",
}

// flagCommands take "on|off" but use an "enabled" payload.
var flagCommands = map[string]string{
	"sonar": "sonar",
	"ir":    "infrared",
}

func main() {
	socketPath := "/tmp/pitwall.sock"

	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-socket" || args[0] == "--socket") {
		if len(args) < 2 {
			fail("-socket requires an argument")
		}
		socketPath = args[1]
		args = args[2:]
	}
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		return
	}

	if args[0] == "status" {
		resp, err := send(socketPath, Envelope{Type: "get_state"})
		if err != nil {
			fail("%v", err)
		}
		var pretty map[string]any
		if err := json.Unmarshal(resp.State, &pretty); err != nil {
			fail("decode state: %v", err)
		}
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
		return
	}

	env, err := parseCommand(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}
	if _, err := send(socketPath, env); err != nil {
		fail("%v", err)
	}
	fmt.Println("ok")
}

func parseCommand(args []string) (Envelope, error) {
	name, rest := args[0], args[1:]

	if action, ok := switchCommands[name]; ok {
		on, err := parseOnOff(name, rest)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Type: action, Data: map[string]bool{"active": on}}, nil
	}
	if action, ok := flagCommands[name]; ok {
		on, err := parseOnOff(name, rest)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Type: action, Data: map[string]bool{"enabled": on}}, nil
	}

	switch name {
	case "limit":
		if len(rest) != 1 {
			return Envelope{}, fmt.Errorf("limit requires a value or \"off\"")
		}
		if rest[0] == "off" {
			return Envelope{Type: "speed_limit", Data: map[string]any{"enabled": false, "value": 100}}, nil
		}
		v, err := strconv.ParseFloat(rest[0], 64)
		if err != nil {
			return Envelope{}, fmt.Errorf("invalid limit: %w", err)
		}
		return Envelope{Type: "speed_limit", Data: map[string]any{"enabled": true, "value": v}}, nil

	case "gear":
		if len(rest) != 1 {
			return Envelope{}, fmt.Errorf("gear requires one of R, N, 1, 2, 3, S")
		}
		return Envelope{Type: "gear", Data: map[string]string{"gear": strings.ToUpper(rest[0])}}, nil

	case "shift":
		if len(rest) != 1 || (rest[0] != "up" && rest[0] != "down") {
			return Envelope{}, fmt.Errorf("shift requires up or down")
		}
		delta := 1
		if rest[0] == "down" {
			delta = -1
		}
		return Envelope{Type: "shift_gear", Data: map[string]int{"delta": delta}}, nil

	case "steer":
		if len(rest) != 1 {
			return Envelope{}, fmt.Errorf("steer requires degrees")
		}
		deg, err := strconv.ParseFloat(rest[0], 64)
		if err != nil {
			return Envelope{}, fmt.Errorf("invalid degrees: %w", err)
		}
		return Envelope{Type: "steering", Data: map[string]float64{"degrees": deg}}, nil

	case "toggle":
		if len(rest) != 1 {
			return Envelope{}, fmt.Errorf("toggle requires a mode name")
		}
		return Envelope{Type: "toggle_mode", Data: map[string]string{"mode": rest[0]}}, nil

	case "maneuver":
		if len(rest) != 1 {
			return Envelope{}, fmt.Errorf("maneuver requires launch or donut")
		}
		return Envelope{Type: "maneuver", Data: map[string]string{"name": rest[0]}}, nil

	case "connect":
		addr := ""
		if len(rest) > 0 {
			addr = rest[0]
		}
		return Envelope{Type: "connect", Data: map[string]string{"addr": addr}}, nil

	case "disconnect":
		return Envelope{Type: "disconnect"}, nil

	case "tune":
		if len(rest) != 2 {
			return Envelope{}, fmt.Errorf("tune requires NAME and value")
		}
		v, err := strconv.ParseFloat(rest[1], 64)
		if err != nil {
			return Envelope{}, fmt.Errorf("invalid tuning value: %w", err)
		}
		return Envelope{Type: "set_tuning", Data: map[string]any{"name": strings.ToUpper(rest[0]), "value": v}}, nil

	case "tune-reset":
		return Envelope{Type: "reset_tuning"}, nil
	}

	return Envelope{}, fmt.Errorf("unknown command: %s", name)
}

func parseOnOff(name string, rest []string) (bool, error) {
	if len(rest) != 1 {
		return false, fmt.Errorf("%s requires on or off", name)
	}
	switch rest[0] {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%s: expected on or off, got %q", name, rest[0])
}

func send(socketPath string, env Envelope) (IPCResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(env)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send %s: %w", env.Type, err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if response.Status == "error" {
		return response, fmt.Errorf("daemon error: %s", response.Error)
	}
	return response, nil
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `pitwall-ctl - Control the pitwall console daemon via IPC

Usage:
  pitwall-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/pitwall.sock)

Commands:
  power on|off            Power the console on (startup sweep) or off
  estop on|off            Latch or release the emergency stop
  auto on|off             Synthetic held throttle
  autopilot on|off        Engage or disengage obstacle avoidance
  throttle on|off         Hold or release the throttle
  brake on|off            Hold or release the brake
  sonar on|off            Vehicle sonar
  ir on|off               Vehicle infrared
  limit <10-100>|off      Speed limit
  gear R|N|1|2|3|S        Select a gear
  shift up|down           Paddle shift
  steer <degrees>         Set the wheel angle
  toggle <mode>           Flip a mode (system, emergency_stop, auto_mode, ...)
  maneuver launch|donut   Canned vehicle move
  connect [addr]          Dial the vehicle link
  disconnect              Close the vehicle link
  tune <NAME> <value>     Edit one autopilot tuning parameter
  tune-reset              Restore factory tuning
  status                  Print the console state as JSON
  help, -h, --help        Show this help message

Examples:
  pitwall-ctl power on
  pitwall-ctl limit 40
  pitwall-ctl -socket /run/pitwall.sock status
`)
}
