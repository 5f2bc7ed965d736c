package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strings"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// CAN arbitration IDs for console commands, one per command name.
var canCommandIDs = map[string]uint32{
	linkPower:         0x100,
	linkEmergencyStop: 0x101,
	linkThrottle:      0x110,
	linkBrake:         0x111,
	linkGear:          0x112,
	linkSteering:      0x113,
	linkAutoMode:      0x120,
	linkAutopilot:     0x121,
	linkSpeedLimit:    0x122,
	linkSonar:         0x130,
	linkIRControl:     0x131,
	linkAction:        0x140,
}

var canActionCodes = map[string]byte{"launch": 1, "donut": 2}

// CANWriter is the frame-level transport under canSink.
type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

type socketCANWriter struct {
	conn net.Conn
	tx   *socketcan.Transmitter
}

func newSocketCANWriter(ctx context.Context, iface string) (*socketCANWriter, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial: %w", err)
	}
	return &socketCANWriter{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
	}, nil
}

func (w *socketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	return w.tx.TransmitFrame(ctx, frame)
}

func (w *socketCANWriter) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// canSink encodes each LinkCommand into one classic CAN frame.
type canSink struct {
	w      CANWriter
	logger *slog.Logger
}

// dialCANLink returns a LinkDialer whose address is a SocketCAN interface
// name, optionally written as can://<iface>.
func dialCANLink(logger *slog.Logger) LinkDialer {
	return func(ctx context.Context, addr string) (CommandSink, error) {
		iface := strings.TrimPrefix(addr, "can://")
		if iface == "" {
			return nil, fmt.Errorf("can link needs an interface name")
		}
		w, err := newSocketCANWriter(ctx, iface)
		if err != nil {
			return nil, err
		}
		logger.Info("vehicle link connected", "component", "link_can", "iface", iface)
		return &canSink{w: w, logger: logger.With("component", "link_can")}, nil
	}
}

func (s *canSink) Send(ctx context.Context, cmd LinkCommand) error {
	frame, err := encodeCANFrame(cmd)
	if err != nil {
		return err
	}
	if err := s.w.WriteFrame(ctx, frame); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("%w: %v", ErrLinkClosed, err)
		}
		return fmt.Errorf("write can frame: %w", err)
	}
	return nil
}

func (s *canSink) Close() error { return s.w.Close() }

// encodeCANFrame packs a command payload:
//
//	bool                1 byte (0/1)
//	steering            int16 big-endian degrees
//	gear                1 ASCII byte
//	speed_limit         enabled byte + value byte
//	power               1 byte (1=start, 0=stop)
//	action              1 byte maneuver code
func encodeCANFrame(cmd LinkCommand) (can.Frame, error) {
	id, ok := canCommandIDs[cmd.Name]
	if !ok {
		return can.Frame{}, fmt.Errorf("no CAN id for command %q", cmd.Name)
	}

	var payload []byte
	switch v := cmd.Value.(type) {
	case bool:
		payload = []byte{boolByte(v)}
	case int:
		if v < math.MinInt16 || v > math.MaxInt16 {
			return can.Frame{}, fmt.Errorf("%s value %d out of int16 range", cmd.Name, v)
		}
		payload = binary.BigEndian.AppendUint16(nil, uint16(int16(v)))
	case speedLimitValue:
		payload = []byte{boolByte(v.Enabled), byte(clamp(math.Round(v.Value), 0, 255))}
	case string:
		switch cmd.Name {
		case linkGear:
			if len(v) != 1 {
				return can.Frame{}, fmt.Errorf("invalid gear %q", v)
			}
			payload = []byte{v[0]}
		case linkPower:
			payload = []byte{boolByte(v == "start")}
		case linkAction:
			code, ok := canActionCodes[v]
			if !ok {
				return can.Frame{}, fmt.Errorf("unknown action %q", v)
			}
			payload = []byte{code}
		default:
			return can.Frame{}, fmt.Errorf("unsupported string value for %s", cmd.Name)
		}
	default:
		return can.Frame{}, fmt.Errorf("unsupported value type %T for %s", cmd.Value, cmd.Name)
	}

	f := can.Frame{ID: id, Length: uint8(len(payload))}
	copy(f.Data[:], payload)
	return f, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
