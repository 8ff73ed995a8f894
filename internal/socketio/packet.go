package socketio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Engine.IO v4 packet types.
const (
	eioOpen    byte = '0'
	eioClose   byte = '1'
	eioPing    byte = '2'
	eioPong    byte = '3'
	eioMessage byte = '4'
	eioUpgrade byte = '5'
	eioNoop    byte = '6'
)

// Socket.IO v5 packet types, carried inside an Engine.IO message.
const (
	sioConnect      byte = '0'
	sioDisconnect   byte = '1'
	sioEvent        byte = '2'
	sioAck          byte = '3'
	sioConnectError byte = '4'
	sioBinaryEvent  byte = '5'
	sioBinaryAck    byte = '6'
)

var errEmptyFrame = errors.New("empty frame")

// handshake is the Engine.IO open packet body. Durations are milliseconds.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
	MaxPayload   int    `json:"maxPayload"`
}

// packet is one decoded text frame. sio and data are only set for messages.
type packet struct {
	eio  byte
	sio  byte
	data []byte
}

func decodeFrame(frame []byte) (packet, error) {
	if len(frame) == 0 {
		return packet{}, errEmptyFrame
	}
	p := packet{eio: frame[0], data: frame[1:]}
	if p.eio != eioMessage {
		return p, nil
	}
	if len(p.data) == 0 {
		return packet{}, fmt.Errorf("message frame without socket.io type")
	}
	p.sio, p.data = p.data[0], p.data[1:]
	return p, nil
}

// stripHeader removes the optional "/nsp," prefix and ack id in front of a
// socket.io payload.
func stripHeader(data []byte) []byte {
	if len(data) > 0 && data[0] == '/' {
		if i := bytes.IndexByte(data, ','); i >= 0 {
			data = data[i+1:]
		} else {
			return nil
		}
	}
	i := 0
	for i < len(data) && data[i] >= '0' && data[i] <= '9' {
		i++
	}
	return data[i:]
}

// decodeEvent splits an EVENT payload into its name and first argument.
// Extra arguments are ignored; the server never sends more than one.
func decodeEvent(data []byte) (string, json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(stripHeader(data), &args); err != nil {
		return "", nil, fmt.Errorf("decode event: %w", err)
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("decode event: empty argument list")
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}
	if len(args) < 2 {
		return name, nil, nil
	}
	return name, args[1], nil
}

// ConnectError is the server's refusal of the namespace connection.
type ConnectError struct {
	Message string
}

func (e *ConnectError) Error() string {
	return "socket.io connect error: " + e.Message
}

func decodeConnectError(data []byte) *ConnectError {
	data = stripHeader(data)
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return &ConnectError{Message: body.Message}
	}
	return &ConnectError{Message: string(data)}
}

func encodeEvent(name string, payload any) ([]byte, error) {
	body, err := json.Marshal([]any{name, payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return append([]byte{eioMessage, sioEvent}, body...), nil
}

func encodeConnect(auth any) ([]byte, error) {
	frame := []byte{eioMessage, sioConnect}
	if auth == nil {
		return frame, nil
	}
	body, err := json.Marshal(auth)
	if err != nil {
		return nil, fmt.Errorf("encode auth: %w", err)
	}
	return append(frame, body...), nil
}

var (
	pongFrame       = []byte{eioPong}
	disconnectFrame = []byte{eioMessage, sioDisconnect}
)
