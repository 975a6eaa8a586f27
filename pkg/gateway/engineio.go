package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Engine.IO packet types, sent as the first character of a text frame.
const (
	engineOpen    byte = '0'
	engineClose   byte = '1'
	enginePing    byte = '2'
	enginePong    byte = '3'
	engineMessage byte = '4'
	engineUpgrade byte = '5'
	engineNoop    byte = '6'
)

// Socket.IO packet types, carried inside an Engine.IO message.
const (
	socketConnect      byte = '0'
	socketDisconnect   byte = '1'
	socketEvent        byte = '2'
	socketAck          byte = '3'
	socketConnectError byte = '4'
)

const defaultNamespace = "/"

var errEmptyPacket = errors.New("empty packet")

// openPayload is the body of the Engine.IO open packet. Intervals are in
// milliseconds.
type openPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
	MaxPayload   int64    `json:"maxPayload,omitempty"`
}

// socketPacket is a decoded Socket.IO packet.
type socketPacket struct {
	Type      byte
	Namespace string
	// AckID is -1 when the packet does not request an ack.
	AckID int
	Data  []byte
}

// parseSocketPacket decodes the Socket.IO part of an Engine.IO message,
// i.e. everything after the leading '4'.
func parseSocketPacket(msg []byte) (socketPacket, error) {
	if len(msg) == 0 {
		return socketPacket{}, errEmptyPacket
	}

	p := socketPacket{Type: msg[0], Namespace: defaultNamespace, AckID: -1}
	rest := msg[1:]

	if len(rest) > 0 && rest[0] == '/' {
		end := bytes.IndexByte(rest, ',')
		if end < 0 {
			p.Namespace = string(rest)
			return p, nil
		}
		p.Namespace = string(rest[:end])
		rest = rest[end+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(string(rest[:digits]))
		if err != nil {
			return socketPacket{}, fmt.Errorf("invalid ack id: %w", err)
		}
		p.AckID = id
		rest = rest[digits:]
	}

	p.Data = rest
	return p, nil
}

// decodeEvent splits an event payload ["name", arg, ...] into the name and
// the first argument. A missing argument is returned as nil.
func decodeEvent(data []byte) (string, json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(data, &args); err != nil {
		return "", nil, fmt.Errorf("invalid event payload: %w", err)
	}
	if len(args) == 0 {
		return "", nil, errors.New("event payload has no name")
	}

	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("event name is not a string: %w", err)
	}
	if len(args) == 1 {
		return name, nil, nil
	}
	return name, args[1], nil
}

// encodeEvent builds the text frame 42["event",data] for the default
// namespace.
func encodeEvent(event string, data interface{}) ([]byte, error) {
	args := []interface{}{event}
	if data != nil {
		args = append(args, data)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, len(body)+2)
	frame = append(frame, engineMessage, socketEvent)
	return append(frame, body...), nil
}

func encodeOpen(p openPayload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return append([]byte{engineOpen}, body...), nil
}

// encodeConnect acknowledges a namespace connect. Engine.IO 4 clients expect
// the session id in the body.
func encodeConnect(version int, sid string) []byte {
	if version < 4 {
		return []byte{engineMessage, socketConnect}
	}
	body, _ := json.Marshal(map[string]string{"sid": sid})
	return append([]byte{engineMessage, socketConnect}, body...)
}

func encodeConnectError(version int, namespace, message string) []byte {
	var body []byte
	if version < 4 {
		body, _ = json.Marshal(message)
	} else {
		body, _ = json.Marshal(map[string]string{"message": message})
	}
	frame := []byte{engineMessage, socketConnectError}
	if namespace != defaultNamespace {
		frame = append(frame, namespace...)
		frame = append(frame, ',')
	}
	return append(frame, body...)
}
