package protocol

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// SubprotocolMsgpack is the websocket subprotocol a client offers to receive
// msgpack binary frames instead of JSON text.
const SubprotocolMsgpack = "den-day.msgpack"

// Client types announced with the ?client= query parameter.
const (
	ClientTypeCLI = "cli"
	ClientTypeWeb = "web"
)

// Codec converts messages to and from websocket frame payloads.
type Codec interface {
	Name() string
	// Binary reports whether frames go out as binary (true) or text messages.
	Binary() bool
	Marshal(msg *Message) ([]byte, error)
	Unmarshal(data []byte, msg *Message) error
}

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// SelectCodec picks the codec for a peer. CLI peers speak msgpack; browsers and
// unknown clients get JSON.
func SelectCodec(clientType, subprotocol string) Codec {
	if subprotocol == SubprotocolMsgpack || clientType == ClientTypeCLI {
		return Msgpack
	}
	return JSON
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Marshal(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg *Message) error {
	return json.Unmarshal(data, msg)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) Binary() bool { return true }

func (msgpackCodec) Marshal(msg *Message) ([]byte, error) {
	return msgpack.Marshal(msg)
}

func (msgpackCodec) Unmarshal(data []byte, msg *Message) error {
	return msgpack.Unmarshal(data, msg)
}
