// Package datachannel implements the framed audio transport spoken with the
// browser over a peer-to-peer data channel. Audio travels as indexed chunks
// bracketed by start and end markers; the same three-message grammar is used
// for client→server upload and server→client playback.
package datachannel

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// MessageType identifies a data-channel message.
type MessageType string

// Data-channel message types.
const (
	TypeAudioStart  MessageType = "audio-start"
	TypeAudioChunk  MessageType = "audio-chunk"
	TypeAudioEnd    MessageType = "audio-end"
	TypeClientReady MessageType = "client-ready"
)

// Message is the envelope of every data-channel message.
type Message struct {
	Type  MessageType     `json:"type"`
	Label string          `json:"label,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StartPayload announces a multi-chunk audio transfer.
type StartPayload struct {
	Filename    string `json:"filename"`
	FileSize    int    `json:"fileSize"`
	MimeType    string `json:"mimeType"`
	TotalChunks int    `json:"totalChunks"`
}

// ChunkPayload carries one indexed fragment of the transfer.
type ChunkPayload struct {
	ChunkIndex  int       `json:"chunkIndex"`
	TotalChunks int       `json:"totalChunks"`
	Chunk       ByteArray `json:"chunk"`
}

// EndPayload closes a transfer.
type EndPayload struct {
	Filename string `json:"filename"`
}

// ByteArray marshals as a JSON array of byte values, matching the browser
// side which serializes Uint8Array contents element by element. Unmarshal
// also accepts a base64 string for clients that send bytes the compact way.
type ByteArray []byte

// MarshalJSON implements json.Marshaler.
func (b ByteArray) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteArray) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("datachannel: bad base64 chunk: %w", err)
		}
		*b = decoded
		return nil
	}

	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("datachannel: chunk byte %d out of range at index %d", v, i)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// DecodeMessage parses a raw data-channel message.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("datachannel: decode message: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("datachannel: message missing type")
	}
	return &m, nil
}

// EncodeMessage builds a raw data-channel message from a typed payload.
// Payload may be nil for control messages like client-ready.
func EncodeMessage(msgType MessageType, label string, payload interface{}) ([]byte, error) {
	m := Message{Type: msgType, Label: label}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("datachannel: encode %s payload: %w", msgType, err)
		}
		m.Data = data
	}
	return json.Marshal(m)
}

// Start parses the payload of an audio-start message.
func (m *Message) Start() (*StartPayload, error) {
	var p StartPayload
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return nil, fmt.Errorf("datachannel: decode audio-start payload: %w", err)
	}
	return &p, nil
}

// ChunkData parses the payload of an audio-chunk message.
func (m *Message) ChunkData() (*ChunkPayload, error) {
	var p ChunkPayload
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return nil, fmt.Errorf("datachannel: decode audio-chunk payload: %w", err)
	}
	return &p, nil
}

// End parses the payload of an audio-end message.
func (m *Message) End() (*EndPayload, error) {
	var p EndPayload
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return nil, fmt.Errorf("datachannel: decode audio-end payload: %w", err)
	}
	return &p, nil
}
