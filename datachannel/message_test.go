package datachannel

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestByteArrayMarshalsAsIntArray(t *testing.T) {
	data, err := json.Marshal(ByteArray{0, 127, 128, 255})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != "[0,127,128,255]" {
		t.Errorf("expected [0,127,128,255], got %s", data)
	}
}

func TestByteArrayUnmarshalIntArray(t *testing.T) {
	var b ByteArray
	if err := json.Unmarshal([]byte("[0,127,128,255]"), &b); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !bytes.Equal(b, []byte{0, 127, 128, 255}) {
		t.Errorf("unexpected bytes: %v", b)
	}
}

func TestByteArrayUnmarshalBase64String(t *testing.T) {
	var b ByteArray
	if err := json.Unmarshal([]byte(`"AAEC"`), &b); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !bytes.Equal(b, []byte{0, 1, 2}) {
		t.Errorf("unexpected bytes: %v", b)
	}
}

func TestByteArrayRejectsOutOfRangeValues(t *testing.T) {
	var b ByteArray
	if err := json.Unmarshal([]byte("[0,256]"), &b); err == nil {
		t.Error("expected error for value 256")
	}
	if err := json.Unmarshal([]byte("[-1]"), &b); err == nil {
		t.Error("expected error for value -1")
	}
}

func TestEncodeDecodeChunkMessage(t *testing.T) {
	payload := ChunkPayload{
		ChunkIndex:  2,
		TotalChunks: 5,
		Chunk:       ByteArray{1, 2, 3},
	}
	data, err := EncodeMessage(TypeAudioChunk, "server", payload)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	msg, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Type != TypeAudioChunk {
		t.Errorf("expected type %s, got %s", TypeAudioChunk, msg.Type)
	}
	if msg.Label != "server" {
		t.Errorf("expected label server, got %q", msg.Label)
	}

	p, err := msg.ChunkData()
	if err != nil {
		t.Fatalf("chunk payload failed: %v", err)
	}
	if p.ChunkIndex != 2 || p.TotalChunks != 5 {
		t.Errorf("unexpected chunk indices: %+v", p)
	}
	if !bytes.Equal(p.Chunk, []byte{1, 2, 3}) {
		t.Errorf("unexpected chunk bytes: %v", p.Chunk)
	}
}

func TestEncodeDecodeStartMessage(t *testing.T) {
	data, err := EncodeMessage(TypeAudioStart, "", StartPayload{
		Filename:    "turn-1",
		FileSize:    30000,
		MimeType:    "audio/lpcm;rate=48000",
		TotalChunks: 2,
	})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	msg, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	p, err := msg.Start()
	if err != nil {
		t.Fatalf("start payload failed: %v", err)
	}
	if p.Filename != "turn-1" || p.FileSize != 30000 || p.TotalChunks != 2 {
		t.Errorf("unexpected payload: %+v", p)
	}
}

func TestDecodeClientReadyWithoutPayload(t *testing.T) {
	data, err := EncodeMessage(TypeClientReady, "", nil)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	msg, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Type != TypeClientReady {
		t.Errorf("expected client-ready, got %s", msg.Type)
	}
}

func TestDecodeMessageErrors(t *testing.T) {
	if _, err := DecodeMessage([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := DecodeMessage([]byte(`{"label":"x"}`)); err == nil {
		t.Error("expected error for missing type")
	}
}
