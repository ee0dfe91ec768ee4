package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func constantPCM(samples int, value int16) []byte {
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(value))
	}
	return data
}

func TestResampleSameRateCopies(t *testing.T) {
	input := constantPCM(100, 1234)
	out, err := ResamplePCM16(input, SampleRate16kHz, SampleRate16kHz)
	if err != nil {
		t.Fatalf("resample failed: %v", err)
	}
	if !bytes.Equal(out, input) {
		t.Error("same-rate resample must copy the input")
	}
	// The copy must not alias the input buffer.
	out[0] ^= 0xFF
	if input[0] == out[0] {
		t.Error("output aliases input buffer")
	}
}

func TestResampleLengthRatios(t *testing.T) {
	tests := []struct {
		name     string
		inBytes  int
		from, to int
		outBytes int
	}{
		{"client to service input", 30000, SampleRate48kHz, SampleRate16kHz, 10000},
		{"service output to client", 24000, SampleRate24kHz, SampleRate48kHz, 48000},
		{"upsample 16k to 48k", 2000, SampleRate16kHz, SampleRate48kHz, 6000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ResamplePCM16(constantPCM(tt.inBytes/2, 42), tt.from, tt.to)
			if err != nil {
				t.Fatalf("resample failed: %v", err)
			}
			if len(out) != tt.outBytes {
				t.Errorf("expected %d bytes, got %d", tt.outBytes, len(out))
			}
		})
	}
}

func TestResamplePreservesConstantSignal(t *testing.T) {
	out, err := ResamplePCM16(constantPCM(1600, -2048), SampleRate16kHz, SampleRate48kHz)
	if err != nil {
		t.Fatalf("resample failed: %v", err)
	}
	for i := 0; i < len(out); i += 2 {
		if v := int16(binary.LittleEndian.Uint16(out[i:])); v != -2048 {
			t.Fatalf("sample %d: expected -2048, got %d", i/2, v)
		}
	}
}

func TestResampleRejectsBadInput(t *testing.T) {
	if _, err := ResamplePCM16([]byte{1, 2}, 0, SampleRate16kHz); err == nil {
		t.Error("expected error for zero source rate")
	}
	if _, err := ResamplePCM16([]byte{1, 2}, SampleRate16kHz, -1); err == nil {
		t.Error("expected error for negative target rate")
	}
	if _, err := ResamplePCM16([]byte{1, 2, 3}, SampleRate16kHz, SampleRate48kHz); err == nil {
		t.Error("expected error for odd byte count")
	}
}

func TestResampleEmptyInput(t *testing.T) {
	out, err := ResamplePCM16(nil, SampleRate16kHz, SampleRate48kHz)
	if err != nil {
		t.Fatalf("resample failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty output, got %d bytes", len(out))
	}
}
