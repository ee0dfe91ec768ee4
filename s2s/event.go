// Package s2s implements the bidirectional session protocol spoken with a
// remote streaming speech-to-speech inference service. One session drives a
// strict lifecycle (sessionStart → promptStart → content streams → promptEnd →
// sessionEnd) over a duplex connection, multiplexing text, audio and tool
// content streams by correlation id.
package s2s

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Role identifies the speaker a content stream belongs to.
type Role string

// Content stream roles.
const (
	RoleSystem    Role = "SYSTEM"
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleTool      Role = "TOOL"
)

// Kind identifies the payload type of a content stream.
type Kind string

// Content stream kinds.
const (
	KindText  Kind = "TEXT"
	KindAudio Kind = "AUDIO"
	KindTool  Kind = "TOOL"
)

// Generation stage markers carried on inbound contentStart events. SPECULATIVE
// output may be retracted by the service and must not be surfaced until a
// FINAL marker arrives.
const (
	StageSpeculative = "SPECULATIVE"
	StageFinal       = "FINAL"
)

// InferenceConfig holds the immutable sampling parameters for a session.
type InferenceConfig struct {
	MaxTokens   int     `json:"maxTokens"`
	TopP        float64 `json:"topP"`
	Temperature float64 `json:"temperature"`
}

// DefaultInferenceConfig returns the sampling parameters used when the caller
// does not supply any.
func DefaultInferenceConfig() InferenceConfig {
	return InferenceConfig{MaxTokens: 1024, TopP: 0.95, Temperature: 0.7}
}

// AudioInputConfig describes the PCM format of user audio fed to the service.
type AudioInputConfig struct {
	MediaType       string `json:"mediaType"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	SampleSizeBits  int    `json:"sampleSizeBits"`
	ChannelCount    int    `json:"channelCount"`
	AudioType       string `json:"audioType"`
	Encoding        string `json:"encoding"`
}

// DefaultAudioInputConfig returns the service's expected input format:
// 16 kHz mono 16-bit linear PCM, base64 encoded on the wire.
func DefaultAudioInputConfig() AudioInputConfig {
	return AudioInputConfig{
		MediaType:       "audio/lpcm",
		SampleRateHertz: 16000,
		SampleSizeBits:  16,
		ChannelCount:    1,
		AudioType:       "SPEECH",
		Encoding:        "base64",
	}
}

// AudioOutputConfig describes the format the service synthesizes speech in.
type AudioOutputConfig struct {
	MediaType       string `json:"mediaType"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	SampleSizeBits  int    `json:"sampleSizeBits"`
	ChannelCount    int    `json:"channelCount"`
	VoiceID         string `json:"voiceId"`
	Encoding        string `json:"encoding"`
	AudioType       string `json:"audioType"`
}

// DefaultAudioOutputConfig returns 24 kHz mono 16-bit linear PCM output.
func DefaultAudioOutputConfig(voiceID string) AudioOutputConfig {
	if voiceID == "" {
		voiceID = "tiffany"
	}
	return AudioOutputConfig{
		MediaType:       "audio/lpcm",
		SampleRateHertz: 24000,
		SampleSizeBits:  16,
		ChannelCount:    1,
		VoiceID:         voiceID,
		Encoding:        "base64",
		AudioType:       "SPEECH",
	}
}

// MediaTypeConfig carries a bare media type, used for text and tool output
// configuration blocks.
type MediaTypeConfig struct {
	MediaType string `json:"mediaType"`
}

// ToolSpec declares a single tool the model may invoke during a prompt.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema wraps a JSON Schema document describing the tool's input.
type ToolInputSchema struct {
	JSON string `json:"json"`
}

// ToolEntry is the wire wrapper around a ToolSpec.
type ToolEntry struct {
	ToolSpec ToolSpec `json:"toolSpec"`
}

// ToolConfiguration lists the tools declared on promptStart.
type ToolConfiguration struct {
	Tools []ToolEntry `json:"tools"`
}

// ToolResultInputConfig correlates a TOOL content stream with the toolUse
// event it answers.
type ToolResultInputConfig struct {
	ToolUseID string           `json:"toolUseId"`
	Type      string           `json:"type"`
	TextInput *MediaTypeConfig `json:"textInputConfiguration,omitempty"`
}

// SessionStartEvent opens the conversation with the inference parameters.
type SessionStartEvent struct {
	InferenceConfiguration InferenceConfig `json:"inferenceConfiguration"`
}

// PromptStartEvent opens a prompt and declares output formats and tools.
type PromptStartEvent struct {
	PromptName             string             `json:"promptName"`
	TextOutputConfig       *MediaTypeConfig   `json:"textOutputConfiguration,omitempty"`
	AudioOutputConfig      *AudioOutputConfig `json:"audioOutputConfiguration,omitempty"`
	ToolUseOutputConfig    *MediaTypeConfig   `json:"toolUseOutputConfiguration,omitempty"`
	ToolConfiguration      *ToolConfiguration `json:"toolConfiguration,omitempty"`
}

// ContentStartEvent opens a content stream. Outbound events carry the input
// configuration matching their kind; inbound events carry the role and an
// optional additionalModelFields JSON blob with the generation stage.
type ContentStartEvent struct {
	PromptName            string                 `json:"promptName,omitempty"`
	ContentName           string                 `json:"contentName,omitempty"`
	Type                  Kind                   `json:"type,omitempty"`
	Interactive           *bool                  `json:"interactive,omitempty"`
	Role                  Role                   `json:"role,omitempty"`
	TextInputConfig       *MediaTypeConfig       `json:"textInputConfiguration,omitempty"`
	AudioInputConfig      *AudioInputConfig      `json:"audioInputConfiguration,omitempty"`
	ToolResultInputConfig *ToolResultInputConfig `json:"toolResultInputConfiguration,omitempty"`
	AdditionalModelFields string                 `json:"additionalModelFields,omitempty"`
}

// GenerationStage parses the additionalModelFields blob and returns the
// generation stage marker, or empty when absent or undecodable.
func (e *ContentStartEvent) GenerationStage() string {
	if e.AdditionalModelFields == "" {
		return ""
	}
	var fields struct {
		GenerationStage string `json:"generationStage"`
	}
	if err := json.Unmarshal([]byte(e.AdditionalModelFields), &fields); err != nil {
		return ""
	}
	return fields.GenerationStage
}

// TextInputEvent carries user or system text on an open TEXT content stream.
type TextInputEvent struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
	Content     string `json:"content"`
}

// AudioInputEvent carries one base64 PCM payload on an open AUDIO stream.
type AudioInputEvent struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
	Content     string `json:"content"`
}

// ToolResultEvent answers a toolUse request on an open TOOL stream.
type ToolResultEvent struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
	Content     string `json:"content"`
}

// ContentEndEvent closes a content stream. Inbound events may carry the
// service's stop reason (for example INTERRUPTED on barge-in).
type ContentEndEvent struct {
	PromptName  string `json:"promptName,omitempty"`
	ContentName string `json:"contentName,omitempty"`
	Type        Kind   `json:"type,omitempty"`
	StopReason  string `json:"stopReason,omitempty"`
}

// PromptEndEvent closes the prompt.
type PromptEndEvent struct {
	PromptName string `json:"promptName"`
}

// SessionEndEvent closes the session. It carries no fields.
type SessionEndEvent struct{}

// TextOutputEvent is an inbound transcript fragment.
type TextOutputEvent struct {
	PromptName  string `json:"promptName,omitempty"`
	ContentName string `json:"contentName,omitempty"`
	Role        Role   `json:"role,omitempty"`
	Content     string `json:"content"`
}

// AudioOutputEvent is an inbound base64 PCM payload of synthesized speech.
type AudioOutputEvent struct {
	PromptName  string `json:"promptName,omitempty"`
	ContentName string `json:"contentName,omitempty"`
	Content     string `json:"content"`
}

// Decoded returns the raw PCM bytes of the payload.
func (e *AudioOutputEvent) Decoded() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(e.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: bad audio payload: %v", ErrMalformedEvent, err)
	}
	return data, nil
}

// ToolUseEvent is an inbound request to invoke a declared tool.
type ToolUseEvent struct {
	ToolUseID string `json:"toolUseId"`
	ToolName  string `json:"toolName"`
	Input     string `json:"content,omitempty"`
}

// CompletionEndEvent marks the inbound side of the current turn finished.
type CompletionEndEvent struct {
	StopReason string `json:"stopReason,omitempty"`
}

// UsageEvent reports token accounting for the session so far.
type UsageEvent struct {
	CompletionID      string `json:"completionId,omitempty"`
	TotalInputTokens  int    `json:"totalInputTokens"`
	TotalOutputTokens int    `json:"totalOutputTokens"`
	TotalTokens       int    `json:"totalTokens"`
}

// Event is the tagged union exchanged with the service: exactly one variant is
// populated per wire message. Unrecognized tags decode into UnknownTag rather
// than failing so the dispatcher can skip them forward-compatibly.
type Event struct {
	SessionStart  *SessionStartEvent  `json:"sessionStart,omitempty"`
	PromptStart   *PromptStartEvent   `json:"promptStart,omitempty"`
	ContentStart  *ContentStartEvent  `json:"contentStart,omitempty"`
	TextInput     *TextInputEvent     `json:"textInput,omitempty"`
	AudioInput    *AudioInputEvent    `json:"audioInput,omitempty"`
	ToolResult    *ToolResultEvent    `json:"toolResult,omitempty"`
	ContentEnd    *ContentEndEvent    `json:"contentEnd,omitempty"`
	PromptEnd     *PromptEndEvent     `json:"promptEnd,omitempty"`
	SessionEnd    *SessionEndEvent    `json:"sessionEnd,omitempty"`
	TextOutput    *TextOutputEvent    `json:"textOutput,omitempty"`
	AudioOutput   *AudioOutputEvent   `json:"audioOutput,omitempty"`
	ToolUse       *ToolUseEvent       `json:"toolUse,omitempty"`
	CompletionEnd *CompletionEndEvent `json:"completionEnd,omitempty"`
	Usage         *UsageEvent         `json:"usageEvent,omitempty"`

	// UnknownTag holds the wire tag of an event this build does not know.
	UnknownTag string `json:"-"`
}

// Kind returns the wire tag of the populated variant.
func (e *Event) Kind() string {
	switch {
	case e.SessionStart != nil:
		return "sessionStart"
	case e.PromptStart != nil:
		return "promptStart"
	case e.ContentStart != nil:
		return "contentStart"
	case e.TextInput != nil:
		return "textInput"
	case e.AudioInput != nil:
		return "audioInput"
	case e.ToolResult != nil:
		return "toolResult"
	case e.ContentEnd != nil:
		return "contentEnd"
	case e.PromptEnd != nil:
		return "promptEnd"
	case e.SessionEnd != nil:
		return "sessionEnd"
	case e.TextOutput != nil:
		return "textOutput"
	case e.AudioOutput != nil:
		return "audioOutput"
	case e.ToolUse != nil:
		return "toolUse"
	case e.CompletionEnd != nil:
		return "completionEnd"
	case e.Usage != nil:
		return "usageEvent"
	case e.UnknownTag != "":
		return e.UnknownTag
	}
	return ""
}

var interactive = true

// NewSessionStart builds the sessionStart event.
func NewSessionStart(cfg InferenceConfig) *Event {
	return &Event{SessionStart: &SessionStartEvent{InferenceConfiguration: cfg}}
}

// NewPromptStart builds the promptStart event declaring output formats and tools.
func NewPromptStart(promptName string, audioOut AudioOutputConfig, tools ToolConfiguration) *Event {
	return &Event{PromptStart: &PromptStartEvent{
		PromptName:          promptName,
		TextOutputConfig:    &MediaTypeConfig{MediaType: "text/plain"},
		AudioOutputConfig:   &audioOut,
		ToolUseOutputConfig: &MediaTypeConfig{MediaType: "application/json"},
		ToolConfiguration:   &tools,
	}}
}

// NewTextContentStart opens a TEXT content stream for the given role.
func NewTextContentStart(promptName, contentName string, role Role) *Event {
	return &Event{ContentStart: &ContentStartEvent{
		PromptName:      promptName,
		ContentName:     contentName,
		Type:            KindText,
		Interactive:     &interactive,
		Role:            role,
		TextInputConfig: &MediaTypeConfig{MediaType: "text/plain"},
	}}
}

// NewAudioContentStart opens an AUDIO content stream carrying user speech.
func NewAudioContentStart(promptName, contentName string, cfg AudioInputConfig) *Event {
	return &Event{ContentStart: &ContentStartEvent{
		PromptName:       promptName,
		ContentName:      contentName,
		Type:             KindAudio,
		Interactive:      &interactive,
		Role:             RoleUser,
		AudioInputConfig: &cfg,
	}}
}

// NewToolContentStart opens a TOOL content stream answering toolUseID.
func NewToolContentStart(promptName, contentName, toolUseID string) *Event {
	notInteractive := false
	return &Event{ContentStart: &ContentStartEvent{
		PromptName:  promptName,
		ContentName: contentName,
		Type:        KindTool,
		Interactive: &notInteractive,
		Role:        RoleTool,
		ToolResultInputConfig: &ToolResultInputConfig{
			ToolUseID: toolUseID,
			Type:      "TEXT",
			TextInput: &MediaTypeConfig{MediaType: "text/plain"},
		},
	}}
}

// NewTextInput builds a textInput event for an open TEXT stream.
func NewTextInput(promptName, contentName, content string) *Event {
	return &Event{TextInput: &TextInputEvent{PromptName: promptName, ContentName: contentName, Content: content}}
}

// NewAudioInput builds an audioInput event, base64-encoding the PCM payload.
func NewAudioInput(promptName, contentName string, pcm []byte) *Event {
	return &Event{AudioInput: &AudioInputEvent{
		PromptName:  promptName,
		ContentName: contentName,
		Content:     base64.StdEncoding.EncodeToString(pcm),
	}}
}

// NewToolResult builds a toolResult event for an open TOOL stream.
func NewToolResult(promptName, contentName, content string) *Event {
	return &Event{ToolResult: &ToolResultEvent{PromptName: promptName, ContentName: contentName, Content: content}}
}

// NewContentEnd closes a content stream.
func NewContentEnd(promptName, contentName string) *Event {
	return &Event{ContentEnd: &ContentEndEvent{PromptName: promptName, ContentName: contentName}}
}

// NewPromptEnd closes the prompt.
func NewPromptEnd(promptName string) *Event {
	return &Event{PromptEnd: &PromptEndEvent{PromptName: promptName}}
}

// NewSessionEnd closes the session.
func NewSessionEnd() *Event {
	return &Event{SessionEnd: &SessionEndEvent{}}
}
