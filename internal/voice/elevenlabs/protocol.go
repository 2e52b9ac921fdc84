// Package elevenlabs implements the voice platform on the ElevenLabs
// Conversational AI WebSocket API.
package elevenlabs

import "encoding/json"

// Client to server message types.
const (
	typeInitiation = "conversation_initiation_client_data"
	typeToolResult = "client_tool_result"
	typePong       = "pong"
)

// Server to client message types.
const (
	typeMetadata       = "conversation_initiation_metadata"
	typeAudio          = "audio"
	typeAgentResponse  = "agent_response"
	typeUserTranscript = "user_transcript"
	typeInterruption   = "interruption"
	typePing           = "ping"
	typeToolCall       = "client_tool_call"
)

type initiation struct {
	Type             string            `json:"type"`
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
	Override         *configOverride   `json:"conversation_config_override,omitempty"`
}

type configOverride struct {
	Agent agentOverride `json:"agent"`
}

type agentOverride struct {
	FirstMessage string `json:"first_message,omitempty"`
}

type audioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type toolResult struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id"`
	Result     string `json:"result"`
	IsError    bool   `json:"is_error"`
}

type pong struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
}

// serverMessage is the union of the server events this client handles.
type serverMessage struct {
	Type string `json:"type"`

	Metadata *struct {
		ConversationID   string `json:"conversation_id"`
		AgentOutputAudio string `json:"agent_output_audio_format"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	Audio *struct {
		AudioBase64 string `json:"audio_base_64"`
		EventID     int64  `json:"event_id"`
	} `json:"audio_event,omitempty"`

	AgentResponse *struct {
		Text string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	UserTranscript *struct {
		Text string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	Ping *struct {
		EventID int64 `json:"event_id"`
		PingMS  int   `json:"ping_ms"`
	} `json:"ping_event,omitempty"`

	ToolCall *struct {
		ToolName   string          `json:"tool_name"`
		ToolCallID string          `json:"tool_call_id"`
		Parameters json.RawMessage `json:"parameters"`
	} `json:"client_tool_call,omitempty"`
}

// conversation is the body of GET /v1/convai/conversations/{id}.
type conversation struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	Transcript     []struct {
		Role    string `json:"role"`
		Message string `json:"message"`
	} `json:"transcript"`
}
