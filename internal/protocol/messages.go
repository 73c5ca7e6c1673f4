package protocol

import "time"

// AudioFrame represents PCM audio data streamed from edge devices.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript represents STT output broadcast on the bus. Alternatives carries
// every hypothesis for the utterance; Text is the one the recognizer ranked last.
type Transcript struct {
	SessionID    string    `json:"session_id"`
	Text         string    `json:"text"`
	Alternatives []string  `json:"alternatives,omitempty"`
	Partial      bool      `json:"partial"`
	Timestamp    time.Time `json:"timestamp"`
	Confidence   float64   `json:"confidence,omitempty"`
}

// RecognizerError reports a failure from the speech recognizer.
type RecognizerError struct {
	SessionID string    `json:"session_id"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ListenControl starts or stops capture for a session.
type ListenControl struct {
	SessionID string `json:"session_id"`
	Locale    string `json:"locale,omitempty"`
	Destroy   bool   `json:"destroy,omitempty"`
}

// TTSRequest asks the synthesizer to speak.
type TTSRequest struct {
	SessionID string  `json:"session_id"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice,omitempty"`
	Language  string  `json:"language,omitempty"`
	Rate      float64 `json:"rate,omitempty"`
	Pitch     float64 `json:"pitch,omitempty"`
}

// TTSCancel stops in-flight speech. An empty session cancels everything.
type TTSCancel struct {
	SessionID string `json:"session_id,omitempty"`
}

// TTSAudioChunk is one slice of synthesized PCM.
type TTSAudioChunk struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// TTSDone marks the end of a synthesis request.
type TTSDone struct {
	SessionID string `json:"session_id"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
}

// LLMRequest asks the language model to answer a prompt.
type LLMRequest struct {
	SessionID   string  `json:"session_id"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Tier        string  `json:"tier,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// LLMResponse streams model output. Token counts and latency are only set on
// a successful final response.
type LLMResponse struct {
	SessionID        string    `json:"session_id"`
	Content          string    `json:"content"`
	Final            bool      `json:"final"`
	Error            string    `json:"error,omitempty"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	LatencyMS        int64     `json:"latency_ms,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// RouteChanged is published by the app whenever the visible screen changes.
type RouteChanged struct {
	Route string `json:"route"`
}

// Navigate asks the app to show a screen.
type Navigate struct {
	Route string `json:"route"`
}

// ChatState is published by the app when the chat modal opens or closes.
type ChatState struct {
	Open      bool `json:"open"`
	Available bool `json:"available"`
}

// ChatQuestion pre-fills and sends a question in the chat modal.
type ChatQuestion struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	Asked    time.Time `json:"asked"`
}

// ChatAnswer carries the model's reply to a ChatQuestion.
type ChatAnswer struct {
	ID     string `json:"id"`
	Answer string `json:"answer"`
	Final  bool   `json:"final"`
	Error  string `json:"error,omitempty"`
}

// Toast is a transient on-screen acknowledgement.
type Toast struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// SectionAvailable announces whether a readable content section is loaded.
type SectionAvailable struct {
	Available bool     `json:"available"`
	Sections  []string `json:"sections,omitempty"`
}

// SectionRead asks the app to read one section aloud.
type SectionRead struct {
	Section string `json:"section"`
}

// PreferenceChange sets or reports a single preference flag.
type PreferenceChange struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

// RecordControl starts or stops a detection recording.
type RecordControl struct {
	Upload bool `json:"upload,omitempty"`
}

// RecordAck answers a RecordControl request.
type RecordAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Feature is something a peer offers, such as "voice" or "chat".
type Feature struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Announce introduces a peer and what it offers.
type Announce struct {
	PeerID    string    `json:"peer_id"`
	Role      string    `json:"role"`
	Features  []Feature `json:"features,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Heartbeat keeps a peer marked alive.
type Heartbeat struct {
	PeerID    string    `json:"peer_id"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix  = "audio.frame"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectRecognizerError   = "stt.error"
	SubjectListenStart       = "stt.listen.start"
	SubjectListenStop        = "stt.listen.stop"

	SubjectTTSRequest = "tts.request"
	SubjectTTSCancel  = "tts.cancel"
	SubjectTTSAudio   = "tts.audio"
	SubjectTTSDone    = "tts.done"

	SubjectLLMRequest         = "llm.request"
	SubjectLLMResponsePartial = "llm.response.partial"
	SubjectLLMResponseFinal   = "llm.response.final"

	SubjectRouteChanged     = "ui.route.changed"
	SubjectNavigate         = "ui.navigate"
	SubjectChatOpen         = "ui.chat.open"
	SubjectChatClose        = "ui.chat.close"
	SubjectChatState        = "ui.chat.state"
	SubjectChatQuestion     = "ui.chat.question"
	SubjectChatAnswer       = "ui.chat.answer"
	SubjectToast            = "ui.toast"
	SubjectSectionAvailable = "ui.section.available"
	SubjectSectionRead      = "ui.section.read"

	SubjectPreferenceSet     = "prefs.set"
	SubjectPreferenceChanged = "prefs.changed"

	SubjectRecordStart = "detect.record.start"
	SubjectRecordStop  = "detect.record.stop"

	SubjectPresenceAnnounce        = "presence.announce"
	SubjectPresenceHeartbeatPrefix = "presence.heartbeat"
)
