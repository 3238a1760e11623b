package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSafetyReject ReasonCode = "safety_reject"

	ReasonLLMStream    ReasonCode = "llm_stream"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	ReasonTTSSynthesize ReasonCode = "tts_synthesize"
	ReasonPlayback      ReasonCode = "playback"

	ReasonSTTConnect    ReasonCode = "stt_connect"
	ReasonSTTTranscribe ReasonCode = "stt_transcribe"

	ReasonToolExec     ReasonCode = "tool_exec"
	ReasonToolNotFound ReasonCode = "tool_not_found"

	ReasonAvatarConnect ReasonCode = "avatar_connect"
	ReasonAvatarSend    ReasonCode = "avatar_send"

	ReasonTurnBusy     ReasonCode = "turn_busy"
	ReasonDrainTimeout ReasonCode = "drain_timeout"
)
