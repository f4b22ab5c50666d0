package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTConnect   ReasonCode = "stt_connect"
	ReasonSTTSend      ReasonCode = "stt_send"
	ReasonSTTRetry     ReasonCode = "stt_retry"
	ReasonSTTRateLimit ReasonCode = "stt_rate_limit"

	ReasonTTSConnect   ReasonCode = "tts_connect"
	ReasonTTSSend      ReasonCode = "tts_send"
	ReasonTTSRetry     ReasonCode = "tts_retry"
	ReasonTTSRateLimit ReasonCode = "tts_rate_limit"

	ReasonLLMGenerate  ReasonCode = "llm_generate"
	ReasonLLMTimeout   ReasonCode = "llm_timeout"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	ReasonMediaDecode      ReasonCode = "media_decode"
	ReasonMetadataParse    ReasonCode = "metadata_parse"
	ReasonSessionNotFound  ReasonCode = "session_not_found"
	ReasonTransportSend    ReasonCode = "transport_send"
	ReasonTransportUpgrade ReasonCode = "transport_upgrade"
	ReasonDialerCreate     ReasonCode = "dialer_create"
)
