package protocol

// Stable error codes returned by the relay. Clients switch on these, never on
// message text.
const (
	ErrCodeChannelIDMissing   = "channelId_missing"
	ErrCodeCodeMissing        = "code_missing"
	ErrCodeInvalidCode        = "invalid_or_expired_code"
	ErrCodeInvalidJWT         = "invalid_twitch_jwt"
	ErrCodeForbidden          = "forbidden"
	ErrCodeChannelMismatch    = "channel_mismatch"
	ErrCodeActiveLimitReached = "active_streamers_limit_reached"
	ErrCodeMissingIngestToken = "missing_ingest_token"
	ErrCodeInvalidIngestToken = "invalid_ingest_token"
	ErrCodeStaleSequence      = "stale_sequence"
	ErrCodeNeedsNewAutosave   = "needs_new_autosave"
	ErrCodeTooSoon            = "too_soon"
	ErrCodePayloadTooLarge    = "payload_too_large"
	ErrCodePubSubFailed       = "pubsub_failed"
	ErrCodeInvalidBody        = "invalid_body"
	ErrCodeNotFound           = "not_found"
	ErrCodeRateLimited        = "rate_limited"
)

// ErrorBody is the JSON error shape every non-2xx relay response carries.
// RetryInMs and Max are set only where actionable.
type ErrorBody struct {
	Error     string `json:"error"`
	Hint      string `json:"hint,omitempty"`
	RetryInMs int64  `json:"retryInMs,omitempty"`
	Max       int    `json:"max,omitempty"`
	LastSeq   int64  `json:"lastSeq,omitempty"`
}
