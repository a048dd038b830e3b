package domain

// Verdict вычисляется на каждый запрос и никогда не сохраняется.
type Verdict struct {
	Allowed           bool   `json:"allowed"`
	Limit             int64  `json:"limit"`
	Remaining         int64  `json:"remaining"`
	ResetAtMillis     int64  `json:"reset_at_ms"`
	RetryAfterSeconds int64  `json:"retry_after_seconds"`
	EndpointKey       string `json:"endpoint_key"`
	Identity          string `json:"identity"`
	Role              Role   `json:"role"`

	// FailOpen отличает "хранилище недоступно, пропускаем" от честного "в пределах квоты".
	FailOpen bool `json:"fail_open,omitempty"`
}

// RejectionCode: машиночитаемый код отказа для пайплайна.
const RejectionCode = "rate_limited"
