package extract

// Sentinel values for fields the correlation lookup could not supply.
const (
	SentinelNA       = "N/A"
	SentinelRedacted = "REDACTED"
	SentinelUnknown  = "unknown"
)

// Record is one flat row of the hourly report. Never mutated after creation.
type Record struct {
	Username   string
	QueryStart string // local time, ISO-8601
	QueryEnd   string // local time, ISO-8601, or "N/A"
	QueryText  string // or "REDACTED"
	QueryID    string // or "N/A"
	Workgroup  string // or "unknown"
}
