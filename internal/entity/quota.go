package entity

import "time"

// QuotaCategory names a billable operation bucket.
type QuotaCategory string

const (
	QuotaRender  QuotaCategory = "composite-render"
	QuotaPrep    QuotaCategory = "prep-run"
	QuotaCleanup QuotaCategory = "cleanup-run"
)

// QuotaCounter is one durable row per (tenant, day, category). Count never
// exceeds Limit as observed by any committed transaction; the repo enforces
// that with a single atomic increment-and-check statement, never a separate
// read followed by a write.
type QuotaCounter struct {
	TenantID string        `json:"tenant_id"`
	Day      time.Time     `json:"day"`
	Category QuotaCategory `json:"category"`
	Count    int           `json:"count"`
	Limit    int           `json:"limit"`
}

// QuotaDay normalizes t to the UTC calendar day counters are keyed by.
func QuotaDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
