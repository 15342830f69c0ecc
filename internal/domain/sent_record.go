package domain

import "time"

// SentRecord is the immutable archival row created on successful
// transmission; it is never mutated afterward.
type SentRecord struct {
	ID             string
	CampaignID     string
	RecipientID    string
	AccountID      string
	RecipientEmail string
	RecipientName  string
	Subject        string
	SenderName     string
	SenderEmail    string
	HTMLContent    string
	TextContent    string
	MessageID      string
	SentAt         time.Time
}

// DailyAggregate holds per-calendar-day delivery counters, upserted
// atomically alongside job completion. Day is a YYYY-MM-DD key.
type DailyAggregate struct {
	Day             string
	EmailsSent      int
	EmailsDelivered int
}
