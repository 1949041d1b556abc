package models

import "time"

type Lead struct {
	ID                    string
	PlaceID               string
	BusinessName          string
	BusinessType          string
	Address               string
	City                  string
	State                 string
	Zip                   string
	Phone                 string
	Email                 string
	Website               string
	Latitude              *float64
	Longitude             *float64
	CampaignStatus        CampaignStatus
	DripStep              int
	LastEmailSentAt       *time.Time
	LastCallAt            *time.Time
	CallOutcome           CallOutcome
	CallRecordingURL      string
	CallSID               string
	OpeningVariant        OpeningVariant
	IsFiberLaunchArea     bool
	FiberLaunchSource     string
	DiscoveryBatch        string
	GatekeeperEncountered bool
	GatekeeperName        string
	DecisionMakerName     string
	DecisionMakerTitle    string
	Objections            []string
	QualifyingAnswers     map[string]string
	Notes                 string
	CallbackAt            *time.Time
	ConvertedOrderID      string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type CallRecord struct {
	ID              string
	LeadID          string
	Direction       CallDirection
	FromNumber      string
	ToNumber        string
	CustomerName    string
	CustomerEmail   string
	DurationSeconds int
	RecordingURL    string
	Transcript      string
	Summary         string
	CallSID         string
	ConversationID  string
	Status          CallStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CallUpdate carries late-arriving call fields; zero values leave the stored column untouched.
type CallUpdate struct {
	Status          CallStatus
	DurationSeconds int
	RecordingURL    string
	Transcript      string
	Summary         string
}

type ScanRecord struct {
	URL         string
	Title       string
	PublishDate string
	Locations   []string
	PlaceNames  []string
	ZipCodes    []string
	LeadsTagged int
	ScannedAt   time.Time
}

type SweepState struct {
	NextIndex        int
	RunCount         int
	ActiveCategory   string
	LastRunAt        *time.Time
	LastZipsSearched int
	LastInserted     int
}

type Order struct {
	ID             string
	LeadID         string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	ServiceAddress string
	ServiceType    string
	Plan           string
	Notes          string
	Status         string
	CreatedAt      time.Time
}

type CampaignRun struct {
	ID              string
	Name            string
	Status          string
	TotalEmailsSent int
	LeadsDiscovered int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type StatusChange struct {
	LeadID    string
	From      CampaignStatus
	To        CampaignStatus
	Source    string
	CreatedAt time.Time
}

// DripFilter narrows the drip eligibility query.
type DripFilter struct {
	LeadIDs        []string
	DiscoveryBatch string
	Limit          int
}

// DialFilter parameterises the autodialer eligibility query.
type DialFilter struct {
	Now      time.Time
	Cooldown time.Duration
	Limit    int
}
