package store

import "time"

// User roles within a tenant.
const (
	RoleAdmin = "admin"
	RoleAgent = "agent"
	RoleBot   = "bot"
)

type Tenant struct {
	ID                       string
	Name                     string
	DefaultResponsibleUserID string
	CreatedAt                time.Time
}

type User struct {
	ID        string
	TenantID  string
	Name      string
	Email     string
	Role      string
	PushToken string
	CreatedAt time.Time
}

type Integration struct {
	ID               string
	TenantID         string
	ChannelType      string
	PhoneNumberID    string
	AccessToken      string
	BotUserID        string
	AutomationFamily string
	CreatedAt        time.Time
}

type Contact struct {
	ID        string
	TenantID  string
	Address   string
	Name      string
	Metadata  map[string]string
	CreatedAt time.Time
}

type Conversation struct {
	ID                string
	TenantID          string
	ContactID         string
	IntegrationID     string
	State             string
	ResponsibleUserID string
	UnreadCount       int
	LastUpdate        time.Time
	CreatedAt         time.Time
}

type InboundMessage struct {
	ID             string
	TenantID       string
	ConversationID string
	ExternalID     string
	Kind           string
	Body           string
	MediaURL       string
	Latitude       *float64
	Longitude      *float64
	ReceivedAt     time.Time
}

// Reply delivery statuses reported by channel callbacks.
const (
	ReplyStatusSent      = "sent"
	ReplyStatusDelivered = "delivered"
	ReplyStatusRead      = "read"
	ReplyStatusFailed    = "failed"
)

type OutboundReply struct {
	ID             string
	TenantID       string
	ConversationID string
	SenderUserID   string
	ExternalID     string
	Kind           string
	Body           string
	MediaURL       string
	Status         string
	SentAt         time.Time
}

type Template struct {
	ID        string
	TenantID  string
	Name      string
	Body      string
	CreatedAt time.Time
}

type AutomationScript struct {
	ID           string
	TenantID     string
	BotUserID    string
	Name         string
	Source       string
	Capabilities []string
	Enabled      bool
	UpdatedAt    time.Time
}

// Campaign statuses.
const (
	CampaignPending   = "pending"
	CampaignRunning   = "running"
	CampaignCompleted = "completed"
)

type Campaign struct {
	ID            string
	TenantID      string
	IntegrationID string
	TemplateID    string
	Name          string
	Status        string
	Schedule      string
	SentCount     int
	FailedCount   int
	CreatedAt     time.Time
}

type CampaignTarget struct {
	CampaignID string
	ContactID  string
	Params     []string
}
