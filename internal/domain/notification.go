package domain

// DeliveryChannel identifies how a notification reached its recipient
type DeliveryChannel string

const (
	ChannelLive  DeliveryChannel = "live"
	ChannelEmail DeliveryChannel = "email"
)

// DefaultSubject is used for fallback emails when the event carries none
const DefaultSubject = "Application Status Update"

// AccountType is the kind of portal account a recipient holds
type AccountType string

const (
	AccountCompany    AccountType = "company"
	AccountCollege    AccountType = "college"
	AccountJobSeeker  AccountType = "jobseeker"
	AccountUser       AccountType = "user"
	AccountConsultant AccountType = "consultant"
)

// Valid reports whether a is one of the portal's account kinds
func (a AccountType) Valid() bool {
	switch a {
	case AccountCompany, AccountCollege, AccountJobSeeker, AccountUser, AccountConsultant:
		return true
	}
	return false
}

// NotificationEvent is raised by a collaborator when a recipient's situation
// changed, e.g. an application status update.
type NotificationEvent struct {
	Recipient     string      `json:"recipient"`                // registered email address
	RecipientName string      `json:"recipient_name,omitempty"` // used in the email salutation
	AccountType   AccountType `json:"account_type,omitempty"`
	Subject       string      `json:"subject,omitempty"`
	Message       string      `json:"message"`
	Signature     string      `json:"signature,omitempty"` // e.g. "HR Team\nAcme Corp"
}

// Validate checks the fields dispatch cannot do without. AccountType is
// optional but must be a known kind when set.
func (e *NotificationEvent) Validate() error {
	if NormalizeIdentity(e.Recipient) == "" || e.Message == "" {
		return ErrInvalidEvent
	}
	if e.AccountType != "" && !e.AccountType.Valid() {
		return ErrInvalidEvent
	}
	return nil
}
