package archive

import (
	"time"

	"github.com/wolfman30/proposal-wizard/internal/clientinfo"
	"github.com/wolfman30/proposal-wizard/internal/wizard"
)

// SubmissionRecord is the structure archived to S3 for every delivered proposal.
type SubmissionRecord struct {
	Version     string              `json:"version"` // "1.0"
	SessionID   string              `json:"session_id"`
	UserID      string              `json:"user_id"`
	PhoneHash   string              `json:"phone_hash,omitempty"` // sha256 of normalized phone
	SentAt      time.Time           `json:"sent_at"`
	ArchivedAt  time.Time           `json:"archived_at"`
	Location    string              `json:"location"`
	Detail      string              `json:"location_detail,omitempty"`
	Name        string              `json:"name,omitempty"`
	Foods       []wizard.Tag        `json:"foods"`
	Drinks      []wizard.Tag        `json:"drinks"`
	DateOptions []wizard.DateOption `json:"date_options"`
	Device      clientinfo.Device   `json:"device"`
	Geo         string              `json:"geo,omitempty"`
	NewSession  bool                `json:"new_session"`
	Message     string              `json:"message"` // scrubbed
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	SessionID   string `json:"session_id"`
	S3Key       string `json:"s3_key"`
	Location    string `json:"location"`
	DateOptions int    `json:"date_options"`
	ArchivedAt  string `json:"archived_at"`
}

// NewSubmissionRecord strips contact details from sub before it is stored.
func NewSubmissionRecord(sub wizard.Submission, archivedAt time.Time) SubmissionRecord {
	st := sub.State
	rec := SubmissionRecord{
		Version:     "1.0",
		SessionID:   sub.SessionID,
		UserID:      st.UserID,
		SentAt:      sub.SentAt,
		ArchivedAt:  archivedAt,
		Location:    string(st.SelectedLocation),
		Detail:      st.LocationDetail[st.SelectedLocation],
		Foods:       st.SelectedFoods,
		Drinks:      st.SelectedDrinks,
		DateOptions: st.DateOptions,
		Device:      sub.Meta.Device,
		Geo:         sub.Meta.Geo,
		NewSession:  sub.Meta.NewSession,
		Message:     ScrubPII(sub.Message),
	}
	if info := st.PersonalInfo; info != nil {
		rec.Name = info.Name
		rec.PhoneHash = HashPhone(info.Phone)
	}
	return rec
}
