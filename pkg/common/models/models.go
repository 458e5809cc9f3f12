package models

import "time"

const StatusPending = "pending"

// CandidateRecord is one normalised appointment row, ready for the backend.
// The JSON names are the backend's /patients contract.
type CandidateRecord struct {
	LastName        string `json:"nom"`
	FirstName       string `json:"prenom"`
	Phone           string `json:"telephone"`
	AppointmentDate string `json:"date_rdv"`
	AppointmentTime string `json:"heure_rdv"`
	SendStatus      string `json:"statut_envoi"`
	ResponseStatus  string `json:"reponse"`
	IsNew           bool   `json:"nouveau"`
}

func NewCandidateRecord(lastName, firstName, phone, date, hour string) CandidateRecord {
	return CandidateRecord{
		LastName:        lastName,
		FirstName:       firstName,
		Phone:           phone,
		AppointmentDate: date,
		AppointmentTime: hour,
		SendStatus:      StatusPending,
		ResponseStatus:  StatusPending,
		IsNew:           true,
	}
}

func (r CandidateRecord) DisplayName() string {
	switch {
	case r.FirstName == "":
		return r.LastName
	case r.LastName == "":
		return r.FirstName
	}
	return r.FirstName + " " + r.LastName
}

// DriveFile is the subset of storage metadata the watcher works with.
type DriveFile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	MimeType    string    `json:"mime_type"`
	CreatedTime time.Time `json:"created_time"`
}

type DriveFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Event bus envelope
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // file.processed, sweep.completed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}
