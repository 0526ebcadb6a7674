package models

import (
	"database/sql/driver"
	"time"

	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// JSON field type for GORM
type JSON []byte

func (j JSON) Value() (driver.Value, error) {
	if j.IsNull() {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	s, ok := value.([]byte)
	if !ok {
		return nil
	}
	*j = append((*j)[0:0], s...)
	return nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSON) UnmarshalJSON(data []byte) error {
	if j == nil {
		return nil
	}
	*j = append((*j)[0:0], data...)
	return nil
}

func (j JSON) IsNull() bool {
	return len(j) == 0 || string(j) == "null"
}

// Account roles carried in the JWT claims.
const (
	RoleAdmin     = "admin"
	RoleLecturer  = "dosen"
	RoleStudent   = "mahasiswa"
	StatusActive  = "active"
	StatusBlocked = "inactive"
)

// User model
type User struct {
	BaseModel
	Username string `json:"username" gorm:"size:100;not null;uniqueIndex"`
	Password string `json:"-" gorm:"size:255;not null"`
	FullName string `json:"full_name" gorm:"size:255"`
	Email    string `json:"email" gorm:"size:255;uniqueIndex"`
	NIM      string `json:"nim,omitempty" gorm:"size:30"`  // student number
	NIDN     string `json:"nidn,omitempty" gorm:"size:30"` // lecturer number
	LineID   string `json:"line_id" gorm:"size:100"`
	Role     string `json:"role" gorm:"size:50;not null;default:'mahasiswa';type:enum('admin','dosen','mahasiswa')"`
	Status   string `json:"status" gorm:"size:50;not null;default:'active';type:enum('active','inactive')"`
}

// SubmissionStatus is the review state of a thesis title proposal.
type SubmissionStatus string

const (
	SubmissionSubmitted     SubmissionStatus = "submitted"
	SubmissionAccepted      SubmissionStatus = "accepted"
	SubmissionNeedsRevision SubmissionStatus = "needs_revision"
	SubmissionRejected      SubmissionStatus = "rejected"
	SubmissionCancelled     SubmissionStatus = "cancelled"
)

// Submission (pengajuan judul) model
type Submission struct {
	BaseModel
	StudentID             uint             `json:"student_id" gorm:"not null;index"`
	Title                 string           `json:"title" gorm:"size:255;not null"`
	Description           string           `json:"description" gorm:"type:text"`
	TopicArea             string           `json:"topic_area" gorm:"size:150"`
	Keywords              string           `json:"keywords" gorm:"size:255"`
	ProposalRef           string           `json:"proposal_ref" gorm:"size:500"`
	Status                SubmissionStatus `json:"status" gorm:"size:50;not null;default:'submitted';index"`
	PrimarySupervisorID   *uint            `json:"primary_supervisor_id" gorm:"index"`
	SecondarySupervisorID *uint            `json:"secondary_supervisor_id" gorm:"index"`
	Reason                string           `json:"reason" gorm:"type:text"`
	PreviousID            *uint            `json:"previous_id"` // cycle this one superseded
	ReviewedAt            *time.Time       `json:"reviewed_at"`

	// Relationships
	Student User `json:"student,omitempty" gorm:"foreignKey:StudentID"`
}

// ChapterStatus is the review state of a chapter document.
type ChapterStatus string

const (
	ChapterPending       ChapterStatus = "pending"
	ChapterAccepted      ChapterStatus = "accepted"
	ChapterNeedsRevision ChapterStatus = "needs_revision"
)

// ChapterSubmission (bab) model. One active row per (submission, chapter number).
type ChapterSubmission struct {
	BaseModel
	SubmissionID  uint          `json:"submission_id" gorm:"not null;uniqueIndex:idx_chapter_active"`
	ChapterNumber int           `json:"chapter_number" gorm:"not null;uniqueIndex:idx_chapter_active"`
	DocumentRef   string        `json:"document_ref" gorm:"size:500;not null"`
	Status        ChapterStatus `json:"status" gorm:"size:50;not null;default:'pending'"`
	Notes         string        `json:"notes" gorm:"type:text"`
	SubmittedAt   time.Time     `json:"submitted_at"`
	ReviewedAt    *time.Time    `json:"reviewed_at"`
}

// FinalReportStatus is the review state of the final report bundle.
type FinalReportStatus string

const (
	FinalReportPending       FinalReportStatus = "pending"
	FinalReportNeedsRevision FinalReportStatus = "needs_revision"
	FinalReportAccepted      FinalReportStatus = "accepted"
	FinalReportRejected      FinalReportStatus = "rejected"
)

// FinalReport (laporan akhir) model
type FinalReport struct {
	BaseModel
	SubmissionID     uint              `json:"submission_id" gorm:"not null;uniqueIndex"`
	FinalTextRef     string            `json:"final_text_ref" gorm:"size:500"`
	AbstractRef      string            `json:"abstract_ref" gorm:"size:500"`
	ApprovalSheetRef string            `json:"approval_sheet_ref" gorm:"size:500"`
	DeclarationRef   string            `json:"declaration_ref" gorm:"size:500"`
	PresentationRef  string            `json:"presentation_ref" gorm:"size:500"`
	Status           FinalReportStatus `json:"status" gorm:"size:50;not null;default:'pending'"`
	Notes            string            `json:"notes" gorm:"type:text"`
	ReviewedAt       *time.Time        `json:"reviewed_at"`
}

// GuidanceCard (kartu bimbingan) model. Written once, never updated.
type GuidanceCard struct {
	BaseModel
	SubmissionID     uint      `json:"submission_id" gorm:"not null;index"`
	FinalReportID    uint      `json:"final_report_id" gorm:"not null;uniqueIndex"`
	StudentID        uint      `json:"student_id" gorm:"not null"`
	MessageCount     int64     `json:"message_count"`
	AcceptedChapters int64     `json:"accepted_chapters"`
	ProgressChapter  int       `json:"progress_chapter"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// Message model for the guidance chat. Append-only.
type Message struct {
	BaseModel
	SubmissionID  uint   `json:"submission_id" gorm:"not null;index"`
	SenderID      uint   `json:"sender_id" gorm:"not null"`
	Content       string `json:"content" gorm:"type:text"`
	AttachmentRef string `json:"attachment_ref" gorm:"size:500"`

	// Relationships
	Sender User `json:"sender,omitempty" gorm:"foreignKey:SenderID"`
}

// Notification model
type Notification struct {
	BaseModel
	UserID         uint       `json:"user_id" gorm:"not null;index"`
	Message        string     `json:"message" gorm:"type:text;not null"`
	Type           string     `json:"type" gorm:"size:50;not null"`
	EventType      string     `json:"event_type" gorm:"size:50"`
	Read           bool       `json:"read" gorm:"default:false"`
	ReadAt         *time.Time `json:"read_at"`
	SubmissionID   *uint      `json:"submission_id"`
	MessageID      *uint      `json:"message_id"`
	IdempotencyKey *string    `json:"-" gorm:"size:64;uniqueIndex"`
}

// DocumentHistory keeps document references replaced by a resubmission.
type DocumentHistory struct {
	BaseModel
	EntityKind   string    `json:"entity_kind" gorm:"size:50;not null;index:idx_doc_entity"`
	EntityID     uint      `json:"entity_id" gorm:"not null;index:idx_doc_entity"`
	Slot         string    `json:"slot" gorm:"size:50"`
	DocumentRef  string    `json:"document_ref" gorm:"size:500;not null"`
	SupersededAt time.Time `json:"superseded_at"`
}

// Log model for transition auditing
type ActivityLog struct {
	BaseModel
	UserID     uint   `json:"user_id"`
	Action     string `json:"action" gorm:"size:100;not null"`
	Resource   string `json:"resource" gorm:"size:100;not null"`
	ResourceID uint   `json:"resource_id"`
	Details    JSON   `json:"details" gorm:"type:json"`
	IPAddress  string `json:"ip_address" gorm:"size:45"`
	UserAgent  string `json:"user_agent" gorm:"type:text"`
}

// LogArchive model for tracking archived logs
type LogArchive struct {
	BaseModel
	FileName    string    `json:"file_name" gorm:"size:255;not null"`
	S3Key       string    `json:"s3_key" gorm:"size:500;not null"`
	EndDate     time.Time `json:"end_date" gorm:"not null"`
	RecordCount int       `json:"record_count" gorm:"not null"`
	FileSize    int64     `json:"file_size" gorm:"not null"`
	Status      string    `json:"status" gorm:"size:50;not null;default:'pending'"`
}
