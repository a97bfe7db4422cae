package model

import (
	"time"

	"pawcal/internal/recurrence"
)

// DefaultEventDuration is used when an Event is rendered without a duration.
const DefaultEventDuration = 30 * time.Minute

// Event is the renderable form of a reminder. It is built fresh for every
// export, either from a stored Reminder or from raw request parameters, and
// is never persisted.
type Event struct {
	Title       string
	Description string
	Location    string

	// Start is interpreted in UTC with minute precision.
	Start time.Time
	// Duration falls back to DefaultEventDuration when zero.
	Duration time.Duration

	Recurrence recurrence.Rule
}

// End returns Start + Duration, applying the default duration.
func (e Event) End() time.Time {
	d := e.Duration
	if d == 0 {
		d = DefaultEventDuration
	}
	return e.Start.Add(d)
}

// Reminder is a stored pet-care reminder.
type Reminder struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Title string `gorm:"type:text;not null" json:"title"`

	// DueDate combines the submitted date and time, stored in UTC.
	DueDate time.Time `gorm:"not null;index" json:"due_date"`

	Repetition recurrence.Rule `gorm:"size:32;not null" json:"repetition"`
	Location   string          `gorm:"type:text" json:"location"`
	Notes      string          `gorm:"type:text" json:"notes"`
	PetID      *uint           `gorm:"index" json:"pet_id,omitempty"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`

	// PetName is attached by the service when PetID resolves.
	PetName string `gorm:"-" json:"-"`
}

// Date returns the due date as YYYY-MM-DD.
func (r Reminder) Date() string { return r.DueDate.UTC().Format(DateLayout) }

// Time returns the due time as HH:MM.
func (r Reminder) Time() string { return r.DueDate.UTC().Format(TimeLayout) }

// DisplayTitle appends the pet name, if any: "Vet visit (for Bob)".
func (r Reminder) DisplayTitle() string {
	if r.PetName == "" {
		return r.Title
	}
	return r.Title + " (for " + r.PetName + ")"
}

// Pet is the minimal pet record needed to decorate reminder titles.
type Pet struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"type:text;not null" json:"name"`
}

// Layouts of the date and time fields on the wire.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// CalendarFile is an encoded calendar document ready for download.
type CalendarFile struct {
	Bytes       []byte
	Filename    string
	ContentType string
}

// Occurrence is a single concrete instance of a reminder.
type Occurrence struct {
	ReminderID uint      `json:"reminder_id"`
	Title      string    `json:"title"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}
