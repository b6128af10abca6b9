package domain

import "time"

// Canonical field names of the remote profile document. These match the
// document keys in the store, so a field name is usable both as a draft
// accessor and as a merge-write key.
const (
	FieldFullName = "fullName"
	FieldPhone    = "phone"
	FieldEmail    = "email"
	FieldBio      = "bio"
	FieldLocation = "location"
	FieldSkills   = "skills"
	FieldGithub   = "github"
	FieldWebsite  = "website"
	FieldPhotoURL = "photoUrl"

	FieldUpdatedAt  = "updatedAt"
	FieldCreatedAt  = "createdAt"
	FieldLastLogin  = "lastLogin"
	FieldLastLogout = "lastLogout"
)

// EditableFields lists the profile fields a client may write. Email is
// deliberately absent: it mirrors the auth identity and is never
// client-writable once set.
var EditableFields = []string{
	FieldFullName,
	FieldPhone,
	FieldBio,
	FieldLocation,
	FieldSkills,
	FieldGithub,
	FieldWebsite,
	FieldPhotoURL,
}

// IsEditableField reports whether name is a client-writable profile field.
func IsEditableField(name string) bool {
	for _, f := range EditableFields {
		if f == name {
			return true
		}
	}
	return false
}

// ProfileDocument is the remote profile document, one per user. The store
// exclusively owns it; clients hold a cached, possibly stale copy.
type ProfileDocument struct {
	FullName string `json:"fullName,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Bio      string `json:"bio,omitempty"`
	Location string `json:"location,omitempty"`
	Skills   string `json:"skills,omitempty"`
	Github   string `json:"github,omitempty"`
	Website  string `json:"website,omitempty"`
	PhotoURL string `json:"photoUrl,omitempty"`

	CreatedAt  time.Time `json:"createdAt,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt,omitempty"`
	LastLogin  time.Time `json:"lastLogin,omitempty"`
	LastLogout time.Time `json:"lastLogout,omitempty"`
}

// Field returns the value of the named editable field (or email).
func (d *ProfileDocument) Field(name string) (string, bool) {
	switch name {
	case FieldFullName:
		return d.FullName, true
	case FieldPhone:
		return d.Phone, true
	case FieldEmail:
		return d.Email, true
	case FieldBio:
		return d.Bio, true
	case FieldLocation:
		return d.Location, true
	case FieldSkills:
		return d.Skills, true
	case FieldGithub:
		return d.Github, true
	case FieldWebsite:
		return d.Website, true
	case FieldPhotoURL:
		return d.PhotoURL, true
	default:
		return "", false
	}
}

// ProfileDraft is the local, editable, possibly-ahead-of-remote copy of a
// user's profile. It is mutated only by the sync engine; everyone else sees
// value copies.
type ProfileDraft struct {
	UserID string

	FullName string
	Phone    string
	Email    string
	Bio      string
	Location string
	Skills   string
	Github   string
	Website  string
	PhotoURL string

	UpdatedAt time.Time

	// ValidationErrors maps field names to validation codes for fields that
	// currently fail validation.
	ValidationErrors map[string]string

	// DirtyFields holds the names of fields edited locally since their last
	// successful remote write. A dirty field is never overwritten by an
	// incoming remote snapshot.
	DirtyFields map[string]struct{}
}

// NewProfileDraft creates an empty draft for the given user.
func NewProfileDraft(userID string) ProfileDraft {
	return ProfileDraft{
		UserID:           userID,
		ValidationErrors: make(map[string]string),
		DirtyFields:      make(map[string]struct{}),
	}
}

// Field returns the value of the named field.
func (d *ProfileDraft) Field(name string) (string, bool) {
	switch name {
	case FieldFullName:
		return d.FullName, true
	case FieldPhone:
		return d.Phone, true
	case FieldEmail:
		return d.Email, true
	case FieldBio:
		return d.Bio, true
	case FieldLocation:
		return d.Location, true
	case FieldSkills:
		return d.Skills, true
	case FieldGithub:
		return d.Github, true
	case FieldWebsite:
		return d.Website, true
	case FieldPhotoURL:
		return d.PhotoURL, true
	default:
		return "", false
	}
}

// SetField sets the value of the named field. It reports whether the name
// was recognized. It does not touch dirty or validation state; that is the
// sync engine's job.
func (d *ProfileDraft) SetField(name, value string) bool {
	switch name {
	case FieldFullName:
		d.FullName = value
	case FieldPhone:
		d.Phone = value
	case FieldEmail:
		d.Email = value
	case FieldBio:
		d.Bio = value
	case FieldLocation:
		d.Location = value
	case FieldSkills:
		d.Skills = value
	case FieldGithub:
		d.Github = value
	case FieldWebsite:
		d.Website = value
	case FieldPhotoURL:
		d.PhotoURL = value
	default:
		return false
	}
	return true
}

// IsDirty reports whether the named field has a local edit that has not yet
// been confirmed persisted.
func (d *ProfileDraft) IsDirty(name string) bool {
	_, ok := d.DirtyFields[name]
	return ok
}

// Clone returns a deep copy of the draft, safe to hand to observers.
func (d *ProfileDraft) Clone() ProfileDraft {
	cp := *d
	cp.ValidationErrors = make(map[string]string, len(d.ValidationErrors))
	for k, v := range d.ValidationErrors {
		cp.ValidationErrors[k] = v
	}
	cp.DirtyFields = make(map[string]struct{}, len(d.DirtyFields))
	for k := range d.DirtyFields {
		cp.DirtyFields[k] = struct{}{}
	}
	return cp
}
