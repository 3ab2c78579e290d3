package models

// FlowKind selects one of the two verification flow variants.
type FlowKind string

const (
	FlowConsumer FlowKind = "consumer"
	FlowMerchant FlowKind = "merchant"
)

func (k FlowKind) Valid() bool {
	return k == FlowConsumer || k == FlowMerchant
}

// ProfileDraft holds the mutable profile fields collected during one
// verification attempt. All fields are optional until scored; the draft is
// owned by the flow session and discarded on successful submission or
// explicit reapply.
type ProfileDraft struct {
	FullName       string `json:"full_name,omitempty"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Address        string `json:"address,omitempty"`
	Profession     string `json:"profession,omitempty"`
	CompanyName    string `json:"company_name,omitempty"`
	FatherName     string `json:"father_name,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"` // base64 encoded image
}
