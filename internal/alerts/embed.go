package alerts

// Wire structures for the chat-platform webhook payload. The JSON part of
// every outgoing multipart request carries embeds plus an attachments array;
// the array is required for the platform to render uploaded files at all.

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Image       *EmbedImage  `json:"image,omitempty"`
	Thumbnail   *EmbedImage  `json:"thumbnail,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedImage struct {
	URL string `json:"url"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// Attachment declares one uploaded file in the payload JSON. ID values
// align positionally with the multipart file parts.
type Attachment struct {
	ID          int    `json:"id"`
	Filename    string `json:"filename"`
	Description string `json:"description,omitempty"`

	// Path is the absolute local path of the file; it is not serialized.
	Path string `json:"-"`
}

// Component is one interactive element row or button.
type Component struct {
	Type       int         `json:"type"`
	Style      int         `json:"style,omitempty"`
	Label      string      `json:"label,omitempty"`
	CustomID   string      `json:"custom_id,omitempty"`
	Components []Component `json:"components,omitempty"`
}

// Button styles used by report approvals.
const (
	ComponentActionRow = 1
	ComponentButton    = 2

	ButtonPrimary = 1
	ButtonSuccess = 3
	ButtonDanger  = 4
)

type payload struct {
	Embeds      []Embed      `json:"embeds"`
	Attachments []Attachment `json:"attachments"`
	Components  []Component  `json:"components,omitempty"`
}

// Message is one fully composed alert ready for dispatch.
type Message struct {
	Channel     string
	Embeds      []Embed
	Attachments []Attachment
	Components  []Component

	// IdempotencyKey identifies the alert across retries.
	IdempotencyKey string
}
