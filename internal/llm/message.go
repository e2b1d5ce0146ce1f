package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType tags the variant of a ContentPart. Exactly one variant payload is
// populated per part; the tag is the single source of truth.
type PartType string

const (
	PartText    PartType = "text"
	PartImage   PartType = "image"
	PartFileURI PartType = "file_uri"
	PartFileID  PartType = "file_id"
	PartPDF     PartType = "pdf"
)

// ImageSource holds either a remote URL or inline base64 data. When Base64 is
// set, MediaType must be set too.
type ImageSource struct {
	URL       string `json:"url,omitempty"`
	Base64    string `json:"base64,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// FileRef points at a Gemini-hosted file.
type FileRef struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mime_type"`
}

// FileHandle points at a vendor-hosted file by its vendor file id
// (Anthropic/OpenAI file APIs).
type FileHandle struct {
	ID       string `json:"id"`
	MIMEType string `json:"mime_type"`
}

// ContentPart is one typed unit of message content. Providers render parts in
// list order, so order must be preserved end to end.
type ContentPart struct {
	Type    PartType
	Text    string
	Image   *ImageSource
	FileURI *FileRef
	FileID  *FileHandle
	PDFText string
}

func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

func ImageURLPart(url string) ContentPart {
	return ContentPart{Type: PartImage, Image: &ImageSource{URL: url}}
}

func ImageBase64Part(data, mediaType string) ContentPart {
	return ContentPart{Type: PartImage, Image: &ImageSource{Base64: data, MediaType: mediaType}}
}

func FileURIPart(uri, mimeType string) ContentPart {
	return ContentPart{Type: PartFileURI, FileURI: &FileRef{URI: uri, MIMEType: mimeType}}
}

func FileIDPart(id, mimeType string) ContentPart {
	return ContentPart{Type: PartFileID, FileID: &FileHandle{ID: id, MIMEType: mimeType}}
}

func PDFPart(extractedText string) ContentPart {
	return ContentPart{Type: PartPDF, PDFText: extractedText}
}

// contentPartJSON is the wire shape for ContentPart.
type contentPartJSON struct {
	Type    PartType     `json:"type"`
	Text    string       `json:"text,omitempty"`
	Image   *ImageSource `json:"image,omitempty"`
	FileURI *FileRef     `json:"file_uri,omitempty"`
	FileID  *FileHandle  `json:"file_id,omitempty"`
	PDFText string       `json:"extracted_text,omitempty"`
}

func (p ContentPart) MarshalJSON() ([]byte, error) {
	return json.Marshal(contentPartJSON{
		Type:    p.Type,
		Text:    p.Text,
		Image:   p.Image,
		FileURI: p.FileURI,
		FileID:  p.FileID,
		PDFText: p.PDFText,
	})
}

func (p *ContentPart) UnmarshalJSON(data []byte) error {
	var w contentPartJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type == "" {
		return fmt.Errorf("content part missing type tag")
	}
	*p = ContentPart{
		Type:    w.Type,
		Text:    w.Text,
		Image:   w.Image,
		FileURI: w.FileURI,
		FileID:  w.FileID,
		PDFText: w.PDFText,
	}
	return nil
}

// Message is a provider-agnostic chat message. Content carries the legacy
// single-string form; when Parts is non-nil it takes precedence and Content is
// ignored.
type Message struct {
	Role     Role           `json:"role"`
	Content  string         `json:"-"`
	Parts    []ContentPart  `json:"-"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsMultipart reports whether the message carries typed content parts rather
// than a plain string.
func (m Message) IsMultipart() bool { return m.Parts != nil }

// PlainText flattens the message to text: the legacy string, or the
// concatenation of all text parts.
func (m Message) PlainText() string {
	if !m.IsMultipart() {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

type messageJSON struct {
	Role     Role            `json:"role"`
	Content  json.RawMessage `json:"content"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	var content any = m.Content
	if m.IsMultipart() {
		content = m.Parts
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{Role: m.Role, Content: raw, Metadata: m.Metadata})
}

// UnmarshalJSON accepts content as either a plain string or an ordered array
// of typed parts.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Message{Role: w.Role, Metadata: w.Metadata}
	if len(w.Content) > 0 {
		switch w.Content[0] {
		case '[':
			if err := json.Unmarshal(w.Content, &out.Parts); err != nil {
				return fmt.Errorf("decode content parts: %w", err)
			}
		case 'n': // null
		default:
			if err := json.Unmarshal(w.Content, &out.Content); err != nil {
				return fmt.Errorf("decode content string: %w", err)
			}
		}
	}
	*m = out
	return nil
}
