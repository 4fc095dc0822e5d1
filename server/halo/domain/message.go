package domain

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

type ContentType string

const (
	ContentText   ContentType = "TEXT"
	ContentImage  ContentType = "IMAGE"
	ContentVideo  ContentType = "VIDEO"
	ContentAudio  ContentType = "AUDIO"
	ContentCustom ContentType = "CUSTOM"
	ContentSurvey ContentType = "SURVEY"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentImage, ContentVideo, ContentAudio, ContentCustom, ContentSurvey:
		return true
	}
	return false
}

// IsFile reports whether messages of this type carry a File payload.
func (c ContentType) IsFile() bool {
	switch c {
	case ContentImage, ContentVideo, ContentAudio, ContentCustom:
		return true
	}
	return false
}

// ContentTypeForMIME maps a MIME type to the media category used for both the
// message content type and the blob path.
func ContentTypeForMIME(mimeType string) ContentType {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(m, "image/"):
		return ContentImage
	case strings.HasPrefix(m, "video/"):
		return ContentVideo
	case strings.HasPrefix(m, "audio/"):
		return ContentAudio
	default:
		return ContentCustom
	}
}

type File struct {
	MimeType     string  `json:"mimeType"`
	Name         string  `json:"name"`
	URI          string  `json:"uri"`
	ThumbnailURI *string `json:"thumbnailUri,omitempty"`
}

type SurveyOption struct {
	ID    string   `json:"id"`
	Text  string   `json:"text"`
	Votes []string `json:"votes"`
}

type Survey struct {
	Question       string         `json:"question"`
	Options        []SurveyOption `json:"options"`
	MultipleChoice bool           `json:"multipleChoice"`
	Closed         bool           `json:"closed"`
}

// Validate checks the shape of a poll before it is stored.
func (s Survey) Validate() error {
	if strings.TrimSpace(s.Question) == "" {
		return fmt.Errorf("survey question is required")
	}
	if len(s.Options) < 2 {
		return fmt.Errorf("survey needs at least two options")
	}
	seen := map[string]struct{}{}
	for _, opt := range s.Options {
		if strings.TrimSpace(opt.ID) == "" {
			return fmt.Errorf("survey option id is required")
		}
		if _, ok := seen[opt.ID]; ok {
			return fmt.Errorf("duplicate survey option %q", opt.ID)
		}
		seen[opt.ID] = struct{}{}
	}
	if !s.MultipleChoice {
		voters := map[string]struct{}{}
		for _, opt := range s.Options {
			for _, voter := range opt.Votes {
				if _, ok := voters[voter]; ok {
					return fmt.Errorf("%s voted more than once on a single choice survey", voter)
				}
				voters[voter] = struct{}{}
			}
		}
	}
	return nil
}

// Content is the variant part of a Message, selected by its ContentType.
type Content interface {
	ContentType() ContentType
	PreviewText() string
}

type TextContent struct {
	Text string
}

func (TextContent) ContentType() ContentType { return ContentText }
func (c TextContent) PreviewText() string    { return c.Text }

// FileContent backs IMAGE, VIDEO, AUDIO and CUSTOM messages.
type FileContent struct {
	Type    ContentType
	File    File
	Caption *string
}

func (c FileContent) ContentType() ContentType { return c.Type }

func (c FileContent) PreviewText() string {
	if c.Caption != nil && *c.Caption != "" {
		return *c.Caption
	}
	return c.File.Name
}

type SurveyContent struct {
	Survey Survey
}

func (SurveyContent) ContentType() ContentType { return ContentSurvey }
func (c SurveyContent) PreviewText() string    { return c.Survey.Question }

type Message struct {
	ID        string
	Room      string
	CreatedBy string
	// CreatedAt is nil while the write is still pending on the store.
	CreatedAt *time.Time
	UpdatedAt time.Time
	Content   Content
	Metadata  map[string]any
	ReadBy    []string
	Delivered bool
	Deleted   bool
}

func (m Message) ContentType() ContentType {
	if m.Content == nil {
		return ""
	}
	return m.Content.ContentType()
}

func (m Message) Preview() LastMessage {
	preview := LastMessage{ID: m.ID, Type: m.ContentType(), SentBy: m.CreatedBy}
	if m.Content != nil {
		preview.Text = m.Content.PreviewText()
	}
	if m.CreatedAt != nil {
		preview.SentAt = *m.CreatedAt
	}
	return preview
}

func (m Message) File() (File, bool) {
	fc, ok := m.Content.(FileContent)
	if !ok {
		return File{}, false
	}
	return fc.File, true
}

func (m Message) Survey() (Survey, bool) {
	sc, ok := m.Content.(SurveyContent)
	if !ok {
		return Survey{}, false
	}
	return sc.Survey, true
}

type messageWire struct {
	ID          string         `json:"id"`
	Room        string         `json:"room"`
	CreatedBy   string         `json:"createdBy"`
	CreatedAt   *time.Time     `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	ContentType ContentType    `json:"contentType"`
	Text        *string        `json:"text"`
	File        *File          `json:"file"`
	Survey      *Survey        `json:"survey"`
	Metadata    map[string]any `json:"metadata"`
	ReadBy      []string       `json:"readBy"`
	Delivered   bool           `json:"delivered"`
	Deleted     bool           `json:"deleted"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := messageWire{
		ID:          m.ID,
		Room:        m.Room,
		CreatedBy:   m.CreatedBy,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		ContentType: m.ContentType(),
		Metadata:    m.Metadata,
		ReadBy:      m.ReadBy,
		Delivered:   m.Delivered,
		Deleted:     m.Deleted,
	}
	if w.ReadBy == nil {
		w.ReadBy = []string{}
	}
	switch c := m.Content.(type) {
	case TextContent:
		text := c.Text
		w.Text = &text
	case FileContent:
		file := c.File
		w.File = &file
		w.Text = c.Caption
	case SurveyContent:
		survey := c.Survey
		w.Survey = &survey
	}
	return json.Marshal(w)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	content, err := NewContent(w.ContentType, w.Text, w.File, w.Survey)
	if err != nil {
		return err
	}
	*m = Message{
		ID:        w.ID,
		Room:      w.Room,
		CreatedBy: w.CreatedBy,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
		Content:   content,
		Metadata:  w.Metadata,
		ReadBy:    w.ReadBy,
		Delivered: w.Delivered,
		Deleted:   w.Deleted,
	}
	return nil
}

// NewContent rebuilds the variant payload from its flattened fields.
func NewContent(ct ContentType, text *string, file *File, survey *Survey) (Content, error) {
	switch {
	case ct == ContentText:
		if text == nil {
			return TextContent{}, nil
		}
		return TextContent{Text: *text}, nil
	case ct.IsFile():
		if file == nil {
			return nil, fmt.Errorf("%s message without file", ct)
		}
		return FileContent{Type: ct, File: *file, Caption: text}, nil
	case ct == ContentSurvey:
		if survey == nil {
			return nil, fmt.Errorf("SURVEY message without survey")
		}
		return SurveyContent{Survey: *survey}, nil
	default:
		return nil, fmt.Errorf("unknown content type %q", ct)
	}
}

// MediaInfo is the slim projection returned by room media listings.
type MediaInfo struct {
	MessageID string `json:"messageId"`
	CreatedBy string `json:"createdBy"`
	File      File   `json:"file"`
}

// Send payloads. ClientMessageID is optional; when set, retries with the same
// value return the stored message instead of writing a duplicate.

type SendTextMessage struct {
	RoomID          string
	Text            string
	Metadata        map[string]any
	ClientMessageID string
}

type SendFileMessage struct {
	RoomID          string
	Name            string
	MimeType        string
	Size            int64
	Body            io.Reader
	Caption         *string
	Metadata        map[string]any
	ClientMessageID string
}

type SendFileMessageFromURL struct {
	RoomID          string
	File            File
	Caption         *string
	Metadata        map[string]any
	ClientMessageID string
}

type SendSurveyMessage struct {
	RoomID          string
	Survey          Survey
	Metadata        map[string]any
	ClientMessageID string
}
