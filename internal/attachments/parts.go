package attachments

// Part is one element of a provider content array. The set of implementations
// is closed to this package.
type Part interface {
	part()
}

type TextPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ImageURLPart struct {
	Type     string   `json:"type"`
	ImageURL ImageURL `json:"image_url"`
}

type FileData struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type FilePart struct {
	Type string   `json:"type"`
	File FileData `json:"file"`
}

type Base64Source struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type ImageBlock struct {
	Type   string       `json:"type"`
	Source Base64Source `json:"source"`
}

type DocumentBlock struct {
	Type   string       `json:"type"`
	Source Base64Source `json:"source"`
}

type InlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type GeminiInlinePart struct {
	InlineData InlineData `json:"inline_data"`
}

type GeminiTextPart struct {
	Text string `json:"text"`
}

func (TextPart) part()         {}
func (ImageURLPart) part()     {}
func (FilePart) part()         {}
func (ImageBlock) part()       {}
func (DocumentBlock) part()    {}
func (GeminiInlinePart) part() {}
func (GeminiTextPart) part()   {}
