package models

// Action is the kind of image operation a request asks for.
type Action string

const (
	ActionGenerate Action = "generate_image"
	ActionEdit     Action = "edit_image"
)

// DefaultProvider selects the vendor backend instead of an external
// provider instance.
const DefaultProvider = -1

// ImageRequest is either a generate request (prompt only) or an edit
// request (prompt plus source image).
type ImageRequest struct {
	Action         Action
	Prompt         string
	SourceImage    []byte
	SourceMIMEType string
}

// NewGenerateRequest builds a request that creates a new image.
func NewGenerateRequest(prompt string) ImageRequest {
	return ImageRequest{Action: ActionGenerate, Prompt: prompt}
}

// NewEditRequest builds a request that edits an existing image.
func NewEditRequest(prompt string, image []byte, mimeType string) ImageRequest {
	return ImageRequest{
		Action:         ActionEdit,
		Prompt:         prompt,
		SourceImage:    image,
		SourceMIMEType: mimeType,
	}
}

// ImageResult is the common shape every provider path converges to.
type ImageResult struct {
	Success     bool
	DraftURL    string
	DraftItemID int64
	Filename    string
}

// ImageResultPayload is the wire form of an ImageResult.
type ImageResultPayload struct {
	DraftURL    string `json:"drafturl"`
	DraftItemID int64  `json:"draftitemid"`
	Filename    string `json:"filename"`
	Error       bool   `json:"error"`
}

// Payload converts the result to its wire form.
func (r ImageResult) Payload() ImageResultPayload {
	return ImageResultPayload{
		DraftURL:    r.DraftURL,
		DraftItemID: r.DraftItemID,
		Filename:    r.Filename,
		Error:       !r.Success,
	}
}
