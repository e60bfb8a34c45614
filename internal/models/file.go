package models

// User owns a draft file area.
type User struct {
	Username string
}

// FileLocation addresses a file inside a user's draft area.
type FileLocation struct {
	Username string `json:"username"`
	ItemID   int64  `json:"itemid"`
	FilePath string `json:"filepath"`
	Filename string `json:"filename"`
}

// StoredFile is a draft file record pointing at content-addressed bytes.
type StoredFile struct {
	FileLocation
	ContentHash  string `json:"contenthash"`
	Size         int64  `json:"size"`
	MIMEType     string `json:"mimetype"`
	TimeModified int64  `json:"timemodified"`
}

// FileRecord describes where an ingested image lives in the draft area.
type FileRecord struct {
	ItemID   int64  `json:"itemid"`
	FilePath string `json:"filepath"`
	Filename string `json:"filename"`
}
