package e621

import (
	"encoding/json"
	"fmt"
	"time"
)

type (
	Rating  string
	FileExt string
	Status  int
)

const (
	RatingSafe         Rating = "s"
	RatingQuestionable Rating = "q"
	RatingExplicit     Rating = "e"
)

const (
	ExtJPEG  FileExt = "jpg"
	ExtPNG   FileExt = "png"
	ExtGIF   FileExt = "gif"
	ExtFlash FileExt = "swf"
	ExtWebM  FileExt = "webm"
)

// KnownExtensions is the order in which extensions are guessed when a file
// url is known but its extension is not.
var KnownExtensions = []FileExt{ExtJPEG, ExtPNG, ExtGIF, ExtWebM, ExtFlash}

const (
	StatusActive Status = iota
	StatusPending
	StatusFlagged
	StatusDeleted
)

func (r Rating) String() string {
	switch r {
	case RatingSafe:
		return "Safe"
	case RatingQuestionable:
		return "Questionable"
	case RatingExplicit:
		return "Explicit"
	default:
		return "Unknown"
	}
}

// ParseFileExt normalizes the extension reported by the api or by iqdb.
func ParseFileExt(s string) (FileExt, bool) {
	switch s {
	case "jpg", "jpeg":
		return ExtJPEG, true
	case "png":
		return ExtPNG, true
	case "gif":
		return ExtGIF, true
	case "swf":
		return ExtFlash, true
	case "webm":
		return ExtWebM, true
	}
	return FileExt(s), false
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFlagged:
		return "flagged"
	case StatusDeleted:
		return "deleted"
	default:
		return "active"
	}
}

type (
	Post struct {
		ID           int
		Status       Status
		DeleteReason string
		Rating       Rating
		Score        Score
		FavCount     int
		CreatedAt    time.Time
		Description  string
		Tags         Tags
		File         *File
		ParentID     *int
		Children     []int

		// Raw is the record exactly as the api sent it.
		Raw json.RawMessage
	}

	Score struct {
		Up    int `json:"up"`
		Down  int `json:"down"`
		Total int `json:"total"`
	}

	File struct {
		URL    string
		Ext    FileExt
		Size   int64
		Width  int
		Height int
		MD5    string
	}

	Tags struct {
		Artist    []string `json:"artist"`
		Copyright []string `json:"copyright"`
		Character []string `json:"character"`
		Species   []string `json:"species"`
		General   []string `json:"general"`
		Meta      []string `json:"meta"`
		Lore      []string `json:"lore"`
		Invalid   []string `json:"invalid"`
	}

	TagGroup struct {
		Category string
		Tags     []string
	}

	Pool struct {
		ID          int    `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Category    string `json:"category"`
		PostIDs     []int  `json:"post_ids"`
		PostCount   int    `json:"post_count"`
	}
)

func (p *Post) IsDeleted() bool {
	return p.Status == StatusDeleted
}

// Downloadable reports whether the post can be saved or streamed.
func (p *Post) Downloadable() bool {
	return !p.IsDeleted() && p.File != nil && p.File.URL != ""
}

// Groups returns the non-empty tag categories in display order.
func (t Tags) Groups() []TagGroup {
	all := []TagGroup{
		{"artist", t.Artist},
		{"copyright", t.Copyright},
		{"character", t.Character},
		{"species", t.Species},
		{"general", t.General},
		{"meta", t.Meta},
		{"lore", t.Lore},
		{"invalid", t.Invalid},
	}
	groups := []TagGroup{}
	for _, g := range all {
		if len(g.Tags) > 0 {
			groups = append(groups, g)
		}
	}
	return groups
}

type apiPost struct {
	ID        int       `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	File      struct {
		Width  int     `json:"width"`
		Height int     `json:"height"`
		Ext    string  `json:"ext"`
		Size   int64   `json:"size"`
		MD5    string  `json:"md5"`
		URL    *string `json:"url"`
	} `json:"file"`
	Score Score `json:"score"`
	Tags  Tags  `json:"tags"`
	Flags struct {
		Pending bool `json:"pending"`
		Flagged bool `json:"flagged"`
		Deleted bool `json:"deleted"`
	} `json:"flags"`
	DeleteReason  string `json:"delreason"`
	Rating        string `json:"rating"`
	FavCount      int    `json:"fav_count"`
	Description   string `json:"description"`
	Relationships struct {
		ParentID *int  `json:"parent_id"`
		Children []int `json:"children"`
	} `json:"relationships"`
}

func (p *Post) UnmarshalJSON(data []byte) error {
	var a apiPost
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.ID <= 0 {
		return fmt.Errorf("post record has invalid id %d", a.ID)
	}

	*p = Post{
		ID:           a.ID,
		Status:       StatusActive,
		DeleteReason: a.DeleteReason,
		Rating:       Rating(a.Rating),
		Score:        a.Score,
		FavCount:     a.FavCount,
		CreatedAt:    a.CreatedAt,
		Description:  a.Description,
		Tags:         a.Tags,
		ParentID:     a.Relationships.ParentID,
		Children:     a.Relationships.Children,
		Raw:          append(json.RawMessage(nil), data...),
	}
	switch {
	case a.Flags.Deleted:
		p.Status = StatusDeleted
	case a.Flags.Flagged:
		p.Status = StatusFlagged
	case a.Flags.Pending:
		p.Status = StatusPending
	}
	if a.File.URL != nil && *a.File.URL != "" {
		ext, _ := ParseFileExt(a.File.Ext)
		p.File = &File{
			URL:    *a.File.URL,
			Ext:    ext,
			Size:   a.File.Size,
			Width:  a.File.Width,
			Height: a.File.Height,
			MD5:    a.File.MD5,
		}
	}
	return nil
}

// MarshalJSON emits the original record so json output matches the api.
func (p Post) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	return json.Marshal(map[string]interface{}{"id": p.ID})
}

type (
	postsResponse struct {
		Posts []Post `json:"posts"`
	}

	postResponse struct {
		Post Post `json:"post"`
	}

	errorResponse struct {
		Success *bool  `json:"success"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
)
