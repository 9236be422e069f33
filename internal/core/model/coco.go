package model

// CocoDataset is the root of a COCO instances file (e.g. instances_val2017.json).
type CocoDataset struct {
	Info        CocoInfo         `json:"info"`
	Licenses    []CocoLicense    `json:"licenses,omitempty"`
	Images      []CocoImage      `json:"images"`
	Annotations []CocoAnnotation `json:"annotations"`
	Categories  []CocoCategory   `json:"categories"`
}

type CocoInfo struct {
	Year        int    `json:"year,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Contributor string `json:"contributor,omitempty"`
	URL         string `json:"url,omitempty"`
	DateCreated string `json:"date_created,omitempty"`
}

type CocoLicense struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// CocoImage is a pixel-space image record. FileName's stem is the join key
// shared with the normalized schema.
type CocoImage struct {
	ID           int64  `json:"id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FileName     string `json:"file_name"`
	License      int    `json:"license,omitempty"`
	FlickrURL    string `json:"flickr_url,omitempty"`
	CocoURL      string `json:"coco_url,omitempty"`
	DateCaptured string `json:"date_captured,omitempty"`
}

type CocoCategory struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory,omitempty"`
}

// CocoAnnotation is one object instance. BBox is [x, y, w, h] in pixels with
// the origin at the top-left corner of the image.
type CocoAnnotation struct {
	ID           int64             `json:"id"`
	ImageID      int64             `json:"image_id"`
	CategoryID   int               `json:"category_id"`
	BBox         [4]float64        `json:"bbox"`
	Area         float64           `json:"area"`
	IsCrowd      int               `json:"iscrowd"`
	Segmentation *CocoSegmentation `json:"segmentation,omitempty"`
}
