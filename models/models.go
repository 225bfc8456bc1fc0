package models

import "time"

// Place source values.
const (
	SourceManual = "manual"
	SourceKML    = "kml"
)

// Place represents a single point of interest.
type Place struct {
	ID             string     `json:"id"`
	NameCA         string     `json:"name_ca"`
	NameJA         string     `json:"name_ja,omitempty"`
	DescriptionCA  string     `json:"description_ca,omitempty"`
	DescriptionJA  string     `json:"description_ja,omitempty"`
	FolderID       string     `json:"folder_id,omitempty"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	ImageURL       string     `json:"image_url,omitempty"`       // Remote image URL resolved by a provider
	LocalImagePath string     `json:"local_image_path,omitempty"` // Path of the downloaded copy under the media dir
	ImageWidth     int        `json:"image_width,omitempty"`
	ImageHeight    int        `json:"image_height,omitempty"`
	ImageType      string     `json:"image_type,omitempty"` // MIME type of the downloaded copy
	ImageEXIF      *EXIFData  `json:"image_exif,omitempty"`
	Source         string     `json:"source"` // "manual" or "kml"
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PlaceDetail is a Place with its derived associations resolved.
type PlaceDetail struct {
	Place
	Tags  []Tag  `json:"tags"`
	Votes int    `json:"votes"`
	Image string `json:"image,omitempty"` // /media/... when downloaded, else the remote URL
}

// Folder groups places under a named heading from the import file.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Tag is a named category with a display color. Names are unique.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Vote is one like from one device. The pair is unique; a place's vote
// count is the number of rows, never a stored counter.
type Vote struct {
	PlaceID   string    `json:"place_id"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
}

// EXIFData contains EXIF metadata extracted from a downloaded image.
type EXIFData struct {
	DateTime         string   `json:"date_time,omitempty"`
	DateTimeOriginal string   `json:"date_time_original,omitempty"`
	Make             string   `json:"make,omitempty"`
	Model            string   `json:"model,omitempty"`
	Copyright        string   `json:"copyright,omitempty"`
	Artist           string   `json:"artist,omitempty"`
	ImageDescription string   `json:"image_description,omitempty"`
	Orientation      int      `json:"orientation,omitempty"`
	GPS              *GPSData `json:"gps,omitempty"`
}

// GPSData contains GPS coordinates from EXIF.
type GPSData struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude,omitempty"`
}
