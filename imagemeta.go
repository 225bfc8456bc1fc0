package guide

import (
	"bytes"
	"image"

	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/jordiportal/japan-guide/models"
	"github.com/jordiportal/japan-guide/storage"
)

// inspectImage extracts pixel dimensions, MIME type and EXIF metadata
// from downloaded image bytes. Undecodable bytes yield zero values; a
// photo without EXIF yields a nil EXIFData.
func inspectImage(data []byte) (width, height int, mimeType string, meta *models.EXIFData) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err == nil {
		width = cfg.Width
		height = cfg.Height
		mimeType = storage.ContentTypeFromExtension(format)
	}

	meta = extractEXIF(data)
	return width, height, mimeType, meta
}

// extractEXIF decodes EXIF metadata from image bytes. Returns nil when
// the image carries none (or is not a format that can).
func extractEXIF(data []byte) *models.EXIFData {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	meta := &models.EXIFData{}
	hasData := false

	stringField := func(field exif.FieldName, dest *string) {
		tag, err := x.Get(field)
		if err != nil {
			return
		}
		if value, err := tag.StringVal(); err == nil && value != "" {
			*dest = value
			hasData = true
		}
	}

	stringField(exif.DateTime, &meta.DateTime)
	stringField(exif.DateTimeOriginal, &meta.DateTimeOriginal)
	stringField(exif.Make, &meta.Make)
	stringField(exif.Model, &meta.Model)
	stringField(exif.Copyright, &meta.Copyright)
	stringField(exif.Artist, &meta.Artist)
	stringField(exif.ImageDescription, &meta.ImageDescription)

	if tag, err := x.Get(exif.Orientation); err == nil {
		if orientation, err := tag.Int(0); err == nil {
			meta.Orientation = orientation
			hasData = true
		}
	}

	if lat, lng, err := x.LatLong(); err == nil {
		meta.GPS = &models.GPSData{Latitude: lat, Longitude: lng}
		hasData = true

		if tag, err := x.Get(exif.GPSAltitude); err == nil {
			if num, den, err := tag.Rat2(0); err == nil && den != 0 {
				meta.GPS.Altitude = float64(num) / float64(den)
			}
		}
	}

	if !hasData {
		return nil
	}
	return meta
}
