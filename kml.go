package guide

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// kmlDocument mirrors the subset of the KML schema the importer reads:
// a Document holding named Folders of Placemarks, each with an optional
// Point. Everything else in the file is ignored.
type kmlDocument struct {
	XMLName  xml.Name `xml:"kml"`
	Document struct {
		Name    string      `xml:"name"`
		Folders []kmlFolder `xml:"Folder"`
	} `xml:"Document"`
}

type kmlFolder struct {
	Name       string         `xml:"name"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
	Point       struct {
		Coordinates string `xml:"coordinates"`
	} `xml:"Point"`
}

// defaultFolderName is used for folders without a name element.
const defaultFolderName = "Sense carpeta"

func parseKML(data []byte) (*kmlDocument, error) {
	var doc kmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse KML: %w", err)
	}
	return &doc, nil
}

// parseCoordinates parses a KML coordinate tuple, which is
// "longitude,latitude[,altitude]" — note the longitude-first order.
func parseCoordinates(coordStr string) (lat, lng float64, err error) {
	parts := strings.Split(strings.TrimSpace(coordStr), ",")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("malformed coordinates %q", coordStr)
	}

	lng, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed longitude in %q: %w", coordStr, err)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed latitude in %q: %w", coordStr, err)
	}

	return lat, lng, nil
}
