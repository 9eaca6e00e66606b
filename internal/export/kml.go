// Package export renders stored vessel tracks as KML for Google Earth and
// other mapping tools.
package export

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"ais_ingest/internal/vessel"
)

// KML structures follow the KML 2.2 reference:
// https://developers.google.com/kml/documentation/kmlreference

// KML is the root element of a KML document.
type KML struct {
	XMLName   xml.Name `xml:"kml"`
	Namespace string   `xml:"xmlns,attr"`
	Document  Document `xml:"Document"`
}

// Document contains the document metadata and features.
type Document struct {
	Name        string      `xml:"name"`
	Description string      `xml:"description,omitempty"`
	Styles      []Style     `xml:"Style,omitempty"`
	Placemarks  []Placemark `xml:"Placemark"`
}

// Style defines the visual appearance of features.
type Style struct {
	ID        string     `xml:"id,attr"`
	IconStyle *IconStyle `xml:"IconStyle,omitempty"`
	LineStyle *LineStyle `xml:"LineStyle,omitempty"`
}

// IconStyle defines how point icons are displayed.
type IconStyle struct {
	Scale   float64 `xml:"scale,omitempty"`
	Heading *int    `xml:"heading,omitempty"`
	Icon    Icon    `xml:"Icon"`
}

// Icon specifies the icon image.
type Icon struct {
	Href string `xml:"href"`
}

// LineStyle defines how tracks are drawn. Color is aabbggrr.
type LineStyle struct {
	Color string  `xml:"color"`
	Width float64 `xml:"width"`
}

// Placemark is a feature with either a point or a line geometry.
type Placemark struct {
	Name         string        `xml:"name"`
	Description  string        `xml:"description,omitempty"`
	StyleURL     string        `xml:"styleUrl,omitempty"`
	TimeStamp    *TimeStamp    `xml:"TimeStamp,omitempty"`
	Point        *Point        `xml:"Point,omitempty"`
	LineString   *LineString   `xml:"LineString,omitempty"`
	ExtendedData *ExtendedData `xml:"ExtendedData,omitempty"`
}

// TimeStamp marks when a placemark was observed.
type TimeStamp struct {
	When string `xml:"when"`
}

// Point is a single lon,lat,alt coordinate.
type Point struct {
	Coordinates string `xml:"coordinates"`
}

// LineString is an ordered list of coordinates.
type LineString struct {
	Tessellate  int    `xml:"tessellate"`
	Coordinates string `xml:"coordinates"`
}

// ExtendedData holds custom data associated with a placemark.
type ExtendedData struct {
	Data []Data `xml:"Data"`
}

// Data is a single named value.
type Data struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

const (
	kmlNamespace = "http://www.opengis.net/kml/2.2"
	trackStyle   = "trackStyle"
	vesselStyle  = "vesselStyle"
)

// Route builds a document holding the vessel's track, oldest position
// first, and a placemark at its latest position.
func Route(v *vessel.Vessel, positions []vessel.Position, generated time.Time) KML {
	doc := Document{
		Name: fmt.Sprintf("%s (%d)", v.Name, v.MMSI),
		Description: fmt.Sprintf("%s, flag %s, %d positions. Generated %s.",
			v.VesselType, v.Flag, len(positions), generated.UTC().Format("2006-01-02 15:04:05 UTC")),
		Styles: []Style{
			{ID: trackStyle, LineStyle: &LineStyle{Color: "ff0080ff", Width: 3}},
			{ID: vesselStyle, IconStyle: &IconStyle{
				Scale:   1.0,
				Heading: v.Heading,
				Icon:    Icon{Href: "http://maps.google.com/mapfiles/kml/shapes/ferry.png"},
			}},
		},
	}

	if len(positions) > 1 {
		coords := make([]string, len(positions))
		for i, p := range positions {
			coords[i] = coordinate(p.Latitude, p.Longitude)
		}
		doc.Placemarks = append(doc.Placemarks, Placemark{
			Name:     "Track",
			StyleURL: "#" + trackStyle,
			LineString: &LineString{
				Tessellate:  1,
				Coordinates: strings.Join(coords, " "),
			},
		})
	}

	if len(positions) > 0 {
		last := positions[len(positions)-1]
		doc.Placemarks = append(doc.Placemarks, Placemark{
			Name:      v.Name,
			StyleURL:  "#" + vesselStyle,
			TimeStamp: &TimeStamp{When: last.Timestamp.UTC().Format(time.RFC3339)},
			Point:     &Point{Coordinates: coordinate(last.Latitude, last.Longitude)},
			ExtendedData: &ExtendedData{Data: []Data{
				{Name: "mmsi", Value: strconv.FormatInt(v.MMSI, 10)},
				{Name: "imo", Value: v.IMONumber},
				{Name: "type", Value: string(v.VesselType)},
				{Name: "flag", Value: v.Flag},
				{Name: "status", Value: v.Status},
				{Name: "speed", Value: optionalFloat(last.Speed)},
				{Name: "course", Value: optionalFloat(last.Course)},
			}},
		})
	}

	return KML{Namespace: kmlNamespace, Document: doc}
}

// Write encodes doc as an indented KML file with its XML header.
func Write(w io.Writer, doc KML) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode kml: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// coordinate formats a KML lon,lat,altitude tuple.
func coordinate(lat, lon float64) string {
	return fmt.Sprintf("%.6f,%.6f,0", lon, lat)
}

func optionalFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', 1, 64)
}
