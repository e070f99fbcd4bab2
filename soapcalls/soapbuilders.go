package soapcalls

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	soapEncodingNS = "http://schemas.xmlsoap.org/soap/encoding/"
	avTransportNS  = "urn:schemas-upnp-org:service:AVTransport:1"

	xmlHeader = `<?xml version="1.0" encoding="utf-8"?>`
)

type soapEnvelope struct {
	XMLName  xml.Name `xml:"s:Envelope"`
	Schema   string   `xml:"xmlns:s,attr"`
	Encoding string   `xml:"s:encodingStyle,attr"`
	Body     soapBody `xml:"s:Body"`
}

type soapBody struct {
	Action soapAction
}

type soapAction struct {
	XMLName xml.Name
	Service string `xml:"xmlns:u,attr"`
	Args    []soapArg
}

type soapArg struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type didlLite struct {
	XMLName    xml.Name `xml:"DIDL-Lite"`
	SchemaDIDL string   `xml:"xmlns,attr"`
	DC         string   `xml:"xmlns:dc,attr"`
	SchemaUPNP string   `xml:"xmlns:upnp,attr"`
	Item       didlItem `xml:"item"`
}

type didlItem struct {
	ID          string  `xml:"id,attr"`
	ParentID    string  `xml:"parentID,attr"`
	Restricted  string  `xml:"restricted,attr"`
	Title       string  `xml:"dc:title"`
	Description string  `xml:"dc:description,omitempty"`
	AlbumArtURI string  `xml:"upnp:albumArtURI,omitempty"`
	UPNPClass   string  `xml:"upnp:class"`
	Res         didlRes `xml:"res"`
}

type didlRes struct {
	ProtocolInfo string `xml:"protocolInfo,attr"`
	Value        string `xml:",chardata"`
}

// Media describes what SetAVTransportURI hands to the renderer.
type Media struct {
	URL         string
	ContentType string
	Title       string
	Subtitle    string
	PosterURL   string
}

// arg keeps argument order, which some renderers are picky about.
type arg struct {
	name  string
	value string
}

func actionSoapBuild(action string, args ...arg) ([]byte, error) {
	a := soapAction{
		XMLName: xml.Name{Local: "u:" + action},
		Service: avTransportNS,
	}
	for _, in := range args {
		a.Args = append(a.Args, soapArg{XMLName: xml.Name{Local: in.name}, Value: in.value})
	}

	env := soapEnvelope{
		Schema:   soapEnvelopeNS,
		Encoding: soapEncodingNS,
		Body:     soapBody{Action: a},
	}

	b, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%s soap build: %w", action, err)
	}

	// Plenty of renderers reject numeric entities for quotes inside the
	// escaped DIDL document.
	b = bytes.ReplaceAll(b, []byte("&#34;"), []byte(`"`))

	return append([]byte(xmlHeader), b...), nil
}

func playSoapBuild() ([]byte, error) {
	return actionSoapBuild("Play", arg{"InstanceID", "0"}, arg{"Speed", "1"})
}

func pauseSoapBuild() ([]byte, error) {
	return actionSoapBuild("Pause", arg{"InstanceID", "0"})
}

func stopSoapBuild() ([]byte, error) {
	return actionSoapBuild("Stop", arg{"InstanceID", "0"})
}

func seekSoapBuild(seconds float64) ([]byte, error) {
	return actionSoapBuild("Seek",
		arg{"InstanceID", "0"},
		arg{"Unit", "REL_TIME"},
		arg{"Target", FormatClock(seconds)},
	)
}

func getPositionInfoSoapBuild() ([]byte, error) {
	return actionSoapBuild("GetPositionInfo", arg{"InstanceID", "0"})
}

func getTransportInfoSoapBuild() ([]byte, error) {
	return actionSoapBuild("GetTransportInfo", arg{"InstanceID", "0"})
}

func setAVTransportSoapBuild(m Media) ([]byte, error) {
	meta, err := didlSoapBuild(m)
	if err != nil {
		return nil, err
	}
	return actionSoapBuild("SetAVTransportURI",
		arg{"InstanceID", "0"},
		arg{"CurrentURI", m.URL},
		arg{"CurrentURIMetaData", string(meta)},
	)
}

func didlSoapBuild(m Media) ([]byte, error) {
	class := "object.item.videoItem.movie"
	switch {
	case strings.HasPrefix(m.ContentType, "audio/"):
		class = "object.item.audioItem.musicTrack"
	case strings.HasPrefix(m.ContentType, "image/"):
		class = "object.item.imageItem.photo"
	}

	contentType := m.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}

	d := didlLite{
		SchemaDIDL: "urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/",
		DC:         "http://purl.org/dc/elements/1.1/",
		SchemaUPNP: "urn:schemas-upnp-org:metadata-1-0/upnp/",
		Item: didlItem{
			ID:          "1",
			ParentID:    "0",
			Restricted:  "1",
			Title:       m.Title,
			Description: m.Subtitle,
			AlbumArtURI: m.PosterURL,
			UPNPClass:   class,
			Res: didlRes{
				ProtocolInfo: "http-get:*:" + contentType + ":" + contentFeatures(contentType),
				Value:        m.URL,
			},
		},
	}

	b, err := xml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("didl build: %w", err)
	}
	return b, nil
}
