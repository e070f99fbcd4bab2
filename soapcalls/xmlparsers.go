package soapcalls

import (
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PositionInfo is the subset of GetPositionInfo we care about.
type PositionInfo struct {
	RelTime  float64
	Duration float64
}

type positionInfoResponse struct {
	XMLName       xml.Name `xml:"Envelope"`
	RelTime       string   `xml:"Body>GetPositionInfoResponse>RelTime"`
	TrackDuration string   `xml:"Body>GetPositionInfoResponse>TrackDuration"`
}

type transportInfoResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	State   string   `xml:"Body>GetTransportInfoResponse>CurrentTransportState"`
}

type soapFault struct {
	XMLName     xml.Name `xml:"Envelope"`
	FaultString string   `xml:"Body>Fault>faultstring"`
	Code        string   `xml:"Body>Fault>detail>UPnPError>errorCode"`
	Description string   `xml:"Body>Fault>detail>UPnPError>errorDescription"`
}

// FaultError is a SOAP fault returned by the renderer.
type FaultError struct {
	Action      string
	Code        string
	Description string
}

func (e *FaultError) Error() string {
	desc := e.Description
	if desc == "" {
		desc = "soap fault"
	}
	if e.Code == "" {
		return fmt.Sprintf("%s: %s", e.Action, desc)
	}
	return fmt.Sprintf("%s: upnp error %s: %s", e.Action, e.Code, desc)
}

func positionInfoParser(body []byte) (PositionInfo, error) {
	var resp positionInfoResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return PositionInfo{}, errors.Wrap(err, "GetPositionInfo unmarshal error")
	}

	rel, _ := ParseClock(resp.RelTime)
	dur, _ := ParseClock(resp.TrackDuration)
	return PositionInfo{RelTime: rel, Duration: dur}, nil
}

func transportInfoParser(body []byte) (string, error) {
	var resp transportInfoResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrap(err, "GetTransportInfo unmarshal error")
	}
	return strings.TrimSpace(resp.State), nil
}

func faultParser(action string, body []byte) *FaultError {
	var f soapFault
	if err := xml.Unmarshal(body, &f); err != nil {
		return &FaultError{Action: action}
	}
	desc := strings.TrimSpace(f.Description)
	if desc == "" {
		desc = strings.TrimSpace(f.FaultString)
	}
	return &FaultError{Action: action, Code: strings.TrimSpace(f.Code), Description: desc}
}

// ParseClock parses UPnP "H+:MM:SS[.F+]" durations. NOT_IMPLEMENTED and
// garbage give ok == false.
func ParseClock(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}

	secPart := parts[2]
	// Some renderers send "SS.F1/F2" fractions; the fraction is dropped.
	if i := strings.IndexByte(secPart, '/'); i >= 0 {
		secPart = secPart[:i]
		if j := strings.IndexByte(secPart, '.'); j >= 0 {
			secPart = secPart[:j]
		}
	}
	sec, err := strconv.ParseFloat(secPart, 64)
	if err != nil || sec < 0 || sec >= 60 {
		return 0, false
	}

	return float64(h*3600+m*60) + sec, true
}

// FormatClock renders whole seconds as HH:MM:SS.
func FormatClock(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
