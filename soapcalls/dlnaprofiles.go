package soapcalls

import (
	"fmt"
	"strings"
)

const (
	dlnaFlagStreamingTransferMode  = 1 << 24
	dlnaFlagBackgroundTransferMode = 1 << 22
	dlnaFlagConnectionStall        = 1 << 21
	dlnaFlagV15                    = 1 << 20
)

var dlnaProfiles = map[string]string{
	"video/x-matroska": "DLNA.ORG_PN=MATROSKA",
	"video/x-msvideo":  "DLNA.ORG_PN=AVI",
	"video/mpeg":       "DLNA.ORG_PN=MPEG1",
	"video/mp4":        "DLNA.ORG_PN=AVC_MP4_MP_SD_AAC_MULT5",
	"video/quicktime":  "DLNA.ORG_PN=AVC_MP4_MP_SD_AAC_MULT5",
	"video/x-m4v":      "DLNA.ORG_PN=AVC_MP4_MP_SD_AAC_MULT5",
	"video/x-ms-wmv":   "DLNA.ORG_PN=WMVHIGH_FULL",
	"audio/mpeg":       "DLNA.ORG_PN=MP3",
}

func streamingFlags() string {
	return fmt.Sprintf("%.8x%.24x", dlnaFlagStreamingTransferMode|
		dlnaFlagBackgroundTransferMode|
		dlnaFlagConnectionStall|
		dlnaFlagV15, 0)
}

// contentFeatures is the fourth protocolInfo field for a stream of the
// given MIME type. Progressive files advertise byte range seeking; HLS
// playlists are segmented by the server and advertise none.
func contentFeatures(contentType string) string {
	var cf strings.Builder

	if prof, ok := dlnaProfiles[contentType]; ok {
		cf.WriteString(prof + ";")
	}

	if strings.EqualFold(contentType, "application/x-mpegURL") {
		cf.WriteString("DLNA.ORG_OP=00;DLNA.ORG_CI=1;")
	} else {
		cf.WriteString("DLNA.ORG_OP=01;DLNA.ORG_CI=0;")
	}

	cf.WriteString("DLNA.ORG_FLAGS=")
	cf.WriteString(streamingFlags())
	return cf.String()
}
