package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"go2tv.app/handoff/devices"
	"go2tv.app/handoff/internal/stream"
)

func listFlagFunction(devs []devices.Device) error {
	if len(devs) == 0 {
		return devices.ErrNoDeviceAvailable
	}
	fmt.Println()

	for i, d := range devs {
		boldStart := ""
		boldEnd := ""

		if runtime.GOOS == "linux" {
			boldStart = "\033[1m"
			boldEnd = "\033[0m"
		}
		fmt.Printf("%sDevice %v%s\n", boldStart, i+1, boldEnd)
		fmt.Printf("%s--------%s\n", boldStart, boldEnd)
		fmt.Printf("%sName:%s %s\n", boldStart, boldEnd, d.Name)
		fmt.Printf("%sType:%s %s\n", boldStart, boldEnd, d.Type)
		fmt.Printf("%sID:%s   %s\n", boldStart, boldEnd, d.ID)
		fmt.Printf("%sAddr:%s %s\n", boldStart, boldEnd, d.Addr)
		fmt.Println()
	}

	return nil
}

func checkflags() error {
	checkVerflag()

	if *listPtr {
		if *targetPtr != "" {
			return errors.New("checkflags error: -l and -t can't be used together")
		}
		return nil
	}

	if err := checkIflag(); err != nil {
		return fmt.Errorf("checkflags error: %w", err)
	}

	if err := checkTrackFlags(); err != nil {
		return fmt.Errorf("checkflags error: %w", err)
	}

	if err := checkSegmentsFlag(); err != nil {
		return fmt.Errorf("checkflags error: %w", err)
	}

	return nil
}

func checkIflag() error {
	if *itemArg == "" {
		return errors.New("no item id defined, use -i")
	}
	return nil
}

func checkTrackFlags() error {
	if *audioArg < -1 {
		return fmt.Errorf("checkTrackFlags: invalid audio track %d", *audioArg)
	}
	if *subsArg < -1 {
		return fmt.Errorf("checkTrackFlags: invalid subtitle track %d", *subsArg)
	}
	if *bitrateArg < 0 {
		return fmt.Errorf("checkTrackFlags: invalid bitrate ceiling %d", *bitrateArg)
	}
	return nil
}

func checkSegmentsFlag() error {
	if *segmentsArg == "" {
		return nil
	}
	if _, err := os.Stat(*segmentsArg); err != nil {
		return fmt.Errorf("checkSegmentsFlag error: %w", err)
	}
	return nil
}

func checkVerflag() {
	if *versionPtr {
		fmt.Printf("handoff Version: %s, ", version)
		fmt.Printf("Build: %s\n", build)
		os.Exit(0)
	}
}

// selectionFromFlags turns -a, -s and -b into a track selection; -1 and 0
// leave the choice to the server.
func selectionFromFlags(audio, subs, bitrate int) stream.Selection {
	sel := stream.Selection{Quality: stream.Tier(bitrate)}
	if audio >= 0 {
		sel.Audio = stream.TrackIndex(audio)
	}
	if subs >= 0 {
		sel.Subtitle = stream.TrackIndex(subs)
	}
	return sel
}
