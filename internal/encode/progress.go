package encode

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// The remote encoder runs three sequential ffmpeg passes, one per quality
// rendition, each worth a third of overall progress. Progress is recovered
// from the tool's own stderr chatter: "Duration: HH:MM:SS.ff" announces the
// source length at the start of a pass, "time=HH:MM:SS.ff" ticks as frames
// are written, and the output playlist name identifies which pass is
// running.

var (
	reDuration = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	reElapsed  = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// passMarkers maps pass index to the substrings that identify it in encoder
// output. Either the rendition name or the raw resolution may appear,
// depending on the ffmpeg build.
var passMarkers = [3][]string{
	{"1080p", "1920x1080"},
	{"720p", "1280x720"},
	{"480p", "854x480"},
}

const passShare = 100.0 / 3.0

// State carries per-job parser state between lines.
type State struct {
	pass     int
	seenPass [3]bool
	duration float64
	elapsed  float64
	overall  int
}

// Overall returns the highest percentage reported so far.
func (s *State) Overall() int {
	return s.overall
}

// Parse consumes one raw encoder output line and returns a new overall
// percentage, or nil when the line adds no information. Reported values are
// monotonically non-decreasing; malformed lines are ignored, never an error.
func Parse(line string, s *State) *int {
	s.detectPass(line)

	if m := reDuration.FindStringSubmatch(line); m != nil {
		if secs, ok := clockToSeconds(m[1], m[2], m[3]); ok && secs > 0 {
			s.duration = secs
		}
	}

	m := reElapsed.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	secs, ok := clockToSeconds(m[1], m[2], m[3])
	if !ok {
		return nil
	}
	s.elapsed = secs

	if s.duration <= 0 {
		return nil
	}

	// Some encoder builds print the time report before the playlist name
	// that identifies the pass. Fall back to the band the accumulated
	// progress already sits in.
	pass := s.pass
	if !s.anyPassSeen() {
		switch {
		case s.overall < 33:
			pass = 0
		case s.overall < 66:
			pass = 1
		default:
			pass = 2
		}
	}

	fraction := s.elapsed / s.duration
	if fraction > 1 {
		fraction = 1
	}
	overall := int(math.Round(float64(pass)*passShare + fraction*passShare))
	if overall > 100 {
		overall = 100
	}
	if overall < 0 {
		overall = 0
	}

	if overall <= s.overall {
		return nil
	}
	s.overall = overall
	return &overall
}

func (s *State) detectPass(line string) {
	for i, markers := range passMarkers {
		if s.seenPass[i] {
			continue
		}
		for _, marker := range markers {
			if strings.Contains(line, marker) {
				s.seenPass[i] = true
				s.pass = i
				// The new pass restarts the tool's time counter.
				s.elapsed = 0
				return
			}
		}
	}
}

func (s *State) anyPassSeen() bool {
	return s.seenPass[0] || s.seenPass[1] || s.seenPass[2]
}

func clockToSeconds(h, m, sec string) (float64, bool) {
	hours, err := strconv.Atoi(h)
	if err != nil {
		return 0, false
	}
	mins, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	secs, err := strconv.ParseFloat(sec, 64)
	if err != nil {
		return 0, false
	}
	return float64(hours)*3600 + float64(mins)*60 + secs, true
}
