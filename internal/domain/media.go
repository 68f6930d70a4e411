package domain

import "strings"

type MediaKind string

const (
	KindAudio  MediaKind = "audio"
	KindVideo  MediaKind = "video"
	KindScreen MediaKind = "screen"
)

func (k MediaKind) Valid() bool {
	switch k {
	case KindAudio, KindVideo, KindScreen:
		return true
	}
	return false
}

// KindOf derives the media kind of a track. Published tracks carry their
// kind as the track id prefix ("screen-…"); anything else falls back to the
// codec kind reported by the transport.
func KindOf(trackID, codecKind string) MediaKind {
	for _, k := range []MediaKind{KindScreen, KindVideo, KindAudio} {
		if trackID == string(k) || strings.HasPrefix(trackID, string(k)+"-") {
			return k
		}
	}
	return MediaKind(codecKind)
}
