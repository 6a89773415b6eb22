package mediainfo

import "testing"

const sampleProbeOutput = `{
	"streams": [
		{
			"codec_type": "video",
			"codec_name": "h264",
			"width": 1920,
			"height": 1080,
			"avg_frame_rate": "24000/1001",
			"disposition": {"default": 1}
		},
		{
			"codec_type": "audio",
			"codec_name": "aac",
			"channels": 6,
			"tags": {"language": "eng", "title": "Surround"},
			"disposition": {"default": 1}
		},
		{
			"codec_type": "subtitle",
			"codec_name": "subrip",
			"tags": {"language": "ger"},
			"disposition": {"default": 0}
		},
		{
			"codec_type": "attachment",
			"codec_name": "ttf"
		}
	],
	"format": {"duration": "5400.123", "start_time": "0.042"}
}`

func TestParseProbeOutput(t *testing.T) {
	info, err := parseProbeOutput([]byte(sampleProbeOutput))
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}

	if len(info.Tracks) != 3 {
		t.Fatalf("tracks = %d, want 3 (attachment skipped)", len(info.Tracks))
	}

	video := info.Tracks[0]
	if video.Type != "video" || video.Codec != "h264" || video.Width != 1920 || video.Height != 1080 {
		t.Errorf("video track = %+v", video)
	}
	if video.FPS < 23.9 || video.FPS > 24.0 {
		t.Errorf("fps = %v, want ~23.976", video.FPS)
	}

	audio := info.Tracks[1]
	if audio.Type != "audio" || audio.Language != "eng" || audio.Channels != 6 || !audio.Default {
		t.Errorf("audio track = %+v", audio)
	}

	sub := info.Tracks[2]
	if sub.Type != "subtitle" || sub.Language != "ger" || sub.Default {
		t.Errorf("subtitle track = %+v", sub)
	}

	if info.Duration != 5400.123 {
		t.Errorf("duration = %v", info.Duration)
	}
	if info.StartTime != 0.042 {
		t.Errorf("start time = %v", info.StartTime)
	}
}

func TestParseProbeOutputRejectsGarbage(t *testing.T) {
	if _, err := parseProbeOutput([]byte("not json")); err == nil {
		t.Error("garbage accepted")
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"0/0", 0},
		{"30", 30},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseFrameRate(tt.in); got != tt.want {
			t.Errorf("parseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
