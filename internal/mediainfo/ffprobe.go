package mediainfo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"torrentd/internal/domain"
)

// FFProbe probes media files by shelling out to the ffprobe binary.
type FFProbe struct {
	binary string
}

func NewFFProbe(binary string) *FFProbe {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFProbe{binary: bin}
}

const maxProbeTimeout = 30 * time.Second

func (p *FFProbe) Probe(ctx context.Context, filePath string) (domain.MediaInfo, error) {
	path := strings.TrimSpace(filePath)
	if path == "" {
		return domain.MediaInfo{}, errors.New("file path is required")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxProbeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	info, parseErr := parseProbeOutput(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			return domain.MediaInfo{}, probeError(runErr, stderr.String())
		}
		return domain.MediaInfo{}, fmt.Errorf("ffprobe output parse failed: %w", parseErr)
	}
	// ffprobe exits non-zero for truncated files but usually still prints
	// usable stream metadata; keep it when we got any.
	if runErr != nil && len(info.Tracks) == 0 {
		return domain.MediaInfo{}, probeError(runErr, stderr.String())
	}
	return info, nil
}

func probeError(runErr error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		return fmt.Errorf("ffprobe failed: %w", runErr)
	}
	return fmt.Errorf("ffprobe failed: %w: %s", runErr, msg)
}

type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	Channels     int               `json:"channels"`
	Tags         map[string]string `json:"tags"`
	Disposition  struct {
		Default int `json:"default"`
	} `json:"disposition"`
}

type probeFormat struct {
	Duration  string `json:"duration"`
	StartTime string `json:"start_time"`
}

func parseProbeOutput(data []byte) (domain.MediaInfo, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.MediaInfo{}, err
	}

	tracks := make([]domain.MediaTrack, 0, len(payload.Streams))
	indexes := map[string]int{}
	for _, stream := range payload.Streams {
		kind := stream.CodecType
		switch kind {
		case "video", "audio", "subtitle":
		default:
			continue
		}
		track := domain.MediaTrack{
			Index:    indexes[kind],
			Type:     kind,
			Codec:    stream.CodecName,
			Language: strings.TrimSpace(stream.Tags["language"]),
			Title:    strings.TrimSpace(stream.Tags["title"]),
			Default:  stream.Disposition.Default == 1,
		}
		if kind == "video" {
			track.Width = stream.Width
			track.Height = stream.Height
			track.FPS = parseFrameRate(stream.AvgFrameRate)
		}
		if kind == "audio" {
			track.Channels = stream.Channels
		}
		tracks = append(tracks, track)
		indexes[kind]++
	}

	return domain.MediaInfo{
		Tracks:    tracks,
		Duration:  parseFloat(payload.Format.Duration),
		StartTime: parseFloat(payload.Format.StartTime),
	}, nil
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}

// parseFrameRate parses ffprobe's "num/den" rational form.
func parseFrameRate(v string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(v), "/")
	if !ok {
		return parseFloat(v)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}
