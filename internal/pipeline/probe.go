package pipeline

import (
	"context"
	"errors"

	"stride/internal/media/ffprobe"
	"stride/internal/store"
)

// Prober reads artifact metadata from a local file.
type Prober interface {
	Probe(ctx context.Context, path string) (store.ArtifactMetadata, error)
}

// FFprobe probes files with the ffprobe binary.
type FFprobe struct {
	Binary string
}

// Probe implements Prober.
func (p FFprobe) Probe(ctx context.Context, path string) (store.ArtifactMetadata, error) {
	result, err := ffprobe.Inspect(ctx, p.Binary, path)
	if err != nil {
		return store.ArtifactMetadata{}, err
	}
	video, ok := result.PrimaryVideo()
	if !ok {
		return store.ArtifactMetadata{}, errors.New("no video stream")
	}
	return store.ArtifactMetadata{
		SizeBytes:       result.SizeBytes(),
		DurationSeconds: result.DurationSeconds(),
		FrameRate:       video.FrameRate(),
		Width:           video.Width,
		Height:          video.Height,
	}, nil
}
