// Package ffprobe runs ffprobe against a media artifact and exposes the
// fields the pipeline's metadata stage needs: container duration and size,
// the primary video stream's resolution, and its frame rate parsed from the
// rational r_frame_rate / avg_frame_rate values.
package ffprobe
