package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"stride/internal/analysis"
	"stride/internal/fileutil"
	"stride/internal/logging"
	"stride/internal/services"
	"stride/internal/stage"
	"stride/internal/store"
)

func (o *Orchestrator) extractMetadata(ctx context.Context, sess *store.Session) (store.ArtifactMetadata, error) {
	meta := sess.Artifact()
	ref := strings.TrimSpace(sess.ArtifactRef)
	if ref == "" {
		return meta, services.Wrap(services.ErrArtifact, string(stage.Metadata), "resolve artifact", "artifact reference is empty", nil)
	}

	if !fileutil.IsRemote(ref) {
		path := fileutil.ResolveLocal(o.artifactDir, ref)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return meta, services.Wrap(services.ErrArtifact, string(stage.Metadata), "stat artifact",
					fmt.Sprintf("artifact %q not found", path), err)
			}
			return meta, services.Wrap(services.ErrArtifact, string(stage.Metadata), "stat artifact", "", err)
		}
		if info.IsDir() {
			return meta, services.Wrap(services.ErrArtifact, string(stage.Metadata), "stat artifact",
				fmt.Sprintf("artifact %q is a directory", path), nil)
		}
		meta.SizeBytes = info.Size()

		if o.probeArtifacts && o.prober != nil {
			probed, err := o.probe(ctx, path)
			switch {
			case err == nil:
				meta = mergeProbed(meta, probed)
			case probeUnavailable(err):
				logging.WarnWithContext(logging.WithContext(ctx, o.logger), "ffprobe unavailable; using submitted metadata", "probe_skipped",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "install ffprobe or set media.ffprobe_binary"),
					logging.String(logging.FieldImpact, "artifact metadata not verified"),
				)
			default:
				return meta, err
			}
		}
	}

	if err := validateArtifact(meta); err != nil {
		return meta, err
	}
	if err := o.sessions.UpdateArtifact(ctx, sess.ID, meta); err != nil {
		return meta, services.Wrap(services.ErrStorage, string(stage.Metadata), "record artifact metadata", "", err)
	}
	sess.ArtifactSize = meta.SizeBytes
	sess.DurationSeconds = meta.DurationSeconds
	sess.FrameRate = meta.FrameRate
	sess.Width = meta.Width
	sess.Height = meta.Height
	return meta, nil
}

func (o *Orchestrator) probe(ctx context.Context, path string) (store.ArtifactMetadata, error) {
	probeCtx, cancel := stage.WithTimeout(ctx, o.probeTimeout)
	defer cancel()
	meta, err := o.prober.Probe(probeCtx, path)
	if err != nil {
		if probeUnavailable(err) {
			return meta, err
		}
		return meta, stage.ClassifyCallError(err, services.ErrArtifact, stage.Metadata, "probe artifact")
	}
	return meta, nil
}

// mergeProbed prefers probed values and keeps submitted ones where the probe
// reported nothing.
func mergeProbed(meta, probed store.ArtifactMetadata) store.ArtifactMetadata {
	if probed.SizeBytes > 0 {
		meta.SizeBytes = probed.SizeBytes
	}
	if probed.DurationSeconds > 0 {
		meta.DurationSeconds = probed.DurationSeconds
	}
	if probed.FrameRate > 0 {
		meta.FrameRate = probed.FrameRate
	}
	if probed.Width > 0 {
		meta.Width = probed.Width
	}
	if probed.Height > 0 {
		meta.Height = probed.Height
	}
	return meta
}

func validateArtifact(meta store.ArtifactMetadata) error {
	var problems []string
	if meta.DurationSeconds <= 0 {
		problems = append(problems, "duration")
	}
	if meta.FrameRate <= 0 {
		problems = append(problems, "frame rate")
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		problems = append(problems, "resolution")
	}
	if len(problems) == 0 {
		return nil
	}
	return services.Wrap(services.ErrArtifact, string(stage.Metadata), "validate artifact",
		"missing or non-positive "+strings.Join(problems, ", "), nil)
}

func (o *Orchestrator) registerGateway(ctx context.Context, sess *store.Session) (string, error) {
	if id := strings.TrimSpace(sess.GatewaySessionID); id != "" {
		return id, nil
	}
	callCtx, cancel := stage.WithTimeout(ctx, o.gatewayTimeout)
	defer cancel()
	id, err := o.gateway.RegisterSession(callCtx, sess.Subject, sess.Category)
	if err != nil {
		return "", stage.ClassifyCallError(err, services.ErrNetwork, stage.Gateway, "register session")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", services.Wrap(services.ErrNetwork, string(stage.Gateway), "register session", "gateway returned an empty session id", nil)
	}
	if err := o.sessions.SetGatewaySession(ctx, sess.ID, id); err != nil {
		return "", services.Wrap(services.ErrStorage, string(stage.Gateway), "record gateway session", "", err)
	}
	sess.GatewaySessionID = id
	return id, nil
}

func (o *Orchestrator) analyze(ctx context.Context, sess *store.Session, meta store.ArtifactMetadata) (analysis.Measurements, error) {
	callCtx, cancel := stage.WithTimeout(ctx, o.analysisTimeout)
	defer cancel()
	m, err := o.engine.Analyze(callCtx, meta, sess.Category)
	if err != nil {
		return analysis.Measurements{}, stage.ClassifyCallError(err, services.ErrAnalysis, stage.Analysis, "analyze artifact")
	}
	if err := m.Validate(); err != nil {
		return analysis.Measurements{}, err
	}
	return m.Sanitized(), nil
}

func (o *Orchestrator) sendTelemetry(ctx context.Context, externalID string, m analysis.Measurements) error {
	callCtx, cancel := stage.WithTimeout(ctx, o.gatewayTimeout)
	defer cancel()
	if err := o.gateway.SendTelemetry(callCtx, externalID, m); err != nil {
		return stage.ClassifyCallError(err, services.ErrNetwork, stage.Telemetry, "send telemetry")
	}
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, sess *store.Session, result *Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return services.Wrap(services.ErrStorage, string(stage.Persist), "encode result", "", err)
	}
	raw, err := json.Marshal(result.Measurements.Metrics)
	if err != nil {
		return services.Wrap(services.ErrStorage, string(stage.Persist), "encode measurements", "", err)
	}
	rows := metricRows(result.Measurements)
	if err := o.sessions.CommitResults(ctx, sess.ID, string(payload), string(raw), rows); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return services.Wrap(services.ErrStorage, string(stage.Persist), "commit results", "", err)
	}
	return nil
}

// metricRows produces one row per measurement, in name order.
func metricRows(m analysis.Measurements) []store.Metric {
	names := m.Names()
	rows := make([]store.Metric, 0, len(names))
	for _, name := range names {
		rows = append(rows, store.Metric{
			Name:       name,
			Value:      m.Metrics[name],
			Unit:       m.Units[name],
			Confidence: m.Confidence,
			Region:     m.Regions[name],
		})
	}
	return rows
}
