// Package handlers implements the tuner-facing stream surface and the
// huma admin API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/exstreamtv/exstreamtv/internal/broadcast"
	"github.com/exstreamtv/exstreamtv/internal/config"
	"github.com/exstreamtv/exstreamtv/internal/models"
)

// retryAfterSeconds is advertised on 503 responses so tuners back off
// instead of hammering a contained or circuit-open channel.
const retryAfterSeconds = "30"

// ChannelStreamer admits and releases viewer sessions. The broadcast
// manager implements it; tests substitute a fake.
type ChannelStreamer interface {
	GetStream(ctx context.Context, id models.ULID, remoteAddr, userAgent string) (*broadcast.Session, error)
	GetStreamByNumber(ctx context.Context, number, remoteAddr, userAgent string) (*broadcast.Session, error)
	Release(s *broadcast.Session)
}

// streamStatus maps an admission error to its HTTP status. Disabled
// channels are indistinguishable from absent ones on the tuner surface.
func streamStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrChannelNotFound),
		errors.Is(err, models.ErrChannelDisabled):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAdmissionDenied),
		errors.Is(err, models.ErrCircuitOpen),
		errors.Is(err, models.ErrContainmentActive):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeStreamError(w http.ResponseWriter, err error) {
	status := streamStatus(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	http.Error(w, http.StatusText(status), status)
}

// serveTS pumps a session onto the response as chunked MPEG-TS. The
// session is always released, including on client disconnect. Null
// transport packets are injected when the producer stalls so players
// keep their sockets open across item boundaries.
func serveTS(w http.ResponseWriter, r *http.Request, streamer ChannelStreamer, sess *broadcast.Session, throttle config.StreamThrottleConfig, logger *slog.Logger) {
	defer streamer.Release(sess)

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	pacer := sess.Pacer(throttle)
	keepalive := throttle.Mode != "disabled"

	ctx := r.Context()
	for {
		waitCtx, cancel := context.WithTimeout(ctx, broadcast.KeepaliveInterval)
		chunk, err := sess.Next(waitCtx)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if keepalive {
				if _, werr := w.Write(broadcast.KeepaliveBurst()); werr != nil {
					return
				}
				flush()
				sess.Touch()
			}
			continue
		default:
			if !errors.Is(err, broadcast.ErrStreamEnded) && ctx.Err() == nil {
				logger.Warn("stream session failed",
					"session_id", sess.ID,
					"error", err)
			}
			return
		}

		if err := pacer.Wait(ctx, len(chunk)); err != nil {
			return
		}
		if _, err := w.Write(chunk); err != nil {
			return
		}
		flush()
		sess.Touch()
	}
}
