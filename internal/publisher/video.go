package publisher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/session"
)

const (
	DefaultFPS  = 5
	logEveryNth = 30
	maxVideoFPS = 30
)

type FrameSource interface {
	Latest() (string, bool)
}

type Video struct {
	loop
	frames     FrameSource
	deliveryID func() string
	sent       int
}

// NewVideo streams the latest camera frame at fps. deliveryID may be nil;
// otherwise frames are tagged with the delivery it returns.
func NewVideo(link Link, sess *session.Session, frames FrameSource, deliveryID func() string, fps int, log zerolog.Logger) *Video {
	if fps <= 0 {
		fps = DefaultFPS
	}
	if fps > maxVideoFPS {
		fps = maxVideoFPS
	}
	v := &Video{frames: frames, deliveryID: deliveryID}
	v.loop = loop{
		name:     "video",
		interval: time.Second / time.Duration(fps),
		link:     link,
		session:  sess,
		log:      log,
		tick:     v.publish,
	}
	return v
}

func (v *Video) publish(ctx context.Context) {
	frame, ok := v.frames.Latest()
	if !ok {
		return
	}
	id := ""
	if v.deliveryID != nil {
		id = v.deliveryID()
	}
	if err := v.link.SendVideoFrame(ctx, frame, id); err != nil {
		v.log.Debug().Err(err).Msg("Video frame not sent")
		return
	}

	v.sent++
	if v.sent%logEveryNth == 0 {
		v.log.Info().Int("frame", v.sent).Msg("Video frame sent")
	} else {
		v.log.Debug().Int("frame", v.sent).Msg("Video frame sent")
	}
}
