// Package camera keeps the most recent camera frame for the video stream.
package camera

import (
	"encoding/base64"
	"sync/atomic"
)

type Frames struct {
	latest atomic.Pointer[string]
	count  atomic.Uint64
}

func NewFrames() *Frames {
	return &Frames{}
}

// Store replaces the latest frame with the given JPEG bytes.
func (f *Frames) Store(jpeg []byte) {
	if len(jpeg) == 0 {
		return
	}
	encoded := base64.StdEncoding.EncodeToString(jpeg)
	f.latest.Store(&encoded)
	f.count.Add(1)
}

// Latest returns the newest frame, base64 encoded.
func (f *Frames) Latest() (string, bool) {
	p := f.latest.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

func (f *Frames) Received() uint64 {
	return f.count.Load()
}
