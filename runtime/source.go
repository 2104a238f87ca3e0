package runtime

import (
	"context"
	"io"

	"github.com/pithecene-io/conduit/types"
	"github.com/pithecene-io/conduit/wire"
)

// FragmentSource yields the fragments of one session's upstream in arrival
// order. Next returns io.EOF when the upstream ends cleanly; any other
// error ends the session.
type FragmentSource interface {
	Next(ctx context.Context) (*types.Fragment, error)
}

// ReaderSource drains length-prefixed msgpack frames from an agent IPC
// pipe or socket.
type ReaderSource struct {
	decoder *wire.FrameDecoder
}

var _ FragmentSource = (*ReaderSource)(nil)

// NewReaderSource wraps an io.Reader of wire frames.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{decoder: wire.NewFrameDecoder(r)}
}

// Next reads the next frame. Reads are not interruptible mid-frame; the
// engine checks ctx between fragments.
func (s *ReaderSource) Next(ctx context.Context) (*types.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.decoder.ReadFragment()
}

// ChannelSource yields fragments from an in-process channel. Closing the
// channel signals a clean end of stream.
type ChannelSource struct {
	ch <-chan *types.Fragment
}

var _ FragmentSource = (*ChannelSource)(nil)

// NewChannelSource wraps a fragment channel.
func NewChannelSource(ch <-chan *types.Fragment) *ChannelSource {
	return &ChannelSource{ch: ch}
}

// Next blocks for the next fragment, ctx cancellation, or channel close.
func (s *ChannelSource) Next(ctx context.Context) (*types.Fragment, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case fragment, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return fragment, nil
	}
}
