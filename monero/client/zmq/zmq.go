package zmq

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"git.gammaspectra.live/P2Pool/zmq4"
)

// Client Subscriber for the JSON events published by a daemon started with --zmq-pub.
// endpoint includes the scheme, for example tcp://127.0.0.1:18083
type Client struct {
	endpoint string
	sub      zmq4.Socket
}

func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
	}
}

// Listen Subscribes to the topics of listeners and dispatches events until ctx is cancelled,
// returning ctx.Err(), or until the connection or a listener fails.
func (c *Client) Listen(ctx context.Context, listeners Listeners) error {
	if len(listeners) == 0 {
		return errors.New("no listeners")
	}

	c.sub = zmq4.NewSub(ctx)
	if err := c.sub.Dial(c.endpoint); err != nil {
		return fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	for _, topic := range listeners.Topics() {
		if err := c.sub.SetOption(zmq4.OptionSubscribe, string(topic)); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	for {
		msg, err := c.sub.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("recv: %w", err)
		}

		for _, frame := range msg.Frames {
			if err = listeners.Dispatch(frame); err != nil {
				return err
			}
		}
	}
}

func (c *Client) Close() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Close()
}

// splitFrame Frames are "<topic>:<json>"
func splitFrame(frame []byte) (Topic, []byte, error) {
	topic, gson, ok := bytes.Cut(frame, []byte{':'})
	if !ok {
		return TopicUnknown, nil, errors.New("malformed frame: missing topic separator")
	}
	return Topic(topic), gson, nil
}
