package zmq

import (
	"fmt"
	"maps"
	"slices"

	"git.gammaspectra.live/P2Pool/merged-miner/utils"
)

type Listeners map[Topic]func(gson []byte) error

func (l Listeners) Topics() []Topic {
	return slices.Sorted(maps.Keys(l))
}

// Dispatch Hands the JSON body of frame to the listener of its topic
func (l Listeners) Dispatch(frame []byte) error {
	topic, gson, err := splitFrame(frame)
	if err != nil {
		return err
	}
	callback, ok := l[topic]
	if !ok {
		return fmt.Errorf("unknown topic %q, expected one of %v", topic, l.Topics())
	}
	if err = callback(gson); err != nil {
		return fmt.Errorf("topic %s: %w", topic, err)
	}
	return nil
}

func DecoderCallback[T any](cb func(T)) func(gson []byte) error {
	return func(gson []byte) error {
		var v T
		if err := utils.UnmarshalJSON(gson, &v); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		cb(v)
		return nil
	}
}

func DecoderMinimalChainMain(cb func(*MinimalChainMain)) func(gson []byte) error {
	return DecoderCallback(cb)
}

func DecoderFullMinerData(cb func(*FullMinerData)) func(gson []byte) error {
	return DecoderCallback(cb)
}
