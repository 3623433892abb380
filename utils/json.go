package utils

import (
	"io"

	"git.gammaspectra.live/P2Pool/go-json"
)

func MarshalJSON(val any) ([]byte, error) {
	return json.Marshal(val)
}


func UnmarshalJSON(data []byte, val any) error {
	return json.Unmarshal(data, val)
}


func NewJSONDecoder(reader io.Reader) *json.Decoder {
	return json.NewDecoder(reader)
}
