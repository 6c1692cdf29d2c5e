package model

import (
	"encoding/gob"
	"io"

	"github.com/aicrm/mlservice/pkg/errors"
)

// EncodeBundle serializes a fitted bundle to w using gob. Bundles are
// opaque to every component except their owning predictor, so a Go-native
// binary codec is sufficient.
func EncodeBundle(bundle interface{}, w io.Writer) error {
	encoder := gob.NewEncoder(w)
	if err := encoder.Encode(bundle); err != nil {
		return errors.Wrap(err, "encoding bundle")
	}
	return nil
}

// DecodeBundle deserializes a bundle from r into the given pointer.
func DecodeBundle(bundle interface{}, r io.Reader) error {
	decoder := gob.NewDecoder(r)
	if err := decoder.Decode(bundle); err != nil {
		return errors.Wrap(err, "decoding bundle")
	}
	return nil
}
