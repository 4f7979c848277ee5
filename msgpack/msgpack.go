// Package msgpack wraps keybase/go-codec with the canonical encoding options
// used for everything this module persists or hashes. Canonical ordering
// matters: two encodings of the same value must be byte-identical or the
// derived hashes diverge.
package msgpack

import (
	"github.com/keybase/go-codec/codec"
	"github.com/pkg/errors"
)

func newCanonicalHandle() *codec.MsgpackHandle {
	var mh codec.MsgpackHandle
	mh.WriteExt = true
	mh.Canonical = true
	return &mh
}

// EncodeCanonical encodes src to canonical msgpack bytes.
func EncodeCanonical(src interface{}) ([]byte, error) {
	var dst []byte
	err := codec.NewEncoderBytes(&dst, newCanonicalHandle()).Encode(src)
	if err != nil {
		return nil, errors.Wrap(err, "msgpack encode")
	}
	return dst, nil
}

// Decode decodes msgpack bytes into dest, which must be a pointer.
func Decode(dest interface{}, src []byte) error {
	err := codec.NewDecoderBytes(src, newCanonicalHandle()).Decode(dest)
	if err != nil {
		return errors.Wrap(err, "msgpack decode")
	}
	return nil
}
