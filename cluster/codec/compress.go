package codec

import (
	"bytes"
	"compress/gzip"
	"io/ioutil"

	"github.com/pkg/errors"
)

// Compress gzips a serialized message. It is shared with the sharding
// codec, whose coordinator snapshots are compressed too.
func Compress(payload []byte) ([]byte, error) {
	buf := bytes.Buffer{}
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, errors.Wrap(err, "failed to compress payload")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to compress payload")
	}
	return buf.Bytes(), nil
}

func Decompress(payload []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress payload")
	}
	defer r.Close()
	out, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress payload")
	}
	return out, nil
}
