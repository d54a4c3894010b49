// Package codec provides the gob marshaling helpers the reference
// transport and store use to put raftpd types on the wire or on disk.
// Adapted from the teacher's utils/pd helper package.
package codec

import (
	"bytes"
	"encoding/gob"
)

// Marshal gob-encodes v.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal gob-decodes data into v.
func Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
