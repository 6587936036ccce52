// Package codec serializes the core/dto request/reply structures into the
// opaque byte parcels carried by core/message.TransactionMessage, using the
// same gob encoding the teacher's vote log uses for its on-disk records. The
// wire format is an implementation detail: a host that needs interop with a
// different payload format may supply its own encoder/decoder pair instead.
package codec

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
	"github.com/synaptic-tools/uitransact/core/dto"
)

// EncodeCall marshals an ApiCallInfo into a CALL message's data parcel.
func EncodeCall(call *dto.ApiCallInfo) ([]byte, error) {
	return encode(call)
}

// DecodeCall unmarshals a CALL message's data parcel.
func DecodeCall(parcel []byte) (*dto.ApiCallInfo, error) {
	var call dto.ApiCallInfo
	if err := decode(parcel, &call); err != nil {
		return nil, errors.Wrap(err, "failed to decode api call")
	}
	return &call, nil
}

// EncodeReply marshals an ApiReplyInfo into a REPLY message's data parcel.
func EncodeReply(reply *dto.ApiReplyInfo) ([]byte, error) {
	return encode(reply)
}

// DecodeReply unmarshals a REPLY message's data parcel.
func DecodeReply(parcel []byte) (*dto.ApiReplyInfo, error) {
	var reply dto.ApiReplyInfo
	if err := decode(parcel, &reply); err != nil {
		return nil, errors.Wrap(err, "failed to decode api reply")
	}
	return &reply, nil
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.Wrap(err, "failed to gob-encode parcel")
	}
	return buf.Bytes(), nil
}

func decode(parcel []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(parcel)).Decode(v)
}
