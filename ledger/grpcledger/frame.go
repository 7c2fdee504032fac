package grpcledger

import (
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/streams/ledger"
	"xdao.co/streams/tlv"
)

const (
	fieldID   uint16 = 1
	fieldData uint16 = 2
)

func encodePut(id cid.Cid, data []byte) []byte {
	return tlv.EncodeFields([]tlv.Field{
		tlv.Bytes(fieldID, id.Bytes()),
		tlv.Bytes(fieldData, data),
	})
}

func decodePut(frame []byte) (cid.Cid, []byte, error) {
	fields, err := tlv.DecodeFields(frame)
	if err != nil {
		return cid.Undef, nil, err
	}
	f, err := tlv.Require(fields, fieldID, tlv.TypeBytes)
	if err != nil {
		return cid.Undef, nil, err
	}
	id, err := cid.Cast(f.Value)
	if err != nil || !id.Defined() {
		return cid.Undef, nil, ledger.ErrInvalidID
	}
	d, err := tlv.Require(fields, fieldData, tlv.TypeBytes)
	if err != nil {
		return cid.Undef, nil, err
	}
	return id, d.Value, nil
}

func encodeList(ids []cid.Cid) []byte {
	fields := make([]tlv.Field, 0, len(ids))
	for _, id := range ids {
		fields = append(fields, tlv.Bytes(fieldID, id.Bytes()))
	}
	return tlv.EncodeFields(fields)
}

func decodeList(frame []byte) ([]cid.Cid, error) {
	fields, err := tlv.DecodeFields(frame)
	if err != nil {
		return nil, err
	}
	out := make([]cid.Cid, 0, len(fields))
	for _, f := range tlv.GetFields(fields, fieldID) {
		id, err := cid.Cast(f.Value)
		if err != nil {
			return nil, fmt.Errorf("grpcledger: list: %w", err)
		}
		out = append(out, id)
	}
	return out, nil
}
