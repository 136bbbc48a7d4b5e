package rpcerror

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// MarshalJSON writes e as {"code":..,"message":..,"data":<base64|null>}.
func (e ErrorInfo) MarshalJSON() ([]byte, error) {
	var enc jx.Encoder
	enc.ObjStart()
	enc.FieldStart("code")
	enc.UInt32(uint32(e.Code))
	enc.FieldStart("message")
	enc.Str(e.Message)
	enc.FieldStart("data")
	if e.Data == nil {
		enc.Null()
	} else {
		enc.Base64(e.Data)
	}
	enc.ObjEnd()
	return enc.Bytes(), nil
}

// UnmarshalJSON parses the form written by MarshalJSON.
func (e *ErrorInfo) UnmarshalJSON(data []byte) error {
	var out ErrorInfo
	d := jx.DecodeBytes(data)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "code":
			v, err := d.UInt32()
			if err != nil {
				return errors.Wrap(err, "code")
			}
			out.Code = Code(v)
		case "message":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "message")
			}
			out.Message = v
		case "data":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Base64()
			if err != nil {
				return errors.Wrap(err, "data")
			}
			out.Data = v
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "decode error info")
	}
	*e = out
	return nil
}
